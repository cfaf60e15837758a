package main

import (
	"fmt"
	"io"
	"os"

	"github.com/guestgate/access-server-go/internal/util"
)

// Computes the X-Push-Signature value for a booking push payload, for
// exercising the webhook by hand:
//
//	go run scripts/sign-push.go <secret> [payload-file]
//
// With no payload file the payload is read from stdin.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/sign-push.go <secret> [payload-file]\n")
		os.Exit(1)
	}

	secret := os.Args[1]

	var payload []byte
	var err error
	if len(os.Args) > 2 {
		payload, err = os.ReadFile(os.Args[2])
	} else {
		payload, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(util.HmacSHA256(secret, string(payload)))
}
