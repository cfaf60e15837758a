package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "access-server",
		Short: "Reservation-driven temporary door access for a shared space",
	}

	serve := newServeCmd()
	root.AddCommand(serve)
	root.AddCommand(newVersionCmd())

	// Bare invocation serves.
	root.RunE = serve.RunE

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
