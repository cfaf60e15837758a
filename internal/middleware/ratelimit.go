package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/guestgate/access-server-go/internal/audit"
	apperrors "github.com/guestgate/access-server-go/internal/errors"
	"github.com/guestgate/access-server-go/internal/httputil"
)

// PresentRateLimit throttles presentment attempts per client IP with a
// sliding window. Throttled attempts get the standard error envelope plus
// a Retry-After hint, and land in the audit log: a burst of 429s from one
// address is somebody guessing codes.
func PresentRateLimit(requestLimit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventRateLimitExceed})
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			httputil.WriteError(w, apperrors.RateLimitExceeded())
		}),
	)
}
