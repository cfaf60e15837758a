package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/guestgate/access-server-go/internal/util"
)

// PushSignatureMiddleware verifies the HMAC-SHA256 signature the booking
// system puts on push webhooks. An empty secret disables verification; the
// config layer warns about that in production.
type PushSignatureMiddleware struct {
	secret string
}

func NewPushSignatureMiddleware(secret string) *PushSignatureMiddleware {
	return &PushSignatureMiddleware{secret: secret}
}

func (m *PushSignatureMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		signature := r.Header.Get("X-Push-Signature")
		if signature == "" {
			log.Warn().Msg("push signature middleware: missing signature header")
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing signature",
			})
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			log.Error().Err(err).Msg("push signature middleware: failed to read body")
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "Failed to read request body",
			})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		computed := util.HmacSHA256(m.secret, string(body))
		if !util.ConstantTimeEqual(computed, signature) {
			log.Warn().Msg("push signature middleware: invalid signature")
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid signature",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
