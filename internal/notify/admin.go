package notify

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/guestgate/access-server-go/internal/config"
)

// AdminAlerter sends operational alerts to the admin contact, throttled so
// a flapping collaborator cannot flood whoever is on call. Alerts are best
// effort: failures and throttled sends are logged and dropped.
type AdminAlerter struct {
	notifier Notifier
	contact  string
	limiter  *rate.Limiter
}

func NewAdminAlerter(notifier Notifier, contact string) *AdminAlerter {
	return &AdminAlerter{
		notifier: notifier,
		contact:  contact,
		limiter:  rate.NewLimiter(rate.Every(config.AdminAlertInterval), config.AdminAlertBurst),
	}
}

// Alert sends body to the admin contact if the throttle and configuration
// allow it. It never returns an error; operational alerting must not fail
// the operation being alerted about.
func (a *AdminAlerter) Alert(ctx context.Context, body string) {
	if a == nil || a.contact == "" {
		return
	}
	if !a.limiter.Allow() {
		log.Debug().Str("body", body).Msg("admin alert throttled")
		return
	}

	err := a.notifier.Send(ctx, a.contact, Message{
		Kind: KindAdminAlert,
		Body: body,
	})
	if err != nil {
		log.Error().Err(err).Msg("admin alert delivery failed")
	}
}
