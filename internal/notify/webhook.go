package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/guestgate/access-server-go/internal/config"
	"github.com/guestgate/access-server-go/internal/metrics"
	"github.com/guestgate/access-server-go/internal/util"
)

// Webhook posts messages to a single configured endpoint as JSON. The
// receiver routes on the contact field.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: config.NotifyRequestTimeout},
	}
}

type webhookEnvelope struct {
	Contact string  `json:"contact"`
	Message Message `json:"message"`
}

func (w *Webhook) Send(ctx context.Context, contact string, msg Message) error {
	if contact == "" {
		return fmt.Errorf("empty contact address")
	}

	body, err := json.Marshal(webhookEnvelope{Contact: contact, Message: msg})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := w.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		metrics.IncNotification(string(msg.Kind), "error")
		log.Error().
			Err(err).
			Str("kind", string(msg.Kind)).
			Dur("elapsed", elapsed).
			Msg("notification request error")
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.IncNotification(string(msg.Kind), "error")
		log.Error().
			Str("kind", string(msg.Kind)).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("notification rejected")
		return fmt.Errorf("notification status %d", resp.StatusCode)
	}

	metrics.IncNotification(string(msg.Kind), "ok")
	log.Info().
		Str("kind", string(msg.Kind)).
		Str("code", util.MaskCode(msg.Code)).
		Dur("elapsed", elapsed).
		Msg("notification sent")
	return nil
}

// Ping checks the endpoint is reachable. A HEAD request is enough; any
// HTTP response counts as alive, only transport errors do not.
func (w *Webhook) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, w.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify endpoint unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}
