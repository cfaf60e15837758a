package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/guestgate/access-server-go/internal/config"
)

// Bridge talks to an HTTP lock bridge. The bridge authenticates with a
// token query parameter; commands are POSTs, status is a GET.
type Bridge struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewBridge(baseURL, token string) *Bridge {
	return &Bridge{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: config.LockRequestTimeout},
	}
}

func (b *Bridge) Unlock(ctx context.Context) error {
	return b.command(ctx, "unlock")
}

func (b *Bridge) Lock(ctx context.Context) error {
	return b.command(ctx, "lock")
}

// Status queries the bridge. Available is false on any transport or
// decode failure, with the error carrying the cause.
func (b *Bridge) Status(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint("status"), nil)
	if err != nil {
		return Status{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("lock bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("lock bridge status %d", resp.StatusCode)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return Status{}, fmt.Errorf("decode lock status: %w", err)
	}
	status.Available = true
	return status, nil
}

func (b *Bridge) command(ctx context.Context, op string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint(op), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Str("op", op).
			Dur("elapsed", elapsed).
			Msg("lock bridge request error")
		return fmt.Errorf("lock bridge %s failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().
			Str("op", op).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("lock bridge command failed")
		return fmt.Errorf("lock bridge %s status %d", op, resp.StatusCode)
	}

	log.Info().
		Str("op", op).
		Dur("elapsed", elapsed).
		Msg("lock bridge command ok")
	return nil
}

func (b *Bridge) endpoint(op string) string {
	endpoint := b.baseURL + "/api/lock/" + op
	if b.token != "" {
		endpoint += "?token=" + url.QueryEscape(b.token)
	}
	return endpoint
}
