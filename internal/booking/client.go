package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/guestgate/access-server-go/internal/clock"
	"github.com/guestgate/access-server-go/internal/config"
	"github.com/guestgate/access-server-go/internal/model"
)

// Client talks to a remote booking API. The list endpoint returns
// reservations overlapping [from, to]; the client narrows the result to
// what each Source method promises.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	clk     clock.Clock
}

func NewClient(baseURL, token string, clk clock.Clock) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: config.BookingRequestTimeout},
		clk:     clk,
	}
}

type listResponse struct {
	Reservations []model.Reservation `json:"reservations"`
}

func (c *Client) Upcoming(ctx context.Context, window time.Duration) ([]model.Reservation, error) {
	now := c.clk.Now()
	reservations, err := c.list(ctx, now, now.Add(window))
	if err != nil {
		return nil, err
	}
	upcoming := reservations[:0]
	for _, r := range reservations {
		if r.StartTime.After(now) {
			upcoming = append(upcoming, r)
		}
	}
	return upcoming, nil
}

func (c *Client) StartingSoon(ctx context.Context, lead time.Duration) ([]model.Reservation, error) {
	now := c.clk.Now()
	return c.list(ctx, now, now.Add(lead))
}

func (c *Client) Active(ctx context.Context) ([]model.Reservation, error) {
	now := c.clk.Now()
	return c.list(ctx, now, now)
}

func (c *Client) list(ctx context.Context, from, to time.Time) ([]model.Reservation, error) {
	query := url.Values{
		"status": {string(model.ReservationStatusApproved)},
		"from":   {from.Format(time.RFC3339)},
		"to":     {to.Format(time.RFC3339)},
	}
	endpoint := c.baseURL + "/v1/reservations?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Dur("elapsed", elapsed).
			Msg("booking api request error")
		return nil, fmt.Errorf("booking api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Error().
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("booking api request failed")
		return nil, fmt.Errorf("booking api status %d", resp.StatusCode)
	}

	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode booking response: %w", err)
	}

	log.Debug().
		Int("count", len(list.Reservations)).
		Dur("elapsed", elapsed).
		Msg("booking api list")
	return list.Reservations, nil
}

// Annotate posts an operational note onto the reservation.
func (c *Client) Annotate(ctx context.Context, id, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal annotation: %w", err)
	}

	endpoint := c.baseURL + "/v1/reservations/" + url.PathEscape(id) + "/annotations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("booking api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("booking api status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
