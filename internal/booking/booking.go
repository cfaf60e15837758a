// Package booking abstracts where reservations come from. The orchestrator
// only speaks to the Source interface; adapters exist for a Postgres
// reservations table and for a remote booking API.
package booking

import (
	"context"
	"time"

	"github.com/guestgate/access-server-go/internal/model"
)

// Source lists reservations and writes operational annotations back to
// the booking system. Implementations must be safe for concurrent use.
type Source interface {
	// Upcoming returns approved reservations starting within the window.
	Upcoming(ctx context.Context, window time.Duration) ([]model.Reservation, error)

	// StartingSoon returns approved reservations whose start time falls
	// inside the poll lookahead, including ones that already started but
	// have not ended.
	StartingSoon(ctx context.Context, lead time.Duration) ([]model.Reservation, error)

	// Active returns reservations currently in progress.
	Active(ctx context.Context) ([]model.Reservation, error)

	// Annotate appends an operational note to a reservation, e.g. that an
	// access code was issued. Best effort; the caller logs failures.
	Annotate(ctx context.Context, id, text string) error
}
