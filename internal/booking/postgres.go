package booking

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/guestgate/access-server-go/internal/clock"
	"github.com/guestgate/access-server-go/internal/model"
)

const reservationColumns = `id, service_name, start_time, end_time, contact_address, status`

// PostgresSource reads reservations straight from the booking database.
type PostgresSource struct {
	db  *sqlx.DB
	clk clock.Clock
}

func NewPostgresSource(db *sqlx.DB, clk clock.Clock) *PostgresSource {
	return &PostgresSource{db: db, clk: clk}
}

func (s *PostgresSource) Upcoming(ctx context.Context, window time.Duration) ([]model.Reservation, error) {
	now := s.clk.Now()
	var reservations []model.Reservation
	err := s.db.SelectContext(ctx, &reservations, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = $1 AND start_time > $2 AND start_time <= $3
		ORDER BY start_time
	`, model.ReservationStatusApproved, now, now.Add(window))
	return reservations, err
}

func (s *PostgresSource) StartingSoon(ctx context.Context, lead time.Duration) ([]model.Reservation, error) {
	now := s.clk.Now()
	var reservations []model.Reservation
	err := s.db.SelectContext(ctx, &reservations, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = $1 AND start_time <= $2 AND end_time > $3
		ORDER BY start_time
	`, model.ReservationStatusApproved, now.Add(lead), now)
	return reservations, err
}

func (s *PostgresSource) Active(ctx context.Context) ([]model.Reservation, error) {
	now := s.clk.Now()
	var reservations []model.Reservation
	err := s.db.SelectContext(ctx, &reservations, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = $1 AND start_time <= $2 AND end_time > $2
		ORDER BY start_time
	`, model.ReservationStatusApproved, now)
	return reservations, err
}

// Annotate appends a timestamped line to the reservation's notes column.
func (s *PostgresSource) Annotate(ctx context.Context, id, text string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE reservations
		SET notes = COALESCE(notes || E'\n', '') || $2
		WHERE id = $1
	`, id, s.clk.Now().Format(time.RFC3339)+" "+text)
	return err
}
