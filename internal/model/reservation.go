package model

import (
	"fmt"
	"time"
)

type ReservationStatus string

const (
	ReservationStatusApproved  ReservationStatus = "approved"
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusCancelled ReservationStatus = "cancelled"
)

type Reservation struct {
	ID             string            `db:"id" json:"id"`
	ServiceName    string            `db:"service_name" json:"serviceName"`
	StartTime      time.Time         `db:"start_time" json:"startTime"`
	EndTime        time.Time         `db:"end_time" json:"endTime"`
	ContactAddress string            `db:"contact_address" json:"contactAddress"`
	Status         ReservationStatus `db:"status" json:"status"`
}

// Occurrence identifies one observation of a reservation at a given start
// time. A rescheduled reservation yields a new occurrence.
func (r *Reservation) Occurrence() string {
	return fmt.Sprintf("%s:%d", r.ID, r.StartTime.Unix())
}

func (r *Reservation) Approved() bool {
	return r.Status == ReservationStatusApproved
}

func (r *Reservation) Cancelled() bool {
	return r.Status == ReservationStatusCancelled
}

// StartsWithin reports whether the reservation begins between now and
// now+lead.
func (r *Reservation) StartsWithin(now time.Time, lead time.Duration) bool {
	return !r.StartTime.Before(now) && r.StartTime.Sub(now) <= lead
}

// ActiveAt reports whether now falls inside the reserved slot itself.
func (r *Reservation) ActiveAt(now time.Time) bool {
	return !now.Before(r.StartTime) && !now.After(r.EndTime)
}
