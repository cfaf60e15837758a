package model

import (
	"time"
)

// AccessCredential is a single-use door credential bound to one reservation
// occurrence. It is honored from lead minutes before the reservation starts
// until trail minutes after it ends, and is burned on first successful use.
type AccessCredential struct {
	Code          string     `json:"code"`
	Token         string     `json:"token"`
	ReservationID string     `json:"reservationId"`
	Contact       string     `json:"contact"`
	IssuedAt      time.Time  `json:"issuedAt"`
	ValidFrom     time.Time  `json:"validFrom"`
	ValidUntil    time.Time  `json:"validUntil"`
	Used          bool       `json:"used"`
	UsedAt        *time.Time `json:"usedAt,omitempty"`
}

// TooEarly reports whether now is before the validity window opens.
func (c *AccessCredential) TooEarly(now time.Time) bool {
	return now.Before(c.ValidFrom)
}

// Expired reports whether now is past the validity window.
func (c *AccessCredential) Expired(now time.Time) bool {
	return now.After(c.ValidUntil)
}

// InWindow reports whether now falls inside [ValidFrom, ValidUntil].
func (c *AccessCredential) InWindow(now time.Time) bool {
	return !c.TooEarly(now) && !c.Expired(now)
}
