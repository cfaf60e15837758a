package service

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/guestgate/access-server-go/internal/clock"
	apperrors "github.com/guestgate/access-server-go/internal/errors"
	"github.com/guestgate/access-server-go/internal/metrics"
	"github.com/guestgate/access-server-go/internal/model"
	"github.com/guestgate/access-server-go/internal/util"
)

type DenialReason string

const (
	DenialNotFound    DenialReason = "not_found"
	DenialAlreadyUsed DenialReason = "already_used"
	DenialTooEarly    DenialReason = "too_early"
	DenialExpired     DenialReason = "expired"
)

// Decision is the outcome of presenting a code or token. On a grant,
// Credential and Reservation are snapshots; on a denial, Err carries the
// stable message and Reason the metric label.
type Decision struct {
	Granted     bool
	Reason      DenialReason
	Err         *apperrors.AppError
	Credential  *model.AccessCredential
	Reservation *model.Reservation
}

type ValidatorOptions struct {
	Lead      time.Duration
	Trail     time.Duration
	Retention time.Duration
}

type credentialEntry struct {
	cred        *model.AccessCredential
	reservation model.Reservation
	sweep       *clock.Timer
}

// AccessValidator tracks live credentials and answers presentments. A
// credential is honored exactly once, only inside its validity window; the
// check and the burn happen atomically under the validator's lock.
//
// Entries linger for a retention period past their window so that replays
// keep getting the precise "already used" or "expired" answer, then a
// per-entry sweep removes them. Presentment never trusts mere presence:
// time validity is re-derived on every call.
type AccessValidator struct {
	mu        sync.Mutex
	clk       clock.Clock
	lead      time.Duration
	trail     time.Duration
	retention time.Duration

	byID          map[string]*credentialEntry // keyed by code and by token
	byReservation map[string]*credentialEntry
}

func NewAccessValidator(clk clock.Clock, opts ValidatorOptions) *AccessValidator {
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	return &AccessValidator{
		clk:           clk,
		lead:          opts.Lead,
		trail:         opts.Trail,
		retention:     opts.Retention,
		byID:          make(map[string]*credentialEntry),
		byReservation: make(map[string]*credentialEntry),
	}
}

// Issue registers a credential for the reservation: the given code plus a
// fresh opaque token, valid from lead before the start until trail after
// the end. Re-issuing for the same reservation replaces the previous
// credential.
func (v *AccessValidator) Issue(reservation model.Reservation, code string) (*model.AccessCredential, error) {
	if reservation.ID == "" {
		return nil, apperrors.MissingRequired("reservation id")
	}
	if code == "" {
		return nil, apperrors.MissingRequired("code")
	}
	if reservation.EndTime.Before(reservation.StartTime) {
		return nil, apperrors.ValidationError("reservation ends before it starts")
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, apperrors.Internal("token generation failed").WithCause(err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clk.Now()
	cred := &model.AccessCredential{
		Code:          code,
		Token:         token,
		ReservationID: reservation.ID,
		Contact:       reservation.ContactAddress,
		IssuedAt:      now,
		ValidFrom:     reservation.StartTime.Add(-v.lead),
		ValidUntil:    reservation.EndTime.Add(v.trail),
	}

	if prev, ok := v.byReservation[reservation.ID]; ok {
		v.unregisterLocked(prev)
		log.Info().
			Str("reservationId", reservation.ID).
			Msg("credential reissued, previous one revoked")
	}

	entry := &credentialEntry{cred: cred, reservation: reservation}
	// A code colliding with another reservation's live entry can only
	// happen after the generator's history cap evicted it; newest wins.
	if other, ok := v.byID[code]; ok && other.cred.ReservationID != reservation.ID {
		log.Warn().
			Str("reservationId", reservation.ID).
			Str("holder", other.cred.ReservationID).
			Msg("code already registered to another reservation, overwriting")
	}
	v.byID[code] = entry
	v.byID[token] = entry
	v.byReservation[reservation.ID] = entry
	v.scheduleSweepLocked(entry, now)
	v.updateGaugeLocked()

	log.Info().
		Str("reservationId", reservation.ID).
		Str("code", util.MaskCode(code)).
		Time("validFrom", cred.ValidFrom).
		Time("validUntil", cred.ValidUntil).
		Msg("credential issued")

	snapshot := *cred
	return &snapshot, nil
}

// Present burns the credential identified by a code or token. The order of
// checks is fixed: unknown id, already used, too early, expired, grant.
func (v *AccessValidator) Present(id string) Decision {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.byID[id]
	if !ok {
		metrics.IncAccessDenied(string(DenialNotFound))
		return Decision{Reason: DenialNotFound, Err: apperrors.InvalidCode()}
	}

	cred := entry.cred
	now := v.clk.Now()

	if cred.Used {
		metrics.IncAccessDenied(string(DenialAlreadyUsed))
		return v.denied(entry, DenialAlreadyUsed, apperrors.AlreadyUsed())
	}
	if cred.TooEarly(now) {
		metrics.IncAccessDenied(string(DenialTooEarly))
		return v.denied(entry, DenialTooEarly, apperrors.TooEarly(cred.ValidFrom))
	}
	if cred.Expired(now) {
		metrics.IncAccessDenied(string(DenialExpired))
		return v.denied(entry, DenialExpired, apperrors.Expired())
	}

	cred.Used = true
	usedAt := now
	cred.UsedAt = &usedAt
	metrics.IncAccessGranted()
	v.updateGaugeLocked()

	log.Info().
		Str("reservationId", cred.ReservationID).
		Str("code", util.MaskCode(cred.Code)).
		Msg("credential accepted")

	credCopy := *cred
	resCopy := entry.reservation
	return Decision{Granted: true, Credential: &credCopy, Reservation: &resCopy}
}

func (v *AccessValidator) denied(entry *credentialEntry, reason DenialReason, err *apperrors.AppError) Decision {
	log.Warn().
		Str("reservationId", entry.cred.ReservationID).
		Str("reason", string(reason)).
		Msg("presentment denied")

	credCopy := *entry.cred
	return Decision{Reason: reason, Err: err, Credential: &credCopy}
}

// ListActive returns snapshots of credentials that are unused and not yet
// past their window, including ones whose window has not opened.
func (v *AccessValidator) ListActive() []model.AccessCredential {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clk.Now()
	var active []model.AccessCredential
	for _, entry := range v.byReservation {
		if !entry.cred.Used && !entry.cred.Expired(now) {
			active = append(active, *entry.cred)
		}
	}
	return active
}

type ValidatorStats struct {
	Active  int `json:"active"`
	Used    int `json:"used"`
	Expired int `json:"expired"`
}

func (v *AccessValidator) Stats() ValidatorStats {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clk.Now()
	var stats ValidatorStats
	for _, entry := range v.byReservation {
		switch {
		case entry.cred.Used:
			stats.Used++
		case entry.cred.Expired(now):
			stats.Expired++
		default:
			stats.Active++
		}
	}
	return stats
}

// Sweep removes every entry whose retention has run out and returns the
// count. The per-entry timers make this redundant in steady state; the
// cleanup job calls it anyway as a backstop.
func (v *AccessValidator) Sweep() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clk.Now()
	removed := 0
	for _, entry := range v.byReservation {
		if now.After(entry.cred.ValidUntil.Add(v.retention)) {
			v.unregisterLocked(entry)
			removed++
		}
	}
	if removed > 0 {
		v.updateGaugeLocked()
		log.Debug().Int("removed", removed).Msg("credential sweep")
	}
	return removed
}

// Close stops the pending sweep timers. Tracked credentials are dropped
// with it; the validator is not meant to be reused afterwards.
func (v *AccessValidator) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, entry := range v.byReservation {
		v.unregisterLocked(entry)
	}
	v.updateGaugeLocked()
}

func (v *AccessValidator) scheduleSweepLocked(entry *credentialEntry, now time.Time) {
	delay := entry.cred.ValidUntil.Add(v.retention).Sub(now)
	if delay <= 0 {
		// Already past retention; the next Sweep reaps it.
		return
	}
	entry.sweep = v.clk.AfterFunc(delay, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		// Only remove if this entry is still the current one and its
		// retention has really elapsed.
		current, ok := v.byReservation[entry.cred.ReservationID]
		if !ok || current != entry {
			return
		}
		if !v.clk.Now().Before(entry.cred.ValidUntil.Add(v.retention)) {
			v.unregisterLocked(entry)
			v.updateGaugeLocked()
		}
	})
}

// updateGaugeLocked recounts unused credentials not yet past their window.
// Expiry alone moves the true value between mutations; the next mutation or
// sweep corrects the gauge.
func (v *AccessValidator) updateGaugeLocked() {
	now := v.clk.Now()
	n := 0
	for _, entry := range v.byReservation {
		if !entry.cred.Used && !entry.cred.Expired(now) {
			n++
		}
	}
	metrics.SetActiveCredentials(n)
}

func (v *AccessValidator) unregisterLocked(entry *credentialEntry) {
	if entry.sweep != nil {
		entry.sweep.Stop()
	}
	if v.byID[entry.cred.Code] == entry {
		delete(v.byID, entry.cred.Code)
	}
	if v.byID[entry.cred.Token] == entry {
		delete(v.byID, entry.cred.Token)
	}
	if v.byReservation[entry.cred.ReservationID] == entry {
		delete(v.byReservation, entry.cred.ReservationID)
	}
}
