// Package jobs contains the background workers: the Orchestrator that turns
// upcoming reservations into door credentials and re-lock timers, and the
// CleanupJob that prunes expired state on an interval.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/guestgate/access-server-go/internal/audit"
	"github.com/guestgate/access-server-go/internal/booking"
	"github.com/guestgate/access-server-go/internal/clock"
	apperrors "github.com/guestgate/access-server-go/internal/errors"
	"github.com/guestgate/access-server-go/internal/eventlog"
	"github.com/guestgate/access-server-go/internal/health"
	"github.com/guestgate/access-server-go/internal/kv"
	"github.com/guestgate/access-server-go/internal/lock"
	"github.com/guestgate/access-server-go/internal/metrics"
	"github.com/guestgate/access-server-go/internal/model"
	"github.com/guestgate/access-server-go/internal/notify"
	"github.com/guestgate/access-server-go/internal/sched"
	"github.com/guestgate/access-server-go/internal/service"
	"github.com/guestgate/access-server-go/internal/util"
)

const (
	pollTimeout   = 30 * time.Second
	relockTimeout = 10 * time.Second
	healthTimeout = 10 * time.Second
	stopTimeout   = 10 * time.Second
)

// OrchestratorDeps are the collaborators the orchestrator drives. Source,
// Generator, Validator, Lock, Notifier, Registry and Store are required;
// Alerter, Events, Health and Cleanup may be nil (or, for Alerter and
// Events, nil-receiver disabled) when the deployment does not configure
// them.
type OrchestratorDeps struct {
	Source    booking.Source
	Generator *service.CodeGenerator
	Validator *service.AccessValidator
	Lock      lock.Actuator
	Notifier  notify.Notifier
	Alerter   *notify.AdminAlerter
	Registry  *sched.Registry
	Store     kv.Store
	Events    *eventlog.Log
	Health    *health.Manager
	Cleanup   *CleanupJob
}

type OrchestratorOptions struct {
	// Lookahead is how far ahead of a reservation's start the poll picks
	// it up for issuance.
	Lookahead time.Duration

	// PollInterval is the booking source poll cadence.
	PollInterval time.Duration

	// HealthInterval is how often the health manager runs its checkers.
	HealthInterval time.Duration

	// RelockBuffer is the grace after a reservation's end before the door
	// is commanded to lock.
	RelockBuffer time.Duration

	// Retention is the dedup marker TTL. An occurrence seen once is not
	// reprocessed until its marker ages out.
	Retention time.Duration
}

// Orchestrator owns the poll/cleanup/health loops and the per-reservation
// re-lock timers. It is the only component that commands the lock actuator.
type Orchestrator struct {
	deps OrchestratorDeps
	clk  clock.Clock

	lookahead      time.Duration
	pollInterval   time.Duration
	healthInterval time.Duration
	relockBuffer   time.Duration
	retention      time.Duration

	// polling is the poll reentrancy flag: a tick that arrives while the
	// previous cycle is still running is skipped, never interleaved.
	polling atomic.Bool

	mu                sync.Mutex
	running           bool
	done              chan struct{}
	unsecured         map[string]time.Time
	lastPoll          time.Time
	lastRelockFailure time.Time
	pollCycles        int64
	processed         int64

	wg sync.WaitGroup
}

func NewOrchestrator(clk clock.Clock, deps OrchestratorDeps, opts OrchestratorOptions) *Orchestrator {
	return &Orchestrator{
		deps:           deps,
		clk:            clk,
		lookahead:      opts.Lookahead,
		pollInterval:   opts.PollInterval,
		healthInterval: opts.HealthInterval,
		relockBuffer:   opts.RelockBuffer,
		retention:      opts.Retention,
		unsecured:      make(map[string]time.Time),
	}
}

// Start arms the poll, cleanup and health loops. Markers left in the store
// by a previous Stop are reloaded first: a door recorded as unsecured stays
// flagged until a relock clears it. Starting a running orchestrator is a
// no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		log.Warn().Msg("orchestrator already running")
		return
	}
	o.running = true
	o.done = make(chan struct{})
	done := o.done
	o.mu.Unlock()

	o.loadUnsecured(ctx)

	o.wg.Add(1)
	go o.pollLoop(done)
	if o.deps.Health != nil {
		o.wg.Add(1)
		go o.healthLoop(done)
	}
	if o.deps.Cleanup != nil {
		o.deps.Cleanup.Start()
	}

	audit.Log(ctx, audit.Event{Type: audit.EventOrchestratorStart})
	log.Info().
		Dur("pollInterval", o.pollInterval).
		Dur("lookahead", o.lookahead).
		Dur("relockBuffer", o.relockBuffer).
		Msg("orchestrator started")
}

// Stop halts the loops and cancels every armed re-lock timer. A cancelled
// timer means nothing will lock that door anymore, so each one is recorded
// as unsecured: in memory, as a store marker that survives restarts, in the
// event log, and as an admin alert.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	done := o.done
	o.mu.Unlock()

	close(done)
	o.wg.Wait()

	if o.deps.Cleanup != nil {
		o.deps.Cleanup.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	cancelled := o.deps.Registry.CancelAll()
	for _, reservationID := range cancelled {
		o.markUnsecured(ctx, reservationID, "shutdown cancelled pending relock")
	}
	if len(cancelled) > 0 {
		o.deps.Alerter.Alert(ctx, fmt.Sprintf(
			"shutdown cancelled %d pending relock(s); doors may be unsecured: %s",
			len(cancelled), strings.Join(cancelled, ", ")))
	}

	audit.Log(ctx, audit.Event{
		Type:    audit.EventOrchestratorStop,
		Details: map[string]interface{}{"cancelled_relocks": len(cancelled)},
	})
	log.Info().Int("cancelledRelocks", len(cancelled)).Msg("orchestrator stopped")
}

func (o *Orchestrator) pollLoop(done <-chan struct{}) {
	defer o.wg.Done()

	ticker := o.clk.NewTicker(o.pollInterval)
	defer ticker.Stop()

	o.spawnPoll()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			o.spawnPoll()
		}
	}
}

// spawnPoll runs the cycle off the loop goroutine so a tick landing during
// a slow cycle hits the reentrancy flag and is skipped instead of queueing
// behind it. The wait group covers the cycle: Stop cancels timers only
// after any in-flight cycle finished arming them.
func (o *Orchestrator) spawnPoll() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.poll()
	}()
}

func (o *Orchestrator) healthLoop(done <-chan struct{}) {
	defer o.wg.Done()

	ticker := o.clk.NewTicker(o.healthInterval)
	defer ticker.Stop()

	o.runHealth()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			o.runHealth()
		}
	}
}

func (o *Orchestrator) runHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	o.deps.Health.Run(ctx)
}

// poll runs one booking source cycle. Reservations are processed
// sequentially; a failure on one is logged and alerted but never aborts the
// rest of the cycle.
func (o *Orchestrator) poll() {
	if !o.polling.CompareAndSwap(false, true) {
		metrics.IncPollOverlapSkip()
		log.Warn().Msg("previous poll cycle still running, skipping tick")
		return
	}
	defer o.polling.Store(false)

	// Wall clock, not the injected one: the fake clock does not advance
	// while a cycle runs, so it cannot measure the cycle.
	begin := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()

	logger := log.With().Str("pollId", uuid.NewString()).Logger()

	reservations, err := o.deps.Source.StartingSoon(ctx, o.lookahead)
	if err != nil {
		metrics.RecordPollCycle("error")
		logger.Error().Err(err).Msg("booking source poll failed")
		o.deps.Alerter.Alert(ctx, fmt.Sprintf("booking source poll failed: %v", err))
		return
	}

	issued := 0
	for i := range reservations {
		if o.processReservation(ctx, &logger, &reservations[i]) {
			issued++
		}
	}

	metrics.RecordPollCycle("success")
	metrics.ObservePollDuration(time.Since(begin))

	o.mu.Lock()
	o.lastPoll = o.clk.Now()
	o.pollCycles++
	o.mu.Unlock()

	if issued > 0 {
		logger.Info().
			Int("reservations", len(reservations)).
			Int("issued", issued).
			Msg("poll cycle issued credentials")
	} else {
		logger.Debug().Int("reservations", len(reservations)).Msg("poll cycle complete")
	}
}

// processReservation runs the issuance pipeline for one reservation and
// reports whether a credential went out. The dedup marker is written only
// after the notification succeeds: a guest who never saw the code gets a
// fresh one on the next cycle.
func (o *Orchestrator) processReservation(ctx context.Context, logger *zerolog.Logger, res *model.Reservation) bool {
	if !res.Approved() {
		return false
	}

	occurrence := res.Occurrence()
	if _, seen, err := o.deps.Store.Get(ctx, kv.DedupKey(occurrence)); err != nil {
		logger.Warn().Err(err).Str("reservationId", res.ID).Msg("dedup lookup failed, proceeding")
	} else if seen {
		return false
	}

	code := o.deps.Generator.Generate(res.ID)
	cred, err := o.deps.Validator.Issue(*res, code)
	if err != nil {
		logger.Error().Err(err).Str("reservationId", res.ID).Msg("credential issue failed")
		o.deps.Alerter.Alert(ctx, fmt.Sprintf("credential issue failed for reservation %s: %v", res.ID, err))
		return false
	}

	if err := o.notifyGuest(ctx, res, cred); err != nil {
		logger.Error().Err(err).Str("reservationId", res.ID).
			Msg("code delivery failed, credential will be reissued next cycle")
		o.deps.Alerter.Alert(ctx, fmt.Sprintf("could not deliver access code for reservation %s: %v", res.ID, err))
		return false
	}

	reservationID := res.ID
	relockAt := res.EndTime.Add(o.relockBuffer)
	o.deps.Registry.Schedule(reservationID, relockAt, func() {
		o.relock(reservationID)
	})

	if err := o.deps.Store.Set(ctx, kv.DedupKey(occurrence),
		o.clk.Now().UTC().Format(time.RFC3339), o.retention); err != nil {
		logger.Warn().Err(err).Str("reservationId", res.ID).Msg("dedup marker write failed")
	}

	if err := o.deps.Source.Annotate(ctx, res.ID,
		fmt.Sprintf("Access code %s sent to %s", util.MaskCode(cred.Code), res.ContactAddress)); err != nil {
		logger.Debug().Err(err).Str("reservationId", res.ID).Msg("reservation annotation failed")
	}

	audit.Log(ctx, audit.Event{
		Type:          audit.EventCodeIssued,
		ReservationID: res.ID,
		Code:          util.MaskCode(cred.Code),
		Details: map[string]interface{}{
			"valid_from":  cred.ValidFrom.Format(time.RFC3339),
			"valid_until": cred.ValidUntil.Format(time.RFC3339),
			"relock_at":   relockAt.Format(time.RFC3339),
		},
	})
	o.appendEvent(ctx, eventlog.Entry{
		Type:          eventlog.EventCodeIssued,
		ReservationID: res.ID,
		CodeMasked:    util.MaskCode(cred.Code),
		TokenHash:     util.HashToken(cred.Token),
		Detail:        fmt.Sprintf("valid %s to %s", cred.ValidFrom.Format(time.RFC3339), cred.ValidUntil.Format(time.RFC3339)),
	})
	metrics.IncReservationProcessed()

	o.mu.Lock()
	o.processed++
	o.mu.Unlock()

	logger.Info().
		Str("reservationId", res.ID).
		Str("code", util.MaskCode(cred.Code)).
		Time("validFrom", cred.ValidFrom).
		Time("validUntil", cred.ValidUntil).
		Time("relockAt", relockAt).
		Msg("access credential issued")
	return true
}

func (o *Orchestrator) notifyGuest(ctx context.Context, res *model.Reservation, cred *model.AccessCredential) error {
	msg := notify.Message{
		Kind:        notify.KindAccessCode,
		Code:        cred.Code,
		Token:       cred.Token,
		Reservation: res,
		Instructions: fmt.Sprintf("Enter code %s on the door keypad. It works once, between %s and %s.",
			cred.Code, cred.ValidFrom.Format("15:04"), cred.ValidUntil.Format("15:04")),
	}
	return o.deps.Notifier.Send(ctx, res.ContactAddress, msg)
}

// relock is the timer callback armed at reservation end + buffer. A failure
// is alerted and recorded for the health check but never retried: the lock
// bridge owns retries, and a second command from here could fight a manual
// intervention.
func (o *Orchestrator) relock(reservationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), relockTimeout)
	defer cancel()

	if err := o.deps.Lock.Lock(ctx); err != nil {
		metrics.IncRelock("failure")

		o.mu.Lock()
		o.lastRelockFailure = o.clk.Now()
		o.mu.Unlock()

		log.Error().Err(err).Str("reservationId", reservationID).
			Msg("scheduled relock failed, door may be unsecured")
		audit.Log(ctx, audit.Event{
			Type:          audit.EventRelockFailed,
			ReservationID: reservationID,
			Details:       map[string]interface{}{"error": err.Error()},
		})
		o.appendEvent(ctx, eventlog.Entry{
			Type:          eventlog.EventRelockFailed,
			ReservationID: reservationID,
			Detail:        err.Error(),
		})
		o.deps.Alerter.Alert(ctx, fmt.Sprintf("relock failed for reservation %s: %v", reservationID, err))
		return
	}

	metrics.IncRelock("success")
	log.Info().Str("reservationId", reservationID).Msg("door relocked")
	audit.Log(ctx, audit.Event{Type: audit.EventRelockFired, ReservationID: reservationID})
	o.appendEvent(ctx, eventlog.Entry{Type: eventlog.EventRelockFired, ReservationID: reservationID})
	o.clearUnsecured(ctx, reservationID)
}

// PresentResult is a validator decision plus the unlock outcome. UnlockErr
// is set when access was granted but the door command failed; the grant
// stands either way, a burned credential is never revived.
type PresentResult struct {
	service.Decision
	UnlockErr *apperrors.AppError
}

// Present burns the credential identified by code or token and, on a grant,
// commands the door open.
func (o *Orchestrator) Present(ctx context.Context, id string) PresentResult {
	decision := o.deps.Validator.Present(id)
	result := PresentResult{Decision: decision}

	if !decision.Granted {
		entry := eventlog.Entry{
			Type:   eventlog.EventAccessDenied,
			Detail: string(decision.Reason),
		}
		if decision.Credential != nil {
			entry.ReservationID = decision.Credential.ReservationID
			entry.CodeMasked = util.MaskCode(decision.Credential.Code)
		}
		o.appendEvent(ctx, entry)
		return result
	}

	cred := decision.Credential
	audit.Log(ctx, audit.Event{
		Type:          audit.EventAccessGranted,
		ReservationID: cred.ReservationID,
		Code:          util.MaskCode(cred.Code),
	})
	o.appendEvent(ctx, eventlog.Entry{
		Type:          eventlog.EventAccessGranted,
		ReservationID: cred.ReservationID,
		CodeMasked:    util.MaskCode(cred.Code),
		TokenHash:     util.HashToken(cred.Token),
	})

	if err := o.deps.Lock.Unlock(ctx); err != nil {
		metrics.IncUnlock("failure")
		log.Error().Err(err).Str("reservationId", cred.ReservationID).
			Msg("unlock failed after granted presentment")
		audit.Log(ctx, audit.Event{
			Type:          audit.EventUnlockFailed,
			ReservationID: cred.ReservationID,
			Details:       map[string]interface{}{"error": err.Error()},
		})
		o.appendEvent(ctx, eventlog.Entry{
			Type:          eventlog.EventUnlockFailed,
			ReservationID: cred.ReservationID,
			Detail:        err.Error(),
		})
		o.deps.Alerter.Alert(ctx, fmt.Sprintf("unlock failed for reservation %s: %v", cred.ReservationID, err))
		result.UnlockErr = apperrors.LockUnreachable("unlock", err).
			WithDetails(map[string]interface{}{"granted": true})
		return result
	}

	metrics.IncUnlock("success")
	log.Info().Str("reservationId", cred.ReservationID).Msg("door unlocked")

	// The credential outlives the relock timer when trail > buffer. A grant
	// in that tail opens the door with nothing armed to close it.
	if _, armed := o.deps.Registry.Pending()[cred.ReservationID]; !armed {
		log.Warn().Str("reservationId", cred.ReservationID).
			Msg("door unlocked after its relock already fired, no pending relock")
		o.deps.Alerter.Alert(ctx, fmt.Sprintf(
			"door unlocked for reservation %s after its relock fired; no re-lock is pending", cred.ReservationID))
		o.appendEvent(ctx, eventlog.Entry{
			Type:          eventlog.EventDoorUnsecured,
			ReservationID: cred.ReservationID,
			Detail:        "granted after relock fired",
		})
	}

	return result
}

// ProcessPush handles one push payload from the booking system. A cancelled
// reservation only logs: any armed relock timer stays, locking the door is
// always safe, leaving it open is not. Everything else runs the same
// issuance pipeline as the poll, without the lookahead filter.
func (o *Orchestrator) ProcessPush(ctx context.Context, pushType string, res *model.Reservation) (bool, error) {
	if res == nil || res.ID == "" {
		return false, apperrors.MissingRequired("reservation id")
	}

	audit.Log(ctx, audit.Event{
		Type:          audit.EventPushReceived,
		ReservationID: res.ID,
		Details:       map[string]interface{}{"push_type": pushType, "status": string(res.Status)},
	})

	if res.Cancelled() {
		log.Info().Str("reservationId", res.ID).Str("pushType", pushType).
			Msg("cancellation received, leaving any armed relock in place")
		return false, nil
	}

	logger := log.With().Str("pushType", pushType).Logger()
	return o.processReservation(ctx, &logger, res), nil
}

func (o *Orchestrator) loadUnsecured(ctx context.Context) {
	keys, err := o.deps.Store.Keys(ctx, kv.UnsecuredPrefix)
	if err != nil {
		log.Warn().Err(err).Msg("could not load unsecured door markers")
		return
	}
	if len(keys) == 0 {
		return
	}

	o.mu.Lock()
	for _, key := range keys {
		reservationID := strings.TrimPrefix(key, kv.UnsecuredPrefix)
		at := o.clk.Now()
		if value, ok, err := o.deps.Store.Get(ctx, key); err == nil && ok {
			if parsed, perr := time.Parse(time.RFC3339, value); perr == nil {
				at = parsed
			}
		}
		o.unsecured[reservationID] = at
	}
	count := len(o.unsecured)
	o.mu.Unlock()

	metrics.SetDoorsUnsecured(count)
	log.Warn().Int("count", count).
		Msg("previous shutdown left doors with cancelled relocks, markers reloaded")
	o.deps.Alerter.Alert(ctx, fmt.Sprintf("%d door(s) recorded as unsecured from a previous shutdown", count))
}

func (o *Orchestrator) markUnsecured(ctx context.Context, reservationID, detail string) {
	now := o.clk.Now()

	o.mu.Lock()
	o.unsecured[reservationID] = now
	count := len(o.unsecured)
	o.mu.Unlock()

	metrics.SetDoorsUnsecured(count)
	if err := o.deps.Store.Set(ctx, kv.UnsecuredKey(reservationID),
		now.UTC().Format(time.RFC3339), 0); err != nil {
		log.Warn().Err(err).Str("reservationId", reservationID).Msg("unsecured marker write failed")
	}

	log.Error().Str("reservationId", reservationID).Str("detail", detail).
		Msg("door recorded as unsecured")
	audit.Log(ctx, audit.Event{
		Type:          audit.EventDoorUnsecured,
		ReservationID: reservationID,
		Details:       map[string]interface{}{"detail": detail},
	})
	o.appendEvent(ctx, eventlog.Entry{
		Type:          eventlog.EventDoorUnsecured,
		ReservationID: reservationID,
		Detail:        detail,
	})
}

func (o *Orchestrator) clearUnsecured(ctx context.Context, reservationID string) {
	o.mu.Lock()
	_, was := o.unsecured[reservationID]
	if was {
		delete(o.unsecured, reservationID)
	}
	count := len(o.unsecured)
	o.mu.Unlock()

	if !was {
		return
	}

	metrics.SetDoorsUnsecured(count)
	if err := o.deps.Store.Delete(ctx, kv.UnsecuredKey(reservationID)); err != nil {
		log.Warn().Err(err).Str("reservationId", reservationID).Msg("unsecured marker delete failed")
	}
	log.Info().Str("reservationId", reservationID).Msg("unsecured door cleared by relock")
}

func (o *Orchestrator) appendEvent(ctx context.Context, entry eventlog.Entry) {
	if err := o.deps.Events.Append(ctx, entry); err != nil {
		log.Warn().Err(err).Str("type", string(entry.Type)).Msg("event log append failed")
	}
}

// UnsecuredDoors returns the reservation ids whose doors have no pending
// relock, sorted. Health checks and stats read it.
func (o *Orchestrator) UnsecuredDoors() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := make([]string, 0, len(o.unsecured))
	for id := range o.unsecured {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LastRelockFailure returns the time of the most recent failed relock
// command and whether one has happened.
func (o *Orchestrator) LastRelockFailure() (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastRelockFailure, !o.lastRelockFailure.IsZero()
}

const (
	// ReservationProcessing means a credential is out and the relock timer
	// is armed; ReservationLocked means the timer has fired.
	ReservationProcessing = "processing"
	ReservationLocked     = "locked"
)

type OrchestratorStats struct {
	Running               bool              `json:"running"`
	LastPoll              *time.Time        `json:"lastPoll,omitempty"`
	PollCycles            int64             `json:"pollCycles"`
	ReservationsProcessed int64             `json:"reservationsProcessed"`
	PendingRelocks        int               `json:"pendingRelocks"`
	Reservations          map[string]string `json:"reservations,omitempty"`
	UnsecuredDoors        []string          `json:"unsecuredDoors,omitempty"`
	LastRelockFailure     *time.Time        `json:"lastRelockFailure,omitempty"`
}

// Stats derives per-reservation states from the dedup markers and the timer
// registry: a marker with an armed timer is processing, a marker alone is
// locked. Reservations never seen or already pruned are simply absent.
func (o *Orchestrator) Stats(ctx context.Context) OrchestratorStats {
	o.mu.Lock()
	stats := OrchestratorStats{
		Running:               o.running,
		PollCycles:            o.pollCycles,
		ReservationsProcessed: o.processed,
	}
	if !o.lastPoll.IsZero() {
		last := o.lastPoll
		stats.LastPoll = &last
	}
	if !o.lastRelockFailure.IsZero() {
		failure := o.lastRelockFailure
		stats.LastRelockFailure = &failure
	}
	o.mu.Unlock()

	pending := o.deps.Registry.Pending()
	stats.PendingRelocks = len(pending)
	stats.UnsecuredDoors = o.UnsecuredDoors()

	keys, err := o.deps.Store.Keys(ctx, kv.DedupPrefix)
	if err != nil {
		log.Warn().Err(err).Msg("dedup key listing failed for stats")
		return stats
	}
	if len(keys) > 0 {
		stats.Reservations = make(map[string]string, len(keys))
		for _, key := range keys {
			occurrence := strings.TrimPrefix(key, kv.DedupPrefix)
			// Occurrence keys are "<reservationID>:<startUnix>".
			reservationID := occurrence
			if idx := strings.LastIndex(occurrence, ":"); idx > 0 {
				reservationID = occurrence[:idx]
			}
			if _, armed := pending[reservationID]; armed {
				stats.Reservations[reservationID] = ReservationProcessing
			} else {
				stats.Reservations[reservationID] = ReservationLocked
			}
		}
	}
	return stats
}
