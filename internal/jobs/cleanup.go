package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/guestgate/access-server-go/internal/clock"
	"github.com/guestgate/access-server-go/internal/eventlog"
	"github.com/guestgate/access-server-go/internal/kv"
	"github.com/guestgate/access-server-go/internal/service"
)

const cleanupTimeout = 30 * time.Second

// CleanupJob prunes state that has aged past the retention period: expired
// KV entries, the generator's reservation→code map, credentials the lazy
// sweeps missed, and old event log rows.
type CleanupJob struct {
	clk       clock.Clock
	generator *service.CodeGenerator
	validator *service.AccessValidator
	store     kv.Store
	events    *eventlog.Log
	interval  time.Duration
	retention time.Duration
	done      chan struct{}
}

func NewCleanupJob(
	clk clock.Clock,
	generator *service.CodeGenerator,
	validator *service.AccessValidator,
	store kv.Store,
	events *eventlog.Log,
	interval time.Duration,
	retention time.Duration,
) *CleanupJob {
	return &CleanupJob{
		clk:       clk,
		generator: generator,
		validator: validator,
		store:     store,
		events:    events,
		interval:  interval,
		retention: retention,
		done:      make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := j.clk.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	cutoff := j.clk.Now().Add(-j.retention)

	j.runCleanup(ctx, "expired kv entries", func(ctx context.Context) (int64, error) {
		n, err := j.store.Purge(ctx)
		return int64(n), err
	})
	j.runCleanup(ctx, "stale reservation codes", func(context.Context) (int64, error) {
		return int64(j.generator.Prune(j.retention)), nil
	})
	j.runCleanup(ctx, "stale credentials", func(context.Context) (int64, error) {
		return int64(j.validator.Sweep()), nil
	})
	j.runCleanup(ctx, "old event log entries", func(ctx context.Context) (int64, error) {
		return j.events.Prune(ctx, cutoff)
	})
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
