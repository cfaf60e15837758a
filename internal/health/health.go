// Package health aggregates component probes into a single status for the
// /health and /ready endpoints. The orchestrator's health job runs the
// probes on an interval and records a snapshot; handlers serve the
// recorded snapshot instead of probing collaborators per request.
package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/guestgate/access-server-go/internal/clock"
	"github.com/guestgate/access-server-go/internal/metrics"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one component probe.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Snapshot is the aggregated state of all probes at one point in time.
type Snapshot struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Ready reports whether the service should accept traffic. Degraded still
// serves; only unhealthy takes it out of rotation.
func (s Snapshot) Ready() bool {
	return s.Status != StatusUnhealthy
}

// Checker probes one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager runs registered checkers concurrently and keeps the latest
// snapshot.
type Manager struct {
	mu       sync.Mutex
	clk      clock.Clock
	checkers []Checker
	last     Snapshot
	hasRun   bool
}

func NewManager(clk clock.Clock) *Manager {
	return &Manager{clk: clk}
}

func (m *Manager) Register(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// Run probes every checker concurrently, records the snapshot, and updates
// the health metrics.
func (m *Manager) Run(ctx context.Context) Snapshot {
	m.mu.Lock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.Unlock()

	snapshot := Snapshot{
		Status:    StatusHealthy,
		Timestamp: m.clk.Now(),
		Checks:    make(map[string]CheckResult, len(checkers)),
	}

	var resultsMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, checker := range checkers {
		checker := checker // per-iteration copy: required under go <1.22 loop semantics
		g.Go(func() error {
			result := checker.Check(gctx)
			resultsMu.Lock()
			snapshot.Checks[checker.Name()] = result
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for name, result := range snapshot.Checks {
		metrics.RecordHealthCheck(name, result.Status == StatusHealthy)
		switch result.Status {
		case StatusUnhealthy:
			snapshot.Status = StatusUnhealthy
		case StatusDegraded:
			if snapshot.Status == StatusHealthy {
				snapshot.Status = StatusDegraded
			}
		}
	}
	metrics.SetOverallHealth(string(snapshot.Status))

	m.mu.Lock()
	m.last = snapshot
	m.hasRun = true
	m.mu.Unlock()
	return snapshot
}

// Last returns the most recent snapshot. Before the first Run it reports
// degraded: the process is alive but nothing has been verified yet.
func (m *Manager) Last() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasRun {
		return Snapshot{
			Status:    StatusDegraded,
			Timestamp: m.clk.Now(),
		}
	}
	return m.last
}
