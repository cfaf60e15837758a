package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guestgate/access-server-go/internal/clock"
	"github.com/guestgate/access-server-go/internal/lock"
)

var healthEpoch = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func TestManagerAggregation(t *testing.T) {
	healthy := func(ctx context.Context) CheckResult { return CheckResult{Status: StatusHealthy} }
	degraded := func(ctx context.Context) CheckResult { return CheckResult{Status: StatusDegraded} }
	unhealthy := func(ctx context.Context) CheckResult { return CheckResult{Status: StatusUnhealthy} }

	tests := []struct {
		name   string
		checks map[string]func(ctx context.Context) CheckResult
		want   Status
		ready  bool
	}{
		{
			name:   "all healthy",
			checks: map[string]func(ctx context.Context) CheckResult{"a": healthy, "b": healthy},
			want:   StatusHealthy,
			ready:  true,
		},
		{
			name:   "one degraded",
			checks: map[string]func(ctx context.Context) CheckResult{"a": healthy, "b": degraded},
			want:   StatusDegraded,
			ready:  true,
		},
		{
			name:   "unhealthy wins over degraded",
			checks: map[string]func(ctx context.Context) CheckResult{"a": degraded, "b": unhealthy},
			want:   StatusUnhealthy,
			ready:  false,
		},
		{
			name:   "no checkers",
			checks: nil,
			want:   StatusHealthy,
			ready:  true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(clock.NewFake(healthEpoch))
			for name, fn := range tc.checks {
				m.Register(NewChecker(name, fn))
			}

			snapshot := m.Run(context.Background())
			assert.Equal(t, tc.want, snapshot.Status)
			assert.Equal(t, tc.ready, snapshot.Ready())
			assert.Len(t, snapshot.Checks, len(tc.checks))
			assert.Equal(t, healthEpoch, snapshot.Timestamp)
		})
	}
}

func TestManagerLast(t *testing.T) {
	m := NewManager(clock.NewFake(healthEpoch))
	m.Register(NewChecker("a", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy}
	}))

	t.Run("degraded before first run", func(t *testing.T) {
		last := m.Last()
		assert.Equal(t, StatusDegraded, last.Status)
		assert.True(t, last.Ready())
	})

	t.Run("recorded after run", func(t *testing.T) {
		ran := m.Run(context.Background())
		assert.Equal(t, ran, m.Last())
	})
}

func TestNewPingChecker(t *testing.T) {
	t.Run("healthy ping", func(t *testing.T) {
		c := NewPingChecker("kv", time.Second, func(ctx context.Context) error { return nil })
		assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
	})

	t.Run("failing ping", func(t *testing.T) {
		c := NewPingChecker("kv", time.Second, func(ctx context.Context) error {
			return errors.New("connection refused")
		})
		result := c.Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "connection refused", result.Error)
	})

	t.Run("timeout applies", func(t *testing.T) {
		c := NewPingChecker("kv", 10*time.Millisecond, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		assert.Equal(t, StatusUnhealthy, c.Check(context.Background()).Status)
	})
}

type fakeActuator struct {
	status lock.Status
	err    error
}

func (f *fakeActuator) Unlock(ctx context.Context) error { return nil }
func (f *fakeActuator) Lock(ctx context.Context) error   { return nil }
func (f *fakeActuator) Status(ctx context.Context) (lock.Status, error) {
	return f.status, f.err
}

func TestNewLockChecker(t *testing.T) {
	t.Run("reachable and charged", func(t *testing.T) {
		c := NewLockChecker(&fakeActuator{status: lock.Status{Locked: true, Battery: 80, Available: true}}, time.Second)
		result := c.Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Contains(t, result.Message, "locked=true")
	})

	t.Run("low battery degrades", func(t *testing.T) {
		c := NewLockChecker(&fakeActuator{status: lock.Status{Battery: 9, Available: true}}, time.Second)
		result := c.Check(context.Background())
		assert.Equal(t, StatusDegraded, result.Status)
		assert.Contains(t, result.Message, "9%")
	})

	t.Run("unreachable bridge", func(t *testing.T) {
		c := NewLockChecker(&fakeActuator{err: errors.New("dial tcp: refused")}, time.Second)
		result := c.Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
		require.NotEmpty(t, result.Error)
	})
}
