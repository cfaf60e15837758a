package health

import (
	"context"
	"fmt"
	"time"

	"github.com/guestgate/access-server-go/internal/lock"
)

// lowBatteryPercent is where a working lock starts counting as degraded.
const lowBatteryPercent = 15

type funcChecker struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

// NewChecker wraps a plain function as a Checker.
func NewChecker(name string, fn func(ctx context.Context) CheckResult) Checker {
	return &funcChecker{name: name, fn: fn}
}

func (c *funcChecker) Name() string { return c.name }

func (c *funcChecker) Check(ctx context.Context) CheckResult {
	return c.fn(ctx)
}

// NewPingChecker turns a ping function into a Checker: nil error is
// healthy, anything else unhealthy. The timeout bounds each probe.
func NewPingChecker(name string, timeout time.Duration, ping func(ctx context.Context) error) Checker {
	return NewChecker(name, func(ctx context.Context) CheckResult {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := ping(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
		}
		return CheckResult{Status: StatusHealthy}
	})
}

type lockChecker struct {
	actuator lock.Actuator
	timeout  time.Duration
}

// NewLockChecker probes the lock bridge. An unreachable bridge is
// unhealthy; a reachable lock with a low battery is degraded.
func NewLockChecker(actuator lock.Actuator, timeout time.Duration) Checker {
	return &lockChecker{actuator: actuator, timeout: timeout}
}

func (c *lockChecker) Name() string { return "lock_bridge" }

func (c *lockChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	status, err := c.actuator.Status(ctx)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if status.Battery > 0 && status.Battery < lowBatteryPercent {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("lock battery at %d%%", status.Battery),
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("locked=%t battery=%d%%", status.Locked, status.Battery),
	}
}
