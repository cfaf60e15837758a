package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func TestFakeNow(t *testing.T) {
	c := NewFake(testEpoch)
	assert.Equal(t, testEpoch, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, testEpoch.Add(90*time.Second), c.Now())
}

func TestFakeAfter(t *testing.T) {
	t.Run("fires once deadline passes", func(t *testing.T) {
		c := NewFake(testEpoch)
		ch := c.After(time.Minute)

		select {
		case <-ch:
			t.Fatal("fired before advance")
		default:
		}

		c.Advance(time.Minute)
		select {
		case got := <-ch:
			assert.Equal(t, testEpoch.Add(time.Minute), got)
		default:
			t.Fatal("did not fire")
		}
	})

	t.Run("non-positive duration fires immediately", func(t *testing.T) {
		c := NewFake(testEpoch)
		select {
		case <-c.After(0):
		default:
			t.Fatal("did not fire")
		}
	})
}

func TestFakeAfterFunc(t *testing.T) {
	t.Run("callback runs synchronously during Advance", func(t *testing.T) {
		c := NewFake(testEpoch)
		fired := false
		c.AfterFunc(5*time.Minute, func() { fired = true })

		c.Advance(4 * time.Minute)
		assert.False(t, fired)

		c.Advance(time.Minute)
		assert.True(t, fired)
	})

	t.Run("Stop prevents the fire", func(t *testing.T) {
		c := NewFake(testEpoch)
		fired := false
		timer := c.AfterFunc(time.Minute, func() { fired = true })

		require.True(t, timer.Stop())
		c.Advance(2 * time.Minute)
		assert.False(t, fired)
	})

	t.Run("Stop after fire returns false", func(t *testing.T) {
		c := NewFake(testEpoch)
		timer := c.AfterFunc(time.Minute, func() {})
		c.Advance(time.Minute)
		assert.False(t, timer.Stop())
	})

	t.Run("callbacks fire in deadline order", func(t *testing.T) {
		c := NewFake(testEpoch)
		var order []string
		c.AfterFunc(3*time.Minute, func() { order = append(order, "late") })
		c.AfterFunc(time.Minute, func() { order = append(order, "early") })

		c.Advance(5 * time.Minute)
		assert.Equal(t, []string{"early", "late"}, order)
	})
}

func TestFakeTicker(t *testing.T) {
	t.Run("ticks on each interval", func(t *testing.T) {
		c := NewFake(testEpoch)
		ticker := c.NewTicker(time.Minute)
		defer ticker.Stop()

		c.Advance(time.Minute)
		select {
		case <-ticker.C:
		default:
			t.Fatal("missing first tick")
		}

		c.Advance(time.Minute)
		select {
		case <-ticker.C:
		default:
			t.Fatal("missing second tick")
		}
	})

	t.Run("missed ticks are dropped not queued", func(t *testing.T) {
		c := NewFake(testEpoch)
		ticker := c.NewTicker(time.Minute)
		defer ticker.Stop()

		// Spans three intervals with nobody draining; buffer holds one.
		c.Advance(3 * time.Minute)

		drained := 0
		for {
			select {
			case <-ticker.C:
				drained++
				continue
			default:
			}
			break
		}
		assert.Equal(t, 1, drained)
	})

	t.Run("Stop silences the ticker", func(t *testing.T) {
		c := NewFake(testEpoch)
		ticker := c.NewTicker(time.Minute)
		ticker.Stop()

		c.Advance(5 * time.Minute)
		select {
		case <-ticker.C:
			t.Fatal("tick after Stop")
		default:
		}
	})

	t.Run("panics on non-positive interval", func(t *testing.T) {
		c := NewFake(testEpoch)
		assert.Panics(t, func() { c.NewTicker(0) })
	})
}

func TestFakePendingCount(t *testing.T) {
	c := NewFake(testEpoch)
	assert.Equal(t, 0, c.PendingCount())

	timer := c.AfterFunc(time.Minute, func() {})
	ticker := c.NewTicker(time.Minute)
	assert.Equal(t, 2, c.PendingCount())

	timer.Stop()
	assert.Equal(t, 1, c.PendingCount())
	ticker.Stop()
	assert.Equal(t, 0, c.PendingCount())
}

func TestFakeWaitForPending(t *testing.T) {
	c := NewFake(testEpoch)
	done := make(chan struct{})

	go func() {
		c.WaitForPending(1)
		close(done)
	}()

	c.AfterFunc(time.Minute, func() {})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForPending never unblocked")
	}
}
