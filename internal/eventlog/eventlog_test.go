package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guestgate/access-server-go/internal/clock"
)

var logEpoch = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func openTestLog(t *testing.T) (*Log, *clock.FakeClock) {
	t.Helper()
	fake := clock.NewFake(logEpoch)
	l, err := Open(filepath.Join(t.TempDir(), "events.db"), fake)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, fake
}

func TestAppendAndRecent(t *testing.T) {
	l, fake := openTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, Entry{
		Type:          EventCodeIssued,
		ReservationID: "res-1",
		CodeMasked:    "0472-****",
	}))
	fake.Advance(time.Minute)
	require.NoError(t, l.Append(ctx, Entry{
		Type:          EventAccessGranted,
		ReservationID: "res-1",
		CodeMasked:    "0472-****",
	}))
	fake.Advance(time.Minute)
	require.NoError(t, l.Append(ctx, Entry{
		Type:   EventAccessDenied,
		Detail: "not_found",
	}))

	entries, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Newest first.
	assert.Equal(t, EventAccessDenied, entries[0].Type)
	assert.Equal(t, EventAccessGranted, entries[1].Type)
	assert.Equal(t, EventCodeIssued, entries[2].Type)
	assert.Equal(t, logEpoch.Add(2*time.Minute), entries[0].At)
	assert.Equal(t, "not_found", entries[0].Detail)
	assert.Equal(t, "0472-****", entries[2].CodeMasked)

	assert.Equal(t, int64(3), l.Count(ctx))
}

func TestRecentLimit(t *testing.T) {
	l, _ := openTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(ctx, Entry{Type: EventRelockFired, ReservationID: "res-1"}))
	}

	entries, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = l.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 5, "non-positive limit falls back to the default")
}

func TestForReservation(t *testing.T) {
	l, _ := openTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, Entry{Type: EventCodeIssued, ReservationID: "res-1"}))
	require.NoError(t, l.Append(ctx, Entry{Type: EventCodeIssued, ReservationID: "res-2"}))
	require.NoError(t, l.Append(ctx, Entry{Type: EventRelockFired, ReservationID: "res-1"}))

	entries, err := l.ForReservation(ctx, "res-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, EventCodeIssued, entries[0].Type)
	assert.Equal(t, EventRelockFired, entries[1].Type)
}

func TestPrune(t *testing.T) {
	l, fake := openTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, Entry{Type: EventCodeIssued, ReservationID: "res-old"}))
	fake.Advance(48 * time.Hour)
	require.NoError(t, l.Append(ctx, Entry{Type: EventCodeIssued, ReservationID: "res-new"}))

	removed, err := l.Prune(ctx, fake.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	entries, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "res-new", entries[0].ReservationID)
}

func TestDisabledLog(t *testing.T) {
	var l *Log

	assert.NoError(t, l.Append(context.Background(), Entry{Type: EventCodeIssued}))
	entries, err := l.Recent(context.Background(), 10)
	assert.NoError(t, err)
	assert.Nil(t, entries)
	assert.Equal(t, int64(0), l.Count(context.Background()))
	assert.NoError(t, l.Close())

	removed, err := l.Prune(context.Background(), time.Now())
	assert.NoError(t, err)
	assert.Zero(t, removed)
}
