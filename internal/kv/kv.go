// Package kv is the ephemeral key-value layer behind the orchestrator:
// dedup markers for observed reservation occurrences and unsecured-door
// markers left behind by a shutdown. Values are small strings with TTLs;
// none of them are required to survive a restart, so the default backend
// is in-memory and Redis/Badger exist for deployments that want markers
// shared or kept across restarts anyway.
package kv

import (
	"context"
	"fmt"
	"time"
)

type Store interface {
	// Get returns the value and whether the key exists and is unexpired.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// Keys lists live keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Purge drops expired entries on backends that keep them around and
	// returns how many it removed.
	Purge(ctx context.Context) (int, error)

	Close() error
}

const (
	DedupPrefix     = "dedup:"
	UnsecuredPrefix = "unsecured:"
)

// DedupKey names one observation of a reservation occurrence.
func DedupKey(occurrence string) string {
	return DedupPrefix + occurrence
}

// UnsecuredKey marks a reservation whose relock timer was cancelled by a
// shutdown before it could fire.
func UnsecuredKey(reservationID string) string {
	return fmt.Sprintf("%s%s", UnsecuredPrefix, reservationID)
}
