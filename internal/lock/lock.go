// Package lock drives the physical door lock through an actuator
// abstraction. The only shipped adapter is an HTTP bridge, typically a
// hub on the local network fronting a smart lock.
package lock

import "context"

// Status is a point-in-time snapshot of the lock hardware.
type Status struct {
	Locked    bool `json:"locked"`
	Battery   int  `json:"battery"`
	Available bool `json:"available"`
}

// Actuator operates the door lock. Implementations must be safe for
// concurrent use; the orchestrator fires unlocks and relocks from
// different goroutines.
type Actuator interface {
	Unlock(ctx context.Context) error
	Lock(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
}
