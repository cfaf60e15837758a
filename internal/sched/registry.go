// Package sched provides a registry of named one-shot tasks, used for the
// per-reservation re-lock timers. Every armed task is inspectable and
// cancellable by key, and the whole set can be torn down at shutdown with
// the cancelled keys reported back to the caller.
package sched

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/guestgate/access-server-go/internal/clock"
)

type task struct {
	timer *clock.Timer
	at    time.Time
}

type Registry struct {
	mu    sync.Mutex
	clk   clock.Clock
	tasks map[string]*task
}

func NewRegistry(clk clock.Clock) *Registry {
	return &Registry{clk: clk, tasks: make(map[string]*task)}
}

// Schedule arms fn to run once at the given time, replacing any task
// already registered under the key. The task removes itself from the
// registry before running, so fn may re-schedule under the same key.
// A time in the past fires immediately.
func (r *Registry) Schedule(key string, at time.Time, fn func()) {
	entry := &task{at: at}

	r.mu.Lock()
	if prev, ok := r.tasks[key]; ok {
		prev.stop()
		log.Debug().Str("key", key).Msg("scheduled task replaced")
	}
	r.tasks[key] = entry
	r.mu.Unlock()

	// Arm outside the lock: a due timer may run its callback on the spot,
	// and the callback takes the lock to deregister itself.
	timer := r.clk.AfterFunc(at.Sub(r.clk.Now()), func() {
		r.mu.Lock()
		current, ok := r.tasks[key]
		if !ok || current != entry {
			// Cancelled or replaced between firing and running.
			r.mu.Unlock()
			return
		}
		delete(r.tasks, key)
		r.mu.Unlock()
		fn()
	})

	r.mu.Lock()
	if current, ok := r.tasks[key]; ok && current == entry {
		current.timer = timer
	} else {
		timer.Stop()
	}
	r.mu.Unlock()
}

// Cancel stops the task under key. It reports whether a task was pending.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.tasks[key]
	if !ok {
		return false
	}
	entry.stop()
	delete(r.tasks, key)
	return true
}

// CancelAll stops every pending task and returns their keys, sorted.
func (r *Registry) CancelAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.tasks))
	for key, entry := range r.tasks {
		entry.stop()
		keys = append(keys, key)
	}
	r.tasks = make(map[string]*task)
	sort.Strings(keys)
	return keys
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Pending returns the fire time of every registered task by key.
func (r *Registry) Pending() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make(map[string]time.Time, len(r.tasks))
	for key, entry := range r.tasks {
		pending[key] = entry.at
	}
	return pending
}

func (t *task) stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}
