// Package debounce coalesces bursts of events per key into one delayed action.
package debounce

import (
	"sync"
	"time"
)

// DefaultDelay absorbs keystroke-rate bursts.
const DefaultDelay = 200 * time.Millisecond

type pending struct {
	timer *time.Timer
	gen   uint64
}

// Registry holds at most one pending timer per key.
type Registry struct {
	mu      sync.Mutex
	timers  map[string]*pending
	nextGen uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{timers: make(map[string]*pending)}
}

// Schedule arms action to run after delay, replacing any timer pending for key.
// A non-positive delay uses DefaultDelay.
func (r *Registry) Schedule(key string, delay time.Duration, action func()) {
	if delay <= 0 {
		delay = DefaultDelay
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.timers[key]; ok {
		old.timer.Stop()
	}

	r.nextGen++
	gen := r.nextGen
	p := &pending{gen: gen}
	p.timer = time.AfterFunc(delay, func() {
		// Remove the entry before running so edits made during action arm a
		// fresh timer. A fire that lost the race to Stop must not remove its
		// successor.
		r.mu.Lock()
		cur, ok := r.timers[key]
		if !ok || cur.gen != gen {
			r.mu.Unlock()
			return
		}
		delete(r.timers, key)
		r.mu.Unlock()

		action()
	})
	r.timers[key] = p
}

// Cancel stops the timer pending for key, if any. It reports whether one was pending.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.timers[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(r.timers, key)
	return true
}

// CancelAll stops every pending timer.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, p := range r.timers {
		p.timer.Stop()
		delete(r.timers, key)
	}
}

// Pending returns the number of keys with an armed timer.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// IsPending reports whether key has an armed timer.
func (r *Registry) IsPending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[key]
	return ok
}
