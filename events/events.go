// Package events provides a small observer registry that can be embedded in
// any type to give it named events.
package events

import (
	"sync"
	"sync/atomic"
)

// Handler observes one event. Returning an error aborts the remaining
// observers of the current Trigger pass.
type Handler[T any] func(args ...T) error

// Subscription identifies a registration made with On.
type Subscription uint64

var nextSubscription atomic.Uint64

type listener[T any] struct {
	sub Subscription
	fn  Handler[T]
}

// Emitter holds named observers. The zero value is ready to use.
type Emitter[T any] struct {
	mu     sync.RWMutex
	events map[string][]listener[T]
}

// On registers fn for name and returns the token used to remove it.
func (e *Emitter[T]) On(name string, fn Handler[T]) Subscription {
	sub := Subscription(nextSubscription.Add(1))

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.events == nil {
		e.events = make(map[string][]listener[T])
	}
	e.events[name] = append(e.events[name], listener[T]{sub: sub, fn: fn})
	return sub
}

// Off removes every observer of name registered under sub.
func (e *Emitter[T]) Off(name string, sub Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	listeners := e.events[name]
	kept := listeners[:0:0]
	for _, l := range listeners {
		if l.sub != sub {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(e.events, name)
		return
	}
	e.events[name] = kept
}

// OffAll removes every observer of name.
func (e *Emitter[T]) OffAll(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.events, name)
}

// Reset removes all observers of all events.
func (e *Emitter[T]) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = nil
}

// Listeners returns the number of observers currently registered for name.
func (e *Emitter[T]) Listeners(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.events[name])
}

// Trigger calls the observers of name, most recently added first. The set of
// observers is fixed when the pass starts: observers added by a handler run
// on the next Trigger only. The first handler error stops the pass and is
// returned.
func (e *Emitter[T]) Trigger(name string, args ...T) error {
	e.mu.RLock()
	snapshot := make([]listener[T], len(e.events[name]))
	copy(snapshot, e.events[name])
	e.mu.RUnlock()

	for i := len(snapshot) - 1; i >= 0; i-- {
		if err := snapshot[i].fn(args...); err != nil {
			return err
		}
	}
	return nil
}
