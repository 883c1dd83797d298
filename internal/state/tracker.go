// Package state aggregates loading and error visibility across the
// submission operations of one or more job families. The tracker is the
// explicit replacement for shared mutable flags: Loading is the OR of
// every outstanding operation, and the error slot holds the most recent
// failure until a later success or an explicit reset clears it.
//
// Poll-tick errors never pass through a Tracker; they belong to the
// individual watch handles.
package state

import "sync"

// Tracker aggregates in-flight submissions and their most recent error.
// The zero value is ready to use and safe for concurrent callers.
type Tracker struct {
	mu       sync.Mutex
	inflight int
	err      error
}

// Begin marks one submission as in flight and returns its completion
// callback. The callback is idempotent: pass the submission's error, or
// nil on success. A successful completion clears the shared error slot;
// a failed one replaces it.
func (t *Tracker) Begin() func(error) {
	t.mu.Lock()
	t.inflight++
	t.mu.Unlock()

	var once sync.Once
	return func(err error) {
		once.Do(func() {
			t.mu.Lock()
			t.inflight--
			t.err = err
			t.mu.Unlock()
		})
	}
}

// Loading reports whether any registered submission is still in flight.
func (t *Tracker) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inflight > 0
}

// Err returns the most recently recorded submission error, or nil.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Reset clears the error slot without touching in-flight accounting.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.err = nil
	t.mu.Unlock()
}
