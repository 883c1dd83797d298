package watch

import "sync"

// Handle is one observer of a job id. Handles sharing an id share the
// cache entry and its single fetch loop. A zero Handle is permanently
// idle, which is how empty-id and closed-engine subscriptions behave.
type Handle[T any] struct {
	engine  *Engine[T]
	entry   *entry[T]
	id      string
	paused  bool
	updates chan struct{}

	closeOnce sync.Once
}

// ID returns the observed job id, empty for a disabled handle.
func (h *Handle[T]) ID() string {
	return h.id
}

// Enabled reports whether this handle can ever trigger network activity.
func (h *Handle[T]) Enabled() bool {
	return h.entry != nil
}

// Snapshot returns the current state of the observed cache entry.
// Disabled and paused handles always report idle with no data of their
// own fetching.
func (h *Handle[T]) Snapshot() Snapshot[T] {
	en := h.entry
	if en == nil && h.paused {
		// paused handles read the shared cache without driving it
		h.engine.mu.Lock()
		en = h.engine.entries[h.id]
		h.engine.mu.Unlock()
	}
	if en == nil {
		return Snapshot[T]{FetchStatus: StatusIdle}
	}

	snap := en.snapshot()
	if h.paused {
		snap.FetchStatus = StatusIdle
	}
	return snap
}

// Updates returns a channel that receives a signal whenever the entry
// changes (tick start, success, or failure). Signals are coalesced;
// consumers read Snapshot for the current state. Nil for disabled and
// paused handles.
func (h *Handle[T]) Updates() <-chan struct{} {
	return h.updates
}

// Refresh requests an immediate refetch, the caller-driven re-trigger
// for states whose policy stopped automatic polling. No-op on disabled
// and paused handles.
func (h *Handle[T]) Refresh() {
	if h.entry == nil {
		return
	}

	h.entry.mu.Lock()
	h.entry.forced = true
	h.entry.notifyLoop()
	h.entry.mu.Unlock()
}

// Close detaches this observer. When the last active observer of an id
// closes, the id's fetch loop and timers stop; the cached record remains
// readable to future subscribers until invalidated.
func (h *Handle[T]) Close() {
	if h.entry == nil {
		return
	}

	h.closeOnce.Do(func() {
		en := h.entry

		en.mu.Lock()
		for i, ch := range en.observers {
			if ch == h.updates {
				en.observers = append(en.observers[:i], en.observers[i+1:]...)
				break
			}
		}
		en.active--
		if en.active == 0 && en.loop && !en.stopping {
			// the loop goroutine clears en.loop itself once any
			// in-flight tick has settled
			close(en.stop)
			en.stopping = true
		}
		en.mu.Unlock()
	})
}
