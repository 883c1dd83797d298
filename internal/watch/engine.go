// Package watch implements the keyed polling/cache engine behind the job
// status clients. Each job id gets at most one fetch loop no matter how
// many handles observe it; the loop recomputes its next delay from the
// most recently fetched value after every tick and parks once the
// interval policy reports a terminal value.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FetchStatus describes the network activity of a handle.
type FetchStatus string

const (
	// StatusIdle means no fetch is in flight. Disabled and paused
	// handles always report idle.
	StatusIdle FetchStatus = "idle"
	// StatusFetching means a poll tick is currently in flight.
	StatusFetching FetchStatus = "fetching"
)

// FetchFunc retrieves the current record for a job id.
type FetchFunc[T any] func(ctx context.Context, id string) (T, error)

// IntervalFunc computes the delay before the next automatic refetch from
// the last successfully fetched record. Returning 0 (or a negative
// duration) stops automatic polling until an explicit refresh or
// invalidation.
type IntervalFunc[T any] func(last T) time.Duration

// Config configures an Engine.
type Config[T any] struct {
	// Namespace identifies the job family in log output.
	Namespace string
	// Fetch performs one poll tick.
	Fetch FetchFunc[T]
	// Interval is the poll continuation policy.
	Interval IntervalFunc[T]
	// FetchTimeout bounds a single tick; 0 leaves the transport default.
	FetchTimeout time.Duration
	Logger       *slog.Logger
}

// Engine owns the cache entries and fetch loops for one job family.
type Engine[T any] struct {
	namespace    string
	fetch        FetchFunc[T]
	interval     IntervalFunc[T]
	fetchTimeout time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry[T]
	closed  bool
}

// Snapshot is the observable state of one cache entry.
type Snapshot[T any] struct {
	// Data is the last successfully fetched record, nil before the
	// first successful tick.
	Data *T
	// Err is the error from the most recent tick, cleared by the next
	// successful one. Previously fetched data stays visible alongside.
	Err         error
	FetchStatus FetchStatus
}

type entry[T any] struct {
	id string

	mu        sync.Mutex
	data      *T
	err       error
	attempted bool // at least one tick has settled
	fetching  bool
	forced    bool // refetch requested via Refresh/Invalidate
	observers []chan struct{}
	active    int // observers driving the loop (paused ones excluded)

	wake     chan struct{}
	stop     chan struct{}
	loop     bool // a loop goroutine owns this entry until it clears the flag on exit
	stopping bool // stop has been closed; the loop is draining
}

// NewEngine creates a polling engine for one job family.
func NewEngine[T any](cfg Config[T]) *Engine[T] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine[T]{
		namespace:    cfg.Namespace,
		fetch:        cfg.Fetch,
		interval:     cfg.Interval,
		fetchTimeout: cfg.FetchTimeout,
		logger:       logger.With(slog.String("namespace", cfg.Namespace)),
	}
}

// SubscribeOption adjusts a single subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	paused bool
}

// Paused disables automatic fetching for this handle (cache-skip). The
// handle still reads whatever the cache holds, but reports idle and
// never triggers network activity.
func Paused() SubscribeOption {
	return func(o *subscribeOptions) {
		o.paused = true
	}
}

// Subscribe returns a live handle for the given job id. An empty id
// yields a permanently idle handle with no network activity.
func (e *Engine[T]) Subscribe(id string, opts ...SubscribeOption) *Handle[T] {
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	if id == "" {
		return &Handle[T]{}
	}

	if o.paused {
		return &Handle[T]{engine: e, id: id, paused: true}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return &Handle[T]{}
	}
	en := e.ensureEntry(id)
	e.mu.Unlock()

	updates := make(chan struct{}, 1)

	en.mu.Lock()
	en.observers = append(en.observers, updates)
	en.active++
	e.ensureLoop(en)
	en.mu.Unlock()

	return &Handle[T]{
		engine:  e,
		entry:   en,
		id:      id,
		updates: updates,
	}
}

// SubscribeAll returns one handle per id, preserving input order. An
// empty input yields an empty output with zero network activity.
func (e *Engine[T]) SubscribeAll(ids []string, opts ...SubscribeOption) []*Handle[T] {
	handles := make([]*Handle[T], 0, len(ids))
	for _, id := range ids {
		handles = append(handles, e.Subscribe(id, opts...))
	}
	return handles
}

// Invalidate drops or refetches the cache entry for one job id. An
// actively observed id refetches immediately; a dormant entry is removed
// so the next observer starts fresh. Unknown ids are a no-op.
func (e *Engine[T]) Invalidate(id string) {
	e.mu.Lock()
	en, ok := e.entries[id]
	if !ok {
		e.mu.Unlock()
		return
	}

	en.mu.Lock()
	if en.active == 0 {
		if en.loop {
			// a drained loop is still winding down; reset the entry in
			// place so the next observer starts fresh without a second
			// goroutine overlapping the in-flight tick
			en.data = nil
			en.err = nil
			en.attempted = false
			en.mu.Unlock()
			e.mu.Unlock()
			return
		}
		en.mu.Unlock()
		delete(e.entries, id)
		e.mu.Unlock()
		return
	}
	en.forced = true
	en.notifyLoop()
	en.mu.Unlock()
	e.mu.Unlock()
}

// InvalidateAll invalidates every cache entry in this engine's namespace.
func (e *Engine[T]) InvalidateAll() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.entries))
	for id := range e.entries {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.Invalidate(id)
	}
}

// Close stops every fetch loop. Handles remain readable but no further
// ticks are issued.
func (e *Engine[T]) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	entries := make([]*entry[T], 0, len(e.entries))
	for _, en := range e.entries {
		entries = append(entries, en)
	}
	e.mu.Unlock()

	for _, en := range entries {
		en.mu.Lock()
		if en.loop && !en.stopping {
			close(en.stop)
			en.stopping = true
		}
		en.mu.Unlock()
	}
}

// ensureEntry returns the entry for id, creating it when absent.
// Caller holds e.mu.
func (e *Engine[T]) ensureEntry(id string) *entry[T] {
	if e.entries == nil {
		e.entries = make(map[string]*entry[T])
	}
	en, ok := e.entries[id]
	if !ok {
		en = &entry[T]{
			id:   id,
			wake: make(chan struct{}, 1),
		}
		e.entries[id] = en
	}
	return en
}

// ensureLoop starts the fetch loop for an entry if none owns it. A
// draining loop (stop closed, tick possibly still in flight) keeps
// ownership; finishLoop hands off to a fresh goroutine once it exits, so
// ticks for one id never overlap.
// Caller holds en.mu.
func (e *Engine[T]) ensureLoop(en *entry[T]) {
	if en.loop {
		return
	}
	en.loop = true
	en.stopping = false
	en.stop = make(chan struct{})
	go e.run(en, en.stop)
}

// finishLoop runs when a loop goroutine exits. It releases ownership
// and, if observers (re)subscribed while the loop was draining, starts
// the replacement loop only now that the old one is fully done.
func (e *Engine[T]) finishLoop(en *entry[T]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en.mu.Lock()
	defer en.mu.Unlock()

	en.loop = false
	en.stopping = false
	if !e.closed && en.active > 0 {
		en.loop = true
		en.stop = make(chan struct{})
		go e.run(en, en.stop)
	}
}

// run is the per-id fetch loop. Ticks for one id are strictly
// sequential; the next delay is always derived from the last successful
// record, so a failed tick neither accelerates nor implicitly halts the
// schedule beyond what that record dictates.
func (e *Engine[T]) run(en *entry[T], stop <-chan struct{}) {
	defer e.finishLoop(en)

	for {
		en.mu.Lock()
		forced := en.forced
		en.forced = false
		attempted := en.attempted
		last := en.data
		en.mu.Unlock()

		switch {
		case forced || !attempted:
			// initial tick, or an explicit refresh/invalidation

		case last == nil:
			// every tick so far failed; only an explicit trigger
			// restarts polling
			select {
			case <-en.wake:
				continue
			case <-stop:
				return
			}

		default:
			delay := e.interval(*last)
			if delay <= 0 {
				// terminal per policy: park until refreshed
				select {
				case <-en.wake:
					continue
				case <-stop:
					return
				}
			}

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-en.wake:
				timer.Stop()
				continue
			case <-stop:
				timer.Stop()
				return
			}
		}

		select {
		case <-stop:
			return
		default:
		}

		e.tick(en)
	}
}

// tick performs one fetch and publishes the outcome to observers.
func (e *Engine[T]) tick(en *entry[T]) {
	en.mu.Lock()
	en.fetching = true
	en.broadcast()
	en.mu.Unlock()

	ctx := context.Background()
	if e.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.fetchTimeout)
		defer cancel()
	}

	value, err := e.fetch(ctx, en.id)

	en.mu.Lock()
	en.fetching = false
	en.attempted = true
	if err != nil {
		en.err = err
		e.logger.Warn("Poll tick failed",
			slog.String("id", en.id),
			slog.Any("error", err),
		)
	} else {
		en.data = &value
		en.err = nil
	}
	en.broadcast()
	en.mu.Unlock()
}

// snapshot returns the current observable state. Caller must not hold
// en.mu.
func (en *entry[T]) snapshot() Snapshot[T] {
	en.mu.Lock()
	defer en.mu.Unlock()

	status := StatusIdle
	if en.fetching {
		status = StatusFetching
	}

	return Snapshot[T]{
		Data:        en.data,
		Err:         en.err,
		FetchStatus: status,
	}
}

// notifyLoop wakes the fetch loop without blocking. Caller holds en.mu.
func (en *entry[T]) notifyLoop() {
	select {
	case en.wake <- struct{}{}:
	default:
	}
}

// broadcast signals every observer channel without blocking. Caller
// holds en.mu.
func (en *entry[T]) broadcast() {
	for _, ch := range en.observers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
