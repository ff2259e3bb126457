package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/nbkernel/internal/ir"
	"github.com/roach88/nbkernel/internal/metrics"
	"github.com/roach88/nbkernel/internal/projection"
	"github.com/roach88/nbkernel/internal/store"
)

// Engine is a single notebook's log replica.
//
// Thread-safety model:
//   - Emit, CatchUp: safe from any goroutine; folds are serialized
//   - View, State: safe from any goroutine; readers share a read lock
//   - Subscribe: safe from any goroutine
//
// INVARIANTS:
//   - Events are folded strictly in seq order, each exactly once
//   - The state is only ever mutated by projection.State.Apply
type Engine struct {
	store   *store.Store
	ids     IDGenerator
	metrics *metrics.Metrics

	// writeMu serializes append+fold so one goroutine folds at a time.
	writeMu sync.Mutex

	mu    sync.RWMutex
	state *projection.State

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records folded and rejected events.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine over s. Call CatchUp before reading state to fold
// what the log already holds.
func New(s *store.Store, ids IDGenerator, opts ...Option) *Engine {
	e := &Engine{
		store: s,
		ids:   ids,
		state: projection.New(),
		subs:  make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewID returns a fresh id from the engine's generator.
func (e *Engine) NewID() string {
	return e.ids.Generate()
}

// Store returns the underlying event log.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Emit appends payload to the log and folds it. The returned Outcome tells
// whether the projection accepted the event; a rejected event is still in
// the log, because the log is the source of truth and others may disagree
// about what was valid when they wrote.
func (e *Engine) Emit(ctx context.Context, payload ir.Payload, origin string) (ir.Event, projection.Outcome, error) {
	ev := ir.Event{
		ID:      e.ids.Generate(),
		Name:    payload.EventName(),
		Payload: payload.Encode(),
		Origin:  origin,
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	stored, inserted, err := e.store.Append(ctx, ev)
	if err != nil {
		return ir.Event{}, projection.Outcome{}, &EmitError{Code: ErrCodeAppendFailed, Event: ev.Name, EventID: ev.ID, Err: err}
	}
	if !inserted {
		return stored, projection.Outcome{Seq: stored.Seq, Name: stored.Name, Reason: "duplicate event id"}, nil
	}

	outcomes, err := e.catchUpLocked(ctx)
	if err != nil {
		return stored, projection.Outcome{}, &EmitError{Code: ErrCodeCatchUpFailed, Event: ev.Name, EventID: ev.ID, Err: err}
	}
	for _, o := range outcomes {
		if o.Seq == stored.Seq {
			return stored, o, nil
		}
	}
	return stored, projection.Outcome{Seq: stored.Seq, Name: stored.Name, Reason: "not folded"}, nil
}

// CatchUp folds every event appended since the last fold and notifies
// subscriptions. It returns the outcome of each folded event.
func (e *Engine) CatchUp(ctx context.Context) ([]projection.Outcome, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.catchUpLocked(ctx)
}

// catchUpLocked requires writeMu.
func (e *Engine) catchUpLocked(ctx context.Context) ([]projection.Outcome, error) {
	e.mu.RLock()
	after := e.state.LastSeq
	e.mu.RUnlock()

	events, err := e.store.ReadSince(ctx, after, 0)
	if err != nil {
		return nil, fmt.Errorf("catch up after seq %d: %w", after, err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	outcomes := make([]projection.Outcome, 0, len(events))
	e.mu.Lock()
	for _, ev := range events {
		o := e.state.Apply(ev)
		outcomes = append(outcomes, o)
		e.metrics.EventFolded(string(ev.Name), o.Applied)
		if o.Applied {
			slog.Debug("event folded",
				"seq", ev.Seq,
				"event", ev.Name,
				"origin", ev.Origin,
			)
		} else {
			slog.Debug("event rejected",
				"seq", ev.Seq,
				"event", ev.Name,
				"origin", ev.Origin,
				"reason", o.Reason,
			)
		}
	}
	e.mu.Unlock()

	e.notify()
	return outcomes, nil
}

// Follow folds writes made by other processes every interval until ctx is
// cancelled. Read failures are logged and retried on the next tick.
func (e *Engine) Follow(ctx context.Context, clock clockwork.Clock, interval time.Duration) error {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if _, err := e.CatchUp(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("log follow failed", "error", err)
			}
		}
	}
}

// View runs fn with read access to the live state. fn must not retain the
// pointer or call back into the Engine.
func (e *Engine) View(fn func(*projection.State)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.state)
}

// State returns a deep copy of the current state.
func (e *Engine) State() *projection.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Clone()
}

// LastSeq returns the position of the last folded event.
func (e *Engine) LastSeq() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.LastSeq
}
