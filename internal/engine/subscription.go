package engine

import (
	"strings"
	"sync"

	"github.com/roach88/nbkernel/internal/projection"
	"github.com/roach88/nbkernel/internal/queue"
)

// Query selects queue entries from the state. It must be pure.
type Query func(*projection.State) []queue.Entry

// AssignedTo matches entries assigned to sessionID and not yet started, in
// log order.
func AssignedTo(sessionID string) Query {
	return func(s *projection.State) []queue.Entry {
		return s.AssignedTo(sessionID)
	}
}

// Claimable matches everything the assigner for sessionID cares about:
// pending entries plus the session's own in-flight entries.
func Claimable(sessionID string) Query {
	return func(s *projection.State) []queue.Entry {
		var out []queue.Entry
		for _, e := range s.QueueOrder() {
			if e.Status == queue.StatusPending || (e.AssignedSession == sessionID && e.Status.InFlight()) {
				out = append(out, e)
			}
		}
		return out
	}
}

// Subscription is a live query result.
//
// Notifications are coalesced: the signal channel has a buffer of one, so
// any number of changes between two receives produce a single wake-up, and
// Results always returns the latest result.
//
// Usage:
//
//	for {
//	    select {
//	    case <-ctx.Done():
//	        return
//	    case _, ok := <-sub.Wait():
//	        if !ok { return } // closed
//	        batch := sub.Results()
//	        ...
//	    }
//	}
type Subscription struct {
	engine *Engine
	query  Query

	mu        sync.Mutex
	results   []queue.Entry
	signature string
	closed    bool
	signal    chan struct{} // buffered, size 1
}

// Subscribe registers q and evaluates it immediately. A non-empty initial
// result is signalled so the consumer picks up work present at startup.
func (e *Engine) Subscribe(q Query) *Subscription {
	sub := &Subscription{
		engine: e,
		query:  q,
		signal: make(chan struct{}, 1),
	}

	// Hold the fold lock so the initial evaluation cannot interleave with a
	// notification from a concurrent CatchUp.
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.subsMu.Lock()
	e.subs[sub] = struct{}{}
	e.subsMu.Unlock()

	sub.refresh()
	return sub
}

// notify re-evaluates every subscription against the current state.
func (e *Engine) notify() {
	e.subsMu.Lock()
	subs := make([]*Subscription, 0, len(e.subs))
	for sub := range e.subs {
		subs = append(subs, sub)
	}
	e.subsMu.Unlock()

	for _, sub := range subs {
		sub.refresh()
	}
}

// refresh recomputes the result and signals only when it changed.
func (s *Subscription) refresh() {
	var results []queue.Entry
	s.engine.View(func(st *projection.State) {
		results = s.query(st)
	})
	sig := signature(results)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || sig == s.signature {
		return
	}
	s.results = results
	s.signature = sig
	if len(results) == 0 {
		return
	}

	// Non-blocking: buffer of 1 coalesces multiple signals.
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Wait returns the notification channel. It is closed by Close.
func (s *Subscription) Wait() <-chan struct{} {
	return s.signal
}

// Results returns a copy of the latest result.
func (s *Subscription) Results() []queue.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]queue.Entry, len(s.results))
	for i, e := range s.results {
		out[i] = e.Clone()
	}
	return out
}

// Close unregisters the subscription and wakes any waiter.
func (s *Subscription) Close() {
	s.engine.subsMu.Lock()
	delete(s.engine.subs, s)
	s.engine.subsMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.signal)
}

// signature identifies a result by entry ids and statuses.
func signature(entries []queue.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.ID)
		b.WriteByte(':')
		b.WriteString(string(e.Status))
		b.WriteByte(';')
	}
	return b.String()
}
