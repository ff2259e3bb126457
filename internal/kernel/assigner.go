package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/nbkernel/internal/engine"
	"github.com/roach88/nbkernel/internal/ir"
	"github.com/roach88/nbkernel/internal/metrics"
	"github.com/roach88/nbkernel/internal/projection"
	"github.com/roach88/nbkernel/internal/queue"
)

// assigner claims the oldest pending entry for its session whenever the
// session is the eligible target and idle.
//
// It wakes on queue changes (through a Claimable subscription) and on its
// own heartbeats, since eligibility is time-based and no event marks a
// competing session going stale.
type assigner struct {
	engine    *engine.Engine
	sessionID string
	timeout   time.Duration
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	origin    string
	wake      <-chan struct{}
}

func (a *assigner) run(ctx context.Context) error {
	sub := a.engine.Subscribe(engine.Claimable(a.sessionID))
	defer sub.Close()

	for {
		if err := a.claim(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-sub.Wait():
			if !ok {
				return nil
			}
		case <-a.wake:
		}
	}
}

// claim appends at most one executionAssigned. A rejected assignment means
// another writer got there first; the log's order decided.
func (a *assigner) claim(ctx context.Context) error {
	var next queue.Entry
	var ok bool
	a.engine.View(func(s *projection.State) {
		next, ok = s.NextAssignable(a.sessionID, a.clock.Now(), a.timeout)
	})
	if !ok {
		return nil
	}

	_, out, err := a.engine.Emit(ctx, ir.ExecutionAssigned{EntryID: next.ID, SessionID: a.sessionID}, a.origin)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("assign entry %s: %w", next.ID, err)
	}
	if !out.Applied {
		slog.Debug("assignment lost", "entry", next.ID, "reason", out.Reason)
		return nil
	}
	a.metrics.Assigned()
	slog.Info("entry assigned",
		"entry", next.ID,
		"cell", next.CellID,
		"session", a.sessionID,
		"seq", out.Seq,
	)
	return nil
}
