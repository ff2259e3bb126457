// Package dispatch runs the entries assigned to one kernel session.
//
// The Dispatcher is push-driven: it blocks on its engine Subscription and
// never polls. A notification only schedules work onto the dispatcher's
// own run queue; execution starts on the next loop iteration, after the
// notification has been fully delivered. Entries run one at a time, each
// through executionStarted to executionCompleted or executionFailed,
// before the next one starts.
//
// State machine: subscribed -> (deliver -> execute -> settle)* -> closed.
// Execution errors and panics settle the entry as failed; only context
// cancellation or a log write failure ends the loop.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/nbkernel/internal/engine"
	"github.com/roach88/nbkernel/internal/executor"
	"github.com/roach88/nbkernel/internal/ir"
	"github.com/roach88/nbkernel/internal/metrics"
	"github.com/roach88/nbkernel/internal/projection"
	"github.com/roach88/nbkernel/internal/queue"
)

// Executor runs one cell.
type Executor interface {
	Execute(ctx context.Context, req executor.Request) ([]ir.Output, error)
}

// Dispatcher executes entries assigned to one session.
type Dispatcher struct {
	engine    *engine.Engine
	sessionID string
	exec      Executor
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	origin    string

	// runq holds scheduled entries; queued guards against scheduling the
	// same entry twice. Both are owned by the Run goroutine.
	runq   []queue.Entry
	queued map[string]bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the clock used to time executions.
func WithClock(c clockwork.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithMetrics records settled executions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithOrigin sets the origin stamped on emitted events.
func WithOrigin(origin string) Option {
	return func(d *Dispatcher) { d.origin = origin }
}

// New creates a dispatcher for sessionID.
func New(eng *engine.Engine, sessionID string, exec Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		engine:    eng,
		sessionID: sessionID,
		exec:      exec,
		clock:     clockwork.NewRealClock(),
		origin:    "kernel:" + sessionID,
		queued:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run subscribes and executes assigned entries until ctx is cancelled.
// It returns nil on cancellation and an error only when the log cannot be
// written.
func (d *Dispatcher) Run(ctx context.Context) error {
	sub := d.engine.Subscribe(engine.AssignedTo(d.sessionID))
	defer sub.Close()

	slog.Info("dispatcher started", "session", d.sessionID)

	for {
		if ctx.Err() != nil {
			slog.Info("dispatcher stopping: context cancelled", "session", d.sessionID)
			return nil
		}

		// Scheduled work runs one entry per iteration.
		if len(d.runq) > 0 {
			entry := d.runq[0]
			d.runq[0] = queue.Entry{}
			d.runq = d.runq[1:]
			delete(d.queued, entry.ID)

			if err := d.execute(ctx, entry); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("dispatcher stopping: context cancelled", "session", d.sessionID)
			return nil
		case _, ok := <-sub.Wait():
			if !ok {
				return nil
			}
			d.schedule(sub.Results())
		}
	}
}

// schedule appends a delivered batch to the run queue in delivery order.
// Nothing executes here.
func (d *Dispatcher) schedule(batch []queue.Entry) {
	for _, e := range batch {
		if d.queued[e.ID] {
			continue
		}
		d.queued[e.ID] = true
		d.runq = append(d.runq, e)
	}
	if len(batch) > 0 {
		slog.Debug("dispatch batch scheduled",
			"session", d.sessionID,
			"batch", len(batch),
			"queued", len(d.runq),
		)
	}
}

// execute runs one entry through start and settlement.
func (d *Dispatcher) execute(ctx context.Context, scheduled queue.Entry) error {
	var (
		entry   queue.Entry
		cell    projection.Cell
		current bool
		deleted bool
	)
	d.engine.View(func(s *projection.State) {
		var ok bool
		entry, ok = s.Entry(scheduled.ID)
		current = ok && entry.Status == queue.StatusAssigned && entry.AssignedSession == d.sessionID
		cell, _ = s.Cell(entry.CellID)
		deleted = s.CellDeleted(entry.CellID)
	})
	if !current {
		slog.Debug("skipping entry no longer assigned to this session",
			"entry", scheduled.ID,
			"session", d.sessionID,
		)
		return nil
	}

	// Settlement must be recorded even when shutdown has begun.
	emitCtx := context.WithoutCancel(ctx)

	_, out, err := d.engine.Emit(emitCtx, ir.ExecutionStarted{EntryID: entry.ID, SessionID: d.sessionID}, d.origin)
	if err != nil {
		return fmt.Errorf("start entry %s: %w", entry.ID, err)
	}
	if !out.Applied {
		slog.Debug("start rejected", "entry", entry.ID, "reason", out.Reason)
		return nil
	}

	slog.Info("execution started",
		"entry", entry.ID,
		"cell", entry.CellID,
		"cell_type", cell.CellType,
		"session", d.sessionID,
	)

	started := d.clock.Now()
	var outputs []ir.Output
	var execErr error
	if deleted {
		execErr = &executor.ExecError{
			Name:  executor.ErrNameCellDeleted,
			Value: fmt.Sprintf("cell %s was deleted before execution started", entry.CellID),
		}
	} else {
		outputs, execErr = d.runSafely(ctx, executor.Request{
			EntryID:  entry.ID,
			CellID:   cell.ID,
			CellType: cell.CellType,
			Source:   cell.Source,
		})
	}
	elapsed := d.clock.Since(started)

	if execErr != nil {
		info := executor.ErrorInfo(execErr)
		if _, _, err := d.engine.Emit(emitCtx, ir.ExecutionFailed{EntryID: entry.ID, SessionID: d.sessionID, Error: info}, d.origin); err != nil {
			return fmt.Errorf("fail entry %s: %w", entry.ID, err)
		}
		d.metrics.ExecutionSettled(string(queue.StatusFailed), string(cell.CellType), elapsed)
		slog.Info("execution failed",
			"entry", entry.ID,
			"ename", info.Name,
			"evalue", info.Value,
			"duration", elapsed,
		)
		return nil
	}

	if _, _, err := d.engine.Emit(emitCtx, ir.ExecutionCompleted{EntryID: entry.ID, SessionID: d.sessionID, Outputs: outputs}, d.origin); err != nil {
		return fmt.Errorf("complete entry %s: %w", entry.ID, err)
	}
	d.metrics.ExecutionSettled(string(queue.StatusCompleted), string(cell.CellType), elapsed)
	slog.Info("execution completed",
		"entry", entry.ID,
		"outputs", len(outputs),
		"duration", elapsed,
	)
	return nil
}

// runSafely calls the executor, converting a panic into an ExecError.
func (d *Dispatcher) runSafely(ctx context.Context, req executor.Request) (outputs []ir.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("executor panicked", "entry", req.EntryID, "panic", r)
			outputs = nil
			err = &executor.ExecError{
				Name:      executor.ErrNamePanic,
				Value:     fmt.Sprint(r),
				Traceback: strings.Split(strings.TrimSpace(string(debug.Stack())), "\n"),
			}
		}
	}()
	outputs, err = d.exec.Execute(ctx, req)
	if err != nil && ctx.Err() != nil {
		err = &executor.ExecError{Name: executor.ErrNameShutdown, Value: "kernel shut down during execution", Err: err}
	}
	return outputs, err
}
