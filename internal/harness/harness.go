package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/nbkernel/internal/engine"
	"github.com/roach88/nbkernel/internal/ir"
	"github.com/roach88/nbkernel/internal/projection"
	"github.com/roach88/nbkernel/internal/store"
	"github.com/roach88/nbkernel/internal/testutil"
)

// DefaultOrigin is the origin recorded for steps that do not name one.
const DefaultOrigin = "scenario"

// StepResult is the fold outcome of one step.
type StepResult struct {
	Seq     int64  `json:"seq"`
	Event   string `json:"event"`
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass   bool         `json:"pass"`
	Steps  []StepResult `json:"steps"`
	Errors []string     `json:"errors,omitempty"`

	// State is the final folded state. Snapshot renders it for golden files.
	State *projection.State `json:"-"`
}

// AddError records a failure.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Run appends the scenario's steps to a fresh in-memory log, folds them
// through an engine and evaluates the assertions. An error means the
// scenario could not be executed at all; failed expectations are reported
// in the Result.
func Run(ctx context.Context, sc *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ids := engine.NewSequenceGenerator("ev-")
	eng := engine.New(st, ids)
	clock := testutil.NewClock()

	result := &Result{Pass: true, Steps: []StepResult{}}
	var elapsed time.Duration

	for i, step := range sc.Steps {
		if step.hasAt && step.at > elapsed {
			clock.Advance(step.at - elapsed)
			elapsed = step.at
		}

		ev, err := buildEvent(step, ids, clock.Now())
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}

		stored, inserted, err := st.Append(ctx, ev)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		outcomes, err := eng.CatchUp(ctx)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}

		sr := StepResult{Seq: stored.Seq, Event: step.Event}
		switch {
		case !inserted:
			sr.Reason = "duplicate event id"
		default:
			for _, o := range outcomes {
				if o.Seq == stored.Seq {
					sr.Applied = o.Applied
					sr.Reason = o.Reason
				}
			}
		}
		result.Steps = append(result.Steps, sr)

		switch step.Expect {
		case ExpectApplied:
			if !sr.Applied {
				result.AddError("steps[%d] %s: expected applied, rejected: %s", i, step.Event, sr.Reason)
			}
		case ExpectRejected:
			if sr.Applied {
				result.AddError("steps[%d] %s: expected rejected, was applied", i, step.Event)
			}
		}
	}

	now := testutil.At(elapsed)
	if sc.hasNow {
		now = testutil.At(sc.now)
	}

	result.State = eng.State()
	for _, msg := range evaluate(result.State, sc.Assertions, now, sc.timeout) {
		result.AddError("%s", msg)
	}
	return result, nil
}

// buildEvent turns a step into an event. Session events are stamped with
// the scenario clock unless the payload carries its own "at".
func buildEvent(step Step, ids engine.IDGenerator, now time.Time) (ir.Event, error) {
	v, err := ir.FromGo(step.Payload)
	if err != nil {
		return ir.Event{}, fmt.Errorf("payload: %w", err)
	}
	payload, ok := v.(ir.IRObject)
	if !ok {
		return ir.Event{}, fmt.Errorf("payload: expected object, got %T", v)
	}

	name := ir.EventName(step.Event)
	switch name {
	case ir.EventKernelSessionStarted, ir.EventKernelSessionHeartbeat:
		if _, ok := payload["at"]; !ok {
			payload["at"] = ir.IRInt(now.UnixMilli())
		}
	}

	id := step.ID
	if id == "" {
		id = ids.Generate()
	}
	origin := step.Origin
	if origin == "" {
		origin = DefaultOrigin
	}
	return ir.Event{ID: id, Name: name, Payload: payload, Origin: origin}, nil
}
