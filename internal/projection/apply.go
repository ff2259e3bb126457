package projection

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/nbkernel/internal/ir"
	"github.com/roach88/nbkernel/internal/queue"
	"github.com/roach88/nbkernel/internal/session"
)

// Outcome reports what folding one event did.
type Outcome struct {
	Seq     int64
	Name    ir.EventName
	Applied bool
	// Reason explains a rejection. Empty when Applied.
	Reason string
}

func applied(ev ir.Event) Outcome {
	return Outcome{Seq: ev.Seq, Name: ev.Name, Applied: true}
}

func rejected(ev ir.Event, format string, args ...any) Outcome {
	return Outcome{Seq: ev.Seq, Name: ev.Name, Reason: fmt.Sprintf(format, args...)}
}

// Apply folds one event. Events at or below LastSeq were already folded and
// are skipped, so re-delivery is harmless.
func (s *State) Apply(ev ir.Event) Outcome {
	if ev.Seq <= s.LastSeq {
		return rejected(ev, "already folded (seq %d <= %d)", ev.Seq, s.LastSeq)
	}
	s.LastSeq = ev.Seq

	payload, err := ir.Decode(ev)
	if err != nil {
		return rejected(ev, "invalid payload: %v", err)
	}

	switch p := payload.(type) {
	case ir.NotebookInitialized:
		return s.applyNotebookInitialized(ev, p)
	case ir.NotebookTitleChanged:
		s.Notebook.Title = p.Title
		return applied(ev)
	case ir.CellCreated:
		return s.applyCellCreated(ev, p)
	case ir.CellSourceChanged:
		return s.updateCell(ev, p.ID, func(c *Cell) { c.Source = p.Source })
	case ir.CellDeleted:
		return s.updateCell(ev, p.ID, func(c *Cell) { c.Deleted = true })
	case ir.CellMoved:
		return s.updateCell(ev, p.ID, func(c *Cell) { c.Position = p.NewPosition })
	case ir.ExecutionRequested:
		return s.applyExecutionRequested(ev, p)
	case ir.ExecutionAssigned:
		return s.applyExecutionAssigned(ev, p)
	case ir.ExecutionStarted:
		return s.transition(ev, p.EntryID, func(e queue.Entry) (queue.Entry, bool) {
			return e.Start(p.SessionID, ev.Seq)
		})
	case ir.ExecutionCompleted:
		out := s.transition(ev, p.EntryID, func(e queue.Entry) (queue.Entry, bool) {
			return e.Complete(p.SessionID, p.Outputs, ev.Seq)
		})
		if out.Applied {
			s.attachOutputs(s.Entries[p.EntryID], p.Outputs, ev.Seq)
		}
		return out
	case ir.ExecutionFailed:
		out := s.transition(ev, p.EntryID, func(e queue.Entry) (queue.Entry, bool) {
			return e.Fail(p.SessionID, p.Error, ev.Seq)
		})
		if out.Applied {
			s.attachOutputs(s.Entries[p.EntryID], []ir.Output{ErrorOutput(p.Error)}, ev.Seq)
		}
		return out
	case ir.KernelSessionStarted:
		return s.applySessionStarted(ev, p)
	case ir.KernelSessionHeartbeat:
		return s.applyHeartbeat(ev, p)
	default:
		return rejected(ev, "unhandled event %s", ev.Name)
	}
}

func (s *State) applyNotebookInitialized(ev ir.Event, p ir.NotebookInitialized) Outcome {
	if s.Notebook.Initialized {
		return rejected(ev, "notebook already initialized")
	}
	s.Notebook = Notebook{
		Title:       p.Title,
		Owner:       p.Owner,
		KernelType:  p.KernelType,
		Initialized: true,
	}
	return applied(ev)
}

func (s *State) applyCellCreated(ev ir.Event, p ir.CellCreated) Outcome {
	if _, exists := s.Cells[p.ID]; exists {
		return rejected(ev, "cell %s already exists", p.ID)
	}
	s.Cells[p.ID] = Cell{
		ID:         p.ID,
		Position:   p.Position,
		CellType:   p.CellType,
		Source:     p.Source,
		CreatedBy:  p.CreatedBy,
		CreatedSeq: ev.Seq,
	}
	return applied(ev)
}

func (s *State) updateCell(ev ir.Event, id string, mutate func(*Cell)) Outcome {
	c, ok := s.Cells[id]
	if !ok {
		return rejected(ev, "unknown cell %s", id)
	}
	if c.Deleted {
		return rejected(ev, "cell %s is deleted", id)
	}
	mutate(&c)
	s.Cells[id] = c
	return applied(ev)
}

func (s *State) applyExecutionRequested(ev ir.Event, p ir.ExecutionRequested) Outcome {
	if _, exists := s.Entries[p.EntryID]; exists {
		return rejected(ev, "entry %s already exists", p.EntryID)
	}
	c, ok := s.Cells[p.CellID]
	if !ok {
		return rejected(ev, "unknown cell %s", p.CellID)
	}
	if c.Deleted {
		return rejected(ev, "cell %s is deleted", p.CellID)
	}
	s.Entries[p.EntryID] = queue.Request(p.EntryID, p.CellID, p.RequestedBy, ev.Seq)
	c.LastEntryID = p.EntryID
	s.Cells[p.CellID] = c
	return applied(ev)
}

func (s *State) applyExecutionAssigned(ev ir.Event, p ir.ExecutionAssigned) Outcome {
	if _, ok := s.Sessions[p.SessionID]; !ok {
		return rejected(ev, "unknown session %s", p.SessionID)
	}
	return s.transition(ev, p.EntryID, func(e queue.Entry) (queue.Entry, bool) {
		return e.Assign(p.SessionID, ev.Seq)
	})
}

func (s *State) transition(ev ir.Event, entryID string, step func(queue.Entry) (queue.Entry, bool)) Outcome {
	e, ok := s.Entries[entryID]
	if !ok {
		return rejected(ev, "unknown entry %s", entryID)
	}
	next, ok := step(e)
	if !ok {
		return rejected(ev, "entry %s: %s not allowed from %s (assigned to %q)",
			entryID, ev.Name, e.Status, e.AssignedSession)
	}
	s.Entries[entryID] = next
	return applied(ev)
}

// attachOutputs records settled outputs on the cell unless the cell was
// tombstoned or a later execution already settled.
func (s *State) attachOutputs(e queue.Entry, outputs []ir.Output, seq int64) {
	c, ok := s.Cells[e.CellID]
	if !ok || c.Deleted || seq < c.OutputsSeq {
		return
	}
	c.Outputs = append([]ir.Output(nil), outputs...)
	c.OutputsSeq = seq
	s.Cells[e.CellID] = c
}

func (s *State) applySessionStarted(ev ir.Event, p ir.KernelSessionStarted) Outcome {
	if _, exists := s.Sessions[p.SessionID]; exists {
		return rejected(ev, "session %s already registered", p.SessionID)
	}
	s.Sessions[p.SessionID] = session.Register(p.SessionID, p.KernelType, time.UnixMilli(p.At), ev.Seq)
	return applied(ev)
}

// applyHeartbeat updates liveness. A heartbeat from an unregistered session
// registers it implicitly, so logs written by heartbeat-only kernels fold.
func (s *State) applyHeartbeat(ev ir.Event, p ir.KernelSessionHeartbeat) Outcome {
	status := session.Status(p.Status)
	if !status.Valid() {
		return rejected(ev, "unknown session status %q", p.Status)
	}
	at := time.UnixMilli(p.At)

	sess, ok := s.Sessions[p.SessionID]
	registered := false
	if !ok {
		sess = session.Register(p.SessionID, "", at, ev.Seq)
		registered = true
	}

	next, changed, becameReady := sess.Heartbeat(status, at)
	if !changed && !registered {
		return rejected(ev, "session %s: stale or backward heartbeat (%s)", p.SessionID, sess.Status)
	}
	if becameReady {
		for id, other := range s.Sessions {
			if other.Active {
				other.Active = false
				s.Sessions[id] = other
			}
		}
		next.Active = true
	}
	s.Sessions[p.SessionID] = next
	return applied(ev)
}

// ErrorOutput renders an execution error as a cell output record.
func ErrorOutput(e ir.ErrorInfo) ir.Output {
	text := e.Value
	if len(e.Traceback) > 0 {
		text = strings.Join(e.Traceback, "\n")
	}
	return ir.Output{OutputType: "error", Name: e.Name, Text: text}
}
