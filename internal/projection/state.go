package projection

import (
	"sort"

	"github.com/roach88/nbkernel/internal/ir"
	"github.com/roach88/nbkernel/internal/queue"
	"github.com/roach88/nbkernel/internal/session"
)

// Notebook is the singleton notebook record.
type Notebook struct {
	Title       string `json:"title"`
	Owner       string `json:"owner"`
	KernelType  string `json:"kernelType"`
	Initialized bool   `json:"initialized"`
}

// Cell is one notebook cell, including tombstoned ones.
type Cell struct {
	ID          string      `json:"id"`
	Position    int64       `json:"position"`
	CellType    ir.CellType `json:"cellType"`
	Source      string      `json:"source"`
	CreatedBy   string      `json:"createdBy"`
	Deleted     bool        `json:"deleted"`
	CreatedSeq  int64       `json:"createdSeq"`
	LastEntryID string      `json:"lastEntryId,omitempty"`
	Outputs     []ir.Output `json:"outputs,omitempty"`
	// OutputsSeq is the settle position of the execution that produced
	// Outputs.
	OutputsSeq int64 `json:"outputsSeq,omitempty"`
}

// State is the folded view of one notebook's log.
type State struct {
	Notebook Notebook
	Cells    map[string]Cell
	Sessions map[string]session.Session
	Entries  map[string]queue.Entry
	LastSeq  int64
}

// New returns an empty state.
func New() *State {
	return &State{
		Cells:    make(map[string]Cell),
		Sessions: make(map[string]session.Session),
		Entries:  make(map[string]queue.Entry),
	}
}

// Replay folds events into a fresh state.
func Replay(events []ir.Event) (*State, []Outcome) {
	s := New()
	outcomes := make([]Outcome, 0, len(events))
	for _, ev := range events {
		outcomes = append(outcomes, s.Apply(ev))
	}
	return s, outcomes
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := &State{
		Notebook: s.Notebook,
		Cells:    make(map[string]Cell, len(s.Cells)),
		Sessions: make(map[string]session.Session, len(s.Sessions)),
		Entries:  make(map[string]queue.Entry, len(s.Entries)),
		LastSeq:  s.LastSeq,
	}
	for id, cell := range s.Cells {
		cell.Outputs = append([]ir.Output(nil), cell.Outputs...)
		c.Cells[id] = cell
	}
	for id, sess := range s.Sessions {
		c.Sessions[id] = sess
	}
	for id, e := range s.Entries {
		c.Entries[id] = e.Clone()
	}
	return c
}

// Cell returns a cell by id, including tombstoned cells.
func (s *State) Cell(id string) (Cell, bool) {
	c, ok := s.Cells[id]
	return c, ok
}

// Entry returns a queue entry by id.
func (s *State) Entry(id string) (queue.Entry, bool) {
	e, ok := s.Entries[id]
	if !ok {
		return queue.Entry{}, false
	}
	return e.Clone(), true
}

// Session returns a kernel session by id.
func (s *State) Session(id string) (session.Session, bool) {
	sess, ok := s.Sessions[id]
	return sess, ok
}

// CellDeleted reports whether the cell is missing or tombstoned.
func (s *State) CellDeleted(id string) bool {
	c, ok := s.Cells[id]
	return !ok || c.Deleted
}

// OrderedCells returns live cells ordered by position, then id.
func (s *State) OrderedCells() []Cell {
	out := make([]Cell, 0, len(s.Cells))
	for _, c := range s.Cells {
		if c.Deleted {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// QueueOrder returns every entry in request order.
func (s *State) QueueOrder() []queue.Entry {
	out := make([]queue.Entry, 0, len(s.Entries))
	for _, e := range s.Entries {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return queue.Less(out[i], out[j]) })
	return out
}

// SessionList returns sessions ordered by start position.
func (s *State) SessionList() []session.Session {
	return session.Sorted(s.Sessions)
}
