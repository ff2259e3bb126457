package queue

import (
	"github.com/roach88/nbkernel/internal/ir"
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InFlight reports whether the entry is owned by a session but not settled.
func (s Status) InFlight() bool {
	return s == StatusAssigned || s == StatusExecuting
}

// Entry is one execution attempt for one cell.
//
// AssignedSession is empty until assignment and is written at most once.
// The *Seq fields record the log position of each transition; zero means
// the transition has not happened.
type Entry struct {
	ID              string        `json:"id"`
	CellID          string        `json:"cellId"`
	RequestedBy     string        `json:"requestedBy"`
	AssignedSession string        `json:"assignedSession,omitempty"`
	Status          Status        `json:"status"`
	RequestedSeq    int64         `json:"requestedSeq"`
	AssignedSeq     int64         `json:"assignedSeq,omitempty"`
	StartedSeq      int64         `json:"startedSeq,omitempty"`
	SettledSeq      int64         `json:"settledSeq,omitempty"`
	Outputs         []ir.Output   `json:"outputs,omitempty"`
	Error           *ir.ErrorInfo `json:"error,omitempty"`
}

// transitions is the forward-only table. Anything not listed is rejected.
var transitions = map[Status][]Status{
	StatusPending:   {StatusAssigned},
	StatusAssigned:  {StatusExecuting},
	StatusExecuting: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is a legal single step.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Request creates a pending entry at log position seq.
func Request(entryID, cellID, requester string, seq int64) Entry {
	return Entry{
		ID:           entryID,
		CellID:       cellID,
		RequestedBy:  requester,
		Status:       StatusPending,
		RequestedSeq: seq,
	}
}

// Assign binds a pending entry to sessionID. Any other state is ignored,
// which makes the first assignment in log order the only one that counts.
func (e Entry) Assign(sessionID string, seq int64) (Entry, bool) {
	if sessionID == "" || !CanTransition(e.Status, StatusAssigned) || e.AssignedSession != "" {
		return e, false
	}
	e.Status = StatusAssigned
	e.AssignedSession = sessionID
	e.AssignedSeq = seq
	return e, true
}

// Start moves an assigned entry to executing. The issuing session must be
// the assigned one.
func (e Entry) Start(sessionID string, seq int64) (Entry, bool) {
	if !CanTransition(e.Status, StatusExecuting) || sessionID != e.AssignedSession {
		return e, false
	}
	e.Status = StatusExecuting
	e.StartedSeq = seq
	return e, true
}

// Complete settles an executing entry with its outputs.
func (e Entry) Complete(sessionID string, outputs []ir.Output, seq int64) (Entry, bool) {
	if !CanTransition(e.Status, StatusCompleted) || sessionID != e.AssignedSession {
		return e, false
	}
	e.Status = StatusCompleted
	e.SettledSeq = seq
	e.Outputs = append([]ir.Output(nil), outputs...)
	return e, true
}

// Fail settles an executing entry with a structured error.
func (e Entry) Fail(sessionID string, execErr ir.ErrorInfo, seq int64) (Entry, bool) {
	if !CanTransition(e.Status, StatusFailed) || sessionID != e.AssignedSession {
		return e, false
	}
	e.Status = StatusFailed
	e.SettledSeq = seq
	errCopy := execErr
	errCopy.Traceback = append([]string(nil), execErr.Traceback...)
	e.Error = &errCopy
	return e, true
}

// Clone returns a deep copy so callers can hold an entry across folds.
func (e Entry) Clone() Entry {
	c := e
	c.Outputs = append([]ir.Output(nil), e.Outputs...)
	if e.Error != nil {
		errCopy := *e.Error
		errCopy.Traceback = append([]string(nil), e.Error.Traceback...)
		c.Error = &errCopy
	}
	return c
}
