package projection

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/roach88/nbkernel/internal/queue"
	"github.com/roach88/nbkernel/internal/session"
)

// Target returns the session currently eligible for assignment.
func (s *State) Target(now time.Time, timeout time.Duration) (session.Session, bool) {
	return session.Target(s.SessionList(), now, timeout)
}

// NextAssignable returns the entry sessionID should claim next, if any.
// The session must be the eligible target and must not already own an
// assigned or executing entry. Entries whose cell is deleted are skipped.
func (s *State) NextAssignable(sessionID string, now time.Time, timeout time.Duration) (queue.Entry, bool) {
	target, ok := s.Target(now, timeout)
	if !ok || target.ID != sessionID {
		return queue.Entry{}, false
	}
	entries := s.QueueOrder()
	if queue.HasInFlight(entries, sessionID) {
		return queue.Entry{}, false
	}
	return queue.OldestPending(entries, func(e queue.Entry) bool {
		return s.CellDeleted(e.CellID)
	})
}

// AssignedTo returns entries assigned to sessionID and not yet started,
// in assignment (log) order.
func (s *State) AssignedTo(sessionID string) []queue.Entry {
	var out []queue.Entry
	for _, e := range s.Entries {
		if e.AssignedSession == sessionID && e.Status == queue.StatusAssigned {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssignedSeq != out[j].AssignedSeq {
			return out[i].AssignedSeq < out[j].AssignedSeq
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Orphans returns in-flight entries whose owning session is gone: unknown,
// disconnected, or past its heartbeat window. A superseded session that
// still heartbeats finishes its own work, so its entries are not orphans.
// They are reported only; recovery is a manual re-request.
func (s *State) Orphans(now time.Time, timeout time.Duration) []queue.Entry {
	var out []queue.Entry
	for _, e := range s.QueueOrder() {
		if !e.Status.InFlight() {
			continue
		}
		if sess, ok := s.Sessions[e.AssignedSession]; ok && session.IsAlive(sess, now, timeout) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// snapshot is the serialized form of State. Maps become sorted slices so
// the encoding is stable.
type snapshot struct {
	LastSeq  int64             `json:"lastSeq"`
	Notebook Notebook          `json:"notebook"`
	Cells    []Cell            `json:"cells"`
	Sessions []session.Session `json:"kernelSessions"`
	Queue    []queue.Entry     `json:"executionQueue"`
}

// Snapshot returns a deterministic JSON encoding of the state. Tombstoned
// cells are included, ordered after live ones by id.
func (s *State) Snapshot() ([]byte, error) {
	cells := s.OrderedCells()
	var deleted []Cell
	for _, c := range s.Cells {
		if c.Deleted {
			deleted = append(deleted, c)
		}
	}
	sort.Slice(deleted, func(i, j int) bool { return deleted[i].ID < deleted[j].ID })
	cells = append(cells, deleted...)

	return json.MarshalIndent(snapshot{
		LastSeq:  s.LastSeq,
		Notebook: s.Notebook,
		Cells:    cells,
		Sessions: s.SessionList(),
		Queue:    s.QueueOrder(),
	}, "", "  ")
}
