// Package session tracks kernel session liveness.
//
// A session is one kernel process lifetime. Status only moves forward
// (starting -> ready -> disconnected, or starting -> disconnected), and
// staleness is derived from the last heartbeat at read time, never stored.
package session

import (
	"sort"
	"time"
)

// Status is the reported state of a kernel session.
type Status string

const (
	StatusStarting     Status = "starting"
	StatusReady        Status = "ready"
	StatusDisconnected Status = "disconnected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusStarting, StatusReady, StatusDisconnected:
		return true
	}
	return false
}

func (s Status) rank() int {
	switch s {
	case StatusStarting:
		return 0
	case StatusReady:
		return 1
	case StatusDisconnected:
		return 2
	}
	return -1
}

const (
	// DefaultTimeout is how long a session stays eligible after its last
	// heartbeat.
	DefaultTimeout = 30 * time.Second

	// DefaultHeartbeatInterval is how often a kernel reports liveness.
	// It must stay below DefaultTimeout or a healthy kernel would flap.
	DefaultHeartbeatInterval = 10 * time.Second
)

// Session is one kernel process instance.
type Session struct {
	ID            string `json:"sessionId"`
	KernelType    string `json:"kernelType"`
	Status        Status `json:"status"`
	LastHeartbeat int64  `json:"lastHeartbeat"` // unix milliseconds
	Active        bool   `json:"active"`
	StartedSeq    int64  `json:"startedSeq"`
}

// Register creates a starting session.
func Register(sessionID, kernelType string, at time.Time, seq int64) Session {
	return Session{
		ID:            sessionID,
		KernelType:    kernelType,
		Status:        StatusStarting,
		LastHeartbeat: at.UnixMilli(),
		StartedSeq:    seq,
	}
}

// Heartbeat records liveness at time at and moves status forward to status.
// lastHeartbeat never regresses; a repeat at the same instant applies as a
// no-op. A status that would move backward is kept at its current value
// while the liveness part still applies.
//
// becameReady reports a starting -> ready transition, which supersedes
// every other session.
func (s Session) Heartbeat(status Status, at time.Time) (next Session, applied, becameReady bool) {
	if s.Status == StatusDisconnected || !status.Valid() {
		return s, false, false
	}
	ms := at.UnixMilli()
	if ms >= s.LastHeartbeat {
		s.LastHeartbeat = ms
		applied = true
	}
	if status.rank() > s.Status.rank() {
		becameReady = status == StatusReady
		s.Status = status
		if status == StatusDisconnected {
			s.Active = false
		}
		applied = true
	}
	return s, applied, becameReady
}

// IsEligible reports whether s may receive new assignments at now.
func IsEligible(s Session, now time.Time, timeout time.Duration) bool {
	if s.Status != StatusReady || !s.Active {
		return false
	}
	return now.Sub(time.UnixMilli(s.LastHeartbeat)) < timeout
}

// IsStale reports a session that claims to be live but missed its heartbeat
// window.
func IsStale(s Session, now time.Time, timeout time.Duration) bool {
	if s.Status == StatusDisconnected {
		return false
	}
	return now.Sub(time.UnixMilli(s.LastHeartbeat)) >= timeout
}

// IsAlive reports whether s can still finish the work it holds: it has not
// disconnected and its last heartbeat is inside the window. Unlike
// IsEligible it ignores Active, so superseded sessions stay alive.
func IsAlive(s Session, now time.Time, timeout time.Duration) bool {
	return s.Status != StatusDisconnected && !IsStale(s, now, timeout)
}

// Describe returns the status shown to users, with "stale" for sessions
// past their heartbeat window and "superseded" for replaced ready sessions.
func Describe(s Session, now time.Time, timeout time.Duration) string {
	switch {
	case IsStale(s, now, timeout):
		return "stale"
	case s.Status == StatusReady && !s.Active:
		return "superseded"
	default:
		return string(s.Status)
	}
}

// Target returns the single eligible session, if any. When more than one
// qualifies, which the supersede rule normally prevents, the most recently
// started wins.
func Target(sessions []Session, now time.Time, timeout time.Duration) (Session, bool) {
	var best Session
	found := false
	for _, s := range sessions {
		if !IsEligible(s, now, timeout) {
			continue
		}
		if !found || s.StartedSeq > best.StartedSeq {
			best = s
			found = true
		}
	}
	return best, found
}

// Sorted returns sessions ordered by StartedSeq, then id.
func Sorted(sessions map[string]Session) []Session {
	out := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedSeq != out[j].StartedSeq {
			return out[i].StartedSeq < out[j].StartedSeq
		}
		return out[i].ID < out[j].ID
	})
	return out
}
