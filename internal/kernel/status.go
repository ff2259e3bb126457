package kernel

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/nbkernel/internal/projection"
	"github.com/roach88/nbkernel/internal/queue"
	"github.com/roach88/nbkernel/internal/session"
)

// Info is the /info diagnostics document.
type Info struct {
	NotebookID    string         `json:"notebookId"`
	SessionID     string         `json:"sessionId"`
	KernelType    string         `json:"kernelType"`
	Status        string         `json:"status"`
	Eligible      bool           `json:"eligible"`
	Authenticated bool           `json:"authenticated"`
	LastSeq       int64          `json:"lastSeq"`
	UptimeSeconds int64          `json:"uptimeSeconds"`
	Queue         map[string]int `json:"queue"`
	Orphans       []string       `json:"orphans"`
	Sessions      []SessionInfo  `json:"sessions"`
}

// SessionInfo describes one known session.
type SessionInfo struct {
	SessionID     string `json:"sessionId"`
	KernelType    string `json:"kernelType"`
	Status        string `json:"status"`
	LastHeartbeat int64  `json:"lastHeartbeat"`
	Active        bool   `json:"active"`
}

// Handler serves the read-only status endpoints. Neither accepts work.
func (k *Kernel) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", k.handleHealth)
	mux.HandleFunc("GET /info", k.handleInfo)
	return mux
}

// handleHealth is a liveness probe. It fails when the event log cannot be
// read.
func (k *Kernel) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := k.store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInfo reports session, queue and log diagnostics.
func (k *Kernel) handleInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, k.Info())
}

// Info builds the diagnostics document.
func (k *Kernel) Info() Info {
	now := k.clock.Now()
	timeout := k.cfg.HeartbeatTimeout

	info := Info{
		NotebookID:    k.cfg.NotebookID,
		SessionID:     k.sessionID,
		KernelType:    k.cfg.KernelType,
		Status:        "unregistered",
		Authenticated: k.cfg.AuthToken != "",
		UptimeSeconds: int64(now.Sub(k.startedAt) / time.Second),
		Queue:         map[string]int{},
		Orphans:       []string{},
		Sessions:      []SessionInfo{},
	}

	k.engine.View(func(s *projection.State) {
		info.LastSeq = s.LastSeq
		if me, ok := s.Session(k.sessionID); ok {
			info.Status = session.Describe(me, now, timeout)
			info.Eligible = session.IsEligible(me, now, timeout)
		}
		for status, n := range queue.Counts(s.QueueOrder()) {
			info.Queue[string(status)] = n
		}
		for _, e := range s.Orphans(now, timeout) {
			info.Orphans = append(info.Orphans, e.ID)
		}
		for _, sess := range s.SessionList() {
			info.Sessions = append(info.Sessions, SessionInfo{
				SessionID:     sess.ID,
				KernelType:    sess.KernelType,
				Status:        session.Describe(sess, now, timeout),
				LastHeartbeat: sess.LastHeartbeat,
				Active:        sess.Active,
			})
		}
	})
	return info
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write status response", "error", err)
	}
}
