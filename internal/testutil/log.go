package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/nbkernel/internal/engine"
	"github.com/roach88/nbkernel/internal/ir"
	"github.com/roach88/nbkernel/internal/store"
)

// OpenStore opens a file-backed event log in a temp directory, closed when
// the test ends.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// NewEngine returns an engine over a fresh log with sequential event ids
// ("ev-1", "ev-2", ...).
func NewEngine(t testing.TB) *engine.Engine {
	t.Helper()
	return engine.New(OpenStore(t), engine.NewSequenceGenerator("ev-"))
}

// Emit appends p and fails the test unless it was applied.
func Emit(t testing.TB, eng *engine.Engine, origin string, p ir.Payload) ir.Event {
	t.Helper()
	ev, out, err := eng.Emit(context.Background(), p, origin)
	if err != nil {
		t.Fatalf("emit %s: %v", p.EventName(), err)
	}
	if !out.Applied {
		t.Fatalf("emit %s: rejected: %s", p.EventName(), out.Reason)
	}
	return ev
}
