package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/nbkernel/internal/ir"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEvent builds an event from a typed payload.
func createTestEvent(id string, p ir.Payload) ir.Event {
	return ir.Event{
		ID:      id,
		Name:    p.EventName(),
		Payload: p.Encode(),
		Origin:  "test",
	}
}
