package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOldestPending_LogOrder(t *testing.T) {
	e1 := Request("e1", "c1", "alice", 5)
	e2 := Request("e2", "c2", "alice", 7)
	done := Request("e0", "c1", "alice", 1)
	done, _ = done.Assign("s1", 2)

	got, ok := OldestPending([]Entry{e2, done, e1}, nil)
	require.True(t, ok)
	assert.Equal(t, "e1", got.ID)
}

func TestOldestPending_TieBreakByID(t *testing.T) {
	a := Request("b", "c1", "alice", 3)
	b := Request("a", "c1", "alice", 3)

	got, ok := OldestPending([]Entry{a, b}, nil)
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)
}

func TestOldestPending_Skip(t *testing.T) {
	e1 := Request("e1", "deleted", "alice", 1)
	e2 := Request("e2", "c2", "alice", 2)

	got, ok := OldestPending([]Entry{e1, e2}, func(e Entry) bool { return e.CellID == "deleted" })
	require.True(t, ok)
	assert.Equal(t, "e2", got.ID)
}

func TestOldestPending_None(t *testing.T) {
	_, ok := OldestPending(nil, nil)
	assert.False(t, ok)
}

func TestHasInFlight(t *testing.T) {
	e := Request("e1", "c1", "alice", 1)
	assert.False(t, HasInFlight([]Entry{e}, "s1"))

	e, _ = e.Assign("s1", 2)
	assert.True(t, HasInFlight([]Entry{e}, "s1"))
	assert.False(t, HasInFlight([]Entry{e}, "s2"))

	e, _ = e.Start("s1", 3)
	assert.True(t, HasInFlight([]Entry{e}, "s1"))

	e, _ = e.Complete("s1", nil, 4)
	assert.False(t, HasInFlight([]Entry{e}, "s1"))
}

func TestCounts(t *testing.T) {
	e1 := Request("e1", "c1", "alice", 1)
	e2, _ := Request("e2", "c1", "alice", 2).Assign("s1", 3)

	counts := Counts([]Entry{e1, e2})
	assert.Equal(t, 1, counts[StatusPending])
	assert.Equal(t, 1, counts[StatusAssigned])
	assert.Equal(t, 0, counts[StatusFailed])
}
