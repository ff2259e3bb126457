package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nbkernel/internal/ir"
)

func TestLifecycle_HappyPath(t *testing.T) {
	e := Request("e1", "c1", "alice", 2)
	assert.Equal(t, StatusPending, e.Status)
	assert.Empty(t, e.AssignedSession)

	e, ok := e.Assign("s1", 3)
	require.True(t, ok)
	assert.Equal(t, StatusAssigned, e.Status)
	assert.Equal(t, "s1", e.AssignedSession)
	assert.Equal(t, int64(3), e.AssignedSeq)

	e, ok = e.Start("s1", 4)
	require.True(t, ok)
	assert.Equal(t, StatusExecuting, e.Status)

	e, ok = e.Complete("s1", []ir.Output{{OutputType: "execute_result", Text: "4"}}, 5)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, e.Status)
	assert.Equal(t, int64(5), e.SettledSeq)
	require.Len(t, e.Outputs, 1)
	assert.Equal(t, "4", e.Outputs[0].Text)
}

func TestAssign_FirstWins(t *testing.T) {
	e := Request("e1", "c1", "alice", 1)

	e, ok := e.Assign("s1", 2)
	require.True(t, ok)

	again, ok := e.Assign("s2", 3)
	assert.False(t, ok)
	assert.Equal(t, e, again)
	assert.Equal(t, "s1", again.AssignedSession)

	// Replaying the same assignment is also ignored.
	_, ok = e.Assign("s1", 2)
	assert.False(t, ok)
}

func TestAssign_RejectsEmptySession(t *testing.T) {
	e := Request("e1", "c1", "alice", 1)
	_, ok := e.Assign("", 2)
	assert.False(t, ok)
}

func TestStart_SessionMismatchIgnored(t *testing.T) {
	e := Request("e1", "c1", "alice", 1)
	e, _ = e.Assign("s1", 2)

	next, ok := e.Start("s2", 3)
	assert.False(t, ok)
	assert.Equal(t, StatusAssigned, next.Status)
}

func TestSettle_RequiresExecuting(t *testing.T) {
	e := Request("e1", "c1", "alice", 1)

	_, ok := e.Complete("s1", nil, 2)
	assert.False(t, ok, "complete from pending must be ignored")

	e, _ = e.Assign("s1", 2)
	_, ok = e.Fail("s1", ir.ErrorInfo{Name: "Boom"}, 3)
	assert.False(t, ok, "fail from assigned must be ignored")

	e, _ = e.Start("s1", 3)
	_, ok = e.Complete("s2", nil, 4)
	assert.False(t, ok, "complete from another session must be ignored")

	failed, ok := e.Fail("s1", ir.ErrorInfo{Name: "ZeroDivisionError", Value: "division by zero"}, 4)
	require.True(t, ok)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "ZeroDivisionError", failed.Error.Name)

	_, ok = failed.Complete("s1", nil, 5)
	assert.False(t, ok, "terminal entries never move")
}

func TestCanTransition_ForwardOnly(t *testing.T) {
	all := []Status{StatusPending, StatusAssigned, StatusExecuting, StatusCompleted, StatusFailed}
	allowed := map[[2]Status]bool{
		{StatusPending, StatusAssigned}:    true,
		{StatusAssigned, StatusExecuting}:  true,
		{StatusExecuting, StatusCompleted}: true,
		{StatusExecuting, StatusFailed}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

// Any sequence of transition attempts leaves the status on a forward path.
func TestTransitions_NeverMoveBackward(t *testing.T) {
	rank := map[Status]int{
		StatusPending: 0, StatusAssigned: 1, StatusExecuting: 2, StatusCompleted: 3, StatusFailed: 3,
	}
	ops := []func(Entry, int64) (Entry, bool){
		func(e Entry, seq int64) (Entry, bool) { return e.Assign("s1", seq) },
		func(e Entry, seq int64) (Entry, bool) { return e.Assign("s2", seq) },
		func(e Entry, seq int64) (Entry, bool) { return e.Start("s1", seq) },
		func(e Entry, seq int64) (Entry, bool) { return e.Start("s2", seq) },
		func(e Entry, seq int64) (Entry, bool) { return e.Complete("s1", nil, seq) },
		func(e Entry, seq int64) (Entry, bool) { return e.Fail("s1", ir.ErrorInfo{Name: "X"}, seq) },
	}

	// Deterministic pseudo-random walk over operation orderings.
	for start := 0; start < len(ops); start++ {
		e := Request("e1", "c1", "alice", 1)
		seq := int64(1)
		for step := 0; step < 24; step++ {
			op := ops[(start+step*5)%len(ops)]
			seq++
			next, ok := op(e, seq)
			assert.GreaterOrEqual(t, rank[next.Status], rank[e.Status])
			if ok {
				assert.True(t, CanTransition(e.Status, next.Status))
			} else {
				assert.Equal(t, e, next)
			}
			e = next
		}
	}
}

func TestClone_IsIndependent(t *testing.T) {
	e := Request("e1", "c1", "alice", 1)
	e, _ = e.Assign("s1", 2)
	e, _ = e.Start("s1", 3)
	e, _ = e.Fail("s1", ir.ErrorInfo{Name: "X", Traceback: []string{"line 1"}}, 4)

	c := e.Clone()
	c.Error.Traceback[0] = "changed"
	assert.Equal(t, "line 1", e.Error.Traceback[0])
}
