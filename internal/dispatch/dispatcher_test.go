package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nbkernel/internal/engine"
	"github.com/roach88/nbkernel/internal/executor"
	"github.com/roach88/nbkernel/internal/ir"
	"github.com/roach88/nbkernel/internal/queue"
	"github.com/roach88/nbkernel/internal/store"
)

type fakeExec struct {
	mu        sync.Mutex
	calls     []string
	fn        func(req executor.Request) ([]ir.Output, error)
	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakeExec) Execute(_ context.Context, req executor.Request) ([]ir.Output, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, req.EntryID)
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return []ir.Output{{OutputType: "execute_result", Text: "4"}}, nil
}

func (f *fakeExec) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return engine.New(s, engine.NewSequenceGenerator("ev-"))
}

func emit(t *testing.T, eng *engine.Engine, p ir.Payload) {
	t.Helper()
	_, out, err := eng.Emit(context.Background(), p, "test")
	require.NoError(t, err)
	require.True(t, out.Applied, "%s rejected: %s", p.EventName(), out.Reason)
}

func setup(t *testing.T, eng *engine.Engine, sessionID string, cells ...string) {
	t.Helper()
	now := time.Now().UnixMilli()
	emit(t, eng, ir.KernelSessionStarted{SessionID: sessionID, KernelType: "python", At: now})
	emit(t, eng, ir.KernelSessionHeartbeat{SessionID: sessionID, Status: "ready", At: now})
	for i, id := range cells {
		emit(t, eng, ir.CellCreated{ID: id, Position: int64(i), CellType: ir.CellCode, Source: "2+2"})
	}
}

func requestAndAssign(t *testing.T, eng *engine.Engine, entryID, cellID, sessionID string) {
	t.Helper()
	emit(t, eng, ir.ExecutionRequested{EntryID: entryID, CellID: cellID, RequestedBy: "alice"})
	emit(t, eng, ir.ExecutionAssigned{EntryID: entryID, SessionID: sessionID})
}

func startDispatcher(t *testing.T, d *Dispatcher) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("dispatcher did not stop")
		}
	}
}

func waitForStatus(t *testing.T, eng *engine.Engine, entryID string, want queue.Status) queue.Entry {
	t.Helper()
	var got queue.Entry
	require.Eventually(t, func() bool {
		e, ok := eng.State().Entry(entryID)
		got = e
		return ok && e.Status == want
	}, 5*time.Second, 5*time.Millisecond, "entry %s never reached %s (last %s)", entryID, want, got.Status)
	return got
}

func TestDispatcher_ExecutesAssignedEntry(t *testing.T) {
	eng := newEngine(t)
	setup(t, eng, "s1", "c1")
	exec := &fakeExec{}

	stop := startDispatcher(t, New(eng, "s1", exec))
	defer stop()

	requestAndAssign(t, eng, "e1", "c1", "s1")

	e := waitForStatus(t, eng, "e1", queue.StatusCompleted)
	assert.Equal(t, "s1", e.AssignedSession)
	require.Len(t, e.Outputs, 1)
	assert.Equal(t, "4", e.Outputs[0].Text)

	c, _ := eng.State().Cell("c1")
	require.Len(t, c.Outputs, 1)
	assert.Equal(t, "4", c.Outputs[0].Text)

	ev, err := eng.Store().ReadSince(context.Background(), 0, 0)
	require.NoError(t, err)
	last := ev[len(ev)-1]
	assert.Equal(t, ir.EventExecutionCompleted, last.Name)
	assert.Equal(t, "kernel:s1", last.Origin)
}

func TestDispatcher_PicksUpWorkPresentAtStartup(t *testing.T) {
	eng := newEngine(t)
	setup(t, eng, "s1", "c1")
	requestAndAssign(t, eng, "e1", "c1", "s1")

	stop := startDispatcher(t, New(eng, "s1", &fakeExec{}))
	defer stop()

	waitForStatus(t, eng, "e1", queue.StatusCompleted)
}

func TestDispatcher_SequentialInLogOrder(t *testing.T) {
	eng := newEngine(t)
	setup(t, eng, "s1", "c1", "c2", "c3")
	exec := &fakeExec{fn: func(executor.Request) ([]ir.Output, error) {
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	}}

	requestAndAssign(t, eng, "e1", "c3", "s1")
	requestAndAssign(t, eng, "e2", "c1", "s1")
	requestAndAssign(t, eng, "e3", "c2", "s1")

	stop := startDispatcher(t, New(eng, "s1", exec))
	defer stop()

	waitForStatus(t, eng, "e3", queue.StatusCompleted)
	assert.Equal(t, []string{"e1", "e2", "e3"}, exec.Calls())
	assert.Equal(t, int32(1), exec.maxActive.Load(), "no two cells run concurrently")
}

func TestDispatcher_ErrorBecomesFailed(t *testing.T) {
	eng := newEngine(t)
	setup(t, eng, "s1", "c1")
	exec := &fakeExec{fn: func(executor.Request) ([]ir.Output, error) {
		return nil, &executor.ExecError{Name: "ZeroDivisionError", Value: "division by zero"}
	}}

	stop := startDispatcher(t, New(eng, "s1", exec))
	defer stop()

	requestAndAssign(t, eng, "e1", "c1", "s1")
	e := waitForStatus(t, eng, "e1", queue.StatusFailed)
	require.NotNil(t, e.Error)
	assert.Equal(t, "ZeroDivisionError", e.Error.Name)
	assert.Equal(t, "division by zero", e.Error.Value)
}

func TestDispatcher_SurvivesPanicAndPlainErrors(t *testing.T) {
	eng := newEngine(t)
	setup(t, eng, "s1", "c1", "c2", "c3")
	exec := &fakeExec{fn: func(req executor.Request) ([]ir.Output, error) {
		switch req.EntryID {
		case "e1":
			panic("runtime exploded")
		case "e2":
			return nil, errors.New("plain failure")
		}
		return []ir.Output{{OutputType: "stream", Name: "stdout", Text: "ok"}}, nil
	}}

	stop := startDispatcher(t, New(eng, "s1", exec))
	defer stop()

	requestAndAssign(t, eng, "e1", "c1", "s1")
	requestAndAssign(t, eng, "e2", "c2", "s1")
	requestAndAssign(t, eng, "e3", "c3", "s1")

	e1 := waitForStatus(t, eng, "e1", queue.StatusFailed)
	assert.Equal(t, executor.ErrNamePanic, e1.Error.Name)
	assert.Equal(t, "runtime exploded", e1.Error.Value)
	assert.NotEmpty(t, e1.Error.Traceback)

	e2 := waitForStatus(t, eng, "e2", queue.StatusFailed)
	assert.Equal(t, executor.ErrNameExecution, e2.Error.Name)

	waitForStatus(t, eng, "e3", queue.StatusCompleted)
}

func TestDispatcher_CellDeletedBeforeStart(t *testing.T) {
	eng := newEngine(t)
	setup(t, eng, "s1", "c1")
	requestAndAssign(t, eng, "e1", "c1", "s1")
	emit(t, eng, ir.CellDeleted{ID: "c1"})

	exec := &fakeExec{}
	stop := startDispatcher(t, New(eng, "s1", exec))
	defer stop()

	e := waitForStatus(t, eng, "e1", queue.StatusFailed)
	assert.Equal(t, executor.ErrNameCellDeleted, e.Error.Name)
	assert.Empty(t, exec.Calls())
}

func TestDispatcher_IgnoresOtherSessions(t *testing.T) {
	eng := newEngine(t)
	setup(t, eng, "s1", "c1")
	emit(t, eng, ir.KernelSessionStarted{SessionID: "s2", KernelType: "python", At: time.Now().UnixMilli()})
	requestAndAssign(t, eng, "e1", "c1", "s2")

	exec := &fakeExec{}
	stop := startDispatcher(t, New(eng, "s1", exec))

	// Give the loop a chance to (wrongly) act.
	time.Sleep(50 * time.Millisecond)
	stop()

	assert.Empty(t, exec.Calls())
	e, _ := eng.State().Entry("e1")
	assert.Equal(t, queue.StatusAssigned, e.Status)
}

func TestSchedule_DefersExecution(t *testing.T) {
	eng := newEngine(t)
	exec := &fakeExec{}
	d := New(eng, "s1", exec)

	batch := []queue.Entry{{ID: "e1"}, {ID: "e2"}}
	d.schedule(batch)
	d.schedule(batch)

	assert.Empty(t, exec.Calls(), "delivery never executes inline")
	require.Len(t, d.runq, 2, "re-delivered entries are not queued twice")
	assert.Equal(t, "e1", d.runq[0].ID)
}

func TestDispatcher_StopsOnCancel(t *testing.T) {
	eng := newEngine(t)
	d := New(eng, "s1", &fakeExec{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, d.Run(ctx))
}
