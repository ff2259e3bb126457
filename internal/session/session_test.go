package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.UnixMilli(1_700_000_000_000)

func readySession(t *testing.T, id string, at time.Time) Session {
	t.Helper()
	s := Register(id, "python", at, 1)
	s, applied, becameReady := s.Heartbeat(StatusReady, at)
	require.True(t, applied)
	require.True(t, becameReady)
	s.Active = true
	return s
}

func TestRegister(t *testing.T) {
	s := Register("s1", "python", t0, 4)
	assert.Equal(t, StatusStarting, s.Status)
	assert.Equal(t, t0.UnixMilli(), s.LastHeartbeat)
	assert.False(t, s.Active)
	assert.Equal(t, int64(4), s.StartedSeq)
}

func TestHeartbeat_MonotonicLastHeartbeat(t *testing.T) {
	s := readySession(t, "s1", t0)

	later, applied, _ := s.Heartbeat(StatusReady, t0.Add(10*time.Second))
	require.True(t, applied)
	assert.Equal(t, t0.Add(10*time.Second).UnixMilli(), later.LastHeartbeat)

	older, applied, _ := later.Heartbeat(StatusReady, t0.Add(5*time.Second))
	assert.False(t, applied)
	assert.Equal(t, later.LastHeartbeat, older.LastHeartbeat)
}

func TestHeartbeat_RepeatAtSameInstant(t *testing.T) {
	s := readySession(t, "s1", t0)

	again, applied, becameReady := s.Heartbeat(StatusReady, t0)
	assert.True(t, applied, "a coarse clock can repeat a timestamp")
	assert.False(t, becameReady)
	assert.Equal(t, s, again)
}

func TestHeartbeat_StatusForwardOnly(t *testing.T) {
	s := readySession(t, "s1", t0)

	back, _, becameReady := s.Heartbeat(StatusStarting, t0.Add(time.Second))
	assert.Equal(t, StatusReady, back.Status)
	assert.False(t, becameReady)

	gone, applied, _ := back.Heartbeat(StatusDisconnected, t0.Add(2*time.Second))
	require.True(t, applied)
	assert.Equal(t, StatusDisconnected, gone.Status)
	assert.False(t, gone.Active)

	revived, applied, _ := gone.Heartbeat(StatusReady, t0.Add(3*time.Second))
	assert.False(t, applied, "disconnected is terminal")
	assert.Equal(t, gone, revived)
}

func TestHeartbeat_StartingToDisconnected(t *testing.T) {
	s := Register("s1", "python", t0, 1)
	s, applied, becameReady := s.Heartbeat(StatusDisconnected, t0)
	assert.True(t, applied)
	assert.False(t, becameReady)
	assert.Equal(t, StatusDisconnected, s.Status)
}

func TestHeartbeat_UnknownStatus(t *testing.T) {
	s := Register("s1", "python", t0, 1)
	_, applied, _ := s.Heartbeat(Status("zombie"), t0.Add(time.Second))
	assert.False(t, applied)
}

func TestIsEligible(t *testing.T) {
	s := readySession(t, "s1", t0)

	assert.True(t, IsEligible(s, t0.Add(29*time.Second), DefaultTimeout))
	assert.False(t, IsEligible(s, t0.Add(30*time.Second), DefaultTimeout), "exactly at timeout is stale")

	inactive := s
	inactive.Active = false
	assert.False(t, IsEligible(inactive, t0, DefaultTimeout))

	starting := Register("s2", "python", t0, 2)
	starting.Active = true
	assert.False(t, IsEligible(starting, t0, DefaultTimeout))
}

func TestTarget_SkipsStaleReadySession(t *testing.T) {
	stale := readySession(t, "s1", t0)
	now := t0.Add(45 * time.Second)

	_, ok := Target([]Session{stale}, now, DefaultTimeout)
	assert.False(t, ok, "status is still ready but the heartbeat is too old")
	assert.True(t, IsStale(stale, now, DefaultTimeout))
	assert.Equal(t, "stale", Describe(stale, now, DefaultTimeout))

	fresh := readySession(t, "s2", now)
	fresh.StartedSeq = 9
	got, ok := Target([]Session{stale, fresh}, now, DefaultTimeout)
	require.True(t, ok)
	assert.Equal(t, "s2", got.ID)
}

func TestDescribe(t *testing.T) {
	s := readySession(t, "s1", t0)
	assert.Equal(t, "ready", Describe(s, t0, DefaultTimeout))

	s.Active = false
	assert.Equal(t, "superseded", Describe(s, t0, DefaultTimeout))

	gone, _, _ := s.Heartbeat(StatusDisconnected, t0.Add(time.Hour))
	assert.Equal(t, "disconnected", Describe(gone, t0.Add(2*time.Hour), DefaultTimeout))
}

func TestIsAlive(t *testing.T) {
	s := readySession(t, "s1", t0)
	s.Active = false
	now := t0.Add(10 * time.Second)
	assert.True(t, IsAlive(s, now, DefaultTimeout), "superseded but heartbeating")
	assert.False(t, IsEligible(s, now, DefaultTimeout))

	assert.False(t, IsAlive(s, t0.Add(DefaultTimeout), DefaultTimeout))

	gone, _, _ := s.Heartbeat(StatusDisconnected, now)
	assert.False(t, IsAlive(gone, now, DefaultTimeout))
}

func TestSorted(t *testing.T) {
	got := Sorted(map[string]Session{
		"b": {ID: "b", StartedSeq: 3},
		"a": {ID: "a", StartedSeq: 3},
		"c": {ID: "c", StartedSeq: 1},
	})
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{got[0].ID, got[1].ID, got[2].ID})
}
