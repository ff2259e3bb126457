package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	paths, scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for i, sc := range scenarios {
		t.Run(sc.Name, func(t *testing.T) {
			result, err := Run(context.Background(), sc)
			require.NoError(t, err, paths[i])
			assert.True(t, result.Pass, "scenario failed:\n%s", strings.Join(result.Errors, "\n"))
			assert.Len(t, result.Steps, len(sc.Steps))
		})
	}
}

func TestGoldenSnapshots(t *testing.T) {
	for _, name := range []string{"happy_path", "deleted_while_executing"} {
		t.Run(name, func(t *testing.T) {
			sc, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
			require.NoError(t, err)
			result := RunWithGolden(t, sc)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/orphan_after_replacement.yaml")
	require.NoError(t, err)

	first, err := Run(context.Background(), sc)
	require.NoError(t, err)
	second, err := Run(context.Background(), sc)
	require.NoError(t, err)

	a, err := Golden(sc, first)
	require.NoError(t, err)
	b, err := Golden(sc, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

const minimal = `
name: minimal
description: "one cell"
steps:
  - event: cellCreated
    payload: { id: c1, position: 0, cellType: code }
assertions:
  - type: cell_order
    ids: [c1]
`

func TestParseScenario_Minimal(t *testing.T) {
	sc, err := ParseScenario([]byte(minimal))
	require.NoError(t, err)
	assert.Equal(t, "minimal", sc.Name)
	require.Len(t, sc.Steps, 1)
	assert.Equal(t, "c1", sc.Steps[0].Payload["id"])
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown event",
			yaml: strings.Replace(minimal, "event: cellCreated", "event: cellExploded", 1),
		},
		{
			name: "misspelt key",
			yaml: strings.Replace(minimal, "assertions:", "asertions:", 1),
		},
		{
			name: "bad duration",
			yaml: strings.Replace(minimal, "steps:", "now: soon\nsteps:", 1),
		},
		{
			name: "unknown assertion type",
			yaml: strings.Replace(minimal, "type: cell_order", "type: vibes", 1),
		},
		{
			name: "empty steps",
			yaml: `
name: empty
description: "nothing"
steps: []
assertions:
  - type: orphans
`,
		},
		{
			name: "time goes backward",
			yaml: `
name: backward
description: "at decreases"
steps:
  - event: cellCreated
    at: 10s
    payload: { id: c1, position: 0, cellType: code }
  - event: cellDeleted
    at: 5s
    payload: { id: c1 }
assertions:
  - type: orphans
`,
			want: "before the previous step",
		},
		{
			name: "eligible without session",
			yaml: strings.Replace(minimal, "  - type: cell_order\n    ids: [c1]", "  - type: eligible", 1),
			want: "session is required",
		},
		{
			name: "unknown entry status",
			yaml: strings.Replace(minimal, "  - type: cell_order\n    ids: [c1]", "  - type: entry_status\n    entry: e1\n    status: running", 1),
			want: "unknown entry status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

func TestRun_ReportsFailures(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: wrong
description: "expectations that do not hold"
steps:
  - event: cellCreated
    payload: { id: c1, position: 0, cellType: code }
  - event: executionRequested
    expect: rejected
    payload: { entryId: e1, cellId: c1 }
assertions:
  - type: entry_status
    entry: e1
    status: completed
  - type: eligible
    session: s1
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "expected rejected")
	assert.Contains(t, result.Errors[1], "assertions[0] entry_status: expected e1 completed, got e1 pending")
	assert.Contains(t, result.Errors[2], `assertions[1] eligible: expected "s1", got none`)
}

func TestRun_StampsSessionEvents(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: stamped
description: "heartbeat time comes from the scenario clock"
steps:
  - event: kernelSessionHeartbeat
    at: 90s
    payload: { sessionId: s1, status: ready }
assertions:
  - type: eligible
    session: s1
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), sc)
	require.NoError(t, err)
	require.True(t, result.Pass, strings.Join(result.Errors, "\n"))

	sess, ok := result.State.Session("s1")
	require.True(t, ok)
	assert.Equal(t, int64(1767225690000), sess.LastHeartbeat)
}

func TestGoldenPath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("scenarios", "golden", "happy_path.golden"),
		GoldenPath(filepath.Join("scenarios", "happy_path.yaml")))
}

func TestCompareAndWriteGolden(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golden", "x.golden")

	_, err := CompareGolden(path, []byte("a"))
	require.Error(t, err)

	require.NoError(t, WriteGolden(path, []byte("a")))
	ok, err := CompareGolden(path, []byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CompareGolden(path, []byte("b"))
	require.NoError(t, err)
	assert.False(t, ok)
}
