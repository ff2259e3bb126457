package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

type goldenDoc struct {
	Scenario string          `json:"scenario"`
	Steps    []StepResult    `json:"steps"`
	State    json.RawMessage `json:"state"`
}

// Golden renders the golden form of a run: step outcomes followed by the
// final state snapshot. Equal logs always render identical bytes.
func Golden(sc *Scenario, result *Result) ([]byte, error) {
	snapshot, err := result.State.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot state: %w", err)
	}
	out, err := json.MarshalIndent(goldenDoc{
		Scenario: sc.Name,
		Steps:    result.Steps,
		State:    snapshot,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// GoldenPath returns where the golden file for scenarioFile lives: a
// golden/ directory next to it, named after the file.
func GoldenPath(scenarioFile string) string {
	name := strings.TrimSuffix(filepath.Base(scenarioFile), filepath.Ext(scenarioFile))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// CompareGolden reports whether the golden file at path matches data. A
// missing file is an error.
func CompareGolden(path string, data []byte) (bool, error) {
	want, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	return bytes.Equal(want, data), nil
}

// WriteGolden writes data to path, creating the directory.
func WriteGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// RunWithGolden runs sc and compares its golden form with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, sc *Scenario) *Result {
	t.Helper()

	result, err := Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("run scenario %s: %v", sc.Name, err)
	}
	data, err := Golden(sc, result)
	if err != nil {
		t.Fatalf("render golden for %s: %v", sc.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, data)
	return result
}
