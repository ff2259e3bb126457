package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/nbkernel/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool
	Filter string
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // match, mismatch, missing or updated
	Errors []string `json:"errors,omitempty"`
}

// TestResult is the test command's output.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Total     int              `json:"total"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Run YAML scenarios against an in-memory event log and check their
assertions. When a scenario has a golden file (golden/<name>.golden next to
it) the rendered step outcomes and final state must match it byte for byte.

Exit codes:
  0 - all scenarios passed
  1 - one or more scenarios failed
  2 - command error (missing directory, bad filter)

Examples:
  nbkernel test ./scenarios
  nbkernel test ./scenarios --filter "orphan*"
  nbkernel test ./scenarios --update`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenario files whose base name matches this glob")

	return cmd
}

func runTests(opts *TestOptions, cmd *cobra.Command, dir string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}
	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		r := runScenario(opts, cmd, file)
		if r.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, r)
	}

	out := newFormatter(opts.RootOptions, cmd)
	text := func(w io.Writer) { writeTestResult(w, result) }
	if result.Failed > 0 {
		return out.Failure(ExitFailure, "E_SCENARIO_FAILED",
			fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total), result, text)
	}
	return out.Success(result, text)
}

func findScenarioFiles(dir, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(e.Name(), ext))
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				continue
			}
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

func runScenario(opts *TestOptions, cmd *cobra.Command, file string) ScenarioResult {
	r := ScenarioResult{Name: filepath.Base(file), File: file}
	fail := func(format string, args ...any) ScenarioResult {
		r.Pass = false
		r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
		return r
	}

	sc, err := harness.LoadScenario(file)
	if err != nil {
		return fail("load: %v", err)
	}
	r.Name = sc.Name

	result, err := harness.Run(cmd.Context(), sc)
	if err != nil {
		return fail("run: %v", err)
	}
	r.Pass = result.Pass
	r.Errors = append(r.Errors, result.Errors...)

	data, err := harness.Golden(sc, result)
	if err != nil {
		return fail("render golden: %v", err)
	}
	path := harness.GoldenPath(file)

	if opts.Update {
		if err := harness.WriteGolden(path, data); err != nil {
			return fail("write golden: %v", err)
		}
		r.Golden = "updated"
		return r
	}

	match, err := harness.CompareGolden(path, data)
	switch {
	case os.IsNotExist(err):
		r.Golden = "missing"
	case err != nil:
		return fail("read golden: %v", err)
	case !match:
		r.Golden = "mismatch"
		return fail("golden file %s does not match (run with --update to regenerate)", path)
	default:
		r.Golden = "match"
	}
	return r
}

func writeTestResult(w io.Writer, result TestResult) {
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, r := range result.Scenarios {
		mark := "✓"
		if !r.Pass {
			mark = "✗"
		}
		suffix := ""
		if r.Golden == "updated" {
			suffix = " (golden updated)"
		}
		fmt.Fprintf(w, "%s %s%s\n", mark, r.Name, suffix)
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
}
