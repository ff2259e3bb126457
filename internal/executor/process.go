package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/roach88/nbkernel/internal/ir"
)

// ProcessRunner runs a command per execution with the cell source on stdin.
// Stdout becomes a stdout stream output; stderr of a successful run becomes
// a stderr stream output.
type ProcessRunner struct {
	Command []string
	Env     []string
	Dir     string
}

// errorLine matches the "Name: message" line interpreters print last.
var errorLine = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*(?:Error|Exception|Interrupt)): ?(.*)$`)

// Run executes the command.
func (p *ProcessRunner) Run(ctx context.Context, req Request) ([]ir.Output, error) {
	if len(p.Command) == 0 {
		return nil, &ExecError{Name: ErrNameProcess, Value: "no command configured"}
	}

	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Stdin = strings.NewReader(req.Source)
	cmd.Env = p.Env
	cmd.Dir = p.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ExecError{Name: ErrNameShutdown, Value: "execution interrupted", Err: ctx.Err()}
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &ExecError{Name: ErrNameProcess, Value: err.Error(), Err: err}
		}
		return nil, processError(exitErr.ExitCode(), stderr.String())
	}

	var outputs []ir.Output
	if stdout.Len() > 0 {
		outputs = append(outputs, ir.Output{OutputType: "stream", Name: "stdout", Text: stdout.String()})
	}
	if stderr.Len() > 0 {
		outputs = append(outputs, ir.Output{OutputType: "stream", Name: "stderr", Text: stderr.String()})
	}
	return outputs, nil
}

// processError builds an ExecError from a failed run's stderr. When the last
// non-empty line looks like "SomeError: message" it supplies name and value.
func processError(code int, stderr string) *ExecError {
	lines := strings.Split(strings.TrimRight(stderr, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		lines = nil
	}
	e := &ExecError{
		Name:      ErrNameProcess,
		Value:     fmt.Sprintf("exit status %d", code),
		Traceback: lines,
	}
	if len(lines) > 0 {
		last := strings.TrimSpace(lines[len(lines)-1])
		if m := errorLine.FindStringSubmatch(last); m != nil {
			e.Name = m[1]
			e.Value = m[2]
		}
	}
	return e
}
