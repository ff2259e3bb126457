package executor

import (
	"context"
	"fmt"

	"github.com/roach88/nbkernel/internal/ir"
)

// Request is one cell execution.
type Request struct {
	EntryID  string
	CellID   string
	CellType ir.CellType
	Source   string
}

// Runner executes one kind of cell.
type Runner interface {
	Run(ctx context.Context, req Request) ([]ir.Output, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req Request) ([]ir.Output, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, req Request) ([]ir.Output, error) {
	return f(ctx, req)
}

// Registry dispatches requests by cell type.
type Registry struct {
	runners map[ir.CellType]Runner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[ir.CellType]Runner)}
}

// Register sets the runner for a cell type, replacing any previous one.
func (r *Registry) Register(cellType ir.CellType, runner Runner) *Registry {
	r.runners[cellType] = runner
	return r
}

// Execute runs req with the runner for its cell type.
func (r *Registry) Execute(ctx context.Context, req Request) ([]ir.Output, error) {
	runner, ok := r.runners[req.CellType]
	if !ok {
		return nil, &ExecError{
			Name:  ErrNameUnsupported,
			Value: fmt.Sprintf("no runtime for %s cells", req.CellType),
		}
	}
	return runner.Run(ctx, req)
}

// Options configures the default runtimes.
type Options struct {
	// CodeCommand runs code cells, e.g. ["python3", "-"].
	CodeCommand []string
	// AICommand runs ai cells. Empty disables them.
	AICommand []string
	// SQL executes sql cells. Nil disables them.
	SQL *SQLRunner
}

// Default builds a registry with every cell type wired per opts.
func Default(opts Options) *Registry {
	r := NewRegistry().
		Register(ir.CellMarkdown, EchoRunner{MimeType: "text/markdown"}).
		Register(ir.CellRaw, EchoRunner{MimeType: "text/plain"})

	if len(opts.CodeCommand) > 0 {
		r.Register(ir.CellCode, &ProcessRunner{Command: opts.CodeCommand})
	}
	if len(opts.AICommand) > 0 {
		r.Register(ir.CellAI, &ProcessRunner{Command: opts.AICommand})
	} else {
		r.Register(ir.CellAI, RunnerFunc(func(context.Context, Request) ([]ir.Output, error) {
			return nil, &ExecError{Name: ErrNameAIUnavailable, Value: "no AI command configured"}
		}))
	}
	if opts.SQL != nil {
		r.Register(ir.CellSQL, opts.SQL)
	}
	return r
}

// EchoRunner renders the cell source as display data.
type EchoRunner struct {
	MimeType string
}

// Run returns the source unchanged.
func (e EchoRunner) Run(_ context.Context, req Request) ([]ir.Output, error) {
	return []ir.Output{{OutputType: "display_data", MimeType: e.MimeType, Text: req.Source}}, nil
}
