package executor

import (
	"errors"
	"fmt"

	"github.com/roach88/nbkernel/internal/ir"
)

// Well-known error names. Runtime errors raised by user code keep the name
// the runtime reported (e.g. ZeroDivisionError).
const (
	ErrNameUnsupported   = "UnsupportedCellType"
	ErrNameAIUnavailable = "AIUnavailable"
	ErrNameProcess       = "ProcessError"
	ErrNameSQL           = "SQLError"
	ErrNameCellDeleted   = "CellDeleted"
	ErrNamePanic         = "KernelPanic"
	ErrNameShutdown      = "KernelShutdown"
	ErrNameExecution     = "ExecutionError"
)

// ExecError is a structured execution failure.
type ExecError struct {
	Name      string
	Value     string
	Traceback []string
	Err       error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	if e.Value == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Value)
}

// Unwrap returns the underlying cause, if any.
func (e *ExecError) Unwrap() error {
	return e.Err
}

// Info converts the error to its event form.
func (e *ExecError) Info() ir.ErrorInfo {
	return ir.ErrorInfo{
		Name:      e.Name,
		Value:     e.Value,
		Traceback: append([]string(nil), e.Traceback...),
	}
}

// ErrorInfo converts any error to an event error description. Errors that
// are not *ExecError are reported as ExecutionError.
func ErrorInfo(err error) ir.ErrorInfo {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Info()
	}
	return ir.ErrorInfo{Name: ErrNameExecution, Value: err.Error()}
}
