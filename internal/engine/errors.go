package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/nbkernel/internal/ir"
)

// EmitErrorCode categorizes emit failures.
type EmitErrorCode string

const (
	// ErrCodeAppendFailed indicates the store rejected or failed the append.
	ErrCodeAppendFailed EmitErrorCode = "APPEND_FAILED"

	// ErrCodeCatchUpFailed indicates the event was appended but reading it
	// back for the fold failed. The event is durable; the next CatchUp
	// folds it.
	ErrCodeCatchUpFailed EmitErrorCode = "CATCH_UP_FAILED"
)

// EmitError reports a failure to append or fold an emitted event.
type EmitError struct {
	Code    EmitErrorCode
	Event   ir.EventName
	EventID string
	Err     error
}

// Error implements the error interface.
func (e *EmitError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("%s: emit %s (id=%s): %v", e.Code, e.Event, e.EventID, e.Err)
	}
	return fmt.Sprintf("%s: emit %s: %v", e.Code, e.Event, e.Err)
}

// Unwrap returns the underlying cause.
func (e *EmitError) Unwrap() error {
	return e.Err
}

// IsAppendError returns true if the event never reached the log.
// Uses errors.As to handle wrapped errors.
func IsAppendError(err error) bool {
	var ee *EmitError
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeAppendFailed
	}
	return false
}
