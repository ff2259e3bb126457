package ir

import "fmt"

// PayloadError reports a payload that does not match its event's schema.
// The projection treats such events as rejected rather than failing the fold.
type PayloadError struct {
	Event   EventName
	Field   string
	Message string
}

func (e *PayloadError) Error() string {
	if e.Event != "" {
		return fmt.Sprintf("%s payload: field %q: %s", e.Event, e.Field, e.Message)
	}
	return fmt.Sprintf("payload field %q: %s", e.Field, e.Message)
}
