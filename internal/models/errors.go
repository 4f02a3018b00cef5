package models

import (
	"errors"
	"fmt"
)

// ErrAuthRequired means no usable calendar credential is available.
// It aborts a whole run.
var ErrAuthRequired = errors.New("calendar authorization required")

// ValidationError is malformed user input, reported before any remote call.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// LookupError is a failed query for an existing event. The engine logs it and
// treats the event as absent.
type LookupError struct {
	Key        string
	CalendarID string
	Err        error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("failed to look up event %q in calendar %s: %v", e.Key, e.CalendarID, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// RemoteWriteError is a failed create or delete call.
type RemoteWriteError struct {
	Op         string
	CalendarID string
	EventID    string
	Err        error
}

func (e *RemoteWriteError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("failed to %s event %s in calendar %s: %v", e.Op, e.EventID, e.CalendarID, e.Err)
	}
	return fmt.Sprintf("failed to %s event in calendar %s: %v", e.Op, e.CalendarID, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
