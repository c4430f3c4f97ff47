package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to transports. Handlers match these with
// errors.Is and map them to wire codes.
var (
	ErrConflict       = errors.New("conflict")
	ErrAlreadyDecided = errors.New("already decided")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRateLimited    = errors.New("rate limited")
)

// ValidationError reports rejected input. Field names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError reports an edge missing from the status graph.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
