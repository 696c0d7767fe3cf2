package types

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a status change leaves the legal graph.
var ErrInvalidTransition = errors.New("invalid status transition")

// ValidationError rejects a request before any task is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError covers ids that are unknown or whose TTL has elapsed.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// TranscriptionFailure is isolated to the transcription sub-state.
type TranscriptionFailure struct {
	Stage string
	Err   error
}

func (e *TranscriptionFailure) Error() string {
	return fmt.Sprintf("transcription %s failed: %v", e.Stage, e.Err)
}

func (e *TranscriptionFailure) Unwrap() error { return e.Err }

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
