package stages

import (
	"errors"
	"fmt"
)

// Error is a stage execution failure. Retryable distinguishes transient
// external-service failures (timeouts, rate limits, 5xx) from malformed-input
// or contract-mismatch failures that repeating cannot fix.
type Error struct {
	Stage     Stage
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a stage failure.
func NewError(stage Stage, retryable bool, err error) *Error {
	return &Error{Stage: stage, Retryable: retryable, Err: err}
}

// Retryable reports whether err is a stage error flagged as retryable.
// Unclassified errors are treated as permanent.
func Retryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
