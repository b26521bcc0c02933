package engine

import (
	"errors"
	"fmt"
)

// LifecycleError is returned when an engine operation is called in the wrong
// lifecycle state.
//
// Record-level failures are not LifecycleErrors; they surface as
// *todo.ValidationError and *todo.NotFoundError unchanged.
type LifecycleError struct {
	// Code identifies the error category.
	Code LifecycleErrorCode

	// Op is the rejected operation, e.g. "insert".
	Op string
}

// LifecycleErrorCode categorizes lifecycle errors.
type LifecycleErrorCode string

const (
	// ErrCodeNotStarted indicates an operation before Start.
	ErrCodeNotStarted LifecycleErrorCode = "NOT_STARTED"

	// ErrCodeAlreadyStarted indicates a second Start.
	ErrCodeAlreadyStarted LifecycleErrorCode = "ALREADY_STARTED"

	// ErrCodeClosed indicates an operation after Shutdown.
	ErrCodeClosed LifecycleErrorCode = "CLOSED"
)

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	switch e.Code {
	case ErrCodeNotStarted:
		return fmt.Sprintf("%s: engine not started", e.Op)
	case ErrCodeAlreadyStarted:
		return fmt.Sprintf("%s: engine already started", e.Op)
	case ErrCodeClosed:
		return fmt.Sprintf("%s: engine shut down", e.Op)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
}

// IsNotStarted returns true if the error is a not-started lifecycle error.
// Uses errors.As to handle wrapped errors.
func IsNotStarted(err error) bool {
	return hasCode(err, ErrCodeNotStarted)
}

// IsClosed returns true if the error is a closed lifecycle error.
// Uses errors.As to handle wrapped errors.
func IsClosed(err error) bool {
	return hasCode(err, ErrCodeClosed)
}

func hasCode(err error, code LifecycleErrorCode) bool {
	var le *LifecycleError
	if errors.As(err, &le) {
		return le.Code == code
	}
	return false
}
