package todo

import (
	"errors"
	"fmt"
)

// Sentinel errors. Concrete error values unwrap to one of these.
var (
	ErrInvalid  = errors.New("invalid todo")
	ErrNotFound = errors.New("todo not found")
)

// ValidationReason categorizes validation failures.
type ValidationReason string

const (
	// ReasonEmpty indicates the text was empty or whitespace only.
	ReasonEmpty ValidationReason = "EMPTY"

	// ReasonTooLong indicates the text exceeded MaxTextLength code points.
	ReasonTooLong ValidationReason = "TOO_LONG"

	// ReasonEmptyPatch indicates an update that sets no field.
	ReasonEmptyPatch ValidationReason = "EMPTY_PATCH"
)

// ValidationError is returned before any state change when input is rejected.
type ValidationError struct {
	Field  string
	Reason ValidationReason

	// Length is the offending length for ReasonTooLong.
	Length int
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonTooLong:
		return fmt.Sprintf("%s: %s is %d characters, max %d", e.Reason, e.Field, e.Length, MaxTextLength)
	case ReasonEmpty:
		return fmt.Sprintf("%s: %s must not be empty", e.Reason, e.Field)
	default:
		return fmt.Sprintf("%s: %s", e.Reason, e.Field)
	}
}

// Unwrap returns ErrInvalid.
func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

// NotFoundError is returned when a referenced ID does not exist.
type NotFoundError struct {
	ID int64
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("todo %d not found", e.ID)
}

// Unwrap returns ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// IsValidation returns true if err is or wraps a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalid)
}

// IsNotFound returns true if err is or wraps a missing-record failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
