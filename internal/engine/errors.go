package engine

import (
	"errors"
	"fmt"

	"github.com/hollis-dev/tempest/internal/tag"
)

// ErrorCode categorizes runtime errors. Unlike assembly-time graph errors,
// none of these are fatal to the scheduler: they are reported to the caller
// (or logged) and the loop keeps its deterministic tag-ordering contract.
type ErrorCode string

const (
	// ErrCodePastTag indicates an attempt to schedule an event at a tag not
	// greater than the current logical time via the logical path. The event
	// is dropped.
	ErrCodePastTag ErrorCode = "PAST_TAG"

	// ErrCodeUndeclaredEffect indicates a reaction tried to write a port or
	// schedule an action outside its declared effect set.
	ErrCodeUndeclaredEffect ErrorCode = "UNDECLARED_EFFECT"

	// ErrCodeUnknownTrigger indicates a name that does not resolve on the
	// calling reaction's reactor.
	ErrCodeUnknownTrigger ErrorCode = "UNKNOWN_TRIGGER"

	// ErrCodeNotRunning indicates a physical action was scheduled before
	// Run started or after termination.
	ErrCodeNotRunning ErrorCode = "NOT_RUNNING"

	// ErrCodeCapacityExceeded indicates a bounded structure refused a new
	// entry. Recoverable: the caller decides what to do with the rejection.
	ErrCodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
)

// Error is a recoverable scheduling error.
type Error struct {
	Code    ErrorCode
	Message string
	Trigger string  // qualified trigger name, when applicable
	Tag     tag.Tag // offending tag, when applicable
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Trigger != "" {
		return fmt.Sprintf("%s: %s (trigger=%s, tag=%s)", e.Code, e.Message, e.Trigger, e.Tag)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsPastTag reports whether err is a past-tag scheduling rejection.
func IsPastTag(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == ErrCodePastTag
}

// IsUndeclaredEffect reports whether err is an effect-set contract violation.
func IsUndeclaredEffect(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == ErrCodeUndeclaredEffect
}

// IsCapacity reports whether err is a capacity rejection from a bounded
// structure. Uses errors.As to handle wrapped errors.
func IsCapacity(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == ErrCodeCapacityExceeded
}

// NewCapacityError builds the recoverable error a bounded structure returns
// to its caller instead of crashing the scheduler.
func NewCapacityError(resource string, limit int) *Error {
	return &Error{
		Code:    ErrCodeCapacityExceeded,
		Message: fmt.Sprintf("%s is full (limit %d)", resource, limit),
	}
}
