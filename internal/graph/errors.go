package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes assembly-time failures. All of them are fatal: a
// program with a bad description must refuse to start.
type ErrorCode string

const (
	// ErrCodeCycle indicates a cycle among instantaneous connections, which
	// makes same-tag dispatch order undefined.
	ErrCodeCycle ErrorCode = "GRAPH_CYCLE"

	// ErrCodeDuplicateName indicates two reactors, triggers, or reactions
	// share a name within their scope.
	ErrCodeDuplicateName ErrorCode = "DUPLICATE_NAME"

	// ErrCodeUnknownTrigger indicates a reaction names a trigger that does
	// not exist on its reactor.
	ErrCodeUnknownTrigger ErrorCode = "UNKNOWN_TRIGGER"

	// ErrCodeBadEffect indicates a reaction declares an effect that is not
	// one of its reactor's outputs or actions.
	ErrCodeBadEffect ErrorCode = "BAD_EFFECT"

	// ErrCodeBadConnection indicates a connection endpoint does not exist,
	// is of the wrong direction, or an input has more than one writer.
	ErrCodeBadConnection ErrorCode = "BAD_CONNECTION"
)

// Error is an assembly-time description error.
type Error struct {
	Code    ErrorCode
	Message string
	Reactor string   // offending reactor, when applicable
	Cycle   []string // qualified reaction names forming the cycle, for ErrCodeCycle
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case len(e.Cycle) > 0:
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, strings.Join(e.Cycle, " -> "))
	case e.Reactor != "":
		return fmt.Sprintf("%s: %s (reactor=%s)", e.Code, e.Message, e.Reactor)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsCycle reports whether err is a zero-delay cycle error.
// Uses errors.As to handle wrapped errors.
func IsCycle(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Code == ErrCodeCycle
}
