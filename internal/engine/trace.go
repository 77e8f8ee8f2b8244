package engine

import "github.com/hollis-dev/tempest/internal/tag"

// Outcome describes how a reaction invocation ended.
type Outcome string

const (
	// OutcomeOK means the normal reaction body ran to completion.
	OutcomeOK Outcome = "ok"

	// OutcomeError means the body returned an error. The error is logged
	// and the loop continues; retrying would break deterministic replay.
	OutcomeError Outcome = "error"

	// OutcomeDeadlineMiss means the wall clock had already passed the
	// reaction's deadline, so the violation handler ran (or the violation
	// was reported) instead of the normal body.
	OutcomeDeadlineMiss Outcome = "deadline_miss"
)

// Dispatch is one reaction invocation in the ordered dispatch stream. The
// sequence of Dispatch records is the observable behavior of a program: two
// runs of the same program with the same inputs in fast mode must produce
// identical streams.
type Dispatch struct {
	Tag      tag.Tag
	Reactor  string
	Reaction string
	Outcome  Outcome
}

// Tracer receives the dispatch stream. Implementations must be cheap; the
// runtime calls Record synchronously between reaction invocations so the
// trace order is exact.
type Tracer interface {
	Record(Dispatch)
}
