package trace

import (
	"slices"
	"sync"

	"github.com/hollis-dev/tempest/internal/engine"
)

// Recorder is an in-memory Tracer for tests and the golden harness.
// Safe for concurrent use; the scheduler records from its own goroutine
// while assertions read from the test goroutine.
type Recorder struct {
	mu         sync.Mutex
	dispatches []engine.Dispatch
}

var _ engine.Tracer = (*Recorder)(nil)

// NewRecorder returns an empty in-memory trace recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends one dispatch to the trace.
func (r *Recorder) Record(d engine.Dispatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches = append(r.dispatches, d)
}

// Dispatches returns a copy of the recorded trace in dispatch order.
func (r *Recorder) Dispatches() []engine.Dispatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.dispatches)
}

// Len returns the number of recorded dispatches.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dispatches)
}
