package trace

import "github.com/hollis-dev/tempest/internal/engine"

type multiTracer []engine.Tracer

func (m multiTracer) Record(d engine.Dispatch) {
	for _, t := range m {
		t.Record(d)
	}
}

// Multi fans one dispatch stream out to several tracers, e.g. an in-memory
// recorder plus the SQLite store.
func Multi(tracers ...engine.Tracer) engine.Tracer {
	return multiTracer(tracers)
}
