// Package demo holds small built-in reactor programs. They double as
// executable documentation for the scheduler and as CLI targets that need
// no topology file.
package demo

import (
	"fmt"
	"sort"

	"github.com/hollis-dev/tempest/internal/engine"
	"github.com/hollis-dev/tempest/internal/graph"
)

// Demo is one built-in program.
type Demo struct {
	Name        string
	Description string
	Build       func() (*graph.Program, engine.Handlers)
}

var registry = map[string]Demo{
	"traindoor": {
		Name:        "traindoor",
		Description: "door controller with an instantaneous lock and a deadline-guarded move",
		Build: func() (*graph.Program, engine.Handlers) {
			p, h, _ := NewTrainDoor()
			return p, h
		},
	},
	"cache": {
		Name:        "cache",
		Description: "client/cache pipeline with simulated lookup latency and a bounded pending queue",
		Build: func() (*graph.Program, engine.Handlers) {
			p, h, _ := NewCachePipeline()
			return p, h
		},
	},
}

// Get returns the named demo.
func Get(name string) (Demo, error) {
	d, ok := registry[name]
	if !ok {
		return Demo{}, fmt.Errorf("unknown demo %q (have: %v)", name, Names())
	}
	return d, nil
}

// Names lists the registered demos, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
