// Package graph holds the static description of a reactor program and the
// assembled dependency graph the scheduler dispatches against.
//
// The description side (Program, Reactor, Reaction, Connection) is plain
// data: it is what the excluded compiler/code-generation layer hands over,
// either built directly in Go or loaded from a CUE topology file. Assembly
// consumes it exactly once, validates it, detects cycles among instantaneous
// connections, and precomputes a single linear priority per reaction so
// that dispatch ordering is a sort, not a graph traversal.
package graph

import "time"

// Timer is a trigger that fires first at its offset and then every period.
// A zero period makes the timer one-shot.
type Timer struct {
	Name   string
	Offset time.Duration
	Period time.Duration
}

// Action is a schedulable trigger. Logical actions are scheduled relative to
// the current logical time by reactions; physical actions are scheduled
// relative to the wall clock by asynchronous external code.
//
// MinDelay is added to every scheduling delay for this action.
type Action struct {
	Name     string
	Physical bool
	MinDelay time.Duration
}

// Reaction declares a unit of computation: the triggers that can activate
// it, the ports/actions it may write, and an optional wall-clock deadline
// measured from the triggering tag's time component.
//
// Triggers and Effects use names local to the owning reactor. The reserved
// names "startup" and "shutdown" may appear in Triggers.
//
// The reaction body itself is an opaque callable supplied at runtime
// construction, keyed by the reaction's qualified name (see Info.Name).
type Reaction struct {
	Label    string // defaults to "reaction_<index>" when empty
	Triggers []string
	Effects  []string
	Deadline time.Duration // zero means no deadline
}

// Reactor describes one reactor instance: its triggers, ports, and
// reactions. State variables are owned by the reaction bodies (closures)
// and never appear in the static description.
type Reactor struct {
	Name      string
	Timers    []Timer
	Actions   []Action
	Inputs    []string
	Outputs   []string
	Reactions []Reaction
}

// Endpoint names one port of one reactor.
type Endpoint struct {
	Reactor string
	Port    string
}

// Connection is a directed edge from an output port to an input port.
//
// After controls how the source event's tag maps to the delivery tag:
//
//	nil:   instantaneous: same tag, delivered within the same dispatch
//	&0:    one microstep later: breaks same-tag causality without
//	       advancing time
//	&d>0:  (t+d, 0)
//
// Connections with a non-nil After are excluded from cycle detection: the
// delay makes the edge temporally decoupled, so delayed feedback loops
// (controller -> door -> controller) are legal.
type Connection struct {
	From  Endpoint
	To    Endpoint
	After *time.Duration
}

// Program is the complete static description consumed by Assemble.
type Program struct {
	Name        string
	Reactors    []Reactor
	Connections []Connection
}

// ReservedStartup and ReservedShutdown are the trigger names reactions use
// to bind to the program lifecycle tags.
const (
	ReservedStartup  = "startup"
	ReservedShutdown = "shutdown"
)

// After is a convenience for building Connection literals.
func After(d time.Duration) *time.Duration { return &d }
