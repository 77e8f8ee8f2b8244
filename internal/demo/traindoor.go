package demo

import (
	"sync"
	"time"

	"github.com/hollis-dev/tempest/internal/engine"
	"github.com/hollis-dev/tempest/internal/graph"
)

// TrainDoorState is the observable state of the traindoor demo. Safe to
// read after Run returns.
type TrainDoorState struct {
	mu           sync.Mutex
	CommandsSent int
	Locked       bool
	Moves        int
	IgnoredMoves int
}

func (s *TrainDoorState) snapshot() TrainDoorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TrainDoorState{
		CommandsSent: s.CommandsSent,
		Locked:       s.Locked,
		Moves:        s.Moves,
		IgnoredMoves: s.IgnoredMoves,
	}
}

// Snapshot returns a copy of the state without the lock.
func (s *TrainDoorState) Snapshot() TrainDoorState { return s.snapshot() }

// NewTrainDoor builds the traindoor program.
//
// A controller periodically issues a command: lock the door now and move it
// shortly after. The lock travels over an instantaneous connection and is in
// effect within the same tag; the move command travels with a 51ms
// after-delay. The door's move reaction carries a 48ms wall-clock deadline,
// so on a loaded machine the move is ignored rather than executed late.
func NewTrainDoor() (*graph.Program, engine.Handlers, *TrainDoorState) {
	prog := &graph.Program{
		Name: "traindoor",
		Reactors: []graph.Reactor{
			{
				Name:    "Controller",
				Timers:  []graph.Timer{{Name: "cmd", Period: 100 * time.Millisecond}},
				Outputs: []string{"lock", "move"},
				Reactions: []graph.Reaction{
					{Label: "issue", Triggers: []string{"cmd"}, Effects: []string{"lock", "move"}},
				},
			},
			{
				Name:   "Door",
				Inputs: []string{"lock", "move"},
				Reactions: []graph.Reaction{
					{Label: "hold", Triggers: []string{"lock"}},
					{Label: "advance", Triggers: []string{"move"}, Deadline: 48 * time.Millisecond},
				},
			},
		},
		Connections: []graph.Connection{
			{From: graph.Endpoint{Reactor: "Controller", Port: "lock"}, To: graph.Endpoint{Reactor: "Door", Port: "lock"}},
			{From: graph.Endpoint{Reactor: "Controller", Port: "move"}, To: graph.Endpoint{Reactor: "Door", Port: "move"}, After: graph.After(51 * time.Millisecond)},
		},
	}

	state := &TrainDoorState{}
	handlers := engine.Handlers{
		"Controller.issue": {Body: func(c *engine.Context) error {
			state.mu.Lock()
			state.CommandsSent++
			done := state.CommandsSent >= 3
			state.mu.Unlock()

			if err := c.Set("lock", true); err != nil {
				return err
			}
			if err := c.Set("move", 1); err != nil {
				return err
			}
			if done {
				c.RequestStop()
			}
			return nil
		}},
		"Door.hold": {Body: func(c *engine.Context) error {
			locked, _ := c.Get("lock")
			state.mu.Lock()
			state.Locked = locked == true
			state.mu.Unlock()
			return nil
		}},
		"Door.advance": {
			Body: func(c *engine.Context) error {
				state.mu.Lock()
				state.Moves++
				state.mu.Unlock()
				return nil
			},
			OnDeadlineMiss: func(c *engine.Context) error {
				state.mu.Lock()
				state.IgnoredMoves++
				state.mu.Unlock()
				c.Logger().Warn("move command arrived too late, ignoring", "tag", c.Tag().String())
				return nil
			},
		},
	}

	return prog, handlers, state
}
