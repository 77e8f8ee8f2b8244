package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeline builds Source -> Relay -> Sink over instantaneous connections.
func pipeline() *Program {
	return &Program{
		Name: "pipeline",
		Reactors: []Reactor{
			{
				Name:   "Sink",
				Inputs: []string{"in"},
				Reactions: []Reaction{
					{Label: "consume", Triggers: []string{"in"}},
				},
			},
			{
				Name:    "Relay",
				Inputs:  []string{"in"},
				Outputs: []string{"out"},
				Reactions: []Reaction{
					{Label: "forward", Triggers: []string{"in"}, Effects: []string{"out"}},
				},
			},
			{
				Name:    "Source",
				Outputs: []string{"out"},
				Reactions: []Reaction{
					{Label: "emit", Triggers: []string{"startup"}, Effects: []string{"out"}},
				},
			},
		},
		Connections: []Connection{
			{From: Endpoint{"Source", "out"}, To: Endpoint{"Relay", "in"}},
			{From: Endpoint{"Relay", "out"}, To: Endpoint{"Sink", "in"}},
		},
	}
}

func priorityOf(t *testing.T, a *Assembly, name string) int {
	t.Helper()
	id, ok := a.ReactionByName(name)
	require.True(t, ok, "reaction %s not found", name)
	return a.Reactions[id].Priority
}

func TestAssemblePipelinePriorities(t *testing.T) {
	a, err := Assemble(pipeline())
	require.NoError(t, err)

	// Upstream must run before downstream even though Sink is declared first.
	assert.Less(t, priorityOf(t, a, "Source.emit"), priorityOf(t, a, "Relay.forward"))
	assert.Less(t, priorityOf(t, a, "Relay.forward"), priorityOf(t, a, "Sink.consume"))
}

func TestAssembleDeclarationOrderWithinReactor(t *testing.T) {
	p := &Program{
		Name: "decl",
		Reactors: []Reactor{
			{
				Name:   "R",
				Timers: []Timer{{Name: "t"}},
				Reactions: []Reaction{
					{Label: "first", Triggers: []string{"t"}},
					{Label: "second", Triggers: []string{"t"}},
					{Label: "third", Triggers: []string{"t"}},
				},
			},
		},
	}

	a, err := Assemble(p)
	require.NoError(t, err)

	assert.Less(t, priorityOf(t, a, "R.first"), priorityOf(t, a, "R.second"))
	assert.Less(t, priorityOf(t, a, "R.second"), priorityOf(t, a, "R.third"))

	// Dependent sets come back pre-sorted by priority.
	tid, ok := a.TriggerByName("R.t")
	require.True(t, ok)
	deps := a.Dependents[tid]
	require.Len(t, deps, 3)
	for i := 1; i < len(deps); i++ {
		assert.Less(t, a.Reactions[deps[i-1]].Priority, a.Reactions[deps[i]].Priority)
	}
}

func TestAssembleIndependentReactionsKeepDeclarationOrder(t *testing.T) {
	p := &Program{
		Name: "independent",
		Reactors: []Reactor{
			{Name: "A", Timers: []Timer{{Name: "t"}}, Reactions: []Reaction{{Triggers: []string{"t"}}}},
			{Name: "B", Timers: []Timer{{Name: "t"}}, Reactions: []Reaction{{Triggers: []string{"t"}}}},
		},
	}

	a, err := Assemble(p)
	require.NoError(t, err)

	// No dependency path between them: declaration order decides, stably.
	assert.Less(t, priorityOf(t, a, "A.reaction_0"), priorityOf(t, a, "B.reaction_0"))
}

func feedback(after *time.Duration) *Program {
	return &Program{
		Name: "feedback",
		Reactors: []Reactor{
			{
				Name:    "Controller",
				Inputs:  []string{"status"},
				Outputs: []string{"cmd"},
				Reactions: []Reaction{
					{Label: "decide", Triggers: []string{"status"}, Effects: []string{"cmd"}},
				},
			},
			{
				Name:    "Door",
				Inputs:  []string{"cmd"},
				Outputs: []string{"status"},
				Reactions: []Reaction{
					{Label: "act", Triggers: []string{"cmd"}, Effects: []string{"status"}},
				},
			},
		},
		Connections: []Connection{
			{From: Endpoint{"Controller", "cmd"}, To: Endpoint{"Door", "cmd"}},
			{From: Endpoint{"Door", "status"}, To: Endpoint{"Controller", "status"}, After: after},
		},
	}
}

func TestAssembleZeroDelayCycleFailsLoudly(t *testing.T) {
	_, err := Assemble(feedback(nil))
	require.Error(t, err)
	assert.True(t, IsCycle(err))

	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.NotEmpty(t, ge.Cycle, "cycle error must name the offending reactions")
	assert.Contains(t, err.Error(), "GRAPH_CYCLE")
}

func TestAssembleDelayedFeedbackIsLegal(t *testing.T) {
	t.Run("positive after-delay", func(t *testing.T) {
		_, err := Assemble(feedback(After(51 * time.Millisecond)))
		assert.NoError(t, err)
	})

	t.Run("zero after-delay still breaks the cycle", func(t *testing.T) {
		// after = 0 advances the microstep, which is enough decoupling.
		_, err := Assemble(feedback(After(0)))
		assert.NoError(t, err)
	})
}

func TestAssembleValidation(t *testing.T) {
	tests := []struct {
		name string
		prog *Program
		code ErrorCode
	}{
		{
			name: "unknown trigger",
			prog: &Program{Reactors: []Reactor{{
				Name:      "R",
				Reactions: []Reaction{{Triggers: []string{"nope"}}},
			}}},
			code: ErrCodeUnknownTrigger,
		},
		{
			name: "no triggers",
			prog: &Program{Reactors: []Reactor{{
				Name:      "R",
				Reactions: []Reaction{{}},
			}}},
			code: ErrCodeUnknownTrigger,
		},
		{
			name: "output used as trigger",
			prog: &Program{Reactors: []Reactor{{
				Name:      "R",
				Outputs:   []string{"out"},
				Reactions: []Reaction{{Triggers: []string{"out"}}},
			}}},
			code: ErrCodeUnknownTrigger,
		},
		{
			name: "input used as effect",
			prog: &Program{Reactors: []Reactor{{
				Name:      "R",
				Inputs:    []string{"in"},
				Timers:    []Timer{{Name: "t"}},
				Reactions: []Reaction{{Triggers: []string{"t"}, Effects: []string{"in"}}},
			}}},
			code: ErrCodeBadEffect,
		},
		{
			name: "unknown effect",
			prog: &Program{Reactors: []Reactor{{
				Name:      "R",
				Timers:    []Timer{{Name: "t"}},
				Reactions: []Reaction{{Triggers: []string{"t"}, Effects: []string{"nope"}}},
			}}},
			code: ErrCodeBadEffect,
		},
		{
			name: "duplicate reactor name",
			prog: &Program{Reactors: []Reactor{{Name: "R"}, {Name: "R"}}},
			code: ErrCodeDuplicateName,
		},
		{
			name: "duplicate trigger name",
			prog: &Program{Reactors: []Reactor{{
				Name:   "R",
				Timers: []Timer{{Name: "x"}},
				Inputs: []string{"x"},
			}}},
			code: ErrCodeDuplicateName,
		},
		{
			name: "reserved trigger name",
			prog: &Program{Reactors: []Reactor{{
				Name:   "R",
				Timers: []Timer{{Name: "startup"}},
			}}},
			code: ErrCodeDuplicateName,
		},
		{
			name: "connection from missing port",
			prog: &Program{
				Reactors:    []Reactor{{Name: "R", Inputs: []string{"in"}}},
				Connections: []Connection{{From: Endpoint{"R", "ghost"}, To: Endpoint{"R", "in"}}},
			},
			code: ErrCodeBadConnection,
		},
		{
			name: "connection into an output",
			prog: &Program{
				Reactors:    []Reactor{{Name: "R", Outputs: []string{"a", "b"}}},
				Connections: []Connection{{From: Endpoint{"R", "a"}, To: Endpoint{"R", "b"}}},
			},
			code: ErrCodeBadConnection,
		},
		{
			name: "two writers for one input",
			prog: &Program{
				Reactors: []Reactor{
					{Name: "A", Outputs: []string{"out"}},
					{Name: "B", Outputs: []string{"out"}},
					{Name: "C", Inputs: []string{"in"}},
				},
				Connections: []Connection{
					{From: Endpoint{"A", "out"}, To: Endpoint{"C", "in"}},
					{From: Endpoint{"B", "out"}, To: Endpoint{"C", "in"}},
				},
			},
			code: ErrCodeBadConnection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(tt.prog)
			require.Error(t, err)
			var ge *Error
			require.ErrorAs(t, err, &ge)
			assert.Equal(t, tt.code, ge.Code)
		})
	}
}

func TestAssembleLookups(t *testing.T) {
	a, err := Assemble(pipeline())
	require.NoError(t, err)

	id, ok := a.Local(2, "out") // Source is reactor index 2
	require.True(t, ok)
	assert.Equal(t, "Source.out", a.Triggers[id].Name)
	assert.Equal(t, KindOutput, a.Triggers[id].Kind)

	start, ok := a.Local(0, "startup")
	require.True(t, ok)
	assert.Equal(t, a.Startup, start)

	rid, ok := a.ReactionByName("Source.emit")
	require.True(t, ok)
	assert.True(t, a.DeclaresEffect(rid, id))

	sinkIn, ok := a.TriggerByName("Sink.in")
	require.True(t, ok)
	assert.False(t, a.DeclaresEffect(rid, sinkIn))

	_, ok = a.TriggerByName("Sink.ghost")
	assert.False(t, ok)
}

func TestAssembleFanOut(t *testing.T) {
	p := &Program{
		Name: "fanout",
		Reactors: []Reactor{
			{Name: "Src", Outputs: []string{"out"}, Reactions: []Reaction{
				{Label: "emit", Triggers: []string{"startup"}, Effects: []string{"out"}},
			}},
			{Name: "A", Inputs: []string{"in"}, Reactions: []Reaction{{Triggers: []string{"in"}}}},
			{Name: "B", Inputs: []string{"in"}, Reactions: []Reaction{{Triggers: []string{"in"}}}},
		},
		Connections: []Connection{
			{From: Endpoint{"Src", "out"}, To: Endpoint{"A", "in"}},
			{From: Endpoint{"Src", "out"}, To: Endpoint{"B", "in"}, After: After(time.Millisecond)},
		},
	}

	a, err := Assemble(p)
	require.NoError(t, err)

	out, ok := a.TriggerByName("Src.out")
	require.True(t, ok)
	require.Len(t, a.Deliveries[out], 2)
	assert.Nil(t, a.Deliveries[out][0].After)
	require.NotNil(t, a.Deliveries[out][1].After)
	assert.Equal(t, time.Millisecond, *a.Deliveries[out][1].After)
}
