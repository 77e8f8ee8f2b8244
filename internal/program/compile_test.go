package program

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollis-dev/tempest/internal/graph"
)

const pipelineCUE = `
program: {
	name: "pipeline"
	reactors: [{
		name: "Source"
		timers: [{name: "tick", offset: "5ms", period: "100ms"}]
		outputs: ["out"]
		reactions: [{
			label: "emit"
			triggers: ["tick"]
			effects: ["out"]
		}]
	}, {
		name: "Sink"
		inputs: ["in"]
		actions: [{name: "retry", min_delay: "2ms"}, {name: "ping", physical: true}]
		reactions: [{
			label: "consume"
			triggers: ["in"]
			effects: ["retry"]
			deadline: "10ms"
		}]
	}]
	connections: [
		{from: "Source.out", to: "Sink.in", after: "51ms"},
	]
}
`

func TestLoadBytesCompilesFullTopology(t *testing.T) {
	prog, err := LoadBytes([]byte(pipelineCUE), "pipeline.cue")
	require.NoError(t, err)

	assert.Equal(t, "pipeline", prog.Name)
	require.Len(t, prog.Reactors, 2)

	src := prog.Reactors[0]
	assert.Equal(t, "Source", src.Name)
	require.Len(t, src.Timers, 1)
	assert.Equal(t, graph.Timer{Name: "tick", Offset: 5 * time.Millisecond, Period: 100 * time.Millisecond}, src.Timers[0])
	assert.Equal(t, []string{"out"}, src.Outputs)
	require.Len(t, src.Reactions, 1)
	assert.Equal(t, "emit", src.Reactions[0].Label)

	sink := prog.Reactors[1]
	require.Len(t, sink.Actions, 2)
	assert.Equal(t, graph.Action{Name: "retry", MinDelay: 2 * time.Millisecond}, sink.Actions[0])
	assert.Equal(t, graph.Action{Name: "ping", Physical: true}, sink.Actions[1])
	assert.Equal(t, 10*time.Millisecond, sink.Reactions[0].Deadline)

	require.Len(t, prog.Connections, 1)
	conn := prog.Connections[0]
	assert.Equal(t, graph.Endpoint{Reactor: "Source", Port: "out"}, conn.From)
	assert.Equal(t, graph.Endpoint{Reactor: "Sink", Port: "in"}, conn.To)
	require.NotNil(t, conn.After)
	assert.Equal(t, 51*time.Millisecond, *conn.After)
}

func TestLoadedProgramAssembles(t *testing.T) {
	prog, err := LoadBytes([]byte(pipelineCUE), "pipeline.cue")
	require.NoError(t, err)

	asm, err := graph.Assemble(prog)
	require.NoError(t, err)
	_, ok := asm.ReactionByName("Source.emit")
	assert.True(t, ok)
	_, ok = asm.ReactionByName("Sink.consume")
	assert.True(t, ok)
}

func TestInstantaneousConnectionHasNoAfter(t *testing.T) {
	prog, err := LoadBytes([]byte(`
program: {
	name: "direct"
	reactors: [{
		name: "A"
		outputs: ["out"]
		reactions: [{triggers: ["startup"], effects: ["out"]}]
	}, {
		name: "B"
		inputs: ["in"]
		reactions: [{triggers: ["in"]}]
	}]
	connections: [{from: "A.out", to: "B.in"}]
}
`), "direct.cue")
	require.NoError(t, err)
	require.Len(t, prog.Connections, 1)
	assert.Nil(t, prog.Connections[0].After)
}

func TestZeroAfterIsExplicitDecoupling(t *testing.T) {
	prog, err := LoadBytes([]byte(`
program: {
	name: "microstep"
	reactors: [{
		name: "A"
		inputs: ["in"]
		outputs: ["out"]
		reactions: [{triggers: ["in"], effects: ["out"]}]
	}]
	connections: [{from: "A.out", to: "A.in", after: "0s"}]
}
`), "microstep.cue")
	require.NoError(t, err)
	require.NotNil(t, prog.Connections[0].After)
	assert.Equal(t, time.Duration(0), *prog.Connections[0].After)

	// A zero after-delay breaks the cycle at assembly.
	_, err = graph.Assemble(prog)
	assert.NoError(t, err)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing program field",
			src:  `foo: 1`,
			want: "program",
		},
		{
			name: "missing program name",
			src:  `program: {reactors: [{name: "A", reactions: [{triggers: ["startup"]}]}]}`,
			want: "name",
		},
		{
			name: "no reactors",
			src:  `program: {name: "x"}`,
			want: "reactors",
		},
		{
			name: "reaction without triggers",
			src:  `program: {name: "x", reactors: [{name: "A", reactions: [{effects: []}]}]}`,
			want: "reactions",
		},
		{
			name: "bad duration",
			src:  `program: {name: "x", reactors: [{name: "A", timers: [{name: "t", period: "fast"}], reactions: [{triggers: ["t"]}]}]}`,
			want: "period",
		},
		{
			name: "negative duration",
			src:  `program: {name: "x", reactors: [{name: "A", timers: [{name: "t", offset: "-1s"}], reactions: [{triggers: ["t"]}]}]}`,
			want: "offset",
		},
		{
			name: "malformed endpoint",
			src: `program: {
				name: "x"
				reactors: [{name: "A", outputs: ["out"], inputs: ["in"], reactions: [{triggers: ["startup"]}]}]
				connections: [{from: "Aout", to: "A.in"}]
			}`,
			want: "from",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.src), tt.name+".cue")
			require.Error(t, err)

			var ce *CompileError
			require.True(t, errors.As(err, &ce), "want *CompileError, got %T: %v", err, err)
			assert.Contains(t, ce.Field, tt.want)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("/nonexistent/topology.cue")
	assert.Error(t, err)
}
