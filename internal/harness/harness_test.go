package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenariosAgainstGolden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no scenarios found")

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestRunChecksAssertions(t *testing.T) {
	s := &Scenario{
		Name:        "wrong-count",
		Description: "x",
		Demo:        "traindoor",
		Options:     Options{Fast: true},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Reaction: "Controller.issue", Count: 99},
		},
	}

	result, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trace_count")
	// The trace is still returned for diffing.
	require.NotNil(t, result)
	assert.NotEmpty(t, result.Dispatches)
}

func TestRunOrderAssertionFailure(t *testing.T) {
	s := &Scenario{
		Name:        "wrong-order",
		Description: "x",
		Demo:        "traindoor",
		Options:     Options{Fast: true},
		Assertions: []Assertion{
			{Type: AssertTraceOrder, Reactions: []string{"Door.advance", "Controller.issue", "Door.advance", "Door.advance"}},
		},
	}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trace_order")
}

func TestRunUnknownDemo(t *testing.T) {
	s := &Scenario{
		Name:        "missing",
		Description: "x",
		Demo:        "does-not-exist",
		Assertions:  []Assertion{{Type: AssertTraceContains, Reaction: "X.y"}},
	}
	_, err := Run(s)
	assert.Error(t, err)
}

func TestLoadScenarioValidation(t *testing.T) {
	write := func(t *testing.T, body string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "scenario.yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "unknown field rejected",
			body: "name: x\ndescription: y\ndemo: traindoor\nassertion:\n  - type: trace_count\n",
			want: "parse scenario YAML",
		},
		{
			name: "missing demo",
			body: "name: x\ndescription: y\nassertions:\n  - type: trace_contains\n    reaction: A.b\n",
			want: "demo is required",
		},
		{
			name: "missing assertions",
			body: "name: x\ndescription: y\ndemo: traindoor\n",
			want: "assertions",
		},
		{
			name: "unknown assertion type",
			body: "name: x\ndescription: y\ndemo: traindoor\nassertions:\n  - type: trace_magic\n",
			want: "unknown assertion type",
		},
		{
			name: "trace_order needs reactions",
			body: "name: x\ndescription: y\ndemo: traindoor\nassertions:\n  - type: trace_order\n",
			want: "reactions list is required",
		},
		{
			name: "bad duration",
			body: "name: x\ndescription: y\ndemo: traindoor\nwall_step: quickly\nassertions:\n  - type: trace_contains\n    reaction: A.b\n",
			want: "invalid duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(write(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenarioParsesOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	body := `name: full
description: everything set
demo: cache
options:
  fast: true
  keepalive: true
  timeout: 2s
wall_step: 150ms
assertions:
  - type: trace_contains
    reaction: Cache.lookup
    outcome: ok
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.True(t, s.Options.Fast)
	assert.True(t, s.Options.Keepalive)
	assert.Equal(t, Duration(2*time.Second), s.Options.Timeout)
	assert.Equal(t, Duration(150*time.Millisecond), s.WallStep)
}
