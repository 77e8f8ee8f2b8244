package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/hollis-dev/tempest/internal/trace"
)

// RunWithGolden executes a scenario and compares its canonical trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}

	traceJSON, err := trace.MarshalCanonical(trace.Snapshot(result.Program, result.Dispatches))
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)
	return nil
}
