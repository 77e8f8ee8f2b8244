// Package harness runs declarative scheduler scenarios: a YAML file names a
// program, scheduler options, and assertions over the resulting dispatch
// trace. Golden files pin the full trace byte for byte.
package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is one declarative scheduler test.
type Scenario struct {
	// Name uniquely identifies the scenario; it is also the golden file name.
	Name string `yaml:"name"`

	// Description explains what behavior this scenario pins down.
	Description string `yaml:"description"`

	// Demo names the built-in program to run.
	Demo string `yaml:"demo"`

	// Options configure the scheduler.
	Options Options `yaml:"options,omitempty"`

	// WallStep, when set, replaces the system clock with one that jumps by
	// this amount on every reading. Deadline outcomes become a pure function
	// of the scenario instead of machine load.
	WallStep Duration `yaml:"wall_step,omitempty"`

	// Assertions validate the dispatch trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Options mirror the scheduler's runtime options.
type Options struct {
	Fast      bool     `yaml:"fast,omitempty"`
	Keepalive bool     `yaml:"keepalive,omitempty"`
	Timeout   Duration `yaml:"timeout,omitempty"`
}

// Duration is a time.Duration that unmarshals from Go duration strings
// ("150ms", "2s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"150ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Assertion validates one property of the trace.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count.
	Type string `yaml:"type"`

	// Reaction is the qualified reaction name (trace_contains, trace_count).
	Reaction string `yaml:"reaction,omitempty"`

	// Outcome optionally restricts trace_contains and trace_count to
	// dispatches with this outcome (ok, error, deadline_miss).
	Outcome string `yaml:"outcome,omitempty"`

	// Reactions is the expected subsequence (trace_order).
	Reactions []string `yaml:"reactions,omitempty"`

	// Count is the expected number of matches (trace_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly instead of silently skipping assertions.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Demo == "" {
		return fmt.Errorf("demo is required")
	}
	if s.WallStep < 0 {
		return fmt.Errorf("wall_step must not be negative")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Reaction == "" {
			return fmt.Errorf("assertions[%d]: reaction is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Reactions) == 0 {
			return fmt.Errorf("assertions[%d]: reactions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Reaction == "" {
			return fmt.Errorf("assertions[%d]: reaction is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
