package harness

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hollis-dev/tempest/internal/demo"
	"github.com/hollis-dev/tempest/internal/engine"
	"github.com/hollis-dev/tempest/internal/graph"
	"github.com/hollis-dev/tempest/internal/trace"
)

// Result holds the executed scenario's trace.
type Result struct {
	Program    string
	Dispatches []engine.Dispatch
}

// Run executes a scenario and checks its assertions against the trace.
// The trace is returned even when assertions fail, for golden diffing.
func Run(s *Scenario) (*Result, error) {
	d, err := demo.Get(s.Demo)
	if err != nil {
		return nil, err
	}
	prog, handlers := d.Build()

	asm, err := graph.Assemble(prog)
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", prog.Name, err)
	}

	rec := trace.NewRecorder()
	opts := []engine.Option{
		engine.WithFast(s.Options.Fast),
		engine.WithKeepalive(s.Options.Keepalive),
		engine.WithTracer(rec),
	}
	if s.Options.Timeout > 0 {
		opts = append(opts, engine.WithTimeout(time.Duration(s.Options.Timeout)))
	}
	if s.WallStep > 0 {
		opts = append(opts, engine.WithWallClock(&steppingClock{step: time.Duration(s.WallStep)}))
	}

	rt, err := engine.New(asm, handlers, opts...)
	if err != nil {
		return nil, fmt.Errorf("build runtime: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rt.Run(ctx); err != nil {
		return nil, fmt.Errorf("run %s: %w", prog.Name, err)
	}

	result := &Result{Program: prog.Name, Dispatches: rec.Dispatches()}
	if err := checkAssertions(s, result); err != nil {
		return result, err
	}
	return result, nil
}

func checkAssertions(s *Scenario, r *Result) error {
	for i, a := range s.Assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertContains(r, &a)
		case AssertTraceOrder:
			err = assertOrder(r, &a)
		case AssertTraceCount:
			err = assertCount(r, &a)
		}
		if err != nil {
			return fmt.Errorf("scenario %s: assertions[%d]: %w", s.Name, i, err)
		}
	}
	return nil
}

func matches(d engine.Dispatch, a *Assertion) bool {
	if d.Reaction != a.Reaction {
		return false
	}
	return a.Outcome == "" || string(d.Outcome) == a.Outcome
}

func assertContains(r *Result, a *Assertion) error {
	for _, d := range r.Dispatches {
		if matches(d, a) {
			return nil
		}
	}
	return fmt.Errorf("trace_contains: no dispatch of %s%s", a.Reaction, outcomeSuffix(a))
}

func assertOrder(r *Result, a *Assertion) error {
	i := 0
	for _, d := range r.Dispatches {
		if i < len(a.Reactions) && d.Reaction == a.Reactions[i] {
			i++
		}
	}
	if i != len(a.Reactions) {
		return fmt.Errorf("trace_order: %v is not a subsequence of the trace (matched %d of %d)",
			a.Reactions, i, len(a.Reactions))
	}
	return nil
}

func assertCount(r *Result, a *Assertion) error {
	n := 0
	for _, d := range r.Dispatches {
		if matches(d, a) {
			n++
		}
	}
	if n != a.Count {
		return fmt.Errorf("trace_count: %s%s dispatched %d times, want %d",
			a.Reaction, outcomeSuffix(a), n, a.Count)
	}
	return nil
}

func outcomeSuffix(a *Assertion) string {
	if a.Outcome == "" {
		return ""
	}
	return fmt.Sprintf(" with outcome %s", a.Outcome)
}

// Reactions returns the dispatch order of reaction names, a convenience for
// test assertions.
func (r *Result) Reactions() []string {
	out := make([]string, len(r.Dispatches))
	for i, d := range r.Dispatches {
		out[i] = d.Reaction
	}
	return slices.Clip(out)
}

// steppingClock advances by a fixed step on every Now call, so wall-clock
// dependent behavior (deadlines) is reproducible.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now.IsZero() {
		c.now = time.Unix(0, 0)
	}
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *steppingClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
