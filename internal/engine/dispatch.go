package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hollis-dev/tempest/internal/graph"
	"github.com/hollis-dev/tempest/internal/tag"
)

// agenda is the per-tag worklist of reactions, ordered by precomputed
// priority. A reaction is queued at most once per tag no matter how many of
// its triggers are present; the dedup that enforces the once-per-tag
// invariant.
type agenda struct {
	asm    *graph.Assembly
	heap   []graph.ReactionID
	queued []bool
}

func newAgenda(asm *graph.Assembly) *agenda {
	return &agenda{asm: asm, queued: make([]bool, len(asm.Reactions))}
}

func (a *agenda) prio(id graph.ReactionID) int {
	return a.asm.Reactions[id].Priority
}

func (a *agenda) add(id graph.ReactionID) {
	if a.queued[id] {
		return
	}
	a.queued[id] = true
	a.heap = append(a.heap, id)
	for i := len(a.heap) - 1; i > 0; {
		parent := (i - 1) / 2
		if a.prio(a.heap[parent]) <= a.prio(a.heap[i]) {
			break
		}
		a.heap[parent], a.heap[i] = a.heap[i], a.heap[parent]
		i = parent
	}
}

func (a *agenda) len() int { return len(a.heap) }

func (a *agenda) pop() graph.ReactionID {
	top := a.heap[0]
	last := len(a.heap) - 1
	a.heap[0] = a.heap[last]
	a.heap = a.heap[:last]
	for i := 0; ; {
		left, right := 2*i+1, 2*i+2
		min := i
		if left < len(a.heap) && a.prio(a.heap[left]) < a.prio(a.heap[min]) {
			min = left
		}
		if right < len(a.heap) && a.prio(a.heap[right]) < a.prio(a.heap[min]) {
			min = right
		}
		if min == i {
			break
		}
		a.heap[i], a.heap[min] = a.heap[min], a.heap[i]
		i = min
	}
	return top
}

// dispatch executes everything at tag t: deliver the popped events to their
// triggers, run the dependent reactions in priority order, and clear
// trigger state afterwards. Instantaneous port writes during execution feed
// the same agenda, so a whole zero-delay chain resolves within one tag.
// Same-time microstep events scheduled here re-enter through the queue and
// become the next loop iteration; a time instant is not done until no
// reaction schedules another microstep at it.
func (r *Runtime) dispatch(t tag.Tag, events []*event) {
	ag := newAgenda(r.asm)

	for _, ev := range events {
		ti := &r.asm.Triggers[ev.trigger]
		r.setPresent(ev.trigger, ev.value)
		if ti.Kind == graph.KindTimer && ti.Period > 0 {
			r.pushEvent(t.Delay(ti.Period), ti.ID, nil)
		}
		for _, dep := range r.asm.Dependents[ev.trigger] {
			ag.add(dep)
		}
	}

	for ag.len() > 0 {
		r.invoke(ag.pop(), t, ag)
	}

	for _, tid := range r.touched {
		r.present[tid] = false
		r.values[tid] = nil
	}
	r.touched = r.touched[:0]
}

// invoke runs one reaction at tag t, checking its deadline first. A
// deadline gates whether the normal body executes; violations run the
// declared handler (or are only reported), exactly once, never retried,
// and never stall the scheduler.
func (r *Runtime) invoke(rid graph.ReactionID, t tag.Tag, ag *agenda) {
	info := &r.asm.Reactions[rid]
	h := r.handlers[rid]
	c := &Context{rt: r, id: rid, tag: t, agenda: ag}

	outcome := OutcomeOK
	if info.Deadline > 0 && r.wallElapsed() > t.Elapsed()+info.Deadline {
		outcome = OutcomeDeadlineMiss
		r.log.Warn("deadline violated",
			"reaction", info.Name,
			"tag", t.String(),
			"deadline", info.Deadline,
		)
		if h.OnDeadlineMiss != nil {
			if err := h.OnDeadlineMiss(c); err != nil {
				r.log.Error("deadline handler failed",
					"reaction", info.Name,
					"tag", t.String(),
					"error", err,
				)
			}
		}
	} else if err := h.Body(c); err != nil {
		// Log and continue: a retry would make replay non-deterministic.
		outcome = OutcomeError
		r.log.Error("reaction failed",
			"reaction", info.Name,
			"tag", t.String(),
			"error", err,
		)
	}

	if r.tracer != nil {
		r.tracer.Record(Dispatch{
			Tag:      t,
			Reactor:  r.asm.Program.Reactors[info.Reactor].Name,
			Reaction: info.Name,
			Outcome:  outcome,
		})
	}
}

func (r *Runtime) setPresent(tid graph.TriggerID, v any) {
	if !r.present[tid] {
		r.touched = append(r.touched, tid)
	}
	r.present[tid] = true
	r.values[tid] = v
}

// Context is the view a reaction body gets of the runtime: read access to
// its declared triggers, write access to its declared effects, and logical
// scheduling. Valid only for the duration of the invocation.
type Context struct {
	rt     *Runtime
	id     graph.ReactionID
	tag    tag.Tag
	agenda *agenda
}

// Tag returns the tag being dispatched.
func (c *Context) Tag() tag.Tag { return c.tag }

// LogicalElapsed returns logical time elapsed since startup.
func (c *Context) LogicalElapsed() time.Duration { return c.tag.Elapsed() }

// Logger returns the runtime logger.
func (c *Context) Logger() *slog.Logger { return c.rt.log }

// RequestStop raises the stop request from inside a reaction.
func (c *Context) RequestStop() { c.rt.RequestStop() }

func (c *Context) resolve(name string) (graph.TriggerID, error) {
	info := &c.rt.asm.Reactions[c.id]
	tid, ok := c.rt.asm.Local(info.Reactor, name)
	if !ok {
		return 0, &Error{
			Code:    ErrCodeUnknownTrigger,
			Message: fmt.Sprintf("reaction %s: no trigger %q on its reactor", info.Name, name),
		}
	}
	return tid, nil
}

// Get returns the value of a trigger in the reaction's declared trigger set
// and whether it is present at the current tag. Declared-but-absent
// triggers read as not present. Triggers outside the declared set are never
// visible, mirroring how Set and Schedule are bound to the effect set.
func (c *Context) Get(name string) (any, bool) {
	tid, err := c.resolve(name)
	if err != nil {
		return nil, false
	}
	if !c.rt.asm.DeclaresTrigger(c.id, tid) {
		return nil, false
	}
	if !c.rt.present[tid] {
		return nil, false
	}
	return c.rt.values[tid], true
}

// Present reports whether a local trigger is present at the current tag.
func (c *Context) Present(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Set writes a value to an output port in the reaction's declared effect
// set. Instantaneous connections deliver within the current tag; delayed
// connections enqueue downstream events at (t+d, 0), or (t, m+1) for a
// zero after-delay.
func (c *Context) Set(name string, v any) error {
	tid, err := c.resolve(name)
	if err != nil {
		return err
	}
	info := &c.rt.asm.Triggers[tid]
	if info.Kind != graph.KindOutput {
		return &Error{
			Code:    ErrCodeUndeclaredEffect,
			Message: fmt.Sprintf("%s is a %s, not an output", info.Name, info.Kind),
			Trigger: info.Name,
		}
	}
	if !c.rt.asm.DeclaresEffect(c.id, tid) {
		return &Error{
			Code:    ErrCodeUndeclaredEffect,
			Message: fmt.Sprintf("reaction %s does not declare effect %s", c.rt.asm.Reactions[c.id].Name, info.Name),
			Trigger: info.Name,
		}
	}

	c.rt.setPresent(tid, v)
	for _, d := range c.rt.asm.Deliveries[tid] {
		if d.After == nil {
			c.rt.setPresent(d.To, v)
			for _, dep := range c.rt.asm.Dependents[d.To] {
				c.agenda.add(dep)
			}
		} else {
			c.rt.pushEvent(c.tag.Delay(*d.After), d.To, v)
		}
	}
	return nil
}

// Schedule enqueues a future event on an action in the reaction's declared
// effect set, relative to the current logical time: delay d > 0 yields
// (t+d, 0), d == 0 yields (t, m+1). Deterministic: no wall clock involved.
// A negative delay is a scheduling error: reported, dropped, and the
// program continues.
func (c *Context) Schedule(name string, delay time.Duration, v any) error {
	tid, err := c.resolve(name)
	if err != nil {
		return err
	}
	info := &c.rt.asm.Triggers[tid]
	if info.Kind != graph.KindLogicalAction && info.Kind != graph.KindPhysicalAction {
		return &Error{
			Code:    ErrCodeUndeclaredEffect,
			Message: fmt.Sprintf("%s is a %s, not an action", info.Name, info.Kind),
			Trigger: info.Name,
		}
	}
	if !c.rt.asm.DeclaresEffect(c.id, tid) {
		return &Error{
			Code:    ErrCodeUndeclaredEffect,
			Message: fmt.Sprintf("reaction %s does not declare effect %s", c.rt.asm.Reactions[c.id].Name, info.Name),
			Trigger: info.Name,
		}
	}
	if delay < 0 {
		return &Error{
			Code:    ErrCodePastTag,
			Message: fmt.Sprintf("delay %s would schedule before the current tag", delay),
			Trigger: info.Name,
			Tag:     c.tag,
		}
	}

	c.rt.pushEvent(c.tag.Delay(delay+info.MinDelay), tid, v)
	return nil
}
