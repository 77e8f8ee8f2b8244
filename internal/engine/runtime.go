// Package engine is the logical-time discrete-event scheduling kernel.
//
// The Runtime consumes an assembled dependency graph (internal/graph) plus
// opaque reaction bodies and drives them: it pops the earliest pending tag,
// advances logical time to it, dispatches the sensitive reactions in
// precomputed priority order with deadline checks, and repeats until the
// queue drains (or keepalive holds it open for physical actions).
//
// Thread-safety model, inherited from the single-writer design this engine
// descends from:
//   - Run():              exactly one goroutine; all reaction bodies and all
//     reactor state mutations happen here
//   - SchedulePhysical(): safe from any goroutine; producers only enqueue
//     tagged events, they never invoke reactions
//   - RequestStop():      safe from any goroutine
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hollis-dev/tempest/internal/graph"
	"github.com/hollis-dev/tempest/internal/tag"
)

// State is the scheduler lifecycle state.
type State int32

const (
	// StateIdle holds until the startup reactions complete.
	StateIdle State = iota
	// StateRunning is the normal dispatch loop.
	StateRunning
	// StateDraining means a stop was requested and the shutdown tag is
	// being executed.
	StateDraining
	// StateTerminating is terminal; the queue is closed.
	StateTerminating
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminating:
		return "terminating"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ReactionFunc is an opaque reaction body supplied by the application
// layer. It receives a Context restricted to the reaction's declared
// trigger and effect sets.
type ReactionFunc func(c *Context) error

// Handler pairs a reaction body with its optional deadline-violation
// handler. When the wall clock has passed the deadline at dispatch time,
// OnDeadlineMiss runs instead of Body; with no handler the violation is
// only reported.
type Handler struct {
	Body           ReactionFunc
	OnDeadlineMiss ReactionFunc
}

// Handlers maps qualified reaction names ("Reactor.label") to handlers.
type Handlers map[string]Handler

// Option configures a Runtime.
type Option func(*Runtime)

// WithKeepalive keeps the loop alive on an empty queue, blocking until a
// physical action or stop request produces a new event. Required for
// programs driven by asynchronous input.
func WithKeepalive(keepalive bool) Option {
	return func(r *Runtime) { r.keepalive = keepalive }
}

// WithTimeout stops scheduling once logical time would exceed d: queued
// events at or below the timeout instant still run, then shutdown fires.
// With keepalive, an empty-queue wait is bounded by the wall-clock time
// remaining to the timeout instant, since no physical action arriving
// later could be tagged at or below it.
func WithTimeout(d time.Duration) Option {
	return func(r *Runtime) { r.timeout = d; r.hasTimeout = true }
}

// WithFast decouples execution from real time: logical tags run as fast as
// computable. Without it the loop throttles so logical time tracks the
// wall clock, which is required whenever physical actions or real I/O are
// in play.
func WithFast(fast bool) Option {
	return func(r *Runtime) { r.fast = fast }
}

// WithWallClock injects the physical clock. Tests use it to force or avoid
// deadline violations deterministically.
func WithWallClock(w WallClock) Option {
	return func(r *Runtime) { r.wall = w }
}

// WithTracer attaches a dispatch-stream recorder.
func WithTracer(t Tracer) Option {
	return func(r *Runtime) { r.tracer = t }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

// Runtime is the scheduler. Create with New, drive with Run.
type Runtime struct {
	asm      *graph.Assembly
	handlers []Handler
	queue    *eventQueue
	wall     WallClock
	tracer   Tracer
	log      *slog.Logger

	keepalive  bool
	fast       bool
	timeout    time.Duration
	hasTimeout bool

	state        atomic.Int32
	arrival      atomic.Int64
	shutdownDone atomic.Bool

	mu        sync.Mutex
	started   bool
	startWall time.Time
	current   tag.Tag
	stopTag   tag.Tag

	// Per-tag trigger state. Loop goroutine only: values are visible to
	// reactions exactly while their tag is current, then cleared, so a
	// declared-but-absent trigger reads as "not present", never stale.
	present []bool
	values  []any
	touched []graph.TriggerID
}

// New builds a Runtime for an assembled program. Every reaction in the
// assembly must have a handler with a non-nil body, and every handler must
// match a reaction; anything else is a wiring bug surfaced immediately.
func New(asm *graph.Assembly, handlers Handlers, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		asm:     asm,
		queue:   newEventQueue(),
		wall:    SystemClock{},
		log:     slog.Default(),
		stopTag: tag.Forever,
		present: make([]bool, len(asm.Triggers)),
		values:  make([]any, len(asm.Triggers)),
	}

	for name := range handlers {
		if _, ok := asm.ReactionByName(name); !ok {
			return nil, fmt.Errorf("handler %q does not match any reaction", name)
		}
	}
	r.handlers = make([]Handler, len(asm.Reactions))
	for i := range asm.Reactions {
		name := asm.Reactions[i].Name
		h, ok := handlers[name]
		if !ok || h.Body == nil {
			return nil, fmt.Errorf("no handler body for reaction %s", name)
		}
		r.handlers[i] = h
	}

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// State returns the current lifecycle state. Safe from any goroutine.
func (r *Runtime) State() State {
	return State(r.state.Load())
}

// CurrentTag returns the logical tag the scheduler last advanced to.
// Safe from any goroutine.
func (r *Runtime) CurrentTag() tag.Tag {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// QueueLen returns the number of pending events. Useful for monitoring and
// testing.
func (r *Runtime) QueueLen() int {
	return r.queue.Len()
}

// RequestStop schedules the final shutdown tag one microstep after the
// current one. Events strictly after the shutdown tag are cancelled.
// Safe from any goroutine; the only cancellation primitive.
func (r *Runtime) RequestStop() {
	r.mu.Lock()
	if r.stopTag == tag.Forever {
		if r.started {
			r.stopTag = r.current.Next()
		} else {
			r.stopTag = tag.Start
		}
		r.log.Info("stop requested", "shutdown_tag", r.stopTag.String())
	}
	r.mu.Unlock()
	r.queue.Poke()
}

// SchedulePhysical enqueues a value on a physical action from an
// asynchronous producer (sensor callback, key press, network input).
//
// The resulting tag's time component is max(wall-clock now, current logical
// time + 1ns), so physical events can never appear to arrive at or before
// the currently-executing logical time; microstep resets to zero. Safe
// from any goroutine: this only enqueues, the loop remains the sole
// dispatcher.
func (r *Runtime) SchedulePhysical(name string, v any) error {
	tid, ok := r.asm.TriggerByName(name)
	if !ok {
		return &Error{Code: ErrCodeUnknownTrigger, Message: fmt.Sprintf("no trigger %q", name)}
	}
	info := &r.asm.Triggers[tid]
	if info.Kind != graph.KindPhysicalAction {
		return &Error{
			Code:    ErrCodeUnknownTrigger,
			Message: fmt.Sprintf("%s is a %s, not a physical action", name, info.Kind),
			Trigger: name,
		}
	}

	r.mu.Lock()
	started := r.started
	cur := r.current
	start := r.startWall
	r.mu.Unlock()

	if !started || r.State() == StateTerminating {
		return &Error{Code: ErrCodeNotRunning, Message: "scheduler is not running", Trigger: name}
	}

	elapsed := int64(r.wall.Now().Sub(start) + info.MinDelay)
	if elapsed <= cur.Time {
		elapsed = cur.Time + 1
	}
	t := tag.Tag{Time: elapsed}

	if !r.pushEvent(t, tid, v) {
		return &Error{Code: ErrCodeNotRunning, Message: "scheduler has terminated", Trigger: name, Tag: t}
	}
	return nil
}

// Run starts the scheduler loop and blocks until termination: queue empty
// without keepalive, timeout reached, stop requested, or ctx cancelled.
// Must be called from exactly one goroutine, exactly once.
func (r *Runtime) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("runtime already started")
	}
	r.started = true
	r.startWall = r.wall.Now()
	r.mu.Unlock()

	r.log.Info("scheduler starting",
		"program", r.asm.Program.Name,
		"fast", r.fast,
		"keepalive", r.keepalive,
		"timeout", r.timeout,
	)

	// Seed the first tag: startup plus the first occurrence of every timer.
	r.pushEvent(tag.Start, r.asm.Startup, nil)
	for i := range r.asm.Triggers {
		ti := &r.asm.Triggers[i]
		if ti.Kind == graph.KindTimer {
			r.pushEvent(tag.Tag{Time: int64(ti.Offset)}, ti.ID, nil)
		}
	}

	ceiling := tag.Forever
	if r.hasTimeout {
		ceiling = tag.Tag{Time: int64(r.timeout), Microstep: math.MaxUint32}
	}

	for {
		if ctx.Err() != nil {
			r.shutdown(r.effectiveStopTag())
			return ctx.Err()
		}

		next, ok := r.queue.MinTag()
		stop := r.loadStopTag()

		if !ok {
			if stop != tag.Forever {
				r.shutdown(stop)
				return nil
			}
			if !r.keepalive {
				r.shutdown(r.effectiveStopTag())
				return nil
			}
			// Keepalive: block until a physical action or stop request
			// produces a new event. A configured timeout still bounds the
			// wait, because once the wall clock passes the timeout instant
			// no future physical action can be tagged at or below it.
			var expired <-chan time.Time
			if r.hasTimeout {
				remaining := r.timeout - r.wallElapsed()
				if remaining <= 0 {
					r.shutdown(r.timeoutStopTag())
					return nil
				}
				expired = r.wall.After(remaining)
			}
			select {
			case <-ctx.Done():
				r.shutdown(r.effectiveStopTag())
				return ctx.Err()
			case <-expired:
				r.shutdown(r.timeoutStopTag())
				return nil
			case <-r.queue.Wait():
			}
			continue
		}

		if next.After(stop) {
			r.shutdown(stop)
			return nil
		}
		if next.After(ceiling) {
			r.shutdown(r.timeoutStopTag())
			return nil
		}

		if !r.fast {
			// Throttle: logical time must not run ahead of the wall clock.
			// The wait races against new-event arrival because a physical
			// action may produce an earlier tag than the one we sleep for.
			if wait := next.Elapsed() - r.wallElapsed(); wait > 0 {
				select {
				case <-ctx.Done():
					r.shutdown(r.effectiveStopTag())
					return ctx.Err()
				case <-r.wall.After(wait):
				case <-r.queue.Wait():
					continue
				}
			}
		}

		events := r.queue.PopTag(next)
		if len(events) == 0 {
			continue
		}
		r.setCurrent(next)
		r.dispatch(next, events)
		if r.State() == StateIdle {
			r.state.Store(int32(StateRunning))
		}
	}
}

// shutdown runs the shutdown reactions exactly once at the given tag,
// cancels everything queued beyond it, and terminates.
func (r *Runtime) shutdown(at tag.Tag) {
	if !r.shutdownDone.CompareAndSwap(false, true) {
		return
	}

	// The shutdown tag must order after everything already dispatched; a
	// stop tag captured before the loop advanced may lag behind.
	r.mu.Lock()
	if !at.After(r.current) && (r.current != tag.Start || r.State() != StateIdle) {
		at = r.current.Next()
	}
	r.mu.Unlock()

	r.state.Store(int32(StateDraining))
	r.log.Info("scheduler draining", "shutdown_tag", at.String())

	// Merge events already queued at the shutdown tag into its dispatch.
	events := r.queue.PopTag(at)
	events = append(events, &event{tag: at, trigger: r.asm.Shutdown, seq: r.arrival.Add(1)})
	r.setCurrent(at)
	r.dispatch(at, events)

	r.state.Store(int32(StateTerminating))
	if dropped := r.queue.Len(); dropped > 0 {
		r.log.Info("cancelled events beyond shutdown tag", "count", dropped)
	}
	r.queue.Close()
	r.log.Info("scheduler terminated", "tag", at.String())
}

func (r *Runtime) loadStopTag() tag.Tag {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopTag
}

// effectiveStopTag is the shutdown tag when no explicit stop was requested:
// one microstep after the current tag.
func (r *Runtime) effectiveStopTag() tag.Tag {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopTag != tag.Forever {
		return r.stopTag
	}
	return r.current.Next()
}

func (r *Runtime) timeoutStopTag() tag.Tag {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current.Time == int64(r.timeout) {
		return r.current.Next()
	}
	return tag.Tag{Time: int64(r.timeout)}
}

func (r *Runtime) setCurrent(t tag.Tag) {
	r.mu.Lock()
	r.current = t
	r.mu.Unlock()
}

func (r *Runtime) wallElapsed() time.Duration {
	r.mu.Lock()
	start := r.startWall
	r.mu.Unlock()
	return r.wall.Now().Sub(start)
}

func (r *Runtime) pushEvent(t tag.Tag, tid graph.TriggerID, v any) bool {
	ok := r.queue.Push(&event{tag: t, trigger: tid, value: v, seq: r.arrival.Add(1)})
	if !ok {
		r.log.Debug("event dropped after termination",
			"trigger", r.asm.Triggers[tid].Name,
			"tag", t.String(),
		)
	}
	return ok
}
