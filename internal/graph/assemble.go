package graph

import (
	"fmt"
	"time"
)

// TriggerID indexes into Assembly.Triggers.
type TriggerID int

// ReactionID indexes into Assembly.Reactions.
type ReactionID int

// TriggerKind distinguishes the trigger flavors.
type TriggerKind int

const (
	KindTimer TriggerKind = iota + 1
	KindLogicalAction
	KindPhysicalAction
	KindInput
	KindOutput
	KindStartup
	KindShutdown
)

// String returns the kind name used in traces and error messages.
func (k TriggerKind) String() string {
	switch k {
	case KindTimer:
		return "timer"
	case KindLogicalAction:
		return "logical_action"
	case KindPhysicalAction:
		return "physical_action"
	case KindInput:
		return "input"
	case KindOutput:
		return "output"
	case KindStartup:
		return "startup"
	case KindShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("TriggerKind(%d)", int(k))
	}
}

// TriggerInfo is one entry in the trigger arena.
type TriggerInfo struct {
	ID      TriggerID
	Name    string // qualified "Reactor.local", or "startup"/"shutdown"
	Local   string
	Kind    TriggerKind
	Reactor int // index into Program.Reactors; -1 for lifecycle triggers

	// Timer parameters (KindTimer only).
	Offset time.Duration
	Period time.Duration

	// Minimum scheduling delay (action kinds only).
	MinDelay time.Duration
}

// Delivery is one resolved connection out of an output port.
type Delivery struct {
	To    TriggerID
	After *time.Duration // nil = instantaneous
}

// ReactionInfo is one entry in the reaction arena. Priority is the single
// linear order used at dispatch time: lower runs first at a shared tag.
type ReactionInfo struct {
	ID       ReactionID
	Name     string // qualified "Reactor.label"
	Reactor  int
	Index    int // declaration index within the reactor
	Priority int
	Deadline time.Duration
	Triggers []TriggerID
	Effects  []TriggerID
}

// Assembly is the validated, priority-ordered form of a Program. It holds
// indices into arenas rather than live object references, so it is
// acyclic-checkable and independent of any runtime instance.
type Assembly struct {
	Program   *Program
	Triggers  []TriggerInfo
	Reactions []ReactionInfo

	Startup  TriggerID
	Shutdown TriggerID

	// Dependents[t] lists the reactions triggered by t, sorted by priority.
	Dependents [][]ReactionID

	// Deliveries[t] lists the connections out of output port t, in
	// connection declaration order.
	Deliveries [][]Delivery

	byName         map[string]TriggerID
	reactionByName map[string]ReactionID
	locals         []map[string]TriggerID
	triggerSets    []map[TriggerID]bool
	effectSets     []map[TriggerID]bool
}

// TriggerByName resolves a qualified trigger name ("Reactor.port",
// "startup", "shutdown").
func (a *Assembly) TriggerByName(name string) (TriggerID, bool) {
	id, ok := a.byName[name]
	return id, ok
}

// ReactionByName resolves a qualified reaction name ("Reactor.label").
func (a *Assembly) ReactionByName(name string) (ReactionID, bool) {
	id, ok := a.reactionByName[name]
	return id, ok
}

// Local resolves a reactor-local trigger name. Lifecycle names resolve for
// every reactor.
func (a *Assembly) Local(reactor int, name string) (TriggerID, bool) {
	switch name {
	case ReservedStartup:
		return a.Startup, true
	case ReservedShutdown:
		return a.Shutdown, true
	}
	if reactor < 0 || reactor >= len(a.locals) {
		return 0, false
	}
	id, ok := a.locals[reactor][name]
	return id, ok
}

// DeclaresTrigger reports whether reaction r declares trigger t in its
// trigger set.
func (a *Assembly) DeclaresTrigger(r ReactionID, t TriggerID) bool {
	return a.triggerSets[r][t]
}

// DeclaresEffect reports whether reaction r declares trigger t in its
// effect set.
func (a *Assembly) DeclaresEffect(r ReactionID, t TriggerID) bool {
	return a.effectSets[r][t]
}

// Assemble validates a program description and builds the dependency graph:
// trigger and reaction arenas, per-trigger dependent sets, resolved
// connections, and a topological priority per reaction.
//
// Assembly fails loudly (*Error) on description defects, including any
// cycle among instantaneous connections; such a cycle makes same-tag
// semantics undefined and must never be silently dropped.
func Assemble(p *Program) (*Assembly, error) {
	a := &Assembly{
		Program:        p,
		byName:         make(map[string]TriggerID),
		reactionByName: make(map[string]ReactionID),
		locals:         make([]map[string]TriggerID, len(p.Reactors)),
	}

	a.Startup = a.addTrigger(TriggerInfo{Name: ReservedStartup, Local: ReservedStartup, Kind: KindStartup, Reactor: -1})
	a.Shutdown = a.addTrigger(TriggerInfo{Name: ReservedShutdown, Local: ReservedShutdown, Kind: KindShutdown, Reactor: -1})

	if err := a.buildTriggers(); err != nil {
		return nil, err
	}
	if err := a.buildReactions(); err != nil {
		return nil, err
	}
	if err := a.buildConnections(); err != nil {
		return nil, err
	}
	if err := a.assignPriorities(); err != nil {
		return nil, err
	}

	// Dependent sets are consulted on every dispatch; pre-sort by priority
	// so the dispatcher only merges, never sorts.
	for t := range a.Dependents {
		deps := a.Dependents[t]
		for i := 1; i < len(deps); i++ {
			for j := i; j > 0 && a.Reactions[deps[j]].Priority < a.Reactions[deps[j-1]].Priority; j-- {
				deps[j], deps[j-1] = deps[j-1], deps[j]
			}
		}
	}

	return a, nil
}

func (a *Assembly) addTrigger(info TriggerInfo) TriggerID {
	info.ID = TriggerID(len(a.Triggers))
	a.Triggers = append(a.Triggers, info)
	a.byName[info.Name] = info.ID
	a.Dependents = append(a.Dependents, nil)
	a.Deliveries = append(a.Deliveries, nil)
	return info.ID
}

func (a *Assembly) buildTriggers() error {
	seenReactor := make(map[string]bool, len(a.Program.Reactors))

	for ri := range a.Program.Reactors {
		r := &a.Program.Reactors[ri]
		if r.Name == "" {
			return &Error{Code: ErrCodeDuplicateName, Message: "reactor name must not be empty"}
		}
		if seenReactor[r.Name] {
			return &Error{Code: ErrCodeDuplicateName, Message: fmt.Sprintf("duplicate reactor name %q", r.Name)}
		}
		seenReactor[r.Name] = true

		local := make(map[string]TriggerID)
		a.locals[ri] = local

		add := func(name string, info TriggerInfo) error {
			if name == ReservedStartup || name == ReservedShutdown {
				return &Error{
					Code:    ErrCodeDuplicateName,
					Message: fmt.Sprintf("%q is a reserved trigger name", name),
					Reactor: r.Name,
				}
			}
			if _, dup := local[name]; dup {
				return &Error{
					Code:    ErrCodeDuplicateName,
					Message: fmt.Sprintf("duplicate trigger name %q", name),
					Reactor: r.Name,
				}
			}
			info.Name = r.Name + "." + name
			info.Local = name
			info.Reactor = ri
			local[name] = a.addTrigger(info)
			return nil
		}

		for _, tm := range r.Timers {
			if err := add(tm.Name, TriggerInfo{Kind: KindTimer, Offset: tm.Offset, Period: tm.Period}); err != nil {
				return err
			}
		}
		for _, act := range r.Actions {
			kind := KindLogicalAction
			if act.Physical {
				kind = KindPhysicalAction
			}
			if err := add(act.Name, TriggerInfo{Kind: kind, MinDelay: act.MinDelay}); err != nil {
				return err
			}
		}
		for _, in := range r.Inputs {
			if err := add(in, TriggerInfo{Kind: KindInput}); err != nil {
				return err
			}
		}
		for _, out := range r.Outputs {
			if err := add(out, TriggerInfo{Kind: KindOutput}); err != nil {
				return err
			}
		}
	}

	return nil
}

func (a *Assembly) buildReactions() error {
	for ri := range a.Program.Reactors {
		r := &a.Program.Reactors[ri]

		for i := range r.Reactions {
			decl := &r.Reactions[i]

			label := decl.Label
			if label == "" {
				label = fmt.Sprintf("reaction_%d", i)
			}
			name := r.Name + "." + label
			if _, dup := a.reactionByName[name]; dup {
				return &Error{
					Code:    ErrCodeDuplicateName,
					Message: fmt.Sprintf("duplicate reaction label %q", label),
					Reactor: r.Name,
				}
			}

			info := ReactionInfo{
				ID:       ReactionID(len(a.Reactions)),
				Name:     name,
				Reactor:  ri,
				Index:    i,
				Deadline: decl.Deadline,
			}

			if len(decl.Triggers) == 0 {
				return &Error{
					Code:    ErrCodeUnknownTrigger,
					Message: fmt.Sprintf("reaction %q declares no triggers", name),
					Reactor: r.Name,
				}
			}
			for _, tn := range decl.Triggers {
				tid, ok := a.Local(ri, tn)
				if !ok {
					return &Error{
						Code:    ErrCodeUnknownTrigger,
						Message: fmt.Sprintf("reaction %q: unknown trigger %q", name, tn),
						Reactor: r.Name,
					}
				}
				if a.Triggers[tid].Kind == KindOutput {
					return &Error{
						Code:    ErrCodeUnknownTrigger,
						Message: fmt.Sprintf("reaction %q: output %q cannot be a trigger", name, tn),
						Reactor: r.Name,
					}
				}
				info.Triggers = append(info.Triggers, tid)
			}

			for _, en := range decl.Effects {
				tid, ok := a.Local(ri, en)
				if !ok {
					return &Error{
						Code:    ErrCodeBadEffect,
						Message: fmt.Sprintf("reaction %q: unknown effect %q", name, en),
						Reactor: r.Name,
					}
				}
				switch a.Triggers[tid].Kind {
				case KindOutput, KindLogicalAction, KindPhysicalAction:
					// writable
				default:
					return &Error{
						Code:    ErrCodeBadEffect,
						Message: fmt.Sprintf("reaction %q: effect %q must be an output or action, not a %s", name, en, a.Triggers[tid].Kind),
						Reactor: r.Name,
					}
				}
				info.Effects = append(info.Effects, tid)
			}

			a.reactionByName[name] = info.ID
			a.Reactions = append(a.Reactions, info)
			for _, tid := range info.Triggers {
				a.Dependents[tid] = append(a.Dependents[tid], info.ID)
			}

			triggers := make(map[TriggerID]bool, len(info.Triggers))
			for _, tid := range info.Triggers {
				triggers[tid] = true
			}
			a.triggerSets = append(a.triggerSets, triggers)

			effects := make(map[TriggerID]bool, len(info.Effects))
			for _, e := range info.Effects {
				effects[e] = true
			}
			a.effectSets = append(a.effectSets, effects)
		}
	}

	return nil
}

func (a *Assembly) buildConnections() error {
	written := make(map[TriggerID]string) // input -> source name, single-writer check

	for _, c := range a.Program.Connections {
		from, err := a.resolveEndpoint(c.From, KindOutput)
		if err != nil {
			return err
		}
		to, err := a.resolveEndpoint(c.To, KindInput)
		if err != nil {
			return err
		}
		if prev, dup := written[to]; dup {
			return &Error{
				Code: ErrCodeBadConnection,
				Message: fmt.Sprintf("input %s has two writers: %s and %s",
					a.Triggers[to].Name, prev, a.Triggers[from].Name),
			}
		}
		written[to] = a.Triggers[from].Name
		a.Deliveries[from] = append(a.Deliveries[from], Delivery{To: to, After: c.After})
	}

	return nil
}

func (a *Assembly) resolveEndpoint(ep Endpoint, want TriggerKind) (TriggerID, error) {
	tid, ok := a.byName[ep.Reactor+"."+ep.Port]
	if !ok {
		return 0, &Error{
			Code:    ErrCodeBadConnection,
			Message: fmt.Sprintf("no such port %s.%s", ep.Reactor, ep.Port),
		}
	}
	if got := a.Triggers[tid].Kind; got != want {
		return 0, &Error{
			Code:    ErrCodeBadConnection,
			Message: fmt.Sprintf("%s.%s is a %s, expected %s", ep.Reactor, ep.Port, got, want),
		}
	}
	return tid, nil
}

// assignPriorities computes the single linear priority per reaction.
//
// Edges of the instantaneous-causality graph:
//   - declaration order within a reactor (reaction i precedes i+1), and
//   - effect feeds trigger across an instantaneous (no-after) connection.
//
// Delayed connections (After non-nil, including zero) strictly increase the
// tag and are excluded by construction. Remaining freedom is resolved by
// declaration order: among ready reactions the lowest arena index wins, so
// the order is stable across runs.
func (a *Assembly) assignPriorities() error {
	n := len(a.Reactions)
	adj := make([][]int, n)
	indeg := make([]int, n)

	addEdge := func(from, to int) {
		adj[from] = append(adj[from], to)
		indeg[to]++
	}

	for i := 1; i < n; i++ {
		if a.Reactions[i].Reactor == a.Reactions[i-1].Reactor {
			addEdge(i-1, i)
		}
	}

	for ri := range a.Reactions {
		for _, eff := range a.Reactions[ri].Effects {
			if a.Triggers[eff].Kind != KindOutput {
				continue
			}
			for _, d := range a.Deliveries[eff] {
				if d.After != nil {
					continue // temporally decoupled
				}
				for _, dep := range a.Dependents[d.To] {
					addEdge(ri, int(dep))
				}
			}
		}
	}

	done := make([]bool, n)
	for prio := 0; prio < n; prio++ {
		pick := -1
		for i := 0; i < n; i++ {
			if !done[i] && indeg[i] == 0 {
				pick = i
				break
			}
		}
		if pick == -1 {
			return &Error{
				Code:    ErrCodeCycle,
				Message: "cycle among instantaneous connections",
				Cycle:   a.findCycle(adj, done),
			}
		}
		done[pick] = true
		a.Reactions[pick].Priority = prio
		for _, to := range adj[pick] {
			indeg[to]--
		}
	}

	return nil
}

// findCycle extracts one concrete cycle among the not-yet-ordered reactions
// so the error names the offenders instead of just declaring failure.
func (a *Assembly) findCycle(adj [][]int, done []bool) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(adj))
	var stack []int
	var cycle []string

	var visit func(v int) bool
	visit = func(v int) bool {
		color[v] = gray
		stack = append(stack, v)
		for _, w := range adj[v] {
			if done[w] || color[w] == black {
				continue
			}
			if color[w] == gray {
				// Found it: slice the stack from w's position.
				for i, s := range stack {
					if s == w {
						for _, id := range stack[i:] {
							cycle = append(cycle, a.Reactions[id].Name)
						}
						cycle = append(cycle, a.Reactions[w].Name)
						return true
					}
				}
			}
			if visit(w) {
				return true
			}
		}
		color[v] = black
		stack = stack[:len(stack)-1]
		return false
	}

	for v := range adj {
		if !done[v] && color[v] == white {
			if visit(v) {
				return cycle
			}
		}
	}
	return nil
}
