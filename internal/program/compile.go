// Package program loads reactor topology definitions written in CUE and
// compiles them into the description form the assembler consumes. Handlers
// are bound separately by qualified reaction name, so a topology file stays
// pure structure.
package program

import (
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/hollis-dev/tempest/internal/graph"
)

// CompileError is a compilation failure with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Compile parses a CUE value into a Program description. The value should
// be the program struct itself:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(src)
//	prog, err := program.Compile(v.LookupPath(cue.ParsePath("program")))
//
// Reactors and reactions are CUE lists, not structs, because their order is
// semantic: reaction declaration order decides execution order within a
// reactor.
func Compile(v cue.Value) (*graph.Program, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	prog := &graph.Program{}

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if !nameVal.Exists() {
		return nil, &CompileError{
			Field:   "name",
			Message: "program name is required",
			Pos:     v.Pos(),
		}
	}
	name, err := nameVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	prog.Name = name

	prog.Reactors, err = parseReactors(v)
	if err != nil {
		return nil, err
	}
	if len(prog.Reactors) == 0 {
		return nil, &CompileError{
			Field:   "reactors",
			Message: "at least one reactor is required",
			Pos:     v.Pos(),
		}
	}

	prog.Connections, err = parseConnections(v)
	if err != nil {
		return nil, err
	}

	return prog, nil
}

func parseReactors(v cue.Value) ([]graph.Reactor, error) {
	var reactors []graph.Reactor

	reactorsVal := v.LookupPath(cue.ParsePath("reactors"))
	if !reactorsVal.Exists() {
		return reactors, nil
	}

	iter, err := reactorsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		r, err := parseReactor(iter.Value())
		if err != nil {
			return nil, err
		}
		reactors = append(reactors, r)
	}
	return reactors, nil
}

func parseReactor(v cue.Value) (graph.Reactor, error) {
	var r graph.Reactor

	name, err := requiredString(v, "name")
	if err != nil {
		return r, err
	}
	r.Name = name

	r.Timers, err = parseTimers(v)
	if err != nil {
		return r, err
	}
	r.Actions, err = parseActions(v)
	if err != nil {
		return r, err
	}
	r.Inputs, err = stringList(v, "inputs")
	if err != nil {
		return r, err
	}
	r.Outputs, err = stringList(v, "outputs")
	if err != nil {
		return r, err
	}
	r.Reactions, err = parseReactions(v, r.Name)
	if err != nil {
		return r, err
	}
	return r, nil
}

func parseTimers(v cue.Value) ([]graph.Timer, error) {
	var timers []graph.Timer

	timersVal := v.LookupPath(cue.ParsePath("timers"))
	if !timersVal.Exists() {
		return timers, nil
	}

	iter, err := timersVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		tv := iter.Value()
		name, err := requiredString(tv, "name")
		if err != nil {
			return nil, err
		}
		offset, err := optionalDuration(tv, "offset")
		if err != nil {
			return nil, err
		}
		period, err := optionalDuration(tv, "period")
		if err != nil {
			return nil, err
		}
		timers = append(timers, graph.Timer{Name: name, Offset: offset, Period: period})
	}
	return timers, nil
}

func parseActions(v cue.Value) ([]graph.Action, error) {
	var actions []graph.Action

	actionsVal := v.LookupPath(cue.ParsePath("actions"))
	if !actionsVal.Exists() {
		return actions, nil
	}

	iter, err := actionsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		av := iter.Value()
		name, err := requiredString(av, "name")
		if err != nil {
			return nil, err
		}
		physical := false
		if pv := av.LookupPath(cue.ParsePath("physical")); pv.Exists() {
			physical, err = pv.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
		}
		minDelay, err := optionalDuration(av, "min_delay")
		if err != nil {
			return nil, err
		}
		actions = append(actions, graph.Action{Name: name, Physical: physical, MinDelay: minDelay})
	}
	return actions, nil
}

func parseReactions(v cue.Value, reactor string) ([]graph.Reaction, error) {
	var reactions []graph.Reaction

	reactionsVal := v.LookupPath(cue.ParsePath("reactions"))
	if !reactionsVal.Exists() {
		return reactions, nil
	}

	iter, err := reactionsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		rv := iter.Value()

		var rx graph.Reaction
		if lv := rv.LookupPath(cue.ParsePath("label")); lv.Exists() {
			rx.Label, err = lv.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
		}

		rx.Triggers, err = stringList(rv, "triggers")
		if err != nil {
			return nil, err
		}
		if len(rx.Triggers) == 0 {
			return nil, &CompileError{
				Field:   fmt.Sprintf("reactors.%s.reactions", reactor),
				Message: "a reaction needs at least one trigger",
				Pos:     rv.Pos(),
			}
		}

		rx.Effects, err = stringList(rv, "effects")
		if err != nil {
			return nil, err
		}
		rx.Deadline, err = optionalDuration(rv, "deadline")
		if err != nil {
			return nil, err
		}

		reactions = append(reactions, rx)
	}
	return reactions, nil
}

func parseConnections(v cue.Value) ([]graph.Connection, error) {
	var conns []graph.Connection

	connsVal := v.LookupPath(cue.ParsePath("connections"))
	if !connsVal.Exists() {
		return conns, nil
	}

	iter, err := connsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		cv := iter.Value()

		from, err := requiredEndpoint(cv, "from")
		if err != nil {
			return nil, err
		}
		to, err := requiredEndpoint(cv, "to")
		if err != nil {
			return nil, err
		}

		conn := graph.Connection{From: from, To: to}
		if av := cv.LookupPath(cue.ParsePath("after")); av.Exists() {
			d, err := durationValue(av, "after")
			if err != nil {
				return nil, err
			}
			conn.After = graph.After(d)
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func requiredEndpoint(v cue.Value, field string) (graph.Endpoint, error) {
	s, err := requiredString(v, field)
	if err != nil {
		return graph.Endpoint{}, err
	}
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return graph.Endpoint{}, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("endpoint %q must have the form Reactor.port", s),
			Pos:     v.LookupPath(cue.ParsePath(field)).Pos(),
		}
	}
	return graph.Endpoint{Reactor: s[:i], Port: s[i+1:]}, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Durations are Go duration strings ("51ms", "1.5s"). An absent field
// reads as zero.
func optionalDuration(v cue.Value, field string) (time.Duration, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, nil
	}
	return durationValue(fv, field)
}

func durationValue(fv cue.Value, field string) (time.Duration, error) {
	s, err := fv.String()
	if err != nil {
		return 0, formatCUEError(err)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration %q: %v", s, err),
			Pos:     fv.Pos(),
		}
	}
	if d < 0 {
		return 0, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("duration %q must not be negative", s),
			Pos:     fv.Pos(),
		}
	}
	return d, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
