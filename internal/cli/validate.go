package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hollis-dev/tempest/internal/graph"
	"github.com/hollis-dev/tempest/internal/program"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// ValidationReport is the machine-readable validation result.
type ValidationReport struct {
	Program   string           `json:"program"`
	Reactors  int              `json:"reactors"`
	Reactions []ReactionReport `json:"reactions"`
}

// ReactionReport shows one reaction's assigned execution priority.
type ReactionReport struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <topology.cue>",
		Short: "Compile and assemble a CUE topology",
		Long: `Compile a CUE topology file and assemble its dependency graph.

Assembly checks the structural invariants: names resolve, effect sets only
name local outputs and actions, each input has a single writer, and the
instantaneous dependency graph has no cycle. On success the assigned
reaction priorities are reported.

Examples:
  tempest validate ./topology.cue
  tempest validate ./topology.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	prog, err := program.LoadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile topology", err)
	}

	asm, err := graph.Assemble(prog)
	if err != nil {
		if graphErr, ok := cycleDetail(err); ok {
			return WrapExitError(ExitFailure,
				fmt.Sprintf("zero-delay cycle: %s", strings.Join(graphErr.Cycle, " -> ")), err)
		}
		return WrapExitError(ExitFailure, "assembly failed", err)
	}

	report := ValidationReport{
		Program:  prog.Name,
		Reactors: len(prog.Reactors),
	}
	for i := range asm.Reactions {
		report.Reactions = append(report.Reactions, ReactionReport{
			Name:     asm.Reactions[i].Name,
			Priority: asm.Reactions[i].Priority,
		})
	}

	f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	var b strings.Builder
	fmt.Fprintf(&b, "program %s: %d reactors, %d reactions\n", report.Program, report.Reactors, len(report.Reactions))
	for _, r := range report.Reactions {
		fmt.Fprintf(&b, "  [%d] %s\n", r.Priority, r.Name)
	}
	return f.Success(strings.TrimRight(b.String(), "\n"), report)
}

func cycleDetail(err error) (*graph.Error, bool) {
	var ge *graph.Error
	if errors.As(err, &ge) && ge.Code == graph.ErrCodeCycle {
		return ge, true
	}
	return nil, false
}
