package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hollis-dev/tempest/internal/demo"
	"github.com/hollis-dev/tempest/internal/engine"
	"github.com/hollis-dev/tempest/internal/graph"
	"github.com/hollis-dev/tempest/internal/trace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Fast      bool
	Keepalive bool
	Timeout   time.Duration
	Database  string
}

// RunSummary is the machine-readable result of a run.
type RunSummary struct {
	Program    string `json:"program"`
	Dispatches int    `json:"dispatches"`
	FinalTag   string `json:"final_tag"`
	Digest     string `json:"digest"`
	RunID      string `json:"run_id,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <demo>",
		Short: "Run a built-in reactor program",
		Long: fmt.Sprintf(`Run one of the built-in reactor programs and print a trace summary.

Available demos: %v

With --db the dispatch trace is persisted to SQLite and can be inspected
later with "tempest trace".

Examples:
  tempest run traindoor --fast
  tempest run cache --fast --db ./tempest.db
  tempest run traindoor --timeout 500ms`, demo.Names()),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Fast, "fast", false, "run logical time as fast as computable")
	cmd.Flags().BoolVar(&opts.Keepalive, "keepalive", false, "keep running on an empty queue")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "stop once logical time exceeds this duration")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite trace database (optional)")

	return cmd
}

func runProgram(opts *RunOptions, name string, cmd *cobra.Command) error {
	d, err := demo.Get(name)
	if err != nil {
		return WrapExitError(ExitCommandError, "unknown demo", err)
	}
	prog, handlers := d.Build()

	asm, err := graph.Assemble(prog)
	if err != nil {
		return WrapExitError(ExitFailure, "program does not assemble", err)
	}

	rec := trace.NewRecorder()
	tracer := engine.Tracer(rec)

	var runID string
	if opts.Database != "" {
		st, err := trace.Open(opts.Database, slog.Default())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open trace database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing trace database", "error", closeErr)
			}
		}()

		writer, err := st.BeginRun(cmd.Context(), prog.Name)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to begin run", err)
		}
		runID = writer.RunID()
		tracer = trace.Multi(rec, writer)
	}

	engineOpts := []engine.Option{
		engine.WithFast(opts.Fast),
		engine.WithKeepalive(opts.Keepalive),
		engine.WithTracer(tracer),
	}
	if opts.Timeout > 0 {
		engineOpts = append(engineOpts, engine.WithTimeout(opts.Timeout))
	}

	rt, err := engine.New(asm, handlers, engineOpts...)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build runtime", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, requesting stop", "signal", sig)
			rt.RequestStop()
		case <-ctx.Done():
		}
	}()

	if err := rt.Run(ctx); err != nil && ctx.Err() == nil {
		return WrapExitError(ExitFailure, "run failed", err)
	}

	dispatches := rec.Dispatches()
	digest, err := trace.SnapshotDigest(prog.Name, dispatches)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to digest trace", err)
	}

	summary := RunSummary{
		Program:    prog.Name,
		Dispatches: len(dispatches),
		FinalTag:   rt.CurrentTag().String(),
		Digest:     digest,
		RunID:      runID,
	}

	f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	text := fmt.Sprintf("program %s terminated at %s after %d dispatches\ntrace digest: %s",
		summary.Program, summary.FinalTag, summary.Dispatches, summary.Digest)
	if runID != "" {
		text += fmt.Sprintf("\nrun id: %s", runID)
	}
	return f.Success(text, summary)
}
