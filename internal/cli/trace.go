package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hollis-dev/tempest/internal/engine"
	"github.com/hollis-dev/tempest/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	List     bool
}

// TraceRow is one dispatch in the machine-readable trace output.
type TraceRow struct {
	TimeNS    int64  `json:"time_ns"`
	Microstep uint32 `json:"microstep"`
	Reactor   string `json:"reactor"`
	Reaction  string `json:"reaction"`
	Outcome   string `json:"outcome"`
}

// TraceReport is the full trace of one recorded run.
type TraceReport struct {
	RunID     string     `json:"run_id"`
	Program   string     `json:"program"`
	StartedAt time.Time  `json:"started_at"`
	Digest    string     `json:"digest"`
	Rows      []TraceRow `json:"dispatches"`
}

// RunListEntry is one run in the --list output.
type RunListEntry struct {
	RunID     string    `json:"run_id"`
	Program   string    `json:"program"`
	StartedAt time.Time `json:"started_at"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded dispatch traces",
		Long: `Inspect dispatch traces recorded by "tempest run --db".

Without --run the most recent run is shown. The digest is the canonical
trace hash: two runs of the same program are replay-identical iff their
digests match.

Examples:
  tempest trace --db ./tempest.db
  tempest trace --db ./tempest.db --run 0190c3a1-...
  tempest trace --db ./tempest.db --list --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraceCmd(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite trace database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to show (default: latest)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list recorded runs instead of showing a trace")

	return cmd
}

func runTraceCmd(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := trace.Open(opts.Database, slog.Default())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace database", err)
	}
	defer st.Close()

	f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if opts.List {
		return listRuns(ctx, st, f)
	}

	meta, err := resolveRun(ctx, st, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resolve run", err)
	}

	dispatches, err := st.ReadRun(ctx, meta.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}
	digest, err := trace.SnapshotDigest(meta.Program, dispatches)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to digest trace", err)
	}

	report := TraceReport{
		RunID:     meta.ID,
		Program:   meta.Program,
		StartedAt: meta.StartedAt,
		Digest:    digest,
		Rows:      toRows(dispatches),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "run %s (program %s, started %s)\n", report.RunID, report.Program, report.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "digest %s\n", report.Digest)
	for _, r := range report.Rows {
		fmt.Fprintf(&b, "  (%s, %d)  %-13s %s\n", time.Duration(r.TimeNS), r.Microstep, r.Outcome, r.Reaction)
	}
	return f.Success(strings.TrimRight(b.String(), "\n"), report)
}

func resolveRun(ctx context.Context, st *trace.Store, runID string) (trace.RunMeta, error) {
	if runID != "" {
		return st.RunMeta(ctx, runID)
	}
	return st.LatestRun(ctx)
}

func listRuns(ctx context.Context, st *trace.Store, f *Formatter) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	entries := make([]RunListEntry, len(runs))
	var b strings.Builder
	fmt.Fprintf(&b, "%d runs\n", len(runs))
	for i, r := range runs {
		entries[i] = RunListEntry{RunID: r.ID, Program: r.Program, StartedAt: r.StartedAt}
		fmt.Fprintf(&b, "  %s  %-12s %s\n", r.ID, r.Program, r.StartedAt.Format(time.RFC3339))
	}
	return f.Success(strings.TrimRight(b.String(), "\n"), entries)
}

func toRows(dispatches []engine.Dispatch) []TraceRow {
	rows := make([]TraceRow, len(dispatches))
	for i, d := range dispatches {
		rows[i] = TraceRow{
			TimeNS:    d.Tag.Time,
			Microstep: d.Tag.Microstep,
			Reactor:   d.Reactor,
			Reaction:  d.Reaction,
			Outcome:   string(d.Outcome),
		}
	}
	return rows
}
