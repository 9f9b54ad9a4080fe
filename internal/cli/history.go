package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lokitest/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
	Case     string
}

// RunDetail is the history command's JSON payload for one run.
type RunDetail struct {
	Run   store.RunSummary   `json:"run"`
	Cases []store.CaseRecord `json:"cases"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded test runs",
		Long: `Show runs recorded with "lokitest test --db".

Without arguments, lists the most recent runs. With a run ID, prints
that run's cases. With --case, prints one test's outcomes across runs,
including the fingerprint of its directives so changed expectations
stand out.

Examples:
  lokitest history --db .lokitest/history.db
  lokitest history --db .lokitest/history.db 01928c4e-...
  lokitest history --db .lokitest/history.db --case operator_precedence`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runHistory(opts, runID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of rows (0 for all)")
	cmd.Flags().StringVar(&opts.Case, "case", "", "show the history of one test")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(opts *HistoryOptions, runID string, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(opts.Database); errors.Is(err, os.ErrNotExist) {
		return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database)).WithCode(CodeStore)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err).WithCode(CodeStore)
	}
	defer st.Close()

	ctx := commandContext(cmd)
	w := cmd.OutOrStdout()

	switch {
	case runID != "":
		run, err := st.ReadRun(ctx, runID)
		if errors.Is(err, store.ErrRunNotFound) {
			return NewExitError(ExitCommandError, err.Error()).WithCode(CodeStore)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read run", err).WithCode(CodeStore)
		}
		cases, err := st.ReadCases(ctx, runID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read cases", err).WithCode(CodeStore)
		}

		if out.Format == "json" {
			return out.Success(RunDetail{Run: run, Cases: cases})
		}
		fmt.Fprintf(w, "Run %s (%s) started %s\n", run.ID, run.Mode, run.StartedAt.Format(time.RFC3339))
		for _, c := range cases {
			fmt.Fprintln(w, caseReport(c))
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", run.Passed, run.Failed, run.Total)
		return nil

	case opts.Case != "":
		records, err := st.CaseHistory(ctx, opts.Case, opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read case history", err).WithCode(CodeStore)
		}

		if out.Format == "json" {
			return out.Success(records)
		}
		if len(records) == 0 {
			fmt.Fprintf(w, "No runs of %s recorded.\n", opts.Case)
			return nil
		}
		for _, c := range records {
			status := "PASS"
			if !c.Passed {
				status = "FAIL"
			}
			fmt.Fprintf(w, "%s %s %s %s\n", c.RunID, status, shortFingerprint(c.Fingerprint), caseReport(c))
		}
		return nil

	default:
		runs, err := st.ListRuns(ctx, opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err).WithCode(CodeStore)
		}

		if out.Format == "json" {
			return out.Success(runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs recorded.")
			return nil
		}
		for _, r := range runs {
			fmt.Fprintf(w, "%s %s %s %d/%d passed\n", r.ID, r.StartedAt.Format(time.RFC3339), r.Mode, r.Passed, r.Total)
		}
		return nil
	}
}

// caseReport renders a stored case the way the test command reports it.
func caseReport(c store.CaseRecord) string {
	if c.Passed {
		return fmt.Sprintf("%s Test successful", c.Name)
	}
	return fmt.Sprintf("[%s] %s", c.Name, c.Reason)
}

func shortFingerprint(fp string) string {
	if fp == "" {
		return "-"
	}
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
