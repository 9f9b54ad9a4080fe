package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lokitest/internal/harness"
	"github.com/roach88/lokitest/internal/store"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter   string        // test filter (glob pattern on the test name)
	Jobs     int           // concurrent cases; 0 uses config
	Database string        // optional results history
	Timeout  time.Duration // per-step timeout; 0 uses config
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test [tests-dir]",
		Short: "Run every test in the tests directory",
		Long: `Discover test programs and run each through the pipeline.

Tests are found recursively under tests-dir (default from config, else
"tests") by source extension. Every case runs to completion before the
report is printed; one line per case, in name order.

Exit codes:
  0 - All tests passed
  1 - One or more tests failed
  2 - Command error (invalid paths or config, a tool cannot be started)

Examples:
  lokitest test
  lokitest test ./tests --filter "arith_*"
  lokitest test --jobs 8 --db .lokitest/history.db
  lokitest test --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runTests(opts, dir, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter tests by glob pattern")
	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", 0, "tests to run at once (default from config, else 1)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run in this SQLite database")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "per-step timeout (overrides config)")

	return cmd
}

func runTests(opts *TestOptions, testsDir string, cmd *cobra.Command) error {
	logger := opts.newLogger(cmd.ErrOrStderr())
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.Jobs < 0 {
		return NewExitError(ExitCommandError, "--jobs must not be negative")
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	p, err := cfg.Pipeline()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err).WithCode(CodeConfig)
	}
	if testsDir != "" {
		p.TestsDir = testsDir
	}
	if opts.Timeout > 0 {
		p.Timeout = opts.Timeout
	}
	jobs := opts.Jobs
	if jobs == 0 {
		jobs = cfg.JobsOrDefault()
	}

	if _, err := os.Stat(p.TestsDir); errors.Is(err, os.ErrNotExist) {
		return NewExitError(ExitCommandError, fmt.Sprintf("tests directory not found: %s", p.TestsDir))
	}

	cases, err := p.Discover(opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find tests", err)
	}

	if len(cases) == 0 {
		if out.Format == "json" {
			return out.Success(&harness.BatchResult{Mode: p.Mode, Cases: []*harness.CaseResult{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No tests found.")
		return nil
	}

	h, err := opts.newHarness(p, logger, jobs)
	if err != nil {
		return err
	}

	out.VerboseLog("running %d test(s) from %s with %d job(s)", len(cases), p.TestsDir, jobs)
	batch, err := h.RunBatch(commandContext(cmd), cases)
	if err != nil {
		return harnessError(err)
	}

	if opts.Database != "" {
		if err := recordRun(cmd, opts.Database, batch); err != nil {
			return err
		}
		logger.Info("run recorded", "db", opts.Database, "run_id", batch.RunID)
	}

	if out.Format == "json" {
		return outputTestJSON(out, batch)
	}
	return outputTestText(cmd.OutOrStdout(), batch, opts.Verbose)
}

func recordRun(cmd *cobra.Command, path string, batch *harness.BatchResult) error {
	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err).WithCode(CodeStore)
	}
	defer st.Close()

	if err := st.WriteRun(commandContext(cmd), batch); err != nil {
		return WrapExitError(ExitCommandError, "failed to record run", err).WithCode(CodeStore)
	}
	return nil
}

// outputTestJSON outputs the batch as JSON.
func outputTestJSON(out *OutputFormatter, batch *harness.BatchResult) error {
	if batch.AllPassed() {
		return out.Success(batch)
	}

	if err := out.Failure(batch, CodeTestFailed, failedMessage(batch)); err != nil {
		return err
	}
	return reported(ExitFailure)
}

// outputTestText prints one report line per case, then the summary.
func outputTestText(w io.Writer, batch *harness.BatchResult, verbose bool) error {
	for _, res := range batch.Cases {
		fmt.Fprintln(w, res.Report())
		if verbose && res.ToolStderr != "" {
			for _, line := range strings.Split(res.ToolStderr, "\n") {
				fmt.Fprintf(w, "  %s\n", line)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", batch.Passed, batch.Failed, batch.Total)

	if !batch.AllPassed() {
		return NewExitError(ExitFailure, failedMessage(batch))
	}

	fmt.Fprintln(w, "✓ All tests passed")
	return nil
}

func failedMessage(batch *harness.BatchResult) string {
	return fmt.Sprintf("%d test(s) failed", batch.Failed)
}
