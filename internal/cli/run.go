package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lokitest/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Timeout time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Run a single test",
		Long: `Run one test program through the pipeline.

The source is <tests-dir>/<name><ext>. Build outputs go to the target
directory, which is created if missing and never cleaned up.

On failure the reason is printed as "died! <reason>" on stderr. When the
compiler or the native toolchain rejected the program, its stderr is
echoed first as "Errors! <stderr>".

Exit codes:
  0 - Test passed
  1 - Test failed
  2 - Command error (missing source, bad config, tool cannot be started)

Examples:
  lokitest run operator_precedence
  lokitest run loops --timeout 10s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingle(opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "per-step timeout (overrides config)")

	return cmd
}

func runSingle(opts *RunOptions, name string, cmd *cobra.Command) error {
	logger := opts.newLogger(cmd.ErrOrStderr())
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	p, err := cfg.Pipeline()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err).WithCode(CodeConfig)
	}
	if opts.Timeout > 0 {
		p.Timeout = opts.Timeout
	}

	tc := p.CaseForName(name)
	if _, err := os.Stat(tc.SourcePath); err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("test source not found: %s", tc.SourcePath))
	}

	h, err := opts.newHarness(p, logger, 1)
	if err != nil {
		return err
	}
	if err := h.Prepare(); err != nil {
		return WrapExitError(ExitCommandError, "failed to prepare target directory", err)
	}

	out.VerboseLog("running %s from %s", tc.Name, tc.SourcePath)
	res, err := h.RunCase(commandContext(cmd), tc)
	if err != nil {
		return harnessError(err)
	}

	if out.Format == "json" {
		if res.Passed() {
			return out.Success(res)
		}
		if err := out.Failure(res, CodeTestFailed, res.Report()); err != nil {
			return err
		}
		return reported(ExitFailure)
	}

	if !res.Passed() {
		if res.ToolStderr != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Errors! %s\n", res.ToolStderr)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "died! %s\n", res.Verdict.Reason)
		return reported(ExitFailure)
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.Report())
	return nil
}

// harnessError maps an error that stopped the harness to a command error.
func harnessError(err error) error {
	var fatal *harness.FatalError
	if errors.As(err, &fatal) {
		return WrapExitError(ExitCommandError, "harness aborted", err).WithCode(CodeHarnessFatal)
	}
	if errors.Is(err, context.Canceled) {
		return WrapExitError(ExitCommandError, "interrupted", err)
	}
	return WrapExitError(ExitCommandError, "harness error", err)
}

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
