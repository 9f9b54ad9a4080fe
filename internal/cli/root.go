package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/lokitest/internal/config"
	"github.com/roach88/lokitest/internal/harness"
	"github.com/roach88/lokitest/internal/procrun"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // explicit config file; empty probes config.DefaultFiles

	// ConfigDir is where config.DefaultFiles are probed. Defaults to ".".
	ConfigDir string

	// Runner, IDs and Clock override process execution, run IDs and wall
	// time (for testing). Nil selects the real implementations.
	Runner procrun.Runner
	IDs    harness.IDGenerator
	Clock  harness.Clock
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the lokitest CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithOptions(&RootOptions{})
}

// NewRootCommandWithOptions creates the root command around opts, so tests
// can inject fakes before flags are parsed.
func NewRootCommandWithOptions(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lokitest",
		Short: "End-to-end test harness for the Loki compiler",
		Long: `lokitest compiles each test program, builds and runs the result, and
checks the executable's behavior against the expectations the compiler
emitted as __t_<name>=<value> directives on its standard output.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "config file (default: lokitest.yaml, lokitest.yml or lokitest.cue)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewParseCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	for _, sub := range cmd.Commands() {
		if run := sub.RunE; run != nil {
			sub.RunE = func(c *cobra.Command, args []string) error {
				return reportJSONError(opts.Format, c.OutOrStdout(), run(c, args))
			}
		}
	}

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// newLogger builds the text logger on w, at debug level when verbose.
func (o *RootOptions) newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig resolves the config file. Errors are command errors.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	dir := o.ConfigDir
	if dir == "" {
		dir = "."
	}
	cfg, err := config.Find(o.Config, dir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err).WithCode(CodeConfig)
	}
	return cfg, nil
}

// newHarness builds a harness over p with the injected fakes, if any.
func (o *RootOptions) newHarness(p harness.Pipeline, logger *slog.Logger, jobs int) (*harness.Harness, error) {
	h, err := harness.New(p, harness.Options{
		Runner: o.Runner,
		Logger: logger,
		IDs:    o.IDs,
		Clock:  o.Clock,
		Jobs:   jobs,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid pipeline", err).WithCode(CodeConfig)
	}
	return h, nil
}
