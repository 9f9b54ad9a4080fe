package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/lokitest/internal/directive"
)

// ParseOptions holds flags for the parse command.
type ParseOptions struct {
	*RootOptions
	Resolve bool // apply last-write-wins before printing
}

// DecodedDirective is one directive as printed by the parse command.
type DecodedDirective struct {
	Line  int    `json:"line"`
	Name  string `json:"name"`
	Value string `json:"value"`
	Kind  string `json:"kind"`
}

// ParseResult is the parse command's JSON payload.
type ParseResult struct {
	Directives  []DecodedDirective `json:"directives"`
	Fingerprint string             `json:"fingerprint"`
}

// NewParseCommand creates the parse command.
func NewParseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ParseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "parse [file|-]",
		Short: "Decode check directives from compiler output",
		Long: `Decode the __t_<name>=<value> directives in a compiler's stdout.

Reads the named file, or standard input when the argument is "-" or
missing. Lines without the __t_ prefix are ignored. A prefixed line
without a name and '=' is reported as malformed.

Examples:
  LOKI_RUNNING_TESTS=yes cargo run -q | lokitest parse
  lokitest parse compiler.out --resolve --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runParse(opts, path, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Resolve, "resolve", false, "collapse repeated names, last value wins")

	return cmd
}

func runParse(opts *ParseOptions, path string, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer f.Close()
		r = f
	}

	ds, err := directive.Parse(r)
	if err != nil {
		var malformed *directive.MalformedError
		if errors.As(err, &malformed) {
			if err := out.Error(CodeMalformed, malformed.Error(), map[string]any{
				"line":    malformed.Line,
				"content": malformed.Content,
			}); err != nil {
				return err
			}
			return reported(ExitFailure)
		}
		return WrapExitError(ExitCommandError, "failed to read input", err)
	}

	if opts.Resolve {
		ds = directive.Resolve(ds)
	}

	fingerprint, err := directive.Fingerprint(ds)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to fingerprint directives", err)
	}

	result := ParseResult{
		Directives:  make([]DecodedDirective, len(ds)),
		Fingerprint: fingerprint,
	}
	for i, d := range ds {
		result.Directives[i] = DecodedDirective{
			Line:  d.Line,
			Name:  d.Name,
			Value: d.RawValue,
			Kind:  d.Kind().String(),
		}
	}

	if out.Format == "json" {
		return out.Success(result)
	}

	w := cmd.OutOrStdout()
	if len(result.Directives) == 0 {
		fmt.Fprintln(w, "No directives.")
	}
	for _, d := range result.Directives {
		fmt.Fprintf(w, "%d: %s=%s (%s)\n", d.Line, d.Name, d.Value, d.Kind)
	}
	fmt.Fprintf(w, "fingerprint: %s\n", result.Fingerprint)
	return nil
}
