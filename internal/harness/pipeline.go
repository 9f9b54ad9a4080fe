package harness

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/lokitest/internal/procrun"
)

// Mode selects how a test case becomes an executable.
type Mode string

const (
	// ModeTwoStep compiles the source to an intermediate artifact and then
	// hands the artifact to the native toolchain.
	ModeTwoStep Mode = "two-step"

	// ModeDirect has the compiler write the executable itself.
	ModeDirect Mode = "direct"
)

// Placeholders expanded in tool arguments and environment values.
const (
	PlaceholderName       = "{name}"
	PlaceholderSource     = "{source}"
	PlaceholderArtifact   = "{artifact}"
	PlaceholderExecutable = "{executable}"
)

// Tool is an external program with templated arguments and environment.
type Tool struct {
	Command string
	Args    []string
	Env     map[string]string
}

// command expands placeholders for tc.
func (t Tool) command(tc TestCase) procrun.Command {
	r := strings.NewReplacer(
		PlaceholderName, tc.Name,
		PlaceholderSource, tc.SourcePath,
		PlaceholderArtifact, tc.ArtifactPath,
		PlaceholderExecutable, tc.ExecutablePath,
	)

	args := make([]string, len(t.Args))
	for i, a := range t.Args {
		args[i] = r.Replace(a)
	}

	var env map[string]string
	if len(t.Env) > 0 {
		env = make(map[string]string, len(t.Env))
		for k, v := range t.Env {
			env[k] = r.Replace(v)
		}
	}

	return procrun.Command{Path: r.Replace(t.Command), Args: args, Env: env}
}

// Pipeline describes where tests live, where outputs go and which tools
// turn a source file into an executable.
type Pipeline struct {
	Mode Mode

	Compiler  Tool
	Toolchain Tool // ModeTwoStep only

	TestsDir  string
	SourceExt string

	TargetDir     string
	ArtifactExt   string
	ExecutableExt string

	// Timeout bounds each tool and executable invocation. Zero waits forever.
	Timeout time.Duration
}

// DefaultPipeline is the stock Loki layout: cargo builds and
// runs the compiler in test mode, clang builds the generated C.
func DefaultPipeline() Pipeline {
	return Pipeline{
		Mode: ModeTwoStep,
		Compiler: Tool{
			Command: "cargo",
			Args:    []string{"run", "-q"},
			Env: map[string]string{
				"LOKI_RUNNING_TESTS": "yes",
				"LOKI_FILE":          PlaceholderSource,
				"LOKI_OUTPUT_FILE":   PlaceholderArtifact,
			},
		},
		Toolchain: Tool{
			Command: "clang",
			Args:    []string{PlaceholderArtifact, "-o", PlaceholderExecutable},
		},
		TestsDir:      "tests",
		SourceExt:     ".loki",
		TargetDir:     "target/tests",
		ArtifactExt:   ".c",
		ExecutableExt: ".exe",
	}
}

// Validate reports configuration that cannot run any test.
func (p Pipeline) Validate() error {
	var problems []string

	switch p.Mode {
	case ModeTwoStep:
		if p.Toolchain.Command == "" {
			problems = append(problems, "two-step mode requires a toolchain command")
		}
	case ModeDirect:
	default:
		problems = append(problems, fmt.Sprintf("unknown mode %q (want %q or %q)", p.Mode, ModeTwoStep, ModeDirect))
	}

	if p.Compiler.Command == "" {
		problems = append(problems, "compiler command is required")
	}
	if p.TestsDir == "" {
		problems = append(problems, "tests directory is required")
	}
	if p.TargetDir == "" {
		problems = append(problems, "target directory is required")
	}
	if p.SourceExt != "" && !strings.HasPrefix(p.SourceExt, ".") {
		problems = append(problems, fmt.Sprintf("source extension %q must start with '.'", p.SourceExt))
	}
	if p.Timeout < 0 {
		problems = append(problems, "timeout must not be negative")
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid pipeline: %s", strings.Join(problems, "; "))
	}
	return nil
}
