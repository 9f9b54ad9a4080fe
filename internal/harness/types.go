package harness

import (
	"fmt"
	"time"

	"github.com/roach88/lokitest/internal/directive"
	"github.com/roach88/lokitest/internal/verdict"
)

// Stage is a step of the per-case pipeline.
type Stage int

const (
	StageCompiling Stage = iota
	StageBuilding
	StageRunning
	StageChecking
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageCompiling:
		return "compiling"
	case StageBuilding:
		return "building"
	case StageRunning:
		return "running"
	case StageChecking:
		return "checking"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// MarshalText renders the stage name in JSON output.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *Stage) UnmarshalText(text []byte) error {
	st, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseStage is the inverse of Stage.String.
func ParseStage(s string) (Stage, error) {
	for st := StageCompiling; st <= StageDone; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", s)
}

// Failure reasons reported for pipeline steps.
const (
	ReasonCompilerFailed  = "The compiler emitted errors / panicked"
	ReasonToolchainFailed = "The native toolchain emitted errors"
)

// CaseResult is the outcome of one test case.
type CaseResult struct {
	Case TestCase `json:"case"`

	// Stage is the last stage entered. StageDone for cases that reached
	// a verdict on their directives.
	Stage Stage `json:"stage"`

	Verdict verdict.Verdict `json:"verdict"`

	// Directives decoded from the compiler's stdout. Nil when the case
	// failed before CHECKING.
	Directives []directive.Directive `json:"directives,omitempty"`

	// ExitCode of the test executable, when it ran.
	ExitCode *int `json:"exit_code,omitempty"`

	// ToolStderr is the captured stderr of the step that failed, if the
	// failure came from the compiler or the native toolchain.
	ToolStderr string `json:"tool_stderr,omitempty"`

	Duration time.Duration `json:"duration_ns"`
}

// Passed reports whether the case passed.
func (r *CaseResult) Passed() bool {
	return r.Verdict.Passed
}

// Report renders the one-line human-readable outcome.
func (r *CaseResult) Report() string {
	if r.Verdict.Passed {
		return fmt.Sprintf("%s Test successful", r.Case.Name)
	}
	return fmt.Sprintf("[%s] %s", r.Case.Name, r.Verdict.Reason)
}

// BatchResult aggregates every case of one harness run.
type BatchResult struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Mode      Mode          `json:"mode"`
	Cases     []*CaseResult `json:"cases"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Total     int           `json:"total"`
}

// AllPassed reports whether no case failed.
func (b *BatchResult) AllPassed() bool {
	return b.Failed == 0
}

// FatalError aborts the whole harness run: a tool could not be started,
// which no test outcome can explain.
type FatalError struct {
	Case  string
	Stage Stage
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Case, e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
