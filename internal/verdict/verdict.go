// Package verdict evaluates decoded check directives against the observed
// behavior of a test executable.
package verdict

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/lokitest/internal/directive"
)

// Outcome is what the evaluator needs to know about an executable run.
type Outcome struct {
	ExitCode int
}

// Verdict is the pass/fail result for one test case.
type Verdict struct {
	Passed bool `json:"passed"`

	// Check is the directive name that failed. Empty on pass.
	Check string `json:"check,omitempty"`

	// Expected and Actual are human-readable values for the failed check.
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// Pass returns a passing verdict.
func Pass() Verdict {
	return Verdict{Passed: true}
}

// Fail returns a failing verdict with a reason that is not tied to a check.
func Fail(reason string) Verdict {
	return Verdict{Reason: reason}
}

// Evaluate checks the directives in order against outcome and stops at the
// first failure. Repeated names are resolved last-write-wins first. No
// directives means the test passes.
func Evaluate(directives []directive.Directive, outcome Outcome) Verdict {
	for _, d := range directive.Resolve(directives) {
		var v Verdict
		switch d.Kind() {
		case directive.KindExpectedStatus:
			v = checkExpectedStatus(d, outcome)
		default:
			v = Verdict{
				Check:  d.Name,
				Reason: fmt.Sprintf("unknown check: %s", d.Name),
			}
		}
		if !v.Passed {
			return v
		}
	}

	return Pass()
}

func checkExpectedStatus(d directive.Directive, outcome Outcome) Verdict {
	raw := strings.TrimSpace(d.RawValue)
	expected, err := strconv.ParseInt(raw, 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		// Still an integer, just one no process can exit with.
		return Verdict{
			Check:    d.Name,
			Expected: raw,
			Actual:   strconv.Itoa(outcome.ExitCode),
			Reason:   fmt.Sprintf("status mismatch: expected %s, got %d", raw, outcome.ExitCode),
		}
	}
	if err != nil {
		return Verdict{
			Check:    d.Name,
			Expected: raw,
			Reason:   fmt.Sprintf("invalid %s value %q", d.Name, d.RawValue),
		}
	}

	if expected != int64(outcome.ExitCode) {
		return Verdict{
			Check:    d.Name,
			Expected: strconv.FormatInt(expected, 10),
			Actual:   strconv.Itoa(outcome.ExitCode),
			Reason:   fmt.Sprintf("status mismatch: expected %d, got %d", expected, outcome.ExitCode),
		}
	}

	return Pass()
}
