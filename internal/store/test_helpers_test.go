package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/lokitest/internal/directive"
	"github.com/roach88/lokitest/internal/harness"
	"github.com/roach88/lokitest/internal/testutil"
	"github.com/roach88/lokitest/internal/verdict"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func intPtr(v int) *int { return &v }

// passingCase reached CHECKING and passed.
func passingCase(name string, status int) *harness.CaseResult {
	return &harness.CaseResult{
		Case:  harness.DefaultPipeline().CaseForName(name),
		Stage: harness.StageDone,
		Directives: []directive.Directive{
			{Name: directive.ExpectedStatus, RawValue: "0", Line: 1},
		},
		Verdict:  verdict.Pass(),
		ExitCode: intPtr(status),
		Duration: 1500 * time.Millisecond,
	}
}

// compileFailure never got past COMPILING.
func compileFailure(name string) *harness.CaseResult {
	return &harness.CaseResult{
		Case:       harness.DefaultPipeline().CaseForName(name),
		Stage:      harness.StageCompiling,
		Verdict:    verdict.Fail(harness.ReasonCompilerFailed),
		ToolStderr: "error: boom",
		Duration:   200 * time.Millisecond,
	}
}

func newBatch(id string, startedAt time.Time, cases ...*harness.CaseResult) *harness.BatchResult {
	b := &harness.BatchResult{
		RunID:     id,
		StartedAt: startedAt,
		Mode:      harness.ModeTwoStep,
		Cases:     cases,
		Total:     len(cases),
	}
	for _, c := range cases {
		if c.Passed() {
			b.Passed++
		} else {
			b.Failed++
		}
	}
	return b
}

// batchAt builds a batch whose start time comes from a deterministic clock.
func batchAt(clock *testutil.DeterministicClock, id string, cases ...*harness.CaseResult) *harness.BatchResult {
	return newBatch(id, clock.Now(), cases...)
}
