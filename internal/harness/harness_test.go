package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lokitest/internal/procrun"
	"github.com/roach88/lokitest/internal/testutil"
)

func testPipeline(t *testing.T, mode Mode) Pipeline {
	t.Helper()
	dir := t.TempDir()

	output := PlaceholderArtifact
	if mode == ModeDirect {
		output = PlaceholderExecutable
	}

	return Pipeline{
		Mode: mode,
		Compiler: Tool{
			Command: "compiler",
			Args:    []string{"run", "-q"},
			Env: map[string]string{
				"LOKI_RUNNING_TESTS": "yes",
				"LOKI_FILE":          PlaceholderSource,
				"LOKI_OUTPUT_FILE":   output,
			},
		},
		Toolchain: Tool{
			Command: "toolchain",
			Args:    []string{PlaceholderArtifact, "-o", PlaceholderExecutable},
		},
		TestsDir:      filepath.Join(dir, "tests"),
		SourceExt:     ".loki",
		TargetDir:     filepath.Join(dir, "target"),
		ArtifactExt:   ".c",
		ExecutableExt: ".exe",
	}
}

// scripted wires a fake compiler that answers per source file, a
// toolchain that always succeeds and one executable per case.
type scripted struct {
	p        Pipeline
	runner   *testutil.FakeRunner
	compiles map[string]testutil.Handler
}

func newScripted(t *testing.T, mode Mode) *scripted {
	s := &scripted{
		p:        testPipeline(t, mode),
		runner:   testutil.NewFakeRunner(),
		compiles: make(map[string]testutil.Handler),
	}
	s.runner.Handle("compiler", testutil.ByEnv("LOKI_FILE", s.compiles))
	s.runner.Handle("toolchain", testutil.Exit(0, ""))
	return s
}

func (s *scripted) add(name string, compile, exe testutil.Handler) TestCase {
	tc := s.p.CaseForName(name)
	s.compiles[tc.SourcePath] = compile
	if exe != nil {
		s.runner.Handle(tc.ExecutablePath, exe)
	}
	return tc
}

func (s *scripted) harness(t *testing.T, jobs int) *Harness {
	t.Helper()
	h, err := New(s.p, Options{
		Runner: s.runner,
		IDs:    testutil.NewFixedIDGenerator(),
		Clock:  testutil.NewDeterministicClock(),
		Jobs:   jobs,
	})
	require.NoError(t, err)
	return h
}

func TestRunCase_Passes(t *testing.T) {
	s := newScripted(t, ModeTwoStep)
	tc := s.add("ok", testutil.Exit(0, "compiling\n__t_expected_status=0\n"), testutil.Exit(0, ""))

	res, err := s.harness(t, 1).RunCase(context.Background(), tc)
	require.NoError(t, err)

	assert.True(t, res.Passed())
	assert.Equal(t, StageDone, res.Stage)
	assert.Equal(t, "ok Test successful", res.Report())
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
	require.Len(t, res.Directives, 1)
	assert.Equal(t, "expected_status", res.Directives[0].Name)

	calls := s.runner.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "compiler", calls[0].Path)
	assert.Equal(t, []string{"run", "-q"}, calls[0].Args)
	assert.Equal(t, "yes", calls[0].Env["LOKI_RUNNING_TESTS"])
	assert.Equal(t, tc.SourcePath, calls[0].Env["LOKI_FILE"])
	assert.Equal(t, tc.ArtifactPath, calls[0].Env["LOKI_OUTPUT_FILE"])

	assert.Equal(t, "toolchain", calls[1].Path)
	assert.Equal(t, []string{tc.ArtifactPath, "-o", tc.ExecutablePath}, calls[1].Args)

	assert.Equal(t, tc.ExecutablePath, calls[2].Path)
	assert.Empty(t, calls[2].Args)
}

func TestRunCase_StatusMismatch(t *testing.T) {
	s := newScripted(t, ModeTwoStep)
	tc := s.add("mismatch", testutil.Exit(0, "__t_expected_status=3\n"), testutil.Exit(4, ""))

	res, err := s.harness(t, 1).RunCase(context.Background(), tc)
	require.NoError(t, err)

	assert.False(t, res.Passed())
	assert.Equal(t, StageDone, res.Stage)
	assert.Equal(t, "[mismatch] status mismatch: expected 3, got 4", res.Report())
}

func TestRunCase_CompilerFails(t *testing.T) {
	s := newScripted(t, ModeTwoStep)
	tc := s.add("bad", testutil.ExitWithStderr(1, "__t_expected_status=0", "error: unexpected token\n"), testutil.Exit(0, ""))

	res, err := s.harness(t, 1).RunCase(context.Background(), tc)
	require.NoError(t, err)

	assert.False(t, res.Passed())
	assert.Equal(t, StageCompiling, res.Stage)
	assert.Equal(t, "[bad] The compiler emitted errors / panicked", res.Report())
	assert.Equal(t, "error: unexpected token", res.ToolStderr)
	assert.Nil(t, res.ExitCode)

	assert.Empty(t, s.runner.CallsTo("toolchain"))
	assert.Empty(t, s.runner.CallsTo(tc.ExecutablePath))
}

func TestRunCase_ToolchainFails(t *testing.T) {
	s := newScripted(t, ModeTwoStep)
	s.runner.Handle("toolchain", testutil.ExitWithStderr(1, "", "ld: undefined symbol"))
	tc := s.add("link", testutil.Exit(0, "__t_expected_status=0"), testutil.Exit(0, ""))

	res, err := s.harness(t, 1).RunCase(context.Background(), tc)
	require.NoError(t, err)

	assert.False(t, res.Passed())
	assert.Equal(t, StageBuilding, res.Stage)
	assert.Equal(t, "[link] The native toolchain emitted errors", res.Report())
	assert.Equal(t, "ld: undefined symbol", res.ToolStderr)
	assert.Empty(t, s.runner.CallsTo(tc.ExecutablePath))
}

func TestRunCase_UnknownCheck(t *testing.T) {
	s := newScripted(t, ModeTwoStep)
	tc := s.add("typo", testutil.Exit(0, "__t_bogus=1\n"), testutil.Exit(1, ""))

	res, err := s.harness(t, 1).RunCase(context.Background(), tc)
	require.NoError(t, err)

	assert.False(t, res.Passed())
	assert.Equal(t, "[typo] unknown check: bogus", res.Report())
}

func TestRunCase_MalformedDirective(t *testing.T) {
	s := newScripted(t, ModeTwoStep)
	tc := s.add("broken", testutil.Exit(0, "__t_expected_status\n"), testutil.Exit(0, ""))

	res, err := s.harness(t, 1).RunCase(context.Background(), tc)
	require.NoError(t, err)

	assert.False(t, res.Passed())
	assert.Equal(t, StageChecking, res.Stage)
	assert.Contains(t, res.Verdict.Reason, "malformed check directive")
}

func TestRunCase_NoDirectivesPasses(t *testing.T) {
	for _, code := range []int{0, 1, 139} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			s := newScripted(t, ModeTwoStep)
			tc := s.add("plain", testutil.Exit(0, "just output\nx=1\n"), testutil.Exit(code, ""))

			res, err := s.harness(t, 1).RunCase(context.Background(), tc)
			require.NoError(t, err)
			assert.True(t, res.Passed())
			assert.Empty(t, res.Directives)
		})
	}
}

func TestRunCase_ExecutableOutputIgnored(t *testing.T) {
	s := newScripted(t, ModeTwoStep)
	tc := s.add("echo", testutil.Exit(0, "__t_expected_status=0"), testutil.Exit(0, "__t_expected_status=9\n"))

	res, err := s.harness(t, 1).RunCase(context.Background(), tc)
	require.NoError(t, err)
	assert.True(t, res.Passed())
}

func TestRunCase_ExecutableMissing(t *testing.T) {
	s := newScripted(t, ModeTwoStep)
	tc := s.add("ghost", testutil.Exit(0, "__t_expected_status=0"), nil)

	res, err := s.harness(t, 1).RunCase(context.Background(), tc)
	require.NoError(t, err)

	assert.False(t, res.Passed())
	assert.Equal(t, StageRunning, res.Stage)
	assert.Contains(t, res.Verdict.Reason, "The executable could not be started")
}

func TestRunCase_CompilerMissingIsFatal(t *testing.T) {
	s := newScripted(t, ModeTwoStep)
	s.p.Compiler.Command = "no-such-compiler"
	tc := s.add("ok", testutil.Exit(0, ""), testutil.Exit(0, ""))

	res, err := s.harness(t, 1).RunCase(context.Background(), tc)
	require.Error(t, err)
	assert.Nil(t, res)

	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, "ok", fatal.Case)
	assert.Equal(t, StageCompiling, fatal.Stage)
	assert.True(t, procrun.IsStartError(err))
}

func TestRunCase_ToolchainMissingIsFatal(t *testing.T) {
	s := newScripted(t, ModeTwoStep)
	s.p.Toolchain.Command = "no-such-clang"
	tc := s.add("ok", testutil.Exit(0, ""), testutil.Exit(0, ""))

	_, err := s.harness(t, 1).RunCase(context.Background(), tc)

	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, StageBuilding, fatal.Stage)
}

func TestRunCase_Timeout(t *testing.T) {
	s := newScripted(t, ModeTwoStep)
	s.p.Timeout = time.Second
	tc := s.add("slow", testutil.Exit(0, "__t_expected_status=0"), testutil.TimedOut())

	res, err := s.harness(t, 1).RunCase(context.Background(), tc)
	require.NoError(t, err)

	assert.False(t, res.Passed())
	assert.Equal(t, StageRunning, res.Stage)
	assert.Equal(t, "[slow] running timed out after 1s", res.Report())
}

func TestRunCase_DirectMode(t *testing.T) {
	s := newScripted(t, ModeDirect)
	tc := s.add("direct", testutil.Exit(0, "__t_expected_status=5"), testutil.Exit(5, ""))

	assert.Empty(t, tc.ArtifactPath)

	res, err := s.harness(t, 1).RunCase(context.Background(), tc)
	require.NoError(t, err)
	assert.True(t, res.Passed())

	assert.Empty(t, s.runner.CallsTo("toolchain"))
	calls := s.runner.CallsTo("compiler")
	require.Len(t, calls, 1)
	assert.Equal(t, tc.ExecutablePath, calls[0].Env["LOKI_OUTPUT_FILE"])
}

func TestRunCase_CancelledContext(t *testing.T) {
	s := newScripted(t, ModeTwoStep)
	tc := s.add("ok", testutil.Exit(0, ""), testutil.Exit(0, ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.harness(t, 1).RunCase(ctx, tc)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.runner.Calls())
}

func TestRunBatch_ContinuesAfterFailure(t *testing.T) {
	s := newScripted(t, ModeTwoStep)
	cases := []TestCase{
		s.add("ok", testutil.Exit(0, "__t_expected_status=0"), testutil.Exit(0, "")),
		s.add("bad", testutil.Exit(1, ""), testutil.Exit(0, "")),
		s.add("later", testutil.Exit(0, "__t_expected_status=2"), testutil.Exit(2, "")),
	}

	batch, err := s.harness(t, 1).RunBatch(context.Background(), cases)
	require.NoError(t, err)

	assert.Equal(t, "run-1", batch.RunID)
	assert.Equal(t, testutil.Epoch, batch.StartedAt)
	assert.Equal(t, ModeTwoStep, batch.Mode)
	assert.Equal(t, 3, batch.Total)
	assert.Equal(t, 2, batch.Passed)
	assert.Equal(t, 1, batch.Failed)
	assert.False(t, batch.AllPassed())

	require.Len(t, batch.Cases, 3)
	assert.Equal(t, "ok Test successful", batch.Cases[0].Report())
	assert.Equal(t, "[bad] The compiler emitted errors / panicked", batch.Cases[1].Report())
	assert.Equal(t, "later Test successful", batch.Cases[2].Report())

	info, err := os.Stat(s.p.TargetDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRunBatch_ParallelKeepsOrder(t *testing.T) {
	s := newScripted(t, ModeTwoStep)
	var cases []TestCase
	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("case%02d", i)
		out := fmt.Sprintf("__t_expected_status=%d", i)
		cases = append(cases, s.add(name, testutil.Exit(0, out), testutil.Exit(i, "")))
	}

	batch, err := s.harness(t, 4).RunBatch(context.Background(), cases)
	require.NoError(t, err)

	assert.True(t, batch.AllPassed())
	assert.Equal(t, 12, batch.Passed)
	for i, res := range batch.Cases {
		assert.Equal(t, cases[i].Name, res.Case.Name)
	}
	assert.Len(t, s.runner.CallsTo("compiler"), 12)
}

func TestRunBatch_FatalAborts(t *testing.T) {
	s := newScripted(t, ModeTwoStep)
	s.p.Compiler.Command = "missing"
	cases := []TestCase{
		s.add("a", testutil.Exit(0, ""), testutil.Exit(0, "")),
		s.add("b", testutil.Exit(0, ""), testutil.Exit(0, "")),
	}

	batch, err := s.harness(t, 1).RunBatch(context.Background(), cases)
	require.Error(t, err)
	assert.Nil(t, batch)

	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, "a", fatal.Case)
}

func TestRunBatch_Empty(t *testing.T) {
	s := newScripted(t, ModeTwoStep)

	batch, err := s.harness(t, 1).RunBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Total)
	assert.True(t, batch.AllPassed())
}

func TestNew_InvalidPipeline(t *testing.T) {
	p := DefaultPipeline()
	p.Mode = "sideways"

	_, err := New(p, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestNew_Defaults(t *testing.T) {
	h, err := New(DefaultPipeline(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.jobs)
	assert.IsType(t, procrun.ExecRunner{}, h.runner)
	assert.IsType(t, UUIDv7Generator{}, h.ids)
}

func TestStageString(t *testing.T) {
	for st := StageCompiling; st <= StageDone; st++ {
		parsed, err := ParseStage(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, parsed)
	}
	_, err := ParseStage("nope")
	assert.Error(t, err)
	assert.Equal(t, "stage(9)", Stage(9).String())
}

func TestStageJSON(t *testing.T) {
	data, err := json.Marshal(map[string]Stage{"stage": StageBuilding})
	require.NoError(t, err)
	assert.JSONEq(t, `{"stage":"building"}`, string(data))

	var decoded map[string]Stage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, StageBuilding, decoded["stage"])

	assert.Error(t, json.Unmarshal([]byte(`{"stage":"flying"}`), &decoded))
}

func TestFatalErrorMessage(t *testing.T) {
	err := &FatalError{Case: "x", Stage: StageBuilding, Err: errors.New("boom")}
	assert.Equal(t, "[x] building: boom", err.Error())
}
