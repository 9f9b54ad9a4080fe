package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/lokitest/internal/directive"
	"github.com/roach88/lokitest/internal/procrun"
	"github.com/roach88/lokitest/internal/verdict"
)

// Clock supplies wall-clock time for run records.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real clock.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Options configures a Harness. Zero values select production defaults.
type Options struct {
	Runner procrun.Runner
	Logger *slog.Logger
	IDs    IDGenerator
	Clock  Clock

	// Jobs bounds how many cases run at once in RunBatch. Values below 1
	// mean 1: every case completes before the next starts.
	Jobs int
}

// Harness drives test cases through the compile, build, run and check
// stages of a Pipeline.
type Harness struct {
	pipeline Pipeline
	runner   procrun.Runner
	logger   *slog.Logger
	ids      IDGenerator
	clock    Clock
	jobs     int
}

// New validates the pipeline and builds a harness.
func New(p Pipeline, opts Options) (*Harness, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	h := &Harness{
		pipeline: p,
		runner:   opts.Runner,
		logger:   opts.Logger,
		ids:      opts.IDs,
		clock:    opts.Clock,
		jobs:     opts.Jobs,
	}
	if h.runner == nil {
		h.runner = procrun.ExecRunner{}
	}
	if h.logger == nil {
		h.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if h.ids == nil {
		h.ids = UUIDv7Generator{}
	}
	if h.clock == nil {
		h.clock = SystemClock{}
	}
	if h.jobs < 1 {
		h.jobs = 1
	}
	return h, nil
}

// Pipeline returns the pipeline the harness was built with.
func (h *Harness) Pipeline() Pipeline {
	return h.pipeline
}

// Prepare creates the output directory. It is never removed by the
// harness.
func (h *Harness) Prepare() error {
	if err := os.MkdirAll(h.pipeline.TargetDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// RunCase takes one test case through the pipeline.
//
// Test failures, including a compiler or toolchain that exits nonzero, come
// back as a failed CaseResult. The error return is reserved for conditions
// that should stop the whole run: a *FatalError when the compiler or
// toolchain cannot be started, or the context's error.
func (h *Harness) RunCase(ctx context.Context, tc TestCase) (*CaseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	res := &CaseResult{Case: tc, Stage: StageCompiling}
	defer func() { res.Duration = time.Since(start) }()

	log := h.logger.With("case", tc.Name)

	// COMPILING
	compiled, err := h.invoke(ctx, h.pipeline.Compiler.command(tc))
	if err != nil {
		return nil, h.fatal(tc, StageCompiling, err)
	}
	if compiled.TimedOut {
		return h.fail(res, h.timeoutReason(StageCompiling)), nil
	}
	if compiled.ExitCode != 0 {
		log.Debug("compiler failed", "exit_code", compiled.ExitCode)
		res.ToolStderr = string(bytes.TrimSpace(compiled.Stderr))
		return h.fail(res, ReasonCompilerFailed), nil
	}

	// BUILDING
	if h.pipeline.Mode == ModeTwoStep {
		res.Stage = StageBuilding
		built, err := h.invoke(ctx, h.pipeline.Toolchain.command(tc))
		if err != nil {
			return nil, h.fatal(tc, StageBuilding, err)
		}
		if built.TimedOut {
			return h.fail(res, h.timeoutReason(StageBuilding)), nil
		}
		if built.ExitCode != 0 {
			log.Debug("native toolchain failed", "exit_code", built.ExitCode)
			res.ToolStderr = string(bytes.TrimSpace(built.Stderr))
			return h.fail(res, ReasonToolchainFailed), nil
		}
	}

	// RUNNING
	res.Stage = StageRunning
	ran, err := h.invoke(ctx, procrun.Command{Path: tc.ExecutablePath})
	if err != nil {
		var startErr *procrun.StartError
		if !errors.As(err, &startErr) {
			return nil, err
		}
		return h.fail(res, fmt.Sprintf("The executable could not be started: %v", startErr.Err)), nil
	}
	if ran.TimedOut {
		return h.fail(res, h.timeoutReason(StageRunning)), nil
	}
	exitCode := ran.ExitCode
	res.ExitCode = &exitCode

	// CHECKING
	res.Stage = StageChecking
	directives, err := directive.Parse(bytes.NewReader(compiled.Stdout))
	if err != nil {
		return h.fail(res, err.Error()), nil
	}
	res.Directives = directives
	res.Verdict = verdict.Evaluate(directives, verdict.Outcome{ExitCode: exitCode})
	res.Stage = StageDone

	log.Debug("case evaluated",
		"passed", res.Verdict.Passed,
		"directives", len(directives),
		"exit_code", exitCode,
	)
	return res, nil
}

// RunBatch runs every case and returns once all of them have finished.
//
// Cases run at most Options.Jobs at a time; each case has its own build
// outputs so concurrent cases never collide. Results keep the order of
// cases. A *FatalError from any case cancels the remaining ones and is
// returned instead of a result.
func (h *Harness) RunBatch(ctx context.Context, cases []TestCase) (*BatchResult, error) {
	if err := h.Prepare(); err != nil {
		return nil, err
	}

	batch := &BatchResult{
		RunID:     h.ids.Generate(),
		StartedAt: h.clock.Now(),
		Mode:      h.pipeline.Mode,
		Cases:     make([]*CaseResult, len(cases)),
		Total:     len(cases),
	}

	h.logger.Info("starting run",
		"run_id", batch.RunID,
		"cases", len(cases),
		"jobs", h.jobs,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.jobs)
	for i, tc := range cases {
		g.Go(func() error {
			res, err := h.RunCase(gctx, tc)
			if err != nil {
				return err
			}
			batch.Cases[i] = res
			h.logger.Info("case finished", "case", tc.Name, "passed", res.Passed())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, res := range batch.Cases {
		if res.Passed() {
			batch.Passed++
		} else {
			batch.Failed++
		}
	}

	h.logger.Info("run finished",
		"run_id", batch.RunID,
		"passed", batch.Passed,
		"failed", batch.Failed,
	)
	return batch, nil
}

// invoke runs cmd under the pipeline timeout, if any.
func (h *Harness) invoke(ctx context.Context, cmd procrun.Command) (*procrun.Result, error) {
	if h.pipeline.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.pipeline.Timeout)
		defer cancel()
	}

	h.logger.Debug("invoking", "command", cmd.String())
	return h.runner.Run(ctx, cmd)
}

func (h *Harness) fatal(tc TestCase, stage Stage, err error) error {
	if procrun.IsStartError(err) {
		return &FatalError{Case: tc.Name, Stage: stage, Err: err}
	}
	return err
}

func (h *Harness) fail(res *CaseResult, reason string) *CaseResult {
	res.Verdict = verdict.Fail(reason)
	h.logger.Debug("case failed", "case", res.Case.Name, "stage", res.Stage.String(), "reason", reason)
	return res
}

func (h *Harness) timeoutReason(stage Stage) string {
	return fmt.Sprintf("%s timed out after %s", stage, h.pipeline.Timeout)
}
