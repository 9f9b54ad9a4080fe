// Package procrun invokes external programs and captures their exit status
// and output streams.
package procrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"
)

// Command describes one external program invocation.
type Command struct {
	// Path is the program to run. Bare names are resolved via PATH.
	Path string

	// Args are passed to the program after Path.
	Args []string

	// Env holds overrides layered on top of the parent environment.
	// A nil or empty map inherits the parent environment unchanged.
	Env map[string]string

	// Dir is the working directory. Empty means the current directory.
	Dir string
}

// String renders the command line for logs and error messages.
func (c Command) String() string {
	parts := append([]string{c.Path}, c.Args...)
	return strings.Join(parts, " ")
}

// Result is the outcome of a program that was started successfully.
type Result struct {
	// ExitCode is the process exit status. A process killed by a signal
	// reports 128 plus the signal number, the way POSIX shells do.
	ExitCode int
	Stdout   []byte
	Stderr   []byte

	// TimedOut is set when the context deadline expired and the process was
	// killed. ExitCode is meaningless in that case.
	TimedOut bool

	Duration time.Duration
}

// Runner executes external programs to completion.
//
// Implementations must report a nonzero exit status through Result, not
// through the error return. The error return is reserved for programs that
// could not be started (*StartError) or were abandoned because the context
// was cancelled.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// StartError reports that a program could not be started at all.
type StartError struct {
	Command Command
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Command.Path, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// IsStartError reports whether err (or anything it wraps) is a *StartError.
func IsStartError(err error) bool {
	var startErr *StartError
	return errors.As(err, &startErr)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// Run starts cmd, waits for it and captures both output streams.
func (ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = mergeEnv(os.Environ(), cmd.Env)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	if err := c.Start(); err != nil {
		return nil, &StartError{Command: cmd, Err: err}
	}

	waitErr := c.Wait()
	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			res.TimedOut = true
			res.ExitCode = -1
			return res, nil
		}
		return nil, fmt.Errorf("run %s: %w", cmd.Path, ctxErr)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("wait for %s: %w", cmd.Path, waitErr)
		}
	}
	res.ExitCode = exitCode(c.ProcessState)

	return res, nil
}

// exitCode maps a finished process to a shell-style status. ProcessState
// reports -1 for signalled processes, which no program can exit with.
func exitCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

// mergeEnv appends overrides to base in sorted key order. Later entries win
// in os/exec, so overrides shadow inherited values.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return nil
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(keys))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}
