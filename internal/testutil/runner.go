package testutil

import (
	"context"
	"os"
	"sync"

	"github.com/roach88/lokitest/internal/procrun"
)

// Handler produces the scripted outcome of one fake program invocation.
type Handler func(cmd procrun.Command) (*procrun.Result, error)

// FakeRunner is a procrun.Runner that dispatches on Command.Path to
// registered handlers instead of starting processes.
//
// An unregistered path behaves like a missing binary and returns a
// *procrun.StartError.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FakeRunner struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []procrun.Command
}

// NewFakeRunner creates a runner with no registered programs.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{handlers: make(map[string]Handler)}
}

// Handle registers h for invocations of path and returns the runner for
// chaining.
func (f *FakeRunner) Handle(path string, h Handler) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[path] = h
	return f
}

// Run records cmd and invokes its handler.
func (f *FakeRunner) Run(ctx context.Context, cmd procrun.Command) (*procrun.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	h, ok := f.handlers[cmd.Path]
	f.mu.Unlock()

	if !ok {
		return nil, &procrun.StartError{Command: cmd, Err: os.ErrNotExist}
	}
	return h(cmd)
}

// Calls returns a copy of every command run so far, in call order.
func (f *FakeRunner) Calls() []procrun.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]procrun.Command(nil), f.calls...)
}

// CallsTo returns the recorded commands for one program path.
func (f *FakeRunner) CallsTo(path string) []procrun.Command {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []procrun.Command
	for _, c := range f.calls {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// Exit returns a handler that exits with code and prints stdout.
func Exit(code int, stdout string) Handler {
	return func(procrun.Command) (*procrun.Result, error) {
		return &procrun.Result{ExitCode: code, Stdout: []byte(stdout)}, nil
	}
}

// ExitWithStderr is Exit with captured stderr as well.
func ExitWithStderr(code int, stdout, stderr string) Handler {
	return func(procrun.Command) (*procrun.Result, error) {
		return &procrun.Result{ExitCode: code, Stdout: []byte(stdout), Stderr: []byte(stderr)}, nil
	}
}

// TimedOut returns a handler that reports an expired deadline.
func TimedOut() Handler {
	return func(procrun.Command) (*procrun.Result, error) {
		return &procrun.Result{ExitCode: -1, TimedOut: true}, nil
	}
}

// ByEnv dispatches on the value of an environment override, which is how
// the compiler learns which source file it is compiling.
func ByEnv(key string, handlers map[string]Handler) Handler {
	return func(cmd procrun.Command) (*procrun.Result, error) {
		h, ok := handlers[cmd.Env[key]]
		if !ok {
			return &procrun.Result{ExitCode: 101, Stderr: []byte("no script for " + cmd.Env[key])}, nil
		}
		return h(cmd)
	}
}
