package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/lokitest/internal/harness"
	"github.com/roach88/lokitest/internal/testutil"
)

// fixture is a project directory with a lokitest.yaml whose compiler and
// toolchain are served by a FakeRunner.
type fixture struct {
	dir       string
	testsDir  string
	targetDir string
	runner    *testutil.FakeRunner
	compiles  map[string]testutil.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	f := &fixture{
		dir:       dir,
		testsDir:  filepath.Join(dir, "tests"),
		targetDir: filepath.Join(dir, "target"),
		runner:    testutil.NewFakeRunner(),
		compiles:  make(map[string]testutil.Handler),
	}
	require.NoError(t, os.MkdirAll(f.testsDir, 0755))

	config := fmt.Sprintf(`compiler:
  command: compiler
  env:
    LOKI_RUNNING_TESTS: "yes"
    LOKI_FILE: "{source}"
    LOKI_OUTPUT_FILE: "{artifact}"
toolchain:
  command: toolchain
  args: ["{artifact}", "-o", "{executable}"]
tests:
  dir: %q
target:
  dir: %q
`, f.testsDir, f.targetDir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lokitest.yaml"), []byte(config), 0644))

	f.runner.Handle("compiler", testutil.ByEnv("LOKI_FILE", f.compiles))
	f.runner.Handle("toolchain", testutil.Exit(0, ""))
	return f
}

// add writes tests/<name>.loki and scripts its compiler and executable.
// A nil exe leaves the executable unregistered.
func (f *fixture) add(t *testing.T, name string, compile, exe testutil.Handler) {
	t.Helper()
	source := filepath.Join(f.testsDir, name+".loki")
	require.NoError(t, os.WriteFile(source, []byte("fn main() {}\n"), 0644))

	f.compiles[source] = compile
	if exe != nil {
		f.runner.Handle(filepath.Join(f.targetDir, name+".exe"), exe)
	}
}

// addStandard adds the three cases most report tests use: one that passes,
// one the compiler rejects and one whose exit status is wrong.
func (f *fixture) addStandard(t *testing.T) {
	t.Helper()
	f.add(t, "ok", testutil.Exit(0, "__t_expected_status=0\n"), testutil.Exit(0, ""))
	f.add(t, "bad", testutil.ExitWithStderr(101, "", "error: unexpected token\n  --> bad.loki:1:4\n"), nil)
	f.add(t, "mismatch", testutil.Exit(0, "__t_expected_status=0\n"), testutil.Exit(3, ""))
}

func (f *fixture) options() *RootOptions {
	return &RootOptions{
		ConfigDir: f.dir,
		Runner:    f.runner,
		IDs:       testutil.NewFixedIDGenerator(),
		Clock:     testutil.NewDeterministicClock(),
	}
}

// execute runs the root command with args and captures both streams.
func execute(opts *RootOptions, args ...string) (stdout, stderr string, err error) {
	cmd := NewRootCommandWithOptions(opts)
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)

	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

// batchResponse is a decoded JSON test response.
type batchResponse struct {
	Status string               `json:"status"`
	Data   *harness.BatchResult `json:"data"`
	Error  *CLIError            `json:"error"`
}
