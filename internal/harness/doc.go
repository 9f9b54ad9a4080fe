// Package harness runs compiler test cases and checks their outcomes.
//
// Each test case is one source file. The harness invokes the compiler on it
// in test mode, optionally builds the compiler's intermediate artifact with a
// native toolchain, runs the resulting executable, and evaluates the check
// directives the compiler printed on stdout against the executable's exit
// status.
//
// # Stages
//
//	COMPILING -> BUILDING (two-step only) -> RUNNING -> CHECKING -> DONE
//
// A case stops at the first stage that fails and reports why:
//
//   - compiler exits nonzero: "The compiler emitted errors / panicked"
//   - toolchain exits nonzero: "The native toolchain emitted errors"
//   - executable missing or not runnable: "The executable could not be started: ..."
//   - a stage exceeds Pipeline.Timeout: "<stage> timed out after <d>"
//   - malformed directive or failed check: the directive or verdict reason
//
// If the compiler or toolchain binary cannot be started at all, no case can
// succeed; RunCase and RunBatch return a *FatalError instead.
//
// # Configuration
//
// A Pipeline holds the tool commands. Tool arguments and environment values
// may reference {name}, {source}, {artifact} and {executable}, expanded per
// case:
//
//	p := harness.DefaultPipeline()
//	p.Compiler.Env["LOKI_FILE"] // "{source}"
//
// # Batches
//
// RunBatch runs cases with bounded concurrency (Options.Jobs, default 1)
// and returns only after every case finished, with results in input order.
// Output paths derive from unique case names, so parallel cases never share
// an artifact or executable.
//
// # Usage
//
//	h, err := harness.New(harness.DefaultPipeline(), harness.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cases, err := h.Pipeline().Discover("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	batch, err := h.RunBatch(ctx, cases)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, c := range batch.Cases {
//	    fmt.Println(c.Report())
//	}
package harness
