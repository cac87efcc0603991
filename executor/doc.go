// Package executor runs WebAssembly guests as functions.
//
// # Overview
//
// An invocation resolves a module through a [Loader], builds a fresh
// sandbox, compiles and links the module against the WASI preview1 host
// surface, instantiates it, calls its "_start" export and returns what it
// wrote to stdout as text. No state survives between invocations: every
// call gets its own runtime, memory and output buffer.
//
// # Basic Usage
//
//	exec, err := executor.New(loader.New("./modules"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	res, err := exec.Invoke(ctx, "echo", map[string]string{"name": "alice"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Print(res.Output)
//
// # Errors
//
// Failures are returned as [*Error] tagged with the [Kind] of stage that
// failed. A guest that calls proc_exit terminates normally; its exit code
// is reported in [Result.ExitCode].
//
// # Capabilities
//
// Guests get no filesystem, network, real clock or real randomness by
// default. Grant them explicitly:
//
//	exec, _ := executor.New(l,
//	    executor.WithSandboxOptions(
//	        sandbox.WithMount("/data", "./input", sandbox.MountReadOnly),
//	        sandbox.WithClock(),
//	    ),
//	)
package executor
