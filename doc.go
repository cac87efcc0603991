// Package wasmfaas runs WebAssembly modules as HTTP functions.
//
// # Overview
//
// A module is a WASI preview1 binary named <id>.wasm in a module directory.
// Every invocation reads it again, builds a fresh sandbox with only the
// request's parameters as environment variables, runs its _start export
// and returns what it wrote to stdout. Nothing survives between
// invocations.
//
// # Basic Usage
//
//	exec, _ := executor.New(loader.New("./modules"))
//	defer exec.Close()
//
//	res, err := exec.Invoke(ctx, "echo", map[string]string{"name": "alice"})
//	if err != nil {
//	    log.Println(executor.KindOf(err), err)
//	}
//	fmt.Print(res.Output)
//
// # Granting Capabilities
//
// Guests start with no filesystem, clock or randomness:
//
//	exec, _ := executor.New(loader.New("./modules"),
//	    executor.WithDefaultTimeout(5*time.Second),
//	    executor.WithMemoryLimit(executor.MemoryLimit64MB),
//	    executor.WithSandboxOptions(
//	        sandbox.WithMount("/data", "./input", sandbox.MountReadOnly),
//	        sandbox.WithClock(),
//	    ))
//
// See the [executor], [loader], [sandbox] and [accel] packages for details.
// The wasmfaas command serves the executor over HTTP.
package wasmfaas
