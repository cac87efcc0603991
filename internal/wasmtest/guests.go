package wasmtest

const wasi = "wasi_snapshot_preview1"

// Memory layout shared by the guests below.
const (
	scratchIovec    = 0
	scratchWritten  = 8
	scratchData     = 64
	envCount        = 0
	envSize         = 4
	envIovec        = 8
	envWritten      = 16
	envPtrs         = 1024
	envBuf          = 4096
	echoMemoryPages = 2
)

var (
	i32x1 = []ValType{I32}
	i32x2 = []ValType{I32, I32}
	i32x4 = []ValType{I32, I32, I32, I32}
)

// Echo returns a guest that writes every environment variable it receives
// as KEY=VALUE followed by a newline to stdout.
func Echo() []byte {
	m := NewModule()
	sizesGet := m.ImportFunc(wasi, "environ_sizes_get", i32x2, i32x1)
	environGet := m.ImportFunc(wasi, "environ_get", i32x2, i32x1)
	fdWrite := m.ImportFunc(wasi, "fd_write", i32x4, i32x1)
	m.Memory(echoMemoryPages)

	const p, end = 0, 1
	start := m.Func(nil, nil, i32x2,
		I32Const(envCount), I32Const(envSize), Call(sizesGet), Drop(),
		I32Const(envPtrs), I32Const(envBuf), Call(environGet), Drop(),

		// Entries are NUL terminated; turn each terminator into a newline.
		I32Const(envBuf), LocalSet(p),
		I32Const(envBuf), I32Const(envSize), I32Load(), I32Add(), LocalSet(end),
		Block(), Loop(),
		LocalGet(p), LocalGet(end), I32GeU(), BrIf(1),
		LocalGet(p), I32Load8U(), I32Eqz(), If(),
		LocalGet(p), I32Const('\n'), I32Store8(),
		End(),
		LocalGet(p), I32Const(1), I32Add(), LocalSet(p),
		Br(0),
		End(), End(),

		I32Const(envIovec), I32Const(envBuf), I32Store(),
		I32Const(envIovec+4), I32Const(envSize), I32Load(), I32Store(),
		I32Const(1), I32Const(envIovec), I32Const(1), I32Const(envWritten), Call(fdWrite), Drop(),
	)
	m.Export("_start", start)
	return m.Bytes()
}

// Write returns a guest that writes b to stdout and returns.
func Write(b []byte) []byte {
	return WriteTo(1, b)
}

// WriteTo returns a guest that writes b to the file descriptor fd.
func WriteTo(fd int32, b []byte) []byte {
	m := NewModule()
	fdWrite := m.ImportFunc(wasi, "fd_write", i32x4, i32x1)
	m.Memory(1)
	m.Data(scratchData, b)
	start := m.Func(nil, nil, nil, writeBody(fdWrite, fd, len(b))...)
	m.Export("_start", start)
	return m.Bytes()
}

// WriteAndExit returns a guest that writes b to stdout and then calls
// proc_exit with code.
func WriteAndExit(b []byte, code int32) []byte {
	m := NewModule()
	fdWrite := m.ImportFunc(wasi, "fd_write", i32x4, i32x1)
	procExit := m.ImportFunc(wasi, "proc_exit", i32x1, nil)
	m.Memory(1)
	m.Data(scratchData, b)
	body := writeBody(fdWrite, 1, len(b))
	body = append(body, I32Const(code), Call(procExit))
	start := m.Func(nil, nil, nil, body...)
	m.Export("_start", start)
	return m.Bytes()
}

func writeBody(fdWrite uint32, fd int32, n int) [][]byte {
	return [][]byte{
		I32Const(scratchIovec), I32Const(scratchData), I32Store(),
		I32Const(scratchIovec + 4), I32Const(int32(n)), I32Store(),
		I32Const(fd), I32Const(scratchIovec), I32Const(1), I32Const(scratchWritten), Call(fdWrite), Drop(),
	}
}

// Empty returns a guest whose entry point does nothing.
func Empty() []byte {
	m := NewModule()
	m.Memory(1)
	m.Export("_start", m.Func(nil, nil, nil))
	return m.Bytes()
}

// Trap returns a guest whose entry point executes the unreachable
// instruction.
func Trap() []byte {
	m := NewModule()
	m.Memory(1)
	m.Export("_start", m.Func(nil, nil, nil, Unreachable()))
	return m.Bytes()
}

// OutOfBounds returns a guest that loads from beyond its single memory page.
func OutOfBounds() []byte {
	m := NewModule()
	m.Memory(1)
	m.Export("_start", m.Func(nil, nil, nil, I32Const(70000), I32Load(), Drop()))
	return m.Bytes()
}

// Spin returns a guest that never terminates on its own.
func Spin() []byte {
	m := NewModule()
	m.Memory(1)
	m.Export("_start", m.Func(nil, nil, nil, Loop(), Br(0), End()))
	return m.Bytes()
}

// NoEntry returns a guest that exports "main" but no "_start".
func NoEntry() []byte {
	m := NewModule()
	m.Memory(1)
	m.Export("main", m.Func(nil, nil, nil))
	return m.Bytes()
}

// BadEntry returns a guest whose "_start" takes a parameter.
func BadEntry() []byte {
	m := NewModule()
	m.Memory(1)
	m.Export("_start", m.Func(i32x1, nil, nil))
	return m.Bytes()
}

// UnknownImport returns a guest importing a function no host provides.
func UnknownImport() []byte {
	m := NewModule()
	missing := m.ImportFunc("env", "host_secret", nil, nil)
	m.Memory(1)
	m.Export("_start", m.Func(nil, nil, nil, Call(missing)))
	return m.Bytes()
}

// MismatchedImport returns a guest importing fd_write with the wrong
// signature.
func MismatchedImport() []byte {
	m := NewModule()
	fdWrite := m.ImportFunc(wasi, "fd_write", nil, nil)
	m.Memory(1)
	m.Export("_start", m.Func(nil, nil, nil, Call(fdWrite)))
	return m.Bytes()
}

// ImportGlobal returns a guest importing a global from the WASI module,
// which exports only functions.
func ImportGlobal() []byte {
	m := NewModule()
	m.ImportGlobal(wasi, "g", I32)
	m.ImportFunc(wasi, "proc_exit", i32x1, nil)
	m.Memory(1)
	m.Export("_start", m.Func(nil, nil, nil))
	return m.Bytes()
}

// ImportTable returns a guest importing a table from the WASI module.
func ImportTable() []byte {
	m := NewModule()
	m.ImportTable(wasi, "t", 1)
	m.Memory(1)
	m.Export("_start", m.Func(nil, nil, nil))
	return m.Bytes()
}

// ImportMemory returns a guest that expects the host to provide its memory.
func ImportMemory() []byte {
	m := NewModule()
	m.ImportMemory(wasi, "memory", 1)
	m.Export("_start", m.Func(nil, nil, nil))
	return m.Bytes()
}

// StartTrap returns a guest whose start section traps during instantiation.
func StartTrap() []byte {
	m := NewModule()
	m.Memory(1)
	trap := m.Func(nil, nil, nil, Unreachable())
	m.Start(trap)
	m.Export("_start", m.Func(nil, nil, nil))
	return m.Bytes()
}
