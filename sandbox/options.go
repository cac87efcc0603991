package sandbox

import (
	"github.com/tetratelabs/wazero"
)

// Engine selects how wazero executes guest code.
type Engine string

const (
	// EngineAuto uses the compiler where supported, otherwise the interpreter.
	EngineAuto        Engine = "auto"
	EngineCompiler    Engine = "compiler"
	EngineInterpreter Engine = "interpreter"
)

// MountMode defines the permission level for a mount point.
type MountMode int

const (
	// MountReadOnly allows only read operations.
	MountReadOnly MountMode = iota
	// MountReadWrite allows read and write operations.
	MountReadWrite
)

// Mount maps a host directory into the guest filesystem.
type Mount struct {
	GuestPath string    // Path as seen by the guest (e.g., "/data")
	HostPath  string    // Actual path on the host filesystem
	Mode      MountMode // Permission level
}

// Option configures a Builder.
type Option func(*config)

type config struct {
	engine           Engine
	memoryLimitPages uint32 // 0 = wazero default (65536 pages = 4GB)
	maxOutput        int    // 0 = unlimited
	cache            wazero.CompilationCache
	mounts           []Mount
	clock            bool
	random           bool
}

func defaultConfig() config {
	return config{engine: EngineAuto}
}

// WithEngine selects the execution engine.
func WithEngine(e Engine) Option {
	return func(c *config) {
		c.engine = e
	}
}

// WithMemoryLimit sets the maximum memory available to a guest in 64KB
// pages.
func WithMemoryLimit(pages uint32) Option {
	return func(c *config) {
		c.memoryLimitPages = pages
	}
}

// WithMaxOutput bounds the number of bytes a guest may write to stdout.
func WithMaxOutput(n int) Option {
	return func(c *config) {
		c.maxOutput = n
	}
}

// WithCompilationCache shares compiled code between sandboxes. The cache is
// keyed by module content and holds no guest state. The caller owns it.
func WithCompilationCache(cache wazero.CompilationCache) Option {
	return func(c *config) {
		c.cache = cache
	}
}

// WithMount grants the guest access to a host directory.
//
// Examples:
//
//	sandbox.WithMount("/data", "./input", sandbox.MountReadOnly)
//	sandbox.WithMount("/output", "./results", sandbox.MountReadWrite)
func WithMount(guestPath, hostPath string, mode MountMode) Option {
	return func(c *config) {
		c.mounts = append(c.mounts, Mount{
			GuestPath: guestPath,
			HostPath:  hostPath,
			Mode:      mode,
		})
	}
}

// WithClock gives the guest the host's real wall and monotonic clocks and
// lets it sleep. Without it the guest sees a deterministic fake clock.
func WithClock() Option {
	return func(c *config) {
		c.clock = true
	}
}

// WithRandom gives the guest a cryptographically secure random source.
// Without it the guest sees a deterministic source.
func WithRandom() Option {
	return func(c *config) {
		c.random = true
	}
}
