package executor

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/caffeineduck/wasmfaas/sandbox"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout is the execution budget of an invocation unless
// configured otherwise.
const DefaultTimeout = 30 * time.Second

// Option configures a single invocation.
type Option func(*runConfig)

type runConfig struct {
	timeout time.Duration
}

// WithTimeout overrides the executor's execution budget for one invocation.
// Zero disables the budget.
func WithTimeout(d time.Duration) Option {
	return func(c *runConfig) {
		c.timeout = d
	}
}

// CacheMode selects where compiled code is shared between invocations.
type CacheMode string

const (
	CacheNone   CacheMode = "none"
	CacheMemory CacheMode = "memory"
	CacheDisk   CacheMode = "disk"
)

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	timeout   time.Duration
	cacheMode CacheMode
	cacheDir  string
	sandbox   []sandbox.Option
	logger    *slog.Logger
	tracer    trace.Tracer
	observer  Observer
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		timeout:   DefaultTimeout,
		cacheMode: CacheNone,
	}
}

// WithDefaultTimeout sets the execution budget applied to every invocation.
func WithDefaultTimeout(d time.Duration) ExecutorOption {
	return func(c *executorConfig) {
		c.timeout = d
	}
}

// WithMemoryCache shares compiled code between invocations in memory. Each
// invocation still gets a fresh runtime; only immutable machine code keyed
// by module content is reused.
func WithMemoryCache() ExecutorOption {
	return func(c *executorConfig) {
		c.cacheMode = CacheMemory
	}
}

// WithDiskCache enables a persistent compilation cache.
// Optionally provide a custom directory; otherwise uses ~/.cache/wasmfaas or XDG_CACHE_HOME/wasmfaas.
//
// Examples:
//
//	executor.New(l, executor.WithDiskCache())            // default dir
//	executor.New(l, executor.WithDiskCache("/tmp/cache")) // custom dir
func WithDiskCache(dir ...string) ExecutorOption {
	return func(c *executorConfig) {
		c.cacheMode = CacheDisk
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithMemoryLimit sets the maximum memory available to guests.
// Each page is 64KB. Examples:
//   - WithMemoryLimit(16) = 1MB max
//   - WithMemoryLimit(256) = 16MB max
//   - WithMemoryLimit(1024) = 64MB max
//
// Default is 0 (no limit, up to 4GB).
func WithMemoryLimit(pages uint32) ExecutorOption {
	return WithSandboxOptions(sandbox.WithMemoryLimit(pages))
}

// WithMaxOutput bounds the bytes a guest may write to stdout. Exceeding it
// fails the invocation with KindDecode.
func WithMaxOutput(n int) ExecutorOption {
	return WithSandboxOptions(sandbox.WithMaxOutput(n))
}

// WithEngine selects the wazero execution engine.
func WithEngine(e sandbox.Engine) ExecutorOption {
	return WithSandboxOptions(sandbox.WithEngine(e))
}

// WithSandboxOptions passes options through to the sandbox builder, e.g.
// sandbox.WithMount, sandbox.WithClock or sandbox.WithRandom.
func WithSandboxOptions(opts ...sandbox.Option) ExecutorOption {
	return func(c *executorConfig) {
		c.sandbox = append(c.sandbox, opts...)
	}
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(c *executorConfig) {
		c.logger = l
	}
}

// WithTracer sets the tracer used for per-stage spans.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(c *executorConfig) {
		c.tracer = t
	}
}

// WithObserver registers an Observer, typically a metrics collector.
func WithObserver(o Observer) ExecutorOption {
	return func(c *executorConfig) {
		c.observer = o
	}
}

// Memory limit constants for convenience.
const (
	MemoryLimit1MB   uint32 = 16    // 1 MB
	MemoryLimit16MB  uint32 = 256   // 16 MB
	MemoryLimit64MB  uint32 = 1024  // 64 MB
	MemoryLimit256MB uint32 = 4096  // 256 MB
	MemoryLimit1GB   uint32 = 16384 // 1 GB
	MemoryLimit4GB   uint32 = 65536 // 4 GB, the 32-bit address space
)

const pageSize = 64 << 10

// ParseMemoryLimit converts a size such as "64mb", "512kb" or "1gb" to a
// page count, rounding up. "" and "0" mean no limit.
func ParseMemoryLimit(s string) (uint32, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "0" {
		return 0, nil
	}

	unit := uint64(1)
	for _, suffix := range []struct {
		name string
		mult uint64
	}{
		{"kb", 1 << 10},
		{"mb", 1 << 20},
		{"gb", 1 << 30},
		{"b", 1},
	} {
		if strings.HasSuffix(s, suffix.name) {
			s = strings.TrimSuffix(s, suffix.name)
			unit = suffix.mult
			break
		}
	}

	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q: %w", s, err)
	}
	bytes := n * unit
	pages := (bytes + pageSize - 1) / pageSize
	if pages > uint64(MemoryLimit4GB) {
		return 0, fmt.Errorf("memory limit %s exceeds 4gb", s)
	}
	return uint32(pages), nil
}
