// Package config handles loading and validating wasmfaas configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// file, a .env file in the working directory, WASMFAAS_* environment
// variables, and command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/caffeineduck/wasmfaas/accel"
	"github.com/caffeineduck/wasmfaas/executor"
	"github.com/caffeineduck/wasmfaas/loader"
	"github.com/caffeineduck/wasmfaas/sandbox"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WASMFAAS_"

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Executor      ExecutorConfig      `yaml:"executor"`
	Log           LogConfig           `yaml:"log"`
	Observability ObservabilityConfig `yaml:"observability"`
	Accel         accel.Scenario      `yaml:"accel"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`             // Default: ":8080"
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // Default: 10s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // Default: executor timeout + 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Default: 15s
}

// ExecutorConfig configures module resolution and the sandbox.
type ExecutorConfig struct {
	Modules          string        `yaml:"modules"`           // Module directory. Default: "."
	Timeout          time.Duration `yaml:"timeout"`           // Per-invocation budget. 0 = none. Default: 30s
	Memory           string        `yaml:"memory"`            // e.g. "64mb". Empty = runtime default.
	MaxOutput        int           `yaml:"max_output"`        // Bytes. 0 = unlimited. Default: 16 MiB
	MaxModuleSize    int64         `yaml:"max_module_size"`   // Bytes. Default: 64 MiB
	Engine           string        `yaml:"engine"`            // "auto", "compiler" or "interpreter"
	CompilationCache string        `yaml:"compilation_cache"` // "none", "memory" or "disk"
	CacheDir         string        `yaml:"cache_dir"`         // Disk cache location. Default: XDG cache dir.
	Mounts           []MountConfig `yaml:"mounts"`
	Clock            bool          `yaml:"clock"`  // Real clocks for guests.
	Random           bool          `yaml:"random"` // Real randomness for guests.
}

// MountConfig grants guests access to a host directory.
type MountConfig struct {
	Guest string `yaml:"guest"`
	Host  string `yaml:"host"`
	Mode  string `yaml:"mode"` // "ro" (default) or "rw"
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error. Default: info
	Format string `yaml:"format"` // text or json. Default: text
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Default: true
	Path    string `yaml:"path"`    // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `yaml:"protocol"`     // "grpc" or "http". Default: "grpc"
	ServiceName string  `yaml:"service_name"` // Default: "wasmfaas"
	SampleRate  float64 `yaml:"sample_rate"`  // 0.0–1.0. Default: 1.0
	Insecure    bool    `yaml:"insecure"`     // Skip TLS for dev
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Executor: ExecutorConfig{
			Modules:          ".",
			Timeout:          executor.DefaultTimeout,
			MaxOutput:        16 << 20,
			MaxModuleSize:    loader.DefaultMaxModuleSize,
			Engine:           string(sandbox.EngineAuto),
			CompilationCache: string(executor.CacheNone),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
			Tracing: TracingConfig{
				Protocol:    "grpc",
				ServiceName: "wasmfaas",
				SampleRate:  1.0,
			},
		},
		Accel: accel.DefaultScenario(),
	}
}

// Load reads the YAML file at path over the defaults, then applies .env
// and WASMFAAS_* overrides and validates the result. An empty path skips
// the file.
func Load(path string) (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("ADDR", &c.Server.Addr)
	str("MODULES", &c.Executor.Modules)
	dur("TIMEOUT", &c.Executor.Timeout)
	str("MEMORY", &c.Executor.Memory)
	if v, ok := os.LookupEnv(EnvPrefix + "MAX_OUTPUT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_OUTPUT: %w", EnvPrefix, err))
		} else {
			c.Executor.MaxOutput = n
		}
	}
	str("ENGINE", &c.Executor.Engine)
	str("COMPILATION_CACHE", &c.Executor.CompilationCache)
	str("CACHE_DIR", &c.Executor.CacheDir)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	boolean("METRICS", &c.Observability.Metrics.Enabled)
	if v, ok := os.LookupEnv(EnvPrefix + "OTLP_ENDPOINT"); ok && v != "" {
		c.Observability.Tracing.Enabled = true
		c.Observability.Tracing.Endpoint = v
	}
	str("OTLP_PROTOCOL", &c.Observability.Tracing.Protocol)
	str("ACCEL_PLUGIN_DIR", &c.Accel.PluginDir)

	return errors.Join(errs...)
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}

	e := c.Executor
	if e.Modules == "" {
		return fmt.Errorf("executor.modules is required")
	}
	if e.Timeout < 0 {
		return fmt.Errorf("executor.timeout must not be negative")
	}
	if _, err := executor.ParseMemoryLimit(e.Memory); err != nil {
		return fmt.Errorf("executor.memory: %w", err)
	}
	if e.MaxOutput < 0 {
		return fmt.Errorf("executor.max_output must not be negative")
	}
	if e.MaxModuleSize <= 0 {
		return fmt.Errorf("executor.max_module_size must be positive")
	}
	switch sandbox.Engine(e.Engine) {
	case sandbox.EngineAuto, sandbox.EngineCompiler, sandbox.EngineInterpreter:
	default:
		return fmt.Errorf("executor.engine %q is not supported (use auto, compiler, or interpreter)", e.Engine)
	}
	switch executor.CacheMode(e.CompilationCache) {
	case executor.CacheNone, executor.CacheMemory, executor.CacheDisk:
	default:
		return fmt.Errorf("executor.compilation_cache %q is not supported (use none, memory, or disk)", e.CompilationCache)
	}
	for i, m := range e.Mounts {
		if !path.IsAbs(m.Guest) {
			return fmt.Errorf("executor.mounts[%d].guest must be an absolute path", i)
		}
		if m.Host == "" {
			return fmt.Errorf("executor.mounts[%d].host is required", i)
		}
		if _, err := m.mode(); err != nil {
			return fmt.Errorf("executor.mounts[%d]: %w", i, err)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not supported (use debug, info, warn, or error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q is not supported (use text or json)", c.Log.Format)
	}

	if m := c.Observability.Metrics; m.Enabled && !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("observability.metrics.path must start with /")
	}
	if t := c.Observability.Tracing; t.Enabled {
		if t.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		switch t.Protocol {
		case "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", t.Protocol)
		}
		if t.SampleRate < 0 || t.SampleRate > 1 {
			return fmt.Errorf("observability.tracing.sample_rate must be between 0 and 1")
		}
	}
	return nil
}

func (m MountConfig) mode() (sandbox.MountMode, error) {
	switch m.Mode {
	case "", "ro":
		return sandbox.MountReadOnly, nil
	case "rw":
		return sandbox.MountReadWrite, nil
	default:
		return 0, fmt.Errorf("mode %q is not supported (use ro or rw)", m.Mode)
	}
}

// WriteTimeout returns the HTTP write timeout, defaulting to the executor
// budget plus 10s so that timed-out invocations can still be answered.
func (c *Config) WriteTimeout() time.Duration {
	if c.Server.WriteTimeout > 0 {
		return c.Server.WriteTimeout
	}
	if c.Executor.Timeout <= 0 {
		return 0
	}
	return c.Executor.Timeout + 10*time.Second
}

// LoaderOptions returns the loader options the configuration asks for.
func (e ExecutorConfig) LoaderOptions() []loader.Option {
	return []loader.Option{loader.WithMaxModuleSize(e.MaxModuleSize)}
}

// ExecutorOptions converts the configuration to executor options. Logging,
// tracing and metrics are wired by the caller.
func (e ExecutorConfig) ExecutorOptions() ([]executor.ExecutorOption, error) {
	pages, err := executor.ParseMemoryLimit(e.Memory)
	if err != nil {
		return nil, err
	}

	opts := []executor.ExecutorOption{
		executor.WithDefaultTimeout(e.Timeout),
		executor.WithMemoryLimit(pages),
		executor.WithMaxOutput(e.MaxOutput),
		executor.WithEngine(sandbox.Engine(e.Engine)),
	}
	switch executor.CacheMode(e.CompilationCache) {
	case executor.CacheMemory:
		opts = append(opts, executor.WithMemoryCache())
	case executor.CacheDisk:
		opts = append(opts, executor.WithDiskCache(e.CacheDir))
	}

	var grants []sandbox.Option
	for _, m := range e.Mounts {
		mode, err := m.mode()
		if err != nil {
			return nil, err
		}
		grants = append(grants, sandbox.WithMount(m.Guest, m.Host, mode))
	}
	if e.Clock {
		grants = append(grants, sandbox.WithClock())
	}
	if e.Random {
		grants = append(grants, sandbox.WithRandom())
	}
	if len(grants) > 0 {
		opts = append(opts, executor.WithSandboxOptions(grants...))
	}
	return opts, nil
}
