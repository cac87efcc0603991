package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/wasmfaas/executor"
	"github.com/caffeineduck/wasmfaas/loader"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wasmfaas.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected addr :8080, got %q", cfg.Server.Addr)
	}
	if cfg.Executor.Modules != "." {
		t.Errorf("expected modules '.', got %q", cfg.Executor.Modules)
	}
	if cfg.Executor.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", cfg.Executor.Timeout)
	}
	if cfg.Executor.MaxOutput != 16<<20 {
		t.Errorf("expected 16 MiB output limit, got %d", cfg.Executor.MaxOutput)
	}
	if cfg.Executor.CompilationCache != "none" {
		t.Errorf("expected no compilation cache, got %q", cfg.Executor.CompilationCache)
	}
	if !cfg.Observability.Metrics.Enabled || cfg.Observability.Tracing.Enabled {
		t.Errorf("expected metrics on and tracing off, got %+v", cfg.Observability)
	}
	if cfg.Accel.Module != "wasmedge-wasinn-example-mobilenet-image.wasm" {
		t.Errorf("unexpected accel module %q", cfg.Accel.Module)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:9000
  shutdown_timeout: 5s
executor:
  modules: /srv/modules
  timeout: 2s
  memory: 64mb
  max_output: 1024
  engine: interpreter
  compilation_cache: memory
  mounts:
    - guest: /data
      host: /srv/data
      mode: rw
  clock: true
log:
  level: debug
  format: json
observability:
  metrics:
    enabled: false
  tracing:
    enabled: true
    endpoint: localhost:4318
    protocol: http
accel:
  plugin_dir: /opt/plugins
  plugins: [wasinn.so]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" || cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("server not loaded: %+v", cfg.Server)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("unset fields should keep defaults, got read timeout %v", cfg.Server.ReadTimeout)
	}
	e := cfg.Executor
	if e.Modules != "/srv/modules" || e.Timeout != 2*time.Second || e.Memory != "64mb" || e.MaxOutput != 1024 {
		t.Errorf("executor not loaded: %+v", e)
	}
	if e.Engine != "interpreter" || e.CompilationCache != "memory" || !e.Clock || e.Random {
		t.Errorf("executor not loaded: %+v", e)
	}
	if len(e.Mounts) != 1 || e.Mounts[0].Guest != "/data" || e.Mounts[0].Mode != "rw" {
		t.Errorf("mounts not loaded: %+v", e.Mounts)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log not loaded: %+v", cfg.Log)
	}
	if cfg.Observability.Metrics.Enabled {
		t.Error("metrics should be disabled")
	}
	if tr := cfg.Observability.Tracing; !tr.Enabled || tr.Protocol != "http" || tr.ServiceName != "wasmfaas" {
		t.Errorf("tracing not loaded: %+v", tr)
	}
	if cfg.Accel.PluginDir != "/opt/plugins" || len(cfg.Accel.Plugins) != 1 || cfg.Accel.Model != "mobilenet.pt" {
		t.Errorf("accel not loaded: %+v", cfg.Accel)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":7000\"\nexecutor:\n  timeout: 1s\n")

	t.Setenv("WASMFAAS_ADDR", ":9999")
	t.Setenv("WASMFAAS_TIMEOUT", "3s")
	t.Setenv("WASMFAAS_MAX_OUTPUT", "42")
	t.Setenv("WASMFAAS_LOG_FORMAT", "json")
	t.Setenv("WASMFAAS_METRICS", "false")
	t.Setenv("WASMFAAS_OTLP_ENDPOINT", "collector:4317")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("env should override file, got addr %q", cfg.Server.Addr)
	}
	if cfg.Executor.Timeout != 3*time.Second {
		t.Errorf("expected 3s, got %v", cfg.Executor.Timeout)
	}
	if cfg.Executor.MaxOutput != 42 {
		t.Errorf("expected 42, got %d", cfg.Executor.MaxOutput)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected json, got %q", cfg.Log.Format)
	}
	if cfg.Observability.Metrics.Enabled {
		t.Error("metrics should be disabled by env")
	}
	if tr := cfg.Observability.Tracing; !tr.Enabled || tr.Endpoint != "collector:4317" {
		t.Errorf("OTLP endpoint should enable tracing: %+v", tr)
	}
}

func TestLoadSampleRateZero(t *testing.T) {
	path := writeConfig(t, "observability:\n  tracing:\n    enabled: true\n    endpoint: x:1\n    sample_rate: 0\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("sample_rate 0 should be valid: %v", err)
	}
	if cfg.Observability.Tracing.SampleRate != 0 {
		t.Errorf("expected explicit 0 to be kept, got %v", cfg.Observability.Tracing.SampleRate)
	}

	cfg, err = Load(writeConfig(t, "observability:\n  tracing:\n    enabled: true\n    endpoint: x:1\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Observability.Tracing.SampleRate != 1.0 {
		t.Errorf("unset sample_rate should default to 1.0, got %v", cfg.Observability.Tracing.SampleRate)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		want    string
	}{
		{"bad yaml", "server: [", nil, "parsing YAML"},
		{"bad engine", "executor:\n  engine: jit\n", nil, "executor.engine"},
		{"bad cache", "executor:\n  compilation_cache: redis\n", nil, "executor.compilation_cache"},
		{"bad memory", "executor:\n  memory: lots\n", nil, "executor.memory"},
		{"negative timeout", "executor:\n  timeout: -1s\n", nil, "executor.timeout"},
		{"relative mount", "executor:\n  mounts:\n    - guest: data\n      host: /tmp\n", nil, "guest must be an absolute path"},
		{"bad mount mode", "executor:\n  mounts:\n    - guest: /data\n      host: /tmp\n      mode: x\n", nil, "mode"},
		{"bad log level", "log:\n  level: loud\n", nil, "log.level"},
		{"bad log format", "log:\n  format: xml\n", nil, "log.format"},
		{"tracing without endpoint", "observability:\n  tracing:\n    enabled: true\n", nil, "endpoint is required"},
		{"bad sample rate", "observability:\n  tracing:\n    enabled: true\n    endpoint: x:1\n    sample_rate: 2\n", nil, "sample_rate"},
		{"bad env duration", "", map[string]string{"WASMFAAS_TIMEOUT": "soon"}, "WASMFAAS_TIMEOUT"},
		{"bad env int", "", map[string]string{"WASMFAAS_MAX_OUTPUT": "big"}, "WASMFAAS_MAX_OUTPUT"},
		{"bad env bool", "", map[string]string{"WASMFAAS_METRICS": "maybe"}, "WASMFAAS_METRICS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestWriteTimeout(t *testing.T) {
	cfg := Default()
	if got := cfg.WriteTimeout(); got != 40*time.Second {
		t.Errorf("expected 40s, got %v", got)
	}
	cfg.Server.WriteTimeout = time.Minute
	if got := cfg.WriteTimeout(); got != time.Minute {
		t.Errorf("explicit write timeout should win, got %v", got)
	}
	cfg.Server.WriteTimeout = 0
	cfg.Executor.Timeout = 0
	if got := cfg.WriteTimeout(); got != 0 {
		t.Errorf("no executor budget means no write timeout, got %v", got)
	}
}

func TestExecutorOptions(t *testing.T) {
	dir := t.TempDir()
	e := Default().Executor
	e.Memory = "1mb"
	e.CompilationCache = "disk"
	e.CacheDir = t.TempDir()
	e.Mounts = []MountConfig{{Guest: "/data", Host: dir}}
	e.Clock = true

	opts, err := e.ExecutorOptions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exec, err := executor.New(loader.New(dir), opts...)
	if err != nil {
		t.Fatalf("options should build an executor: %v", err)
	}
	exec.Close()

	e.Mounts[0].Mode = "exec"
	if _, err := e.ExecutorOptions(); err == nil {
		t.Error("expected error for bad mount mode")
	}
}
