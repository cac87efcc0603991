package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/wasmfaas/accel"
	"github.com/caffeineduck/wasmfaas/executor"
	"github.com/caffeineduck/wasmfaas/internal/wasmtest"
	"github.com/spf13/cobra"
)

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestCLIHelp(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"wasmfaas", "WASI", "serve", "run", "infer", "version", "--config", "--log-level"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("help output should contain %q", phrase)
		}
	}
}

func TestCLIServeHelp(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "serve", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"--addr", "--modules", "--timeout", "--memory", "--max-output", "--engine", "--compilation-cache", "/wasmer/infer"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("serve help output should contain %q", phrase)
		}
	}
}

func TestCLIVersion(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(output, "wasmfaas "+version) {
		t.Errorf("unexpected version output %q", output)
	}
}

func TestCLIRun(t *testing.T) {
	dir := wasmtest.Dir(t, wasmtest.Standard())

	output, err := executeCommand(newRootCmd(), "run", "hello", "--modules", dir, "--engine", "interpreter")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output != "hello\n" {
		t.Errorf("expected 'hello\\n', got %q", output)
	}
}

func TestCLIRunEnv(t *testing.T) {
	dir := wasmtest.Dir(t, wasmtest.Standard())

	output, err := executeCommand(newRootCmd(), "run", "echo", "--modules", dir, "--engine", "interpreter",
		"-e", "name=alice", "--env", "expr=a=b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, line := range []string{"name=alice\n", "expr=a=b\n"} {
		if !strings.Contains(output, line) {
			t.Errorf("output should contain %q, got %q", line, output)
		}
	}
}

func TestCLIRunErrors(t *testing.T) {
	dir := wasmtest.Dir(t, wasmtest.Standard())

	tests := []struct {
		name string
		args []string
		kind executor.Kind
		want string
	}{
		{"missing module", []string{"does-not-exist"}, executor.KindResolution, "does-not-exist"},
		{"trap", []string{"trap"}, executor.KindTrap, "trap"},
		{"timeout", []string{"spin", "--timeout", "100ms"}, executor.KindTimeout, "timeout"},
		{"exit code", []string{"exit3"}, "", "exited with code 3"},
		{"bad env", []string{"echo", "-e", "novalue"}, "", "expected KEY=VALUE"},
		{"empty env key", []string{"echo", "-e", "=x"}, "", "expected KEY=VALUE"},
		{"bad memory", []string{"echo", "--memory", "lots"}, "", "invalid config"},
		{"bad engine", []string{"echo", "--engine", "jit"}, "", "invalid config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"run", "--modules", dir}, tt.args...)
			if !strings.Contains(strings.Join(tt.args, " "), "--engine") {
				args = append(args, "--engine", "interpreter")
			}

			_, err := executeCommand(newRootCmd(), args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.kind != "" && executor.KindOf(err) != tt.kind {
				t.Errorf("expected kind %s, got %s (%v)", tt.kind, executor.KindOf(err), err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestCLIRunExitCodeKeepsOutput(t *testing.T) {
	dir := wasmtest.Dir(t, wasmtest.Standard())

	output, err := executeCommand(newRootCmd(), "run", "exit3", "--modules", dir, "--engine", "interpreter")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(output, "partial\n") {
		t.Errorf("output written before exit should be printed, got %q", output)
	}
}

func TestCLIRunRequiresModule(t *testing.T) {
	if _, err := executeCommand(newRootCmd(), "run"); err == nil {
		t.Error("expected error without a module argument")
	}
}

func TestCLIInferUnavailable(t *testing.T) {
	if accel.Available() {
		t.Skip("built with the accelerator backend")
	}

	_, err := executeCommand(newRootCmd(), "infer")
	if !errors.Is(err, accel.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestParseEnv(t *testing.T) {
	params, err := parseEnv([]string{"a=1", "b=", "c=x=y", "a=2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{"a": "2", "b": "", "c": "x=y"}
	if len(params) != len(want) {
		t.Fatalf("expected %v, got %v", want, params)
	}
	for k, v := range want {
		if params[k] != v {
			t.Errorf("%s: expected %q, got %q", k, v, params[k])
		}
	}

	if _, err := parseEnv([]string{"nope"}); err == nil {
		t.Error("expected error for pair without '='")
	}
}

func TestLoadConfigFlags(t *testing.T) {
	cmd := newServeCmd()
	for name, value := range map[string]string{
		"addr":              "127.0.0.1:9000",
		"modules":           "/srv/modules",
		"timeout":           "2s",
		"memory":            "64mb",
		"max-output":        "1024",
		"engine":            "interpreter",
		"compilation-cache": "memory",
		"plugin-dir":        "/opt/plugins",
	} {
		if err := cmd.Flags().Set(name, value); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("addr not applied: %q", cfg.Server.Addr)
	}
	e := cfg.Executor
	if e.Modules != "/srv/modules" || e.Timeout != 2*time.Second || e.Memory != "64mb" || e.MaxOutput != 1024 {
		t.Errorf("executor flags not applied: %+v", e)
	}
	if e.Engine != "interpreter" || e.CompilationCache != "memory" {
		t.Errorf("executor flags not applied: %+v", e)
	}
	if cfg.Accel.PluginDir != "/opt/plugins" {
		t.Errorf("plugin dir not applied: %q", cfg.Accel.PluginDir)
	}
}

func TestLoadConfigUnsetFlagsKeepDefaults(t *testing.T) {
	cfg, err := loadConfig(newServeCmd())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Executor.Timeout != executor.DefaultTimeout {
		t.Errorf("unset flags should not override defaults: %+v %+v", cfg.Server, cfg.Executor)
	}
}
