// Package sandbox builds isolated, single-use execution environments for
// WebAssembly guests.
//
// Each [Sandbox] owns a fresh wazero runtime with only the WASI preview1
// host module instantiated, a capture [Sink] bound to the guest's stdout,
// and the guest's environment variables. Stdin reads EOF and stderr is
// discarded. The guest gets no filesystem, real clock or real randomness
// unless the [Builder] was configured to grant them, and it never gets
// network access.
//
//	b, err := sandbox.NewBuilder(sandbox.WithMaxOutput(1 << 20))
//	sb, err := b.Build(ctx, "echo", map[string]string{"name": "alice"})
//	defer sb.Close(ctx)
package sandbox

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// maxMemoryPages is the largest memory a 32-bit WebAssembly guest can address.
const maxMemoryPages = 65536

// ErrUnresolvedImport is returned when a module imports something the
// sandbox does not provide.
var ErrUnresolvedImport = errors.New("unresolved import")

// Builder creates sandboxes. It holds only immutable configuration and is
// safe for concurrent use.
type Builder struct {
	cfg config
}

// NewBuilder validates opts and returns a Builder.
func NewBuilder(opts ...Option) (*Builder, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	switch cfg.engine {
	case EngineAuto, EngineCompiler, EngineInterpreter:
	case "":
		cfg.engine = EngineAuto
	default:
		return nil, fmt.Errorf("unknown engine %q (expected auto, compiler, or interpreter)", cfg.engine)
	}
	if cfg.memoryLimitPages > maxMemoryPages {
		return nil, fmt.Errorf("memory limit %d pages exceeds %d", cfg.memoryLimitPages, maxMemoryPages)
	}
	if cfg.maxOutput < 0 {
		return nil, fmt.Errorf("negative output limit %d", cfg.maxOutput)
	}
	for _, m := range cfg.mounts {
		if err := validateMount(m); err != nil {
			return nil, err
		}
	}

	return &Builder{cfg: cfg}, nil
}

func validateMount(m Mount) error {
	if !strings.HasPrefix(m.GuestPath, "/") {
		return fmt.Errorf("mount %q: guest path must be absolute", m.GuestPath)
	}
	info, err := os.Stat(m.HostPath)
	if err != nil {
		return fmt.Errorf("mount %q: %w", m.GuestPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount %q: %s is not a directory", m.GuestPath, m.HostPath)
	}
	switch m.Mode {
	case MountReadOnly, MountReadWrite:
	default:
		return fmt.Errorf("mount %q: invalid mode %d", m.GuestPath, m.Mode)
	}
	return nil
}

// Sandbox is one isolated execution environment. It must be used for a
// single guest and closed afterwards.
type Sandbox struct {
	runtime wazero.Runtime
	module  wazero.ModuleConfig
	host    map[string]api.FunctionDefinition
	stdout  *Sink
	env     []EnvVar
}

// Build creates a fresh sandbox for the guest named id, exposing params as
// its environment variables. argv is just the module identifier.
func (b *Builder) Build(ctx context.Context, id string, params map[string]string) (*Sandbox, error) {
	env, err := EnvFromParams(params)
	if err != nil {
		return nil, err
	}

	rt := wazero.NewRuntimeWithConfig(ctx, b.runtimeConfig())
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}
	wasi := rt.Module(wasi_snapshot_preview1.ModuleName)
	if wasi == nil {
		rt.Close(ctx)
		return nil, errors.New("WASI host module missing after instantiation")
	}

	stdout := newSink(b.cfg.maxOutput)

	// Start functions are called explicitly so that instantiation and
	// execution fail separately.
	moduleConfig := wazero.NewModuleConfig().
		WithStdout(stdout).
		WithStderr(io.Discard).
		WithArgs(id).
		WithName("").
		WithStartFunctions()

	for _, kv := range env {
		moduleConfig = moduleConfig.WithEnv(kv.Key, kv.Value)
	}
	if len(b.cfg.mounts) > 0 {
		moduleConfig = moduleConfig.WithFSConfig(b.fsConfig())
	}
	if b.cfg.clock {
		moduleConfig = moduleConfig.WithSysWalltime().WithSysNanotime().WithSysNanosleep()
	}
	if b.cfg.random {
		moduleConfig = moduleConfig.WithRandSource(rand.Reader)
	}

	return &Sandbox{
		runtime: rt,
		module:  moduleConfig,
		host:    wasi.ExportedFunctionDefinitions(),
		stdout:  stdout,
		env:     env,
	}, nil
}

func (b *Builder) runtimeConfig() wazero.RuntimeConfig {
	var rtConfig wazero.RuntimeConfig
	switch b.cfg.engine {
	case EngineCompiler:
		rtConfig = wazero.NewRuntimeConfigCompiler()
	case EngineInterpreter:
		rtConfig = wazero.NewRuntimeConfigInterpreter()
	default:
		rtConfig = wazero.NewRuntimeConfig()
	}

	rtConfig = rtConfig.WithCloseOnContextDone(true)
	if b.cfg.cache != nil {
		rtConfig = rtConfig.WithCompilationCache(b.cfg.cache)
	}
	if b.cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(b.cfg.memoryLimitPages)
	}
	return rtConfig
}

func (b *Builder) fsConfig() wazero.FSConfig {
	fsConfig := wazero.NewFSConfig()
	for _, m := range b.cfg.mounts {
		guest := path.Clean(m.GuestPath)
		if m.Mode == MountReadOnly {
			fsConfig = fsConfig.WithReadOnlyDirMount(m.HostPath, guest)
		} else {
			fsConfig = fsConfig.WithDirMount(m.HostPath, guest)
		}
	}
	return fsConfig
}

// Env returns the environment injected into the guest, sorted by key.
func (s *Sandbox) Env() []EnvVar {
	return s.env
}

// Compile compiles bin in this sandbox's runtime.
func (s *Sandbox) Compile(ctx context.Context, bin []byte) (wazero.CompiledModule, error) {
	return s.runtime.CompileModule(ctx, bin)
}

// Link checks that every import of compiled is satisfied by the sandbox's
// host surface with a matching signature. bin is the binary compiled was
// built from. The host provides only functions, so any table, memory or
// global import is unresolved. Errors wrap ErrUnresolvedImport.
func (s *Sandbox) Link(compiled wazero.CompiledModule, bin []byte) error {
	imports, err := ReadImports(bin)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnresolvedImport, err)
	}

	var errs []error
	for _, imp := range imports {
		if imp.Kind != ExternFunc {
			errs = append(errs, fmt.Errorf("%w: %s %s.%s: the host exports only functions", ErrUnresolvedImport, imp.Kind, imp.Module, imp.Name))
		}
	}
	for _, def := range compiled.ImportedFunctions() {
		moduleName, name, _ := def.Import()
		if moduleName != wasi_snapshot_preview1.ModuleName {
			errs = append(errs, fmt.Errorf("%w: %s.%s: no such host module", ErrUnresolvedImport, moduleName, name))
			continue
		}
		host, ok := s.host[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s.%s: not provided", ErrUnresolvedImport, moduleName, name))
			continue
		}
		if got, want := signature(def), signature(host); got != want {
			errs = append(errs, fmt.Errorf("%w: %s.%s: imported as %s, host provides %s", ErrUnresolvedImport, moduleName, name, got, want))
		}
	}
	return errors.Join(errs...)
}

// Instantiate instantiates compiled without running any start function
// other than the module's own start section.
func (s *Sandbox) Instantiate(ctx context.Context, compiled wazero.CompiledModule) (api.Module, error) {
	return s.runtime.InstantiateModule(ctx, compiled, s.module)
}

// Drain returns everything the guest wrote to stdout, in write order. It
// must only be called after the guest has terminated. It fails with
// ErrOutputLimit if the guest exceeded the output limit.
func (s *Sandbox) Drain() ([]byte, error) {
	return s.stdout.drain()
}

// OutputLen returns the number of bytes captured so far.
func (s *Sandbox) OutputLen() int {
	return s.stdout.Len()
}

// Close releases the runtime and every module instantiated in it.
func (s *Sandbox) Close(ctx context.Context) error {
	return s.runtime.Close(ctx)
}

func signature(def api.FunctionDefinition) string {
	return "(" + valueTypes(def.ParamTypes()) + ")->(" + valueTypes(def.ResultTypes()) + ")"
}

func valueTypes(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ",")
}
