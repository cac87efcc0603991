package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/caffeineduck/wasmfaas/loader"
	"github.com/caffeineduck/wasmfaas/sandbox"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// EntryPoint is the export invoked to run a guest.
const EntryPoint = "_start"

// Runtime names the engine in metrics and logs.
const Runtime = "wazero"

// Loader resolves a module identifier to its bytes.
type Loader interface {
	Load(ctx context.Context, id string) (*loader.Guest, error)
}

// Result holds the output and metadata of one invocation.
type Result struct {
	Module   string
	Digest   string
	Output   string
	ExitCode uint32
	Duration time.Duration
}

// Executor runs guests, one fresh sandbox per invocation. It is safe for
// concurrent use.
type Executor struct {
	loader   Loader
	builder  *sandbox.Builder
	cache    wazero.CompilationCache
	timeout  time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer
	mu       sync.RWMutex
	closed   bool
}

// New creates an Executor that resolves modules through l.
func New(l Loader, opts ...ExecutorOption) (*Executor, error) {
	if l == nil {
		return nil, errors.New("executor: nil loader")
	}

	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.timeout < 0 {
		return nil, fmt.Errorf("negative timeout %v", cfg.timeout)
	}

	var cache wazero.CompilationCache
	switch cfg.cacheMode {
	case CacheNone, "":
	case CacheMemory:
		cache = wazero.NewCompilationCache()
	case CacheDisk:
		cacheDir := cfg.cacheDir
		if cacheDir == "" {
			cacheDir = defaultCacheDir()
		}
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown compilation cache %q (expected none, memory, or disk)", cfg.cacheMode)
	}

	sandboxOpts := cfg.sandbox
	if cache != nil {
		sandboxOpts = append(sandboxOpts, sandbox.WithCompilationCache(cache))
	}
	builder, err := sandbox.NewBuilder(sandboxOpts...)
	if err != nil {
		if cache != nil {
			cache.Close(context.Background())
		}
		return nil, fmt.Errorf("sandbox: %w", err)
	}

	e := &Executor{
		loader:   l,
		builder:  builder,
		cache:    cache,
		timeout:  cfg.timeout,
		logger:   cfg.logger,
		tracer:   cfg.tracer,
		observer: cfg.observer,
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer("")
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	return e, nil
}

// Invoke runs the module id with params as its environment variables and
// returns what it wrote to stdout. Failures are returned as *Error.
func (e *Executor) Invoke(ctx context.Context, id string, params map[string]string, opts ...Option) (*Result, error) {
	start := time.Now()

	cfg := runConfig{timeout: e.timeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	ctx, span := e.tracer.Start(ctx, "invoke", trace.WithAttributes(
		attribute.String("wasm.module", id),
		attribute.String("wasm.runtime", Runtime),
	))
	defer span.End()

	e.observer.InvocationStarted(Runtime)
	res, err := e.invoke(ctx, id, params, cfg)
	elapsed := time.Since(start)

	outcome, outputLen := "ok", 0
	if err != nil {
		outcome = string(KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		e.logger.WarnContext(ctx, "invocation failed",
			slog.String("module", id),
			slog.String("kind", outcome),
			slog.Duration("duration", elapsed),
			slog.Any("error", err),
		)
	} else {
		res.Duration = elapsed
		outputLen = len(res.Output)
		span.SetAttributes(
			attribute.Int("wasm.exit_code", int(res.ExitCode)),
			attribute.Int("wasm.output_bytes", outputLen),
		)
		e.logger.DebugContext(ctx, "invocation finished",
			slog.String("module", id),
			slog.Int("exit_code", int(res.ExitCode)),
			slog.Int("output_bytes", outputLen),
			slog.Duration("duration", elapsed),
		)
	}
	e.observer.InvocationFinished(Runtime, outcome, elapsed, outputLen)

	return res, err
}

func (e *Executor) invoke(ctx context.Context, id string, params map[string]string, cfg runConfig) (*Result, error) {
	guest, err := e.resolve(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(KindTimeout, id, timeoutError(ctx, 0))
		}
		return nil, newError(KindResolution, id, err)
	}

	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	buildCtx, span := e.tracer.Start(ctx, "build")
	sb, err := e.builder.Build(buildCtx, id, params)
	span.End()
	if err != nil {
		return nil, newError(KindEnvironment, id, err)
	}
	// ctx may already be done here; the runtime must be released regardless.
	defer sb.Close(context.Background())

	compileCtx, span := e.tracer.Start(ctx, "compile")
	compiled, err := sb.Compile(compileCtx, guest.Bytes)
	span.End()
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(KindTimeout, id, timeoutError(ctx, cfg.timeout))
		}
		return nil, newError(KindResolution, id, fmt.Errorf("%w: %w", loader.ErrInvalidBinary, err))
	}

	if err := sb.Link(compiled, guest.Bytes); err != nil {
		return nil, newError(KindLink, id, err)
	}
	if err := checkEntryPoint(compiled); err != nil {
		return nil, newError(KindEntryPoint, id, err)
	}

	execCtx, span := e.tracer.Start(ctx, "execute")
	exitCode, err := e.execute(execCtx, sb, compiled)
	span.End()
	if err != nil {
		var execErr *Error
		if errors.As(err, &execErr) {
			execErr.Module = id
			if execErr.Kind == KindTimeout {
				execErr.Err = timeoutError(ctx, cfg.timeout)
			}
			return nil, execErr
		}
		return nil, newError(KindTrap, id, err)
	}

	_, span = e.tracer.Start(ctx, "extract")
	out, err := extract(sb)
	span.End()
	if err != nil {
		return nil, newError(KindDecode, id, err)
	}

	return &Result{
		Module:   id,
		Digest:   guest.Digest,
		Output:   out,
		ExitCode: exitCode,
	}, nil
}

func (e *Executor) resolve(ctx context.Context, id string) (*loader.Guest, error) {
	ctx, span := e.tracer.Start(ctx, "resolve")
	defer span.End()

	guest, err := e.loader.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("wasm.digest", guest.Digest),
		attribute.Int("wasm.size", len(guest.Bytes)),
	)
	return guest, nil
}

// execute instantiates compiled and calls its entry point. A guest that
// calls proc_exit terminates normally with that exit code.
func (e *Executor) execute(ctx context.Context, sb *sandbox.Sandbox, compiled wazero.CompiledModule) (uint32, error) {
	mod, err := sb.Instantiate(ctx, compiled)
	if err != nil {
		if code, ok := exitCode(err); ok && !isContextExit(code) && ctx.Err() == nil {
			return code, nil
		}
		if isTimeout(ctx, err) {
			return 0, &Error{Kind: KindTimeout, Err: err}
		}
		return 0, &Error{Kind: KindInstantiation, Err: err}
	}

	_, err = mod.ExportedFunction(EntryPoint).Call(ctx)
	if err == nil {
		return 0, nil
	}
	if code, ok := exitCode(err); ok && !isContextExit(code) {
		return code, nil
	}
	if isTimeout(ctx, err) {
		return 0, &Error{Kind: KindTimeout, Err: err}
	}
	return 0, &Error{Kind: KindTrap, Err: err}
}

func exitCode(err error) (uint32, bool) {
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}

func isContextExit(code uint32) bool {
	return code == sys.ExitCodeDeadlineExceeded || code == sys.ExitCodeContextCanceled
}

func isTimeout(ctx context.Context, err error) bool {
	if code, ok := exitCode(err); ok && isContextExit(code) {
		return true
	}
	return ctx.Err() != nil
}

func timeoutError(ctx context.Context, budget time.Duration) error {
	cause := ctx.Err()
	if cause == nil {
		cause = context.DeadlineExceeded
	}
	if budget <= 0 || errors.Is(cause, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrTimeout, cause)
	}
	return fmt.Errorf("%w after %v: %w", ErrTimeout, budget, cause)
}

func checkEntryPoint(compiled wazero.CompiledModule) error {
	def, ok := compiled.ExportedFunctions()[EntryPoint]
	if !ok {
		return fmt.Errorf("%w: %s is not exported", ErrEntryPoint, EntryPoint)
	}
	if len(def.ParamTypes()) != 0 || len(def.ResultTypes()) != 0 {
		return fmt.Errorf("%w: %s must take no arguments and return nothing", ErrEntryPoint, EntryPoint)
	}
	return nil
}

// extract decodes captured stdout as UTF-8 text.
func extract(sb *sandbox.Sandbox) (string, error) {
	out, err := sb.Drain()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(out) {
		return "", ErrInvalidText
	}
	return string(out), nil
}

// Close waits for in-flight invocations and releases the compilation cache.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.cache != nil {
		return e.cache.Close(context.Background())
	}
	return nil
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "wasmfaas")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "wasmfaas")
	}
	return filepath.Join(os.TempDir(), "wasmfaas-cache")
}
