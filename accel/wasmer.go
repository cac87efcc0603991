//go:build accel && linux && amd64 && cgo

package accel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"plugin"

	"github.com/wasmerio/wasmer-go/wasmer"
)

const available = true

type registerFunc = func(*wasmer.Store, *wasmer.ImportObject) error

func (r *Runner) run(ctx context.Context) (string, error) {
	s := r.scenario

	bin, err := os.ReadFile(s.Module)
	if err != nil {
		return "", fmt.Errorf("read module: %w", err)
	}

	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)

	module, err := wasmer.NewModule(store, bin)
	if err != nil {
		return "", fmt.Errorf("compile module: %w", err)
	}

	guest, host, _ := parseDirMapping(s.DirMapping)
	args := s.args()
	builder := wasmer.NewWasiStateBuilder(args[0])
	for _, arg := range args[1:] {
		builder = builder.Argument(arg)
	}
	wasiEnv, err := builder.MapDirectory(guest, host).CaptureStdout().Finalize()
	if err != nil {
		return "", fmt.Errorf("build WASI environment: %w", err)
	}

	imports, err := wasiEnv.GenerateImportObject(store, module)
	if err != nil {
		return "", fmt.Errorf("generate WASI imports: %w", err)
	}
	if err := r.loadPlugins(ctx, store, imports); err != nil {
		return "", err
	}

	instance, err := wasmer.NewInstance(module, imports)
	if err != nil {
		return "", fmt.Errorf("instantiate module: %w", err)
	}

	start, err := instance.Exports.GetWasiStartFunction()
	if err != nil {
		return "", fmt.Errorf("entry point: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := start()
		done <- err
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("execute: %w", err)
		}
	}
	return string(wasiEnv.ReadStdout()), nil
}

func (r *Runner) loadPlugins(ctx context.Context, store *wasmer.Store, imports *wasmer.ImportObject) error {
	paths, err := r.scenario.pluginPaths()
	if err != nil {
		return err
	}

	for _, path := range paths {
		p, err := plugin.Open(path)
		if err != nil {
			return fmt.Errorf("%w %s: %w", ErrPluginLoad, path, err)
		}
		sym, err := p.Lookup(RegisterSymbol)
		if err != nil {
			return fmt.Errorf("%w %s: %w", ErrPluginLoad, path, err)
		}
		register, ok := sym.(registerFunc)
		if !ok {
			return fmt.Errorf("%w %s: %s has type %T", ErrPluginLoad, path, RegisterSymbol, sym)
		}
		if err := register(store, imports); err != nil {
			return fmt.Errorf("%w %s: %w", ErrPluginRegister, path, err)
		}
		r.logger.DebugContext(ctx, "loaded accelerator plugin", slog.String("path", path))
	}
	return nil
}
