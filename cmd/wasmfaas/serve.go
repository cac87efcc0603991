package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caffeineduck/wasmfaas/accel"
	"github.com/caffeineduck/wasmfaas/executor"
	"github.com/caffeineduck/wasmfaas/internal/httpapi"
	"github.com/caffeineduck/wasmfaas/internal/observability"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start an HTTP server that runs modules on request.

Endpoints:
  GET /{runtime}/{module}?k=v   run <module>.wasm with k=v in its environment
  GET /wasmer/infer             run the accelerator scenario (or /wasmedge/infer)
  GET /health                   liveness
  GET /metrics                  Prometheus metrics

Runtime is "wazero" (or its alias "wasmtime").`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (default :8080)")
	cmd.Flags().String("plugin-dir", "", "Directory of accelerator plugins")
	addExecutorFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracing, err := observability.NewTracerSetup(ctx, cfg.Observability.Tracing, version)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown", slog.Any("error", err))
		}
	}()

	execOpts := []executor.ExecutorOption{
		executor.WithLogger(logger),
		executor.WithTracer(tracing.Tracer()),
	}
	serverOpts := []httpapi.Option{
		httpapi.WithLogger(logger),
		httpapi.WithTracer(tracing.Tracer()),
		httpapi.WithTimeouts(cfg.Server.ReadTimeout, cfg.WriteTimeout(), cfg.Server.ShutdownTimeout),
	}
	if cfg.Observability.Metrics.Enabled {
		metrics := observability.NewMetricsCollector()
		execOpts = append(execOpts, executor.WithObserver(metrics))
		serverOpts = append(serverOpts, httpapi.WithMetrics(metrics, cfg.Observability.Metrics.Path))
	}

	exec, err := newExecutor(cfg, execOpts...)
	if err != nil {
		return fmt.Errorf("creating executor: %w", err)
	}
	defer exec.Close()

	runner, err := accel.NewRunner(cfg.Accel, accel.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("accelerator scenario: %w", err)
	}
	serverOpts = append(serverOpts, httpapi.WithInferer(runner))

	logger.Info("starting wasmfaas",
		slog.String("version", version),
		slog.String("modules", cfg.Executor.Modules),
		slog.Duration("timeout", cfg.Executor.Timeout),
		slog.String("engine", cfg.Executor.Engine),
		slog.Bool("metrics", cfg.Observability.Metrics.Enabled),
		slog.Bool("tracing", cfg.Observability.Tracing.Enabled),
		slog.Bool("accel", accel.Available()),
	)

	return httpapi.New(exec, serverOpts...).ListenAndServe(ctx, cfg.Server.Addr)
}
