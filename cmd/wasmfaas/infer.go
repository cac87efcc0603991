package main

import (
	"fmt"
	"log/slog"

	"github.com/caffeineduck/wasmfaas/accel"
	"github.com/caffeineduck/wasmfaas/internal/observability"
	"github.com/spf13/cobra"
)

func newInferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Run the accelerator scenario once",
		Long: `Run the configured accelerator scenario (module, model, input and
plugins) on the wasmer engine and print the guest's output.

Only builds with the "accel" tag on linux/amd64 with cgo include the
wasmer engine; other builds report it as unavailable.`,
		Args: cobra.NoArgs,
		RunE: runInfer,
	}
	cmd.Flags().String("plugin-dir", "", "Directory of accelerator plugins")
	return cmd
}

func runInfer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	runner, err := accel.NewRunner(cfg.Accel, accel.WithLogger(logger))
	if err != nil {
		return err
	}

	res, err := runner.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("inference: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), res.Output)
	logger.Debug("inference finished", slog.Duration("duration", res.Duration))
	return nil
}
