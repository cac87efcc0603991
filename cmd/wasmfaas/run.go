package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/caffeineduck/wasmfaas/executor"
	"github.com/caffeineduck/wasmfaas/internal/observability"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <module>",
		Short: "Run a module once and print its output",
		Long: `Run <module>.wasm from the module directory once, exactly as the
server would, and print what it wrote to stdout.

  wasmfaas run echo -e name=alice -e n=3 --modules ./modules

A non-zero guest exit code is reported as an error.`,
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}
	cmd.Flags().StringArrayP("env", "e", nil, "Guest environment variable KEY=VALUE (repeatable)")
	addExecutorFlags(cmd)
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	pairs, _ := cmd.Flags().GetStringArray("env")
	params, err := parseEnv(pairs)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	exec, err := newExecutor(cfg, executor.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating executor: %w", err)
	}
	defer exec.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := exec.Invoke(ctx, args[0], params)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), res.Output)

	if res.ExitCode != 0 {
		return fmt.Errorf("%s exited with code %d", args[0], res.ExitCode)
	}
	return nil
}

// parseEnv turns KEY=VALUE pairs into guest parameters. Later pairs win.
func parseEnv(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid env %q (expected KEY=VALUE)", pair)
		}
		params[key] = value
	}
	return params, nil
}
