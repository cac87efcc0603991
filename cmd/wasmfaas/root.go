package main

import (
	"fmt"
	"time"

	"github.com/caffeineduck/wasmfaas/executor"
	"github.com/caffeineduck/wasmfaas/internal/config"
	"github.com/caffeineduck/wasmfaas/loader"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wasmfaas",
		Short: "Run WebAssembly modules as HTTP functions",
		Long: `wasmfaas - serve WASI modules from a directory over HTTP.

Every request to /{runtime}/{module} loads <module>.wasm, runs its _start
export in a fresh sandbox with the query parameters as environment
variables, and answers with what the guest wrote to stdout. Guests get no
filesystem, clock, randomness or network unless configured.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Path to YAML config file")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "Log format: text, json")

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newInferCmd(),
		newVersionCmd(),
	)
	return root
}

// addExecutorFlags registers the flags shared by commands that invoke
// modules. Unset flags leave the configured value alone.
func addExecutorFlags(cmd *cobra.Command) {
	cmd.Flags().String("modules", "", "Directory holding <module>.wasm files")
	cmd.Flags().Duration("timeout", 0, "Per-invocation timeout (0 disables)")
	cmd.Flags().String("memory", "", "Memory limit: e.g. 16mb, 256mb, 1gb")
	cmd.Flags().Int("max-output", 0, "Max guest stdout in bytes (0 disables)")
	cmd.Flags().String("engine", "", "Engine: auto, compiler, interpreter")
	cmd.Flags().String("compilation-cache", "", "Compilation cache: none, memory, disk")
}

// loadConfig loads --config and overlays every flag the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	str("addr", &cfg.Server.Addr)
	str("modules", &cfg.Executor.Modules)
	str("memory", &cfg.Executor.Memory)
	str("engine", &cfg.Executor.Engine)
	str("compilation-cache", &cfg.Executor.CompilationCache)
	str("plugin-dir", &cfg.Accel.PluginDir)

	if flags.Changed("timeout") {
		cfg.Executor.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("max-output") {
		cfg.Executor.MaxOutput, _ = flags.GetInt("max-output")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newExecutor(cfg *config.Config, extra ...executor.ExecutorOption) (*executor.Executor, error) {
	opts, err := cfg.Executor.ExecutorOptions()
	if err != nil {
		return nil, err
	}
	l := loader.New(cfg.Executor.Modules, cfg.Executor.LoaderOptions()...)
	return executor.New(l, append(opts, extra...)...)
}

const shutdownGrace = 5 * time.Second
