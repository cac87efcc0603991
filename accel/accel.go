// Package accel runs a fixed accelerator-backed inference scenario on the
// wasmer engine.
//
// The scenario loads a WASI module together with host plugins that
// provide accelerator imports (for example a wasi-nn backend), passes the
// model and input file names as arguments and returns what the module
// wrote to stdout. Unlike the executor there are no per-request
// parameters.
//
// The wasmer backend needs cgo and is compiled only with the "accel" build
// tag on linux/amd64. Other builds return [ErrUnavailable] from
// [Runner.Run].
package accel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

var (
	ErrUnavailable    = errors.New("accelerator backend not available in this build")
	ErrPluginLoad     = errors.New("load plugin")
	ErrPluginRegister = errors.New("register plugin imports")
)

// Defaults of the bundled mobilenet image classification scenario.
const (
	DefaultModule     = "wasmedge-wasinn-example-mobilenet-image.wasm"
	DefaultModel      = "mobilenet.pt"
	DefaultInput      = "input.jpg"
	DefaultDirMapping = ".:."
	DefaultPluginDir  = "plugins"
)

// RegisterSymbol is the function every plugin must export. Its signature
// is func(*wasmer.Store, *wasmer.ImportObject) error.
const RegisterSymbol = "RegisterImports"

// Scenario describes the files the accelerator run uses. Relative paths
// resolve against the working directory.
type Scenario struct {
	Module     string   `yaml:"module"`
	Model      string   `yaml:"model"`
	Input      string   `yaml:"input"`
	DirMapping string   `yaml:"dir_mapping"`
	PluginDir  string   `yaml:"plugin_dir"`
	Plugins    []string `yaml:"plugins"`
}

// DefaultScenario returns the bundled mobilenet scenario.
func DefaultScenario() Scenario {
	return Scenario{
		Module:     DefaultModule,
		Model:      DefaultModel,
		Input:      DefaultInput,
		DirMapping: DefaultDirMapping,
		PluginDir:  DefaultPluginDir,
	}
}

func (s Scenario) withDefaults() Scenario {
	d := DefaultScenario()
	if s.Module == "" {
		s.Module = d.Module
	}
	if s.Model == "" {
		s.Model = d.Model
	}
	if s.Input == "" {
		s.Input = d.Input
	}
	if s.DirMapping == "" {
		s.DirMapping = d.DirMapping
	}
	if s.PluginDir == "" {
		s.PluginDir = d.PluginDir
	}
	return s
}

// args returns the guest argv: module, model and input.
func (s Scenario) args() []string {
	return []string{filepath.Base(s.Module), s.Model, s.Input}
}

// pluginPaths lists the plugins to load: the named ones if any, otherwise
// every shared object in PluginDir. A missing PluginDir means no plugins.
func (s Scenario) pluginPaths() ([]string, error) {
	if len(s.Plugins) > 0 {
		paths := make([]string, len(s.Plugins))
		for i, p := range s.Plugins {
			if !filepath.IsAbs(p) && !strings.ContainsRune(p, filepath.Separator) {
				p = filepath.Join(s.PluginDir, p)
			}
			paths[i] = p
		}
		return paths, nil
	}

	entries, err := os.ReadDir(s.PluginDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPluginLoad, err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".so" {
			paths = append(paths, filepath.Join(s.PluginDir, e.Name()))
		}
	}
	slices.Sort(paths)
	return paths, nil
}

// parseDirMapping splits "guest:host" into its parts.
func parseDirMapping(s string) (guest, host string, err error) {
	guest, host, ok := strings.Cut(s, ":")
	if !ok || guest == "" || host == "" {
		return "", "", fmt.Errorf("invalid directory mapping %q (expected guest:host)", s)
	}
	return guest, host, nil
}

// Result is the outcome of one scenario run.
type Result struct {
	Output   string
	Duration time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// Runner runs one Scenario. It is safe for concurrent use; every run
// creates its own engine and store.
type Runner struct {
	scenario Scenario
	logger   *slog.Logger
}

// NewRunner returns a Runner for s with defaults filled in.
func NewRunner(s Scenario, opts ...Option) (*Runner, error) {
	s = s.withDefaults()
	if _, _, err := parseDirMapping(s.DirMapping); err != nil {
		return nil, err
	}

	r := &Runner{scenario: s, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Scenario returns the scenario with defaults applied.
func (r *Runner) Scenario() Scenario {
	return r.scenario
}

// Available reports whether this build includes the wasmer backend.
func Available() bool {
	return available
}

// Run executes the scenario once. The wasmer engine cannot interrupt a
// running guest: when ctx is done Run returns ctx.Err() and the guest is
// left to finish in the background.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	r.logger.DebugContext(ctx, "running accelerator scenario",
		slog.String("module", r.scenario.Module),
		slog.String("model", r.scenario.Model),
		slog.String("input", r.scenario.Input),
	)

	out, err := r.run(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{Output: out, Duration: time.Since(start)}, nil
}
