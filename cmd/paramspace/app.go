package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"paramspace/internal/config"
	"paramspace/internal/core"
	"paramspace/pkg/statepoint"
)

// app carries process state shared by all commands.
type app struct {
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
	getwd  func() (string, error)

	configPath string
	logLevel   string
	logFormat  string

	logger  *slog.Logger
	metrics *core.PrometheusRecorder
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:  stdout,
		stderr:  stderr,
		getenv:  os.Getenv,
		getwd:   os.Getwd,
		logger:  slog.New(slog.DiscardHandler),
		metrics: core.NewPrometheusRecorder(prometheus.NewRegistry()),
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "paramspace",
		Short:         "Manage a parameter-space workspace and its views",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setupLogging()
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to paramspace.yaml (default: search upwards from the working directory)")
	pf.StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(
		newInitCmd(a),
		newIDCmd(a),
		newOpenCmd(a),
		newFindCmd(a),
		newViewCmd(a),
		newStatepointsCmd(a),
		newMetricsCmd(a),
		newIndexCmd(a),
	)
	return root
}

func (a *app) setupLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q", a.logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(a.logFormat) {
	case "text":
		a.logger = slog.New(slog.NewTextHandler(a.stderr, opts))
	case "json":
		a.logger = slog.New(slog.NewJSONHandler(a.stderr, opts))
	default:
		return fmt.Errorf("invalid --log-format %q", a.logFormat)
	}
	return nil
}

// loadConfig reads --config, or the nearest paramspace.yaml, then applies
// PARAMSPACE_* overrides.
func (a *app) loadConfig() (config.Config, error) {
	path := a.configPath
	if path == "" {
		wd, err := a.getwd()
		if err != nil {
			return config.Config{}, err
		}
		if path, err = config.Discover(wd); err != nil {
			return config.Config{}, &core.LookupError{Path: wd, Reason: err.Error()}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	return config.ApplyEnv(cfg, a.getenv)
}

func (a *app) openProject(ctx context.Context) (*core.Project, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	return core.Open(ctx, cfg, core.WithLogger(a.logger), core.WithMetricsRecorder(a.metrics))
}

// withProject opens the project for the duration of fn.
func (a *app) withProject(cmd *cobra.Command, fn func(context.Context, *core.Project) error) error {
	ctx := cmd.Context()
	p, err := a.openProject(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			a.logger.Warn("close project", "error", cerr)
		}
	}()
	return fn(ctx, p)
}

func (a *app) warn(err error) {
	fmt.Fprintln(a.stderr, "warning:", err)
}

func parseStatepoint(arg string) (statepoint.Object, error) {
	sp, err := statepoint.ParseObject([]byte(arg))
	if err != nil {
		return nil, fmt.Errorf("invalid statepoint %q: %w", arg, err)
	}
	return sp, nil
}
