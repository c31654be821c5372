// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for planwatch.
// planwatch supervises an autonomous worker loop: it detects stalls in the
// worker's plan, asks rate-limited provider CLIs for hints, and consolidates
// the worker's event log.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/traylinx/planwatch/internal/buildinfo"
	"github.com/traylinx/planwatch/internal/cmd"
	"github.com/traylinx/planwatch/internal/config"
	"github.com/traylinx/planwatch/internal/logging"
	"github.com/traylinx/planwatch/internal/util"
)

var (
	configPath string
	debug      bool
	logToFile  bool
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
}

func main() {
	root := &cobra.Command{
		Use:   "planwatch",
		Short: "Supervise an autonomous worker loop through rate-limited provider CLIs",
		Long: `planwatch watches the worker's plan file for stalls and writes graduated
hints produced by the first eligible provider CLI (gemini, qwen, kimi).
State lives in $PLANWATCH_STATE_DIR (default ~/.claude-memory).`,
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Configure File Path (default <state-dir>/config.yaml)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&logToFile, "log-file", false, "Write logs to a rotating file under <state-dir>/logs")

	root.AddCommand(newWatchCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newHintCommand())
	root.AddCommand(newNextCommand())
	root.AddCommand(newAnalyzeCommand())
	root.AddCommand(newReplanCommand())
	root.AddCommand(newStuckCommand())
	root.AddCommand(newConsolidateCommand())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	cancel()
	logging.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads .env, the state box and the configuration, then wires the app.
func setup() (*cmd.App, error) {
	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	sb, err := util.NewStateBox()
	if err != nil {
		return nil, err
	}

	optional := configPath == ""
	path := configPath
	if optional {
		path = config.DefaultConfigPath(sb)
	}
	cfg, err := config.LoadConfigOptional(path, optional)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if debug {
		cfg.Debug = true
	}
	if logToFile {
		cfg.LoggingToFile = true
	}
	logging.SetDebug(cfg.Debug)
	if cfg.LoggingToFile && sb.IsReadOnly() {
		log.Warn("read-only mode: logging to stderr")
		cfg.LoggingToFile = false
	}
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile, sb.LogsDir(), cfg.LogsMaxSizeMB); err != nil {
		return nil, fmt.Errorf("failed to configure log output: %w", err)
	}
	log.Debugf("state directory %s, config %s", sb.RootPath(), path)

	return cmd.NewApp(cfg, sb)
}

func run(fn func(ctx context.Context, app *cmd.App, args []string) error) func(*cobra.Command, []string) error {
	return func(c *cobra.Command, args []string) error {
		app, err := setup()
		if err != nil {
			return err
		}
		app.Out = c.OutOrStdout()
		return fn(c.Context(), app, args)
	}
}

func newWatchCommand() *cobra.Command {
	var stop bool
	c := &cobra.Command{
		Use:   "watch",
		Short: "Run the stall supervisor in the foreground",
		Example: `  planwatch watch
  planwatch watch --stop`,
		Args: cobra.NoArgs,
		RunE: run(func(ctx context.Context, app *cmd.App, args []string) error {
			if stop {
				return cmd.StopWatch(app)
			}
			return cmd.StartWatch(ctx, app)
		}),
	}
	c.Flags().BoolVar(&stop, "stop", false, "Stop the running watch daemon")
	return c
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show providers, plan progress and daemon state",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, app *cmd.App, args []string) error {
			return cmd.Status(ctx, app)
		}),
	}
}

func newHintCommand() *cobra.Command {
	var follow bool
	c := &cobra.Command{
		Use:   "hint",
		Short: "Print the current hint",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, app *cmd.App, args []string) error {
			if follow {
				return cmd.FollowHint(ctx, app)
			}
			return cmd.ShowHint(app)
		}),
	}
	c.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing the hint whenever it changes")
	return c
}

func newNextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Suggest the next step",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, app *cmd.App, args []string) error {
			return cmd.Next(app)
		}),
	}
}

func newAnalyzeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Ask a provider for a strategic review of the plan",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, app *cmd.App, args []string) error {
			return cmd.Analyze(ctx, app)
		}),
	}
}

func newReplanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replan",
		Short: "Ask a provider to rewrite the task list",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, app *cmd.App, args []string) error {
			return cmd.Replan(ctx, app)
		}),
	}
}

func newStuckCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stuck <description>",
		Short:   "Ask a provider for help with a blocker",
		Example: `  planwatch stuck "tests hang after the migration"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: run(func(ctx context.Context, app *cmd.App, args []string) error {
			return cmd.Stuck(ctx, app, strings.Join(args, " "))
		}),
	}
}

func newConsolidateCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "consolidate",
		Short: "Summarize new worker events",
	}
	c.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Consolidate if enough new events are pending",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, app *cmd.App, args []string) error {
			return cmd.Consolidate(ctx, app, false)
		}),
	})
	c.AddCommand(&cobra.Command{
		Use:   "force",
		Short: "Consolidate now regardless of the pending count",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, app *cmd.App, args []string) error {
			return cmd.Consolidate(ctx, app, true)
		}),
	})
	c.AddCommand(&cobra.Command{
		Use:   "daemon",
		Short: "Consolidate on the configured cron schedule",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, app *cmd.App, args []string) error {
			return cmd.StartConsolidationDaemon(ctx, app)
		}),
	})
	return c
}
