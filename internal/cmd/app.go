// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cmd implements the planwatch commands on top of the supervisor,
// the provider router and the consolidation trigger.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/traylinx/planwatch/internal/config"
	"github.com/traylinx/planwatch/internal/consolidate"
	"github.com/traylinx/planwatch/internal/events"
	"github.com/traylinx/planwatch/internal/prompts"
	"github.com/traylinx/planwatch/internal/provider"
	"github.com/traylinx/planwatch/internal/quota"
	"github.com/traylinx/planwatch/internal/router"
	"github.com/traylinx/planwatch/internal/supervisor"
	"github.com/traylinx/planwatch/internal/util"
)

// Router is the part of the provider router the commands use.
type Router interface {
	Route(ctx context.Context, req provider.Request) (router.Result, error)
	Status(ctx context.Context) []router.ProviderStatus
}

// App holds the components shared by all commands of one process.
type App struct {
	Config    *config.Config
	StateBox  *util.StateBox
	Router    Router
	Prompts   prompts.Builder
	Events    *events.Log
	Decisions *events.DecisionLog
	Out       io.Writer

	now func() time.Time
}

// NewApp wires the provider table, the quota ledger and the CLI invoker.
func NewApp(cfg *config.Config, sb *util.StateBox) (*App, error) {
	table, err := cfg.Descriptors()
	if err != nil {
		return nil, err
	}
	builder, err := prompts.NewTemplateBuilder()
	if err != nil {
		return nil, err
	}
	invoker := router.NewCLIInvoker(cfg.Providers.Runner, cfg.ProviderTimeout())
	return &App{
		Config:    cfg,
		StateBox:  sb,
		Router:    router.New(table, quota.NewLedger(sb), invoker),
		Prompts:   builder,
		Events:    events.NewLog(sb.EventsPath()),
		Decisions: events.NewDecisionLog(sb),
		Out:       os.Stdout,
		now:       time.Now,
	}, nil
}

// SetClock replaces the time source used for decisions and hints.
func (a *App) SetClock(now func() time.Time) { a.now = now }

func (a *App) clock() time.Time {
	if a.now == nil {
		return time.Now()
	}
	return a.now()
}

func (a *App) printf(format string, args ...any) {
	out := a.Out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, format, args...)
}

// Trigger returns the consolidation trigger bound to the app's router.
func (a *App) Trigger() *consolidate.Trigger {
	t := consolidate.New(a.StateBox, a.Router, a.Prompts, a.Config.Consolidation.EventThreshold)
	t.SetClock(a.clock)
	return t
}

// Supervisor returns a stall supervisor configured from the watch section.
func (a *App) Supervisor() *supervisor.Supervisor {
	w := a.Config.Watch
	s := supervisor.New(supervisor.Options{
		PlanPath:   w.PlanFile,
		HintPath:   w.HintFile,
		StatusPath: w.StatusFile,
		Interval:   a.Config.WatchInterval(),
		Thresholds: supervisor.Thresholds{
			StallThreshold:   a.Config.StallThreshold(),
			MaxInterventions: w.MaxInterventions,
		},
	}, a.Router, a.Prompts, a.Events, a.Decisions)
	s.SetClock(a.clock, nil)
	return s
}

func (a *App) readPlan() (string, bool) {
	data, err := os.ReadFile(a.Config.Watch.PlanFile)
	if err != nil {
		return "", false
	}
	return string(data), true
}
