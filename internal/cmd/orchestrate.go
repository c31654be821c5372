// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/planwatch/internal/events"
	"github.com/traylinx/planwatch/internal/fingerprint"
	"github.com/traylinx/planwatch/internal/prompts"
	"github.com/traylinx/planwatch/internal/provider"
	"github.com/traylinx/planwatch/internal/util"
)

const (
	analyzeEvents = 30
	replanEvents  = 30
	stuckEvents   = 20

	// replanMarker must appear in a replan response before the plan is replaced.
	replanMarker = "# Task"

	planFileMode = 0644
)

// ErrNoResponse is returned when a one-shot command got no provider answer.
var ErrNoResponse = errors.New("no provider answered")

// ErrReplanRejected is returned when the replan response does not look like a task list.
var ErrReplanRejected = errors.New("response is not a task list")

func (a *App) recentEvents(n int) string {
	evs, err := a.Events.Tail(n)
	if err != nil {
		log.WithError(err).Warn("failed to read events")
	}
	return events.Lines(evs, "")
}

func (a *App) route(ctx context.Context, kind, prompt string) (string, error) {
	res, err := a.Router.Route(ctx, provider.Request{Kind: kind, Prompt: prompt})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		log.WithError(err).Errorf("%s failed", kind)
		return "", fmt.Errorf("%w: %v", ErrNoResponse, err)
	}
	return res.Output, nil
}

func (a *App) logDecision(action, input, output string) {
	if err := a.Decisions.Append(action, input, output, a.clock()); err != nil {
		log.WithError(err).Warn("failed to record decision")
	}
}

func banner(app *App, title, body string) {
	rule := strings.Repeat("=", 60)
	app.printf("\n%s\n%s\n%s\n%s\n", rule, title, rule, strings.TrimSpace(body))
}

// Analyze asks for a strategic review of the plan and recent events.
func Analyze(ctx context.Context, app *App) error {
	plan, _ := app.readPlan()
	counts := fingerprint.CountTasks(plan)

	prompt, err := app.Prompts.Analyze(prompts.Input{
		Plan:      plan,
		Events:    app.recentEvents(analyzeEvents),
		Completed: counts.Completed,
		Pending:   counts.Pending,
	})
	if err != nil {
		return err
	}
	out, err := app.route(ctx, "analyze", prompt)
	if err != nil {
		return err
	}
	banner(app, "ANALYSIS", out)
	app.logDecision("analyze", fmt.Sprintf("completed:%d, pending:%d", counts.Completed, counts.Pending), out)
	return nil
}

// Replan asks for a revised task list and replaces the plan with it.
// A response without a task heading is printed and the plan is left alone.
func Replan(ctx context.Context, app *App) error {
	plan, _ := app.readPlan()

	prompt, err := app.Prompts.Replan(prompts.Input{
		Plan:   plan,
		Events: app.recentEvents(replanEvents),
	})
	if err != nil {
		return err
	}
	out, err := app.route(ctx, "replan", prompt)
	if err != nil {
		return err
	}
	if !strings.Contains(out, replanMarker) {
		banner(app, "RESPONSE", out)
		return ErrReplanRejected
	}

	path := app.Config.Watch.PlanFile
	if err := util.SecureWrite(nil, path, []byte(strings.TrimSpace(out)+"\n"), &util.SecureWriteOptions{Permissions: planFileMode}); err != nil {
		return fmt.Errorf("cannot write plan: %w", err)
	}
	app.printf("Plan updated: %s\n", path)
	app.logDecision("replan", plan, out)
	return nil
}

// Stuck asks for help with a blocker described by the user.
func Stuck(ctx context.Context, app *App, description string) error {
	description = strings.TrimSpace(description)
	if description == "" {
		return errors.New("stuck: description is required")
	}
	plan, _ := app.readPlan()

	prompt, err := app.Prompts.Stuck(prompts.Input{
		Plan:        plan,
		Events:      app.recentEvents(stuckEvents),
		Description: description,
	})
	if err != nil {
		return err
	}
	out, err := app.route(ctx, "stuck", prompt)
	if err != nil {
		return err
	}
	banner(app, "RECOMMENDATIONS", out)
	app.logDecision("stuck", description, out)
	return nil
}
