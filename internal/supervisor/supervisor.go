// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package supervisor watches the worker's plan for stalls and intervenes
// through the provider router with graduated hints.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/traylinx/planwatch/internal/events"
	"github.com/traylinx/planwatch/internal/fingerprint"
	"github.com/traylinx/planwatch/internal/hint"
	"github.com/traylinx/planwatch/internal/prompts"
	"github.com/traylinx/planwatch/internal/provider"
	"github.com/traylinx/planwatch/internal/router"
)

const (
	interventionEvents = 5
	escalationEvents   = 20

	// FailureDiagnostic is the hint body written when no provider answered.
	FailureDiagnostic = "The orchestrator could not produce an analysis. Check manually with 'planwatch stuck <description>'."

	missingPlan = "[file does not exist]"
)

// Router is the part of the provider router the supervisor needs.
type Router interface {
	Route(ctx context.Context, req provider.Request) (router.Result, error)
}

// Options configures a Supervisor.
type Options struct {
	PlanPath   string
	HintPath   string
	StatusPath string
	Interval   time.Duration
	Thresholds Thresholds
}

// Supervisor runs the stall detection loop.
type Supervisor struct {
	opts      Options
	router    Router
	prompts   prompts.Builder
	events    *events.Log
	decisions *events.DecisionLog

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	window Window
	primed bool
}

// New creates a supervisor.
func New(opts Options, r Router, b prompts.Builder, ev *events.Log, decisions *events.DecisionLog) *Supervisor {
	return &Supervisor{
		opts:      opts,
		router:    r,
		prompts:   b,
		events:    ev,
		decisions: decisions,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// SetClock replaces the time source and the sleep function.
func (s *Supervisor) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	if now != nil {
		s.now = now
	}
	if sleep != nil {
		s.sleep = sleep
	}
}

// Window returns the current stall window.
func (s *Supervisor) Window() Window { return s.window }

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Prime records the initial fingerprint.
func (s *Supervisor) Prime() {
	fp, err := fingerprint.Fingerprint(s.opts.PlanPath)
	if err != nil {
		log.WithError(err).Warn("plan unreadable at start")
	}
	s.window = NewWindow(fp, s.now())
	s.primed = true
}

// Run loops until ctx is cancelled: sleep, fingerprint, step, act.
func (s *Supervisor) Run(ctx context.Context) error {
	log.Infof("watching %s (interval %s, stall threshold %s, max interventions %d)",
		s.opts.PlanPath, s.opts.Interval, s.opts.Thresholds.StallThreshold, s.opts.Thresholds.MaxInterventions)

	if !s.primed {
		s.Prime()
	}
	for {
		if err := s.sleep(ctx, s.opts.Interval); err != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		s.Tick(ctx)
	}
	log.Info("watch loop stopped")
	return nil
}

// Tick runs one check cycle and returns the action taken.
func (s *Supervisor) Tick(ctx context.Context) Action {
	if !s.primed {
		s.Prime()
	}

	fp, err := fingerprint.Fingerprint(s.opts.PlanPath)
	if err != nil {
		log.WithError(err).Warn("skipping cycle")
		return Action{Kind: None}
	}

	now := s.now()
	next, action := Step(s.window, fp, now, s.opts.Thresholds)
	s.window = next

	switch action.Kind {
	case ClearHint:
		log.Infof("change detected in %s", s.opts.PlanPath)
		if err := hint.Clear(s.opts.HintPath); err != nil {
			log.WithError(err).Warn("failed to clear hint")
		}
	case Intervene:
		log.Warnf("stall detected (%ds), intervention %d/%d",
			int(action.StalledFor.Seconds()), action.Count, s.opts.Thresholds.MaxInterventions)
		s.intervene(ctx, action, now)
	case Escalate:
		log.Warnf("stall detected (%ds), escalating to a full re-plan", int(action.StalledFor.Seconds()))
		s.escalate(ctx, action, now)
	default:
		s.logStatus(action.StalledFor)
	}
	return action
}

func (s *Supervisor) intervene(ctx context.Context, a Action, now time.Time) {
	plan := s.readPlan()
	tail, err := s.events.Tail(interventionEvents)
	if err != nil {
		log.WithError(err).Warn("failed to read events")
	}
	prompt, err := s.prompts.Intervention(prompts.Input{
		Plan:       prompts.Clip(plan, prompts.ShortPlanLimit),
		Events:     events.Lines(tail, ""),
		StalledFor: a.StalledFor,
	})
	if err != nil {
		log.WithError(err).Error("failed to build intervention prompt")
		return
	}

	input := fmt.Sprintf("stall:%ds", int(a.StalledFor.Seconds()))
	s.deliver(ctx, "intervention", prompt, hint.Warning, "watch_intervene", input, now)
}

func (s *Supervisor) escalate(ctx context.Context, a Action, now time.Time) {
	plan := s.readPlan()
	tail, err := s.events.Tail(escalationEvents)
	if err != nil {
		log.WithError(err).Warn("failed to read events")
	}
	prompt, err := s.prompts.Escalation(prompts.Input{
		Plan:       plan,
		Events:     events.Lines(tail, ""),
		StalledFor: a.StalledFor,
	})
	if err != nil {
		log.WithError(err).Error("failed to build escalation prompt")
		return
	}

	s.deliver(ctx, "escalation", prompt, hint.Escalation, "watch_escalate", fmt.Sprintf("multiple_stalls:%d", a.Count), now)
}

// deliver routes prompt and writes the answer as a hint of severity sev.
// Without an answer an ERROR hint with the fixed diagnostic is written.
func (s *Supervisor) deliver(ctx context.Context, kind, prompt string, sev hint.Severity, action, input string, now time.Time) {
	res, err := s.router.Route(ctx, provider.Request{Kind: kind, Prompt: prompt})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).Errorf("%s failed, no provider answered", kind)
		if werr := hint.Write(s.opts.HintPath, hint.Error, FailureDiagnostic, now); werr != nil {
			log.WithError(werr).Warn("failed to write hint")
		}
		s.logDecision(action+"_failed", input, err.Error(), now)
		return
	}

	if err := hint.Write(s.opts.HintPath, sev, res.Output, now); err != nil {
		log.WithError(err).Warn("failed to write hint")
	} else {
		log.WithField("provider", res.Provider).Infof("%s hint written", sev)
	}
	s.logDecision(action, input, res.Output, now)
}

func (s *Supervisor) logDecision(action, input, output string, now time.Time) {
	if s.decisions == nil {
		return
	}
	if err := s.decisions.Append(action, input, output, now); err != nil {
		log.WithError(err).Warn("failed to append decision")
	}
}

func (s *Supervisor) readPlan() string {
	data, err := os.ReadFile(s.opts.PlanPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).Warn("failed to read plan")
		}
		return missingPlan
	}
	return string(data)
}

func (s *Supervisor) logStatus(since time.Duration) {
	secs := int(since.Seconds())
	if status := readWorkerStatus(s.opts.StatusPath); status != "" {
		log.Infof("worker: %s, last change %ds ago", status, secs)
		return
	}
	log.Infof("watching... (no change for %ds)", secs)
}

// readWorkerStatus returns the "status" field of the worker status file.
func readWorkerStatus(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil || !gjson.ValidBytes(data) {
		return ""
	}
	status := gjson.GetBytes(data, "status")
	if !status.Exists() {
		return "unknown"
	}
	return status.String()
}
