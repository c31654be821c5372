// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package consolidate summarizes new worker events through the provider
// router. A flag file marks when consolidation is due; the summary record
// keeps a watermark of the events already summarized.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/planwatch/internal/events"
	"github.com/traylinx/planwatch/internal/prompts"
	"github.com/traylinx/planwatch/internal/provider"
	"github.com/traylinx/planwatch/internal/router"
	"github.com/traylinx/planwatch/internal/util"
)

// promptEvents is the number of newest unsummarized events sent to the provider.
const promptEvents = 50

// DefaultSchedule runs the consolidation daemon every half hour.
const DefaultSchedule = "@every 30m"

// Router is the part of the provider router the trigger needs.
type Router interface {
	Route(ctx context.Context, req provider.Request) (router.Result, error)
}

// Outcome describes what a Run did.
type Outcome struct {
	Consolidated    bool
	Message         string
	Provider        provider.ID
	EventsProcessed int
}

// Trigger decides whether consolidation is due and performs it.
type Trigger struct {
	sb        *util.StateBox
	router    Router
	prompts   prompts.Builder
	events    *events.Log
	threshold int
	now       func() time.Time
}

// New creates a trigger. threshold is the number of new events that raises the flag.
func New(sb *util.StateBox, r Router, b prompts.Builder, threshold int) *Trigger {
	if threshold < 1 {
		threshold = 10
	}
	return &Trigger{
		sb:        sb,
		router:    r,
		prompts:   b,
		events:    events.NewLog(sb.EventsPath()),
		threshold: threshold,
		now:       time.Now,
	}
}

// SetClock replaces the time source.
func (t *Trigger) SetClock(now func() time.Time) { t.now = now }

// Needed reports whether the consolidation flag is set.
func (t *Trigger) Needed() bool {
	_, err := os.Stat(t.sb.ConsolidationFlagPath())
	return err == nil
}

// Pending returns the number of events after the watermark.
func (t *Trigger) Pending() (int, error) {
	count, err := t.events.Count()
	if err != nil {
		return 0, err
	}
	s, _, err := loadSummary(t.sb.SummariesPath())
	if err != nil {
		return 0, err
	}
	if pending := count - s.LastEventCount; pending > 0 {
		return pending, nil
	}
	return 0, nil
}

// Refresh raises the flag when at least threshold events are pending.
func (t *Trigger) Refresh() (bool, error) {
	pending, err := t.Pending()
	if err != nil {
		return false, err
	}
	if pending < t.threshold {
		return false, nil
	}
	return true, t.touchFlag()
}

// Force sets the flag and runs.
func (t *Trigger) Force(ctx context.Context) (Outcome, error) {
	if err := t.touchFlag(); err != nil {
		return Outcome{}, err
	}
	return t.Run(ctx)
}

// Run consolidates the events after the watermark if the flag is set.
// The flag is kept when no provider answers so a later run retries.
func (t *Trigger) Run(ctx context.Context) (Outcome, error) {
	if !t.Needed() {
		return Outcome{Message: "no consolidation needed"}, nil
	}
	if !t.events.Exists() {
		return Outcome{Message: "no events file"}, nil
	}

	summary, raw, err := loadSummary(t.sb.SummariesPath())
	if err != nil {
		return Outcome{}, err
	}
	fresh, total, err := t.events.SinceWithCount(summary.LastEventCount)
	if err != nil {
		return Outcome{}, err
	}
	if len(fresh) == 0 {
		t.clearFlag()
		return Outcome{Message: "no new events"}, nil
	}

	prompt, err := t.prompts.Consolidation(prompts.Input{
		PreviousSummary: summary.LatestSummary,
		Events:          rawLines(events.Last(fresh, promptEvents)),
		NewEventCount:   len(fresh),
	})
	if err != nil {
		return Outcome{}, err
	}

	res, err := t.router.Route(ctx, provider.Request{Kind: "consolidation", Prompt: prompt})
	if err != nil {
		return Outcome{Message: "all providers failed"}, fmt.Errorf("consolidation: %w", err)
	}

	now := t.now().Format(time.RFC3339)
	summary.LatestSummary = res.Output
	summary.LastConsolidated = now
	summary.LastEventCount = total
	summary.LastProvider = string(res.Provider)
	summary.Consolidations = append(summary.Consolidations, Record{
		Timestamp:       now,
		EventsProcessed: len(fresh),
		TotalEvents:     total,
		Provider:        string(res.Provider),
	})
	if err := saveSummary(t.sb, t.sb.SummariesPath(), raw, summary); err != nil {
		return Outcome{}, err
	}
	t.clearFlag()

	log.WithField("provider", res.Provider).Infof("consolidated %d events", len(fresh))
	return Outcome{
		Consolidated:    true,
		Message:         fmt.Sprintf("consolidated with %s", res.Provider),
		Provider:        res.Provider,
		EventsProcessed: len(fresh),
	}, nil
}

// Schedule runs Refresh and Run on the cron spec until ctx is done.
func (t *Trigger) Schedule(ctx context.Context, spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	c := cronlib.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := t.Refresh(); err != nil {
			log.WithError(err).Warn("failed to check pending events")
		}
		out, err := t.Run(ctx)
		if err != nil {
			log.WithError(err).Warn("scheduled consolidation failed")
			return
		}
		log.Info(out.Message)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	log.Infof("consolidation daemon scheduled (%s)", spec)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (t *Trigger) touchFlag() error {
	if err := t.sb.EnsureRoot(); err != nil {
		return err
	}
	if t.sb.IsReadOnly() {
		return util.ErrReadOnlyMode
	}
	f, err := os.OpenFile(t.sb.ConsolidationFlagPath(), os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("consolidate: %w", err)
	}
	return f.Close()
}

func (t *Trigger) clearFlag() {
	if err := os.Remove(t.sb.ConsolidationFlagPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to remove consolidation flag")
	}
}

func rawLines(evs []events.Event) string {
	var b strings.Builder
	for i, e := range evs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s", e.Timestamp, e.Raw)
	}
	return b.String()
}
