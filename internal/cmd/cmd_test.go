// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/traylinx/planwatch/internal/config"
	"github.com/traylinx/planwatch/internal/events"
	"github.com/traylinx/planwatch/internal/fingerprint"
	"github.com/traylinx/planwatch/internal/prompts"
	"github.com/traylinx/planwatch/internal/provider"
	"github.com/traylinx/planwatch/internal/quota"
	"github.com/traylinx/planwatch/internal/router"
	"github.com/traylinx/planwatch/internal/supervisor"
	"github.com/traylinx/planwatch/internal/util"
)

type fakeRouter struct {
	mu       sync.Mutex
	output   string
	err      error
	requests []provider.Request
}

func (f *fakeRouter) Route(ctx context.Context, req provider.Request) (router.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return router.Result{}, f.err
	}
	return router.Result{Provider: provider.Gemini, Output: f.output}, nil
}

func (f *fakeRouter) Status(ctx context.Context) []router.ProviderStatus {
	last := time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC)
	return []router.ProviderStatus{
		{
			Descriptor: provider.Descriptor{ID: provider.Gemini, Model: "gemini-2.5-pro"},
			State:      quota.State{CallsToday: 4, LastCallAt: &last},
			Reachable:  true,
			Eligible:   true,
		},
		{
			Descriptor: provider.Descriptor{ID: provider.Qwen, Model: "qwen3-coder", DailyLimit: 2000},
			Reason:     "cli not found",
		},
	}
}

func (f *fakeRouter) Requests() []provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Request(nil), f.requests...)
}

type fixture struct {
	app    *App
	router *fakeRouter
	out    *bytes.Buffer
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	sb, err := util.NewStateBoxAt(filepath.Join(dir, "state"), false)
	require.NoError(t, err)
	require.NoError(t, sb.EnsureRoot())

	cfg := config.Default()
	cfg.Watch.PlanFile = filepath.Join(dir, "@fix_plan.md")
	cfg.Watch.HintFile = filepath.Join(dir, ".orchestrator_hints.md")
	cfg.Watch.StatusFile = filepath.Join(dir, ".ralph_status.json")

	r := &fakeRouter{output: "looks fine"}
	out := &bytes.Buffer{}
	app := &App{
		Config:    cfg,
		StateBox:  sb,
		Router:    r,
		Prompts:   prompts.MustTemplateBuilder(),
		Events:    events.NewLog(sb.EventsPath()),
		Decisions: events.NewDecisionLog(sb),
		Out:       out,
	}
	app.SetClock(func() time.Time { return time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC) })
	return &fixture{app: app, router: r, out: out, dir: dir}
}

func (f *fixture) writePlan(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.app.Config.Watch.PlanFile, []byte(content), 0644))
}

func (f *fixture) writeEvents(t *testing.T, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.app.Events.Path(), []byte(strings.Join(lines, "\n")+"\n"), 0600))
}

func (f *fixture) decisions(t *testing.T) []gjson.Result {
	t.Helper()
	data, err := os.ReadFile(f.app.Decisions.Path())
	require.NoError(t, err)
	var out []gjson.Result
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		out = append(out, gjson.Parse(line))
	}
	return out
}

func TestSuggest(t *testing.T) {
	errEvents := func(n int) []events.Event {
		var evs []events.Event
		for i := 0; i < n; i++ {
			evs = append(evs, events.Event{Raw: `{"action":"build","result":"ERROR: failed"}`})
		}
		return evs
	}

	tests := []struct {
		name    string
		counts  fingerprint.Counts
		recent  []events.Event
		command string
	}{
		{"all done", fingerprint.Counts{Completed: 4}, nil, "planwatch analyze"},
		{"no tasks", fingerprint.Counts{}, nil, "create a task list in the plan file"},
		{"repeated errors", fingerprint.Counts{Completed: 1, Pending: 3}, errEvents(3), "planwatch stuck '<description>'"},
		{"two errors keep going", fingerprint.Counts{Completed: 1, Pending: 3}, errEvents(2), "planwatch watch"},
		{"review milestone", fingerprint.Counts{Completed: 21, Pending: 5}, nil, "planwatch analyze or planwatch replan"},
		{"ten is not a milestone", fingerprint.Counts{Completed: 10, Pending: 5}, nil, "planwatch watch"},
		{"past grace", fingerprint.Counts{Completed: 13, Pending: 5}, nil, "planwatch watch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.command, Suggest(tt.counts, tt.recent).Command)
		})
	}
}

func TestSuggest_OnlyRecentErrorsCount(t *testing.T) {
	var evs []events.Event
	for i := 0; i < 5; i++ {
		evs = append(evs, events.Event{Raw: `{"action":"error"}`})
	}
	for i := 0; i < errorWindow; i++ {
		evs = append(evs, events.Event{Raw: `{"action":"edit"}`})
	}
	s := Suggest(fingerprint.Counts{Completed: 1, Pending: 1}, evs)
	assert.Equal(t, "planwatch watch", s.Command)
	assert.Contains(t, s.String(), "1 completed, 1 pending")
}

func TestNext(t *testing.T) {
	f := newFixture(t)
	f.writePlan(t, "# Tasks\n- [x] a\n- [ ] b\n")

	require.NoError(t, Next(f.app))
	assert.Contains(t, f.out.String(), "1 completed, 1 pending")
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t)
	f.writePlan(t, "# Tasks\n- [x] a\n- [X] b\n- [ ] c\n")
	f.writeEvents(t, `{"timestamp":"2026-07-01T11:00:00","action":"edit_file"}`)
	f.router.output = "progress is steady"

	require.NoError(t, Analyze(context.Background(), f.app))

	reqs := f.router.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "analyze", reqs[0].Kind)
	assert.Contains(t, reqs[0].Prompt, "Completed: 2")
	assert.Contains(t, reqs[0].Prompt, "edit_file")
	assert.Contains(t, f.out.String(), "progress is steady")

	ds := f.decisions(t)
	require.Len(t, ds, 1)
	assert.Equal(t, "analyze", ds[0].Get("action").String())
	assert.Equal(t, "completed:2, pending:1", ds[0].Get("input").String())
}

func TestAnalyze_NoResponse(t *testing.T) {
	f := newFixture(t)
	f.router.err = provider.ErrProviderExhausted

	err := Analyze(context.Background(), f.app)
	assert.ErrorIs(t, err, ErrNoResponse)
	_, statErr := os.Stat(f.app.Decisions.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestReplan_WritesPlan(t *testing.T) {
	f := newFixture(t)
	f.writePlan(t, "# Tasks\n- [ ] old\n")
	f.router.output = "# Task List\n- [x] old\n- [ ] new\n"

	require.NoError(t, Replan(context.Background(), f.app))

	data, err := os.ReadFile(f.app.Config.Watch.PlanFile)
	require.NoError(t, err)
	assert.Equal(t, "# Task List\n- [x] old\n- [ ] new\n", string(data))

	ds := f.decisions(t)
	require.Len(t, ds, 1)
	assert.Equal(t, "replan", ds[0].Get("action").String())
}

func TestReplan_RejectsNonPlan(t *testing.T) {
	f := newFixture(t)
	f.writePlan(t, "# Tasks\n- [ ] old\n")
	f.router.output = "I cannot help with that."

	err := Replan(context.Background(), f.app)
	assert.ErrorIs(t, err, ErrReplanRejected)

	data, err := os.ReadFile(f.app.Config.Watch.PlanFile)
	require.NoError(t, err)
	assert.Equal(t, "# Tasks\n- [ ] old\n", string(data))
	assert.Contains(t, f.out.String(), "I cannot help with that.")
}

func TestStuck(t *testing.T) {
	f := newFixture(t)
	f.router.output = "try a clean build"

	require.Error(t, Stuck(context.Background(), f.app, "   "))
	assert.Empty(t, f.router.Requests())

	require.NoError(t, Stuck(context.Background(), f.app, "linker fails on arm64"))
	reqs := f.router.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, "linker fails on arm64")
	assert.Contains(t, f.out.String(), "try a clean build")

	ds := f.decisions(t)
	require.Len(t, ds, 1)
	assert.Equal(t, "stuck", ds[0].Get("action").String())
	assert.Equal(t, "linker fails on arm64", ds[0].Get("input").String())
}

func TestStuck_CancelledIsNotWrapped(t *testing.T) {
	f := newFixture(t)
	f.router.err = fmt.Errorf("route: %w", context.Canceled)

	err := Stuck(context.Background(), f.app, "blocked")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrNoResponse))
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.writePlan(t, "- [x] a\n- [ ] b\n- [ ] c\n")
	f.writeEvents(t, `{"action":"a"}`, `{"action":"b"}`)

	require.NoError(t, Status(context.Background(), f.app))
	out := f.out.String()
	assert.Contains(t, out, "gemini-2.5-pro")
	assert.Contains(t, out, "ready")
	assert.Contains(t, out, "0/2000")
	assert.Contains(t, out, "unreachable: cli not found")
	assert.Contains(t, out, "completed 1, pending 2")
	assert.Contains(t, out, "2 unconsolidated, consolidation flag clear")
	assert.Contains(t, out, "daemon stopped")
	assert.Contains(t, out, "hint none")
}

func TestStopWatch_NotRunning(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, StopWatch(f.app))
	assert.Contains(t, f.out.String(), "No watch daemon running")
}

func TestShowHint(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, ShowHint(f.app))
	assert.Contains(t, f.out.String(), "No hint present")

	hintBody := "# Orchestrator Hint\n**Time:** 2026-07-01 12:00:00\n**Severity:** WARNING\n\nrun the tests\n\n---\nfooter\n"
	require.NoError(t, os.WriteFile(f.app.Config.Watch.HintFile, []byte(hintBody), 0644))
	f.out.Reset()
	require.NoError(t, ShowHint(f.app))
	assert.Contains(t, f.out.String(), "run the tests")
}

func TestConsolidate_Force(t *testing.T) {
	f := newFixture(t)
	f.writeEvents(t, `{"timestamp":"2026-07-01T10:00:00","action":"a"}`)
	f.router.output = "## Session Update\nok"

	require.NoError(t, Consolidate(context.Background(), f.app, true))
	assert.Contains(t, f.out.String(), "consolidated with gemini")
	require.Len(t, f.router.Requests(), 1)
	assert.Equal(t, "consolidation", f.router.Requests()[0].Kind)
}

func TestConsolidate_BelowThreshold(t *testing.T) {
	f := newFixture(t)
	f.writeEvents(t, `{"action":"a"}`)

	require.NoError(t, Consolidate(context.Background(), f.app, false))
	assert.Contains(t, f.out.String(), "no consolidation needed")
	assert.Empty(t, f.router.Requests())
}

func TestStartWatch_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.writePlan(t, "- [ ] a\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, StartWatch(ctx, f.app))
	assert.Contains(t, f.out.String(), "Watch daemon stopped")
	_, err := os.Stat(f.app.StateBox.WatchPIDPath())
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, f.router.Requests())
}

func TestStartWatch_SecondInstanceRefused(t *testing.T) {
	f := newFixture(t)
	marker, err := supervisor.AcquireMarker(f.app.StateBox.WatchPIDPath())
	require.NoError(t, err)
	defer marker.Release()

	err = StartWatch(context.Background(), f.app)
	assert.ErrorIs(t, err, supervisor.ErrAlreadyRunning)
}
