// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package consolidate

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/traylinx/planwatch/internal/prompts"
	"github.com/traylinx/planwatch/internal/provider"
	"github.com/traylinx/planwatch/internal/router"
	"github.com/traylinx/planwatch/internal/util"
	"go.uber.org/goleak"
)

type fakeRouter struct {
	mu      sync.Mutex
	prompts []string
	err     error
	onRoute func()
}

func (f *fakeRouter) Route(ctx context.Context, req provider.Request) (router.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, req.Prompt)
	if f.onRoute != nil {
		f.onRoute()
	}
	if f.err != nil {
		return router.Result{}, f.err
	}
	return router.Result{Provider: provider.Qwen, Output: "## Session Update\nall good"}, nil
}

func (f *fakeRouter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func newTrigger(t *testing.T, events int) (*Trigger, *fakeRouter, *util.StateBox) {
	t.Helper()
	sb, err := util.NewStateBoxAt(t.TempDir(), false)
	require.NoError(t, err)
	require.NoError(t, sb.EnsureRoot())
	if events > 0 {
		appendEvents(t, sb, 0, events)
	}
	r := &fakeRouter{}
	tr := New(sb, r, prompts.MustTemplateBuilder(), 10)
	tr.SetClock(func() time.Time { return time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC) })
	return tr, r, sb
}

func appendEvents(t *testing.T, sb *util.StateBox, from, n int) {
	t.Helper()
	f, err := os.OpenFile(sb.EventsPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	require.NoError(t, err)
	defer f.Close()
	for i := from; i < from+n; i++ {
		_, err := fmt.Fprintf(f, `{"timestamp":"2026-07-01T11:%02d:00","action":"step %d"}`+"\n", i%60, i)
		require.NoError(t, err)
	}
}

func TestTrigger_NotNeeded(t *testing.T) {
	tr, r, _ := newTrigger(t, 3)
	out, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Consolidated)
	assert.Equal(t, "no consolidation needed", out.Message)
	assert.Equal(t, 0, r.Calls())
}

func TestTrigger_NoEventsFile(t *testing.T) {
	tr, _, _ := newTrigger(t, 0)
	out, err := tr.Force(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "no events file", out.Message)
	assert.True(t, tr.Needed())
}

func TestTrigger_ForceConsolidates(t *testing.T) {
	tr, r, sb := newTrigger(t, 60)
	require.NoError(t, os.WriteFile(sb.SummariesPath(), []byte(`{"session_summaries":[{"summary":"old"}]}`), 0600))

	out, err := tr.Force(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Consolidated)
	assert.Equal(t, provider.Qwen, out.Provider)
	assert.Equal(t, 60, out.EventsProcessed)
	assert.False(t, tr.Needed(), "flag must be removed")

	require.Equal(t, 1, r.Calls())
	prompt := r.prompts[0]
	assert.Contains(t, prompt, "NEW EVENTS (60)")
	assert.Contains(t, prompt, "step 59")
	assert.NotContains(t, prompt, `"step 9"`, "only the newest 50 events are sent")

	data, err := os.ReadFile(sb.SummariesPath())
	require.NoError(t, err)
	doc := gjson.ParseBytes(data)
	assert.Equal(t, int64(60), doc.Get("last_event_count").Int())
	assert.Equal(t, "qwen", doc.Get("last_provider").String())
	assert.Contains(t, doc.Get("latest_summary").String(), "all good")
	assert.Equal(t, "old", doc.Get("session_summaries.0.summary").String(), "unrelated keys survive")
	assert.Equal(t, int64(1), doc.Get("consolidations.#").Int())

	// Nothing new: flag is cleared without a provider call.
	out, err = tr.Force(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "no new events", out.Message)
	assert.False(t, tr.Needed())
	assert.Equal(t, 1, r.Calls())

	// Only events after the watermark go into the next prompt.
	appendEvents(t, sb, 60, 2)
	_, err = tr.Force(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, r.Calls())
	assert.Contains(t, r.prompts[1], "NEW EVENTS (2)")
	assert.Contains(t, r.prompts[1], "all good", "previous summary is included")
}

func TestTrigger_WatermarkMatchesProcessedRead(t *testing.T) {
	tr, r, sb := newTrigger(t, 4)
	f, err := os.OpenFile(sb.EventsPath(), os.O_WRONLY|os.O_APPEND, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("garbage line\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Events landing while the provider works belong to the next run.
	r.onRoute = func() { appendEvents(t, sb, 4, 3) }
	out, err := tr.Force(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, out.EventsProcessed)

	data, err := os.ReadFile(sb.SummariesPath())
	require.NoError(t, err)
	doc := gjson.ParseBytes(data)
	assert.Equal(t, int64(5), doc.Get("last_event_count").Int())
	assert.Equal(t, int64(5), doc.Get("consolidations.0.total_events").Int())

	r.onRoute = nil
	out, err = tr.Force(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, out.EventsProcessed)
	assert.Contains(t, r.prompts[1], "NEW EVENTS (3)")
}

func TestTrigger_FailureKeepsFlag(t *testing.T) {
	tr, r, sb := newTrigger(t, 5)
	r.err = provider.ErrProviderExhausted

	_, err := tr.Force(context.Background())
	assert.ErrorIs(t, err, provider.ErrProviderExhausted)
	assert.True(t, tr.Needed())
	_, statErr := os.Stat(sb.SummariesPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestTrigger_Refresh(t *testing.T) {
	tr, _, sb := newTrigger(t, 9)

	raised, err := tr.Refresh()
	require.NoError(t, err)
	assert.False(t, raised)
	assert.False(t, tr.Needed())

	appendEvents(t, sb, 9, 1)
	raised, err = tr.Refresh()
	require.NoError(t, err)
	assert.True(t, raised)
	assert.True(t, tr.Needed())

	pending, err := tr.Pending()
	require.NoError(t, err)
	assert.Equal(t, 10, pending)
}

func TestSaveSummary_CapsHistory(t *testing.T) {
	sb, err := util.NewStateBoxAt(t.TempDir(), false)
	require.NoError(t, err)
	path := sb.SummariesPath()

	s := Summary{LastEventCount: 5}
	for i := 0; i < 120; i++ {
		s.Consolidations = append(s.Consolidations, Record{Timestamp: fmt.Sprint(i)})
	}
	require.NoError(t, saveSummary(sb, path, nil, s))

	loaded, _, err := loadSummary(path)
	require.NoError(t, err)
	require.Len(t, loaded.Consolidations, maxConsolidations)
	assert.Equal(t, "20", loaded.Consolidations[0].Timestamp)
	assert.Equal(t, 5, loaded.LastEventCount)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "\n"))
}

func TestTrigger_ScheduleStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr, _, _ := newTrigger(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Schedule(ctx, "@every 1h") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Schedule did not return")
	}
}

func TestTrigger_ScheduleInvalidSpec(t *testing.T) {
	tr, _, _ := newTrigger(t, 0)
	err := tr.Schedule(context.Background(), "every tuesday-ish")
	assert.Error(t, err)
}
