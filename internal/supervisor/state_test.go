// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

var defaultThresholds = Thresholds{StallThreshold: 180 * time.Second, MaxInterventions: 3}

func TestStep_ChangeClears(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := Window{LastFingerprint: "a", LastChangeAt: t0, InterventionCount: 2, Phase: Stalled}

	next, action := Step(w, "b", t0.Add(time.Minute), defaultThresholds)
	assert.Equal(t, ClearHint, action.Kind)
	assert.Equal(t, Active, next.Phase)
	assert.Equal(t, 0, next.InterventionCount)
	assert.Equal(t, "b", next.LastFingerprint)
	assert.Equal(t, t0.Add(time.Minute), next.LastChangeAt)
}

func TestStep_BelowThreshold(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWindow("a", t0)

	next, action := Step(w, "a", t0.Add(180*time.Second), defaultThresholds)
	assert.Equal(t, None, action.Kind, "exactly the threshold is not a stall")
	assert.Equal(t, 180*time.Second, action.StalledFor)
	assert.Equal(t, w, next)
}

func TestStep_EscalationTiming(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWindow("a", t0)

	tests := []struct {
		at        time.Duration
		wantKind  ActionKind
		wantCount int
		wantPhase Phase
	}{
		{181 * time.Second, Intervene, 1, Stalled},
		{362 * time.Second, Intervene, 2, Stalled},
		{543 * time.Second, Escalate, 3, Escalated},
	}
	for _, tt := range tests {
		var action Action
		w, action = Step(w, "a", t0.Add(tt.at), defaultThresholds)
		assert.Equal(t, tt.wantKind, action.Kind)
		assert.Equal(t, tt.wantCount, action.Count)
		assert.Equal(t, tt.wantPhase, w.Phase)
		assert.Equal(t, t0.Add(tt.at), w.LastChangeAt, "baseline resets after every intervention")
	}

	// Still stalled after escalation: escalate again.
	w, action := Step(w, "a", t0.Add(724*time.Second), defaultThresholds)
	assert.Equal(t, Escalate, action.Kind)
	assert.Equal(t, 4, w.InterventionCount)

	// Next real change resets the count.
	w, action = Step(w, "b", t0.Add(800*time.Second), defaultThresholds)
	assert.Equal(t, ClearHint, action.Kind)
	assert.Equal(t, 0, w.InterventionCount)
	assert.Equal(t, Active, w.Phase)
}

func TestPhaseAndKindStrings(t *testing.T) {
	assert.Equal(t, "ESCALATED", Escalated.String())
	assert.Equal(t, "intervene", Intervene.String())
}

// TestProperty_InterventionCeiling checks that the count only grows between
// changes and that the first step reaching the ceiling escalates.
func TestProperty_InterventionCeiling(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("escalation happens exactly at the ceiling", prop.ForAll(
		func(max, cycles int) bool {
			th := Thresholds{StallThreshold: time.Minute, MaxInterventions: max}
			t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			w := NewWindow("x", t0)
			now := t0
			prev := 0
			for i := 0; i < cycles; i++ {
				now = now.Add(time.Minute + time.Second)
				var a Action
				w, a = Step(w, "x", now, th)
				if w.InterventionCount != prev+1 {
					return false
				}
				prev = w.InterventionCount
				if (a.Kind == Escalate) != (w.InterventionCount >= max) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.IntRange(1, 30),
	))

	properties.TestingRun(t)
}
