// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"fmt"
	"time"
)

// Phase is the tagged state of a StallWindow.
type Phase int

const (
	Active Phase = iota
	Stalled
	Escalated
)

func (p Phase) String() string {
	switch p {
	case Active:
		return "ACTIVE"
	case Stalled:
		return "STALLED"
	case Escalated:
		return "ESCALATED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Window is the in-memory stall tracking state of one supervisor run.
type Window struct {
	LastFingerprint   string
	LastChangeAt      time.Time
	InterventionCount int
	Phase             Phase
}

// NewWindow starts tracking from fingerprint fp observed at now.
func NewWindow(fp string, now time.Time) Window {
	return Window{LastFingerprint: fp, LastChangeAt: now, Phase: Active}
}

// ActionKind is what the supervisor must do after a Step.
type ActionKind int

const (
	// None means nothing to do beyond logging status.
	None ActionKind = iota
	// ClearHint means progress was seen and the hint must go.
	ClearHint
	// Intervene requests a short hint.
	Intervene
	// Escalate requests a full re-plan.
	Escalate
)

func (k ActionKind) String() string {
	switch k {
	case None:
		return "none"
	case ClearHint:
		return "clear-hint"
	case Intervene:
		return "intervene"
	case Escalate:
		return "escalate"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Action is the outcome of a Step.
type Action struct {
	Kind ActionKind
	// Count is the intervention count after the step.
	Count int
	// StalledFor is the time since the last change (or fresh baseline).
	StalledFor time.Duration
}

// Thresholds configures stall detection.
type Thresholds struct {
	StallThreshold   time.Duration
	MaxInterventions int
}

// Step advances w with the fingerprint observed at now.
//
// A changed fingerprint resets the window and clears the hint. An unchanged
// fingerprint older than the threshold counts an intervention and resets the
// baseline to now; reaching MaxInterventions escalates. Further stalls after
// an escalation keep escalating until a change is seen.
func Step(w Window, fp string, now time.Time, t Thresholds) (Window, Action) {
	if fp != w.LastFingerprint {
		return NewWindow(fp, now), Action{Kind: ClearHint}
	}

	elapsed := now.Sub(w.LastChangeAt)
	if elapsed <= t.StallThreshold {
		return w, Action{Kind: None, Count: w.InterventionCount, StalledFor: elapsed}
	}

	w.InterventionCount++
	w.LastChangeAt = now
	if w.InterventionCount >= t.MaxInterventions {
		w.Phase = Escalated
		return w, Action{Kind: Escalate, Count: w.InterventionCount, StalledFor: elapsed}
	}
	w.Phase = Stalled
	return w, Action{Kind: Intervene, Count: w.InterventionCount, StalledFor: elapsed}
}
