// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package quota

import (
	"fmt"
	"time"

	"github.com/traylinx/planwatch/internal/provider"
)

// Verdict is the quota and cooldown part of provider eligibility.
type Verdict struct {
	Eligible bool
	Reason   string
	// RetryAt is set while the provider is cooling down.
	RetryAt time.Time
}

// Rollover resets the daily counters when s belongs to an earlier day than now.
// It reports whether s was changed.
func Rollover(s *State, now time.Time) bool {
	today := now.Format(dateLayout)
	if s.Date == today {
		return false
	}
	s.Date = today
	s.CallsToday = 0
	s.ConsecutiveFailures = 0
	return true
}

// MinWait is the time that must pass after the last call before a provider
// with the given failure run is eligible again.
func MinWait(d provider.Descriptor, failures int) time.Duration {
	if failures < FailureThreshold {
		return 0
	}
	return d.Cooldown(failures)
}

// Evaluate applies the daily limit and the failure cooldown to s.
// s must already be rolled over to now's day.
func Evaluate(s State, d provider.Descriptor, now time.Time) Verdict {
	if s.CallsToday >= d.DailyLimit {
		return Verdict{Reason: fmt.Sprintf("daily limit reached (%d/%d)", s.CallsToday, d.DailyLimit)}
	}
	if s.ConsecutiveFailures >= FailureThreshold && s.LastCallAt != nil {
		until := s.LastCallAt.Add(MinWait(d, s.ConsecutiveFailures))
		if !now.After(until) {
			return Verdict{
				Reason:  fmt.Sprintf("cooling down after %d failures until %s", s.ConsecutiveFailures, until.Format("15:04:05")),
				RetryAt: until,
			}
		}
	}
	return Verdict{Eligible: true, Reason: "available"}
}
