// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/planwatch/internal/events"
	"github.com/traylinx/planwatch/internal/fingerprint"
)

const (
	nextEvents       = 30
	errorWindow      = 10
	errorsForStuck   = 3
	reviewEvery      = 10
	reviewGraceTasks = 3
)

// Suggestion is the next recommended command.
type Suggestion struct {
	Command string
	Reason  string
}

func (s Suggestion) String() string {
	return fmt.Sprintf("%s. Next: %s", s.Reason, s.Command)
}

// Suggest picks the next step from plan progress and recent events.
// Checks run in order: all done, no plan, repeated errors, review milestone.
func Suggest(c fingerprint.Counts, recent []events.Event) Suggestion {
	if c.Pending == 0 && c.Completed > 0 {
		return Suggestion{Command: "planwatch analyze", Reason: "All tasks completed"}
	}
	if c.Total() == 0 {
		return Suggestion{Command: "create a task list in the plan file", Reason: "No tasks found"}
	}

	if n := countErrors(events.Last(recent, errorWindow)); n >= errorsForStuck {
		return Suggestion{
			Command: "planwatch stuck '<description>'",
			Reason:  fmt.Sprintf("%d errors in the last %d events", n, errorWindow),
		}
	}

	if c.Completed > reviewEvery && c.Completed%reviewEvery < reviewGraceTasks {
		return Suggestion{
			Command: "planwatch analyze or planwatch replan",
			Reason:  fmt.Sprintf("%d tasks completed", c.Completed),
		}
	}

	return Suggestion{
		Command: "planwatch watch",
		Reason:  fmt.Sprintf("%d completed, %d pending", c.Completed, c.Pending),
	}
}

func countErrors(evs []events.Event) int {
	n := 0
	for _, e := range evs {
		if strings.Contains(strings.ToLower(e.Raw), "error") {
			n++
		}
	}
	return n
}

// Next prints the suggested next step.
func Next(app *App) error {
	plan, _ := app.readPlan()
	recent, err := app.Events.Tail(nextEvents)
	if err != nil {
		log.WithError(err).Warn("failed to read events")
	}
	app.printf("%s\n", Suggest(fingerprint.CountTasks(plan), recent))
	return nil
}
