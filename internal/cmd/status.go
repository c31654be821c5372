// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/planwatch/internal/fingerprint"
	"github.com/traylinx/planwatch/internal/hint"
	"github.com/traylinx/planwatch/internal/router"
	"github.com/traylinx/planwatch/internal/util"
)

// Status prints the provider table, plan progress and daemon state.
func Status(ctx context.Context, app *App) error {
	statuses := app.Router.Status(ctx)
	app.printf("PROVIDERS (%s)\n", app.StateBox.ProviderStatusPath())
	writeProviderTable(app, statuses)

	app.printf("\nPLAN (%s)\n", app.Config.Watch.PlanFile)
	if plan, ok := app.readPlan(); ok {
		c := fingerprint.CountTasks(plan)
		app.printf("  completed %d, pending %d\n", c.Completed, c.Pending)
	} else {
		app.printf("  not found\n")
	}

	app.printf("\nEVENTS (%s)\n", app.Events.Path())
	trigger := app.Trigger()
	if !app.Events.Exists() {
		app.printf("  no events file\n")
	} else if pending, err := trigger.Pending(); err != nil {
		log.WithError(err).Warn("failed to count pending events")
		app.printf("  unreadable\n")
	} else {
		app.printf("  %d unconsolidated, consolidation flag %s\n", pending, onOff(trigger.Needed()))
	}

	app.printf("\nWATCH\n")
	app.printf("  daemon %s\n", watchState(app.StateBox.WatchPIDPath()))
	app.printf("  hint %s\n", presence(hint.Exists(app.Config.Watch.HintFile)))
	return nil
}

func writeProviderTable(app *App, statuses []router.ProviderStatus) {
	out := app.Out
	if out == nil {
		out = os.Stdout
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tMODEL\tCALLS\tFAILURES\tLAST CALL\tSTATE")
	for _, st := range statuses {
		calls := fmt.Sprintf("%d", st.State.CallsToday)
		if st.Descriptor.DailyLimit > 0 {
			calls = fmt.Sprintf("%d/%d", st.State.CallsToday, st.Descriptor.DailyLimit)
		}
		last := "never"
		if st.State.LastCallAt != nil {
			last = st.State.LastCallAt.Local().Format(time.DateTime)
		}
		state := "ready"
		switch {
		case !st.Reachable:
			state = "unreachable: " + st.Reason
		case !st.Eligible:
			state = "waiting: " + st.Reason
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%d\t%s\t%s\n",
			st.Descriptor.ID, st.Descriptor.Model, calls, st.State.ConsecutiveFailures, last, state)
	}
	_ = w.Flush()
}

func watchState(path string) string {
	pid, err := util.ReadPID(path)
	if err != nil {
		return "stopped"
	}
	if !util.ProcessAlive(pid) {
		return fmt.Sprintf("stopped (stale pid %d)", pid)
	}
	return fmt.Sprintf("running (pid %d)", pid)
}

func onOff(b bool) string {
	if b {
		return "set"
	}
	return "clear"
}

func presence(b bool) string {
	if b {
		return "present"
	}
	return "none"
}

// ShowHint prints the current hint.
func ShowHint(app *App) error {
	h, found, err := hint.Read(app.Config.Watch.HintFile)
	if err != nil {
		return err
	}
	printHint(app, h, found)
	return nil
}

// FollowHint prints the hint and every change to it until SIGINT or SIGTERM.
func FollowHint(ctx context.Context, app *App) error {
	ctxSignal, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return hint.Follow(ctxSignal, app.Config.Watch.HintFile, func(h hint.Hint, present bool) {
		printHint(app, h, present)
	})
}

func printHint(app *App, h hint.Hint, found bool) {
	if !found {
		app.printf("No hint present\n")
		return
	}
	if !h.Time.IsZero() {
		app.printf("[%s] %s\n", h.Time.Format(time.DateTime), h.Severity)
	}
	app.printf("%s\n", h.Body)
}
