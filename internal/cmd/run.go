// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/planwatch/internal/buildinfo"
	"github.com/traylinx/planwatch/internal/supervisor"
	"github.com/traylinx/planwatch/internal/util"
)

// StartWatch runs the stall supervisor until SIGINT or SIGTERM.
// Only one watch may run per state directory; a second one fails with
// supervisor.ErrAlreadyRunning.
func StartWatch(ctx context.Context, app *App) error {
	if err := app.StateBox.EnsureRoot(); err != nil {
		return fmt.Errorf("state directory unavailable: %w", err)
	}
	if err := util.HardenPermissions(app.StateBox); err != nil {
		log.WithError(err).Warn("failed to harden state directory permissions")
	}
	marker, err := supervisor.AcquireMarker(app.StateBox.WatchPIDPath())
	if err != nil {
		return err
	}
	defer func() {
		if errRelease := marker.Release(); errRelease != nil {
			log.WithError(errRelease).Warn("failed to release watch marker")
		}
	}()

	ctxSignal, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Infof("planwatch %s", buildinfo.String())
	app.printf("Watch daemon started (pid marker %s)\n", marker.Path())
	err = app.Supervisor().Run(ctxSignal)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch loop exited: %w", err)
	}
	app.printf("Watch daemon stopped\n")
	return nil
}

// StopWatch signals a running watch daemon.
func StopWatch(app *App) error {
	res, err := supervisor.StopDaemon(app.StateBox.WatchPIDPath())
	if errors.Is(err, supervisor.ErrNotRunning) {
		app.printf("No watch daemon running\n")
		return nil
	}
	if err != nil {
		return err
	}
	if res.Signalled {
		app.printf("Watch daemon stopped (pid %d)\n", res.PID)
	} else {
		app.printf("Watch daemon was not running (stale pid %d removed)\n", res.PID)
	}
	return nil
}

// StartConsolidationDaemon runs scheduled consolidation until SIGINT or SIGTERM.
func StartConsolidationDaemon(ctx context.Context, app *App) error {
	ctxSignal, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := util.HardenPermissions(app.StateBox); err != nil {
		log.WithError(err).Warn("failed to harden state directory permissions")
	}
	err := app.Trigger().Schedule(ctxSignal, app.Config.Consolidation.Schedule)
	if err != nil {
		return err
	}
	log.Info("consolidation daemon stopped")
	return nil
}
