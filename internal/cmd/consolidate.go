// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Consolidate refreshes the consolidation flag and runs the trigger once.
// force sets the flag regardless of the pending event count.
func Consolidate(ctx context.Context, app *App, force bool) error {
	trigger := app.Trigger()
	if force {
		out, err := trigger.Force(ctx)
		if err != nil {
			return err
		}
		app.printf("%s\n", out.Message)
		return nil
	}

	if app.Events.Exists() {
		if _, err := trigger.Refresh(); err != nil {
			log.WithError(err).Warn("failed to check pending events")
		}
	}
	out, err := trigger.Run(ctx)
	if err != nil {
		return err
	}
	app.printf("%s\n", out.Message)
	return nil
}
