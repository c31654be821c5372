// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hint

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Follow calls fn with the current hint and again after every create, write,
// rename or removal of the file at path. It blocks until ctx is done.
// present is false when the hint does not exist.
func Follow(ctx context.Context, path string, fn func(h Hint, present bool)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("hint: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("hint: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic replacement and deletion are both seen.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("hint: failed to watch %s: %w", filepath.Dir(abs), err)
	}

	emit := func() {
		h, found, err := Read(abs)
		if err != nil {
			log.WithError(err).Warn("failed to read hint")
			return
		}
		fn(h, found)
	}
	emit()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				emit()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("hint watcher error: %v", err)
		}
	}
}
