// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/planwatch/internal/util"
	"golang.org/x/sys/unix"
)

var (
	// ErrAlreadyRunning is returned when another watch daemon holds the marker.
	ErrAlreadyRunning = errors.New("watch daemon already running")

	// ErrNotRunning is returned by StopDaemon when no marker exists.
	ErrNotRunning = errors.New("no watch daemon running")
)

// Marker is the process liveness marker of a running watch daemon.
type Marker struct {
	lock *util.FileLock
	path string
}

// AcquireMarker creates the pid file at path and holds an exclusive lock on it.
func AcquireMarker(path string) (*Marker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("cannot create marker directory: %w", err)
	}
	lock, err := util.TryLock(path)
	if err != nil {
		if errors.Is(err, util.ErrLocked) {
			if pid, perr := util.ReadPID(path); perr == nil {
				return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
			}
			return nil, ErrAlreadyRunning
		}
		return nil, err
	}
	if err := lock.WritePID(); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("cannot write pid marker: %w", err)
	}
	return &Marker{lock: lock, path: path}, nil
}

// Path returns the marker location.
func (m *Marker) Path() string { return m.path }

// Release removes the marker if it still names this process, then unlocks it.
func (m *Marker) Release() error {
	if m == nil {
		return nil
	}
	if pid, err := util.ReadPID(m.path); err == nil && pid == os.Getpid() {
		if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).Warn("failed to remove watch marker")
		}
	}
	return m.lock.Unlock()
}

// StopResult describes what StopDaemon did.
type StopResult struct {
	PID int
	// Signalled is false when the recorded process was already gone.
	Signalled bool
}

// StopDaemon sends SIGTERM to the pid recorded at path and removes the marker.
// A dead pid only removes the marker.
func StopDaemon(path string) (StopResult, error) {
	pid, err := util.ReadPID(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StopResult{}, ErrNotRunning
		}
		_ = os.Remove(path)
		return StopResult{}, fmt.Errorf("unreadable marker removed: %w", err)
	}

	res := StopResult{PID: pid}
	if util.ProcessAlive(pid) {
		if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			return res, fmt.Errorf("cannot signal pid %d: %w", pid, err)
		}
		res.Signalled = true
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return res, fmt.Errorf("cannot remove marker: %w", err)
	}
	return res, nil
}
