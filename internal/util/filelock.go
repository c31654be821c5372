// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package util

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned by TryLock when another process holds the lock.
var ErrLocked = errors.New("lock held by another process")

// FileLock is an advisory flock(2) lock on a file.
type FileLock struct {
	file *os.File
	path string
}

// Lock blocks until an exclusive lock on path is acquired.
func Lock(path string) (*FileLock, error) {
	return lockFile(path, unix.LOCK_EX)
}

// TryLock acquires an exclusive lock on path without blocking.
func TryLock(path string) (*FileLock, error) {
	return lockFile(path, unix.LOCK_EX|unix.LOCK_NB)
}

func lockFile(path string, how int) (*FileLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("cannot open lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), how); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("cannot acquire lock on %s: %w", path, err)
	}

	return &FileLock{file: file, path: path}, nil
}

// Path returns the locked file path.
func (l *FileLock) Path() string { return l.path }

// WritePID replaces the lock file content with the current process id.
func (l *FileLock) WritePID() error {
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	if _, err := l.file.Seek(0, 0); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(l.file, "%d\n", os.Getpid()); err != nil {
		return err
	}
	return l.file.Sync()
}

// Unlock releases the lock and closes the file. It is safe to call on nil.
func (l *FileLock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadPID parses a process id from a marker file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s", path)
	}
	return pid, nil
}

// ProcessAlive reports whether a process with the given pid exists.
func ProcessAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
