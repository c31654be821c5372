// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package util provides filesystem helpers shared by the planwatch packages.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// StateDirEnv overrides the state directory location.
	StateDirEnv = "PLANWATCH_STATE_DIR"
	// ReadOnlyEnv disables all writes into the state directory when set to "1".
	ReadOnlyEnv = "PLANWATCH_READONLY"

	defaultStateDir = "~/.claude-memory"
)

// StateBox manages the canonical state directory shared by the supervisor,
// the provider router and the consolidation trigger.
// It provides centralized path resolution for every durable record so that
// separate short-lived processes agree on file locations.
type StateBox struct {
	rootPath string
	readOnly bool
	mu       sync.RWMutex
}

// NewStateBox creates a new StateBox instance.
// It reads PLANWATCH_STATE_DIR and PLANWATCH_READONLY from the environment.
// If PLANWATCH_STATE_DIR is not set, it defaults to ~/.claude-memory.
func NewStateBox() (*StateBox, error) {
	stateDir := os.Getenv(StateDirEnv)
	if stateDir == "" {
		stateDir = defaultStateDir
	}
	return NewStateBoxAt(stateDir, os.Getenv(ReadOnlyEnv) == "1")
}

// NewStateBoxAt creates a StateBox rooted at dir.
func NewStateBoxAt(dir string, readOnly bool) (*StateBox, error) {
	resolvedPath, err := ExpandPath(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state directory: %w", err)
	}
	return &StateBox{
		rootPath: resolvedPath,
		readOnly: readOnly,
	}, nil
}

// RootPath returns the resolved State Box root directory.
func (sb *StateBox) RootPath() string {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return sb.rootPath
}

// IsReadOnly returns whether the State Box is in read-only mode.
func (sb *StateBox) IsReadOnly() bool {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return sb.readOnly
}

// EventsPath is the append-only event log written by the worker.
func (sb *StateBox) EventsPath() string { return filepath.Join(sb.RootPath(), "events.jsonl") }

// SummariesPath holds the consolidation summary record and its watermark.
func (sb *StateBox) SummariesPath() string { return filepath.Join(sb.RootPath(), "summaries.json") }

// ProviderStatusPath is the Quota Ledger file.
func (sb *StateBox) ProviderStatusPath() string {
	return filepath.Join(sb.RootPath(), "provider_status.json")
}

// DecisionLogPath records every orchestrator decision.
func (sb *StateBox) DecisionLogPath() string {
	return filepath.Join(sb.RootPath(), "orchestrator_decisions.jsonl")
}

// ConsolidationFlagPath is touched when the event log needs consolidation.
func (sb *StateBox) ConsolidationFlagPath() string {
	return filepath.Join(sb.RootPath(), ".needs_consolidation")
}

// WatchPIDPath is the liveness marker of the watch daemon.
func (sb *StateBox) WatchPIDPath() string {
	return filepath.Join(sb.RootPath(), ".orchestrator_watch.pid")
}

// LogsDir is where rotated log files are written.
func (sb *StateBox) LogsDir() string { return filepath.Join(sb.RootPath(), "logs") }

// ResolvePath joins a relative path with the State Box root.
// If the path is already absolute or starts with tilde, it is returned as-is after cleaning.
func (sb *StateBox) ResolvePath(relativePath string) string {
	if relativePath == "" {
		return sb.RootPath()
	}

	if strings.HasPrefix(relativePath, "~") || filepath.IsAbs(relativePath) {
		cleaned, err := ExpandPath(relativePath)
		if err != nil {
			return filepath.Clean(relativePath)
		}
		return cleaned
	}

	return filepath.Join(sb.RootPath(), relativePath)
}

// EnsureDir creates a directory with secure permissions (0700) if it doesn't exist.
// It creates all necessary parent directories as well.
func (sb *StateBox) EnsureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path exists but is not a directory: %s", path)
		}
		return nil
	}

	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat directory %s: %w", path, err)
	}

	if sb.IsReadOnly() {
		return ErrReadOnlyMode
	}

	if err := os.MkdirAll(path, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	return nil
}

// EnsureRoot creates the State Box root directory.
func (sb *StateBox) EnsureRoot() error {
	return sb.EnsureDir(sb.RootPath())
}

// ExpandPath expands a leading tilde to the user's home directory and cleans the result.
func ExpandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
