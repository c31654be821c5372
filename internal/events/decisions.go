// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package events

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/traylinx/planwatch/internal/util"
)

const decisionFieldLimit = 500

// Decision is one entry of orchestrator_decisions.jsonl.
type Decision struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Input     string `json:"input"`
	Output    string `json:"output"`
}

// DecisionLog appends orchestrator decisions.
type DecisionLog struct {
	sb   *util.StateBox
	path string
	mu   sync.Mutex
}

// NewDecisionLog returns the decision log stored in the StateBox.
func NewDecisionLog(sb *util.StateBox) *DecisionLog {
	return &DecisionLog{sb: sb, path: sb.DecisionLogPath()}
}

// Path returns the log location.
func (d *DecisionLog) Path() string { return d.path }

// Append writes one decision. Input and output are truncated to 500 characters.
func (d *DecisionLog) Append(action, input, output string, now time.Time) error {
	if d.sb.IsReadOnly() {
		return util.ErrReadOnlyMode
	}

	entry := Decision{
		Timestamp: now.Format(time.RFC3339),
		Action:    action,
		Input:     truncate(input, decisionFieldLimit),
		Output:    truncate(output, decisionFieldLimit),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("events: failed to encode decision: %w", err)
	}
	data = append(data, '\n')

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(d.path), 0700); err != nil {
		return fmt.Errorf("events: %w", err)
	}
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("events: failed to open decision log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("events: failed to append decision: %w", err)
	}
	return nil
}
