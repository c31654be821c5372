// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package quota owns the durable per-provider usage record.
//
// The ledger is a single JSON file shared by every planwatch process. Each
// operation reads the full file, mutates it and rewrites it atomically while
// holding an exclusive flock on a sibling ".lock" file, so a watch daemon and
// a consolidation run never lose each other's updates.
package quota

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/planwatch/internal/provider"
	"github.com/traylinx/planwatch/internal/util"
)

// FailureThreshold is the run of consecutive failures that starts a cooldown.
const FailureThreshold = 3

const dateLayout = "2006-01-02"

// State is the mutable usage record of one provider.
type State struct {
	CallsToday          int        `json:"calls_today"`
	Date                string     `json:"date"`
	LastCallAt          *time.Time `json:"last_call_at"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
}

type ledgerFile struct {
	Providers map[provider.ID]*State `json:"providers"`
}

// Ledger reads and writes provider_status.json.
type Ledger struct {
	sb   *util.StateBox
	path string

	mu  sync.Mutex
	now func() time.Time
}

// NewLedger creates a ledger backed by the StateBox provider status file.
func NewLedger(sb *util.StateBox) *Ledger {
	return &Ledger{
		sb:   sb,
		path: sb.ProviderStatusPath(),
		now:  time.Now,
	}
}

// SetClock replaces the time source. Tests use it to pin "now".
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now()
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// Check evaluates quota and cooldown for d. A day rollover found during the
// check is persisted before returning.
func (l *Ledger) Check(d provider.Descriptor) (State, Verdict, error) {
	var (
		state   State
		verdict Verdict
	)
	err := l.update(func(f *ledgerFile, now time.Time) bool {
		s, created := f.state(d.ID)
		rolled := Rollover(s, now)
		state = *s
		verdict = Evaluate(state, d, now)
		return created || rolled
	})
	if errors.Is(err, util.ErrReadOnlyMode) {
		err = nil
	}
	return state, verdict, err
}

// RecordSuccess counts a successful attempt and clears the failure run.
func (l *Ledger) RecordSuccess(id provider.ID) (State, error) {
	return l.record(id, nil)
}

// RecordFailure counts a failed attempt and stores its diagnostic.
func (l *Ledger) RecordFailure(id provider.ID, cause error) (State, error) {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	return l.record(id, cause)
}

func (l *Ledger) record(id provider.ID, cause error) (State, error) {
	var state State
	err := l.update(func(f *ledgerFile, now time.Time) bool {
		s, _ := f.state(id)
		Rollover(s, now)
		at := now
		s.CallsToday++
		s.LastCallAt = &at
		if cause != nil {
			s.ConsecutiveFailures++
			s.LastError = truncate(cause.Error(), 500)
		} else {
			s.ConsecutiveFailures = 0
			s.LastError = ""
		}
		state = *s
		return true
	})
	return state, err
}

// States returns a copy of every stored record, with day rollover applied in memory.
func (l *Ledger) States() (map[provider.ID]State, error) {
	now := l.Now()
	f, err := l.load()
	if err != nil {
		return nil, err
	}
	out := make(map[provider.ID]State, len(f.Providers))
	for id, s := range f.Providers {
		c := *s
		Rollover(&c, now)
		out[id] = c
	}
	return out, nil
}

// update runs fn against the ledger under the file lock and saves when fn
// reports a change.
func (l *Ledger) update(fn func(f *ledgerFile, now time.Time) bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	readOnly := l.sb.IsReadOnly()
	if !readOnly {
		if err := l.sb.EnsureRoot(); err != nil {
			return fmt.Errorf("quota: %w", err)
		}
		lock, err := util.Lock(l.path + ".lock")
		if err != nil {
			return fmt.Errorf("quota: %w", err)
		}
		defer lock.Unlock()
	}

	f, err := l.load()
	if err != nil {
		return err
	}
	if !fn(f, l.now()) {
		return nil
	}
	if readOnly {
		return util.ErrReadOnlyMode
	}
	if err := util.SecureWriteJSON(l.sb, l.path, f, nil); err != nil {
		return fmt.Errorf("quota: failed to save ledger: %w", err)
	}
	return nil
}

func (l *Ledger) load() (*ledgerFile, error) {
	f := &ledgerFile{}
	found, err := util.ReadJSON(l.path, f)
	if err != nil {
		if !found {
			return nil, fmt.Errorf("quota: failed to read ledger: %w", err)
		}
		log.WithError(err).Warn("provider ledger is corrupt, starting from an empty record")
		f = &ledgerFile{}
	}
	if f.Providers == nil {
		f.Providers = make(map[provider.ID]*State)
	}
	return f, nil
}

// state returns the record for id, creating it lazily.
func (f *ledgerFile) state(id provider.ID) (*State, bool) {
	if s, ok := f.Providers[id]; ok && s != nil {
		return s, false
	}
	s := &State{}
	f.Providers[id] = s
	return s, true
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
