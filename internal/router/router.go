// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package router selects a provider under quota and cooldown constraints,
// invokes it and falls back through the remaining providers on failure.
package router

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/planwatch/internal/logging"
	"github.com/traylinx/planwatch/internal/provider"
	"github.com/traylinx/planwatch/internal/quota"
)

// Attempt records one invocation made by Route.
type Attempt struct {
	Provider provider.ID
	Err      error
	Duration time.Duration
}

// Result is the outcome of Route.
type Result struct {
	Provider provider.ID
	Output   string
	Attempts []Attempt
}

// ProviderStatus describes one provider for display.
type ProviderStatus struct {
	Descriptor provider.Descriptor
	State      quota.State
	Reachable  bool
	Eligible   bool
	Reason     string
}

// Router routes requests over the provider table in priority order.
type Router struct {
	table   []provider.Descriptor
	ledger  *quota.Ledger
	invoker Invoker
}

// New creates a router. The table is re-sorted by priority.
func New(table []provider.Descriptor, ledger *quota.Ledger, invoker Invoker) *Router {
	t := make([]provider.Descriptor, len(table))
	copy(t, table)
	provider.SortByPriority(t)
	return &Router{table: t, ledger: ledger, invoker: invoker}
}

// Providers returns the priority-ordered descriptor table.
func (r *Router) Providers() []provider.Descriptor {
	out := make([]provider.Descriptor, len(r.table))
	copy(out, r.table)
	return out
}

// Reachable checks that the invocation target of d exists. Absolute paths
// are checked on disk, bare names on PATH.
func Reachable(d provider.Descriptor) error {
	if d.CLIPath == "" {
		return fmt.Errorf("%w: no invocation target", provider.ErrProviderUnreachable)
	}
	if filepath.IsAbs(d.CLIPath) {
		if _, err := os.Stat(d.CLIPath); err != nil {
			return fmt.Errorf("%w: cli not found: %s", provider.ErrProviderUnreachable, d.CLIPath)
		}
		return nil
	}
	if _, err := exec.LookPath(d.CLIPath); err != nil {
		return fmt.Errorf("%w: cli not on PATH: %s", provider.ErrProviderUnreachable, d.CLIPath)
	}
	return nil
}

// evaluate applies the full eligibility predicate to d.
func (r *Router) evaluate(d provider.Descriptor) ProviderStatus {
	st := ProviderStatus{Descriptor: d}
	if err := Reachable(d); err != nil {
		st.Reason = strings.TrimPrefix(err.Error(), provider.ErrProviderUnreachable.Error()+": ")
		if state, err := r.ledger.States(); err == nil {
			st.State = state[d.ID]
		}
		return st
	}
	st.Reachable = true

	state, verdict, err := r.ledger.Check(d)
	if err != nil {
		log.WithError(err).WithField("provider", d.ID).Warn("quota ledger unavailable")
		st.Reason = "quota ledger unavailable"
		return st
	}
	st.State = state
	st.Eligible = verdict.Eligible
	st.Reason = verdict.Reason
	return st
}

// Select returns the first eligible provider in priority order.
func (r *Router) Select(ctx context.Context) (provider.ID, string, error) {
	var reasons []string
	for _, d := range r.table {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}
		st := r.evaluate(d)
		if st.Eligible {
			return d.ID, st.Reason, nil
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", d.ID, st.Reason))
	}
	reason := strings.Join(reasons, "; ")
	if reason == "" {
		reason = "no providers configured"
	}
	return "", reason, fmt.Errorf("%w: %s", provider.ErrProviderExhausted, reason)
}

// Invoke runs req against provider id and records the attempt in the ledger.
// A missing target returns ErrProviderUnreachable without touching the ledger.
func (r *Router) Invoke(ctx context.Context, id provider.ID, req provider.Request) (string, error) {
	d, ok := provider.Lookup(r.table, id)
	if !ok {
		return "", fmt.Errorf("%w: %s", provider.ErrUnknownProvider, id)
	}
	if err := Reachable(d); err != nil {
		return "", err
	}

	entry := log.WithFields(log.Fields{
		logging.RequestIDField: uuid.New().String()[:8],
		"provider":             id,
		"kind":                 req.Kind,
	})
	entry.Info("invoking provider")

	start := time.Now()
	out, err := r.invoker.Invoke(ctx, d, req)
	elapsed := time.Since(start).Round(time.Millisecond)

	if err != nil && ctx.Err() != nil {
		entry.Info("provider call cancelled")
		return "", ctx.Err()
	}

	if err != nil {
		state, lerr := r.ledger.RecordFailure(id, err)
		if lerr != nil {
			entry.WithError(lerr).Warn("failed to record provider failure")
		}
		entry.WithField("failures", state.ConsecutiveFailures).Warnf("provider failed after %s: %v", elapsed, err)
		return "", err
	}

	if _, lerr := r.ledger.RecordSuccess(id); lerr != nil {
		entry.WithError(lerr).Warn("failed to record provider success")
	}
	entry.Infof("provider responded in %s", elapsed)
	return out, nil
}

// Route selects a provider, invokes it and on failure sweeps the remaining
// providers in priority order, trying each at most once. Eligibility is
// re-checked before every attempt. If nothing is eligible up front no
// provider is invoked.
func (r *Router) Route(ctx context.Context, req provider.Request) (Result, error) {
	first, _, err := r.Select(ctx)
	if err != nil {
		return Result{}, err
	}

	var (
		res   Result
		errs  []error
		tried = map[provider.ID]bool{}
	)
	attempt := func(id provider.ID) bool {
		tried[id] = true
		start := time.Now()
		out, err := r.Invoke(ctx, id, req)
		res.Attempts = append(res.Attempts, Attempt{Provider: id, Err: err, Duration: time.Since(start)})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			return false
		}
		res.Provider = id
		res.Output = out
		return true
	}

	if attempt(first) {
		return res, nil
	}

	for _, d := range r.table {
		if tried[d.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		st := r.evaluate(d)
		if !st.Eligible {
			log.WithField("provider", d.ID).Debugf("skipping fallback: %s", st.Reason)
			continue
		}
		log.WithField("provider", d.ID).Info("trying fallback provider")
		if attempt(d.ID) {
			return res, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}

// Status reports every provider with its state and eligibility.
func (r *Router) Status(ctx context.Context) []ProviderStatus {
	out := make([]ProviderStatus, 0, len(r.table))
	for _, d := range r.table {
		if ctx.Err() != nil {
			break
		}
		out = append(out, r.evaluate(d))
	}
	return out
}
