// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package provider describes the AI provider CLIs planwatch can route to.
// Descriptors are static: they are built once from the compiled table,
// optionally adjusted by configuration overrides, and never mutated afterwards.
// Mutable usage state lives in the quota package.
package provider

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ID identifies a provider.
type ID string

const (
	Gemini ID = "gemini"
	Qwen   ID = "qwen"
	Kimi   ID = "kimi"
)

// Tier selects the Gemini plan whose limits apply.
type Tier string

const (
	TierPro  Tier = "pro"
	TierFree Tier = "free"

	// TierEnv selects the tier when configuration leaves it empty.
	TierEnv = "GEMINI_TIER"
)

// DefaultCLIDir holds the provider CLI scripts when no directory is configured.
const DefaultCLIDir = "~/.claude/commands"

// Descriptor is the immutable description of one provider.
type Descriptor struct {
	// ID is the provider identifier used as the ledger key.
	ID ID
	// CLIPath is the invocation target passed to the runner.
	CLIPath string
	// Model is forwarded in every request object.
	Model string
	// ContextTokens is the context-size hint used to bound prompts.
	ContextTokens int
	// DailyLimit is the number of calls allowed per local calendar day.
	DailyLimit int
	// CooldownUnit scales the backoff after repeated failures.
	CooldownUnit time.Duration
	// Priority orders providers; lower is preferred.
	Priority int
	// Flags are provider-specific request fields.
	Flags map[string]any
}

// Cooldown returns the wait required after the given run of failures.
func (d Descriptor) Cooldown(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	return d.CooldownUnit * time.Duration(failures)
}

// FlagKeys returns the flag names in sorted order.
func (d Descriptor) FlagKeys() []string {
	keys := make([]string, 0, len(d.Flags))
	for k := range d.Flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IDs returns the built-in provider identifiers in table order.
func IDs() []ID {
	return []ID{Gemini, Qwen, Kimi}
}

// Known reports whether id names a built-in provider.
func Known(id string) bool {
	for _, known := range IDs() {
		if string(known) == id {
			return true
		}
	}
	return false
}

// ParseTier normalizes a tier name. Anything other than "free" is TierPro.
func ParseTier(s string) Tier {
	if strings.EqualFold(strings.TrimSpace(s), string(TierFree)) {
		return TierFree
	}
	return TierPro
}

// ResolveTier returns the configured tier, falling back to GEMINI_TIER and then TierPro.
func ResolveTier(configured string) Tier {
	if strings.TrimSpace(configured) != "" {
		return ParseTier(configured)
	}
	return ParseTier(os.Getenv(TierEnv))
}

// Table returns the built-in descriptors for the given tier, sorted by priority.
// CLI paths are resolved inside cliDir as "<id>-cli".
func Table(tier Tier, cliDir string) []Descriptor {
	if cliDir == "" {
		cliDir = DefaultCLIDir
	}

	gemini := Descriptor{
		ID:            Gemini,
		CLIPath:       filepath.Join(cliDir, "gemini-cli"),
		Model:         "gemini-2.0-flash",
		ContextTokens: 2_000_000,
		DailyLimit:    10000,
		CooldownUnit:  6 * time.Minute,
		Priority:      1,
		Flags:         map[string]any{"yolo": true},
	}
	if tier == TierFree {
		gemini.Model = "gemini-3.0-flash"
		gemini.ContextTokens = 1_000_000
		gemini.DailyLimit = 60
		gemini.CooldownUnit = time.Hour
	}

	table := []Descriptor{
		gemini,
		{
			ID:            Qwen,
			CLIPath:       filepath.Join(cliDir, "qwen-cli"),
			Model:         "qwen3-turbo",
			ContextTokens: 32_000,
			DailyLimit:    500,
			CooldownUnit:  15 * time.Minute,
			Priority:      2,
			Flags:         map[string]any{"approval_mode": "yolo"},
		},
		{
			ID:            Kimi,
			CLIPath:       filepath.Join(cliDir, "kimi-cli"),
			Model:         "kimi-k2-0711",
			ContextTokens: 256_000,
			DailyLimit:    100,
			CooldownUnit:  30 * time.Minute,
			Priority:      3,
			Flags:         map[string]any{"approval_mode": "yolo"},
		},
	}
	SortByPriority(table)
	return table
}

// Override replaces selected descriptor fields. Zero values leave the field unchanged.
type Override struct {
	CLIPath    string
	Model      string
	DailyLimit int
	Cooldown   time.Duration
	Priority   int
}

// ApplyOverrides returns a copy of table with overrides applied and re-sorted.
// Overrides for unknown ids are ignored.
func ApplyOverrides(table []Descriptor, overrides map[ID]Override) []Descriptor {
	out := make([]Descriptor, len(table))
	copy(out, table)
	for i := range out {
		o, ok := overrides[out[i].ID]
		if !ok {
			continue
		}
		if o.CLIPath != "" {
			out[i].CLIPath = o.CLIPath
		}
		if o.Model != "" {
			out[i].Model = o.Model
		}
		if o.DailyLimit > 0 {
			out[i].DailyLimit = o.DailyLimit
		}
		if o.Cooldown > 0 {
			out[i].CooldownUnit = o.Cooldown
		}
		if o.Priority > 0 {
			out[i].Priority = o.Priority
		}
	}
	SortByPriority(out)
	return out
}

// SortByPriority orders descriptors by ascending priority, keeping table order for ties.
func SortByPriority(table []Descriptor) {
	sort.SliceStable(table, func(i, j int) bool {
		return table[i].Priority < table[j].Priority
	})
}

// Lookup finds the descriptor for id.
func Lookup(table []Descriptor, id ID) (Descriptor, bool) {
	for _, d := range table {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}
