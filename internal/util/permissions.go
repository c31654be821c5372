// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	privateDirMode  os.FileMode = 0700
	privateFileMode os.FileMode = 0600
)

// AuditResult describes the permissions of one state directory entry.
type AuditResult struct {
	Path         string
	CurrentMode  os.FileMode
	RequiredMode os.FileMode
	WasCorrected bool
	Error        error
}

// NeedsCorrection reports whether the entry is more permissive than required.
func (r AuditResult) NeedsCorrection() bool {
	return r.Error == nil && r.CurrentMode != r.RequiredMode
}

// AuditPermissions lists the state directory entries with a required mode
// without changing anything. Directories must be 0700; ledger, summary,
// event, decision, marker and log files must be 0600.
func AuditPermissions(sb *StateBox) ([]AuditResult, error) {
	return walkState(sb, false)
}

// HardenPermissions corrects the modes reported by AuditPermissions.
// Individual chmod failures are logged and counted; only a failed walk is
// returned as an error. Read-only state boxes are left untouched.
func HardenPermissions(sb *StateBox) error {
	if sb == nil {
		return fmt.Errorf("state box cannot be nil")
	}
	if sb.IsReadOnly() {
		return nil
	}
	if _, err := os.Stat(sb.RootPath()); os.IsNotExist(err) {
		log.Debugf("permission hardening: %s does not exist yet", sb.RootPath())
		return nil
	}

	results, err := walkState(sb, true)
	corrected, failed := 0, 0
	for _, r := range results {
		switch {
		case r.Error != nil:
			failed++
		case r.WasCorrected:
			corrected++
		}
	}
	if corrected > 0 {
		log.Infof("permission hardening: corrected %d state entries", corrected)
	}
	if failed > 0 {
		log.Warnf("permission hardening: %d state entries could not be corrected", failed)
	}
	return err
}

func walkState(sb *StateBox, fix bool) ([]AuditResult, error) {
	if sb == nil {
		return nil, fmt.Errorf("state box cannot be nil")
	}

	var results []AuditResult
	err := filepath.Walk(sb.RootPath(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warnf("permission audit: failed to access %s: %v", path, err)
			results = append(results, AuditResult{Path: path, Error: err})
			return nil
		}

		required, ok := requiredMode(path, info)
		if !ok {
			return nil
		}
		r := AuditResult{Path: path, CurrentMode: info.Mode().Perm(), RequiredMode: required}
		if fix && r.NeedsCorrection() {
			if chmodErr := os.Chmod(path, required); chmodErr != nil {
				log.Warnf("permission hardening: chmod %s to %04o: %v", path, required, chmodErr)
				r.Error = chmodErr
			} else {
				log.Debugf("permission hardening: %s %04o -> %04o", path, r.CurrentMode, required)
				r.WasCorrected = true
			}
		}
		results = append(results, r)
		return nil
	})
	if err != nil {
		return results, fmt.Errorf("failed to walk state directory: %w", err)
	}
	return results, nil
}

func requiredMode(path string, info os.FileInfo) (os.FileMode, bool) {
	if info.IsDir() {
		return privateDirMode, true
	}
	if !info.Mode().IsRegular() {
		return 0, false
	}
	if isPrivateFile(path) {
		return privateFileMode, true
	}
	return 0, false
}

// isPrivateFile matches the durable records written by planwatch.
func isPrivateFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".needs_consolidation") {
		return true
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".json", ".jsonl", ".pid", ".lock", ".log", ".yaml":
		return true
	}
	return false
}
