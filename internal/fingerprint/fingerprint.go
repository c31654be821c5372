// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fingerprint detects change in the monitored plan artifact.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Sentinel is the fingerprint of a missing artifact. It is never a valid hex digest.
const Sentinel = "absent"

// ErrArtifactUnreadable is returned when the artifact exists but cannot be read.
var ErrArtifactUnreadable = errors.New("artifact unreadable")

// Of returns the hex SHA-256 digest of content.
func Of(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Fingerprint digests the raw bytes at path. A missing file yields Sentinel.
// On read failure it returns Sentinel together with a wrapped ErrArtifactUnreadable.
func Fingerprint(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Sentinel, nil
		}
		return Sentinel, fmt.Errorf("%w: %s: %v", ErrArtifactUnreadable, path, err)
	}
	return Of(data), nil
}

// Counts holds the checkbox tallies of a plan.
type Counts struct {
	Completed int
	Pending   int
}

// Total is the number of checkboxes found.
func (c Counts) Total() int { return c.Completed + c.Pending }

// CountTasks tallies "[x]"/"[X]" as completed and "[ ]" as pending.
func CountTasks(content string) Counts {
	return Counts{
		Completed: strings.Count(content, "[x]") + strings.Count(content, "[X]"),
		Pending:   strings.Count(content, "[ ]"),
	}
}
