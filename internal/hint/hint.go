// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package hint manages the single intervention message read by the worker.
// The file is replaced atomically on every write and removed once the
// supervisor sees progress again.
package hint

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/traylinx/planwatch/internal/util"
)

// Severity tags a hint.
type Severity string

const (
	Info       Severity = "INFO"
	Warning    Severity = "WARNING"
	Escalation Severity = "ESCALATION"
	Error      Severity = "ERROR"
)

const (
	title        = "# Orchestrator Hint"
	timePrefix   = "**Time:** "
	sevPrefix    = "**Severity:** "
	footerRule   = "---"
	footer       = "*This file is generated by the planwatch supervisor.*\n*The worker should take these hints into account.*"
	timeLayout   = "2006-01-02 15:04:05"
	hintFileMode = 0644
)

// Hint is a parsed hint artifact.
type Hint struct {
	Time     time.Time
	Severity Severity
	Body     string
}

// Render formats the artifact content.
func Render(severity Severity, body string, now time.Time) string {
	var b strings.Builder
	b.WriteString(title + "\n")
	b.WriteString(timePrefix + now.Format(timeLayout) + "\n")
	b.WriteString(sevPrefix + string(severity) + "\n\n")
	b.WriteString(strings.TrimSpace(body) + "\n\n")
	b.WriteString(footerRule + "\n")
	b.WriteString(footer + "\n")
	return b.String()
}

// Write replaces the hint at path.
func Write(path string, severity Severity, body string, now time.Time) error {
	data := []byte(Render(severity, body, now))
	if err := util.SecureWrite(nil, path, data, &util.SecureWriteOptions{Permissions: hintFileMode}); err != nil {
		return fmt.Errorf("hint: %w", err)
	}
	return nil
}

// Clear removes the hint. A missing file is not an error.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("hint: %w", err)
	}
	return nil
}

// Exists reports whether a hint is present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Read parses the hint at path. found is false when no hint exists.
func Read(path string) (h Hint, found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Hint{}, false, nil
		}
		return Hint{}, false, fmt.Errorf("hint: %w", err)
	}
	return Parse(string(data)), true, nil
}

// Parse extracts header fields and body from artifact content.
// Only the generated trailer is stripped, so rules inside the body survive.
// Unknown layouts yield the whole content as body.
func Parse(content string) Hint {
	if i := strings.LastIndex(content, "\n"+footerRule+"\n"+footer); i >= 0 {
		content = content[:i]
	}

	var h Hint
	lines := strings.Split(content, "\n")
	start := 0
header:
	for ; start < len(lines); start++ {
		line := strings.TrimRight(lines[start], "\r")
		switch {
		case line == title, line == "":
		case strings.HasPrefix(line, timePrefix):
			if ts, err := time.ParseInLocation(timeLayout, strings.TrimPrefix(line, timePrefix), time.Local); err == nil {
				h.Time = ts
			}
		case strings.HasPrefix(line, sevPrefix):
			h.Severity = Severity(strings.TrimPrefix(line, sevPrefix))
		default:
			break header
		}
	}
	h.Body = strings.TrimSpace(strings.Join(lines[start:], "\n"))
	return h
}
