// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package events reads the worker's append-only event log and appends to the
// orchestrator decision log.
package events

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const maxLineSize = 4 * 1024 * 1024

// Event is one parsed line of events.jsonl.
type Event struct {
	// Offset is the zero-based line number in the log.
	Offset    int
	Timestamp string
	// Label is the action, message or type field, whichever is present first.
	Label string
	// Raw is the compact JSON of the entry.
	Raw string
}

// Line renders the event as a single prompt line.
func (e Event) Line() string {
	ts := e.Timestamp
	if len(ts) > 16 {
		ts = ts[:16]
	}
	return fmt.Sprintf("[%s] %s", ts, e.Label)
}

// Log reads an events.jsonl file.
type Log struct {
	path string
}

// NewLog returns a reader for the event log at path.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Path returns the log location.
func (l *Log) Path() string { return l.path }

// Exists reports whether the log file is present.
func (l *Log) Exists() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// Count returns the number of non-empty lines, including malformed ones.
// It is the unit of the consolidation watermark.
func (l *Log) Count() (int, error) {
	n := 0
	err := l.scan(func(int, []byte) { n++ })
	return n, err
}

// Since returns the valid events at or after line offset.
func (l *Log) Since(offset int) ([]Event, error) {
	out, _, err := l.SinceWithCount(offset)
	return out, err
}

// SinceWithCount is Since plus the Count of the same read, so a watermark
// taken from it never skips lines appended in between.
func (l *Log) SinceWithCount(offset int) ([]Event, int, error) {
	var out []Event
	n := 0
	err := l.scan(func(i int, line []byte) {
		n++
		if i < offset {
			return
		}
		if e, ok := parse(i, line); ok {
			out = append(out, e)
		}
	})
	return out, n, err
}

// Tail returns the last n valid events in chronological order.
func (l *Log) Tail(n int) ([]Event, error) {
	all, err := l.Since(0)
	if err != nil || n <= 0 {
		return nil, err
	}
	return Last(all, n), nil
}

// TailWithinBudget returns at most n of the newest events whose rendered
// lines fit in chars characters together.
func (l *Log) TailWithinBudget(n, chars int) ([]Event, error) {
	tail, err := l.Tail(n)
	if err != nil {
		return nil, err
	}
	return WithinBudget(tail, chars), nil
}

// Last returns the final n entries of evs.
func Last(evs []Event, n int) []Event {
	if n <= 0 {
		return nil
	}
	if len(evs) > n {
		return evs[len(evs)-n:]
	}
	return evs
}

// WithinBudget keeps the newest events whose rendered lines fit in chars.
func WithinBudget(evs []Event, chars int) []Event {
	used := 0
	start := len(evs)
	for i := len(evs) - 1; i >= 0; i-- {
		cost := len(evs[i].Line()) + 1
		if used+cost > chars {
			break
		}
		used += cost
		start = i
	}
	return evs[start:]
}

// Lines renders evs one per line. An empty slice renders as fallback.
func Lines(evs []Event, fallback string) string {
	if len(evs) == 0 {
		return fallback
	}
	var b strings.Builder
	for i, e := range evs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Line())
	}
	return b.String()
}

func (l *Log) scan(fn func(i int, line []byte)) error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("events: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	i := 0
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		fn(i, line)
		i++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("events: failed to scan %s: %w", l.path, err)
	}
	return nil
}

func parse(i int, line []byte) (Event, bool) {
	if !gjson.ValidBytes(line) {
		log.Debugf("skipping malformed event at line %d", i+1)
		return Event{}, false
	}
	res := gjson.ParseBytes(line)
	if !res.IsObject() {
		log.Debugf("skipping non-object event at line %d", i+1)
		return Event{}, false
	}

	var compact bytes.Buffer
	raw := string(line)
	if err := json.Compact(&compact, line); err == nil {
		raw = compact.String()
	}

	label := ""
	for _, key := range []string{"action", "message", "type"} {
		if v := res.Get(key); v.Exists() && v.String() != "" {
			label = v.String()
			break
		}
	}
	if label == "" {
		label = truncate(raw, 50)
	}

	return Event{
		Offset:    i,
		Timestamp: res.Get("timestamp").String(),
		Label:     label,
		Raw:       raw,
	}, true
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
