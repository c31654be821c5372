// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package consolidate

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/traylinx/planwatch/internal/util"
)

// maxConsolidations bounds the history kept in summaries.json.
const maxConsolidations = 100

// Record is one entry of the consolidation history.
type Record struct {
	Timestamp       string `json:"timestamp"`
	EventsProcessed int    `json:"events_processed"`
	TotalEvents     int    `json:"total_events"`
	Provider        string `json:"provider"`
}

// Summary is the part of summaries.json owned by the consolidation trigger.
// Other keys in the file are preserved on update.
type Summary struct {
	LatestSummary    string
	LastConsolidated string
	LastEventCount   int
	LastProvider     string
	Consolidations   []Record
}

// loadSummary reads path. A missing file yields the zero Summary.
func loadSummary(path string) (Summary, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Summary{}, nil, nil
		}
		return Summary{}, nil, fmt.Errorf("consolidate: %w", err)
	}
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return Summary{}, nil, fmt.Errorf("consolidate: %s is not valid JSON", path)
	}

	res := gjson.ParseBytes(raw)
	s := Summary{
		LatestSummary:    res.Get("latest_summary").String(),
		LastConsolidated: res.Get("last_consolidated").String(),
		LastEventCount:   int(res.Get("last_event_count").Int()),
		LastProvider:     res.Get("last_provider").String(),
	}
	if c := res.Get("consolidations"); c.IsArray() {
		if err := json.Unmarshal([]byte(c.Raw), &s.Consolidations); err != nil {
			return Summary{}, nil, fmt.Errorf("consolidate: bad consolidations: %w", err)
		}
	}
	return s, raw, nil
}

// saveSummary writes s into raw, keeping unrelated keys, and stores it atomically.
func saveSummary(sb *util.StateBox, path string, raw []byte, s Summary) error {
	if len(raw) == 0 {
		raw = []byte(`{}`)
	}
	if len(s.Consolidations) > maxConsolidations {
		s.Consolidations = s.Consolidations[len(s.Consolidations)-maxConsolidations:]
	}
	history, err := json.Marshal(s.Consolidations)
	if err != nil {
		return fmt.Errorf("consolidate: %w", err)
	}

	out := raw
	for _, set := range []struct {
		path  string
		value any
	}{
		{"latest_summary", s.LatestSummary},
		{"last_consolidated", s.LastConsolidated},
		{"last_event_count", s.LastEventCount},
		{"last_provider", s.LastProvider},
	} {
		if out, err = sjson.SetBytes(out, set.path, set.value); err != nil {
			return fmt.Errorf("consolidate: %w", err)
		}
	}
	if out, err = sjson.SetRawBytes(out, "consolidations", history); err != nil {
		return fmt.Errorf("consolidate: %w", err)
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, out, "", "  "); err == nil {
		indented.WriteByte('\n')
		out = indented.Bytes()
	}
	return util.SecureWrite(sb, path, out, nil)
}
