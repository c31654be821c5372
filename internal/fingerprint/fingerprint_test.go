// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fingerprint

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_Missing(t *testing.T) {
	fp, err := Fingerprint(filepath.Join(t.TempDir(), "@fix_plan.md"))
	require.NoError(t, err)
	assert.Equal(t, Sentinel, fp)

	_, decodeErr := hex.DecodeString(Sentinel)
	assert.Error(t, decodeErr, "sentinel must not look like a digest")
}

func TestFingerprint_TrailingSpace(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.md")
	b := filepath.Join(dir, "b.md")
	require.NoError(t, os.WriteFile(a, []byte("- [ ] task"), 0600))
	require.NoError(t, os.WriteFile(b, []byte("- [ ] task "), 0600))

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb)
	assert.Len(t, fa, 64)
}

func TestFingerprint_Unreadable(t *testing.T) {
	// A directory cannot be read as a file.
	fp, err := Fingerprint(t.TempDir())
	assert.Equal(t, Sentinel, fp)
	assert.True(t, errors.Is(err, ErrArtifactUnreadable))
}

func TestCountTasks(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Counts
	}{
		{"empty", "", Counts{}},
		{"mixed", "- [x] a\n- [X] b\n- [ ] c\n", Counts{Completed: 2, Pending: 1}},
		{"no boxes", "# Plan\nnothing here", Counts{}},
		{"inline", "[ ][ ][x]", Counts{Completed: 1, Pending: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CountTasks(tt.content)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Completed+tt.want.Pending, got.Total())
		})
	}
}

func TestProperty_FingerprintDeterminism(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("identical bytes give identical fingerprints", prop.ForAll(
		func(s string) bool {
			return Of([]byte(s)) == Of([]byte(s))
		},
		gen.AnyString(),
	))

	properties.Property("appending a byte changes the fingerprint", prop.ForAll(
		func(s string) bool {
			return Of([]byte(s)) != Of([]byte(s+" "))
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
