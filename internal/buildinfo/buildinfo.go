// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package buildinfo exposes compile-time metadata of the planwatch binary.
package buildinfo

import "fmt"

// Overridden with -ldflags "-X github.com/traylinx/planwatch/internal/buildinfo.Version=..."
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// String formats the metadata for --version and the daemon start line.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
}
