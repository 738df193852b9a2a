/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
)

// Version is the current version of queuecast.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/queuecast/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// Commit is the source revision, also set via ldflags.
var Commit = "unknown"

// String renders the version line printed by the CLI.
func String() string {
	return fmt.Sprintf("queuecast %s (%s, %s %s/%s)", Version, Commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
