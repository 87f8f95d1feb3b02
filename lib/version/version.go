// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"net/http"
	"runtime"
)

// Set with -ldflags -X.
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
)

// Short returns the release version alone. It is what devices and
// edges put in their auth messages.
func Short() string {
	return Version
}

// Info returns the one-line --version string.
func Info() string {
	commit := GitCommit
	if GitDirty == "true" {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", Version, commit, BuildTime)
}

// Full adds the Go toolchain and platform to Info.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies a peerdrop component in websocket handshakes,
// e.g. "peerdrop-edge/0.1.0".
func UserAgent(component string) string {
	return component + "/" + Version
}

// Header returns handshake headers carrying UserAgent.
func Header(component string) http.Header {
	return http.Header{"User-Agent": {UserAgent(component)}}
}
