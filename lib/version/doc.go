// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for peerdrop binaries.
//
// The variables are injected at build time:
//
//	go build -ldflags "-X github.com/peerdrop/peerdrop/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Edges send [Short] to the central relay when they authenticate and
// devices send it to their edge, so mixed-version deployments show up
// in the logs.
package version
