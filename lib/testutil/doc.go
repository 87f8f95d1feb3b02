// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the select
// with a wall-clock safety valve so a broken test fails instead of
// hanging. They are the only place tests use real timeouts; timer
// behavior under test is driven by lib/clock's FakeClock.
//
// [UniqueID] produces distinct identifiers (device IDs, file IDs,
// request IDs) without consulting the clock.
package testutil
