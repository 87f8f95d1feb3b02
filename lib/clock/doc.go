// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts wall-clock time so that timer-driven code
// (socket heartbeats, authentication deadlines, reconnect backoff,
// pause polling) can be driven deterministically in tests.
//
// Components hold a Clock field. Production wiring passes Real();
// tests pass a *FakeClock and move time with Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	gateway := edge.New(edge.Config{Clock: fake, ...})
//	fake.WaitForTimers(1)
//	fake.Advance(30 * time.Second) // auth deadline expires
//
// WaitForTimers closes the race between a goroutine registering a
// timer and the test advancing past it.
package clock
