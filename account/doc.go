// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package account is the account and session store consulted by edge
// gateways when a device authenticates.
//
// An account is a username with a bcrypt password hash. A session is a
// bearer token bound to one (account, device) pair; creating a session
// for a device deletes any earlier session for the same device, so a
// device has at most one live token. Tokens are only stored as BLAKE3
// digests.
//
// [SQLite] is the production store, shared by every edge that points
// at the same database file. [Memory] backs tests.
package account
