// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth implements the Gridline authentication and
// authorization coordinator.
//
// Every process that attaches to the message bus authenticates against
// the credential policy store: the coordinator matches the connection
// tuple (domain, address, mechanism, credentials) against the ordered
// policy entries and resolves a user identity. Attempts that match no
// enabled entry are recorded in a pending admission queue for operator
// approval or denial.
//
// The coordinator also owns capability propagation. On every policy
// reload it pushes the full user-to-capabilities map to all reachable
// peers, diffs per-method capability requirements between the old and
// new policy snapshots, and reconciles the changed requirements with
// the agents that export those methods, tolerating timeouts,
// unreachable peers, and rejected batches.
//
// Administrative mutation of capabilities, groups, roles, and
// per-method authorizations is exposed over the bus RPC surface
// (Service.BusHandler) and mirrored on a local Unix socket by the
// gridline-auth-service binary.
package auth
