// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy defines the Gridline authorization policy model: the
// Entry rule type, compiled entries with precomputed literal-or-pattern
// match fields, the ordered first-match-wins matcher, and the encoding
// of connection tuples into synthetic user IDs.
//
// An Entry maps a connection descriptor (domain, address, mechanism,
// credentials) to a user identity, its capability set, and the
// per-method capability requirements for the RPC methods that identity
// exports. Entries whose credentials are literal strings always sort
// before entries whose credentials are patterns, so the most specific
// rule wins regardless of the order entries appear in the policy file.
package policy
