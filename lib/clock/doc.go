// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code
// injects Real(); tests inject Fake() and drive time explicitly with
// Advance, so settle delays, RPC wait bounds, and reconciliation join
// timeouts can be exercised without real sleeps.
package clock
