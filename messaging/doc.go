// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging defines the Gridline message bus surface the
// authorization coordinator consumes: peer discovery with a cached
// fallback, point-to-point RPC bounded by context deadlines, one-way
// notification, and broadcast frame publishing.
//
// The wire transport itself lives outside this repository; routers
// implement [Bus] over their own framing. [MemoryBus] is an in-process
// implementation used by tests and by single-node deployments where
// every agent shares the coordinator's process.
package messaging
