// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides shared infrastructure for Gridline services.
//
// A Gridline service is a standalone Go binary with an identity on the
// message bus and a Unix socket API for local administration. This
// package extracts the common scaffolding that every service needs:
//
//   - Socket server: CBOR Unix socket server with action dispatch,
//     connection timeouts, and graceful shutdown.
//   - Socket client: one connection per request, mirroring the server's
//     request-response model.
//
// Services compose these utilities in their own main() function rather
// than subclassing a framework. The package provides building blocks,
// not a runtime.
//
// # Caller identity
//
// Every request carries two layers of caller information. The client
// declares an identity string in the request envelope, and the server
// reads the kernel's SO_PEERCRED credentials (uid, gid, pid) from the
// Unix socket. The declared identity is convenient but unverified; the
// peer credentials are authoritative. Handlers that gate on the caller
// should resolve the peer uid through the credential policy rather
// than trusting the declared identity alone.
package service
