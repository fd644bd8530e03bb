// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec centralizes CBOR encoding for Gridline wire payloads.
//
// Every RPC argument, RPC result, and broadcast frame on the Gridline
// bus is CBOR. This package pins the encoder to Core Deterministic
// Encoding (RFC 8949 §4.2) so the same logical value always produces
// identical bytes, and pins the decoder to decode any-typed values as
// map[string]any rather than the CBOR default map[any]any.
//
// Consumers import only this package, never fxamacker/cbor directly.
package codec
