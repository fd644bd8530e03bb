// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
)

// ErrTimeout reports that a bounded wait (peer list query, RPC call)
// expired before an answer arrived. Callers treat it as "no answer"
// and never retry indefinitely.
var ErrTimeout = errors.New("messaging: wait timed out")

// ErrUnreachable reports that the targeted peer is not connected to
// the bus.
var ErrUnreachable = errors.New("messaging: peer unreachable")

// RemoteError is a failure reported by the peer's handler rather than
// the transport: the method does not exist, an argument was rejected,
// or the handler itself failed. Extract with errors.As:
//
//	var remote *messaging.RemoteError
//	if errors.As(err, &remote) { ... }
type RemoteError struct {
	// Peer is the bus identity that reported the failure.
	Peer string
	// Method is the RPC method that was invoked.
	Method string
	// Message is the peer's error description.
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("messaging: peer %s rejected %s: %s", e.Peer, e.Method, e.Message)
}

// IsRemote reports whether err is (or wraps) a *RemoteError.
func IsRemote(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}
