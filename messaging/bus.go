// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"

	"github.com/gridline-foundation/gridline/lib/codec"
)

// Frame is a broadcast message on the bus's publish/subscribe channel,
// delivered to every subscriber without RPC polling.
type Frame struct {
	// Type routes the frame (e.g. FrameCapabilityUpdate).
	Type string `cbor:"type"`

	// Payload is the CBOR-encoded frame body.
	Payload codec.RawMessage `cbor:"payload"`
}

// FrameCapabilityUpdate carries the full user-to-capabilities map
// after a policy reload. Subscribers that enforce capabilities locally
// (the router's pubsub layer, monitoring tools) consume it instead of
// polling the coordinator.
const FrameCapabilityUpdate = "capability_update"

// Handler processes an inbound RPC call on a bus connection. The
// caller is the authenticated bus identity that issued the call; args
// is the CBOR-encoded argument value. The returned value is
// CBOR-encoded into the reply.
type Handler func(ctx context.Context, caller, method string, args codec.RawMessage) (any, error)

// Bus is one agent's connection to the Gridline message bus.
//
// Implementations must bound PeerList and Call by the deadline on ctx
// and surface expiry as ErrTimeout; the coordinator never waits on a
// peer without a bound.
type Bus interface {
	// PeerList queries the router for the identities currently
	// connected to the bus.
	PeerList(ctx context.Context) ([]string, error)

	// CachedPeers returns the peer list from the most recent
	// successful PeerList, as a degraded substitute when the live
	// query fails.
	CachedPeers() []string

	// Call invokes method on peer and decodes the reply into result
	// (pass nil to discard). A peer-side handler failure is returned
	// as a *RemoteError.
	Call(ctx context.Context, peer, method string, args, result any) error

	// Notify invokes method on peer one-way: delivery is handed to
	// the transport and the reply, if any, is discarded.
	Notify(peer, method string, args any) error

	// Publish emits a broadcast frame on the publish/subscribe
	// channel.
	Publish(frame Frame) error
}
