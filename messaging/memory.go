// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/gridline-foundation/gridline/lib/codec"
)

// MemoryBus is an in-process message bus. Agents connect with an
// identity and a handler; calls dispatch synchronously to the target's
// handler with the caller's identity attached. Broadcast frames fan
// out to every subscriber channel.
//
// MemoryBus is safe for concurrent use by multiple goroutines.
type MemoryBus struct {
	mu          sync.Mutex
	handlers    map[string]Handler
	subscribers []chan Frame
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string]Handler)}
}

// Connect attaches an agent to the bus under the given identity.
// handler receives inbound calls; pass nil for agents that only issue
// calls. Reconnecting an identity replaces its handler.
func (b *MemoryBus) Connect(identity string, handler Handler) *MemoryConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[identity] = handler
	return &MemoryConn{bus: b, identity: identity}
}

// Disconnect removes an identity from the bus. Subsequent calls to it
// fail with ErrUnreachable.
func (b *MemoryBus) Disconnect(identity string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, identity)
}

// Subscribe returns a channel receiving every published frame. The
// channel is buffered; frames beyond the buffer are dropped rather
// than blocking the publisher, matching the lossy semantics of the
// real pubsub channel.
func (b *MemoryBus) Subscribe() <-chan Frame {
	channel := make(chan Frame, 16)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, channel)
	b.mu.Unlock()
	return channel
}

// peers returns the identities currently connected, in unspecified
// order.
func (b *MemoryBus) peers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	identities := make([]string, 0, len(b.handlers))
	for identity := range b.handlers {
		identities = append(identities, identity)
	}
	return identities
}

// handler looks up the handler for an identity.
func (b *MemoryBus) handler(identity string) (Handler, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	handler, connected := b.handlers[identity]
	return handler, connected
}

// publish fans a frame out to all subscribers.
func (b *MemoryBus) publish(frame Frame) {
	b.mu.Lock()
	subscribers := append([]chan Frame(nil), b.subscribers...)
	b.mu.Unlock()

	for _, channel := range subscribers {
		select {
		case channel <- frame:
		default:
		}
	}
}

// MemoryConn is one agent's connection to a MemoryBus. Implements Bus.
type MemoryConn struct {
	bus      *MemoryBus
	identity string

	mu     sync.Mutex
	cached []string
}

var _ Bus = (*MemoryConn)(nil)

// Identity returns the bus identity this connection was made under.
func (c *MemoryConn) Identity() string { return c.identity }

// PeerList returns the identities currently connected to the bus and
// refreshes the cached peer list.
func (c *MemoryConn) PeerList(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrTimeout
	}
	peers := c.bus.peers()

	c.mu.Lock()
	c.cached = append([]string(nil), peers...)
	c.mu.Unlock()
	return peers, nil
}

// CachedPeers returns the peer list from the last successful PeerList.
func (c *MemoryConn) CachedPeers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cached...)
}

// Call dispatches synchronously to the target's handler. The handler
// runs with this connection's identity as the caller; a handler error
// is returned as a *RemoteError, matching how a real router
// serializes peer-side failures.
func (c *MemoryConn) Call(ctx context.Context, peer, method string, args, result any) error {
	handler, connected := c.bus.handler(peer)
	if !connected {
		return fmt.Errorf("calling %s on %s: %w", method, peer, ErrUnreachable)
	}
	if handler == nil {
		return &RemoteError{Peer: peer, Method: method, Message: "peer exports no methods"}
	}
	if err := ctx.Err(); err != nil {
		return ErrTimeout
	}

	encoded, err := codec.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding args for %s: %w", method, err)
	}

	reply, err := handler(ctx, c.identity, method, encoded)
	if err != nil {
		return &RemoteError{Peer: peer, Method: method, Message: err.Error()}
	}
	if result == nil {
		return nil
	}

	replyBytes, err := codec.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encoding reply from %s: %w", method, err)
	}
	if err := codec.Unmarshal(replyBytes, result); err != nil {
		return fmt.Errorf("decoding reply from %s: %w", method, err)
	}
	return nil
}

// Notify dispatches one-way: the handler runs synchronously but its
// reply and error are discarded. Only an unknown peer is reported.
func (c *MemoryConn) Notify(peer, method string, args any) error {
	handler, connected := c.bus.handler(peer)
	if !connected {
		return fmt.Errorf("notifying %s on %s: %w", method, peer, ErrUnreachable)
	}
	if handler == nil {
		return nil
	}

	encoded, err := codec.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding args for %s: %w", method, err)
	}
	_, _ = handler(context.Background(), c.identity, method, encoded)
	return nil
}

// Publish fans the frame out to every subscriber.
func (c *MemoryConn) Publish(frame Frame) error {
	c.bus.publish(frame)
	return nil
}
