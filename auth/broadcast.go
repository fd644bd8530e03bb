// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"time"

	"github.com/gridline-foundation/gridline/lib/codec"
	"github.com/gridline-foundation/gridline/lib/policy"
	"github.com/gridline-foundation/gridline/messaging"
)

// peerListAttempts bounds the live peer-list query loop.
const peerListAttempts = 3

// peerListTimeout bounds one peer-list query.
const peerListTimeout = 500 * time.Millisecond

// capabilityUpdateMethod is the one-way RPC every peer receives with
// the refreshed user-to-capabilities map.
const capabilityUpdateMethod = "auth.update_capabilities"

// broadcastCapabilities pushes the capability map from the current
// snapshot to every reachable peer, and emits it as a broadcast frame
// for subscribers that do not use RPC.
//
// Peer discovery degrades gracefully: each failed live query falls
// back to the cached peer list from the last success. Only when no
// peer can be obtained at all does the broadcast fail (ErrNoPeers).
// Individual peer deliveries are best-effort fan-out; a failed
// delivery is logged and skipped.
func (s *Service) broadcastCapabilities(ctx context.Context) error {
	capabilities := policy.UserCapabilities(s.snapshot())

	peers, err := s.discoverPeers(ctx)
	if err != nil {
		return err
	}

	for _, peer := range peers {
		if peer == policy.IdentityAuth || peer == policy.IdentityControlConnection {
			continue
		}
		if err := s.bus.Notify(peer, capabilityUpdateMethod, capabilities); err != nil {
			s.logger.Warn("capability update delivery failed", "peer", peer, "error", err)
		}
	}

	payload, err := codec.Marshal(capabilities)
	if err != nil {
		return err
	}
	if err := s.bus.Publish(messaging.Frame{
		Type:    messaging.FrameCapabilityUpdate,
		Payload: payload,
	}); err != nil {
		s.logger.Warn("capability frame publish failed", "error", err)
	}

	s.logger.Info("broadcast capability map", "peers", len(peers), "users", len(capabilities))
	return nil
}

// discoverPeers obtains the current peer set with bounded retry,
// falling back to the cached list when a live query fails.
func (s *Service) discoverPeers(ctx context.Context) ([]string, error) {
	for attempt := 1; attempt <= peerListAttempts; attempt++ {
		queryCtx, cancel := context.WithTimeout(ctx, peerListTimeout)
		peers, err := s.bus.PeerList(queryCtx)
		cancel()
		if err == nil && len(peers) > 0 {
			return peers, nil
		}
		if err != nil {
			s.logger.Warn("peer list query failed, using cached peers",
				"attempt", attempt, "error", err)
		}
		if cached := s.bus.CachedPeers(); len(cached) > 0 {
			return cached, nil
		}
	}
	return nil, ErrNoPeers
}
