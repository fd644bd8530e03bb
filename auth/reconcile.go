// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/gridline-foundation/gridline/messaging"
)

// reconcileCallTimeout bounds one reconciliation RPC, bulk or
// per-method.
const reconcileCallTimeout = 4 * time.Second

// reconcileJoinTimeout bounds how long a reload waits for its
// reconciliation pass. On expiry the pass is abandoned; the next
// reload re-diffs and retries naturally.
const reconcileJoinTimeout = 15 * time.Second

// methodUpdateMethod is the RPC agents export to accept refreshed
// per-method capability requirements.
const methodUpdateMethod = "auth.update_rpc_method_capabilities"

// reconcile pushes changed method authorizations to the affected
// agents. The pass runs as a background goroutine joined with a
// timeout so a slow fleet cannot stall the reload path indefinitely.
func (s *Service) reconcile(ctx context.Context, diff MethodAuthorizationDiff) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.reconcileDiff(ctx, diff)
	}()

	select {
	case <-done:
	case <-s.clock.After(reconcileJoinTimeout):
		s.logger.Warn("reconciliation still running after join timeout, abandoning",
			"identities", len(diff))
	}
}

// reconcileDiff runs the two-tier push for every identity in the diff.
//
// Tier one is a single bulk call carrying the identity's full changed
// mapping, excluding methods whose requirement list is empty (empty
// means no capability required; there is nothing to push). A rejected
// bulk call falls back to tier two: one call per method, each
// independently, because a single method name unknown at the peer
// invalidates the whole batch and the coordinator cannot know in
// advance which methods the peer currently exports.
func (s *Service) reconcileDiff(ctx context.Context, diff MethodAuthorizationDiff) {
	for identity, methods := range diff {
		payload := make(map[string][]string, len(methods))
		for method, capabilities := range methods {
			if len(capabilities) == 0 {
				continue
			}
			payload[method] = capabilities
		}
		if len(payload) == 0 {
			continue
		}

		err := s.callWithTimeout(ctx, identity, payload)
		switch {
		case err == nil:
		case errors.Is(err, messaging.ErrTimeout):
			// A slow or unresponsive agent is not escalated.
			s.logger.Warn("method authorization push timed out", "identity", identity)
		case messaging.IsRemote(err):
			s.logger.Warn("bulk method authorization push rejected, falling back to per-method",
				"identity", identity, "error", err)
			s.reconcilePerMethod(ctx, identity, payload)
		default:
			s.logger.Warn("method authorization push failed", "identity", identity, "error", err)
		}
	}
}

// reconcilePerMethod pushes each method's requirements individually.
// Failures never abort the rest of the batch.
func (s *Service) reconcilePerMethod(ctx context.Context, identity string, methods map[string][]string) {
	for method, capabilities := range methods {
		err := s.callWithTimeout(ctx, identity, map[string][]string{method: capabilities})
		switch {
		case err == nil:
		case errors.Is(err, messaging.ErrTimeout):
			s.logger.Warn("per-method authorization push timed out",
				"identity", identity, "method", method)
		case messaging.IsRemote(err):
			s.logger.Warn("method does not exist",
				"identity", identity, "method", method)
		default:
			s.logger.Warn("per-method authorization push failed",
				"identity", identity, "method", method, "error", err)
		}
	}
}

func (s *Service) callWithTimeout(ctx context.Context, identity string, payload map[string][]string) error {
	callCtx, cancel := context.WithTimeout(ctx, reconcileCallTimeout)
	defer cancel()
	return s.bus.Call(callCtx, identity, methodUpdateMethod, payload, nil)
}
