// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/gridline-foundation/gridline/lib/policy"
)

// emptyReadRetries bounds the re-read loop for the write/notify race:
// a file watcher can fire while the writer's rename is still in
// flight, making the store read back empty even though it was known to
// be populated.
const emptyReadRetries = 3

// emptyReadDelay is the pause between empty-read retries.
const emptyReadDelay = 100 * time.Millisecond

// settleDelay is waited before propagating a reload to peers. It
// covers the startup race where the coordinator reloads before peers
// have finished attaching to the bus.
const settleDelay = 2 * time.Second

// MethodAuthorizationDiff maps each identity whose per-method
// capability requirements changed between two policy snapshots to the
// method-to-capabilities mapping that differs. Computed once per
// reload and consumed once by reconciliation.
type MethodAuthorizationDiff map[string]map[string][]string

// Reload re-reads the policy store and installs a new in-memory
// snapshot, then propagates the result to peers: the capability map is
// broadcast, and identities whose method authorizations changed are
// reconciled. Propagation is skipped when the coordinator is detached
// from the bus.
//
// A store failure leaves the previous snapshot installed. A
// propagation failure is returned, but the new snapshot stays
// installed; the next reload re-diffs and retries naturally.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	old := s.entries

	hadEntries := len(old) > 0
	var loadErr error
	for attempt := 0; ; attempt++ {
		if loadErr = s.store.Load(); loadErr != nil {
			break
		}
		if len(s.store.ReadAllowEntries()) > 0 || !hadEntries || attempt >= emptyReadRetries {
			break
		}
		s.logger.Warn("policy file read back empty, retrying",
			"attempt", attempt+1, "retries", emptyReadRetries)
		s.clock.Sleep(emptyReadDelay)
	}
	if loadErr != nil {
		s.mu.Unlock()
		s.logger.Error("policy reload failed, keeping previous snapshot", "error", loadErr)
		return loadErr
	}

	if err := s.installSnapshotLocked(); err != nil {
		s.mu.Unlock()
		s.logger.Error("policy reload produced invalid entries, keeping previous snapshot", "error", err)
		return err
	}
	current := s.entries
	s.mu.Unlock()

	diff := diffMethodAuthorizations(old, current)
	s.logger.Info("policy reloaded",
		"entries", len(current),
		"changed_identities", len(diff),
	)

	if s.bus == nil {
		return nil
	}

	s.clock.Sleep(settleDelay)

	if err := s.broadcastCapabilities(ctx); err != nil {
		s.logger.Error("capability broadcast failed", "error", err)
		return fmt.Errorf("propagating reload: %w", err)
	}
	if len(diff) > 0 {
		s.reconcile(ctx, diff)
	}
	return nil
}

// diffMethodAuthorizations computes the per-identity method
// authorization changes between two snapshots. Platform-reserved
// identities are excluded entirely: their authorizations are managed
// by the platform, not reconciled over RPC.
func diffMethodAuthorizations(old, current []*policy.CompiledEntry) MethodAuthorizationDiff {
	previous := make(map[string]map[string][]string, len(old))
	for _, entry := range old {
		previous[entry.UserID] = entry.RPCMethodAuthorizations
	}

	diff := make(MethodAuthorizationDiff)
	for _, entry := range current {
		if policy.IsReserved(entry.UserID) {
			continue
		}
		changed := changedMethods(previous[entry.UserID], entry.RPCMethodAuthorizations)
		if len(changed) > 0 {
			diff[entry.UserID] = changed
		}
	}
	return diff
}

// changedMethods returns the methods in current whose capability list
// differs from previous. Methods removed from current are not
// reported; an agent keeps its last pushed requirements until the next
// self-report.
func changedMethods(previous, current map[string][]string) map[string][]string {
	var changed map[string][]string
	for method, capabilities := range current {
		if equalStringSlices(previous[method], capabilities) {
			continue
		}
		if changed == nil {
			changed = make(map[string][]string)
		}
		changed[method] = append([]string(nil), capabilities...)
	}
	return changed
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
