// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"

	"github.com/gridline-foundation/gridline/lib/policy"
)

// isSentinel reports whether capabilities is the single-element
// sentinel marking a method that is tracked but currently grants
// access to nobody.
func isSentinel(capabilities []string) bool {
	return len(capabilities) == 1 && capabilities[0] == ""
}

// AddMethodCapabilities adds required capabilities to one of an
// identity's exported methods. An untracked, empty, or sentinel-valued
// method is set to the given list; otherwise the capabilities not
// already present are appended, preserving order of first appearance.
// Persists on success.
func (s *Service) AddMethodCapabilities(identity, method string, capabilities []string) error {
	if policy.IsReserved(identity) {
		return reservedIdentityError(identity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, entry, err := s.entryForIdentityLocked(identity)
	if err != nil {
		return err
	}

	current := entry.RPCMethodAuthorizations[method]
	if len(current) == 0 || isSentinel(current) {
		current = nil
	}
	merged := append([]string(nil), current...)
	for _, capability := range capabilities {
		if !containsString(merged, capability) {
			merged = append(merged, capability)
		}
	}

	if entry.RPCMethodAuthorizations == nil {
		entry.RPCMethodAuthorizations = make(map[string][]string)
	}
	entry.RPCMethodAuthorizations[method] = merged

	if err := s.store.UpdateByIndex(entry, index, true); err != nil {
		return err
	}
	return s.installSnapshotLocked()
}

// RemoveMethodCapabilities removes required capabilities from one of
// an identity's exported methods. Requested capabilities not present
// in the method's current list are logged and skipped; if none were
// present the call fails with no change. A removal that empties the
// list installs the sentinel instead, preserving the distinction
// between an untracked method and a tracked method that currently
// authorizes nobody. Persists on success.
func (s *Service) RemoveMethodCapabilities(identity, method string, capabilities []string) error {
	if policy.IsReserved(identity) {
		return reservedIdentityError(identity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, entry, err := s.entryForIdentityLocked(identity)
	if err != nil {
		return err
	}

	current := entry.RPCMethodAuthorizations[method]
	if len(current) == 0 {
		return fmt.Errorf("auth: method %q of identity %q has no tracked capabilities", method, identity)
	}

	remove := make(map[string]bool, len(capabilities))
	matched := 0
	for _, capability := range capabilities {
		if !containsString(current, capability) {
			s.logger.Warn("capability not present on method, skipping",
				"identity", identity, "method", method, "capability", capability)
			continue
		}
		remove[capability] = true
		matched++
	}
	if matched == 0 {
		return fmt.Errorf("auth: no matching capabilities on method %q of identity %q", method, identity)
	}

	var kept []string
	for _, capability := range current {
		if !remove[capability] {
			kept = append(kept, capability)
		}
	}
	if len(kept) == 0 {
		kept = []string{""}
	}
	entry.RPCMethodAuthorizations[method] = kept

	if err := s.store.UpdateByIndex(entry, index, true); err != nil {
		return err
	}
	return s.installSnapshotLocked()
}

// UpdateIDRPCAuthorizations merges an agent's self-reported method
// capability requirements into its persisted entry and returns the
// authoritative mapping for the reported methods. The persisted value
// wins unless it is absent or empty, in which case the self-reported
// value fills it in. This runs at agent startup so the store and the
// live agent never disagree about which methods require which
// capabilities.
func (s *Service) UpdateIDRPCAuthorizations(identity string, reported map[string][]string) (map[string][]string, error) {
	if policy.IsReserved(identity) {
		return nil, reservedIdentityError(identity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, entry, err := s.entryForIdentityLocked(identity)
	if err != nil {
		return nil, err
	}

	if entry.RPCMethodAuthorizations == nil {
		entry.RPCMethodAuthorizations = make(map[string][]string)
	}

	changed := false
	for method, capabilities := range reported {
		if len(entry.RPCMethodAuthorizations[method]) == 0 && len(capabilities) > 0 {
			entry.RPCMethodAuthorizations[method] = append([]string(nil), capabilities...)
			changed = true
		}
	}

	authoritative := make(map[string][]string, len(reported))
	for method := range reported {
		authoritative[method] = append([]string(nil), entry.RPCMethodAuthorizations[method]...)
	}

	if changed {
		if err := s.store.UpdateByIndex(entry, index, true); err != nil {
			return nil, err
		}
		if err := s.installSnapshotLocked(); err != nil {
			return nil, err
		}
	}
	return authoritative, nil
}

// UserToCapabilities returns the capability map from the current
// snapshot: user ID to the capability names its entry grants.
func (s *Service) UserToCapabilities() map[string][]string {
	return policy.UserCapabilities(s.snapshot())
}

// Authorizations bundles everything granted to one identity.
type Authorizations struct {
	Capabilities []string `json:"capabilities" cbor:"capabilities"`
	Groups       []string `json:"groups" cbor:"groups"`
	Roles        []string `json:"roles" cbor:"roles"`
}

// UserAuthorizations resolves the capabilities, groups, and roles of a
// user ID.
func (s *Service) UserAuthorizations(userID string) (Authorizations, error) {
	entry := s.resolveUser(userID)
	if entry == nil {
		return Authorizations{}, fmt.Errorf("auth: unknown user id %q", userID)
	}
	return Authorizations{
		Capabilities: append([]string(nil), entry.Capabilities...),
		Groups:       append([]string(nil), entry.Groups...),
		Roles:        append([]string(nil), entry.Roles...),
	}, nil
}

// UserCapabilities resolves the capability names granted to a user ID.
func (s *Service) UserCapabilities(userID string) ([]string, error) {
	authorizations, err := s.UserAuthorizations(userID)
	if err != nil {
		return nil, err
	}
	return authorizations.Capabilities, nil
}

// UserGroups resolves the groups a user ID belongs to.
func (s *Service) UserGroups(userID string) ([]string, error) {
	authorizations, err := s.UserAuthorizations(userID)
	if err != nil {
		return nil, err
	}
	return authorizations.Groups, nil
}

// UserRoles resolves the roles assigned to a user ID.
func (s *Service) UserRoles(userID string) ([]string, error) {
	authorizations, err := s.UserAuthorizations(userID)
	if err != nil {
		return nil, err
	}
	return authorizations.Roles, nil
}

// resolveUser finds the snapshot entry for a user ID: first by exact
// user_id match, then, for synthetic IDs that decode into a connection
// tuple, by re-running the matcher against that tuple.
func (s *Service) resolveUser(userID string) *policy.CompiledEntry {
	snapshot := s.snapshot()
	for _, entry := range snapshot {
		if entry.UserID == userID {
			return entry
		}
	}

	domain, address, mechanism, credential, err := policy.DecodeUserID(userID)
	if err != nil {
		return nil
	}
	return policy.Find(snapshot, domain, address, mechanism, []string{credential})
}

// entryForIdentityLocked finds the stored allow entry for identity.
// Callers hold s.mu.
func (s *Service) entryForIdentityLocked(identity string) (int, policy.Entry, error) {
	for index, entry := range s.store.ReadAllowEntries() {
		if entry.UserID == identity {
			return index, entry, nil
		}
	}
	return 0, policy.Entry{}, identityNotFoundError(identity)
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
