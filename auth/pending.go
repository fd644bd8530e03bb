// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"

	"github.com/gridline-foundation/gridline/lib/policy"
)

// pendingComment marks allow/deny entries created by operator action
// on a pending credential, distinguishing them from hand-written
// policy entries.
const pendingComment = "Created via operator approval of a pending credential"

// recordPending adds an unmatched connection attempt to the pending
// admission queue. A duplicate of an already-pending or already-denied
// tuple increments that record's retry counter instead of creating a
// new one. The queue is bounded only by operator action.
func (s *Service) recordPending(credential Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.denied {
		if s.denied[i].sameTuple(credential) {
			s.denied[i].Retries++
			return
		}
	}
	for i := range s.pending {
		if s.pending[i].sameTuple(credential) {
			s.pending[i].Retries++
			return
		}
	}

	credential.Retries = 1
	s.pending = append(s.pending, credential)
	s.logger.Info("recorded pending credential",
		"user_id", credential.UserID,
		"address", credential.Address,
		"mechanism", credential.Mechanism,
	)
}

// Pending returns a copy of the pending admission queue.
func (s *Service) Pending() []Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Credential(nil), s.pending...)
}

// Approved returns the approved-credential projection: allow-list
// entries with a populated address, rebuilt on every reload.
func (s *Service) Approved() []Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Credential(nil), s.approved...)
}

// Denied returns the denied-credential projection.
func (s *Service) Denied() []Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Credential(nil), s.denied...)
}

// Approve resolves a pending or denied credential as allowed. A
// pending credential becomes a persisted enabled allow entry with no
// capabilities; a denied credential's persisted entry flips to the
// allow list. The persist happens first: a store failure leaves the
// queues untouched and is returned to the caller.
//
// A configured certificate subsystem is asked to approve the matching
// CSR as a side effect; its failure is logged and does not block the
// state transition.
func (s *Service) Approve(userID string) error {
	if err := s.resolvePending(userID, true); err != nil {
		return err
	}
	if s.csr != nil {
		if err := s.csr.ApproveCSR(userID); err != nil {
			s.logger.Warn("certificate approval failed", "user_id", userID, "error", err)
		}
	}
	return nil
}

// Deny resolves a pending or approved credential as denied,
// symmetrically to Approve.
func (s *Service) Deny(userID string) error {
	if err := s.resolvePending(userID, false); err != nil {
		return err
	}
	if s.csr != nil {
		if err := s.csr.DenyCSR(userID); err != nil {
			s.logger.Warn("certificate denial failed", "user_id", userID, "error", err)
		}
	}
	return nil
}

// resolvePending performs the shared approve/deny transition. The
// store mutation runs before any in-memory queue mutation so a
// persistence failure cannot leave memory and store disagreeing.
func (s *Service) resolvePending(userID string, approve bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := credentialIndex(s.pending, userID); i >= 0 {
		credential := s.pending[i]
		entry := policy.Entry{
			Domain:      credential.Domain,
			Address:     credential.Address,
			Mechanism:   credential.Mechanism,
			Credentials: credential.Credentials,
			UserID:      credential.UserID,
			Enabled:     true,
			Comments:    pendingComment,
		}
		if err := s.store.Add(entry, false, approve); err != nil {
			return err
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		return s.installSnapshotLocked()
	}

	// Not pending: flip an already-resolved credential to the other
	// list. Approve moves a denied entry to allow, deny moves an
	// approved entry to deny.
	opposite := s.denied
	if !approve {
		opposite = s.approved
	}
	if credentialIndex(opposite, userID) >= 0 {
		if err := s.store.ApproveDenyCredential(userID, approve); err != nil {
			return err
		}
		return s.installSnapshotLocked()
	}

	return fmt.Errorf("auth: no pending or resolved credential for user %q", userID)
}

// Delete removes a credential from every queue it appears in. If the
// credential was already persisted (approved or denied), the persisted
// entry is removed by its credential key. A configured certificate
// subsystem is asked to delete the matching CSR as a best-effort side
// effect.
func (s *Service) Delete(userID string) error {
	if err := s.deleteCredential(userID); err != nil {
		return err
	}
	if s.csr != nil {
		if err := s.csr.DeleteCSR(userID); err != nil {
			s.logger.Warn("certificate deletion failed", "user_id", userID, "error", err)
		}
	}
	return nil
}

func (s *Service) deleteCredential(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false

	if i := credentialIndex(s.approved, userID); i >= 0 {
		if err := s.store.RemoveByCredentials(s.approved[i].Credentials, true); err != nil {
			return err
		}
		found = true
	}
	if i := credentialIndex(s.denied, userID); i >= 0 {
		if err := s.store.RemoveByCredentials(s.denied[i].Credentials, false); err != nil {
			return err
		}
		found = true
	}
	if i := credentialIndex(s.pending, userID); i >= 0 {
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		found = true
	}

	if !found {
		return fmt.Errorf("auth: no credential for user %q", userID)
	}
	return s.installSnapshotLocked()
}

// credentialIndex returns the index of the credential with the given
// user ID, or -1.
func credentialIndex(credentials []Credential, userID string) int {
	for i, credential := range credentials {
		if credential.UserID == userID {
			return i
		}
	}
	return -1
}
