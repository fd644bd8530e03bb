// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gridline-foundation/gridline/lib/policy"
	"github.com/gridline-foundation/gridline/lib/policy/policyfile"
)

// recordUnmatched drives one unauthenticated attempt through the
// public entry point.
func recordUnmatched(t *testing.T, service *Service, address, credential string) string {
	t.Helper()
	userID, ok := service.Authenticate("", address, policy.MechanismCurve, []string{credential})
	if ok {
		t.Fatalf("expected %q to be unauthenticated, got user id %q", credential, userID)
	}
	return policy.EncodeUserID("", address, policy.MechanismCurve, credential)
}

func TestPendingDuplicateIncrementsRetries(t *testing.T) {
	service, _ := testService(t, Options{})

	recordUnmatched(t, service, "10.0.0.9:40000", "stranger")
	recordUnmatched(t, service, "10.0.0.9:40000", "stranger")
	recordUnmatched(t, service, "10.0.0.9:40000", "stranger")

	pending := service.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending queue length = %d, want 1", len(pending))
	}
	if pending[0].Retries != 3 {
		t.Errorf("retries = %d, want 3", pending[0].Retries)
	}
}

func TestPendingDistinctTuplesAppend(t *testing.T) {
	service, _ := testService(t, Options{})

	recordUnmatched(t, service, "10.0.0.9:40000", "stranger")
	recordUnmatched(t, service, "10.0.0.9:40001", "stranger")

	if got := len(service.Pending()); got != 2 {
		t.Errorf("pending queue length = %d, want 2", got)
	}
}

func TestApprovePromotesToAllowList(t *testing.T) {
	service, _ := testService(t, Options{})
	userID := recordUnmatched(t, service, "10.0.0.9:40000", "stranger")

	if err := service.Approve(userID); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	if len(service.Pending()) != 0 {
		t.Error("approved credential still pending")
	}

	approved := service.Approved()
	if credentialIndex(approved, userID) < 0 {
		t.Errorf("approved projection missing %q: %+v", userID, approved)
	}

	entries := service.store.ReadAllowEntries()
	if len(entries) != 1 {
		t.Fatalf("allow list length = %d, want 1", len(entries))
	}
	if !entries[0].Enabled {
		t.Error("promoted entry must be enabled")
	}
	if entries[0].UserID != userID {
		t.Errorf("promoted entry user id = %q, want %q", entries[0].UserID, userID)
	}
	if len(entries[0].Capabilities) != 0 || len(entries[0].Groups) != 0 || len(entries[0].Roles) != 0 {
		t.Error("promoted entry must start with no capabilities, groups, or roles")
	}
	if entries[0].Comments != pendingComment {
		t.Errorf("promoted entry comment = %q", entries[0].Comments)
	}

	// The new entry participates in matching immediately.
	if _, ok := service.Authenticate("", "10.0.0.9:40000", policy.MechanismCurve, []string{"stranger"}); !ok {
		t.Error("approved credential must authenticate")
	}
}

func TestDenyPromotesToDenyList(t *testing.T) {
	service, _ := testService(t, Options{})
	userID := recordUnmatched(t, service, "10.0.0.9:40000", "stranger")

	if err := service.Deny(userID); err != nil {
		t.Fatalf("Deny: %v", err)
	}

	if len(service.Pending()) != 0 {
		t.Error("denied credential still pending")
	}
	if credentialIndex(service.Denied(), userID) < 0 {
		t.Error("denied projection missing the credential")
	}
	if len(service.store.ReadDenyEntries()) != 1 {
		t.Error("deny list should hold the promoted entry")
	}

	// A denied credential never authenticates, and repeat attempts
	// count against the denied record instead of re-entering pending.
	recordUnmatched(t, service, "10.0.0.9:40000", "stranger")
	if len(service.Pending()) != 0 {
		t.Error("denied tuple must not re-enter the pending queue")
	}
	denied := service.Denied()
	if i := credentialIndex(denied, userID); i < 0 || denied[i].Retries != 1 {
		t.Errorf("denied record should count the retry: %+v", denied)
	}
}

func TestApproveFlipsDeniedCredential(t *testing.T) {
	service, _ := testService(t, Options{})
	userID := recordUnmatched(t, service, "10.0.0.9:40000", "stranger")

	if err := service.Deny(userID); err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if err := service.Approve(userID); err != nil {
		t.Fatalf("Approve after Deny: %v", err)
	}

	if len(service.store.ReadDenyEntries()) != 0 {
		t.Error("deny list should be empty after flip")
	}
	if len(service.store.ReadAllowEntries()) != 1 {
		t.Error("allow list should hold the flipped entry")
	}
	if credentialIndex(service.Approved(), userID) < 0 {
		t.Error("approved projection missing the flipped credential")
	}
}

func TestApproveThenDeleteRemovesEverywhere(t *testing.T) {
	service, _ := testService(t, Options{})
	userID := recordUnmatched(t, service, "10.0.0.9:40000", "stranger")

	if err := service.Approve(userID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := service.Delete(userID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if credentialIndex(service.Pending(), userID) >= 0 {
		t.Error("deleted credential still pending")
	}
	if credentialIndex(service.Approved(), userID) >= 0 {
		t.Error("deleted credential still approved")
	}
	if credentialIndex(service.Denied(), userID) >= 0 {
		t.Error("deleted credential still denied")
	}
	if len(service.store.ReadAllowEntries()) != 0 {
		t.Error("persisted entry should be removed")
	}
}

func TestApproveUnknownUserFails(t *testing.T) {
	service, _ := testService(t, Options{})
	if err := service.Approve("nobody"); err == nil {
		t.Error("expected error approving unknown user")
	}
}

// failingCSR records calls and optionally fails them.
type failingCSR struct {
	approved []string
	denied   []string
	deleted  []string
	err      error
}

func (c *failingCSR) ApproveCSR(userID string) error {
	c.approved = append(c.approved, userID)
	return c.err
}

func (c *failingCSR) DenyCSR(userID string) error {
	c.denied = append(c.denied, userID)
	return c.err
}

func (c *failingCSR) DeleteCSR(userID string) error {
	c.deleted = append(c.deleted, userID)
	return c.err
}

func TestApproveInvokesCertificateSubsystem(t *testing.T) {
	csr := &failingCSR{}
	service, _ := testService(t, Options{CSR: csr})
	userID := recordUnmatched(t, service, "10.0.0.9:40000", "stranger")

	if err := service.Approve(userID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if len(csr.approved) != 1 || csr.approved[0] != userID {
		t.Errorf("csr approvals = %v", csr.approved)
	}
}

func TestCertificateFailureDoesNotBlockTransition(t *testing.T) {
	csr := &failingCSR{err: fmt.Errorf("csr backend down")}
	service, _ := testService(t, Options{CSR: csr})
	userID := recordUnmatched(t, service, "10.0.0.9:40000", "stranger")

	if err := service.Approve(userID); err != nil {
		t.Fatalf("Approve must not propagate certificate failures: %v", err)
	}
	if credentialIndex(service.Approved(), userID) < 0 {
		t.Error("state transition must complete despite certificate failure")
	}
}

func TestStoreFailureLeavesPendingQueueIntact(t *testing.T) {
	// Seed an allow entry whose mechanism and credentials collide with
	// the pending credential, so the promotion's store.Add fails.
	service, _ := testService(t, Options{},
		policy.Entry{Mechanism: policy.MechanismCurve, Credentials: "stranger", UserID: "occupied", Enabled: false},
	)
	userID := recordUnmatched(t, service, "10.0.0.9:40000", "stranger")

	err := service.Approve(userID)
	var storeErr *policyfile.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("error = %v, want *policyfile.StoreError", err)
	}

	// Persist-first: the failed transition must not have dequeued the
	// pending credential.
	if credentialIndex(service.Pending(), userID) < 0 {
		t.Error("pending credential lost after failed persistence")
	}
}
