// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"strings"
	"testing"

	"github.com/gridline-foundation/gridline/lib/policy"
)

func sensorEntry(methods map[string][]string) policy.Entry {
	return policy.Entry{
		Mechanism:               policy.MechanismCurve,
		Credentials:             "sensorkey",
		UserID:                  "sensor1",
		Capabilities:            []string{"reader"},
		Groups:                  []string{"field"},
		Roles:                   []string{"telemetry"},
		RPCMethodAuthorizations: methods,
		Enabled:                 true,
	}
}

func methodAuthorizations(t *testing.T, service *Service, identity, method string) []string {
	t.Helper()
	for _, entry := range service.store.ReadAllowEntries() {
		if entry.UserID == identity {
			return entry.RPCMethodAuthorizations[method]
		}
	}
	t.Fatalf("no entry for identity %q", identity)
	return nil
}

func TestAddMethodCapabilitiesSetsUntracked(t *testing.T) {
	service, _ := testService(t, Options{}, sensorEntry(nil))

	if err := service.AddMethodCapabilities("sensor1", "get_point", []string{"operator"}); err != nil {
		t.Fatalf("AddMethodCapabilities: %v", err)
	}

	got := methodAuthorizations(t, service, "sensor1", "get_point")
	if len(got) != 1 || got[0] != "operator" {
		t.Errorf("get_point = %v, want [operator]", got)
	}
}

func TestAddMethodCapabilitiesIsIdempotent(t *testing.T) {
	service, _ := testService(t, Options{}, sensorEntry(nil))

	for i := 0; i < 2; i++ {
		if err := service.AddMethodCapabilities("sensor1", "get_point", []string{"operator"}); err != nil {
			t.Fatalf("AddMethodCapabilities: %v", err)
		}
	}

	got := methodAuthorizations(t, service, "sensor1", "get_point")
	if len(got) != 1 || got[0] != "operator" {
		t.Errorf("get_point = %v, want [operator] (no duplicates)", got)
	}
}

func TestAddMethodCapabilitiesAppendsPreservingOrder(t *testing.T) {
	service, _ := testService(t, Options{}, sensorEntry(map[string][]string{
		"get_point": {"operator"},
	}))

	if err := service.AddMethodCapabilities("sensor1", "get_point", []string{"admin", "operator"}); err != nil {
		t.Fatalf("AddMethodCapabilities: %v", err)
	}

	got := methodAuthorizations(t, service, "sensor1", "get_point")
	want := []string{"operator", "admin"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("get_point = %v, want %v", got, want)
	}
}

func TestAddMethodCapabilitiesReplacesSentinel(t *testing.T) {
	service, _ := testService(t, Options{}, sensorEntry(map[string][]string{
		"get_point": {""},
	}))

	if err := service.AddMethodCapabilities("sensor1", "get_point", []string{"operator"}); err != nil {
		t.Fatalf("AddMethodCapabilities: %v", err)
	}

	got := methodAuthorizations(t, service, "sensor1", "get_point")
	if len(got) != 1 || got[0] != "operator" {
		t.Errorf("get_point = %v, want [operator] (sentinel replaced)", got)
	}
}

func TestAddMethodCapabilitiesUnknownIdentity(t *testing.T) {
	service, _ := testService(t, Options{})
	if err := service.AddMethodCapabilities("ghost", "get_point", []string{"operator"}); err == nil {
		t.Error("expected error for unknown identity")
	}
}

func TestMutationRejectsReservedIdentity(t *testing.T) {
	service, _ := testService(t, Options{})

	if err := service.AddMethodCapabilities(policy.IdentityControl, "shutdown", []string{"admin"}); err == nil {
		t.Error("expected error mutating reserved identity")
	}
	if err := service.RemoveMethodCapabilities(policy.IdentityControlConnection, "shutdown", []string{"admin"}); err == nil {
		t.Error("expected error mutating control connection identity")
	}
	if _, err := service.UpdateIDRPCAuthorizations(policy.IdentityAuth, nil); err == nil {
		t.Error("expected error self-reporting for reserved identity")
	}
}

func TestRemoveMethodCapabilitiesLeavesSentinel(t *testing.T) {
	service, _ := testService(t, Options{}, sensorEntry(map[string][]string{
		"get_point": {"operator"},
	}))

	if err := service.RemoveMethodCapabilities("sensor1", "get_point", []string{"operator"}); err != nil {
		t.Fatalf("RemoveMethodCapabilities: %v", err)
	}

	got := methodAuthorizations(t, service, "sensor1", "get_point")
	if !isSentinel(got) {
		t.Errorf("get_point = %v, want the sentinel [\"\"]", got)
	}
}

func TestRemoveMethodCapabilitiesPartialMatch(t *testing.T) {
	service, _ := testService(t, Options{}, sensorEntry(map[string][]string{
		"get_point": {"operator", "admin"},
	}))

	// "ghost" is not present: logged and skipped, the rest removed.
	if err := service.RemoveMethodCapabilities("sensor1", "get_point", []string{"admin", "ghost"}); err != nil {
		t.Fatalf("RemoveMethodCapabilities: %v", err)
	}

	got := methodAuthorizations(t, service, "sensor1", "get_point")
	if len(got) != 1 || got[0] != "operator" {
		t.Errorf("get_point = %v, want [operator]", got)
	}
}

func TestRemoveMethodCapabilitiesNoMatch(t *testing.T) {
	service, _ := testService(t, Options{}, sensorEntry(map[string][]string{
		"get_point": {"operator"},
	}))

	if err := service.RemoveMethodCapabilities("sensor1", "get_point", []string{"ghost"}); err == nil {
		t.Error("expected no-matching-capabilities error")
	}

	// No change was persisted.
	got := methodAuthorizations(t, service, "sensor1", "get_point")
	if len(got) != 1 || got[0] != "operator" {
		t.Errorf("get_point = %v, want unchanged [operator]", got)
	}
}

func TestRemoveMethodCapabilitiesUntrackedMethod(t *testing.T) {
	service, _ := testService(t, Options{}, sensorEntry(nil))
	if err := service.RemoveMethodCapabilities("sensor1", "get_point", []string{"operator"}); err == nil {
		t.Error("expected error for untracked method")
	}
}

func TestSentinelDistinctFromUntracked(t *testing.T) {
	service, _ := testService(t, Options{}, sensorEntry(map[string][]string{
		"get_point": {"operator"},
	}))

	if err := service.RemoveMethodCapabilities("sensor1", "get_point", []string{"operator"}); err != nil {
		t.Fatalf("RemoveMethodCapabilities: %v", err)
	}

	// The sentinel keeps the method tracked: a further removal finds
	// no matching capabilities rather than an untracked method, and
	// queries return the sentinel.
	err := service.RemoveMethodCapabilities("sensor1", "get_point", []string{"operator"})
	if err == nil || !strings.Contains(err.Error(), "no matching capabilities") {
		t.Errorf("error = %v, want no-matching-capabilities", err)
	}
	if got := methodAuthorizations(t, service, "sensor1", "get_point"); !isSentinel(got) {
		t.Errorf("get_point = %v, want sentinel", got)
	}
}

func TestUpdateIDRPCAuthorizationsFillsAbsentMethods(t *testing.T) {
	service, _ := testService(t, Options{}, sensorEntry(map[string][]string{
		"get_point": {"operator"},
	}))

	merged, err := service.UpdateIDRPCAuthorizations("sensor1", map[string][]string{
		"get_point": {"reader"},   // authoritative value exists: ignored
		"set_point": {"operator"}, // absent: filled from self-report
	})
	if err != nil {
		t.Fatalf("UpdateIDRPCAuthorizations: %v", err)
	}

	if got := merged["get_point"]; len(got) != 1 || got[0] != "operator" {
		t.Errorf("merged get_point = %v, want authoritative [operator]", got)
	}
	if got := merged["set_point"]; len(got) != 1 || got[0] != "operator" {
		t.Errorf("merged set_point = %v, want self-reported [operator]", got)
	}

	// The fill-in was persisted.
	if got := methodAuthorizations(t, service, "sensor1", "set_point"); len(got) != 1 || got[0] != "operator" {
		t.Errorf("persisted set_point = %v", got)
	}
}

func TestUpdateIDRPCAuthorizationsNoChangeNoPersist(t *testing.T) {
	service, _ := testService(t, Options{}, sensorEntry(map[string][]string{
		"get_point": {"operator"},
	}))
	before := service.store.Fingerprint()

	if _, err := service.UpdateIDRPCAuthorizations("sensor1", map[string][]string{
		"get_point": {"reader"},
	}); err != nil {
		t.Fatalf("UpdateIDRPCAuthorizations: %v", err)
	}

	if service.store.Fingerprint() != before {
		t.Error("no-op self-report must not rewrite the policy file")
	}
}

func TestUserQueriesByExplicitUserID(t *testing.T) {
	service, _ := testService(t, Options{}, sensorEntry(nil))

	authorizations, err := service.UserAuthorizations("sensor1")
	if err != nil {
		t.Fatalf("UserAuthorizations: %v", err)
	}
	if len(authorizations.Capabilities) != 1 || authorizations.Capabilities[0] != "reader" {
		t.Errorf("capabilities = %v", authorizations.Capabilities)
	}
	if len(authorizations.Groups) != 1 || authorizations.Groups[0] != "field" {
		t.Errorf("groups = %v", authorizations.Groups)
	}
	if len(authorizations.Roles) != 1 || authorizations.Roles[0] != "telemetry" {
		t.Errorf("roles = %v", authorizations.Roles)
	}
}

func TestUserQueriesBySyntheticUserID(t *testing.T) {
	// The entry has no explicit user_id, so authentication mints a
	// synthetic one; queries decode it and re-run the matcher.
	entry := sensorEntry(nil)
	entry.UserID = ""
	service, _ := testService(t, Options{}, entry)

	userID, ok := service.Authenticate("", "10.0.0.5:22916", policy.MechanismCurve, []string{"sensorkey"})
	if !ok {
		t.Fatal("expected authentication to succeed")
	}

	capabilities, err := service.UserCapabilities(userID)
	if err != nil {
		t.Fatalf("UserCapabilities(%q): %v", userID, err)
	}
	if len(capabilities) != 1 || capabilities[0] != "reader" {
		t.Errorf("capabilities = %v", capabilities)
	}
}

func TestUserQueriesUnknownUser(t *testing.T) {
	service, _ := testService(t, Options{})
	if _, err := service.UserCapabilities("ghost"); err == nil {
		t.Error("expected error for unknown user")
	}
}

func TestUserToCapabilitiesSnapshot(t *testing.T) {
	service, _ := testService(t, Options{},
		sensorEntry(nil),
		policy.Entry{Mechanism: policy.MechanismCurve, Credentials: "other", UserID: "sensor2",
			Capabilities: []string{"operator"}, Enabled: true},
	)

	capabilities := service.UserToCapabilities()
	if len(capabilities) != 2 {
		t.Fatalf("capability map = %v, want 2 users", capabilities)
	}
	if got := capabilities["sensor2"]; len(got) != 1 || got[0] != "operator" {
		t.Errorf("sensor2 = %v", got)
	}
}
