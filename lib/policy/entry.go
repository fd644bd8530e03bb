// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Connection mechanisms. Mechanism matches by exact equality; there is
// no pattern form.
const (
	// MechanismNull is the unauthenticated local mechanism. Addresses
	// for NULL connections over the loopback encode the peer's OS
	// credentials (see ParseLoopback).
	MechanismNull = "NULL"

	// MechanismCurve is the public-key mechanism. Credentials carry
	// the peer's encoded public key.
	MechanismCurve = "CURVE"

	// MechanismPlain is the username/password mechanism.
	MechanismPlain = "PLAIN"
)

// Entry is one rule in the authorization policy. Entries are stored in
// the policy file and mutated only through the persistent store or the
// coordinator's mutation API.
type Entry struct {
	// Domain restricts the connection domain. Empty matches any
	// domain; "/re/" is a regex; "*" and "?" glob.
	Domain string `json:"domain"`

	// Address restricts the connection address, with the same pattern
	// forms as Domain.
	Address string `json:"address"`

	// Mechanism is the connection mechanism (NULL, CURVE, PLAIN).
	Mechanism string `json:"mechanism"`

	// Credentials is the credential the connecting peer must present:
	// a literal value, a "/re/" regex, or a glob.
	Credentials string `json:"credentials"`

	// UserID is the identity granted on match. When empty, a synthetic
	// user ID is derived from the connection tuple (EncodeUserID).
	UserID string `json:"user_id"`

	// Capabilities is the set of capability names granted to UserID.
	Capabilities []string `json:"capabilities"`

	// Groups lists the policy groups the identity belongs to.
	Groups []string `json:"groups"`

	// Roles lists the policy roles assigned to the identity.
	Roles []string `json:"roles"`

	// RPCMethodAuthorizations maps an RPC method name the identity
	// exports to the ordered capability names required to call it. An
	// absent method is untracked; the single-element sentinel [""]
	// marks a method that is tracked but currently grants access to
	// nobody.
	RPCMethodAuthorizations map[string][]string `json:"rpc_method_authorizations"`

	// Enabled gates participation in matching. Disabled entries are
	// kept in the policy file but never match.
	Enabled bool `json:"enabled"`

	// Comments is free-form operator annotation.
	Comments string `json:"comments,omitempty"`
}

// matchField is a compiled Domain, Address, or Credentials value. A
// nil pattern means literal equality (with the empty literal matching
// anything).
type matchField struct {
	literal string
	pattern *regexp.Regexp
}

// isPattern reports whether the field was compiled from a regex or
// glob form.
func (f matchField) isPattern() bool { return f.pattern != nil }

// match checks one input value against the field. An empty literal is
// a wildcard: an entry that does not constrain a field matches any
// value for it.
func (f matchField) match(value string) bool {
	if f.pattern != nil {
		return f.pattern.MatchString(value)
	}
	if f.literal == "" {
		return true
	}
	return f.literal == value
}

// compileField parses a serialized field value. "/re/" compiles as an
// anchored regex (fullmatch); values containing "*" or "?" compile as
// globs; everything else is a literal.
func compileField(value string) (matchField, error) {
	if len(value) >= 2 && strings.HasPrefix(value, "/") && strings.HasSuffix(value, "/") {
		expression := value[1 : len(value)-1]
		compiled, err := regexp.Compile("^(?:" + expression + ")$")
		if err != nil {
			return matchField{}, fmt.Errorf("compiling pattern %q: %w", value, err)
		}
		return matchField{pattern: compiled}, nil
	}
	if strings.ContainsAny(value, "*?") {
		compiled, err := regexp.Compile("^(?:" + globToRegexp(value) + ")$")
		if err != nil {
			return matchField{}, fmt.Errorf("compiling glob %q: %w", value, err)
		}
		return matchField{pattern: compiled}, nil
	}
	return matchField{literal: value}, nil
}

// globToRegexp translates a glob into a regex body: "*" matches any
// run of characters, "?" matches one character, everything else is
// quoted.
func globToRegexp(glob string) string {
	var builder strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			builder.WriteString(".*")
		case '?':
			builder.WriteString(".")
		default:
			builder.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return builder.String()
}

// CompiledEntry is an Entry with its match fields compiled once at
// construction. The specificity flag (literal vs. pattern credentials)
// is precomputed so sorting never inspects strings.
type CompiledEntry struct {
	Entry

	domain      matchField
	address     matchField
	credentials matchField
}

// Compile validates the entry and precompiles its match fields.
func (e Entry) Compile() (*CompiledEntry, error) {
	if e.Mechanism == "" {
		return nil, fmt.Errorf("policy: entry for user %q has no mechanism", e.UserID)
	}

	compiled := &CompiledEntry{Entry: e}
	var err error
	if compiled.domain, err = compileField(e.Domain); err != nil {
		return nil, fmt.Errorf("policy: entry domain: %w", err)
	}
	if compiled.address, err = compileField(e.Address); err != nil {
		return nil, fmt.Errorf("policy: entry address: %w", err)
	}
	if compiled.credentials, err = compileField(e.Credentials); err != nil {
		return nil, fmt.Errorf("policy: entry credentials: %w", err)
	}
	return compiled, nil
}

// CredentialsArePattern reports whether the entry's credentials field
// is a pattern. Pattern-credential entries sort after literal ones.
func (c *CompiledEntry) CredentialsArePattern() bool {
	return c.credentials.isPattern()
}

// Match checks a connection tuple against the entry. Domain, address,
// and credentials match per their compiled field; mechanism matches by
// exact equality. The credential checked is the first element of
// credentials (the primary credential); an empty credential list
// matches only an unconstrained credentials field.
func (c *CompiledEntry) Match(domain, address, mechanism string, credentials []string) bool {
	if c.Mechanism != mechanism {
		return false
	}
	if !c.domain.match(domain) {
		return false
	}
	if !c.address.match(address) {
		return false
	}
	primary := ""
	if len(credentials) > 0 {
		primary = credentials[0]
	}
	if primary == "" {
		return !c.credentials.isPattern() && c.credentials.literal == ""
	}
	return c.credentials.match(primary)
}

// CompileAll compiles a slice of entries, failing on the first invalid
// entry.
func CompileAll(entries []Entry) ([]*CompiledEntry, error) {
	compiled := make([]*CompiledEntry, 0, len(entries))
	for i, entry := range entries {
		c, err := entry.Compile()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		compiled = append(compiled, c)
	}
	return compiled, nil
}

// Sort orders entries so that literal-credential entries precede
// pattern-credential entries. The sort is stable, so applying it to an
// already-sorted slice is a no-op and file order is preserved within
// each class. This is the invariant that gives the matcher its
// most-specific-match-first semantics.
func Sort(entries []*CompiledEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return !entries[i].CredentialsArePattern() && entries[j].CredentialsArePattern()
	})
}

// Find returns the first enabled entry matching the connection tuple,
// or nil. The entries slice must already be in Sort order.
func Find(entries []*CompiledEntry, domain, address, mechanism string, credentials []string) *CompiledEntry {
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		if entry.Match(domain, address, mechanism, credentials) {
			return entry
		}
	}
	return nil
}

// UserCapabilities computes the capability map broadcast to peers:
// user ID to the ordered capability names its entry grants. Later
// entries for the same user ID overwrite earlier ones, matching the
// matcher's snapshot being keyed by entry rather than user.
func UserCapabilities(entries []*CompiledEntry) map[string][]string {
	capabilities := make(map[string][]string, len(entries))
	for _, entry := range entries {
		capabilities[entry.UserID] = entry.Capabilities
	}
	return capabilities
}
