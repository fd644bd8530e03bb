// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// MechanismAgent tags synthetic user IDs minted for local platform
// agents resolved through the agent directory (NULL loopback
// connections carrying a process ID). It is not a connection mechanism
// and never appears in policy entries.
const MechanismAgent = "AGENT"

// userIDSeparator joins the tuple components of a synthetic user ID.
// None of the components may contain it: domains and mechanisms are
// bare words, addresses are host:port or loopback-credential strings,
// and credentials are encoded keys.
const userIDSeparator = ","

// EncodeUserID derives a synthetic user ID from a connection tuple.
// Used when an entry matches but carries no explicit user_id, and for
// the authenticate fallback chain (local agents, own-uid loopback,
// allow-any).
func EncodeUserID(domain, address, mechanism, credential string) string {
	return strings.Join([]string{domain, address, mechanism, credential}, userIDSeparator)
}

// DecodeUserID splits a synthetic user ID back into its connection
// tuple. Returns an error for IDs that are not in synthetic form
// (explicit user_ids from policy entries do not decode).
func DecodeUserID(userID string) (domain, address, mechanism, credential string, err error) {
	parts := strings.Split(userID, userIDSeparator)
	if len(parts) != 4 {
		return "", "", "", "", fmt.Errorf("policy: user ID %q is not a connection tuple", userID)
	}
	return parts[0], parts[1], parts[2], parts[3], nil
}

// Loopback describes the peer OS credentials embedded in a NULL
// mechanism loopback address of the form
// "localhost:<uid>[:<gid>[:<pid>]]".
type Loopback struct {
	UID int
	GID int
	PID int

	// HasPID reports whether the address carried a process ID. Only
	// addresses with a PID can be resolved to a local agent identity.
	HasPID bool
}

// ParseLoopback parses a loopback-encoded address. Returns false for
// addresses that are not loopback or do not carry a numeric UID.
func ParseLoopback(address string) (Loopback, bool) {
	rest, found := strings.CutPrefix(address, "localhost:")
	if !found {
		return Loopback{}, false
	}
	parts := strings.Split(rest, ":")

	uid, err := strconv.Atoi(parts[0])
	if err != nil {
		return Loopback{}, false
	}
	info := Loopback{UID: uid}

	if len(parts) > 1 {
		if gid, err := strconv.Atoi(parts[1]); err == nil {
			info.GID = gid
		}
	}
	if len(parts) > 2 {
		pid, err := strconv.Atoi(parts[2])
		if err != nil {
			return Loopback{}, false
		}
		info.PID = pid
		info.HasPID = true
	}
	return info, true
}
