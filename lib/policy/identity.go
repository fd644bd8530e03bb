// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package policy

// Reserved platform identities. These belong to platform processes
// started by the launcher itself; their policy entries are managed by
// the platform and are never mutated through the coordinator's
// administrative API, never included in method-authorization diffs,
// and never targeted by reconciliation pushes.
const (
	// IdentityAuth is the authorization coordinator itself.
	IdentityAuth = "platform.auth"

	// IdentityControl is the platform control service.
	IdentityControl = "platform.control"

	// IdentityConfig is the platform configuration store.
	IdentityConfig = "platform.config"

	// IdentityHealth is the platform health monitor.
	IdentityHealth = "platform.health"

	// IdentityHub is the central hub connection for multi-platform
	// deployments.
	IdentityHub = "platform.hub"

	// IdentityControlConnection is the transient identity used by
	// control CLI invocations. Not a process identity, but reserved
	// for the same reasons.
	IdentityControlConnection = "control.connection"
)

// ProcessIdentities lists the identities of platform processes.
var ProcessIdentities = []string{
	IdentityAuth,
	IdentityControl,
	IdentityConfig,
	IdentityHealth,
	IdentityHub,
}

// IsReserved reports whether identity names a platform process or the
// control connection.
func IsReserved(identity string) bool {
	if identity == IdentityControlConnection {
		return true
	}
	for _, reserved := range ProcessIdentities {
		if identity == reserved {
			return true
		}
	}
	return false
}
