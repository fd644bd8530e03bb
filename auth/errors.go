// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"fmt"
)

// ErrNoPeers is returned by a capability broadcast that cannot obtain
// any peer after exhausting its retries and the cached fallback list.
// There is nothing to update, so the broadcast (and the reload that
// triggered it) fails.
var ErrNoPeers = errors.New("auth: no peers available for capability broadcast")

// ErrUnauthorized is returned by the RPC dispatcher when the caller
// lacks the capability a mutating method requires.
var ErrUnauthorized = errors.New("auth: caller lacks required capability")

// reservedIdentityError reports an attempt to mutate authorizations of
// a platform-reserved identity through the administrative API.
func reservedIdentityError(identity string) error {
	return fmt.Errorf("auth: identity %q is reserved and cannot be modified", identity)
}

// identityNotFoundError reports a mutation targeting an identity with
// no policy entry.
func identityNotFoundError(identity string) error {
	return fmt.Errorf("auth: identity %q not found", identity)
}
