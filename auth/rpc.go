// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"

	"github.com/gridline-foundation/gridline/lib/codec"
	"github.com/gridline-foundation/gridline/lib/policy"
	"github.com/gridline-foundation/gridline/messaging"
)

// CapabilityAuthModifications is the capability a caller must hold to
// invoke any mutating method on the coordinator's RPC surface.
const CapabilityAuthModifications = "allow_auth_modifications"

// rpcMethod is one entry in the dispatch table. Mutating methods are
// gated on CapabilityAuthModifications.
type rpcMethod struct {
	mutating bool
	handle   func(ctx context.Context, caller string, args codec.RawMessage) (any, error)
}

// BusHandler returns the RPC dispatcher registered on the
// coordinator's bus connection. Unknown methods and callers lacking
// the required capability receive descriptive errors; the handler
// never panics on malformed arguments.
func (s *Service) BusHandler() messaging.Handler {
	table := s.methodTable()
	return func(ctx context.Context, caller, method string, args codec.RawMessage) (any, error) {
		entry, known := table[method]
		if !known {
			return nil, fmt.Errorf("auth: unknown method %q", method)
		}
		if entry.mutating && !s.callerMayModify(caller) {
			return nil, fmt.Errorf("%w: method %q requires %q",
				ErrUnauthorized, method, CapabilityAuthModifications)
		}
		return entry.handle(ctx, caller, args)
	}
}

// callerMayModify reports whether caller may invoke mutating methods.
// Platform identities (including the control connection) are trusted;
// everyone else must hold CapabilityAuthModifications.
func (s *Service) callerMayModify(caller string) bool {
	if policy.IsReserved(caller) {
		return true
	}
	capabilities, err := s.UserCapabilities(caller)
	if err != nil {
		return false
	}
	return containsString(capabilities, CapabilityAuthModifications)
}

func (s *Service) methodTable() map[string]rpcMethod {
	return map[string]rpcMethod{
		"auth_file.read": {handle: func(ctx context.Context, caller string, args codec.RawMessage) (any, error) {
			return s.store.Read(), nil
		}},

		"auth_file.find_by_credentials": {handle: func(ctx context.Context, caller string, args codec.RawMessage) (any, error) {
			var request struct {
				Credentials string `cbor:"credentials"`
			}
			if err := codec.Unmarshal(args, &request); err != nil {
				return nil, err
			}
			return s.store.FindByCredentials(request.Credentials), nil
		}},

		"auth_file.add": {mutating: true, handle: func(ctx context.Context, caller string, args codec.RawMessage) (any, error) {
			var request struct {
				Entry     policy.Entry `cbor:"entry"`
				Overwrite bool         `cbor:"overwrite"`
			}
			if err := codec.Unmarshal(args, &request); err != nil {
				return nil, err
			}
			if err := s.store.Add(request.Entry, request.Overwrite, true); err != nil {
				return nil, err
			}
			return nil, s.refreshSnapshot()
		}},

		"auth_file.update_by_index": {mutating: true, handle: func(ctx context.Context, caller string, args codec.RawMessage) (any, error) {
			var request struct {
				Entry policy.Entry `cbor:"entry"`
				Index int          `cbor:"index"`
			}
			if err := codec.Unmarshal(args, &request); err != nil {
				return nil, err
			}
			if err := s.store.UpdateByIndex(request.Entry, request.Index, true); err != nil {
				return nil, err
			}
			return nil, s.refreshSnapshot()
		}},

		"auth_file.remove_by_credentials": {mutating: true, handle: func(ctx context.Context, caller string, args codec.RawMessage) (any, error) {
			var request struct {
				Credentials string `cbor:"credentials"`
			}
			if err := codec.Unmarshal(args, &request); err != nil {
				return nil, err
			}
			if err := s.store.RemoveByCredentials(request.Credentials, true); err != nil {
				return nil, err
			}
			return nil, s.refreshSnapshot()
		}},

		"auth_file.remove_by_index": {mutating: true, handle: func(ctx context.Context, caller string, args codec.RawMessage) (any, error) {
			var request struct {
				Index int `cbor:"index"`
			}
			if err := codec.Unmarshal(args, &request); err != nil {
				return nil, err
			}
			if err := s.store.RemoveByIndex(request.Index, true); err != nil {
				return nil, err
			}
			return nil, s.refreshSnapshot()
		}},

		"auth_file.remove_by_indices": {mutating: true, handle: func(ctx context.Context, caller string, args codec.RawMessage) (any, error) {
			var request struct {
				Indices []int `cbor:"indices"`
			}
			if err := codec.Unmarshal(args, &request); err != nil {
				return nil, err
			}
			if err := s.store.RemoveByIndices(request.Indices, true); err != nil {
				return nil, err
			}
			return nil, s.refreshSnapshot()
		}},

		"auth_file.set_groups": {mutating: true, handle: func(ctx context.Context, caller string, args codec.RawMessage) (any, error) {
			var request struct {
				Groups map[string][]string `cbor:"groups"`
			}
			if err := codec.Unmarshal(args, &request); err != nil {
				return nil, err
			}
			return nil, s.store.SetGroups(request.Groups)
		}},

		"auth_file.set_roles": {mutating: true, handle: func(ctx context.Context, caller string, args codec.RawMessage) (any, error) {
			var request struct {
				Roles map[string][]string `cbor:"roles"`
			}
			if err := codec.Unmarshal(args, &request); err != nil {
				return nil, err
			}
			return nil, s.store.SetRoles(request.Roles)
		}},

		// Agents self-report their exported methods on startup. An
		// agent may always report for itself; reporting for another
		// identity requires the modification capability.
		"update_id_rpc_authorizations": {handle: func(ctx context.Context, caller string, args codec.RawMessage) (any, error) {
			var request struct {
				Identity string              `cbor:"id"`
				Methods  map[string][]string `cbor:"rpc_methods"`
			}
			if err := codec.Unmarshal(args, &request); err != nil {
				return nil, err
			}
			if request.Identity != caller && !s.callerMayModify(caller) {
				return nil, fmt.Errorf("%w: cannot report methods for %q",
					ErrUnauthorized, request.Identity)
			}
			return s.UpdateIDRPCAuthorizations(request.Identity, request.Methods)
		}},

		"add_rpc_authorizations": {mutating: true, handle: func(ctx context.Context, caller string, args codec.RawMessage) (any, error) {
			var request struct {
				Identity     string   `cbor:"id"`
				Method       string   `cbor:"method"`
				Capabilities []string `cbor:"capabilities"`
			}
			if err := codec.Unmarshal(args, &request); err != nil {
				return nil, err
			}
			return nil, s.AddMethodCapabilities(request.Identity, request.Method, request.Capabilities)
		}},

		"delete_rpc_authorizations": {mutating: true, handle: func(ctx context.Context, caller string, args codec.RawMessage) (any, error) {
			var request struct {
				Identity     string   `cbor:"id"`
				Method       string   `cbor:"method"`
				Capabilities []string `cbor:"capabilities"`
			}
			if err := codec.Unmarshal(args, &request); err != nil {
				return nil, err
			}
			return nil, s.RemoveMethodCapabilities(request.Identity, request.Method, request.Capabilities)
		}},

		"get_user_to_capabilities": {handle: func(ctx context.Context, caller string, args codec.RawMessage) (any, error) {
			return s.UserToCapabilities(), nil
		}},

		"get_authorizations": {handle: s.userQuery(func(userID string) (any, error) {
			return s.UserAuthorizations(userID)
		})},

		"get_capabilities": {handle: s.userQuery(func(userID string) (any, error) {
			return s.UserCapabilities(userID)
		})},

		"get_groups": {handle: s.userQuery(func(userID string) (any, error) {
			return s.UserGroups(userID)
		})},

		"get_roles": {handle: s.userQuery(func(userID string) (any, error) {
			return s.UserRoles(userID)
		})},

		"approve_authorization_failure": {mutating: true, handle: s.userQuery(func(userID string) (any, error) {
			return nil, s.Approve(userID)
		})},

		"deny_authorization_failure": {mutating: true, handle: s.userQuery(func(userID string) (any, error) {
			return nil, s.Deny(userID)
		})},

		"delete_authorization_failure": {mutating: true, handle: s.userQuery(func(userID string) (any, error) {
			return nil, s.Delete(userID)
		})},

		"get_authorization_pending": {handle: func(ctx context.Context, caller string, args codec.RawMessage) (any, error) {
			return s.Pending(), nil
		}},

		"get_authorization_approved": {handle: func(ctx context.Context, caller string, args codec.RawMessage) (any, error) {
			return s.Approved(), nil
		}},

		"get_authorization_denied": {handle: func(ctx context.Context, caller string, args codec.RawMessage) (any, error) {
			return s.Denied(), nil
		}},
	}
}

// userQuery adapts a user-ID-keyed operation to the dispatch
// signature.
func (s *Service) userQuery(operation func(userID string) (any, error)) func(context.Context, string, codec.RawMessage) (any, error) {
	return func(ctx context.Context, caller string, args codec.RawMessage) (any, error) {
		var request struct {
			UserID string `cbor:"user_id"`
		}
		if err := codec.Unmarshal(args, &request); err != nil {
			return nil, err
		}
		if request.UserID == "" {
			return nil, fmt.Errorf("auth: missing required field: user_id")
		}
		return operation(request.UserID)
	}
}

// refreshSnapshot reinstalls the snapshot after a direct store
// mutation through the auth_file RPC surface.
func (s *Service) refreshSnapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installSnapshotLocked()
}
