// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gridline-foundation/gridline/auth"
	"github.com/gridline-foundation/gridline/lib/codec"
	"github.com/gridline-foundation/gridline/lib/policy/policyfile"
	"github.com/gridline-foundation/gridline/lib/service"
	"github.com/gridline-foundation/gridline/lib/version"
)

// statusReply is the response to the "status" action.
type statusReply struct {
	Version  string `cbor:"version"`
	Policy   string `cbor:"policy_file"`
	Entries  int    `cbor:"entries"`
	Pending  int    `cbor:"pending"`
	Approved int    `cbor:"approved"`
	Denied   int    `cbor:"denied"`
}

// authenticateRequest carries a credential tuple from the router.
type authenticateRequest struct {
	Domain      string   `cbor:"domain"`
	Address     string   `cbor:"address"`
	Mechanism   string   `cbor:"mechanism"`
	Credentials []string `cbor:"credentials"`
}

// authenticateReply reports the matched user ID, if any.
type authenticateReply struct {
	UserID        string `cbor:"user_id,omitempty"`
	Authenticated bool   `cbor:"authenticated"`
}

// userIDRequest names a pending or recorded credential by user ID.
type userIDRequest struct {
	UserID string `cbor:"user_id"`
}

// registerActions wires the coordinator's administrative surface onto
// the Unix socket. Mutating actions require the caller to be root or
// the user the service runs as; the kernel-reported UID decides, not
// the declared identity.
func registerActions(server *service.SocketServer, coordinator *auth.Service, store *policyfile.File, logger *slog.Logger) {
	ownUID := os.Getuid()

	requireLocalAdmin := func(caller service.Caller) error {
		if caller.UID == 0 || caller.UID == ownUID {
			return nil
		}
		return fmt.Errorf("caller uid %d may not modify the policy", caller.UID)
	}

	server.Handle("status", func(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
		data := store.Read()
		return statusReply{
			Version:  version.Info(),
			Policy:   store.Path(),
			Entries:  len(data.AllowList) + len(data.DenyList),
			Pending:  len(coordinator.Pending()),
			Approved: len(coordinator.Approved()),
			Denied:   len(coordinator.Denied()),
		}, nil
	})

	server.Handle("reload", func(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
		if err := requireLocalAdmin(caller); err != nil {
			return nil, err
		}
		logger.Info("reload requested over socket",
			"identity", caller.Identity,
			"uid", caller.UID,
		)
		if err := coordinator.Reload(ctx); err != nil {
			return nil, err
		}
		return map[string]bool{"reloaded": true}, nil
	})

	server.Handle("authenticate", func(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
		var request authenticateRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("decoding authenticate request: %w", err)
		}
		userID, ok := coordinator.Authenticate(request.Domain, request.Address, request.Mechanism, request.Credentials)
		return authenticateReply{UserID: userID, Authenticated: ok}, nil
	})

	server.Handle("pending", func(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
		return coordinator.Pending(), nil
	})
	server.Handle("approved", func(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
		return coordinator.Approved(), nil
	})
	server.Handle("denied", func(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
		return coordinator.Denied(), nil
	})

	handleDecision := func(name string, decide func(string) error) {
		server.Handle(name, func(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
			if err := requireLocalAdmin(caller); err != nil {
				return nil, err
			}
			var request userIDRequest
			if err := codec.Unmarshal(raw, &request); err != nil {
				return nil, fmt.Errorf("decoding %s request: %w", name, err)
			}
			if request.UserID == "" {
				return nil, fmt.Errorf("%s requires a user_id", name)
			}
			logger.Info("credential decision over socket",
				"action", name,
				"user_id", request.UserID,
				"identity", caller.Identity,
				"uid", caller.UID,
			)
			if err := decide(request.UserID); err != nil {
				return nil, err
			}
			return map[string]string{"user_id": request.UserID}, nil
		})
	}
	handleDecision("approve", coordinator.Approve)
	handleDecision("deny", coordinator.Deny)
	handleDecision("delete", coordinator.Delete)

	server.Handle("policy.read", func(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
		return store.Read(), nil
	})
}
