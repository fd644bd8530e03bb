// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"log/slog"
	"os"
	"sync"

	"github.com/gridline-foundation/gridline/lib/clock"
	"github.com/gridline-foundation/gridline/lib/policy"
	"github.com/gridline-foundation/gridline/lib/policy/policyfile"
	"github.com/gridline-foundation/gridline/messaging"
)

// CSRManager is the certificate-issuance subsystem. Approving,
// denying, or deleting a pending credential triggers the matching
// certificate operation as a best-effort side effect: failures are
// logged, never propagated as the coordinator's own failure.
type CSRManager interface {
	// ApproveCSR approves the certificate signing request for userID
	// and provisions broker credentials.
	ApproveCSR(userID string) error

	// DenyCSR denies the certificate signing request for userID.
	DenyCSR(userID string) error

	// DeleteCSR removes the certificate signing request for userID.
	DeleteCSR(userID string) error
}

// AgentDirectory resolves locally running platform agents. It backs
// the NULL-loopback fallback in the authenticate chain: a local
// process that connects with its PID embedded in the address is
// trusted if the launcher knows the PID.
type AgentDirectory interface {
	// IdentityForPID returns the bus identity of the agent running as
	// the given OS process, or false if no known agent has that PID.
	IdentityForPID(pid int) (string, bool)
}

// Options configures a coordinator. Store is required; everything else
// has a working default or is optional.
type Options struct {
	// Store is the persistent policy store.
	Store *policyfile.File

	// Bus is the coordinator's connection to the message bus. Nil
	// means detached: reloads skip capability propagation entirely.
	Bus messaging.Bus

	// CSR is the certificate subsystem. Optional.
	CSR CSRManager

	// Agents resolves local agent PIDs. Optional; without it the
	// NULL-loopback agent fallback never fires.
	Agents AgentDirectory

	// AllowAny admits every unmatched credential with a synthetic
	// user ID instead of recording it as pending. Development only.
	AllowAny bool

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// ownUID overrides os.Getuid for tests.
	ownUID int
	hasUID bool
}

// Credential is one observed connection attempt. Pending credentials
// carry the retry count of duplicate observations; the approved and
// denied projections always carry zero.
type Credential struct {
	Domain      string `json:"domain" cbor:"domain"`
	Address     string `json:"address" cbor:"address"`
	Mechanism   string `json:"mechanism" cbor:"mechanism"`
	Credentials string `json:"credentials" cbor:"credentials"`
	UserID      string `json:"user_id" cbor:"user_id"`
	Retries     int    `json:"retries" cbor:"retries"`
}

// sameTuple reports whether two credentials describe the same
// connection 4-tuple. UserID and Retries do not participate.
func (c Credential) sameTuple(other Credential) bool {
	return c.Domain == other.Domain &&
		c.Address == other.Address &&
		c.Mechanism == other.Mechanism &&
		c.Credentials == other.Credentials
}

// Service is the authorization coordinator. One instance owns the
// in-memory policy snapshot, the pending admission queue, and the
// approved/denied projections; all mutation funnels through its
// methods.
type Service struct {
	store    *policyfile.File
	bus      messaging.Bus
	csr      CSRManager
	agents   AgentDirectory
	allowAny bool
	ownUID   int
	clock    clock.Clock
	logger   *slog.Logger

	mu sync.Mutex

	// entries is the enabled-entry snapshot in Sort order. Replaced
	// wholesale on reload; readers copy the slice header under mu and
	// iterate without the lock, so concurrent matches see either the
	// fully-old or fully-new snapshot.
	entries []*policy.CompiledEntry

	pending  []Credential
	approved []Credential
	denied   []Credential
}

// New creates a coordinator over the given policy store and installs
// the initial snapshot from its current contents.
func New(options Options) (*Service, error) {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	ownUID := os.Getuid()
	if options.hasUID {
		ownUID = options.ownUID
	}

	service := &Service{
		store:    options.Store,
		bus:      options.Bus,
		csr:      options.CSR,
		agents:   options.Agents,
		allowAny: options.AllowAny,
		ownUID:   ownUID,
		clock:    options.Clock,
		logger:   options.Logger,
	}

	service.mu.Lock()
	defer service.mu.Unlock()
	if err := service.installSnapshotLocked(); err != nil {
		return nil, err
	}
	return service, nil
}

// AttachBus sets the coordinator's bus connection after construction.
// The bus handler needs the coordinator, so the binary builds the
// coordinator first, connects it to the bus, and hands the connection
// back here before serving any traffic.
func (s *Service) AttachBus(bus messaging.Bus) {
	s.bus = bus
}

// installSnapshotLocked rebuilds the enabled-entry snapshot and the
// approved/denied projections from the store's current contents.
// Callers hold s.mu.
func (s *Service) installSnapshotLocked() error {
	allow := s.store.ReadAllowEntries()
	deny := s.store.ReadDenyEntries()

	enabled := make([]policy.Entry, 0, len(allow))
	for _, entry := range allow {
		if entry.Enabled {
			enabled = append(enabled, entry)
		}
	}
	compiled, err := policy.CompileAll(enabled)
	if err != nil {
		return err
	}
	policy.Sort(compiled)

	s.entries = compiled
	s.approved = projectCredentials(allow)
	s.denied = projectCredentials(deny)
	return nil
}

// projectCredentials builds the approved/denied projection from a
// stored entry list: only entries with a populated address appear.
func projectCredentials(entries []policy.Entry) []Credential {
	var credentials []Credential
	for _, entry := range entries {
		if entry.Address == "" {
			continue
		}
		credentials = append(credentials, Credential{
			Domain:      entry.Domain,
			Address:     entry.Address,
			Mechanism:   entry.Mechanism,
			Credentials: entry.Credentials,
			UserID:      entry.UserID,
		})
	}
	return credentials
}

// snapshot returns the current enabled-entry snapshot.
func (s *Service) snapshot() []*policy.CompiledEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries
}

// Authenticate resolves a connection attempt to a user identity.
//
// The resolution order is: first matching enabled policy entry; then,
// for unmatched attempts, a chain of local-trust fallbacks (a NULL
// loopback connection whose embedded PID names a known local agent, a
// loopback connection owned by the coordinator's own OS user, the
// global allow-any flag). An attempt that exhausts the chain is
// unauthenticated: it is recorded in the pending admission queue and
// Authenticate returns ok=false.
func (s *Service) Authenticate(domain, address, mechanism string, credentials []string) (string, bool) {
	primary := ""
	if len(credentials) > 0 {
		primary = credentials[0]
	}

	if entry := policy.Find(s.snapshot(), domain, address, mechanism, credentials); entry != nil {
		if entry.UserID != "" {
			return entry.UserID, true
		}
		return policy.EncodeUserID(domain, address, mechanism, primary), true
	}

	loopback, isLoopback := policy.ParseLoopback(address)

	if mechanism == policy.MechanismNull && isLoopback && loopback.HasPID && s.agents != nil {
		if identity, found := s.agents.IdentityForPID(loopback.PID); found {
			s.logger.Debug("authenticated local agent by pid",
				"pid", loopback.PID, "identity", identity)
			return policy.EncodeUserID(domain, address, policy.MechanismAgent, identity), true
		}
	}

	if isLoopback && loopback.UID == s.ownUID {
		return policy.EncodeUserID(domain, address, mechanism, primary), true
	}

	if s.allowAny {
		s.logger.Warn("allow_any set, admitting unmatched credential",
			"domain", domain, "address", address, "mechanism", mechanism)
		return policy.EncodeUserID(domain, address, mechanism, primary), true
	}

	s.recordPending(Credential{
		Domain:      domain,
		Address:     address,
		Mechanism:   mechanism,
		Credentials: primary,
		UserID:      policy.EncodeUserID(domain, address, mechanism, primary),
	})
	return "", false
}
