// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package policyfile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"

	"github.com/gridline-foundation/gridline/lib/policy"
)

// StoreError wraps a policy store I/O or validation failure. The
// coordinator logs these and leaves its in-memory state untouched.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("policy store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// storeErr wraps err as a StoreError for operation op.
func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// Data is the on-disk document.
type Data struct {
	// AllowList holds entries granting access.
	AllowList []policy.Entry `json:"allow_list"`

	// DenyList holds entries recording denied credentials. Deny
	// entries never participate in matching; they exist so denied
	// connection attempts stay visible and can later be flipped to
	// the allow list.
	DenyList []policy.Entry `json:"deny_list"`

	// Groups maps a group name to the roles it confers.
	Groups map[string][]string `json:"groups"`

	// Roles maps a role name to the capabilities it confers.
	Roles map[string][]string `json:"roles"`

	// Version is the document schema version.
	Version int `json:"version"`
}

// currentVersion is written to new and rewritten files.
const currentVersion = 1

// File is the policy store handle. All methods are safe for use from
// multiple goroutines; mutations persist to disk before returning.
type File struct {
	path   string
	logger *slog.Logger

	mu          sync.Mutex
	data        Data
	fingerprint [32]byte
}

// Open loads the policy file at path, creating an empty document if
// the file does not exist.
func Open(path string, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	file := &File{path: path, logger: logger}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		file.data = emptyData()
		if err := file.persistLocked(); err != nil {
			return nil, err
		}
		logger.Info("created policy file", "path", path)
		return file, nil
	}

	if err := file.Load(); err != nil {
		return nil, err
	}
	return file, nil
}

func emptyData() Data {
	return Data{
		Groups:  map[string][]string{},
		Roles:   map[string][]string{},
		Version: currentVersion,
	}
}

// Path returns the file path the store persists to.
func (f *File) Path() string { return f.path }

// Load re-reads the policy file from disk, replacing the in-memory
// document. Invalid entries fail the whole load; the previous document
// stays installed.
func (f *File) Load() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return storeErr("load", err)
	}

	data := emptyData()
	if len(raw) > 0 {
		if err := json.Unmarshal(jsonc.ToJSON(raw), &data); err != nil {
			return storeErr("load", fmt.Errorf("parsing %s: %w", f.path, err))
		}
	}
	if _, err := policy.CompileAll(data.AllowList); err != nil {
		return storeErr("load", fmt.Errorf("allow list: %w", err))
	}
	if _, err := policy.CompileAll(data.DenyList); err != nil {
		return storeErr("load", fmt.Errorf("deny list: %w", err))
	}
	if data.Groups == nil {
		data.Groups = map[string][]string{}
	}
	if data.Roles == nil {
		data.Roles = map[string][]string{}
	}

	f.mu.Lock()
	f.data = data
	f.fingerprint = blake3.Sum256(raw)
	f.mu.Unlock()
	return nil
}

// Fingerprint returns the BLAKE3 hash of the file bytes as of the last
// load or persist. Watchers compare fingerprints to skip reloads for
// no-op file events.
func (f *File) Fingerprint() [32]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fingerprint
}

// FingerprintPath hashes the file at path the same way Load does, so
// watchers can compare against Fingerprint before reloading.
func FingerprintPath(path string) ([32]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return [32]byte{}, storeErr("fingerprint", err)
	}
	return blake3.Sum256(raw), nil
}

// Read returns a deep copy of the current document.
func (f *File) Read() Data {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyData(f.data)
}

// ReadAllowEntries returns a copy of the allow list.
func (f *File) ReadAllowEntries() []policy.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyEntries(f.data.AllowList)
}

// ReadDenyEntries returns a copy of the deny list.
func (f *File) ReadDenyEntries() []policy.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyEntries(f.data.DenyList)
}

// FindByCredentials returns all allow entries whose credentials field
// equals credentials exactly.
func (f *File) FindByCredentials(credentials string) []policy.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matches []policy.Entry
	for _, entry := range f.data.AllowList {
		if entry.Credentials == credentials {
			matches = append(matches, copyEntry(entry))
		}
	}
	return matches
}

// Add appends an entry to the allow or deny list and persists. An
// entry with the same mechanism and credentials already in the target
// list is an error unless overwrite is set, in which case the existing
// entry is replaced in place.
func (f *File) Add(entry policy.Entry, overwrite bool, isAllow bool) error {
	if _, err := entry.Compile(); err != nil {
		return storeErr("add", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.listLocked(isAllow)
	for i, existing := range *list {
		if existing.Mechanism == entry.Mechanism && existing.Credentials == entry.Credentials {
			if !overwrite {
				return storeErr("add", fmt.Errorf(
					"entry with mechanism %q and credentials %q already exists",
					entry.Mechanism, entry.Credentials))
			}
			(*list)[i] = copyEntry(entry)
			return f.persistLocked()
		}
	}

	*list = append(*list, copyEntry(entry))
	return f.persistLocked()
}

// UpdateByIndex replaces the entry at index and persists.
func (f *File) UpdateByIndex(entry policy.Entry, index int, isAllow bool) error {
	if _, err := entry.Compile(); err != nil {
		return storeErr("update", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.listLocked(isAllow)
	if index < 0 || index >= len(*list) {
		return storeErr("update", fmt.Errorf("index %d out of range (list has %d entries)", index, len(*list)))
	}
	(*list)[index] = copyEntry(entry)
	return f.persistLocked()
}

// RemoveByCredentials removes every entry whose credentials field
// equals credentials exactly, and persists. Removing a credential that
// is not present is an error.
func (f *File) RemoveByCredentials(credentials string, isAllow bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.listLocked(isAllow)
	kept := (*list)[:0]
	removed := 0
	for _, entry := range *list {
		if entry.Credentials == credentials {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	if removed == 0 {
		return storeErr("remove", fmt.Errorf("no entry with credentials %q", credentials))
	}
	*list = kept
	return f.persistLocked()
}

// RemoveByIndex removes the entry at index and persists.
func (f *File) RemoveByIndex(index int, isAllow bool) error {
	return f.RemoveByIndices([]int{index}, isAllow)
}

// RemoveByIndices removes the entries at the given indices and
// persists. Indices are interpreted against the list before any
// removal.
func (f *File) RemoveByIndices(indices []int, isAllow bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.listLocked(isAllow)
	for _, index := range indices {
		if index < 0 || index >= len(*list) {
			return storeErr("remove", fmt.Errorf("index %d out of range (list has %d entries)", index, len(*list)))
		}
	}

	// Remove from highest to lowest so earlier removals do not shift
	// the remaining indices.
	sorted := append([]int(nil), indices...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	previous := -1
	for _, index := range sorted {
		if index == previous {
			continue
		}
		previous = index
		*list = append((*list)[:index], (*list)[index+1:]...)
	}
	return f.persistLocked()
}

// SetGroups replaces the group definitions and persists. Every role a
// group confers must be defined.
func (f *File) SetGroups(groups map[string][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for group, roles := range groups {
		for _, role := range roles {
			if _, defined := f.data.Roles[role]; !defined {
				return storeErr("set groups", fmt.Errorf("group %q references undefined role %q", group, role))
			}
		}
	}
	f.data.Groups = copyStringListMap(groups)
	return f.persistLocked()
}

// SetRoles replaces the role definitions and persists.
func (f *File) SetRoles(roles map[string][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.data.Roles = copyStringListMap(roles)
	return f.persistLocked()
}

// ApproveDenyCredential moves the entry for userID between the deny
// and allow lists: approved moves deny to allow, denied moves allow to
// deny. Persists on success; an unknown user ID is an error.
func (f *File) ApproveDenyCredential(userID string, approved bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	source := f.listLocked(!approved)
	target := f.listLocked(approved)

	for i, entry := range *source {
		if entry.UserID != userID {
			continue
		}
		*source = append((*source)[:i], (*source)[i+1:]...)
		*target = append(*target, entry)
		return f.persistLocked()
	}

	side := "deny"
	if !approved {
		side = "allow"
	}
	return storeErr("approve/deny", fmt.Errorf("no %s entry for user %q", side, userID))
}

// listLocked returns the allow or deny list. Callers hold f.mu.
func (f *File) listLocked(isAllow bool) *[]policy.Entry {
	if isAllow {
		return &f.data.AllowList
	}
	return &f.data.DenyList
}

// persistLocked writes the document atomically: temp file in the same
// directory, fsync, rename. Callers hold f.mu. Operator comments in
// the JSONC source are not preserved across a rewrite.
func (f *File) persistLocked() error {
	f.data.Version = currentVersion

	encoded, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return storeErr("persist", err)
	}
	encoded = append(encoded, '\n')

	directory := filepath.Dir(f.path)
	temp, err := os.CreateTemp(directory, ".policy-*")
	if err != nil {
		return storeErr("persist", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(encoded); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return storeErr("persist", err)
	}
	if err := temp.Sync(); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return storeErr("persist", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return storeErr("persist", err)
	}
	if err := os.Chmod(tempPath, 0o600); err != nil {
		os.Remove(tempPath)
		return storeErr("persist", err)
	}
	if err := os.Rename(tempPath, f.path); err != nil {
		os.Remove(tempPath)
		return storeErr("persist", err)
	}

	f.fingerprint = blake3.Sum256(encoded)
	return nil
}

func copyData(data Data) Data {
	return Data{
		AllowList: copyEntries(data.AllowList),
		DenyList:  copyEntries(data.DenyList),
		Groups:    copyStringListMap(data.Groups),
		Roles:     copyStringListMap(data.Roles),
		Version:   data.Version,
	}
}

func copyEntries(entries []policy.Entry) []policy.Entry {
	if entries == nil {
		return nil
	}
	copied := make([]policy.Entry, len(entries))
	for i, entry := range entries {
		copied[i] = copyEntry(entry)
	}
	return copied
}

func copyEntry(entry policy.Entry) policy.Entry {
	copied := entry
	copied.Capabilities = append([]string(nil), entry.Capabilities...)
	copied.Groups = append([]string(nil), entry.Groups...)
	copied.Roles = append([]string(nil), entry.Roles...)
	copied.RPCMethodAuthorizations = copyStringListMap(entry.RPCMethodAuthorizations)
	return copied
}

func copyStringListMap(m map[string][]string) map[string][]string {
	if m == nil {
		return nil
	}
	copied := make(map[string][]string, len(m))
	for key, values := range m {
		copied[key] = append([]string(nil), values...)
	}
	return copied
}
