// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

// Package policyfile is the persistent store for Gridline authorization
// policy: an operator-edited JSONC file holding the allow list, deny
// list, group definitions, and role definitions.
//
// The file is parsed as JSONC on read (comments and trailing commas
// allowed), and written back as plain indented JSON. Every mutation
// persists immediately via an atomic write (temp file, fsync, rename),
// so readers never observe a partial file. A BLAKE3 fingerprint of the
// raw file bytes lets the reload pipeline skip no-op change
// notifications.
//
// [Watch] runs an fsnotify watcher over the file and invokes a reload
// callback after a debounce interval, covering editors that replace
// the file by rename.
package policyfile
