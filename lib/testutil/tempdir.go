// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"testing"
)

// SocketDir creates a temporary directory suitable for Unix domain
// sockets. Unix domain sockets have a 108-byte path limit (sun_path in
// sockaddr_un); test runners can set TMPDIR to deeply nested paths
// that exceed it, making t.TempDir() unsuitable for socket files. This
// creates a short-named directory directly in /tmp.
//
// The directory is removed when the test completes.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "gridline-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}
