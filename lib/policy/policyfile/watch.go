// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package policyfile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gridline-foundation/gridline/lib/clock"
)

// Watch observes the policy file at path and invokes onChange after
// write, create, or rename events, debounced by the given interval so
// an editor save (often several events in quick succession) triggers a
// single reload. Blocks until ctx is cancelled.
//
// The watch is installed on the file's directory rather than the file
// itself: editors and the store's own atomic persist replace the file
// by rename, which would silently detach a direct file watch.
func Watch(ctx context.Context, path string, debounce time.Duration, clk clock.Clock, logger *slog.Logger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating policy file watcher: %w", err)
	}
	defer watcher.Close()

	directory := filepath.Dir(path)
	if err := watcher.Add(directory); err != nil {
		return fmt.Errorf("watching %s: %w", directory, err)
	}
	target := filepath.Clean(path)
	logger.Info("watching policy file", "path", target)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Start (or restart) the debounce window.
			pending = clk.After(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("policy file watch error", "error", err)

		case <-pending:
			pending = nil
			onChange()
		}
	}
}
