// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long WatchFewShot waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// WatchFewShot re-ingests the examples file whenever it changes.
//
// # Description
//
// The parent directory is watched, so editors that replace the file on
// save are seen too. Bursts of events are collapsed into one ingestion
// after debounce of quiet. Ingestion failures are logged and watching
// continues.
//
// # Inputs
//
//   - ctx: Watching stops when ctx is done.
//   - path: The few-shot CSV.
//   - debounce: Quiet period; <= 0 means DefaultDebounce.
//   - onIngest: Optional, called with each ingestion's count and error.
//
// # Outputs
//
//   - error: Watcher setup failure, or nil once ctx is done.
func (i *Ingester) WatchFewShot(ctx context.Context, path string, debounce time.Duration, onIngest func(int, error)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	slog.InfoContext(ctx, "Watching few-shot examples", "path", abs)

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "File watcher error", "error", err)
		case <-timer.C:
			n, err := i.IngestFewShot(ctx, abs)
			if err != nil {
				slog.ErrorContext(ctx, "Few-shot re-ingestion failed", "error", err)
			} else {
				slog.InfoContext(ctx, "Re-ingested few-shot examples", "count", n)
			}
			if onIngest != nil {
				onIngest(n, err)
			}
		}
	}
}
