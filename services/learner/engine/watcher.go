// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianLearn/services/learner/telemetry"
)

// sourceSuffix is the telemetry log file extension sources must carry.
const sourceSuffix = ".ndjson"

// SourceWatcher discovers telemetry source files appearing in a
// directory at runtime and registers them with the reader.
//
// Rotation of an existing source is handled by the reader's inode
// check, not here; the watcher only cares about brand-new files.
type SourceWatcher struct {
	dir    string
	reader *telemetry.Reader
	logger *slog.Logger
}

// NewSourceWatcher creates a watcher over one telemetry directory.
func NewSourceWatcher(dir string, reader *telemetry.Reader, logger *slog.Logger) *SourceWatcher {
	return &SourceWatcher{dir: dir, reader: reader, logger: logger}
}

// Run registers existing sources, then watches for new ones until ctx
// is cancelled.
func (w *SourceWatcher) Run(ctx context.Context) error {
	if err := w.scanExisting(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) && strings.HasSuffix(event.Name, sourceSuffix) {
				w.logger.Info("telemetry source discovered", slog.String("path", event.Name))
				w.reader.AddSource(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", slog.String("error", err.Error()))
		}
	}
}

// scanExisting registers sources already present at startup.
func (w *SourceWatcher) scanExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("scan telemetry dir %s: %w", w.dir, err)
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), sourceSuffix) {
			w.reader.AddSource(filepath.Join(w.dir, entry.Name()))
		}
	}
	return nil
}
