// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"os"
	"time"
)

// FileLocker abstracts platform-specific file locking operations.
//
// # Description
//
// Provides a unified interface for file locking across Unix and Windows.
// Unix uses syscall.Flock, Windows uses LockFileEx.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use on different files.
// Locking the same file from multiple goroutines is undefined behavior.
type FileLocker interface {
	// Lock acquires an exclusive, non-blocking lock on the file.
	// Returns ErrFileLocked if another process already holds it.
	Lock(f *os.File) error

	// Unlock releases a previously acquired lock.
	// Safe to call even if not locked.
	Unlock(f *os.File) error
}

// lockWithWait retries a non-blocking lock until it succeeds, the wait
// budget is exhausted, or the context is cancelled.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - locker: Platform locker.
//   - f: Open file handle to lock.
//   - wait: Total wait budget. Zero or negative means one attempt only.
//
// Outputs:
//   - error: nil on success, ErrLockTimeout if the budget ran out,
//     ctx.Err() on cancellation.
func lockWithWait(ctx context.Context, locker FileLocker, f *os.File, wait time.Duration) error {
	const pollInterval = 100 * time.Millisecond

	deadline := time.Now().Add(wait)
	for {
		err := locker.Lock(f)
		if err == nil {
			return nil
		}
		if err != ErrFileLocked {
			return err
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// newFileLocker creates a platform-appropriate FileLocker.
func newFileLocker() FileLocker {
	return newPlatformLocker()
}
