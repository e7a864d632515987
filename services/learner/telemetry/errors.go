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

import "errors"

// Sentinel errors for telemetry ingestion.
var (
	// ErrFileLocked is returned when another process holds the source lock.
	ErrFileLocked = errors.New("telemetry source is locked by another process")

	// ErrLockTimeout is returned when the lock could not be acquired within
	// the configured wait. The reader skips the source for this cycle.
	ErrLockTimeout = errors.New("timed out waiting for telemetry source lock")

	// ErrSourceMissing is returned when a configured source file does not exist.
	ErrSourceMissing = errors.New("telemetry source file does not exist")
)
