// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import "errors"

// Sentinel errors for pattern extraction.
var (
	// ErrNotQualified is returned when an event does not pass the
	// qualification filter. Not a failure; the event is simply skipped.
	ErrNotQualified = errors.New("event does not qualify for extraction")

	// ErrMalformedOutput is returned when the completion service returns
	// output that cannot be parsed into steps.
	ErrMalformedOutput = errors.New("completion output is malformed")

	// ErrNoQuery is returned when the event carries no query text to
	// extract a pattern from.
	ErrNoQuery = errors.New("event has no query text")
)
