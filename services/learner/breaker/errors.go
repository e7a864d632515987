// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package breaker

import "errors"

// ErrCircuitOpen is returned when a call is rejected because the circuit
// is open. Callers must take their fallback path (e.g. local spill), not
// retry in a tight loop; recovery is probed by the breaker itself.
var ErrCircuitOpen = errors.New("circuit breaker is open")
