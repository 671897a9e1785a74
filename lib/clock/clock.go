// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts time for the cooperative polling model. Production
// code injects Real(); tests inject Fake() with deterministic time
// control.
//
// Every function that checks a deadline or sleeps between poll calls
// should accept a Clock parameter (or be a method on a struct with a
// Clock field) instead of calling the time package directly. This is
// what makes the transport timeout scenarios testable without real
// wall-clock delays.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses for at least duration d. In the cooperative model
	// this is the brief yield between poll calls; on a fake clock it
	// simply advances time.
	Sleep(d time.Duration)

	// Since returns the time elapsed since t. Equivalent to
	// Now().Sub(t).
	Since(t time.Time) time.Duration
}
