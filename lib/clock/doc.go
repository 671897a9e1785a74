// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for the
// cooperative polling model.
//
// The transport wait loops are "poll the stack, check the condition,
// sleep briefly, check the deadline, repeat". Injecting a Clock lets
// tests run those loops to deadline expiry instantly: Fake()'s Sleep
// advances the fake time instead of blocking, so a 2-second timeout
// scenario completes in microseconds and is exactly reproducible.
//
// Production code injects Real().
package clock
