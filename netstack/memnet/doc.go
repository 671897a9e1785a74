// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

// Package memnet is a deterministic in-memory [netstack.Stack].
//
// Every asynchronous outcome — resolver answers, connect completions,
// data deliveries, peer closes, injected errors — is an event on the
// injected clock, fired synchronously from Poll. Combined with a fake
// clock this makes timing behavior exactly reproducible: a test can
// script "the connect callback fires at 50ms" or "the resolver never
// answers" and assert on the transport's deadline handling without
// real wall-clock delays.
//
// [Network] is the stack; its Set* and Add* methods script delays,
// segment-size-limited delivery, send-window backpressure, a bounded
// socket table, resolver cache hits, and black holes. Tests that need
// to misbehave at the socket level can type-assert an accepted
// [netstack.Socket] to *[Socket] for InjectError.
//
// memnet backs the transport package's test harness and local
// development of everything above it.
package memnet
