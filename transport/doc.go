// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport bridges the event-driven network stack to a
// blocking-style connection API.
//
// The stack underneath ([netstack.Stack]) delivers data and connection
// events through callbacks fired from its poll entry point; protocol
// code above wants a sequential request/response surface. The bridge
// between them is a state machine per connection plus a fixed-size
// [Ring] decoupling the asynchronous receive callback from the
// synchronous consumer. Every blocking-style operation is really
// "poll the stack, check the condition, sleep briefly, check the
// deadline, repeat" — cooperative waiting, not OS blocking. Deadlines
// are checked between polls, so observed latency can exceed a deadline
// by one poll interval.
//
// [Conn] is the plain variant: resolve, connect, move bytes.
// [SecureConn] layers a caller-constructed cryptographic [Engine] on
// the same scaffolding: after the transport connects, the bridge binds
// an [EngineTransport] adapter pair into the engine — a classic
// synchronous read/write surface whose reads drain the ring and whose
// writes clamp to the socket's send headroom — and drives the
// handshake, write, and read steps in would-block-aware loops. The two
// variants share one dial core; only the steps that run on an
// established connection differ.
//
// Failures carry a typed [*Error] with a [Code] from a fixed taxonomy.
// Transient stack conditions are absorbed into the caller's deadline
// and never surface alone; hard failures end the operation, move the
// connection to [StateError], and release the socket reference
// immediately — the stack may already have freed it. Retry policy
// belongs to the caller; the bridge never retries a failed connect or
// handshake.
//
// Connections are created per request cycle and never pooled. Multiple
// connections may be in flight in different phases, bounded by the
// stack's connection table, which surfaces here as [CodeMemory].
package transport
