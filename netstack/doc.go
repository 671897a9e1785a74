// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

// Package netstack defines the event-driven network stack interface
// that the transport bridge is built on.
//
// The model is a single cooperative thread of control: no preemption,
// no separate network goroutine. [Stack.Poll] is the one entry point
// through which the stack makes progress, and every callback —
// resolution results, connect completion, received data, errors —
// fires synchronously from inside a Poll call. Callback execution
// interleaves with application code but never runs parallel to it,
// which is why the transport package needs no locks around its ring
// buffers and state machines. The flip side is that any code waiting
// for a network event must call Poll in a loop, re-checking its
// condition after every call, because a callback fired during that
// Poll may have changed it.
//
// [Socket] handles are borrowed from the stack, never owned. After the
// error callback fires the stack has already released the socket;
// holding code must null its reference before doing anything else.
// [Stack.NewSocket] can fail with [ErrSocketTableFull] when the
// stack's connection table is exhausted — a resource limit callers
// must treat as an allocation failure, not a logic error.
//
// Two implementations exist: [memnet] is a deterministic in-memory
// network used by tests and local development, and [hostnet] drives
// real non-blocking OS sockets from Poll for running the agent on a
// development host.
package netstack
