// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

// Package tlsengine backs the [transport.Engine] contract with
// [crypto/tls].
//
// The transport layer expects an engine it can drive in bounded
// steps, the way an embedded TLS library works: attempt the
// handshake, get told the engine wants more bytes, poll the stack,
// try again. crypto/tls instead runs its handshake to completion
// against a blocking [net.Conn]. [Engine] bridges the two with an
// in-memory pipe as the record layer's conn and a pump that moves
// ciphertext between that pipe and the bound transport one step at a
// time, so the connection's poll loop keeps ownership of all waiting.
package tlsengine
