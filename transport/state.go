// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package transport

// State is a connection's position in its lifecycle. A connection
// starts at StateIdle, advances through the resolution and connect
// phases, and is terminal at StateClosed or StateError. Only
// StateConnected (plain) and StateReady (secure) permit data transfer.
type State int

const (
	// StateIdle is a freshly created or reset connection.
	StateIdle State = iota
	// StateResolving means an asynchronous name resolution is pending.
	StateResolving
	// StateResolved means the remote address is known.
	StateResolved
	// StateConnecting means an asynchronous connect is pending.
	StateConnecting
	// StateConnected means the transport connection is established.
	// For a plain connection this is the data-transfer state; a secure
	// connection continues into the handshake.
	StateConnected
	// StateHandshaking means the cryptographic handshake is in
	// progress. Secure connections only.
	StateHandshaking
	// StateReady means the secure channel is established and
	// application data may flow. Secure connections only.
	StateReady
	// StateClosed is the terminal state after Close.
	StateClosed
	// StateError is the terminal state after a surfaced failure. The
	// socket reference has been released.
	StateError
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateResolved:
		return "resolved"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
