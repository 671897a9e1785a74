// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package netstack

import (
	"errors"

	"net/netip"
)

// Transient stack conditions. The transport layer retries these within
// the caller's deadline; they never surface to consumers on their own.
var (
	// ErrNoBuffer indicates the stack is under allocation pressure and
	// could not accept the write. Retry after polling.
	ErrNoBuffer = errors.New("netstack: no buffer space")
)

// Hard stack conditions.
var (
	// ErrSocketTableFull indicates the stack's connection table is
	// exhausted. This is a resource limit, not a logic error: callers
	// surface it as memory exhaustion and retry at their own policy.
	ErrSocketTableFull = errors.New("netstack: socket table full")

	// ErrSocketClosed is returned by operations on a socket that has
	// been closed, aborted, or torn down by the stack.
	ErrSocketClosed = errors.New("netstack: socket closed")

	// ErrResolveFailed is reported for names the resolver cannot
	// answer.
	ErrResolveFailed = errors.New("netstack: resolve failed")
)

// ResolveFunc completes an asynchronous name resolution. A failed
// lookup delivers a zero Addr and a non-nil error.
type ResolveFunc func(addr netip.Addr, err error)

// ConnectedFunc completes an asynchronous connect. A non-nil error
// means the connect failed and the socket is no longer usable.
type ConnectedFunc func(err error)

// ReceiveFunc delivers inbound bytes. The slice is only valid for the
// duration of the call; the receiver must copy what it keeps. A nil
// slice signals an orderly close by the peer.
type ReceiveFunc func(data []byte)

// SentFunc reports bytes acknowledged by the peer.
type SentFunc func(n int)

// ErrorFunc reports an asynchronous socket failure. By the time it
// fires the stack has already released the socket: the handle must not
// be used again, not even to close it.
type ErrorFunc func(err error)

// AcceptFunc delivers an inbound connection on a listener. The socket
// arrives with no callbacks registered; the acceptor must register its
// own before the next Poll.
type AcceptFunc func(s Socket)

// Stack is the event-driven network stack. All callbacks fire
// synchronously from inside Poll; nothing progresses between Poll
// calls. See the package documentation for the full cooperative
// contract.
type Stack interface {
	// Resolve starts a name lookup. A cache hit returns the address
	// immediately with cached=true and done is never called. Otherwise
	// done fires from a later Poll. An immediate error means the query
	// could not even be issued.
	Resolve(host string, done ResolveFunc) (addr netip.Addr, cached bool, err error)

	// NewSocket allocates an outbound socket. Returns
	// ErrSocketTableFull when the stack's connection table is
	// exhausted.
	NewSocket() (Socket, error)

	// Listen binds a listening port and delivers inbound connections
	// through accept.
	Listen(port uint16, accept AcceptFunc) (Listener, error)

	// Poll services pending stack events, firing callbacks
	// synchronously. Every blocking-style wait loop must call this
	// repeatedly; a stack that is not polled makes no progress.
	Poll()
}

// Socket is one stack-owned connection endpoint. The handle is
// borrowed: after the error callback fires, or after Close/Abort, it
// must not be touched.
type Socket interface {
	// Bind binds the local port. Port 0 selects an ephemeral port.
	Bind(port uint16) error

	// Connect starts an asynchronous connect; done fires from a later
	// Poll. An immediate error means the connect could not be issued.
	Connect(addr netip.Addr, port uint16, done ConnectedFunc) error

	// OnReceive, OnSent, and OnError register event callbacks.
	OnReceive(fn ReceiveFunc)
	OnSent(fn SentFunc)
	OnError(fn ErrorFunc)

	// ClearCallbacks unregisters all callbacks. Call before Close so
	// a late event cannot fire into a half-torn-down owner.
	ClearCallbacks()

	// SendHeadroom reports how many bytes Write can currently accept.
	SendHeadroom() int

	// Write enqueues bytes up to the current headroom. Returns
	// ErrNoBuffer under transient allocation pressure.
	Write(p []byte) error

	// Flush pushes enqueued bytes to the wire.
	Flush() error

	// Close shuts the connection down gracefully.
	Close() error

	// Abort tears the connection down without the closing handshake.
	// Used when the connection never fully established or is in an
	// unrecoverable state.
	Abort()

	// RemoteAddr returns the connected peer, or the zero AddrPort
	// before the connect completes.
	RemoteAddr() netip.AddrPort
}

// Listener is a bound listening port.
type Listener interface {
	// Port returns the bound port.
	Port() uint16

	// Close stops accepting connections.
	Close() error
}
