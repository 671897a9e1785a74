// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "errors"

// Would-block conditions for Engine and EngineTransport steps. These
// are transient: the caller polls the stack and retries within its
// deadline.
var (
	// ErrWantRead means the step needs more inbound bytes before it
	// can make progress.
	ErrWantRead = errors.New("transport: want read")
	// ErrWantWrite means the step could not move outbound bytes and
	// should be retried once the transport drains.
	ErrWantWrite = errors.New("transport: want write")
)

// Engine is a synchronous cryptographic engine that expects a classic
// byte-stream read/write interface underneath it. The secure
// connection constructs neither the engine nor its configuration; it
// binds the engine to its transport adapter at handshake start and
// then drives it in steps.
//
// Every step either succeeds (nil error, or a byte count), reports a
// would-block condition (ErrWantRead / ErrWantWrite) that the caller
// retries after polling the stack, or fails hard. A clean closure by
// the peer is io.EOF from Read.
type Engine interface {
	// Bind attaches the transport the engine moves its protocol bytes
	// through. Must be called before Handshake.
	Bind(t EngineTransport)

	// Handshake advances the negotiation by one step. Returns nil once
	// the secure channel is established.
	Handshake() error

	// Write encrypts and forwards up to len(p) bytes, returning how
	// many were consumed. A short count with a nil error is progress;
	// the caller retries the remainder.
	Write(p []byte) (int, error)

	// Read returns decrypted application bytes. io.EOF signals a clean
	// closure by the peer.
	Read(p []byte) (int, error)

	// CloseNotify sends the engine's graceful-closure notification.
	// Best-effort: callers ignore its error during teardown.
	CloseNotify() error

	// Abandon releases an in-flight handshake the caller has given up
	// on, freeing whatever internal resources the negotiation holds.
	// A no-op before Bind or after the handshake completes; the engine
	// stays unusable until it is rebound.
	Abandon()

	// VerifyError reports the peer verification outcome of the most
	// recent handshake attempt: nil when verification passed (or has
	// not run), otherwise a diagnostic error naming what failed
	// (expired, untrusted, name mismatch, peer rejected our
	// certificate).
	VerifyError() error
}

// EngineTransport is the adapter pair the secure connection hands to
// the engine: the engine's window onto the raw byte stream.
//
// Write clamps to the socket's current send headroom and flushes,
// returning the bytes actually accepted; zero headroom is ErrWantWrite
// with nothing written, and a socket that is gone or closed is io.EOF.
// Read drains the receive ring; an empty ring is ErrWantRead, unless
// the peer has closed, which is io.EOF.
type EngineTransport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}
