// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"io"
	"time"

	"github.com/piconode/piconode/netstack"
)

// SecureConn is a TLS-secured connection over the event-driven stack.
// It shares the resolution and connect phases with Conn but owns an
// independent socket and receive ring — the engine must see the raw
// byte stream from the moment the connection opens, not pre-framed
// application bytes — and adds a handshake phase before data may flow.
//
// The engine is caller-constructed and caller-owned: SecureConn binds
// its adapter pair into the engine at handshake start and drives the
// engine in steps, but never allocates or frees it.
type SecureConn struct {
	core
	engine        Engine
	handshakeDone bool
}

// NewSecureConn creates an unconnected SecureConn around the given
// engine. cfg.Stack and engine are required.
func NewSecureConn(cfg Config, engine Engine) (*SecureConn, error) {
	if engine == nil {
		return nil, newError("init", CodeInvalidParam, nil)
	}
	c, err := newCore(cfg)
	if err != nil {
		return nil, err
	}
	return &SecureConn{core: c, engine: engine}, nil
}

// Connect runs the shared resolve and connect phases, binds the
// adapter pair into the engine, and drives the handshake to completion
// within the deadline. Verification failures (expired, untrusted, or
// mismatched peer certificate; peer rejection of ours) surface as
// handshake failures carrying the verification diagnostic, distinct
// from plain transport failures.
func (c *SecureConn) Connect(host string, port uint16, timeout time.Duration) error {
	if host == "" || port == 0 || timeout <= 0 {
		return newError("connect", CodeInvalidParam, nil)
	}
	switch c.state {
	case StateIdle, StateClosed, StateError:
	default:
		return newError("connect", CodeInvalidParam, nil)
	}
	c.handshakeDone = false
	deadline := c.clock.Now().Add(timeout)
	if err := c.dial("connect", host, port, deadline); err != nil {
		return err
	}

	c.state = StateHandshaking
	c.engine.Bind(&engineTransport{c: c})

	for {
		c.stack.Poll()
		err := c.engine.Handshake()
		if err == nil {
			break
		}
		if errors.Is(err, ErrWantRead) || errors.Is(err, ErrWantWrite) {
			if c.state == StateError {
				// The socket died under the handshake: a transport
				// failure, not a handshake failure.
				c.engine.Abandon()
				return c.lastErr
			}
			if !c.clock.Now().Before(deadline) {
				c.logger.Debug("handshake timed out", "remote", c.remote)
				c.engine.Abandon()
				return c.fail("handshake", CodeTimeout, nil)
			}
			c.clock.Sleep(c.pollInterval)
			continue
		}
		if verr := c.engine.VerifyError(); verr != nil {
			c.logger.Warn("peer verification failed", "remote", c.remote, "error", verr)
			return c.fail("handshake", CodeHandshake, verr)
		}
		return c.fail("handshake", CodeHandshake, err)
	}

	c.state = StateReady
	c.handshakeDone = true
	c.logger.Debug("secure channel established", "remote", c.remote, "port", port)
	return nil
}

// Send writes p through the engine's write step, advancing on partial
// progress and retrying would-block conditions within the deadline.
func (c *SecureConn) Send(p []byte, timeout time.Duration) (int, error) {
	if len(p) == 0 || timeout <= 0 {
		return 0, newError("send", CodeInvalidParam, nil)
	}
	if c.state != StateReady {
		return 0, newError("send", CodeInvalidParam, nil)
	}
	deadline := c.clock.Now().Add(timeout)
	sent := 0
	for sent < len(p) {
		n, err := c.engine.Write(p[sent:])
		sent += n
		if err == nil {
			continue
		}
		if errors.Is(err, ErrWantRead) || errors.Is(err, ErrWantWrite) {
			if !c.clock.Now().Before(deadline) {
				return sent, newError("send", CodeTimeout, nil)
			}
			c.stack.Poll()
			c.clock.Sleep(c.pollInterval)
			continue
		}
		c.logger.Warn("engine write failed", "error", err)
		return sent, c.fail("send", CodeSend, err)
	}
	return sent, nil
}

// Receive reads decrypted bytes through the engine's read step. A
// positive count returns immediately; would-block polls and retries
// until the deadline, which surfaces as a timeout — unlike the plain
// variant, zero is reserved for a clean closure by the peer, which
// returns (0, nil).
func (c *SecureConn) Receive(p []byte, timeout time.Duration) (int, error) {
	if len(p) == 0 || timeout <= 0 {
		return 0, newError("receive", CodeInvalidParam, nil)
	}
	if c.state != StateReady {
		return 0, newError("receive", CodeInvalidParam, nil)
	}
	deadline := c.clock.Now().Add(timeout)
	for {
		n, err := c.engine.Read(p)
		if n > 0 {
			return n, nil
		}
		switch {
		case err == nil:
			// Zero bytes with no error: treat like would-block and
			// keep polling.
		case errors.Is(err, io.EOF):
			c.peerClosed = true
			return 0, nil
		case errors.Is(err, ErrWantRead) || errors.Is(err, ErrWantWrite):
		default:
			c.logger.Warn("engine read failed", "error", err)
			return 0, c.fail("receive", CodeReceive, err)
		}
		if !c.clock.Now().Before(deadline) {
			return 0, newError("receive", CodeTimeout, nil)
		}
		c.stack.Poll()
		c.clock.Sleep(c.pollInterval)
	}
}

// Close sends the engine's graceful-closure notification if the
// handshake completed (best-effort, errors ignored), then tears the
// socket down with callbacks unregistered first.
func (c *SecureConn) Close() {
	if c.handshakeDone && c.sock != nil {
		if err := c.engine.CloseNotify(); err == nil {
			c.sock.Flush()
			// Give the notification one poll to reach the wire.
			c.stack.Poll()
		}
	}
	c.closeSocket()
	c.logger.Debug("secure connection closed",
		"bytes_received", c.bytesReceived,
		"bytes_acked", c.bytesAcked)
}

// State returns the connection's lifecycle state.
func (c *SecureConn) State() State { return c.state }

// LastError returns the most recent surfaced failure, or nil.
func (c *SecureConn) LastError() error {
	if c.lastErr == nil {
		return nil
	}
	return c.lastErr
}

// BytesReceived returns raw bytes accepted into the receive ring since
// the last Connect.
func (c *SecureConn) BytesReceived() uint64 { return c.bytesReceived }

// BytesAcked returns raw bytes the peer has acknowledged since the
// last Connect.
func (c *SecureConn) BytesAcked() uint64 { return c.bytesAcked }

// engineTransport is the adapter pair bound into the engine at
// handshake start: the engine's only path to the wire.
type engineTransport struct {
	c *SecureConn
}

// Write clamps to the socket's current send headroom and flushes,
// returning the bytes actually accepted; the engine retries any
// remainder. Zero headroom reports would-block without writing, and a
// socket that is gone or closed reports end-of-stream.
func (t *engineTransport) Write(p []byte) (int, error) {
	c := t.c
	if c.sock == nil || c.peerClosed {
		return 0, io.EOF
	}
	headroom := c.sock.SendHeadroom()
	if headroom == 0 {
		return 0, ErrWantWrite
	}
	n := len(p)
	if n > headroom {
		n = headroom
	}
	if err := c.sock.Write(p[:n]); err != nil {
		if err == netstack.ErrNoBuffer {
			return 0, ErrWantWrite
		}
		return 0, err
	}
	if err := c.sock.Flush(); err != nil {
		return 0, err
	}
	return n, nil
}

// Read drains the receive ring. An empty ring reports would-block
// unless the peer has closed, which reports end-of-stream.
func (t *engineTransport) Read(p []byte) (int, error) {
	c := t.c
	if c.ring.Available() == 0 {
		if c.peerClosed {
			return 0, io.EOF
		}
		return 0, ErrWantRead
	}
	return c.ring.Drain(p), nil
}
