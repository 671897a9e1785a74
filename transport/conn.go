// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "time"

// Conn is a plain TCP connection over the event-driven stack, exposing
// a blocking-style connect/send/receive/close surface. Each blocking
// call drives the stack's poll entry point in a deadline-bounded loop;
// nothing blocks at the OS level.
//
// A Conn is created per request cycle — connect, send, receive, close
// — and never pooled. It exclusively owns its receive ring and,
// between Connect and Close, the one stack socket behind it.
type Conn struct {
	core
}

// NewConn creates an unconnected Conn. cfg.Stack is required.
func NewConn(cfg Config) (*Conn, error) {
	c, err := newCore(cfg)
	if err != nil {
		return nil, err
	}
	return &Conn{core: c}, nil
}

// Connect resolves host (skipping resolution for literal addresses),
// establishes the connection, and leaves the Conn in StateConnected.
// Allowed from idle, closed, or error state: Connect is the one
// operation that revives a failed connection.
func (c *Conn) Connect(host string, port uint16, timeout time.Duration) error {
	if host == "" || port == 0 || timeout <= 0 {
		return newError("connect", CodeInvalidParam, nil)
	}
	switch c.state {
	case StateIdle, StateClosed, StateError:
	default:
		return newError("connect", CodeInvalidParam, nil)
	}
	deadline := c.clock.Now().Add(timeout)
	if err := c.dial("connect", host, port, deadline); err != nil {
		return err
	}
	c.logger.Debug("connected", "remote", c.remote, "port", port)
	return nil
}

// Send writes p to the peer, clamping each write to the stack's send
// headroom and retrying transient buffer pressure within the deadline.
// Returns the bytes sent.
func (c *Conn) Send(p []byte, timeout time.Duration) (int, error) {
	if len(p) == 0 || timeout <= 0 {
		return 0, newError("send", CodeInvalidParam, nil)
	}
	if c.state != StateConnected {
		return 0, newError("send", CodeClosed, nil)
	}
	if c.peerClosed || c.sock == nil {
		return 0, newError("send", CodeClosed, nil)
	}
	deadline := c.clock.Now().Add(timeout)
	sent, serr := c.queueBytes("send", p, deadline)
	if serr != nil {
		if serr.Code == CodeSend {
			return sent, c.fail("send", CodeSend, serr.Err)
		}
		return sent, serr
	}
	return sent, nil
}

// Receive reads up to len(p) bytes. While the ring is empty it polls
// the stack within the deadline. An orderly closure by the peer
// returns (0, nil) — a short or empty read is not a failure, and
// deadline expiry likewise returns whatever accumulated without error.
// A connection that entered the error state while waiting returns a
// receive failure instead, so callers can tell a clean closure from a
// transport fault.
func (c *Conn) Receive(p []byte, timeout time.Duration) (int, error) {
	if len(p) == 0 || timeout <= 0 {
		return 0, newError("receive", CodeInvalidParam, nil)
	}
	if c.state != StateConnected {
		return 0, newError("receive", CodeClosed, nil)
	}
	deadline := c.clock.Now().Add(timeout)

	for c.ring.Available() == 0 {
		if c.peerClosed {
			return 0, nil
		}
		c.stack.Poll()
		// Re-check everything: the poll may have delivered bytes,
		// a closure, or an error.
		if c.ring.Available() > 0 {
			break
		}
		if c.state == StateError {
			return 0, newError("receive", CodeReceive, c.lastErr)
		}
		if c.peerClosed {
			return 0, nil
		}
		if !c.clock.Now().Before(deadline) {
			return 0, nil
		}
		c.clock.Sleep(c.pollInterval)
	}
	return c.ring.Drain(p), nil
}

// Close unregisters all callbacks before closing the socket — closing
// first risks a callback firing on a half-torn-down connection — and
// leaves the Conn in StateClosed.
func (c *Conn) Close() {
	c.closeSocket()
	c.logger.Debug("connection closed")
}

// State returns the connection's lifecycle state.
func (c *Conn) State() State { return c.state }

// LastError returns the most recent surfaced failure, or nil.
func (c *Conn) LastError() error {
	if c.lastErr == nil {
		return nil
	}
	return c.lastErr
}
