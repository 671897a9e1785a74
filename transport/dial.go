// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"log/slog"
	"time"

	"net/netip"

	"github.com/piconode/piconode/lib/clock"
	"github.com/piconode/piconode/netstack"
)

// DefaultPollInterval is the sleep between poll calls in blocking-style
// wait loops. Deadlines are only checked between polls, so observed
// latency can exceed a deadline by up to one poll interval; that slack
// is part of the cooperative contract, not a bug.
const DefaultPollInterval = 10 * time.Millisecond

// Config carries the collaborators and tuning for a connection. Stack
// is required; everything else has defaults.
type Config struct {
	// Stack is the event-driven network stack the connection drives.
	Stack netstack.Stack

	// Clock supplies time for deadlines and poll-loop sleeps.
	// Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives connection diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// RingSize is the receive ring capacity; must be a power of two.
	// Defaults to DefaultRingSize.
	RingSize int

	// PollInterval is the sleep between poll calls in wait loops.
	// Defaults to DefaultPollInterval.
	PollInterval time.Duration
}

// core is the scaffolding shared by the plain and secure connections:
// resolution, connect, the receive ring, socket lifecycle, and the
// poll-driven wait loops. The two variants differ only in what runs on
// top of an established connection — the plain variant moves bytes
// directly, the secure variant interposes its engine.
type core struct {
	stack        netstack.Stack
	clock        clock.Clock
	logger       *slog.Logger
	pollInterval time.Duration

	ring       *Ring
	state      State
	lastErr    *Error
	sock       netstack.Socket
	remote     netip.Addr
	remotePort uint16
	peerClosed bool

	bytesReceived uint64
	bytesAcked    uint64

	// dialGeneration invalidates resolution callbacks from an earlier
	// connect attempt: a late answer must not corrupt a re-connected
	// connection's state.
	dialGeneration uint64
}

func newCore(cfg Config) (core, *Error) {
	if cfg.Stack == nil {
		return core{}, newError("init", CodeInvalidParam, nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RingSize == 0 {
		cfg.RingSize = DefaultRingSize
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return core{
		stack:        cfg.Stack,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		pollInterval: cfg.PollInterval,
		ring:         NewRing(cfg.RingSize),
		state:        StateIdle,
	}, nil
}

// pollUntil drives the stack until leave reports the wait is over or
// the deadline passes. The condition is re-checked immediately after
// every poll — a callback fired during that poll may have changed it —
// and the deadline only between polls. Returns false on expiry.
func (c *core) pollUntil(deadline time.Time, leave func() bool) bool {
	for {
		c.stack.Poll()
		if leave() {
			return true
		}
		if !c.clock.Now().Before(deadline) {
			return false
		}
		c.clock.Sleep(c.pollInterval)
	}
}

// fail releases the socket, marks the connection failed, and returns
// the recorded error.
func (c *core) fail(op string, code Code, cause error) *Error {
	c.releaseSocket()
	c.state = StateError
	err := newError(op, code, cause)
	c.lastErr = err
	return err
}

// releaseSocket aborts and forgets the socket. Callbacks are cleared
// first so a late event cannot fire into a connection that no longer
// owns the socket. Abort, not Close: every path through here is a
// failure path where the peer either never completed the handshake or
// is already gone.
func (c *core) releaseSocket() {
	if c.sock == nil {
		return
	}
	s := c.sock
	c.sock = nil
	s.ClearCallbacks()
	s.Abort()
}

// closeSocket is the graceful variant used by Close: unregister all
// callbacks before closing, so the close cannot trigger a callback on
// a half-torn-down connection.
func (c *core) closeSocket() {
	if c.sock != nil {
		s := c.sock
		c.sock = nil
		s.ClearCallbacks()
		s.Close()
	}
	c.state = StateClosed
}

// dial runs the shared connect phases: name resolution (skipped for
// literal addresses), socket allocation, ephemeral bind, callback
// registration, and the asynchronous connect, each bounded by the
// caller's deadline. On success the connection is in StateConnected
// with its receive callback feeding the ring. Any failure aborts the
// socket and returns a typed error.
func (c *core) dial(op, host string, port uint16, deadline time.Time) *Error {
	c.ring.Reset()
	c.peerClosed = false
	c.lastErr = nil
	c.remote = netip.Addr{}
	c.remotePort = port
	c.bytesReceived = 0
	c.bytesAcked = 0
	c.dialGeneration++
	generation := c.dialGeneration

	// Phase 1: resolution. A literal address skips the resolver
	// entirely.
	if addr, err := netip.ParseAddr(host); err == nil {
		c.remote = addr
		c.state = StateResolved
	} else {
		c.state = StateResolving
		addr, cached, err := c.stack.Resolve(host, func(addr netip.Addr, err error) {
			if c.dialGeneration != generation || c.state != StateResolving {
				// Late answer after a timeout or a re-connect.
				return
			}
			if err != nil {
				c.state = StateError
				c.lastErr = newError(op, CodeDNS, err)
				return
			}
			c.remote = addr
			c.state = StateResolved
		})
		if err != nil {
			return c.fail(op, CodeDNS, err)
		}
		if cached {
			c.remote = addr
			c.state = StateResolved
		}
		if !c.pollUntil(deadline, func() bool { return c.state != StateResolving }) {
			c.logger.Debug("resolution timed out", "host", host)
			return c.fail(op, CodeTimeout, nil)
		}
		if c.state == StateError {
			return c.lastErr
		}
	}

	// Phase 2: socket allocation and connect.
	sock, err := c.stack.NewSocket()
	if err != nil {
		code := CodeConnect
		if err == netstack.ErrSocketTableFull {
			code = CodeMemory
		}
		return c.fail(op, code, err)
	}
	c.sock = sock

	if err := sock.Bind(0); err != nil {
		return c.fail(op, CodeConnect, err)
	}

	sock.OnReceive(func(data []byte) {
		if data == nil {
			c.peerClosed = true
			return
		}
		accepted := c.ring.PushSlice(data)
		c.bytesReceived += uint64(accepted)
		if accepted < len(data) {
			c.logger.Warn("receive ring full, dropping bytes",
				"dropped", len(data)-accepted,
				"remote", c.remote)
		}
	})
	sock.OnError(func(err error) {
		// The stack has already freed the socket: drop the reference
		// before anything else can touch it.
		c.sock = nil
		c.state = StateError
		c.lastErr = newError(op, CodeConnect, err)
	})
	sock.OnSent(func(n int) {
		c.bytesAcked += uint64(n)
	})

	c.state = StateConnecting
	if err := sock.Connect(c.remote, port, func(err error) {
		if err != nil {
			c.state = StateError
			c.lastErr = newError(op, CodeConnect, err)
			return
		}
		if c.state == StateConnecting {
			c.state = StateConnected
		}
	}); err != nil {
		return c.fail(op, CodeConnect, err)
	}

	if !c.pollUntil(deadline, func() bool { return c.state != StateConnecting }) {
		c.logger.Debug("connect timed out", "remote", c.remote, "port", port)
		return c.fail(op, CodeTimeout, nil)
	}
	if c.state != StateConnected {
		cause := c.lastErr
		if cause == nil {
			return c.fail(op, CodeConnect, nil)
		}
		c.releaseSocket()
		c.state = StateError
		return cause
	}
	return nil
}

// queueBytes writes p through the socket's send buffer, clamping each
// write to the current headroom and treating allocation pressure as
// transient, all bounded by the deadline. Flushes after everything is
// queued. This is the plain send path; the secure variant moves its
// records through the single-shot engine adapter instead.
func (c *core) queueBytes(op string, p []byte, deadline time.Time) (int, *Error) {
	sent := 0
	for sent < len(p) {
		if c.sock == nil || c.state != StateConnected {
			return sent, newError(op, CodeClosed, nil)
		}
		headroom := c.sock.SendHeadroom()
		if headroom == 0 {
			// Headroom only refills as queued data is transmitted and
			// acknowledged, so push what has accumulated before waiting.
			if err := c.sock.Flush(); err != nil {
				return sent, newError(op, CodeSend, err)
			}
			if !c.pollUntil(deadline, func() bool {
				return c.sock == nil || c.state != StateConnected || c.sock.SendHeadroom() > 0
			}) {
				return sent, newError(op, CodeTimeout, nil)
			}
			continue
		}
		chunk := len(p) - sent
		if chunk > headroom {
			chunk = headroom
		}
		err := c.sock.Write(p[sent : sent+chunk])
		if err == netstack.ErrNoBuffer {
			// Allocation pressure is transient: poll and retry within
			// the deadline.
			if !c.clock.Now().Before(deadline) {
				return sent, newError(op, CodeTimeout, nil)
			}
			c.stack.Poll()
			c.clock.Sleep(c.pollInterval)
			continue
		}
		if err != nil {
			return sent, newError(op, CodeSend, err)
		}
		sent += chunk
	}
	if c.sock != nil {
		if err := c.sock.Flush(); err != nil {
			return sent, newError(op, CodeSend, err)
		}
	}
	return sent, nil
}
