// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package memnet

import (
	"errors"
	"time"

	"net/netip"

	"github.com/piconode/piconode/lib/clock"
	"github.com/piconode/piconode/netstack"
)

// ErrConnectionRefused is delivered to the connect callback when no
// listener is bound on the target port.
var ErrConnectionRefused = errors.New("memnet: connection refused")

// ErrConnectionReset is delivered to the error callback of a socket
// whose peer aborted.
var ErrConnectionReset = errors.New("memnet: connection reset by peer")

// Network is a deterministic in-memory implementation of
// [netstack.Stack]. All asynchrony is modelled as events scheduled on
// the injected clock and fired from Poll, so a test using a fake clock
// is exactly reproducible: nothing happens between Poll calls, and a
// connect scripted to complete at 50ms completes on the first Poll
// after the clock passes 50ms.
//
// The zero delays make a usable loopback network out of the box; the
// Set* methods script resolution latency, connect latency, delivery
// latency, segment-size-limited delivery, send-window backpressure,
// and a bounded socket table.
type Network struct {
	clk clock.Clock

	hosts  map[string]netip.Addr
	cached map[string]bool
	silent map[string]bool

	resolveDelay time.Duration
	connectDelay time.Duration
	latency      time.Duration
	segmentSize  int
	sendWindow   int
	socketLimit  int
	socketsInUse int

	listeners  map[uint16]*Listener
	blackholes map[uint16]bool

	events  []*event
	nextSeq uint64

	nextEphemeral uint16
}

type event struct {
	due time.Time
	seq uint64
	fn  func()
}

// DefaultSendWindow is each socket's send-buffer size before
// backpressure. Deliberately small so headroom-exhaustion paths get
// exercised.
const DefaultSendWindow = 4096

// New creates an empty in-memory network on the given clock.
func New(clk clock.Clock) *Network {
	return &Network{
		clk:           clk,
		hosts:         make(map[string]netip.Addr),
		cached:        make(map[string]bool),
		silent:        make(map[string]bool),
		listeners:     make(map[uint16]*Listener),
		blackholes:    make(map[uint16]bool),
		sendWindow:    DefaultSendWindow,
		nextEphemeral: 49152,
	}
}

// AddHost registers a name that resolves (asynchronously, after the
// configured resolve delay) to addr.
func (n *Network) AddHost(name string, addr netip.Addr) {
	n.hosts[name] = addr
}

// AddCachedHost registers a name that resolves synchronously, as a
// resolver cache hit would.
func (n *Network) AddCachedHost(name string, addr netip.Addr) {
	n.hosts[name] = addr
	n.cached[name] = true
}

// AddSilentHost registers a name whose resolution never completes —
// the resolver accepts the query and never answers.
func (n *Network) AddSilentHost(name string) {
	n.silent[name] = true
}

// BlackholePort makes connects to port hang forever: the SYN vanishes
// and no answer ever arrives.
func (n *Network) BlackholePort(port uint16) {
	n.blackholes[port] = true
}

// SetResolveDelay scripts how long asynchronous resolutions take.
func (n *Network) SetResolveDelay(d time.Duration) { n.resolveDelay = d }

// SetConnectDelay scripts how long connects take to complete.
func (n *Network) SetConnectDelay(d time.Duration) { n.connectDelay = d }

// SetLatency scripts the one-way delivery delay for data.
func (n *Network) SetLatency(d time.Duration) { n.latency = d }

// SetSegmentSize caps how many bytes arrive per receive callback,
// simulating segment-size limits. Zero means unlimited.
func (n *Network) SetSegmentSize(size int) { n.segmentSize = size }

// SetSendWindow sets the per-socket send buffer size for sockets
// created afterwards.
func (n *Network) SetSendWindow(size int) { n.sendWindow = size }

// SetSocketLimit bounds the connection table. Zero means unlimited.
// When the table is full, NewSocket fails and inbound connects are
// refused.
func (n *Network) SetSocketLimit(limit int) { n.socketLimit = limit }

// SocketsInUse reports the current connection-table occupancy.
func (n *Network) SocketsInUse() int { return n.socketsInUse }

// schedule queues fn to run from the first Poll at or after now+d.
func (n *Network) schedule(d time.Duration, fn func()) {
	n.nextSeq++
	n.events = append(n.events, &event{
		due: n.clk.Now().Add(d),
		seq: n.nextSeq,
		fn:  fn,
	})
}

// Poll services every event that has come due, in (due, submission)
// order, firing callbacks synchronously. Events scheduled with zero
// delay by a callback run within the same Poll.
func (n *Network) Poll() {
	for {
		now := n.clk.Now()
		due := -1
		for i, ev := range n.events {
			if ev.due.After(now) {
				continue
			}
			if due == -1 || ev.due.Before(n.events[due].due) ||
				(ev.due.Equal(n.events[due].due) && ev.seq < n.events[due].seq) {
				due = i
			}
		}
		if due == -1 {
			return
		}
		ev := n.events[due]
		n.events = append(n.events[:due], n.events[due+1:]...)
		ev.fn()
	}
}

// PendingEvents reports how many scheduled events have not fired yet.
func (n *Network) PendingEvents() int {
	return len(n.events)
}

// Resolve implements [netstack.Stack]. Cached names answer
// synchronously; known names answer after the resolve delay; silent
// names never answer; unknown names fail after the resolve delay.
func (n *Network) Resolve(host string, done netstack.ResolveFunc) (netip.Addr, bool, error) {
	if addr, ok := n.hosts[host]; ok && n.cached[host] {
		return addr, true, nil
	}
	if n.silent[host] {
		return netip.Addr{}, false, nil
	}
	addr, known := n.hosts[host]
	n.schedule(n.resolveDelay, func() {
		if !known {
			done(netip.Addr{}, netstack.ErrResolveFailed)
			return
		}
		done(addr, nil)
	})
	return netip.Addr{}, false, nil
}

// NewSocket implements [netstack.Stack].
func (n *Network) NewSocket() (netstack.Socket, error) {
	if n.socketLimit > 0 && n.socketsInUse >= n.socketLimit {
		return nil, netstack.ErrSocketTableFull
	}
	n.socketsInUse++
	return &Socket{net: n, window: n.sendWindow}, nil
}

// Listen implements [netstack.Stack].
func (n *Network) Listen(port uint16, accept netstack.AcceptFunc) (netstack.Listener, error) {
	if _, taken := n.listeners[port]; taken {
		return nil, errors.New("memnet: port already bound")
	}
	l := &Listener{net: n, port: port, accept: accept}
	n.listeners[port] = l
	return l, nil
}

func (n *Network) ephemeralPort() uint16 {
	p := n.nextEphemeral
	n.nextEphemeral++
	if n.nextEphemeral == 0 {
		n.nextEphemeral = 49152
	}
	return p
}

// Listener is a bound in-memory listening port.
type Listener struct {
	net    *Network
	port   uint16
	accept netstack.AcceptFunc
	closed bool
}

// Port implements [netstack.Listener].
func (l *Listener) Port() uint16 { return l.port }

// Close implements [netstack.Listener].
func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	delete(l.net.listeners, l.port)
	return nil
}
