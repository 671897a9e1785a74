// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package memnet

import (
	"net/netip"

	"github.com/piconode/piconode/netstack"
)

// Socket is one endpoint of an in-memory connection. It implements
// [netstack.Socket] with the borrowed-handle contract: once freed (by
// Close, Abort, or an error event) every operation fails and no
// further callbacks fire.
type Socket struct {
	net *Network

	localPort  uint16
	remoteAddr netip.Addr
	remotePort uint16

	peer *Socket

	onReceive netstack.ReceiveFunc
	onSent    netstack.SentFunc
	onError   netstack.ErrorFunc

	// window is the remaining send headroom; bytes return to the
	// window when their delivery event fires.
	window  int
	pending []byte

	connected bool
	freed     bool

	// allocFailures makes the next N writes fail with ErrNoBuffer,
	// simulating stack allocation pressure.
	allocFailures int
}

var _ netstack.Socket = (*Socket)(nil)

// Bind implements [netstack.Socket]. Port 0 assigns an ephemeral port.
func (s *Socket) Bind(port uint16) error {
	if s.freed {
		return netstack.ErrSocketClosed
	}
	if port == 0 {
		port = s.net.ephemeralPort()
	}
	s.localPort = port
	return nil
}

// Connect implements [netstack.Socket]. The outcome is scheduled after
// the network's connect delay: refused when no listener is bound,
// silently never answered for blackholed ports, otherwise paired with
// a freshly accepted peer socket.
func (s *Socket) Connect(addr netip.Addr, port uint16, done netstack.ConnectedFunc) error {
	if s.freed {
		return netstack.ErrSocketClosed
	}
	s.remoteAddr = addr
	s.remotePort = port
	if s.net.blackholes[port] {
		return nil
	}
	s.net.schedule(s.net.connectDelay, func() {
		if s.freed {
			return
		}
		listener := s.net.listeners[port]
		if listener == nil {
			done(ErrConnectionRefused)
			return
		}
		if s.net.socketLimit > 0 && s.net.socketsInUse >= s.net.socketLimit {
			done(ErrConnectionRefused)
			return
		}
		s.net.socketsInUse++
		peer := &Socket{
			net:        s.net,
			window:     s.net.sendWindow,
			localPort:  port,
			remoteAddr: addr,
			remotePort: s.localPort,
			connected:  true,
		}
		s.peer = peer
		peer.peer = s
		s.connected = true
		// Accept first so the peer's callbacks are registered before
		// the connect completion can trigger any sends.
		listener.accept(peer)
		done(nil)
	})
	return nil
}

// OnReceive implements [netstack.Socket].
func (s *Socket) OnReceive(fn netstack.ReceiveFunc) { s.onReceive = fn }

// OnSent implements [netstack.Socket].
func (s *Socket) OnSent(fn netstack.SentFunc) { s.onSent = fn }

// OnError implements [netstack.Socket].
func (s *Socket) OnError(fn netstack.ErrorFunc) { s.onError = fn }

// ClearCallbacks implements [netstack.Socket].
func (s *Socket) ClearCallbacks() {
	s.onReceive = nil
	s.onSent = nil
	s.onError = nil
}

// SendHeadroom implements [netstack.Socket].
func (s *Socket) SendHeadroom() int {
	if s.freed || !s.connected {
		return 0
	}
	return s.window
}

// Write implements [netstack.Socket]. Bytes are queued until Flush.
func (s *Socket) Write(p []byte) error {
	if s.freed || !s.connected {
		return netstack.ErrSocketClosed
	}
	if s.allocFailures > 0 {
		s.allocFailures--
		return netstack.ErrNoBuffer
	}
	if len(p) > s.window {
		return netstack.ErrNoBuffer
	}
	s.pending = append(s.pending, p...)
	s.window -= len(p)
	return nil
}

// Flush implements [netstack.Socket]: queued bytes become delivery
// events, chunked by the network's segment size, arriving after its
// latency. The sender's window refills and its sent callback fires as
// each chunk is delivered.
func (s *Socket) Flush() error {
	if s.freed {
		return netstack.ErrSocketClosed
	}
	for len(s.pending) > 0 {
		chunk := s.pending
		if s.net.segmentSize > 0 && len(chunk) > s.net.segmentSize {
			chunk = chunk[:s.net.segmentSize]
		}
		s.pending = s.pending[len(chunk):]
		segment := make([]byte, len(chunk))
		copy(segment, chunk)
		s.net.schedule(s.net.latency, func() {
			if !s.freed {
				s.window += len(segment)
				if s.onSent != nil {
					s.onSent(len(segment))
				}
			}
			peer := s.peer
			if peer == nil || peer.freed || peer.onReceive == nil {
				return
			}
			peer.onReceive(segment)
		})
	}
	s.pending = nil
	return nil
}

// Close implements [netstack.Socket]: an orderly close. The peer's
// receive callback observes a nil slice.
func (s *Socket) Close() error {
	if s.freed {
		return nil
	}
	s.free()
	peer := s.peer
	s.net.schedule(s.net.latency, func() {
		if peer == nil || peer.freed || peer.onReceive == nil {
			return
		}
		peer.onReceive(nil)
	})
	return nil
}

// Abort implements [netstack.Socket]: a reset. The peer's socket is
// freed by the stack and then its error callback fires.
func (s *Socket) Abort() {
	if s.freed {
		return
	}
	s.free()
	peer := s.peer
	s.net.schedule(s.net.latency, func() {
		if peer == nil || peer.freed {
			return
		}
		peer.deliverError(ErrConnectionReset)
	})
}

// RemoteAddr implements [netstack.Socket].
func (s *Socket) RemoteAddr() netip.AddrPort {
	if !s.remoteAddr.IsValid() {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(s.remoteAddr, s.remotePort)
}

// InjectError schedules an asynchronous failure on this socket: on the
// next Poll the stack frees the socket and fires its error callback,
// exactly as a routing failure or reset would.
func (s *Socket) InjectError(err error) {
	s.net.schedule(0, func() {
		if s.freed {
			return
		}
		s.deliverError(err)
	})
}

// deliverError frees the socket first — the contract is that the
// handle is already gone when the error callback runs — then fires
// the callback.
func (s *Socket) deliverError(err error) {
	fn := s.onError
	s.free()
	if fn != nil {
		fn(err)
	}
}

func (s *Socket) free() {
	if s.freed {
		return
	}
	s.freed = true
	s.connected = false
	s.pending = nil
	s.net.socketsInUse--
}
