// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package hostnet

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/piconode/piconode/netstack"
)

// sendBufferLimit is the per-socket queue the stack accepts ahead of
// the kernel, matching the small send window the transport is tuned
// for.
const sendBufferLimit = 4096

const readChunk = 2048

type socket struct {
	stack  *Stack
	fd     int
	remote netip.AddrPort

	connecting  bool
	connected   bool
	closing     bool
	eofReceived bool

	connectDone netstack.ConnectedFunc
	onReceive   netstack.ReceiveFunc
	onSent      netstack.SentFunc
	onError     netstack.ErrorFunc

	// pending holds bytes queued by Write; outq holds flushed bytes
	// the kernel has not yet accepted.
	pending []byte
	outq    []byte
}

var _ netstack.Socket = (*socket)(nil)

func (s *socket) Bind(port uint16) error {
	if port == 0 {
		// The kernel autobinds on connect.
		return nil
	}
	if err := unix.Bind(s.fd, &unix.SockaddrInet4{Port: int(port)}); err != nil {
		return fmt.Errorf("hostnet: bind port %d: %w", port, err)
	}
	return nil
}

func (s *socket) Connect(addr netip.Addr, port uint16, done netstack.ConnectedFunc) error {
	if s.fd < 0 {
		return netstack.ErrSocketClosed
	}
	if !addr.Is4() {
		return fmt.Errorf("hostnet: %s is not an IPv4 address", addr)
	}
	s.remote = netip.AddrPortFrom(addr, port)
	sa := &unix.SockaddrInet4{Port: int(port), Addr: addr.As4()}
	err := unix.Connect(s.fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		return fmt.Errorf("hostnet: connect %s: %w", s.remote, err)
	}
	// Even an immediately successful connect completes through Poll,
	// keeping the callback contract uniform.
	s.connecting = true
	s.connectDone = done
	return nil
}

func (s *socket) OnReceive(fn netstack.ReceiveFunc) { s.onReceive = fn }
func (s *socket) OnSent(fn netstack.SentFunc)       { s.onSent = fn }
func (s *socket) OnError(fn netstack.ErrorFunc)     { s.onError = fn }

func (s *socket) ClearCallbacks() {
	s.connectDone = nil
	s.onReceive = nil
	s.onSent = nil
	s.onError = nil
}

func (s *socket) SendHeadroom() int {
	room := sendBufferLimit - len(s.pending) - len(s.outq)
	if room < 0 {
		return 0
	}
	return room
}

func (s *socket) Write(p []byte) error {
	if s.fd < 0 || !s.connected || s.closing {
		return netstack.ErrSocketClosed
	}
	if len(p) > s.SendHeadroom() {
		return netstack.ErrNoBuffer
	}
	s.pending = append(s.pending, p...)
	return nil
}

// Flush stages queued bytes for the kernel. The actual write happens
// in Poll when the descriptor is writable, so the acknowledgement
// callback fires from Poll like every other event.
func (s *socket) Flush() error {
	if s.fd < 0 {
		return netstack.ErrSocketClosed
	}
	s.outq = append(s.outq, s.pending...)
	s.pending = s.pending[:0]
	return nil
}

func (s *socket) Close() error {
	if s.fd < 0 {
		return netstack.ErrSocketClosed
	}
	s.Flush()
	if len(s.outq) > 0 {
		// Drain through Poll first; release happens once the queue
		// empties.
		s.closing = true
		return nil
	}
	s.stack.release(s)
	return nil
}

func (s *socket) Abort() {
	if s.fd < 0 {
		return
	}
	// Linger zero turns close into an immediate reset.
	unix.SetsockoptLinger(s.fd, unix.SOL_SOCKET, unix.SO_LINGER,
		&unix.Linger{Onoff: 1, Linger: 0})
	s.stack.release(s)
}

func (s *socket) RemoteAddr() netip.AddrPort {
	if !s.connected {
		return netip.AddrPort{}
	}
	return s.remote
}

// wantsWrite reports whether Poll should watch the descriptor for
// writability.
func (s *socket) wantsWrite() bool {
	return s.connecting || len(s.outq) > 0
}

// service handles one readiness report from Poll.
func (s *socket) service(revents int16) {
	if s.connecting {
		if revents&(unix.POLLOUT|unix.POLLERR|unix.POLLHUP) != 0 {
			s.finishConnect()
		}
		return
	}
	if revents&unix.POLLERR != 0 {
		soerr, _ := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		s.fail(fmt.Errorf("hostnet: socket error: %w", unix.Errno(soerr)))
		return
	}
	if revents&unix.POLLOUT != 0 && len(s.outq) > 0 {
		if !s.writeReady() {
			return
		}
	}
	if revents&(unix.POLLIN|unix.POLLHUP) != 0 && !s.eofReceived {
		if !s.readReady() {
			return
		}
	}
	if s.closing && len(s.outq) == 0 {
		s.stack.release(s)
	}
}

func (s *socket) finishConnect() {
	s.connecting = false
	done := s.connectDone
	s.connectDone = nil
	soerr, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && soerr != 0 {
		err = unix.Errno(soerr)
	}
	if err != nil {
		remote := s.remote
		s.stack.release(s)
		if done != nil {
			done(fmt.Errorf("hostnet: connect %s: %w", remote, err))
		}
		return
	}
	s.connected = true
	if done != nil {
		done(nil)
	}
}

// writeReady pushes the staged queue into the kernel. Returns false
// when the socket died in the process.
func (s *socket) writeReady() bool {
	n, err := unix.Write(s.fd, s.outq)
	if n > 0 {
		s.outq = s.outq[n:]
		if s.onSent != nil {
			s.onSent(n)
		}
	}
	if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		s.fail(fmt.Errorf("hostnet: write: %w", err))
		return false
	}
	return true
}

// readReady drains everything currently readable. Returns false when
// the socket died in the process.
func (s *socket) readReady() bool {
	buf := make([]byte, readChunk)
	for {
		n, err := unix.Read(s.fd, buf)
		switch {
		case n > 0:
			if s.onReceive != nil {
				s.onReceive(buf[:n])
			}
			if s.fd < 0 {
				// A callback closed the socket.
				return false
			}
			continue
		case n == 0 && err == nil:
			// Orderly close by the peer.
			s.eofReceived = true
			if s.onReceive != nil {
				s.onReceive(nil)
			}
			return s.fd >= 0
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return true
		default:
			s.fail(fmt.Errorf("hostnet: read: %w", err))
			return false
		}
	}
}

// fail releases the socket, then reports the failure. Release first:
// by the time the error callback runs the handle is already dead, so
// the owner cannot misuse it.
func (s *socket) fail(err error) {
	cb := s.onError
	s.ClearCallbacks()
	s.stack.release(s)
	if cb != nil {
		cb(err)
	}
}
