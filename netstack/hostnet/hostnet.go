// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

// Package hostnet adapts the host's kernel sockets to the event-driven
// stack interface. Sockets are non-blocking; Poll asks the kernel for
// readiness with a zero timeout and fires the stack callbacks from
// whatever it learns, so the cooperative contract holds: nothing
// progresses and no callback runs outside Poll.
//
// Name resolution is the one place a goroutine appears. The resolver
// blocks in the C library or on the network, so each lookup runs on
// its own goroutine and posts its result to a mailbox that Poll
// drains. The callback still fires from Poll.
package hostnet

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/piconode/piconode/netstack"
)

// DefaultSocketLimit mirrors a small device's connection table.
const DefaultSocketLimit = 16

// Config tunes the stack. All fields optional.
type Config struct {
	Logger *slog.Logger

	// SocketLimit caps concurrently open sockets, listeners included.
	// Zero means DefaultSocketLimit.
	SocketLimit int
}

type dnsResult struct {
	host string
	addr netip.Addr
	err  error
	done netstack.ResolveFunc
}

// Stack is the kernel-socket implementation of netstack.Stack. Not
// safe for concurrent use; one cooperative loop owns it.
type Stack struct {
	logger      *slog.Logger
	socketLimit int

	sockets   map[int]*socket
	listeners map[int]*listener

	dnsCache   map[string]netip.Addr
	dnsMailbox chan dnsResult
}

var _ netstack.Stack = (*Stack)(nil)

// New creates a stack over the host kernel.
func New(cfg Config) *Stack {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.SocketLimit
	if limit <= 0 {
		limit = DefaultSocketLimit
	}
	return &Stack{
		logger:      logger,
		socketLimit: limit,
		sockets:     make(map[int]*socket),
		listeners:   make(map[int]*listener),
		dnsCache:    make(map[string]netip.Addr),
		dnsMailbox:  make(chan dnsResult, 8),
	}
}

// Resolve answers cached names synchronously and starts a background
// lookup otherwise. The completion callback fires from a later Poll.
func (s *Stack) Resolve(host string, done netstack.ResolveFunc) (netip.Addr, bool, error) {
	if addr, ok := s.dnsCache[host]; ok {
		return addr, true, nil
	}
	go func() {
		addrs, err := net.DefaultResolver.LookupNetIP(context.Background(), "ip4", host)
		result := dnsResult{host: host, err: err, done: done}
		if err == nil {
			if len(addrs) == 0 {
				result.err = netstack.ErrResolveFailed
			} else {
				result.addr = addrs[0].Unmap()
			}
		}
		s.dnsMailbox <- result
	}()
	return netip.Addr{}, false, nil
}

// NewSocket allocates a non-blocking kernel socket.
func (s *Stack) NewSocket() (netstack.Socket, error) {
	if len(s.sockets)+len(s.listeners) >= s.socketLimit {
		return nil, netstack.ErrSocketTableFull
	}
	fd, err := unix.Socket(unix.AF_INET,
		unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("hostnet: socket: %w", err)
	}
	sock := &socket{stack: s, fd: fd}
	s.sockets[fd] = sock
	return sock, nil
}

// Listen binds port and starts accepting. Port 0 picks an ephemeral
// port, readable from the returned listener.
func (s *Stack) Listen(port uint16, accept netstack.AcceptFunc) (netstack.Listener, error) {
	if len(s.sockets)+len(s.listeners) >= s.socketLimit {
		return nil, netstack.ErrSocketTableFull
	}
	fd, err := unix.Socket(unix.AF_INET,
		unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("hostnet: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("hostnet: reuseaddr: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: int(port)}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("hostnet: bind port %d: %w", port, err)
	}
	if err := unix.Listen(fd, 8); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("hostnet: listen: %w", err)
	}
	bound := port
	if bound == 0 {
		sa, err := unix.Getsockname(fd)
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("hostnet: getsockname: %w", err)
		}
		if inet, ok := sa.(*unix.SockaddrInet4); ok {
			bound = uint16(inet.Port)
		}
	}
	l := &listener{stack: s, fd: fd, port: bound, accept: accept}
	s.listeners[fd] = l
	s.logger.Debug("listening", "port", bound)
	return l, nil
}

// Poll services the kernel once without blocking: drains finished
// lookups, checks every socket and listener for readiness, and fires
// the resulting callbacks.
func (s *Stack) Poll() {
	s.drainDNS()

	fds := make([]unix.PollFd, 0, len(s.sockets)+len(s.listeners))
	for fd := range s.listeners {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	for fd, sock := range s.sockets {
		events := int16(unix.POLLIN)
		if sock.wantsWrite() {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	if len(fds) == 0 {
		return
	}
	n, err := unix.Poll(fds, 0)
	if err != nil || n == 0 {
		return
	}
	for _, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		fd := int(pfd.Fd)
		if l, ok := s.listeners[fd]; ok {
			l.service()
			continue
		}
		if sock, ok := s.sockets[fd]; ok {
			sock.service(pfd.Revents)
		}
	}
}

func (s *Stack) drainDNS() {
	for {
		select {
		case result := <-s.dnsMailbox:
			if result.err != nil {
				s.logger.Debug("lookup failed", "host", result.host, "error", result.err)
				if result.done != nil {
					result.done(netip.Addr{}, fmt.Errorf("hostnet: resolve %s: %w",
						result.host, result.err))
				}
				continue
			}
			s.dnsCache[result.host] = result.addr
			if result.done != nil {
				result.done(result.addr, nil)
			}
		default:
			return
		}
	}
}

// release removes a socket from the table and closes its descriptor.
func (s *Stack) release(sock *socket) {
	if _, ok := s.sockets[sock.fd]; !ok {
		return
	}
	delete(s.sockets, sock.fd)
	unix.Close(sock.fd)
	sock.fd = -1
}

type listener struct {
	stack  *Stack
	fd     int
	port   uint16
	accept netstack.AcceptFunc
}

func (l *listener) Port() uint16 { return l.port }

func (l *listener) Close() error {
	if _, ok := l.stack.listeners[l.fd]; !ok {
		return nil
	}
	delete(l.stack.listeners, l.fd)
	return unix.Close(l.fd)
}

// service accepts everything currently queued on the listening socket.
func (l *listener) service() {
	for {
		if len(l.stack.sockets)+len(l.stack.listeners) >= l.stack.socketLimit {
			l.stack.logger.Warn("socket table full, inbound connection deferred")
			return
		}
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			return
		}
		sock := &socket{stack: l.stack, fd: nfd, connected: true}
		if inet, ok := sa.(*unix.SockaddrInet4); ok {
			sock.remote = netip.AddrPortFrom(netip.AddrFrom4(inet.Addr), uint16(inet.Port))
		}
		l.stack.sockets[nfd] = sock
		l.accept(sock)
	}
}
