// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package hostnet

import (
	"bytes"
	"errors"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/piconode/piconode/netstack"
	"github.com/piconode/piconode/transport"
)

func newStack(t *testing.T) *Stack {
	t.Helper()
	return New(Config{Logger: slog.New(slog.DiscardHandler)})
}

// listenEcho binds an ephemeral port whose accepted connections echo
// everything back.
func listenEcho(t *testing.T, s *Stack) netstack.Listener {
	t.Helper()
	l, err := s.Listen(0, func(sock netstack.Socket) {
		sock.OnReceive(func(data []byte) {
			if data == nil {
				sock.ClearCallbacks()
				sock.Close()
				return
			}
			if err := sock.Write(data); err == nil {
				sock.Flush()
			}
		})
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLoopbackEcho(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	l := listenEcho(t, s)

	conn, err := transport.NewConn(transport.Config{
		Stack:  s,
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	defer conn.Close()

	if err := conn.Connect("127.0.0.1", l.Port(), 5*time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	payload := []byte("hello through the kernel")
	if _, err := conn.Send(payload, 5*time.Second); err != nil {
		t.Fatalf("Send: %v", err)
	}

	echo := make([]byte, 0, len(payload))
	buf := make([]byte, 64)
	deadline := time.Now().Add(5 * time.Second)
	for len(echo) < len(payload) {
		if time.Now().After(deadline) {
			t.Fatalf("echo incomplete: %q", echo)
		}
		n, err := conn.Receive(buf, 500*time.Millisecond)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		echo = append(echo, buf[:n]...)
	}
	if !bytes.Equal(echo, payload) {
		t.Fatalf("echo = %q, want %q", echo, payload)
	}
}

func TestConnectRefused(t *testing.T) {
	t.Parallel()
	s := newStack(t)

	// Bind a port, learn it, and free it again so nothing listens
	// there.
	l, err := s.Listen(0, func(netstack.Socket) {})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	port := l.Port()
	l.Close()

	conn, err := transport.NewConn(transport.Config{
		Stack:  s,
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	defer conn.Close()

	err = conn.Connect("127.0.0.1", port, 2*time.Second)
	if err == nil {
		t.Fatal("expected connect to fail")
	}
	var terr *transport.Error
	if !errors.As(err, &terr) || terr.Code != transport.CodeConnect {
		t.Fatalf("error = %v, want connect failure", err)
	}
}

func TestResolveLocalhostAndCache(t *testing.T) {
	t.Parallel()
	s := newStack(t)

	var got netip.Addr
	var gotErr error
	fired := false
	_, cached, err := s.Resolve("localhost", func(addr netip.Addr, err error) {
		fired = true
		got = addr
		gotErr = err
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cached {
		t.Fatal("first lookup reported as cached")
	}

	deadline := time.Now().Add(5 * time.Second)
	for !fired {
		if time.Now().After(deadline) {
			t.Fatal("lookup never completed")
		}
		s.Poll()
		time.Sleep(time.Millisecond)
	}
	if gotErr != nil {
		t.Fatalf("lookup error: %v", gotErr)
	}
	if got != netip.MustParseAddr("127.0.0.1") {
		t.Fatalf("localhost = %v", got)
	}

	addr, cached, err := s.Resolve("localhost", nil)
	if err != nil || !cached || addr != got {
		t.Fatalf("cached lookup = %v, %v, %v", addr, cached, err)
	}
}

func TestSocketLimit(t *testing.T) {
	t.Parallel()
	s := New(Config{Logger: slog.New(slog.DiscardHandler), SocketLimit: 1})

	first, err := s.NewSocket()
	if err != nil {
		t.Fatalf("first socket: %v", err)
	}
	if _, err := s.NewSocket(); err != netstack.ErrSocketTableFull {
		t.Fatalf("second socket error = %v, want ErrSocketTableFull", err)
	}
	first.Abort()
	if _, err := s.NewSocket(); err != nil {
		t.Fatalf("socket after release: %v", err)
	}
}
