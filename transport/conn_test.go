// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"math/rand"
	"testing"
	"time"
)

func TestConnectLiteralAddressSkipsResolution(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.listenSink(t, 6443)
	h.net.SetConnectDelay(50 * time.Millisecond)
	conn, err := NewConn(h.cfg)
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}

	// No hosts are registered, so any resolver round-trip would fail;
	// a literal address must succeed regardless.
	start := h.clk.Now()
	if err := conn.Connect("10.0.0.5", 6443, 5*time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got, want := conn.State(), StateConnected; got != want {
		t.Fatalf("State() = %v, want %v", got, want)
	}
	if elapsed := h.clk.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("connect took %v, want under 100ms", elapsed)
	}
}

func TestConnectResolvesHostname(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.net.AddHost("apiserver.test", mustAddr(t, "10.0.0.9"))
	h.net.SetResolveDelay(30 * time.Millisecond)
	h.listenSink(t, 6443)
	conn, _ := NewConn(h.cfg)

	if err := conn.Connect("apiserver.test", 6443, 5*time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got, want := conn.State(), StateConnected; got != want {
		t.Fatalf("State() = %v, want %v", got, want)
	}
}

func TestConnectCachedHostAnswersSynchronously(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.net.AddCachedHost("apiserver.test", mustAddr(t, "10.0.0.9"))
	// A cache hit must not wait on the resolver at all.
	h.net.SetResolveDelay(time.Hour)
	h.listenSink(t, 6443)
	conn, _ := NewConn(h.cfg)

	start := h.clk.Now()
	if err := conn.Connect("apiserver.test", 6443, 5*time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if elapsed := h.clk.Since(start); elapsed > time.Second {
		t.Fatalf("cached connect took %v", elapsed)
	}
}

func TestConnectUnknownHostFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn, _ := NewConn(h.cfg)

	err := conn.Connect("nosuchhost.test", 6443, 5*time.Second)
	if got, want := CodeOf(err), CodeDNS; got != want {
		t.Fatalf("CodeOf(err) = %v, want %v (err: %v)", got, want, err)
	}
	if got, want := conn.State(), StateError; got != want {
		t.Fatalf("State() = %v, want %v", got, want)
	}
}

func TestConnectSilentResolverTimesOut(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.net.AddSilentHost("slow.test")
	conn, _ := NewConn(h.cfg)

	// The deadline is only checked between polls, so expiry may land up
	// to one poll interval past the requested timeout, never before it.
	for _, timeout := range []time.Duration{500 * time.Millisecond, 2 * time.Second} {
		start := h.clk.Now()
		err := conn.Connect("slow.test", 6443, timeout)
		if !IsTimeout(err) {
			t.Fatalf("Connect(timeout=%v) = %v, want timeout", timeout, err)
		}
		elapsed := h.clk.Since(start)
		if elapsed < timeout || elapsed > timeout+DefaultPollInterval {
			t.Fatalf("timeout=%v elapsed %v, want within one poll interval", timeout, elapsed)
		}
	}
}

func TestConnectRefusedWithoutListener(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.net.AddHost("apiserver.test", mustAddr(t, "10.0.0.9"))
	conn, _ := NewConn(h.cfg)

	err := conn.Connect("apiserver.test", 6443, 5*time.Second)
	if got, want := CodeOf(err), CodeConnect; got != want {
		t.Fatalf("CodeOf(err) = %v, want %v (err: %v)", got, want, err)
	}
}

func TestConnectSocketTableFull(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.listenSink(t, 6443)
	h.net.SetSocketLimit(1)
	if _, err := h.net.NewSocket(); err != nil {
		t.Fatalf("NewSocket: %v", err)
	}
	conn, _ := NewConn(h.cfg)

	err := conn.Connect("10.0.0.5", 6443, time.Second)
	if got, want := CodeOf(err), CodeMemory; got != want {
		t.Fatalf("CodeOf(err) = %v, want %v (err: %v)", got, want, err)
	}
}

func TestConnectWhileConnectedRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.listenSink(t, 6443)
	conn, _ := NewConn(h.cfg)
	if err := conn.Connect("10.0.0.5", 6443, time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	err := conn.Connect("10.0.0.5", 6443, time.Second)
	if got, want := CodeOf(err), CodeInvalidParam; got != want {
		t.Fatalf("CodeOf(err) = %v, want %v", got, want)
	}
}

func TestConnectInvalidParams(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn, _ := NewConn(h.cfg)
	cases := []struct {
		name    string
		host    string
		port    uint16
		timeout time.Duration
	}{
		{"empty host", "", 6443, time.Second},
		{"zero port", "10.0.0.5", 0, time.Second},
		{"zero timeout", "10.0.0.5", 6443, 0},
	}
	for _, tc := range cases {
		if got := CodeOf(conn.Connect(tc.host, tc.port, tc.timeout)); got != CodeInvalidParam {
			t.Errorf("%s: CodeOf = %v, want %v", tc.name, got, CodeInvalidParam)
		}
	}
}

func TestSendReceiveRoundTrip(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.net.SetSegmentSize(1400)
	sink := h.listenSink(t, 6443)
	cfg := h.cfg
	cfg.RingSize = 16384
	conn, _ := NewConn(cfg)
	if err := conn.Connect("10.0.0.5", 6443, time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	payload := make([]byte, 10000)
	rand.New(rand.NewSource(42)).Read(payload)

	// Outbound: larger than both the send window and the segment size,
	// so the write path clamps, flushes, and refills repeatedly.
	n, err := conn.Send(payload, time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("Send = %d, want %d", n, len(payload))
	}
	h.net.Poll()
	if !bytes.Equal(sink.received, payload) {
		t.Fatalf("server received %d bytes, want %d intact", len(sink.received), len(payload))
	}

	// Inbound: delivered in 1400-byte segments, read back in chunk
	// sizes that never match segment boundaries.
	sink.write(t, h, payload)
	got := drainAll(t, conn, len(payload), 1, 9999)
	if !bytes.Equal(got, payload) {
		t.Fatal("received bytes differ from sent bytes")
	}
	if got := conn.ring.Dropped(); got != 0 {
		t.Fatalf("ring dropped %d bytes", got)
	}
}

func TestSendTimesOutWhenWindowStaysFull(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.net.SetSendWindow(16)
	// In-flight data takes ten seconds to deliver, so the window never
	// refills within the send deadline.
	h.net.SetLatency(10 * time.Second)
	h.listenSink(t, 6443)
	conn, _ := NewConn(h.cfg)
	if err := conn.Connect("10.0.0.5", 6443, 30*time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	n, err := conn.Send(make([]byte, 100), 200*time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("Send = %v, want timeout", err)
	}
	if n != 16 {
		t.Fatalf("Send queued %d bytes before the stall, want 16", n)
	}
}

func TestReceiveDeadlineReturnsZeroBytes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.listenSink(t, 6443)
	conn, _ := NewConn(h.cfg)
	if err := conn.Connect("10.0.0.5", 6443, time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	start := h.clk.Now()
	n, err := conn.Receive(make([]byte, 64), 50*time.Millisecond)
	if n != 0 || err != nil {
		t.Fatalf("Receive = (%d, %v), want (0, nil)", n, err)
	}
	if elapsed := h.clk.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("Receive returned after %v, before the deadline", elapsed)
	}
}

func TestReceiveAfterPeerClose(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	sink := h.listenSink(t, 6443)
	conn, _ := NewConn(h.cfg)
	if err := conn.Connect("10.0.0.5", 6443, time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	sink.sock.Close()
	n, err := conn.Receive(make([]byte, 64), time.Second)
	if n != 0 || err != nil {
		t.Fatalf("Receive after close = (%d, %v), want (0, nil)", n, err)
	}
	// The closure is terminal for sending too.
	if _, err := conn.Send([]byte("x"), time.Second); CodeOf(err) != CodeClosed {
		t.Fatalf("Send after peer close = %v, want %v", err, CodeClosed)
	}
}

func TestReceiveDrainsDataBeforeObservingClose(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	sink := h.listenSink(t, 6443)
	conn, _ := NewConn(h.cfg)
	if err := conn.Connect("10.0.0.5", 6443, time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	sink.write(t, h, []byte("final words"))
	sink.sock.Close()
	h.net.Poll()

	buf := make([]byte, 64)
	n, err := conn.Receive(buf, time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got, want := string(buf[:n]), "final words"; got != want {
		t.Fatalf("Receive = %q, want %q", got, want)
	}
	n, err = conn.Receive(buf, time.Second)
	if n != 0 || err != nil {
		t.Fatalf("second Receive = (%d, %v), want (0, nil)", n, err)
	}
}

func TestReceiveSurfacesConnectionReset(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	sink := h.listenSink(t, 6443)
	conn, _ := NewConn(h.cfg)
	if err := conn.Connect("10.0.0.5", 6443, time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// A reset is not an orderly closure: the waiting receive must fail
	// rather than report end of stream.
	sink.sock.Abort()
	_, err := conn.Receive(make([]byte, 64), time.Second)
	if got, want := CodeOf(err), CodeReceive; got != want {
		t.Fatalf("CodeOf(err) = %v, want %v (err: %v)", got, want, err)
	}
	if got, want := conn.State(), StateError; got != want {
		t.Fatalf("State() = %v, want %v", got, want)
	}
	if conn.LastError() == nil {
		t.Fatal("LastError() = nil after reset")
	}
}

func TestCloseThenReconnect(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.listenSink(t, 6443)
	conn, _ := NewConn(h.cfg)
	if err := conn.Connect("10.0.0.5", 6443, time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	conn.Close()
	if got, want := conn.State(), StateClosed; got != want {
		t.Fatalf("State() = %v, want %v", got, want)
	}
	if _, err := conn.Receive(make([]byte, 8), time.Second); CodeOf(err) != CodeClosed {
		t.Fatalf("Receive after Close = %v, want %v", err, CodeClosed)
	}
	if err := conn.Connect("10.0.0.5", 6443, time.Second); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if got, want := conn.State(), StateConnected; got != want {
		t.Fatalf("State() = %v, want %v", got, want)
	}
}

func TestConnectAfterErrorRevives(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn, _ := NewConn(h.cfg)
	if err := conn.Connect("nosuchhost.test", 6443, time.Second); CodeOf(err) != CodeDNS {
		t.Fatalf("Connect = %v, want DNS failure", err)
	}

	h.listenSink(t, 6443)
	if err := conn.Connect("10.0.0.5", 6443, time.Second); err != nil {
		t.Fatalf("Connect after error: %v", err)
	}
	if conn.LastError() != nil {
		t.Fatalf("LastError() = %v after successful reconnect, want nil", conn.LastError())
	}
}

func TestReceiveRingOverflowDropsAndCounts(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	sink := h.listenSink(t, 6443)
	cfg := h.cfg
	cfg.RingSize = 64
	conn, _ := NewConn(cfg)
	if err := conn.Connect("10.0.0.5", 6443, time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// 200 bytes into a 64-byte ring with no reader: the overflow is
	// dropped, never overwriting unread data.
	sink.write(t, h, bytes.Repeat([]byte{'z'}, 200))
	buf := make([]byte, 256)
	n, err := conn.Receive(buf, time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if n != 63 {
		t.Fatalf("Receive = %d bytes, want 63 (ring capacity)", n)
	}
	if got := conn.ring.Dropped(); got == 0 {
		t.Fatal("Dropped() = 0, want overflow accounted")
	}
}
