// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package tlsengine

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"
)

// errWouldBlock is returned by the pipe's nonblocking reads. It
// reports itself temporary so crypto/tls treats it as a retryable
// condition instead of poisoning the connection.
type wouldBlockError struct{}

func (wouldBlockError) Error() string   { return "tlsengine: operation would block" }
func (wouldBlockError) Timeout() bool   { return true }
func (wouldBlockError) Temporary() bool { return true }

var errWouldBlock net.Error = wouldBlockError{}

// pipe is the in-memory wire between the TLS record layer and the
// engine's pump. The record layer sits on the [net.Conn] side; the
// pump feeds inbound ciphertext with feed and drains outbound
// ciphertext with takeOut.
//
// During the handshake the record layer runs on its own goroutine and
// reads block; the starved channel tells the pump the goroutine has
// consumed everything and is waiting for the next flight. After the
// handshake the engine flips the pipe to nonblocking so reads on the
// caller's own thread return errWouldBlock instead of stalling.
type pipe struct {
	mu          sync.Mutex
	in          bytes.Buffer
	out         bytes.Buffer
	eof         bool
	closed      bool
	nonblocking bool

	starved chan struct{}
	fed     chan struct{}
}

func newPipe() *pipe {
	return &pipe{
		starved: make(chan struct{}, 1),
		fed:     make(chan struct{}, 1),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// feed appends inbound ciphertext and wakes a blocked reader.
func (p *pipe) feed(data []byte) {
	p.mu.Lock()
	p.in.Write(data)
	p.mu.Unlock()
	signal(p.fed)
}

// feedEOF marks an orderly end of the inbound stream.
func (p *pipe) feedEOF() {
	p.mu.Lock()
	p.eof = true
	p.mu.Unlock()
	signal(p.fed)
}

// takeOut moves all buffered outbound ciphertext to the caller.
func (p *pipe) takeOut() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out.Len() == 0 {
		return nil
	}
	data := append([]byte(nil), p.out.Bytes()...)
	p.out.Reset()
	return data
}

// setNonblocking switches reads from goroutine-blocking to
// would-block semantics. Done once, when the handshake completes and
// the record layer moves onto the caller's thread.
func (p *pipe) setNonblocking() {
	p.mu.Lock()
	p.nonblocking = true
	p.mu.Unlock()
	signal(p.fed)
}

// close wakes any blocked reader with a permanent error, abandoning
// the handshake goroutine if one is still waiting on a flight that
// will never arrive.
func (p *pipe) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	signal(p.fed)
}

// Read implements [net.Conn] for the record layer.
func (p *pipe) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		switch {
		case p.in.Len() > 0:
			n, _ := p.in.Read(b)
			p.mu.Unlock()
			return n, nil
		case p.closed:
			p.mu.Unlock()
			return 0, io.ErrClosedPipe
		case p.eof:
			p.mu.Unlock()
			return 0, io.EOF
		case p.nonblocking:
			p.mu.Unlock()
			return 0, errWouldBlock
		}
		p.mu.Unlock()
		signal(p.starved)
		<-p.fed
	}
}

// Write implements [net.Conn] for the record layer. Outbound
// ciphertext is buffered; the pump drains it to the transport.
func (p *pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.out.Write(b)
	return len(b), nil
}

// Close implements [net.Conn].
func (p *pipe) Close() error {
	p.close()
	return nil
}

// The record layer never consults addresses or deadlines here: the
// engine's pump owns all timing.

func (p *pipe) LocalAddr() net.Addr              { return pipeAddr{} }
func (p *pipe) RemoteAddr() net.Addr             { return pipeAddr{} }
func (p *pipe) SetDeadline(time.Time) error      { return nil }
func (p *pipe) SetReadDeadline(time.Time) error  { return nil }
func (p *pipe) SetWriteDeadline(time.Time) error { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "tlsengine" }
func (pipeAddr) String() string  { return "tlsengine" }
