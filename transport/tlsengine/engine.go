// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package tlsengine

import (
	"crypto/tls"
	"errors"
	"io"
	"net"

	"github.com/piconode/piconode/transport"
)

// readChunk is the scratch size for moving ciphertext from the
// transport into the record layer.
const readChunk = 2048

// Engine adapts [crypto/tls] to the stepwise [transport.Engine]
// surface. The record layer sees an in-memory pipe as its net.Conn;
// the engine pumps ciphertext between that pipe and the bound
// transport on every step, so nothing here ever touches a real socket
// and every blocking decision stays with the connection's poll loop.
//
// The handshake itself runs on a short-lived internal goroutine,
// because crypto/tls only offers a run-to-completion handshake. Each
// Handshake step feeds the goroutine whatever ciphertext has arrived
// and reports would-block until the goroutine either finishes or
// starves waiting for the peer's next flight. Once the handshake
// completes the goroutine is gone: reads and writes run on the
// caller's thread against the nonblocking pipe.
//
// An Engine is reusable across connections: Bind resets it for a
// fresh session.
type Engine struct {
	config *tls.Config

	transport  transport.EngineTransport
	pipe       *pipe
	conn       *tls.Conn
	started    bool
	finished   bool
	fatal      error
	verifyErr  error
	pendingOut []byte
	done       chan error
}

var _ transport.Engine = (*Engine)(nil)

// NewClient creates a client-side engine. The config is used as given;
// callers set ServerName, RootCAs, client certificates, and, on
// devices without a trustworthy wall clock, the Time hook.
func NewClient(config *tls.Config) *Engine {
	return &Engine{config: config}
}

// Bind implements [transport.Engine], resetting all session state. A
// handshake goroutine left over from an abandoned session is woken
// with a closed pipe so it can exit.
func (e *Engine) Bind(t transport.EngineTransport) {
	if e.pipe != nil {
		e.pipe.close()
	}
	e.transport = t
	e.pipe = newPipe()
	e.conn = tls.Client(e.pipe, e.config)
	e.started = false
	e.finished = false
	e.fatal = nil
	e.verifyErr = nil
	e.pendingOut = nil
	e.done = make(chan error, 1)
}

// Handshake implements [transport.Engine]. Each call performs one
// pump-and-check step; the caller loops on would-block within its own
// deadline.
func (e *Engine) Handshake() error {
	if e.finished {
		return nil
	}
	if e.fatal != nil {
		return e.fatal
	}
	if e.conn == nil {
		return errors.New("tlsengine: handshake before bind")
	}
	justStarted := false
	if !e.started {
		e.started = true
		justStarted = true
		conn := e.conn
		done := e.done
		go func() {
			done <- conn.Handshake()
		}()
	}

	fedBytes, readErr := e.pumpIn()

	if !fedBytes && !justStarted {
		// Nothing new arrived, so the goroutine cannot have advanced;
		// only a completion that raced the previous step is worth
		// checking for.
		select {
		case err := <-e.done:
			return e.finishHandshake(err)
		default:
		}
		if err := e.pumpOut(); err != nil && !errors.Is(err, transport.ErrWantWrite) {
			return e.abort(err)
		}
		if readErr != nil {
			return e.abort(readErr)
		}
		return transport.ErrWantRead
	}

	// New ciphertext went in (or the goroutine just started and owes
	// its first flight): wait for it to finish or block wanting more.
	select {
	case err := <-e.done:
		return e.finishHandshake(err)
	case <-e.pipe.starved:
		if err := e.pumpOut(); err != nil && !errors.Is(err, transport.ErrWantWrite) {
			return e.abort(err)
		}
		if readErr != nil {
			return e.abort(readErr)
		}
		return transport.ErrWantRead
	}
}

// finishHandshake classifies the goroutine's result and flushes the
// final flight.
func (e *Engine) finishHandshake(err error) error {
	if flushErr := e.pumpOut(); flushErr != nil && !errors.Is(flushErr, transport.ErrWantWrite) && err == nil {
		err = flushErr
	}
	if err != nil {
		var certErr *tls.CertificateVerificationError
		if errors.As(err, &certErr) {
			e.verifyErr = err
		}
		return e.abort(err)
	}
	e.finished = true
	e.pipe.setNonblocking()
	return nil
}

func (e *Engine) abort(err error) error {
	e.fatal = err
	e.pipe.close()
	return err
}

// Write implements [transport.Engine]. The record layer encrypts on
// the caller's thread; backpressure from the transport surfaces as
// would-block before any new plaintext is accepted, keeping the
// outbound ciphertext buffer bounded.
func (e *Engine) Write(p []byte) (int, error) {
	if !e.finished {
		return 0, errors.New("tlsengine: write before handshake")
	}
	if err := e.pumpOut(); err != nil {
		return 0, err
	}
	n, err := e.conn.Write(p)
	if err != nil {
		return n, e.mapDataError(err)
	}
	if err := e.pumpOut(); err != nil && !errors.Is(err, transport.ErrWantWrite) {
		return n, err
	}
	return n, nil
}

// Read implements [transport.Engine]. Ciphertext is pumped in first;
// an empty record layer reports would-block, an orderly closure
// (close-notify or stream end) reports [io.EOF].
func (e *Engine) Read(p []byte) (int, error) {
	if !e.finished {
		return 0, errors.New("tlsengine: read before handshake")
	}
	if err := e.pumpOut(); err != nil && !errors.Is(err, transport.ErrWantWrite) {
		return 0, err
	}
	if _, err := e.pumpIn(); err != nil {
		if errors.Is(err, io.EOF) {
			e.pipe.feedEOF()
		} else {
			return 0, err
		}
	}
	n, err := e.conn.Read(p)
	if err != nil {
		return n, e.mapDataError(err)
	}
	return n, nil
}

// CloseNotify implements [transport.Engine], sending the close-notify
// alert without tearing down the transport.
func (e *Engine) CloseNotify() error {
	if !e.finished {
		return nil
	}
	if err := e.conn.CloseWrite(); err != nil {
		return err
	}
	if err := e.pumpOut(); err != nil && !errors.Is(err, transport.ErrWantWrite) {
		return err
	}
	return nil
}

// errHandshakeAbandoned is the sticky failure after Abandon; Bind
// clears it.
var errHandshakeAbandoned = errors.New("tlsengine: handshake abandoned")

// Abandon implements [transport.Engine]. Closing the pipe wakes a
// handshake goroutine parked on a flight that will never arrive; its
// result lands in the buffered done channel and is discarded when the
// next Bind replaces the channel.
func (e *Engine) Abandon() {
	if e.pipe == nil || e.finished {
		return
	}
	if e.fatal == nil {
		e.fatal = errHandshakeAbandoned
	}
	e.pipe.close()
}

// VerifyError implements [transport.Engine].
func (e *Engine) VerifyError() error { return e.verifyErr }

// ConnectionState exposes the negotiated session parameters after a
// successful handshake.
func (e *Engine) ConnectionState() tls.ConnectionState {
	return e.conn.ConnectionState()
}

// mapDataError translates record-layer errors into the engine
// contract.
func (e *Engine) mapDataError(err error) error {
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		return transport.ErrWantRead
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return io.EOF
	default:
		return err
	}
}

// pumpIn moves available ciphertext from the transport into the
// record layer. Reports whether anything moved; io.EOF from the
// transport is returned for the caller to translate.
func (e *Engine) pumpIn() (bool, error) {
	fed := false
	buf := make([]byte, readChunk)
	for {
		n, err := e.transport.Read(buf)
		if n > 0 {
			e.pipe.feed(buf[:n])
			fed = true
		}
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrWantRead):
			return fed, nil
		case errors.Is(err, io.EOF):
			e.pipe.feedEOF()
			return fed, io.EOF
		default:
			return fed, err
		}
	}
}

// pumpOut drains buffered outbound ciphertext into the transport,
// carrying any remainder across calls when the transport pushes back.
func (e *Engine) pumpOut() error {
	if len(e.pendingOut) == 0 {
		e.pendingOut = e.pipe.takeOut()
	}
	for len(e.pendingOut) > 0 {
		n, err := e.transport.Write(e.pendingOut)
		e.pendingOut = e.pendingOut[n:]
		if err != nil {
			if errors.Is(err, transport.ErrWantWrite) || errors.Is(err, transport.ErrWantRead) {
				return transport.ErrWantWrite
			}
			return err
		}
		if len(e.pendingOut) == 0 {
			e.pendingOut = e.pipe.takeOut()
		}
	}
	return nil
}
