// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpx is the minimal HTTP/1.1 surface the node needs:
// request formatting, response parsing, and a single-shot exchange
// over a blocking-style connection.
//
// The node always speaks one-request-per-connection with
// "Connection: close", so there is no keep-alive, pipelining, or
// chunked-body decoding here; a chunked response is flagged for the
// caller. net/http wants a net.Conn and its own goroutines, which is
// exactly the machinery the cooperative transport exists to avoid.
package httpx

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Buffer bounds, sized for API-server interactions on a small device.
const (
	DefaultRequestLimit  = 2048
	DefaultResponseLimit = 4096
)

// userAgent identifies the node to the API server.
const userAgent = "piconode/1.0"

var (
	ErrRequestTooLarge  = errors.New("httpx: request exceeds buffer limit")
	ErrResponseTooLarge = errors.New("httpx: response exceeds buffer limit")
	ErrIncomplete       = errors.New("httpx: connection ended mid-response")
)

// Request describes one outbound HTTP/1.1 request. A non-nil Body
// adds Content-Type (application/json unless overridden) and
// Content-Length headers.
type Request struct {
	Method      string
	Host        string
	Port        uint16
	Path        string
	Body        []byte
	ContentType string

	// Authorization, when set, is sent as a bearer token.
	Authorization string

	// Limit caps the encoded request size; zero means
	// DefaultRequestLimit.
	Limit int
}

// Encode renders the request wire bytes.
func (r *Request) Encode() ([]byte, error) {
	if r.Method == "" || r.Host == "" || r.Path == "" {
		return nil, errors.New("httpx: method, host, and path are required")
	}
	if r.Path[0] != '/' {
		return nil, fmt.Errorf("httpx: path %q is not absolute", r.Path)
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", r.Method, r.Path)
	fmt.Fprintf(&b, "Host: %s:%d\r\n", r.Host, r.Port)
	fmt.Fprintf(&b, "User-Agent: %s\r\n", userAgent)
	b.WriteString("Accept: application/json\r\n")
	b.WriteString("Connection: close\r\n")
	if r.Authorization != "" {
		fmt.Fprintf(&b, "Authorization: Bearer %s\r\n", r.Authorization)
	}
	if r.Body != nil {
		contentType := r.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(r.Body))
		b.WriteString("\r\n")
		b.Write(r.Body)
	} else {
		b.WriteString("\r\n")
	}
	limit := r.Limit
	if limit == 0 {
		limit = DefaultRequestLimit
	}
	if b.Len() > limit {
		return nil, ErrRequestTooLarge
	}
	return b.Bytes(), nil
}

// Conn is the connection surface an exchange needs: the blocking-style
// send/receive pair of the transport connections.
type Conn interface {
	Send(p []byte, timeout time.Duration) (int, error)
	Receive(p []byte, timeout time.Duration) (int, error)
}

// Exchange sends the request and accumulates the response until the
// body is complete per Content-Length, the peer closes, or the
// response limit is hit. timeout bounds the send and each receive
// step. limit zero means DefaultResponseLimit.
func Exchange(conn Conn, req *Request, timeout time.Duration, limit int) (*Response, error) {
	if limit == 0 {
		limit = DefaultResponseLimit
	}
	wire, err := req.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := conn.Send(wire, timeout); err != nil {
		return nil, fmt.Errorf("httpx: send: %w", err)
	}

	raw := make([]byte, 0, 512)
	chunk := make([]byte, 512)
	for {
		if complete(raw) {
			break
		}
		if len(raw) >= limit {
			return nil, ErrResponseTooLarge
		}
		n, err := conn.Receive(chunk, timeout)
		if n > 0 {
			raw = append(raw, chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("httpx: receive after %d bytes: %w", len(raw), err)
		}
		// Orderly close: the response is whatever arrived.
		break
	}
	if len(raw) == 0 {
		return nil, ErrIncomplete
	}
	return ParseResponse(raw)
}

// complete reports whether raw already holds a full response: headers
// terminated and, when a Content-Length was announced, that many body
// bytes present.
func complete(raw []byte) bool {
	head, body, found := bytes.Cut(raw, []byte("\r\n\r\n"))
	if !found {
		return false
	}
	length, ok := scanContentLength(head)
	if !ok {
		// Body delimited by connection close.
		return false
	}
	return len(body) >= length
}

func scanContentLength(head []byte) (int, bool) {
	for _, line := range bytes.Split(head, []byte("\r\n")) {
		name, value, found := bytes.Cut(line, []byte(":"))
		if !found || !bytes.EqualFold(bytes.TrimSpace(name), []byte("Content-Length")) {
			continue
		}
		n, err := strconv.Atoi(string(bytes.TrimSpace(value)))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
