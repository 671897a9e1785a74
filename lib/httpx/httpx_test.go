// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package httpx

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEncodeGet(t *testing.T) {
	t.Parallel()
	req := &Request{
		Method: "GET",
		Host:   "apiserver.test",
		Port:   6443,
		Path:   "/api/v1/nodes/pico-node-1",
	}
	wire, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got := string(wire)
	wantLines := []string{
		"GET /api/v1/nodes/pico-node-1 HTTP/1.1\r\n",
		"Host: apiserver.test:6443\r\n",
		"User-Agent: piconode/1.0\r\n",
		"Accept: application/json\r\n",
		"Connection: close\r\n",
	}
	for _, line := range wantLines {
		if !strings.Contains(got, line) {
			t.Errorf("request missing %q:\n%s", line, got)
		}
	}
	if !strings.HasSuffix(got, "\r\n\r\n") {
		t.Error("request does not end with a blank line")
	}
	if strings.Contains(got, "Content-Length") {
		t.Error("bodyless request carries Content-Length")
	}
}

func TestEncodeBodyHeaders(t *testing.T) {
	t.Parallel()
	body := []byte(`{"kind":"Node"}`)
	req := &Request{
		Method:      "PATCH",
		Host:        "10.0.0.5",
		Port:        6443,
		Path:        "/api/v1/nodes/pico-node-1/status",
		Body:        body,
		ContentType: "application/merge-patch+json",
	}
	wire, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got := string(wire)
	if !strings.Contains(got, "Content-Type: application/merge-patch+json\r\n") {
		t.Errorf("missing merge-patch content type:\n%s", got)
	}
	if !strings.Contains(got, "Content-Length: 15\r\n") {
		t.Errorf("missing content length:\n%s", got)
	}
	if !bytes.HasSuffix(wire, body) {
		t.Error("body not at end of request")
	}
}

func TestEncodeValidation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		req  Request
	}{
		{"missing method", Request{Host: "h", Path: "/"}},
		{"missing host", Request{Method: "GET", Path: "/"}},
		{"relative path", Request{Method: "GET", Host: "h", Path: "healthz"}},
	}
	for _, tc := range cases {
		if _, err := tc.req.Encode(); err == nil {
			t.Errorf("%s: Encode succeeded", tc.name)
		}
	}
}

func TestEncodeLimit(t *testing.T) {
	t.Parallel()
	req := &Request{
		Method: "POST",
		Host:   "h",
		Port:   1,
		Path:   "/",
		Body:   bytes.Repeat([]byte{'a'}, DefaultRequestLimit),
	}
	if _, err := req.Encode(); !errors.Is(err, ErrRequestTooLarge) {
		t.Fatalf("Encode = %v, want %v", err, ErrRequestTooLarge)
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()
	raw := []byte("HTTP/1.1 201 Created\r\n" +
		"content-type: application/json\r\n" +
		"Date: Fri, 23 Jan 2026 16:30:45 GMT\r\n" +
		"Content-Length: 9\r\n" +
		"\r\n" +
		"{\"ok\":1}\ntrailing-garbage")
	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.StatusCode != 201 {
		t.Errorf("StatusCode = %d, want 201", resp.StatusCode)
	}
	if resp.ContentLength != 9 {
		t.Errorf("ContentLength = %d, want 9", resp.ContentLength)
	}
	// Lookup is case-insensitive regardless of received casing.
	if v, ok := resp.Header("Content-Type"); !ok || v != "application/json" {
		t.Errorf("Header(Content-Type) = (%q, %v)", v, ok)
	}
	if v, ok := resp.Header("DATE"); !ok || v != "Fri, 23 Jan 2026 16:30:45 GMT" {
		t.Errorf("Header(DATE) = (%q, %v)", v, ok)
	}
	if _, ok := resp.Header("X-Missing"); ok {
		t.Error("Header(X-Missing) found")
	}
	// Body is truncated to the announced length.
	if string(resp.Body) != "{\"ok\":1}\n" {
		t.Errorf("Body = %q", resp.Body)
	}
}

func TestParseResponseChunkedFlag(t *testing.T) {
	t.Parallel()
	raw := []byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n")
	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if !resp.Chunked {
		t.Error("Chunked = false")
	}
	if resp.ContentLength != -1 {
		t.Errorf("ContentLength = %d, want -1", resp.ContentLength)
	}
}

func TestParseResponseMalformed(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		raw  string
	}{
		{"no header terminator", "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n"},
		{"no status code", "HTTP/1.1\r\n\r\n"},
		{"not http", "ICY 200 OK\r\n\r\n"},
		{"bad status code", "HTTP/1.1 abc OK\r\n\r\n"},
		{"bad header line", "HTTP/1.1 200 OK\r\nno-colon-here\r\n\r\n"},
		{"bad content length", "HTTP/1.1 200 OK\r\nContent-Length: many\r\n\r\n"},
	}
	for _, tc := range cases {
		if _, err := ParseResponse([]byte(tc.raw)); err == nil {
			t.Errorf("%s: ParseResponse succeeded", tc.name)
		}
	}
}

func TestStatusText(t *testing.T) {
	t.Parallel()
	if got, want := StatusText(409), "Conflict"; got != want {
		t.Errorf("StatusText(409) = %q, want %q", got, want)
	}
	if got, want := StatusText(418), "Unknown"; got != want {
		t.Errorf("StatusText(418) = %q, want %q", got, want)
	}
}

// scriptConn feeds a canned response in fixed-size slices and records
// what was sent, standing in for a transport connection.
type scriptConn struct {
	sent     []byte
	response []byte
	offset   int
	step     int
	err      error // returned once the script is exhausted
}

func (c *scriptConn) Send(p []byte, timeout time.Duration) (int, error) {
	c.sent = append(c.sent, p...)
	return len(p), nil
}

func (c *scriptConn) Receive(p []byte, timeout time.Duration) (int, error) {
	if c.offset >= len(c.response) {
		if c.err != nil {
			return 0, c.err
		}
		return 0, nil
	}
	n := c.step
	if n == 0 || n > len(p) {
		n = len(p)
	}
	if n > len(c.response)-c.offset {
		n = len(c.response) - c.offset
	}
	copy(p, c.response[c.offset:c.offset+n])
	c.offset += n
	return n, nil
}

func TestExchange(t *testing.T) {
	t.Parallel()
	conn := &scriptConn{
		// Dribble the response three bytes at a time to exercise
		// reassembly.
		response: []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"),
		step:     3,
	}
	req := &Request{Method: "GET", Host: "h", Port: 10250, Path: "/healthz"}
	resp, err := Exchange(conn, req, time.Second, 0)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if resp.StatusCode != 200 || string(resp.Body) != "ok" {
		t.Fatalf("Exchange = %d %q", resp.StatusCode, resp.Body)
	}
	if !bytes.HasPrefix(conn.sent, []byte("GET /healthz HTTP/1.1\r\n")) {
		t.Fatalf("request on the wire = %q", conn.sent)
	}
}

func TestExchangeBodyByConnectionClose(t *testing.T) {
	t.Parallel()
	conn := &scriptConn{
		response: []byte("HTTP/1.1 200 OK\r\n\r\nuntil-close"),
	}
	req := &Request{Method: "GET", Host: "h", Port: 1, Path: "/"}
	resp, err := Exchange(conn, req, time.Second, 0)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if string(resp.Body) != "until-close" {
		t.Fatalf("Body = %q", resp.Body)
	}
}

func TestExchangeReceiveError(t *testing.T) {
	t.Parallel()
	conn := &scriptConn{
		response: []byte("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\npartial"),
		err:      errors.New("link reset"),
	}
	req := &Request{Method: "GET", Host: "h", Port: 1, Path: "/"}
	if _, err := Exchange(conn, req, time.Second, 0); err == nil {
		t.Fatal("Exchange succeeded on a truncated response")
	}
}

func TestExchangeResponseTooLarge(t *testing.T) {
	t.Parallel()
	huge := append([]byte("HTTP/1.1 200 OK\r\n\r\n"), bytes.Repeat([]byte{'x'}, 5000)...)
	conn := &scriptConn{response: huge}
	req := &Request{Method: "GET", Host: "h", Port: 1, Path: "/"}
	if _, err := Exchange(conn, req, time.Second, 4096); !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("Exchange = %v, want %v", err, ErrResponseTooLarge)
	}
}

func TestExchangeEmptyStream(t *testing.T) {
	t.Parallel()
	conn := &scriptConn{}
	req := &Request{Method: "GET", Host: "h", Port: 1, Path: "/"}
	if _, err := Exchange(conn, req, time.Second, 0); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("Exchange = %v, want %v", err, ErrIncomplete)
	}
}
