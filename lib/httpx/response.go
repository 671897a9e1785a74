// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package httpx

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Response is a parsed HTTP/1.1 response. Headers keep their received
// order; lookup is case-insensitive.
type Response struct {
	StatusCode int

	// ContentLength is -1 when the server did not announce one.
	ContentLength int

	// Chunked is set when the transfer encoding is chunked. The body
	// is left undecoded; the node's servers never send chunked
	// responses, so this is a diagnostic, not a code path.
	Chunked bool

	Body []byte

	headers []headerField
}

type headerField struct {
	name  string
	value string
}

// Header returns the first header with the given name,
// case-insensitively.
func (r *Response) Header(name string) (string, bool) {
	for _, h := range r.headers {
		if strings.EqualFold(h.name, name) {
			return h.value, true
		}
	}
	return "", false
}

// StatusText returns the conventional reason phrase for the codes the
// node encounters.
func StatusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 409:
		return "Conflict"
	case 422:
		return "Unprocessable Entity"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}

// ParseResponse parses raw wire bytes into a Response. The body is
// everything after the blank line, truncated to Content-Length when
// one was announced.
func ParseResponse(raw []byte) (*Response, error) {
	head, body, found := bytes.Cut(raw, []byte("\r\n\r\n"))
	if !found {
		return nil, errors.New("httpx: response headers not terminated")
	}
	lines := bytes.Split(head, []byte("\r\n"))

	resp := &Response{ContentLength: -1}
	if err := parseStatusLine(string(lines[0]), resp); err != nil {
		return nil, err
	}
	for _, line := range lines[1:] {
		name, value, found := bytes.Cut(line, []byte(":"))
		if !found {
			return nil, fmt.Errorf("httpx: malformed header line %q", line)
		}
		h := headerField{
			name:  string(bytes.TrimSpace(name)),
			value: string(bytes.TrimSpace(value)),
		}
		resp.headers = append(resp.headers, h)
		switch {
		case strings.EqualFold(h.name, "Content-Length"):
			n, err := strconv.Atoi(h.value)
			if err != nil {
				return nil, fmt.Errorf("httpx: bad Content-Length %q", h.value)
			}
			resp.ContentLength = n
		case strings.EqualFold(h.name, "Transfer-Encoding"):
			if strings.Contains(strings.ToLower(h.value), "chunked") {
				resp.Chunked = true
			}
		}
	}

	resp.Body = body
	if resp.ContentLength >= 0 && len(body) > resp.ContentLength {
		resp.Body = body[:resp.ContentLength]
	}
	return resp, nil
}

func parseStatusLine(line string, resp *Response) error {
	proto, rest, found := strings.Cut(line, " ")
	if !found || !strings.HasPrefix(proto, "HTTP/") {
		return fmt.Errorf("httpx: malformed status line %q", line)
	}
	codeStr, _, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil || code < 100 || code > 599 {
		return fmt.Errorf("httpx: bad status code in %q", line)
	}
	resp.StatusCode = code
	return nil
}
