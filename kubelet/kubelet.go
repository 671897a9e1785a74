// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

// Package kubelet serves the node-agent endpoint the cluster probes:
// a health check and an empty metrics page. It runs directly on the
// event-driven stack with no blocking bridge; each connection is a
// short callback chain that captures one request, writes one canned
// response, and closes.
package kubelet

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/piconode/piconode/netstack"
)

// requestLimit caps how much of a request is captured. Probes fit in
// far less; anything longer is answered from what arrived.
const requestLimit = 512

// Canned responses. Every reply closes the connection.
var (
	healthzResponse = []byte("HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: 2\r\n" +
		"Connection: close\r\n" +
		"\r\n" +
		"ok")

	metricsResponse = []byte("HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/plain; version=0.0.4\r\n" +
		"Content-Length: 0\r\n" +
		"Connection: close\r\n" +
		"\r\n")

	notFoundResponse = []byte("HTTP/1.1 404 Not Found\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: 9\r\n" +
		"Connection: close\r\n" +
		"\r\n" +
		"Not Found")
)

// Stats counts requests served since the listener was opened.
type Stats struct {
	Healthz  uint64
	Metrics  uint64
	NotFound uint64
}

// Server is the listening endpoint. All progress happens inside the
// stack's Poll; the server only registers callbacks.
type Server struct {
	listener netstack.Listener
	logger   *slog.Logger
	stats    Stats
}

// Listen binds the endpoint on port. logger may be nil.
func Listen(stack netstack.Stack, port uint16, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{logger: logger}
	listener, err := stack.Listen(port, s.accept)
	if err != nil {
		return nil, fmt.Errorf("kubelet: listen on %d: %w", port, err)
	}
	s.listener = listener
	s.logger.Info("kubelet endpoint listening", "port", port)
	return s, nil
}

// Stats returns the request counts so far.
func (s *Server) Stats() Stats { return s.stats }

// Close stops accepting connections.
func (s *Server) Close() error { return s.listener.Close() }

func (s *Server) accept(sock netstack.Socket) {
	var buf []byte
	responded := false
	sock.OnError(func(err error) {
		s.logger.Debug("kubelet connection failed", "error", err)
	})
	sock.OnReceive(func(data []byte) {
		if data == nil {
			sock.ClearCallbacks()
			sock.Close()
			return
		}
		if responded {
			return
		}
		if room := requestLimit - len(buf); len(data) > room {
			data = data[:room]
		}
		buf = append(buf, data...)

		response := s.route(buf)
		if response == nil {
			// Request line not complete yet; wait for more bytes
			// unless the buffer is already full.
			if len(buf) < requestLimit {
				return
			}
			response = notFoundResponse
		}
		responded = true
		if err := sock.Write(response); err != nil {
			s.logger.Warn("kubelet response dropped", "error", err)
			sock.ClearCallbacks()
			sock.Abort()
			return
		}
		sock.Flush()
		sock.ClearCallbacks()
		sock.Close()
	})
}

// route picks the response once a full request line has arrived. A nil
// return means the routing prefix is still incomplete.
func (s *Server) route(buf []byte) []byte {
	if !bytes.Contains(buf, []byte("\r\n")) {
		return nil
	}
	switch {
	case bytes.HasPrefix(buf, []byte("GET /healthz ")):
		s.stats.Healthz++
		s.logger.Debug("kubelet request", "path", "/healthz")
		return healthzResponse
	case bytes.HasPrefix(buf, []byte("GET /metrics ")):
		s.stats.Metrics++
		s.logger.Debug("kubelet request", "path", "/metrics")
		return metricsResponse
	default:
		s.stats.NotFound++
		s.logger.Debug("kubelet request rejected")
		return notFoundResponse
	}
}
