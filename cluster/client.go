// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

// Package cluster is the node's client for the cluster API server:
// node registration, periodic status reports, and the configmap poll.
// Every call opens a fresh connection, performs one HTTP exchange, and
// closes it. Connections are never pooled; the device-side transport
// holds exactly one socket at a time per connection object.
package cluster

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/piconode/piconode/lib/clock"
	"github.com/piconode/piconode/lib/httpx"
	"github.com/piconode/piconode/lib/timesync"
	"github.com/piconode/piconode/netstack"
	"github.com/piconode/piconode/transport"
	"github.com/piconode/piconode/transport/tlsengine"
)

// DefaultRequestTimeout bounds one full request cycle when the caller
// does not override it.
const DefaultRequestTimeout = 10 * time.Second

// requestLimit caps encoded request size. Node payloads carry
// per-condition timestamps and outgrow the transport default.
const requestLimit = 3072

// Config carries the client's collaborators and tuning. Host, Node
// name, and Stack are required.
type Config struct {
	// Host and Port locate the API server.
	Host string
	Port uint16

	// Node identifies this node in registration and status payloads.
	Node NodeSpec

	// Token, when set, is sent as a bearer token on every request.
	Token string

	// TLS enables the secure transport. A nil value sends plaintext,
	// for development servers and the loopback harness.
	TLS *tls.Config

	// Stack is the network stack connections are driven over.
	Stack netstack.Stack

	// Clock supplies time for deadlines. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives client diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Time, when set, is fed the Date header of every response.
	Time *timesync.Sync

	// RingSize and PollInterval tune the underlying connections; zero
	// means the transport defaults.
	RingSize     int
	PollInterval time.Duration

	// RequestTimeout bounds one request cycle end to end. Defaults to
	// DefaultRequestTimeout.
	RequestTimeout time.Duration

	// ResponseLimit caps accumulated response bytes; zero means
	// httpx.DefaultResponseLimit.
	ResponseLimit int
}

// Client issues API-server requests. Not safe for concurrent use: the
// cooperative loop is single-threaded and the client reuses one TLS
// engine across request cycles.
type Client struct {
	cfg    Config
	logger *slog.Logger
	engine *tlsengine.Engine

	// transition is the lastTransitionTime stamped on every condition,
	// pinned at the first payload built with a usable time reference.
	transition string
}

// New validates the configuration and builds a client.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("cluster: host is required")
	}
	if cfg.Node.Name == "" {
		return nil, errors.New("cluster: node name is required")
	}
	if cfg.Stack == nil {
		return nil, errors.New("cluster: stack is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 6443
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	c := &Client{cfg: cfg, logger: cfg.Logger}
	if cfg.TLS != nil {
		c.engine = tlsengine.NewClient(cfg.TLS)
	}
	return c, nil
}

// StatusError is a response with an unexpected HTTP status.
type StatusError struct {
	Method string
	Path   string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cluster: %s %s: %d %s",
		e.Method, e.Path, e.Status, httpx.StatusText(e.Status))
}

// RegisterNode creates the Node object. A conflict means the node
// already exists from a previous boot; registration then falls through
// to a status update, which is the operation the server actually
// wants at that point.
func (c *Client) RegisterNode() error {
	payload, err := c.nodePayload()
	if err != nil {
		return err
	}
	resp, err := c.do("POST", "/api/v1/nodes", "application/json", payload)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case 200, 201, 202:
		c.logger.Info("node registered", "node", c.cfg.Node.Name)
		return nil
	case 409:
		c.logger.Debug("node already exists, updating status instead",
			"node", c.cfg.Node.Name)
		return c.ReportStatus()
	}
	return &StatusError{Method: "POST", Path: "/api/v1/nodes", Status: resp.StatusCode}
}

// ReportStatus patches the node's status subresource with the current
// payload, keeping the Ready condition fresh.
func (c *Client) ReportStatus() error {
	payload, err := c.nodePayload()
	if err != nil {
		return err
	}
	path := "/api/v1/nodes/" + c.cfg.Node.Name + "/status"
	resp, err := c.do("PATCH", path, "application/merge-patch+json", payload)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case 200, 201:
		c.logger.Debug("node status reported", "node", c.cfg.Node.Name)
		return nil
	}
	return &StatusError{Method: "PATCH", Path: path, Status: resp.StatusCode}
}

// nodePayload encodes the node with condition timestamps from the
// attached time reference. The heartbeat tracks the current time; the
// transition time pins at the first payload built after time sync,
// since condition statuses never change at runtime. Without a time
// reference both stay at the epoch placeholder.
func (c *Client) nodePayload() ([]byte, error) {
	heartbeat := timesync.Format(time.Unix(0, 0))
	if c.cfg.Time != nil {
		heartbeat = c.cfg.Time.ISO8601()
	}
	if c.transition == "" && (c.cfg.Time == nil || c.cfg.Time.Synced()) {
		c.transition = heartbeat
	}
	transition := c.transition
	if transition == "" {
		transition = heartbeat
	}
	return encodeNode(c.cfg.Node, heartbeat, transition)
}

// conn is the piece of the transport connections a request cycle
// drives. Both the plain and secure variants satisfy it.
type conn interface {
	Connect(host string, port uint16, timeout time.Duration) error
	Send(p []byte, timeout time.Duration) (int, error)
	Receive(p []byte, timeout time.Duration) (int, error)
	Close()
}

func (c *Client) dial() (conn, error) {
	tcfg := transport.Config{
		Stack:        c.cfg.Stack,
		Clock:        c.cfg.Clock,
		Logger:       c.logger,
		RingSize:     c.cfg.RingSize,
		PollInterval: c.cfg.PollInterval,
	}
	if c.engine != nil {
		return transport.NewSecureConn(tcfg, c.engine)
	}
	return transport.NewConn(tcfg)
}

// do runs one full request cycle: connect, exchange, close. The
// response Date header feeds the time reference when one is attached.
func (c *Client) do(method, path, contentType string, body []byte) (*httpx.Response, error) {
	cn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer cn.Close()

	timeout := c.cfg.RequestTimeout
	if err := cn.Connect(c.cfg.Host, c.cfg.Port, timeout); err != nil {
		return nil, fmt.Errorf("cluster: connect %s:%d: %w", c.cfg.Host, c.cfg.Port, err)
	}

	req := &httpx.Request{
		Method:        method,
		Host:          c.cfg.Host,
		Port:          c.cfg.Port,
		Path:          path,
		Body:          body,
		ContentType:   contentType,
		Authorization: c.cfg.Token,
		Limit:         requestLimit,
	}
	resp, err := httpx.Exchange(cn, req, timeout, c.cfg.ResponseLimit)
	if err != nil {
		return nil, fmt.Errorf("cluster: %s %s: %w", method, path, err)
	}

	if c.cfg.Time != nil {
		if date, ok := resp.Header("Date"); ok {
			if uerr := c.cfg.Time.UpdateFromHeader(date); uerr != nil {
				c.logger.Debug("unusable date header", "value", date, "error", uerr)
			}
		}
	}
	return resp, nil
}

func decodeJSON(resp *httpx.Response, v any) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("cluster: decode response: %w", err)
	}
	return nil
}
