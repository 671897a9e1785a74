// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

// Package memregion manages the node's remotely configurable byte
// region. A cluster ConfigMap carries compact update strings
// ("offset=value" pairs); the region applies them with bounds checks
// and can render itself as a hex dump for diagnostics.
package memregion

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultSize is the region size when none is configured.
const DefaultSize = 1024

// Region is a fixed-size, zero-initialized byte region. Not safe for
// concurrent use; the node is cooperative and single-threaded.
type Region struct {
	buf []byte
}

// New creates a zeroed region of the given size; size <= 0 means
// DefaultSize.
func New(size int) *Region {
	if size <= 0 {
		size = DefaultSize
	}
	return &Region{buf: make([]byte, size)}
}

// Size returns the region size in bytes.
func (r *Region) Size() int { return len(r.buf) }

// ReadByte returns the byte at offset.
func (r *Region) ReadByte(offset int) (byte, error) {
	if offset < 0 || offset >= len(r.buf) {
		return 0, fmt.Errorf("memregion: read offset %d out of bounds (size %d)", offset, len(r.buf))
	}
	return r.buf[offset], nil
}

// WriteByte stores value at offset.
func (r *Region) WriteByte(offset int, value byte) error {
	if offset < 0 || offset >= len(r.buf) {
		return fmt.Errorf("memregion: write offset %d out of bounds (size %d)", offset, len(r.buf))
	}
	r.buf[offset] = value
	return nil
}

// ApplyUpdates parses a comma-separated update string of
// "offset=value" pairs and applies each valid one. Offsets are
// decimal; values are hex with an 0x prefix, decimal otherwise, and
// must fit a byte. Invalid tokens and out-of-bounds offsets are
// skipped, not fatal: one bad pair must not block the rest of a
// ConfigMap. Returns the number of bytes written.
func (r *Region) ApplyUpdates(updates string) int {
	applied := 0
	for _, token := range strings.Split(updates, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		offset, value, ok := parseUpdate(token)
		if !ok {
			continue
		}
		if r.WriteByte(offset, value) == nil {
			applied++
		}
	}
	return applied
}

func parseUpdate(token string) (offset int, value byte, ok bool) {
	offsetStr, valueStr, found := strings.Cut(token, "=")
	if !found {
		return 0, 0, false
	}
	off, err := strconv.ParseUint(strings.TrimSpace(offsetStr), 10, 32)
	if err != nil {
		return 0, 0, false
	}
	valueStr = strings.TrimSpace(valueStr)
	base := 10
	if rest, isHex := cutHexPrefix(valueStr); isHex {
		valueStr = rest
		base = 16
	}
	val, err := strconv.ParseUint(valueStr, base, 8)
	if err != nil {
		return 0, 0, false
	}
	return int(off), byte(val), true
}

func cutHexPrefix(s string) (string, bool) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:], true
	}
	return s, false
}

// Bytes exposes the backing region. Callers treat it as read-only.
func (r *Region) Bytes() []byte { return r.buf }

// Dump renders the region as a conventional hex dump, sixteen bytes
// per line with an ASCII gutter.
func (r *Region) Dump() string {
	var b strings.Builder
	for i := 0; i < len(r.buf); i += 16 {
		fmt.Fprintf(&b, "%04x: ", i)
		for j := 0; j < 16; j++ {
			if i+j < len(r.buf) {
				fmt.Fprintf(&b, "%02x ", r.buf[i+j])
			} else {
				b.WriteString("   ")
			}
		}
		b.WriteString(" | ")
		for j := 0; j < 16 && i+j < len(r.buf); j++ {
			c := r.buf[i+j]
			if c >= 32 && c <= 126 {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
