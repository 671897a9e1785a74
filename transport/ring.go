// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package transport

// DefaultRingSize is the default receive ring capacity in bytes. Sized
// for one connection's worth of in-flight segments on a device with
// under 300KB of RAM; must be a power of two.
const DefaultRingSize = 4096

// Ring is a fixed-capacity circular byte buffer decoupling the stack's
// asynchronous receive callback (producer) from the synchronous
// protocol consumer. Capacity is a power of two so wraparound is a
// mask, and one slot is kept empty to disambiguate full from empty:
// usable capacity is N-1.
//
// The cooperative model needs no locking — the producer only runs
// inside a Poll call, which only happens at well-defined points in the
// consumer's own wait loop. But a Push can happen reentrantly from a
// Poll the consumer itself issued, so consumers must re-check
// Available after every Poll rather than trusting an earlier snapshot.
//
// Bytes arriving while the ring is full are dropped, never silently
// overwriting unread data; Dropped counts them for diagnostics.
type Ring struct {
	buf     []byte
	mask    uint32
	head    uint32 // write cursor, masked on use
	tail    uint32 // read cursor, masked on use
	dropped uint64
}

// NewRing creates a ring with the given capacity, which must be a
// power of two. Panics otherwise: capacity is a compile-time-style
// configuration constant, not runtime input.
func NewRing(capacity int) *Ring {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("transport: ring capacity must be a power of two")
	}
	return &Ring{
		buf:  make([]byte, capacity),
		mask: uint32(capacity - 1),
	}
}

// Available returns the number of unread bytes.
func (r *Ring) Available() int {
	return int((r.head - r.tail) & r.mask)
}

// FreeSpace returns how many more bytes Push will accept.
func (r *Ring) FreeSpace() int {
	return int(r.mask) - r.Available()
}

// Push appends one byte. Returns false when the ring is full; the byte
// is dropped and counted.
func (r *Ring) Push(b byte) bool {
	if r.FreeSpace() == 0 {
		r.dropped++
		return false
	}
	r.buf[r.head&r.mask] = b
	r.head = (r.head + 1) & r.mask
	return true
}

// PushSlice appends as much of p as fits and returns the number of
// bytes accepted. Bytes past capacity are dropped and counted.
func (r *Ring) PushSlice(p []byte) int {
	accepted := 0
	for _, b := range p {
		if r.FreeSpace() == 0 {
			r.dropped += uint64(len(p) - accepted)
			break
		}
		r.buf[r.head&r.mask] = b
		r.head = (r.head + 1) & r.mask
		accepted++
	}
	return accepted
}

// Pop removes and returns the oldest byte. ok is false when the ring
// is empty.
func (r *Ring) Pop() (b byte, ok bool) {
	if r.Available() == 0 {
		return 0, false
	}
	b = r.buf[r.tail&r.mask]
	r.tail = (r.tail + 1) & r.mask
	return b, true
}

// Drain copies up to len(p) unread bytes into p and returns the count.
func (r *Ring) Drain(p []byte) int {
	n := 0
	for n < len(p) && r.Available() > 0 {
		p[n] = r.buf[r.tail&r.mask]
		r.tail = (r.tail + 1) & r.mask
		n++
	}
	return n
}

// Reset discards all content and the drop counter. Called when a
// connection is (re)initialized.
func (r *Ring) Reset() {
	r.head = 0
	r.tail = 0
	r.dropped = 0
}

// Dropped returns the number of bytes dropped due to overflow since
// the last Reset.
func (r *Ring) Dropped() uint64 { return r.dropped }

// Capacity returns the usable capacity (one slot below the allocated
// size).
func (r *Ring) Capacity() int { return int(r.mask) }
