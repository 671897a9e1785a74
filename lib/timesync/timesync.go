// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

// Package timesync keeps wall-clock time on a device with no RTC and
// no NTP. Every API-server response carries an RFC 1123 Date header;
// the sync records that instant against the local monotonic clock and
// extrapolates from there.
package timesync

import (
	"fmt"
	"time"

	"github.com/piconode/piconode/lib/clock"
)

// Accepted Date header layouts: RFC 1123 and its single-digit-day
// variant, which some servers emit.
var dateLayouts = []string{
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// Plausibility bounds on the parsed year. A header outside them means
// a confused server or a mangled response, not a time signal.
const (
	minYear = 2020
	maxYear = 2100
)

// Sync is the node's time reference. Not safe for concurrent use; the
// node is cooperative and single-threaded.
type Sync struct {
	clk    clock.Clock
	base   time.Time // wall time at the last sync
	baseAt time.Time // local clock reading at the last sync
	synced bool
}

// New creates an unsynced reference on the given clock.
func New(clk clock.Clock) *Sync {
	return &Sync{clk: clk}
}

// UpdateFromHeader records a time reference from a Date header value.
func (s *Sync) UpdateFromHeader(value string) error {
	var parsed time.Time
	var err error
	for _, layout := range dateLayouts {
		parsed, err = time.Parse(layout, value)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("timesync: unparseable Date header %q", value)
	}
	if y := parsed.Year(); y < minYear || y > maxYear {
		return fmt.Errorf("timesync: implausible year %d in Date header", y)
	}
	s.base = parsed.UTC()
	s.baseAt = s.clk.Now()
	s.synced = true
	return nil
}

// Synced reports whether a time reference has been recorded.
func (s *Sync) Synced() bool { return s.synced }

// Now returns the extrapolated wall time at second resolution, or the
// Unix epoch when no reference exists yet.
func (s *Sync) Now() time.Time {
	if !s.synced {
		return time.Unix(0, 0).UTC()
	}
	elapsed := s.clk.Now().Sub(s.baseAt)
	return s.base.Add(elapsed.Truncate(time.Second))
}

// iso8601Layout is the timestamp layout the cluster API expects.
const iso8601Layout = "2006-01-02T15:04:05Z"

// Format renders t as a cluster API timestamp.
func Format(t time.Time) string {
	return t.UTC().Format(iso8601Layout)
}

// ISO8601 formats Now in the layout the cluster API expects for
// timestamps. Unsynced, it returns the epoch placeholder.
func (s *Sync) ISO8601() string {
	return Format(s.Now())
}
