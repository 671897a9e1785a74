// Copyright 2026 The Piconode Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
)

// Code classifies a transport failure. The taxonomy is fixed: transient
// stack conditions (would-block, no buffer space, allocation pressure)
// are retried internally within the caller's deadline and never appear
// here on their own — only deadline expiry converts them, to
// CodeTimeout. Everything else surfaces immediately.
type Code int

const (
	// CodeInvalidParam is caller misuse: bad arguments or an operation
	// in a state that does not permit it. Never retried.
	CodeInvalidParam Code = iota + 1
	// CodeDNS is a failed name resolution.
	CodeDNS
	// CodeConnect is a failed connection establishment.
	CodeConnect
	// CodeHandshake is a failed cryptographic handshake, including
	// peer certificate verification failures. Secure connections only.
	CodeHandshake
	// CodeSend is a non-transient write failure.
	CodeSend
	// CodeReceive is a non-transient read failure, including a
	// connection that entered the error state while a receive was
	// waiting.
	CodeReceive
	// CodeTimeout is a deadline that expired while the underlying
	// condition was still transient.
	CodeTimeout
	// CodeMemory is resource exhaustion in the stack: socket table
	// full, no memory for a socket.
	CodeMemory
	// CodeClosed is an operation on a connection that is already
	// closed or torn down.
	CodeClosed
	// CodeEngine is an opaque cryptographic engine failure, surfaced
	// for logging. Secure connections only.
	CodeEngine
)

// String returns the diagnostic name for the code.
func (c Code) String() string {
	switch c {
	case CodeInvalidParam:
		return "invalid parameter"
	case CodeDNS:
		return "dns failure"
	case CodeConnect:
		return "connect failure"
	case CodeHandshake:
		return "handshake failure"
	case CodeSend:
		return "send failure"
	case CodeReceive:
		return "receive failure"
	case CodeTimeout:
		return "timeout"
	case CodeMemory:
		return "memory exhaustion"
	case CodeClosed:
		return "closed"
	case CodeEngine:
		return "engine failure"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error is a typed transport failure: the operation that failed, its
// classification, and the underlying stack or engine cause when one
// exists.
type Error struct {
	// Op is the operation that failed: "connect", "send", "receive",
	// "handshake", "close".
	Op string
	// Code classifies the failure.
	Code Code
	// Err is the underlying cause, or nil when the classification is
	// the whole story (timeouts, caller misuse).
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("transport %s: %s", e.Op, e.Code)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the transport Code from err, or zero if err is not a
// transport error.
func CodeOf(err error) Code {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Code
	}
	return 0
}

// IsTimeout reports whether err is a transport deadline expiry.
func IsTimeout(err error) bool { return CodeOf(err) == CodeTimeout }

func newError(op string, code Code, cause error) *Error {
	return &Error{Op: op, Code: code, Err: cause}
}
