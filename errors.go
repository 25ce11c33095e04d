//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package gensio

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// errKind distinguishes the fixed error taxonomy the transport reports
// upward for argument, lifecycle and OS failures, with OsError carrying
// the verbatim syscall error as its cause. Read/write deadline, closed
// and EAGAIN conditions are reported as netError values instead.
type errKind int

const (
	kindInvalidArgument errKind = iota
	kindTooBig
	kindOutOfMemory
	kindBusy
	kindUnsupported
	kindOsError
)

// GensioError is the typed error for the kinds above. Use errors.Is against the sentinel Err* values to test
// the kind, and errors.Unwrap/errors.As to reach a wrapped OS error.
type GensioError struct {
	kind errKind
	msg  string
	// cause is the underlying OS error for kindOsError; nil otherwise.
	cause error
}

// Error implements error.
func (e *GensioError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.cause)
	}
	return e.msg
}

// Unwrap lets errors.Is/errors.As see through to the OS cause.
func (e *GensioError) Unwrap() error {
	return e.cause
}

// Is reports whether target is the same error kind, so that
// errors.Is(err, ErrInvalidArgument) works regardless of message text.
func (e *GensioError) Is(target error) bool {
	t, ok := target.(*GensioError)
	if !ok {
		return false
	}
	return t.kind == e.kind && t.cause == nil
}

// Sentinel kind markers. Compare with errors.Is, not ==, since concrete
// errors carry a message and (for OsError) a wrapped cause.
var (
	// ErrInvalidArgument: malformed/unknown argument key, unrecognized
	// aux tag, or a non-TCP/non-bindable address string.
	ErrInvalidArgument = &GensioError{kind: kindInvalidArgument, msg: "invalid argument"}
	// ErrTooBig: an address entry exceeds generic sockaddr storage.
	ErrTooBig = &GensioError{kind: kindTooBig, msg: "address too big"}
	// ErrOutOfMemory: allocation failed while building owned state.
	ErrOutOfMemory = &GensioError{kind: kindOutOfMemory, msg: "out of memory"}
	// ErrBusy: a lifecycle operation was invoked in the wrong state.
	ErrBusy = &GensioError{kind: kindBusy, msg: "busy"}
	// ErrUnsupported: unknown control or dispatcher operation.
	ErrUnsupported = &GensioError{kind: kindUnsupported, msg: "unsupported"}
)

// invalidArgf builds an ErrInvalidArgument with a formatted message.
func invalidArgf(format string, args ...any) error {
	return &GensioError{kind: kindInvalidArgument, msg: fmt.Sprintf(format, args...)}
}

func tooBigf(format string, args ...any) error {
	return &GensioError{kind: kindTooBig, msg: fmt.Sprintf(format, args...)}
}

func busyf(format string, args ...any) error {
	return &GensioError{kind: kindBusy, msg: fmt.Sprintf(format, args...)}
}

func unsupportedf(format string, args ...any) error {
	return &GensioError{kind: kindUnsupported, msg: fmt.Sprintf(format, args...)}
}

// OsError wraps a raw OS-level error (usually a unix.Errno from a
// syscall) without losing it, so logging and tests can round-trip the
// original code via errors.As/errors.Unwrap.
func OsError(cause error) error {
	if cause == nil {
		return nil
	}
	return &GensioError{kind: kindOsError, msg: "os error", cause: cause}
}

// wrapOs wraps cause as an OsError annotated with a human context.
func wrapOs(cause error, context string) error {
	if cause == nil {
		return nil
	}
	return &GensioError{kind: kindOsError, msg: context, cause: errors.WithStack(cause)}
}

// netError satisfies net.Error for the small set of places (Read/Write
// deadlines, EAGAIN) that need Timeout()/Temporary() semantics rather
// than the typed GensioError kinds above.
type netError struct {
	error
	isTimeout bool
}

// Timeout implements net.Error.
func (e netError) Timeout() bool {
	return e.isTimeout
}

// Temporary implements net.Error.
func (e netError) Temporary() bool {
	switch e.error {
	case unix.EAGAIN, unix.ECONNRESET, unix.ECONNABORTED:
		return true
	default:
		return false
	}
}
