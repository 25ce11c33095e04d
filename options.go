//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package gensio

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gensio-go/tcpgensio/internal/poller"
)

// SetNumPollers is used to set the number of pollers. Generally it is not actively used.
// Note that n can't be smaller than the current poller numbers.
//
// NOTE: the default poller number is 1.
func SetNumPollers(n int) error {
	return poller.SetNumPollers(n)
}

// NumPollers returns the current number of pollers.
func NumPollers() int {
	return poller.NumPollers()
}

// EnablePollerGoschedAfterEvent enables calling runtime.Gosched() after processing of each event
// during epoll wait handling.
// This function can only be called inside func init().
func EnablePollerGoschedAfterEvent() {
	poller.GoschedAfterEvent = true
}

// OnOpened fires when a connection is established (client connect or accepted).
type OnOpened func(conn Conn) error

// OnClosed fires when a connection is closed.
// In this method, please do not perform read-write operations, because the connection has been closed.
// But you can still manipulate the MetaData in the connection.
type OnClosed func(conn Conn) error

// Handler fires when the connection receives data.
type Handler func(conn Conn) error

// Option configures a client Dial or an Accepter default.
type Option struct {
	f func(*options)
}

// defaultReadBufSize is the platform default read-buffer size handed to
// the poller's read path when the "readbuf" argument is absent.
const defaultReadBufSize = 0

type options struct {
	onOpened     OnOpened
	onClosed     OnClosed
	keepAlive    time.Duration
	idleTimeout  time.Duration
	readBufSize  int
	localBind    *net.TCPAddr
	nodelay      bool
	forceLink    bool
	nonblocking  bool
	safeWrite    bool
}

func (o *options) setDefault() {
	o.keepAlive = defaultTCPKeepAlive
	o.readBufSize = defaultReadBufSize
}

// WithTCPKeepAlive sets the tcp keep alive interval.
func WithTCPKeepAlive(keepAlive time.Duration) Option {
	return Option{func(op *options) {
		op.keepAlive = keepAlive
	}}
}

// WithIdleTimeout sets the idle timeout to close the connection.
func WithIdleTimeout(idleTimeout time.Duration) Option {
	return Option{func(op *options) {
		op.idleTimeout = idleTimeout
	}}
}

// WithOnOpened registers the hook fired when a connection is established.
func WithOnOpened(onOpened OnOpened) Option {
	return Option{func(op *options) {
		op.onOpened = onOpened
	}}
}

// WithOnClosed registers the hook fired when a connection is closed.
func WithOnClosed(onClosed OnClosed) Option {
	return Option{func(op *options) {
		op.onClosed = onClosed
	}}
}

// WithNonBlocking sets the conn to nonblocking mode. Read APIs will
// return EAGAIN when there is not enough data for reading.
func WithNonBlocking(nonblock bool) Option {
	return Option{func(op *options) {
		op.nonblocking = nonblock
	}}
}

// WithSafeWrite sets whether writing on the connection is safe or not.
// Default is unsafe.
//
//	If safeWrite = false: the lifetime of buffers passed into Write/Writev will
//	  be handled by this package, which means users cannot reuse the buffers after
//	  passing them into Write/Writev.
//	If safeWrite = true: the given buffers are copied into this package's own
//	  buffer. Therefore users can reuse the buffers passed into Write/Writev.
func WithSafeWrite(safeWrite bool) Option {
	return Option{func(op *options) {
		op.safeWrite = safeWrite
	}}
}

// WithReadBufferSize sets the read-buffer size handed to the poller's
// read path ("readbuf" in the argument grammar).
func WithReadBufferSize(size int) Option {
	return Option{func(op *options) {
		op.readBufSize = size
	}}
}

// WithLocalAddr sets the local address a client binds to before
// connecting ("laddr" in the argument grammar).
func WithLocalAddr(addr *net.TCPAddr) Option {
	return Option{func(op *options) {
		op.localBind = addr
	}}
}

// WithNoDelay enables TCP_NODELAY on every socket this endpoint opens
// ("nodelay" in the argument grammar).
func WithNoDelay(nodelay bool) Option {
	return Option{func(op *options) {
		op.nodelay = nodelay
	}}
}

// WithForceLink sets the forceLink option flag. No code reads the flag,
// and the argument-vector parsers reject a "forcelink" key as
// unrecognized.
func WithForceLink(force bool) Option {
	return Option{func(op *options) {
		op.forceLink = force
	}}
}

// argKV is one parsed "key=value" or bare-key argument.
type argKV struct {
	key, value string
	hasValue   bool
}

// parseArgVector splits the gensio argument-vector grammar: a list of
// "key=value" or bare-key strings. It does not validate which keys are
// recognized; callers apply that per component (client vs accepter).
func parseArgVector(args []string) []argKV {
	out := make([]argKV, 0, len(args))
	for _, a := range args {
		if i := strings.IndexByte(a, '='); i >= 0 {
			out = append(out, argKV{key: a[:i], value: a[i+1:], hasValue: true})
		} else {
			out = append(out, argKV{key: a})
		}
	}
	return out
}

// parseBool parses a gensio boolean argument value: empty (bare key)
// means true, otherwise the value is parsed as an unsigned integer
// (base auto-detected) and is true iff nonzero.
func parseBool(kv argKV) (bool, error) {
	if !kv.hasValue || kv.value == "" {
		return true, nil
	}
	n, err := strconv.ParseUint(kv.value, 0, 64)
	if err != nil {
		return false, invalidArgf("argument %q: not a boolean: %v", kv.key, err)
	}
	return n != 0, nil
}

// parseSize parses a gensio size argument value as a non-negative integer.
func parseSize(kv argKV) (int, error) {
	if !kv.hasValue {
		return 0, invalidArgf("argument %q requires a value", kv.key)
	}
	n, err := strconv.ParseUint(kv.value, 0, 64)
	if err != nil {
		return 0, invalidArgf("argument %q: not a size: %v", kv.key, err)
	}
	return int(n), nil
}

// clientArgs is the parsed form of the client argument grammar: readbuf,
// laddr, nodelay. Any other key is a strict ErrInvalidArgument.
type clientArgs struct {
	readBufSize int
	haveReadBuf bool
	localBind   *AddrList
	nodelay     bool
	haveNodelay bool
}

// parseClientArgs parses a client's argument vector.
func parseClientArgs(ctx context.Context, args []string) (clientArgs, error) {
	var out clientArgs
	for _, kv := range parseArgVector(args) {
		switch kv.key {
		case "readbuf":
			n, err := parseSize(kv)
			if err != nil {
				return clientArgs{}, err
			}
			out.readBufSize, out.haveReadBuf = n, true
		case "laddr":
			if !kv.hasValue {
				return clientArgs{}, invalidArgf("argument %q requires a value", kv.key)
			}
			al, err := ResolveAddrList(ctx, "tcp", kv.value)
			if err != nil {
				return clientArgs{}, err
			}
			out.localBind = al
		case "nodelay":
			b, err := parseBool(kv)
			if err != nil {
				return clientArgs{}, err
			}
			out.nodelay, out.haveNodelay = b, true
		default:
			return clientArgs{}, invalidArgf("unrecognized client argument %q", kv.key)
		}
	}
	return out, nil
}

// accepterArgs is the parsed form of the accepter argument grammar:
// readbuf, nodelay. Any other key is a strict ErrInvalidArgument.
type accepterArgs struct {
	readBufSize int
	haveReadBuf bool
	nodelay     bool
	haveNodelay bool
}

func parseAccepterArgs(args []string) (accepterArgs, error) {
	var out accepterArgs
	for _, kv := range parseArgVector(args) {
		switch kv.key {
		case "readbuf":
			n, err := parseSize(kv)
			if err != nil {
				return accepterArgs{}, err
			}
			out.readBufSize, out.haveReadBuf = n, true
		case "nodelay":
			b, err := parseBool(kv)
			if err != nil {
				return accepterArgs{}, err
			}
			out.nodelay, out.haveNodelay = b, true
		default:
			return accepterArgs{}, invalidArgf("unrecognized accepter argument %q", kv.key)
		}
	}
	return out, nil
}
