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
	"context"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
	"github.com/gensio-go/tcpgensio/internal/netutil"
	"github.com/gensio-go/tcpgensio/internal/poller"
	"github.com/gensio-go/tcpgensio/log"
)

// Dial resolves address and connects to it, trying each resolved
// candidate in order until one succeeds or all fail (try_open /
// sub_open / check_open / retry_open). ctx bounds the whole attempt,
// including DNS resolution and every candidate's connect wait.
func Dial(ctx context.Context, network, address string, opts ...Option) (Conn, error) {
	al, err := ResolveAddrList(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return DialAddrList(ctx, al, opts...)
}

// DialAddrList connects using an already-resolved AddrList, trying each
// entry in order.
func DialAddrList(ctx context.Context, al *AddrList, opts ...Option) (Conn, error) {
	o := &options{}
	o.setDefault()
	for _, opt := range opts {
		opt.f(o)
	}
	return newConnector(al, o).tryOpen(ctx)
}

// DialArgs connects to address using the gensio client argument-vector
// grammar (readbuf, laddr, nodelay), in place of functional Options.
func DialArgs(ctx context.Context, address string, args []string) (Conn, error) {
	ca, err := parseClientArgs(ctx, args)
	if err != nil {
		return nil, err
	}
	al, err := ResolveAddrList(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	o := &options{}
	o.setDefault()
	if ca.haveReadBuf {
		o.readBufSize = ca.readBufSize
	}
	if ca.localBind != nil {
		o.localBind = ca.localBind.First()
	}
	if ca.haveNodelay {
		o.nodelay = ca.nodelay
	}
	return newConnector(al, o).tryOpen(ctx)
}

// connector drives the non-blocking, multi-candidate connect sequence:
// try_open walks the address list, sub_open attempts one candidate,
// check_open waits for the connect to complete, and retry_open reads
// back SO_ERROR to decide whether that candidate actually succeeded.
type connector struct {
	al    *AddrList
	o     *options
	index int
}

func newConnector(al *AddrList, o *options) *connector {
	return &connector{al: al, o: o}
}

// tryOpen is the top-level state: attempt every candidate in order,
// returning the first that connects and failing with the last error
// seen if every candidate is exhausted.
func (c *connector) tryOpen(ctx context.Context) (Conn, error) {
	if c.al.Len() == 0 {
		return nil, invalidArgf("address list is empty")
	}
	var lastErr error
	for c.index = 0; c.index < c.al.Len(); c.index++ {
		cn, err := c.subOpen(ctx)
		if err == nil {
			return cn, nil
		}
		lastErr = err
		log.Debugf("gensio client: candidate %s failed: %v", c.al.Addr(c.index), err)
	}
	return nil, lastErr
}

// subOpen opens and configures one candidate socket and starts its
// non-blocking connect, handing off to check_open if it doesn't
// complete immediately.
func (c *connector) subOpen(ctx context.Context) (conn Conn, rerr error) {
	addr := c.al.Addr(c.index)
	family := unix.AF_INET
	if addr.IP.To4() == nil {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, wrapOs(err, "create socket")
	}
	defer func() {
		if rerr != nil {
			unix.Close(fd)
		}
	}()

	if err := configureSocket(fd, c.o.localBind, c.o.nodelay); err != nil {
		return nil, err
	}

	sa, err := c.al.sockaddr(c.index)
	if err != nil {
		return nil, err
	}

	switch err := unix.Connect(fd, sa); err {
	case nil:
		// Connected synchronously (e.g. to a local address).
	case unix.EINPROGRESS:
		if err := c.checkOpen(ctx, fd); err != nil {
			return nil, err
		}
	default:
		return nil, wrapOs(err, "connect")
	}

	laddr, err := sockToTCPAddr(fd, false)
	if err != nil {
		return nil, wrapOs(err, "local address")
	}
	raddr, err := sockToTCPAddr(fd, true)
	if err != nil {
		return nil, wrapOs(err, "remote address")
	}

	cn := newConn(fd, "tcp", laddr, raddr)
	cn.readHint = c.o.readBufSize
	applyClientOptions(cn, c.o)
	if err := cn.schedule(); err != nil {
		cn.nfd.close()
		return nil, err
	}
	if c.o.onOpened != nil {
		if err := c.o.onOpened(cn); err != nil {
			cn.Close()
			return nil, err
		}
	}
	return cn, nil
}

// checkOpen waits for the connecting socket to become writable (the
// kernel's signal that connect() has resolved one way or another),
// honoring ctx cancellation, then hands off to retry_open to learn the
// actual outcome.
func (c *connector) checkOpen(ctx context.Context, fd int) error {
	writable := make(chan struct{}, 1)
	desc := poller.NewDesc()
	desc.Lock()
	desc.FD = fd
	desc.OnWrite = func(data interface{}) error {
		select {
		case writable <- struct{}{}:
		default:
		}
		return nil
	}
	desc.Unlock()
	if err := desc.PickPoller(); err != nil {
		poller.FreeDesc(desc)
		return wrapOs(err, "register connect-wait descriptor")
	}
	defer func() {
		desc.Close()
		poller.FreeDesc(desc)
	}()
	if err := desc.Control(poller.Writable); err != nil {
		return wrapOs(err, "watch connect-wait descriptor")
	}
	select {
	case <-writable:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.retryOpen(fd)
}

// retryOpen reads back SO_ERROR to learn whether the just-completed
// connect actually succeeded.
func (c *connector) retryOpen(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return wrapOs(err, "getsockopt SO_ERROR")
	}
	if errno != 0 {
		return wrapOs(unix.Errno(errno), "connect")
	}
	return nil
}

// applyClientOptions wires the functional options onto a freshly
// connected conn, before it is handed to the caller.
func applyClientOptions(cn *conn, o *options) {
	if o.keepAlive > 0 {
		cn.SetKeepAlive(o.keepAlive)
	}
	if o.idleTimeout > 0 {
		cn.SetIdleTimeout(o.idleTimeout)
	}
	cn.SetNonBlocking(o.nonblocking)
	cn.SetSafeWrite(o.safeWrite)
	if o.onClosed != nil {
		cn.SetOnClosed(o.onClosed)
	}
}

// sockToTCPAddr reads back the local or peer address of a connected fd.
func sockToTCPAddr(fd int, peer bool) (*net.TCPAddr, error) {
	var (
		sa  unix.Sockaddr
		err error
	)
	if peer {
		sa, err = unix.Getpeername(fd)
	} else {
		sa, err = unix.Getsockname(fd)
	}
	if err != nil {
		return nil, err
	}
	addr := netutil.SockaddrToTCPOrUnixAddr(sa)
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected socket address type %T", addr)
	}
	return tcpAddr, nil
}
