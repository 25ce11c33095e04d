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
	"net"
	"strconv"
	"sync"
	"unsafe"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
	"github.com/gensio-go/tcpgensio/internal/iovec"
	"github.com/gensio-go/tcpgensio/internal/netutil"
	"github.com/gensio-go/tcpgensio/internal/poller"
	"github.com/gensio-go/tcpgensio/metrics"
)

// goSockCloser is used to store go net library conn and listener.
type goSockCloser interface {
	Close() error
}

type fdType int

const (
	fdTCP fdType = iota
	fdListen
)

type netFD struct {
	desc    *poller.Desc
	sock    goSockCloser
	laddr   net.Addr
	raddr   net.Addr
	network string

	fd     int
	fdtype fdType
	closed atomic.Bool

	// The intention of locker is to ensure close() concurrent safe.
	// netFD can only be closed once, and no control() can be called thereafter.
	locker sync.Mutex
}

var listenerPollMgr *poller.PollMgr

func init() {
	var err error
	listenerPollMgr, err = poller.NewPollMgr(
		poller.RoundRobin, 1,
		poller.WithIgnoreTaskError(true), // Ignore accept errors to prevent close of the listener.
	)
	if err != nil {
		panic("can't create listener pollmgr")
	}
}

// FD returns the netFD's file descriptor.
func (nfd *netFD) FD() int {
	return nfd.fd
}

// LocalAddr returns the local network address.
func (nfd *netFD) LocalAddr() net.Addr {
	return nfd.laddr
}

// RemoteAddr returns the remote network address.
func (nfd *netFD) RemoteAddr() net.Addr {
	return nfd.raddr
}

// SetKeepAlive sets the keep alive behavior of this net fd.
func (nfd *netFD) SetKeepAlive(secs int) error {
	return netutil.SetKeepAlive(nfd.fd, secs)
}

// SetNoDelay sets the TCP_NODELAY flag on this net fd.
func (nfd *netFD) SetNoDelay(noDelay bool) error {
	var v int
	if noDelay {
		v = 1
	}
	return unix.SetsockoptInt(nfd.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}

// NoDelay reads the current TCP_NODELAY flag of this net fd.
func (nfd *netFD) NoDelay() (bool, error) {
	v, err := unix.GetsockoptInt(nfd.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// close is safe for concurrent call.
func (nfd *netFD) close() {
	nfd.locker.Lock()
	defer nfd.locker.Unlock()
	if !nfd.closed.CAS(false, true) {
		return
	}
	if nfd.desc != nil {
		nfd.desc.Close()
		poller.FreeDesc(nfd.desc)
		nfd.desc = nil
	}
	if nfd.sock != nil {
		nfd.sock.Close()
	} else {
		unix.Close(nfd.fd)
	}
}

// Schedule adds the netFD to the poller system and monitors read/write/except/hup events.
func (nfd *netFD) Schedule(
	onRead func(data interface{}, ioData *iovec.IOData) error,
	onWrite func(data interface{}) error,
	onExcept func(data interface{}) error,
	onHup func(data interface{}),
	conn interface{},
) error {
	if nfd.desc != nil {
		return fmt.Errorf("already in poller system")
	}
	desc := poller.NewDesc()
	desc.Lock()
	desc.FD = nfd.FD()
	desc.Data = conn
	desc.OnRead, desc.OnWrite, desc.OnExcept, desc.OnHup = onRead, onWrite, onExcept, onHup
	desc.Unlock()
	var err error
	if nfd.fdtype == fdListen {
		err = desc.PickPollerWithPollMgr(listenerPollMgr)
	} else {
		err = desc.PickPoller()
	}
	if err != nil {
		poller.FreeDesc(desc)
		return err
	}
	nfd.locker.Lock()
	nfd.desc = desc
	nfd.locker.Unlock()
	return nfd.Control(poller.Readable)
}

// Control register interest event to poller system.
func (nfd *netFD) Control(event poller.Event) error {
	nfd.locker.Lock()
	defer nfd.locker.Unlock()
	if nfd.closed.Load() {
		return ErrConnClosed
	}
	if nfd.desc == nil {
		return fmt.Errorf("netFD %d is not add to poller", nfd.FD())
	}
	return nfd.desc.Control(event)
}

// Readv implements batch receive from the socket.
func (nfd *netFD) Readv(ivs []unix.Iovec) (int, error) {
	if len(ivs) == 0 {
		return 0, nil
	}
	r, _, e := unix.RawSyscall(unix.SYS_READV, uintptr(nfd.fd), uintptr(unsafe.Pointer(&ivs[0])), uintptr(len(ivs)))
	metrics.Add(metrics.TCPReadvCalls, 1)
	if e != 0 {
		metrics.Add(metrics.TCPReadvFails, 1)
		return int(r), unix.Errno(e)
	}
	metrics.Add(metrics.TCPReadvBytes, uint64(r))
	return int(r), nil
}

// Writev implements batch send to the socket.
func (nfd *netFD) Writev(ivs []unix.Iovec) (int, error) {
	if len(ivs) == 0 {
		return 0, nil
	}
	r, _, e := unix.RawSyscall(unix.SYS_WRITEV, uintptr(nfd.fd), uintptr(unsafe.Pointer(&ivs[0])), uintptr(len(ivs)))
	metrics.Add(metrics.TCPWritevCalls, 1)
	if e != 0 {
		metrics.Add(metrics.TCPWritevFails, 1)
		return int(r), unix.Errno(e)
	}
	metrics.Add(metrics.TCPWritevBlocks, uint64(len(ivs)))
	return int(r), nil
}

// SendOOB sends b as a single urgent (out-of-band) byte-class send.
// OOB is a single-shot event, not a stream: callers are
// expected to send small payloads.
func (nfd *netFD) SendOOB(b []byte) (int, error) {
	metrics.Add(metrics.TCPOOBSendCalls, 1)
	if err := unix.Send(nfd.fd, b, unix.MSG_OOB); err != nil {
		return 0, err
	}
	return len(b), nil
}

// RecvOOB issues a single urgent-flagged receive, used from the
// except-ready (EPOLLPRI) path.
func (nfd *netFD) RecvOOB(maxLen int) ([]byte, error) {
	metrics.Add(metrics.TCPOOBRecvCalls, 1)
	buf := make([]byte, maxLen)
	n, _, err := unix.Recvfrom(nfd.fd, buf, unix.MSG_OOB)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// configureSocket applies socket options in order: non-blocking,
// keepalive, address-reuse, no-delay (if requested), local bind (if
// set). The first failing step returns its error immediately; later
// steps are skipped.
func configureSocket(fd int, localBind *net.TCPAddr, nodelay bool) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return wrapOs(err, "set nonblocking")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return wrapOs(err, "set keepalive")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return wrapOs(err, "set reuseaddr")
	}
	if nodelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return wrapOs(err, "set nodelay")
		}
	}
	if localBind != nil {
		sa, err := netutil.TCPAddrToSockaddr(localBind)
		if err != nil {
			return wrapOs(err, "resolve local bind address")
		}
		if err := unix.Bind(fd, sa); err != nil {
			return wrapOs(err, "bind local address")
		}
	}
	return nil
}

// nodelayControl implements the NODELAY get/set control.
func nodelayControl(fd int, set bool, buf []byte) ([]byte, error) {
	if set {
		v, err := strconv.ParseUint(string(buf), 0, 64)
		if err != nil {
			return nil, invalidArgf("NODELAY control: not a boolean: %v", err)
		}
		nd := 0
		if v != 0 {
			nd = 1
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, nd); err != nil {
			return nil, wrapOs(err, "set TCP_NODELAY")
		}
		return nil, nil
	}
	v, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
	if err != nil {
		return nil, wrapOs(err, "get TCP_NODELAY")
	}
	return []byte(strconv.Itoa(v)), nil
}
