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
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
	"github.com/gensio-go/tcpgensio/internal/iovec"
	"github.com/gensio-go/tcpgensio/internal/netutil"
	"github.com/gensio-go/tcpgensio/internal/poller"
	"github.com/gensio-go/tcpgensio/internal/reuseport"
	"github.com/gensio-go/tcpgensio/log"
)

// OnNewConnection fires once per accepted connection, after its fd has
// been registered with the poller (the server-side analogue of
// server_open_done succeeding).
type OnNewConnection func(conn Conn)

// OnAccepterShutdown is the completion callback passed to Shutdown; it
// fires exactly once, after every listen fd has been cleared.
type OnAccepterShutdown func()

// HostAccessHook runs right after accept, before the accepted fd is
// configured or handed to the application; returning ok=false rejects
// the connection, optionally after writing reject (best-effort) to it.
type HostAccessHook func(raddr *net.TCPAddr) (reject string, ok bool)

// listenSock is one bound-and-listening fd owned by an Accepter.
type listenSock struct {
	fd       int
	nfd      netFD
	accepter *Accepter
	enabled  atomic.Bool
}

// Accepter binds one or more local TCP sockets and asynchronously
// accepts inbound connections, handing each to the application as a
// client-shaped Conn.
type Accepter struct {
	al         *AddrList
	connOpts   options
	reusePort  bool
	hostAccess HostAccessHook
	onNewConn  OnNewConnection

	mu             sync.Mutex
	listens        []*listenSock
	setup          bool
	enabled        bool
	inShutdown     bool
	refcount       int
	nrCloseWaiting int
	shutdownDone   OnAccepterShutdown

	pending map[*conn]struct{}
}

// NewAccepter allocates an Accepter bound (once Startup is called) to
// every address in al, with onNewConn as the upward NEW_CONNECTION
// hook. opts configure accepted connections using the same surface as
// a client Dial.
func NewAccepter(al *AddrList, onNewConn OnNewConnection, opts ...Option) *Accepter {
	a := &Accepter{
		al:        al,
		onNewConn: onNewConn,
		refcount:  1,
		pending:   make(map[*conn]struct{}),
	}
	a.connOpts.setDefault()
	for _, opt := range opts {
		opt.f(&a.connOpts)
	}
	return a
}

// NewAccepterArgs allocates an Accepter using the gensio accepter
// argument-vector grammar (readbuf, nodelay).
func NewAccepterArgs(al *AddrList, onNewConn OnNewConnection, args []string) (*Accepter, error) {
	aa, err := parseAccepterArgs(args)
	if err != nil {
		return nil, err
	}
	a := NewAccepter(al, onNewConn)
	if aa.haveReadBuf {
		a.connOpts.readBufSize = aa.readBufSize
	}
	if aa.haveNodelay {
		a.connOpts.nodelay = aa.nodelay
	}
	return a, nil
}

// Addr returns the bound local address of the accepter's first listen
// socket, useful when binding to port 0 and discovering the kernel's
// chosen ephemeral port. Returns nil if the accepter is not running.
func (a *Accepter) Addr() *net.TCPAddr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.listens) == 0 {
		return nil
	}
	addr, _ := a.listens[0].nfd.laddr.(*net.TCPAddr)
	return addr
}

// SetHostAccessHook installs the optional per-connection access check
// run immediately after accept, before any other processing. Must be
// called before Startup.
func (a *Accepter) SetHostAccessHook(hook HostAccessHook) {
	a.hostAccess = hook
}

// SetReusePort enables SO_REUSEPORT on every listen socket Startup
// opens, letting several Accepters share one address:port. Must be
// called before Startup.
func (a *Accepter) SetReusePort(reusePort bool) {
	a.reusePort = reusePort
}

// Startup binds and listens on every address in the accepter's address
// list and begins accepting. Fails with ErrBusy if already running or
// mid-shutdown; either every address binds or none do.
func (a *Accepter) Startup() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.setup || a.inShutdown {
		return busyf("accepter startup: already running or shutting down")
	}

	listens := make([]*listenSock, 0, a.al.Len())
	for i := 0; i < a.al.Len(); i++ {
		ls, err := a.openListenSocket(a.al.Addr(i))
		if err != nil {
			for _, prev := range listens {
				prev.nfd.close()
			}
			return err
		}
		listens = append(listens, ls)
	}

	for _, ls := range listens {
		ls.enabled.Store(true)
		if err := ls.nfd.Schedule(accepterOnRead, nil, nil, accepterOnHup, ls); err != nil {
			for _, l := range listens {
				l.nfd.close()
			}
			return wrapOs(err, "register listen fd with poller")
		}
	}

	a.listens = listens
	a.setup = true
	a.enabled = true
	a.shutdownDone = nil
	a.refcount++
	return nil
}

func (a *Accepter) openListenSocket(addr *net.TCPAddr) (*listenSock, error) {
	network := "tcp4"
	if addr.IP.To4() == nil {
		network = "tcp6"
	}
	ln, err := reuseport.ListenTCP(network, addr.String(), a.reusePort)
	if err != nil {
		return nil, wrapOs(err, fmt.Sprintf("listen on %s", addr))
	}
	fd, err := netutil.DupFD(ln)
	if err != nil {
		ln.Close()
		return nil, wrapOs(err, "dup listen fd")
	}
	laddr := ln.Addr()
	if err := ln.Close(); err != nil {
		unix.Close(fd)
		return nil, wrapOs(err, "close temporary listener")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, wrapOs(err, "set nonblocking")
	}
	if a.connOpts.nodelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			unix.Close(fd)
			return nil, wrapOs(err, "set nodelay")
		}
	}
	ls := &listenSock{
		fd:       fd,
		accepter: a,
		nfd: netFD{
			fd:      fd,
			fdtype:  fdListen,
			network: "tcp",
			laddr:   laddr,
		},
	}
	return ls, nil
}

// Shutdown asynchronously tears the accepter down: listen fds stop
// accepting immediately, and done (if non-nil) fires exactly once,
// after every listen fd has reported fd_cleared.
func (a *Accepter) Shutdown(done OnAccepterShutdown) error {
	a.mu.Lock()
	if !a.setup {
		a.mu.Unlock()
		return busyf("accepter shutdown: not running")
	}
	a.inShutdown = true
	a.shutdownDone = done
	a.nrCloseWaiting = len(a.listens)
	a.setup = false
	a.enabled = false
	listens := a.listens
	a.mu.Unlock()

	for _, ls := range listens {
		ls.enabled.Store(false)
		if err := ls.nfd.Control(poller.Detach); err != nil {
			log.Debugf("gensio accepter: detach listen fd: %v", err)
		}
		// Control(Detach) only removes epoll interest; it does not
		// itself run the hup callback. Dispatch fd_cleared the same
		// way the poller dispatches a real hangup: asynchronously.
		go accepterOnHup(ls)
	}
	return nil
}

// SetAcceptCallbackEnable enables or disables delivery of new
// connections without tearing the accepter down. A redundant call
// (flag already matches the current state) is a no-op.
func (a *Accepter) SetAcceptCallbackEnable(flag bool) {
	a.mu.Lock()
	if !a.setup || a.enabled == flag {
		a.mu.Unlock()
		return
	}
	a.enabled = flag
	listens := a.listens
	a.mu.Unlock()

	for _, ls := range listens {
		ls.enabled.Store(flag)
	}
}

// Disable forcibly and synchronously tears the accepter down without
// ever invoking a shutdown completion callback. Only safe when the
// caller does not need teardown acknowledgement.
func (a *Accepter) Disable() {
	a.mu.Lock()
	if !a.setup {
		a.mu.Unlock()
		return
	}
	listens := a.listens
	a.inShutdown = false
	a.shutdownDone = nil
	a.nrCloseWaiting = 0
	a.listens = nil
	a.setup = false
	a.enabled = false
	a.mu.Unlock()

	for _, ls := range listens {
		ls.enabled.Store(false)
		ls.nfd.close()
	}
	a.release()
}

// Free releases the accepter's construction reference, shutting it
// down first (with no completion callback) if it is still running.
func (a *Accepter) Free() {
	a.mu.Lock()
	setup := a.setup
	a.mu.Unlock()
	if setup {
		_ = a.Shutdown(nil)
	}
	a.release()
}

// release drops one reference, running final teardown bookkeeping when
// the count reaches zero; this is the deref-and-maybe-free helper
// backing the accepter's refcounted teardown.
func (a *Accepter) release() {
	a.mu.Lock()
	a.refcount--
	dead := a.refcount <= 0
	a.mu.Unlock()
	if dead {
		log.Debugf("gensio accepter: refcount reached zero, fully torn down")
	}
}

func accepterOnRead(data interface{}, _ *iovec.IOData) error {
	ls, ok := data.(*listenSock)
	if !ok || ls == nil {
		return fmt.Errorf("accepter onRead: unexpected data %T", data)
	}
	ls.accepter.acceptLoop(ls)
	return nil
}

// acceptLoop drains every connection currently queued on ls, per the
// edge-triggered readiness contract shared with the rest of this
// module's poller usage.
func (a *Accepter) acceptLoop(ls *listenSock) {
	for {
		if !ls.enabled.Load() {
			return
		}
		fd, sa, err := netutil.Accept(ls.fd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			log.Errorf("gensio accepter: accept error: %v", err)
			return
		}
		a.handleAccepted(fd, sa)
	}
}

func (a *Accepter) handleAccepted(fd int, sa unix.Sockaddr) {
	raddr, ok := netutil.SockaddrToTCPOrUnixAddr(sa).(*net.TCPAddr)
	if !ok {
		log.Errorf("gensio accepter: accepted non-TCP peer address %T", sa)
		unix.Close(fd)
		return
	}

	if a.hostAccess != nil {
		if reject, ok := a.hostAccess(raddr); !ok {
			if reject != "" {
				unix.Write(fd, []byte(reject))
			}
			unix.Close(fd)
			return
		}
	}

	if err := configureSocket(fd, nil, a.connOpts.nodelay); err != nil {
		log.Errorf("gensio accepter: configure accepted socket: %v", err)
		unix.Close(fd)
		return
	}

	laddr, err := sockToTCPAddr(fd, false)
	if err != nil {
		log.Errorf("gensio accepter: local address of accepted socket: %v", err)
		unix.Close(fd)
		return
	}

	cn := newConn(fd, "tcp", laddr, raddr)
	cn.readHint = a.connOpts.readBufSize
	applyClientOptions(cn, &a.connOpts)

	a.mu.Lock()
	if !a.setup {
		a.mu.Unlock()
		cn.nfd.close()
		return
	}
	a.refcount++
	a.pending[cn] = struct{}{}
	a.mu.Unlock()

	if err := cn.schedule(); err != nil {
		a.serverOpenDone(cn, wrapOs(err, "register accepted fd with poller"))
		return
	}
	a.serverOpenDone(cn, nil)
}

// serverOpenDone is the server-side completion hook: remove the
// connection from the pending set, fire NEW_CONNECTION on success (or
// free and log on failure), and drop the pending reference either way.
func (a *Accepter) serverOpenDone(cn *conn, err error) {
	a.mu.Lock()
	delete(a.pending, cn)
	a.mu.Unlock()

	if err != nil {
		log.Errorf("gensio accepter: server open failed: %v", err)
		cn.nfd.close()
		a.release()
		return
	}
	if a.onNewConn != nil {
		a.onNewConn(cn)
	}
	a.release()
}

func accepterOnHup(data interface{}) {
	ls, ok := data.(*listenSock)
	if !ok || ls == nil {
		return
	}
	ls.accepter.fdCleared(ls)
}

// fdCleared acknowledges that the poller has finished detaching one
// listen fd; once every listen fd has been acknowledged, shutdown
// completes and the startup reference is dropped.
func (a *Accepter) fdCleared(ls *listenSock) {
	poller.FreeDesc(ls.nfd.desc)
	unix.Close(ls.fd)

	a.mu.Lock()
	a.nrCloseWaiting--
	done := a.nrCloseWaiting <= 0
	var shutdownDone OnAccepterShutdown
	if done {
		a.inShutdown = false
		a.listens = nil
		shutdownDone = a.shutdownDone
		a.shutdownDone = nil
	}
	a.mu.Unlock()

	if !done {
		return
	}
	if shutdownDone != nil {
		shutdownDone()
	}
	a.release()
}

// strToTCPGensioAccepter resolves a bindable address string through the
// address resolver and builds an Accepter with it
// str_to_tcp_gensio_accepter.
func strToTCPGensioAccepter(ctx context.Context, addr string, onNewConn OnNewConnection, args []string) (*Accepter, error) {
	al, err := ResolveAddrList(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewAccepterArgs(al, onNewConn, args)
}

// tcpnaStrToGensio implements the accepter's string-to-endpoint helper
// (tcpna_str_to_gensio): it parses addrStr as an active TCP address,
// re-threads the accepter's inherited defaults into the child argument
// vector, and constructs a client endpoint from them.
//
// The child's own "nodelay" argument (if present in childArgs)
// overrides the accepter's default, rather than the accepter's default
// always winning: this is the "inherit unless overridden" reading
// decided in DESIGN.md.
func (a *Accepter) tcpnaStrToGensio(ctx context.Context, addrStr string, childArgs []string) (Conn, error) {
	al, err := ResolveAddrList(ctx, "tcp", addrStr)
	if err != nil {
		return nil, err
	}
	if al.First() == nil || al.First().Port == 0 {
		return nil, invalidArgf("tcpna_str_to_gensio: address %q has no port", addrStr)
	}

	ca, err := parseClientArgs(ctx, childArgs)
	if err != nil {
		return nil, err
	}

	o := &options{}
	o.setDefault()
	if a.connOpts.readBufSize != defaultReadBufSize {
		o.readBufSize = a.connOpts.readBufSize
	}
	o.nodelay = a.connOpts.nodelay
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
