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

// Package gensio implements the TCP transport of a gensio-style stream-I/O
// library: a client endpoint that asynchronously connects to a remote
// address and streams bytes, and an accepter that binds local sockets and
// hands accepted connections to the application as client-shaped endpoints.
package gensio

import (
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
	"github.com/gensio-go/tcpgensio/internal/asynctimer"
	"github.com/gensio-go/tcpgensio/internal/autopostpone"
	"github.com/gensio-go/tcpgensio/internal/buffer"
	"github.com/gensio-go/tcpgensio/internal/cache/systype"
	"github.com/gensio-go/tcpgensio/internal/iovec"
	"github.com/gensio-go/tcpgensio/internal/locker"
	"github.com/gensio-go/tcpgensio/internal/poller"
	"github.com/gensio-go/tcpgensio/internal/timer"
	"github.com/gensio-go/tcpgensio/log"
	"github.com/gensio-go/tcpgensio/metrics"
)

const (
	// defaultTCPKeepAlive is a default constant value for TCPKeepAlive times.
	defaultTCPKeepAlive = 15 * time.Second
	// defaultCleanUpCheckInterval is interval time to check whether connections
	// number is greater than DefaultCleanUpThrottle and enable clean up feature.
	defaultCleanUpCheckInterval = time.Second
	// oobAuxTag is the only auxiliary tag this transport recognizes, marking
	// a write as urgent (send) or a delivered record as out-of-band (recv).
	oobAuxTag = "oob"
	// maxOOBLen bounds a single urgent-flagged receive; OOB is a one-byte-class
	// event, not a stream.
	maxOOBLen = 4096
)

var (
	// DefaultCleanUpThrottle is a default connections number throttle to determine
	// whether to enable buffer clean up feature.
	DefaultCleanUpThrottle = 10000
	// ErrConnClosed connection is closed.
	ErrConnClosed = netError{error: errors.New("conn is closed")}
	// EAGAIN represents error of not enough data.
	EAGAIN = netError{error: errors.New("no enough data, try it again")}
)

// Conn is the bidirectional, stream-oriented endpoint this package
// produces: both the client endpoint returned by Dial and the
// server-shaped endpoint an Accepter delivers via NEW_CONNECTION
// implement it.
type Conn interface {
	net.Conn

	// Len returns the total length of the readable data in the reader.
	Len() int

	// IsActive checks whether the connection is active or not.
	IsActive() bool

	// Peek returns the next n bytes without advancing the reader. It waits
	// until it has read at least n bytes or an error occurs such as
	// connection closed or read timeout. Zero-Copy API.
	Peek(n int) ([]byte, error)

	// Next returns the next n bytes with advancing the reader. Zero-Copy API.
	Next(n int) ([]byte, error)

	// Skip the next n bytes and advance the reader. Zero-Copy API.
	Skip(n int) error

	// Release releases underlayer buffer when using Peek()/Skip() Zero-Copy APIs.
	Release()

	// ReadN copies n bytes from the underlayer and advances the reader.
	ReadN(n int) ([]byte, error)

	// Writev provides multiple data slice write in order.
	Writev(p ...[]byte) (int, error)

	// WriteOOB sends b as urgent (out-of-band) data, the same as a write
	// carrying the "oob" auxiliary tag. Unlike Write/Writev, no bytes are
	// buffered: b goes out in a single urgent-flagged send.
	WriteOOB(b []byte) (int, error)

	// SetOnOOB registers the callback fired when an out-of-band byte
	// sequence is delivered upward, tagged ["oob"].
	SetOnOOB(handle func(b []byte))

	// SetKeepAlive sets keep alive time for the connection.
	SetKeepAlive(t time.Duration) error

	// SetOnRequest sets or replaces the Handler for a connection.
	SetOnRequest(handle Handler) error

	// SetOnClosed sets the additional close process for a connection.
	SetOnClosed(handle OnClosed) error

	// SetIdleTimeout sets the idle timeout to close the connection.
	SetIdleTimeout(d time.Duration) error

	// SetSafeWrite sets whether writing on the connection is safe or not.
	SetSafeWrite(safeWrite bool)

	// SetNonBlocking sets the conn to nonblocking. Read APIs return EAGAIN
	// when there is not enough data.
	SetNonBlocking(nonblock bool)

	// SetMetaData/GetMetaData bind/retrieve arbitrary user data on a connection.
	SetMetaData(m any)
	GetMetaData() any

	// Control dispatches a get/set control operation, currently just
	// NODELAY; any other name returns ErrUnsupported.
	Control(name string, set bool, buf []byte) ([]byte, error)
}

var _ Conn = (*conn)(nil)

// conn is the concrete endpoint shared by client connects and accepted
// connections; only its construction path differs (see client.go and
// accepter.go).
type conn struct {
	metaData    any
	reqHandle   atomic.Value
	closeHandle atomic.Value
	oobHandle   atomic.Value
	readTrigger chan struct{}
	inBuffer    buffer.Buffer
	outBuffer   buffer.Buffer
	rtimer      *timer.Deadline
	wtimer      *timer.Deadline
	idleTimer   *asynctimer.Entry
	writevData  iovec.IOData
	nfd         netFD

	lifecycleGuard
	postpone    autopostpone.PostponeWrite
	waitReadLen atomic.Int32
	reading     locker.Gate
	writing     locker.Gate
	nonblocking bool
	safeWrite   bool
	// readHint is the per-fill target passed to inBuffer.Fill when no
	// caller is blocked in a sized Read/Peek/Next/Skip; it is seeded
	// from the "readbuf" argument/WithReadBufferSize option.
	readHint int
}

// MassiveConnections denotes whether this is under heavy connections scenario.
var MassiveConnections bool

func init() {
	go checkAndSetBufferCleanUp()
}

func checkAndSetBufferCleanUp() {
	ticker := time.NewTicker(defaultCleanUpCheckInterval)
	for range ticker.C {
		if metrics.Get(metrics.TCPConnsCreate)-
			metrics.Get(metrics.TCPConnsClose) > uint64(DefaultCleanUpThrottle) {
			buffer.SetCleanUp(true)
			MassiveConnections = true
		} else {
			buffer.SetCleanUp(false)
			MassiveConnections = false
		}
	}
}

// newConn builds a conn wrapping an already-configured, connected fd.
// Used both by the client connector (once try_open succeeds) and by
// the accepter's accept handler.
func newConn(fd int, network string, laddr, raddr net.Addr) *conn {
	c := &conn{
		nfd: netFD{
			fd:      fd,
			fdtype:  fdTCP,
			network: network,
			laddr:   laddr,
			raddr:   raddr,
		},
		readTrigger: make(chan struct{}, 1),
	}
	if !MassiveConnections {
		c.writevData = iovec.NewIOData(iovec.WithLength(systype.MaxLen))
	}
	c.inBuffer.Initialize()
	c.outBuffer.Initialize()
	return c
}

// schedule registers the conn's fd with the poller, including the
// except-ready (OOB) slot.
func (c *conn) schedule() error {
	return c.nfd.Schedule(onPollReadable, onPollWritable, onPollUrgent, onPollHangup, c)
}

// withReader admits the caller onto the reader lane, blocks until at
// least n bytes are available (or a deadline/close/EAGAIN interrupts
// it), and then runs fn against inBuffer. Every sized read-side entry
// point (ReadN, Next, Peek, Skip) is this same admit-wait-drain shape
// with only the final buffer call differing, so it is factored once
// here instead of copied per method.
func withReader[T any](c *conn, n int, fn func() (T, error)) (T, error) {
	var zero T
	if !c.enter(laneCallerRead) {
		return zero, ErrConnClosed
	}
	defer c.leave(laneCallerRead)
	if err := c.waitRead(n); err != nil {
		return zero, err
	}
	return fn()
}

// Read reads data from the conn.
func (c *conn) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	return withReader(c, 1, func() (int, error) {
		return c.inBuffer.Read(b)
	})
}

// ReadN reads a fixed length of data from the conn.
func (c *conn) ReadN(n int) ([]byte, error) {
	return withReader(c, n, func() ([]byte, error) {
		dst := make([]byte, n)
		if _, err := c.inBuffer.Read(dst); err != nil {
			return nil, err
		}
		return dst, nil
	})
}

// Next reads a fixed length of data from the conn, zero-copy.
func (c *conn) Next(n int) ([]byte, error) {
	return withReader(c, n, func() ([]byte, error) {
		return c.inBuffer.Next(n)
	})
}

// Peek returns the next n bytes without advancing the reader.
func (c *conn) Peek(n int) ([]byte, error) {
	return withReader(c, n, func() ([]byte, error) {
		return c.inBuffer.Peek(n)
	})
}

// Skip skips the next n bytes and advances the reader.
func (c *conn) Skip(n int) error {
	_, err := withReader(c, n, func() (struct{}, error) {
		return struct{}{}, c.inBuffer.Skip(n)
	})
	return err
}

// Release releases the underlayer buffer used by Peek()/Skip().
func (c *conn) Release() {
	if !c.enter(laneCallerRead) {
		return
	}
	defer c.leave(laneCallerRead)
	c.inBuffer.Release()
}

func (c *conn) waitRead(n int) error {
	if !c.IsActive() {
		return ErrConnClosed
	}
	if c.inBuffer.LenRead() >= n {
		return nil
	}
	c.waitReadLen.Store(int32(n))
	if c.nonblocking {
		return EAGAIN
	}
	defer c.waitReadLen.Store(0)
	if c.rtimer != nil && !c.rtimer.IsZero() {
		return c.waitReadWithTimeout(n)
	}
	for c.inBuffer.LenRead() < n {
		if !c.IsActive() {
			return ErrConnClosed
		}
		<-c.readTrigger
	}
	return nil
}

func (c *conn) timeoutError() error {
	err := fmt.Errorf("read tcp %s->%s: i/o timeout", c.LocalAddr().String(), c.RemoteAddr().String())
	return netError{error: err, isTimeout: true}
}

func (c *conn) waitReadWithTimeout(n int) error {
	c.rtimer.Start()
	select {
	case <-c.rtimer.Wait():
		return c.timeoutError()
	default:
	}
	for c.inBuffer.LenRead() < n {
		if !c.IsActive() {
			return ErrConnClosed
		}
		select {
		case <-c.readTrigger:
			continue
		case <-c.rtimer.Wait():
			return c.timeoutError()
		}
	}
	return nil
}

// Write writes data to the connection.
func (c *conn) Write(b []byte) (int, error) {
	return c.Writev(b)
}

// Writev provides multiple data slice write in order.
func (c *conn) Writev(p ...[]byte) (int, error) {
	if c.wtimer != nil && c.wtimer.Expired() {
		return 0, c.timeoutError()
	}
	if !c.enter(laneCallerWrite) {
		return 0, ErrConnClosed
	}
	n := c.outBuffer.Writev(c.safeWrite, p...)
	var err error
	if c.postpone.Enabled() {
		err = c.notify()
	} else {
		err = c.flush()
	}
	if err != nil {
		c.leave(laneCallerWrite)
		c.Close()
		return n, err
	}
	c.leave(laneCallerWrite)
	return n, nil
}

// WriteOOB sends b as a single urgent send, bypassing the regular
// output buffer entirely: an unrecognized aux tag must
// abort "before any bytes are transmitted", so the oob path never
// touches outBuffer at all.
func (c *conn) WriteOOB(b []byte) (int, error) {
	if !c.enter(laneCallerWrite) {
		return 0, ErrConnClosed
	}
	defer c.leave(laneCallerWrite)
	n, err := c.nfd.SendOOB(b)
	if err != nil {
		return 0, wrapOs(err, "send OOB")
	}
	return n, nil
}

// WritevAux is the auxdata-aware write entry point: aux may contain
// the case-insensitive tag "oob" to mark the write urgent. Any other
// tag fails with ErrInvalidArgument and sends zero bytes.
func (c *conn) WritevAux(aux []string, p ...[]byte) (int, error) {
	isOOB := false
	for _, tag := range aux {
		if !strings.EqualFold(tag, oobAuxTag) {
			return 0, invalidArgf("unrecognized auxdata tag %q", tag)
		}
		isOOB = true
	}
	if !isOOB {
		return c.Writev(p...)
	}
	if len(p) != 1 {
		return 0, invalidArgf("oob write must be a single buffer")
	}
	return c.WriteOOB(p[0])
}

func (c *conn) writeToNetFD() error {
	c.refreshConn()
	var (
		n   int
		err error
	)
	if c.writevData.IsNil() {
		n, err = c.writeWithCachedIOData()
	} else {
		n, err = c.writeWithAdhocIOData()
	}
	if err != nil {
		return errors.Wrap(err, "conn write with IOData")
	}
	if err := c.outBuffer.Skip(n); err != nil {
		return errors.Wrap(err, fmt.Sprintf("conn output buffer skip %d", n))
	}
	c.outBuffer.Release()
	return nil
}

func (c *conn) writeWithCachedIOData() (int, error) {
	bs, w1 := systype.GetIOData(systype.MaxLen)
	if w1 != nil {
		defer systype.PutIOData(w1)
	}
	l := c.outBuffer.PeekBlocks(bs)
	c.postpone.CheckAndDisablePostponeWrite(l)
	ivs, w2 := systype.GetIOVECWrapper(bs[:l])
	if w2 != nil {
		defer systype.PutIOVECWrapper(w2)
	}
	n, err := c.nfd.Writev(ivs)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *conn) writeWithAdhocIOData() (int, error) {
	l := c.outBuffer.PeekBlocks(c.writevData.ByteVec)
	c.postpone.CheckAndDisablePostponeWrite(l)
	c.writevData.SetIOVec(l)
	n, err := c.nfd.Writev(c.writevData.IOVec[:l])
	if err != nil {
		return 0, errors.Wrap(err, "conn.writeToNetFD: nfd.Writev")
	}
	c.writevData.Release(l)
	return n, nil
}

// requestWritable arms the poller's write-ready interest, the shared
// tail of every path below that discovers outBuffer still has bytes
// queued after (or instead of) an inline write attempt.
func (c *conn) requestWritable() error {
	metrics.Add(metrics.TCPWriteNotify, 1)
	return c.nfd.Control(poller.ModReadWriteable)
}

// notify arms the poller's write-ready interest without attempting an
// inline write; used while postponement is active so a write doesn't
// compete with the poller's own drain of outBuffer.
func (c *conn) notify() error {
	if !c.writing.TryLock() {
		return nil
	}
	return c.requestWritable()
}

// flush tries to write data directly on the caller's goroutine first,
// falling back to arming the poller only when the inline attempt can't
// drain outBuffer completely.
func (c *conn) flush() error {
	if !c.writing.TryLock() {
		return nil
	}
	if err := c.writeToNetFD(); err != nil {
		if !errors.Is(err, unix.EAGAIN) {
			return err
		}
		return c.requestWritable()
	}
	metrics.Add(metrics.TCPFlushCalls, 1)
	if c.outBuffer.LenRead() != 0 {
		return c.requestWritable()
	}
	c.writing.Unlock()

	if c.outBuffer.LenRead() != 0 && c.writing.TryLock() {
		return c.requestWritable()
	}
	return nil
}

// Close closes the conn safely; it can be called multiple times concurrently.
func (c *conn) Close() error {
	if !c.enter(laneTeardown) {
		return nil
	}
	defer c.leave(laneTeardown)
	c.drain(laneDriverRead)
	close(c.readTrigger)
	c.drainAll()
	if closeHandle := c.getOnClosed(); closeHandle != nil {
		closeHandle(c)
	}
	if c.rtimer != nil {
		c.rtimer.Stop()
	}
	if c.wtimer != nil {
		c.wtimer.Stop()
	}
	if c.idleTimer != nil {
		asynctimer.Del(c.idleTimer)
	}
	c.nfd.close()
	c.inBuffer.Free()
	c.outBuffer.Free()
	metrics.Add(metrics.TCPConnsClose, 1)
	return nil
}

// IsActive checks whether the conn is active or not.
func (c *conn) IsActive() bool {
	return !c.closed()
}

// LocalAddr returns the local network address.
func (c *conn) LocalAddr() net.Addr {
	return c.nfd.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *conn) RemoteAddr() net.Addr {
	return c.nfd.RemoteAddr()
}

// Len returns the total length of the readable data in the reader.
func (c *conn) Len() int {
	if !c.enter(laneCallerControl) {
		return 0
	}
	defer c.leave(laneCallerControl)
	return c.inBuffer.LenRead()
}

// SetOnClosed sets the additional close process for a connection.
func (c *conn) SetOnClosed(handle OnClosed) error {
	if !c.IsActive() {
		return ErrConnClosed
	}
	if handle == nil {
		return errors.New("onClosed can't be nil")
	}
	c.closeHandle.Store(handle)
	return nil
}

// SetOnRequest sets or replaces the Handler for a connection.
func (c *conn) SetOnRequest(handle Handler) error {
	if handle == nil {
		return errors.New("handle can't be nil")
	}
	c.reqHandle.Store(handle)
	return nil
}

// SetOnOOB registers the callback fired when out-of-band data arrives.
func (c *conn) SetOnOOB(handle func(b []byte)) {
	c.oobHandle.Store(oobHandleBox{handle})
}

// oobHandleBox lets a func value be stored in an atomic.Value, which
// requires a consistent concrete type across Store calls.
type oobHandleBox struct {
	f func(b []byte)
}

// SetDeadline sets both read and write deadlines.
func (c *conn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

// SetReadDeadline sets the deadline for future Read calls.
func (c *conn) SetReadDeadline(t time.Time) error {
	if !c.IsActive() {
		return ErrConnClosed
	}
	if c.rtimer == nil {
		c.rtimer = timer.New(t)
		return nil
	}
	c.rtimer.Reset(t)
	return nil
}

// SetWriteDeadline sets the deadline for future Write calls.
func (c *conn) SetWriteDeadline(t time.Time) error {
	if !c.IsActive() {
		return ErrConnClosed
	}
	if c.wtimer == nil {
		c.wtimer = timer.New(t)
		return nil
	}
	c.wtimer.Reset(t)
	return nil
}

// SetKeepAlive sets keep alive time for the connection.
func (c *conn) SetKeepAlive(t time.Duration) error {
	if !c.IsActive() {
		return ErrConnClosed
	}
	if t <= 0 {
		return nil
	}
	return c.nfd.SetKeepAlive(int(math.Ceil(t.Seconds())))
}

// SetIdleTimeout sets the idle timeout to close the connection.
func (c *conn) SetIdleTimeout(d time.Duration) error {
	if !c.IsActive() {
		return ErrConnClosed
	}
	if d <= 0 {
		return nil
	}
	if c.idleTimer != nil {
		asynctimer.Del(c.idleTimer)
	}
	c.idleTimer = asynctimer.NewEntry(c, onIdleTimeout, d)
	if err := asynctimer.Add(c.idleTimer); err != nil {
		return fmt.Errorf("set idle timeout asynctimer add error: %w", err)
	}
	return nil
}

// SetNonBlocking sets conn to nonblocking mode.
func (c *conn) SetNonBlocking(nonblock bool) {
	c.nonblocking = nonblock
}

// SetSafeWrite sets whether write on connection is safe or not.
func (c *conn) SetSafeWrite(safeWrite bool) {
	c.safeWrite = safeWrite
}

// Control dispatches a get/set control operation. Only NODELAY is
// recognized; everything else is ErrUnsupported.
func (c *conn) Control(name string, set bool, buf []byte) ([]byte, error) {
	if !strings.EqualFold(name, "NODELAY") {
		return nil, unsupportedf("control %q is not supported", name)
	}
	return nodelayControl(c.nfd.FD(), set, buf)
}

func (c *conn) getOnRequest() Handler {
	handler := c.reqHandle.Load()
	if handler == nil {
		return nil
	}
	h, ok := handler.(Handler)
	if !ok {
		return nil
	}
	return h
}

func (c *conn) getOnClosed() OnClosed {
	onClosed := c.closeHandle.Load()
	if onClosed == nil {
		return nil
	}
	h, ok := onClosed.(OnClosed)
	if !ok {
		return nil
	}
	return h
}

func (c *conn) getOnOOB() func(b []byte) {
	v := c.oobHandle.Load()
	if v == nil {
		return nil
	}
	box, ok := v.(oobHandleBox)
	if !ok {
		return nil
	}
	return box.f
}

func (c *conn) refreshConn() error {
	if c.idleTimer != nil {
		return asynctimer.Add(c.idleTimer)
	}
	return nil
}

func onIdleTimeout(data any) {
	cn, ok := data.(Conn)
	if !ok {
		return
	}
	cn.Close()
}

func onPollReadable(data any, ioData *iovec.IOData) error {
	c, ok := data.(*conn)
	if !ok || c == nil {
		return fmt.Errorf("onPollReadable: invalid data %+v, type %T", c, c)
	}
	if !c.enter(laneDriverRead) {
		return nil
	}
	defer c.leave(laneDriverRead)

	c.refreshConn()
	n := int(c.waitReadLen.Load())
	if n == 0 {
		n = c.readHint
	}
	if err := c.inBuffer.Fill(&c.nfd, n, ioData); err != nil {
		if err == buffer.ErrBufferFull {
			return nil
		}
		return err
	}

	if c.nonblocking {
		return runHandlerInline(c)
	}
	select {
	case c.readTrigger <- struct{}{}:
	default:
	}
	handler := c.getOnRequest()
	if handler == nil {
		return nil
	}
	if !c.reading.TryLock() {
		c.postpone.IncReadingTryLockFail()
		return nil
	}
	return spawnHandlerLoop(c)
}

func onPollWritable(data any) error {
	c, ok := data.(*conn)
	if !ok || c == nil {
		return fmt.Errorf("onPollWritable: invalid data %+v, type %T", c, c)
	}
	if !c.enter(laneDriverWrite) {
		return nil
	}
	defer c.leave(laneDriverWrite)

	metrics.Add(metrics.TCPOnWriteCalls, 1)
	if err := c.writeToNetFD(); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return nil
		}
		return err
	}
	if c.outBuffer.LenRead() != 0 {
		return nil
	}
	if err := c.nfd.Control(poller.ModReadable); err != nil {
		return err
	}
	c.writing.Unlock()

	if c.outBuffer.LenRead() != 0 && c.writing.TryLock() {
		return c.requestWritable()
	}
	return nil
}

// onPollUrgent is the except-ready (EPOLLPRI) dispatch: OOB is modeled
// as a single urgent receive delivered as a tagged record, not spliced
// into the regular byte stream.
func onPollUrgent(data any) error {
	c, ok := data.(*conn)
	if !ok || c == nil {
		return fmt.Errorf("onPollUrgent: invalid data %+v, type %T", c, c)
	}
	b, err := c.nfd.RecvOOB(maxOOBLen)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		log.Errorf("conn except_ready recv OOB error: %v", err)
		return nil
	}
	if handle := c.getOnOOB(); handle != nil {
		handle(b)
	}
	return nil
}

func onPollHangup(data any) {
	c, ok := data.(*conn)
	if ok && c != nil {
		c.Close()
	}
}

func drainHandlerLoop(c *conn) {
	handler := c.getOnRequest()
	if handler == nil {
		return
	}
	for {
		for c.Len() > 0 && c.IsActive() {
			if err := handler(c); err != nil {
				log.Debugf("drainHandlerLoop err: %v\n", err)
				c.reading.Unlock()
				c.Close()
				return
			}
		}
		c.reading.Unlock()
		c.postpone.ResetReadingTryLockFail()
		if c.Len() <= 0 || !c.reading.TryLock() {
			return
		}
	}
}

func runHandlerInline(c *conn) error {
	handler := c.getOnRequest()
	if handler == nil {
		return errors.New("no OnRequest handler")
	}
	c.postpone.ResetLoopCnt()
	for c.Len() > 0 && c.IsActive() {
		c.postpone.IncLoopCnt()
		err := handler(c)
		if err == nil {
			continue
		}
		if err == EAGAIN {
			return nil
		}
		return err
	}
	c.postpone.CheckLoopCnt()
	return nil
}

// spawnHandlerLoop dispatches the async read handler by running
// drainHandlerLoop on a new goroutine.
func spawnHandlerLoop(c *conn) error {
	go drainHandlerLoop(c)
	return nil
}

// SetMetaData sets meta data.
func (c *conn) SetMetaData(m any) {
	c.metaData = m
}

// GetMetaData gets meta data.
func (c *conn) GetMetaData() any {
	return c.metaData
}
