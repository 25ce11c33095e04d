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

package gensio_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/gensio-go/tcpgensio"
)

func newLocalAddrList(t *testing.T) *gensio.AddrList {
	al, err := gensio.NewAddrList([]*net.TCPAddr{{IP: net.ParseIP("127.0.0.1"), Port: 0}})
	require.Nil(t, err)
	return al
}

// TestAccepterHappyAccept exercises startup, a successful accept, and
// the NEW_CONNECTION upward event delivering a conn with a remote address.
func TestAccepterHappyAccept(t *testing.T) {
	accepted := make(chan gensio.Conn, 1)
	a := gensio.NewAccepter(newLocalAddrList(t), func(conn gensio.Conn) {
		accepted <- conn
	})
	require.Nil(t, a.Startup())
	defer a.Free()

	addr := acceptedAddr(t, a)

	client, err := net.DialTimeout("tcp", addr, time.Second)
	require.Nil(t, err)
	defer client.Close()

	select {
	case conn := <-accepted:
		defer conn.Close()
		require.NotNil(t, conn.RemoteAddr())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}
}

// TestAccepterShutdownCompletes checks that Shutdown's completion
// callback fires exactly once after every listen fd has been cleared.
func TestAccepterShutdownCompletes(t *testing.T) {
	a := gensio.NewAccepter(newLocalAddrList(t), func(gensio.Conn) {})
	require.Nil(t, a.Startup())

	var wg sync.WaitGroup
	wg.Add(1)
	require.Nil(t, a.Shutdown(func() { wg.Done() }))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	require.Nil(t, a.Startup())
	defer a.Free()
}

func TestAccepterShutdownNotRunning(t *testing.T) {
	a := gensio.NewAccepter(newLocalAddrList(t), func(gensio.Conn) {})
	err := a.Shutdown(nil)
	require.NotNil(t, err)
}

func TestAccepterStartupTwiceFails(t *testing.T) {
	a := gensio.NewAccepter(newLocalAddrList(t), func(gensio.Conn) {})
	require.Nil(t, a.Startup())
	defer a.Free()
	require.NotNil(t, a.Startup())
}

// TestAccepterForceDisable checks Disable tears everything down
// synchronously without requiring a shutdown callback.
func TestAccepterForceDisable(t *testing.T) {
	a := gensio.NewAccepter(newLocalAddrList(t), func(gensio.Conn) {})
	require.Nil(t, a.Startup())
	addr := acceptedAddr(t, a)

	a.Disable()

	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	require.NotNil(t, err)

	require.Nil(t, a.Startup())
	defer a.Free()
}

// TestAccepterSetAcceptCallbackEnable checks that disabling accept
// delivery stops NEW_CONNECTION from firing, without tearing the
// listen socket down.
func TestAccepterSetAcceptCallbackEnable(t *testing.T) {
	accepted := make(chan gensio.Conn, 4)
	a := gensio.NewAccepter(newLocalAddrList(t), func(conn gensio.Conn) {
		accepted <- conn
	})
	require.Nil(t, a.Startup())
	defer a.Free()
	addr := acceptedAddr(t, a)

	a.SetAcceptCallbackEnable(false)

	client, err := net.DialTimeout("tcp", addr, time.Second)
	require.Nil(t, err)
	defer client.Close()

	select {
	case <-accepted:
		t.Fatal("should not have delivered a connection while disabled")
	case <-time.After(200 * time.Millisecond):
	}
}

func acceptedAddr(t *testing.T, a *gensio.Accepter) string {
	addr := a.Addr()
	require.NotNil(t, addr)
	return addr.String()
}

func TestDialWithAccepter(t *testing.T) {
	accepted := make(chan gensio.Conn, 1)
	a := gensio.NewAccepter(newLocalAddrList(t), func(conn gensio.Conn) {
		accepted <- conn
	})
	require.Nil(t, a.Startup())
	defer a.Free()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	addr := acceptedAddr(t, a)
	client, err := gensio.Dial(ctx, "tcp", addr)
	require.Nil(t, err)
	defer client.Close()

	var server gensio.Conn
	select {
	case server = <-accepted:
		defer server.Close()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}

	_, err = client.Write(helloWorld)
	require.Nil(t, err)
	rsp, err := server.ReadN(len(helloWorld))
	require.Nil(t, err)
	require.Equal(t, helloWorld, rsp)
}
