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
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/gensio-go/tcpgensio/internal/netutil"
)

func TestResolveAddrListLocalhost(t *testing.T) {
	al, err := ResolveAddrList(context.Background(), "tcp", "127.0.0.1:80")
	require.Nil(t, err)
	require.Equal(t, 1, al.Len())
	assert.Equal(t, "127.0.0.1", al.Addr(0).IP.String())
	assert.Equal(t, 80, al.Addr(0).Port)
	assert.Equal(t, al.Addr(0), al.First())
}

func TestResolveAddrListBadNetwork(t *testing.T) {
	_, err := ResolveAddrList(context.Background(), "udp", "127.0.0.1:80")
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestResolveAddrListBadAddress(t *testing.T) {
	_, err := ResolveAddrList(context.Background(), "tcp", "not-an-address")
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestResolveAddrListFiltersByFamily(t *testing.T) {
	al, err := ResolveAddrList(context.Background(), "tcp4", "127.0.0.1:80")
	require.Nil(t, err)
	for i := 0; i < al.Len(); i++ {
		assert.NotNil(t, al.Addr(i).IP.To4())
	}
}

func TestNewAddrListEmpty(t *testing.T) {
	_, err := NewAddrList(nil)
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestNewAddrListSockaddrRoundTrip(t *testing.T) {
	al, err := NewAddrList([]*net.TCPAddr{{IP: net.ParseIP("127.0.0.1"), Port: 4242}})
	require.Nil(t, err)
	sa, err := al.sockaddr(0)
	require.Nil(t, err)
	assert.NotNil(t, sa)
}

func TestAddrListLenAndAddrOnNilList(t *testing.T) {
	var al *AddrList
	assert.Equal(t, 0, al.Len())
}

// TestFitsGenericStorageTooBig covers the boundary newAddrEntry can't
// reach through any real net.TCPAddr: an encoded length past generic
// sockaddr storage must fail construction with ErrTooBig.
func TestFitsGenericStorageTooBig(t *testing.T) {
	err := fitsGenericStorage(netutil.SockaddrSize + 1)
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, ErrTooBig))
}

func TestFitsGenericStorageExactFit(t *testing.T) {
	assert.Nil(t, fitsGenericStorage(netutil.SockaddrSize))
}
