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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsFunctional(t *testing.T) {
	opts := &options{}

	WithTCPKeepAlive(time.Second * 2).f(opts)
	assert.Equal(t, time.Second*2, opts.keepAlive)

	WithIdleTimeout(time.Minute).f(opts)
	assert.Equal(t, time.Minute, opts.idleTimeout)

	WithNonBlocking(true).f(opts)
	assert.True(t, opts.nonblocking)

	WithSafeWrite(true).f(opts)
	assert.True(t, opts.safeWrite)

	WithReadBufferSize(4096).f(opts)
	assert.Equal(t, 4096, opts.readBufSize)

	WithNoDelay(true).f(opts)
	assert.True(t, opts.nodelay)

	WithForceLink(true).f(opts)
	assert.True(t, opts.forceLink)

	called := errors.New("opened")
	WithOnOpened(func(Conn) error { return called }).f(opts)
	require.NotNil(t, opts.onOpened)
	assert.Equal(t, called, opts.onOpened(nil))

	WithOnClosed(func(Conn) error { return called }).f(opts)
	require.NotNil(t, opts.onClosed)
	assert.Equal(t, called, opts.onClosed(nil))
}

func TestOptionsSetDefault(t *testing.T) {
	opts := &options{}
	opts.setDefault()
	assert.Equal(t, defaultTCPKeepAlive, opts.keepAlive)
	assert.Equal(t, defaultReadBufSize, opts.readBufSize)
}

func TestParseClientArgs(t *testing.T) {
	ca, err := parseClientArgs(context.Background(), []string{"readbuf=2048", "nodelay"})
	require.Nil(t, err)
	assert.True(t, ca.haveReadBuf)
	assert.Equal(t, 2048, ca.readBufSize)
	assert.True(t, ca.haveNodelay)
	assert.True(t, ca.nodelay)
	assert.Nil(t, ca.localBind)
}

func TestParseClientArgsLaddr(t *testing.T) {
	ca, err := parseClientArgs(context.Background(), []string{"laddr=127.0.0.1:0"})
	require.Nil(t, err)
	require.NotNil(t, ca.localBind)
	assert.Equal(t, "127.0.0.1", ca.localBind.First().IP.String())
}

func TestParseClientArgsUnknownKey(t *testing.T) {
	_, err := parseClientArgs(context.Background(), []string{"bogus=1"})
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestParseClientArgsNodelayFalse(t *testing.T) {
	ca, err := parseClientArgs(context.Background(), []string{"nodelay=0"})
	require.Nil(t, err)
	assert.True(t, ca.haveNodelay)
	assert.False(t, ca.nodelay)
}

func TestParseAccepterArgs(t *testing.T) {
	aa, err := parseAccepterArgs([]string{"readbuf=1024", "nodelay=1"})
	require.Nil(t, err)
	assert.True(t, aa.haveReadBuf)
	assert.Equal(t, 1024, aa.readBufSize)
	assert.True(t, aa.haveNodelay)
	assert.True(t, aa.nodelay)
}

func TestParseAccepterArgsUnknownKey(t *testing.T) {
	_, err := parseAccepterArgs([]string{"laddr=127.0.0.1:0"})
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestParseSizeRequiresValue(t *testing.T) {
	_, err := parseClientArgs(context.Background(), []string{"readbuf"})
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}
