// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package locker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/gensio-go/tcpgensio/internal/locker"
)

func TestGate(t *testing.T) {
	g := locker.New()
	assert.Equal(t, false, g.IsLocked())
	g.Lock()
	assert.Equal(t, true, g.IsLocked())
	assert.Equal(t, false, g.TryLock())
	g.Unlock()
	assert.Equal(t, false, g.IsLocked())

	assert.Equal(t, true, g.TryLock())
	assert.Equal(t, true, g.IsLocked())
	g.Unlock()
	assert.Equal(t, false, g.IsLocked())
}

func hammerGate(t *testing.T, g *locker.Gate, loops int, cdone chan bool) {
	for i := 0; i < loops; i++ {
		g.Lock()
		assert.Equal(t, true, g.IsLocked())
		g.Unlock()
	}
	cdone <- true
}

func TestConcurrentGate(t *testing.T) {
	g := locker.New()
	c := make(chan bool)
	for i := 0; i < 10; i++ {
		go hammerGate(t, g, 1000, c)
	}
	for i := 0; i < 10; i++ {
		<-c
	}
	assert.Equal(t, false, g.IsLocked())
}
