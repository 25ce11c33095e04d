// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package locker provides a single-slot, non-blocking admission gate:
// the primitive conn.go and safejob build their "only one writer/job
// active at a time, everyone else bails instead of queuing" guarantee
// on top of.
package locker

import (
	"runtime"
	"sync/atomic"
)

const (
	open  = 0
	taken = 1
)

// A Gate admits at most one caller at a time. The zero value is open.
// Unlike sync.Mutex, a blocked caller spins rather than parking, which
// suits the short critical sections this package guards (a handful of
// buffer operations, never a syscall).
type Gate uint32

// New allocates an open Gate.
func New() *Gate {
	var g Gate
	return &g
}

// Lock blocks the calling goroutine until it can enter the gate.
func (g *Gate) Lock() {
	for !atomic.CompareAndSwapUint32((*uint32)(g), open, taken) {
		runtime.Gosched()
	}
}

// Unlock reopens the gate. The caller that unlocks need not be the one
// that locked it.
func (g *Gate) Unlock() {
	atomic.StoreUint32((*uint32)(g), open)
}

// TryLock attempts to enter the gate without blocking, reporting
// whether it succeeded.
func (g *Gate) TryLock() bool {
	return atomic.CompareAndSwapUint32((*uint32)(g), open, taken)
}

// IsLocked reports whether the gate is currently taken.
func (g *Gate) IsLocked() bool {
	return atomic.LoadUint32((*uint32)(g)) == taken
}
