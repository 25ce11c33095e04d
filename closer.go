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

import "github.com/gensio-go/tcpgensio/internal/safejob"

// lane identifies one of the activities a conn's lifecycle guard
// tracks independently so that a concurrent Close can drain and then
// reject each of them without racing the activity itself.
type lane int

const (
	// laneDriverRead guards the poller callback that fills inBuffer.
	laneDriverRead lane = iota
	// laneDriverWrite guards the poller callback that drains outBuffer.
	laneDriverWrite
	// laneCallerRead guards Read/ReadN/Peek/Next/Skip/Release.
	laneCallerRead
	// laneCallerWrite guards Write/Writev/WriteOOB.
	laneCallerWrite
	// laneCallerControl guards Len; Control does not enter any lane.
	laneCallerControl
	// laneTeardown guards Close itself.
	laneTeardown
)

// lifecycleGuard serializes a conn's shutdown against everything else
// that might be touching it: the two poller-driven callbacks and the
// three caller-facing entry points each get their own safejob so Close
// can drain whichever ones are in flight without blocking on lanes
// that aren't, then latch every lane closed for good.
type lifecycleGuard struct {
	driverRead    safejob.ExclusiveUnblockJob
	driverWrite   safejob.ExclusiveUnblockJob
	callerRead    safejob.ExclusiveBlockJob
	callerWrite   safejob.ConcurrentJob
	callerControl safejob.ExclusiveBlockJob
	teardown      safejob.OnceJob
}

// closed reports whether teardown has already run to completion.
func (g *lifecycleGuard) closed() bool {
	return g.teardown.Closed()
}

func (g *lifecycleGuard) lane(l lane) safejob.Job {
	switch l {
	case laneDriverRead:
		return &g.driverRead
	case laneDriverWrite:
		return &g.driverWrite
	case laneCallerRead:
		return &g.callerRead
	case laneCallerWrite:
		return &g.callerWrite
	case laneCallerControl:
		return &g.callerControl
	case laneTeardown:
		return &g.teardown
	default:
		return nil
	}
}

// enter admits the caller onto lane l, returning false if the guard is
// already tearing down.
func (g *lifecycleGuard) enter(l lane) bool {
	j := g.lane(l)
	return j != nil && j.Begin()
}

// leave marks the caller done with lane l.
func (g *lifecycleGuard) leave(l lane) {
	if j := g.lane(l); j != nil {
		j.End()
	}
}

// drain forces lane l closed, unblocking anyone waiting to enter it.
func (g *lifecycleGuard) drain(l lane) {
	if j := g.lane(l); j != nil {
		j.Close()
	}
}

// drainAll force-closes every lane but teardown itself, which the
// caller closes separately once draining is done.
func (g *lifecycleGuard) drainAll() {
	for _, l := range []lane{laneDriverRead, laneDriverWrite, laneCallerRead, laneCallerWrite, laneCallerControl} {
		g.drain(l)
	}
}
