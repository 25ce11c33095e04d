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
)

// addrEntry is one candidate peer address: its address family, the raw
// sockaddr bytes (zero-padded to netutil.SockaddrSize), and the
// length of that buffer, which is netutil.SockaddrSize for both families.
type addrEntry struct {
	family   int
	sockaddr [netutil.SockaddrSize]byte
	length   int
	addr     *net.TCPAddr
}

// AddrList is an immutable, owned, iterable list of resolved TCP
// addresses. It is always non-empty once constructed successfully.
// Callers walk it in order when establishing a connection; the
// accepter binds a listen socket per entry.
type AddrList struct {
	entries []addrEntry
}

// NewAddrList deep-copies addrs into an owned AddrList. Any address
// whose encoded sockaddr would exceed the platform's generic sockaddr
// storage size fails construction with ErrTooBig. addrs must be
// non-empty.
func NewAddrList(addrs []*net.TCPAddr) (*AddrList, error) {
	if len(addrs) == 0 {
		return nil, invalidArgf("address list must not be empty")
	}
	entries := make([]addrEntry, 0, len(addrs))
	for _, a := range addrs {
		e, err := newAddrEntry(a)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return &AddrList{entries: entries}, nil
}

func newAddrEntry(a *net.TCPAddr) (addrEntry, error) {
	sa, err := netutil.TCPAddrToSockaddr(a)
	if err != nil {
		return addrEntry{}, wrapOs(err, "resolve tcp address")
	}
	var e addrEntry
	buf := make([]byte, netutil.SockaddrSize)
	if err := netutil.UnixSockaddrToSockaddrSlice(sa, buf); err != nil {
		return addrEntry{}, wrapOs(err, "encode sockaddr")
	}
	if err := fitsGenericStorage(len(buf)); err != nil {
		return addrEntry{}, err
	}
	copy(e.sockaddr[:], buf)
	e.length = len(buf)
	e.addr = &net.TCPAddr{IP: append(net.IP(nil), a.IP...), Port: a.Port, Zone: a.Zone}
	if a.IP.To4() != nil {
		e.family = unix.AF_INET
	} else {
		e.family = unix.AF_INET6
	}
	return e, nil
}

// ResolveAddrList resolves address (host:port, possibly multi-homed)
// through the standard resolver into a deep-copied, ordered AddrList,
// matching the gensio address-resolution collaborator's contract: one
// entry per resolved IP, in resolver order.
func ResolveAddrList(ctx context.Context, network, address string) (*AddrList, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, invalidArgf("unsupported network %q, must be tcp/tcp4/tcp6", network)
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, invalidArgf("malformed address %q: %v", address, err)
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, wrapOs(err, fmt.Sprintf("resolve host %q", host))
	}
	var p int
	if _, err := fmt.Sscanf(port, "%d", &p); err != nil {
		return nil, invalidArgf("malformed port %q in address %q", port, address)
	}
	addrs := make([]*net.TCPAddr, 0, len(ips))
	for _, ip := range ips {
		switch network {
		case "tcp4":
			if ip.IP.To4() == nil {
				continue
			}
		case "tcp6":
			if ip.IP.To4() != nil {
				continue
			}
		}
		addrs = append(addrs, &net.TCPAddr{IP: ip.IP, Port: p, Zone: ip.Zone})
	}
	if len(addrs) == 0 {
		return nil, invalidArgf("no addresses of network %q resolved for %q", network, address)
	}
	return NewAddrList(addrs)
}

// Len returns the number of candidate entries.
func (l *AddrList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// Addr returns the net.TCPAddr of entry i.
func (l *AddrList) Addr(i int) *net.TCPAddr {
	return l.entries[i].addr
}

// First returns the first entry's address, or nil for an empty list.
// It is the entry used when an AddrList serves as a local bind address.
func (l *AddrList) First() *net.TCPAddr {
	if l.Len() == 0 {
		return nil
	}
	return l.entries[0].addr
}

// sockaddr returns the unix.Sockaddr for entry i, ready for Connect/Bind.
func (l *AddrList) sockaddr(i int) (unix.Sockaddr, error) {
	return netutil.TCPAddrToSockaddr(l.entries[i].addr)
}

// fitsGenericStorage enforces the bound every encoded sockaddr must
// respect before it is copied into an addrEntry's fixed-size buffer.
// Real TCPAddrToSockaddr output never trips this (IPv4/IPv6 sockaddrs
// both fit within netutil.SockaddrSize), but the check stays a named,
// independently testable step rather than an inline dead branch, since
// a future address family or a malformed candidate must still be
// rejected with ErrTooBig instead of silently truncated.
func fitsGenericStorage(encodedLen int) error {
	if encodedLen > netutil.SockaddrSize {
		return tooBigf("encoded sockaddr length %d exceeds generic storage %d",
			encodedLen, netutil.SockaddrSize)
	}
	return nil
}
