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

// Package reuseport opens listening TCP sockets with SO_REUSEADDR (and,
// optionally, SO_REUSEPORT) set before bind, so an accepter can bind more
// than one socket to the same address for multi-core accept fan-out.
package reuseport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

var errUnsupportedProtocol = errors.New("only tcp, tcp4, tcp6 are supported")

// soReusePort is SO_REUSEPORT. Its numeric value is platform-specific and
// not exported by every supported GOOS, so it is kept as a local constant,
// same as the package did for its previous UDP variant.
var soReusePort = 0x0F

// ListenTCP returns a *net.TCPListener bound to addr with SO_REUSEADDR set,
// and SO_REUSEPORT additionally set when reusePort is true. Multiple
// listeners created with reusePort=true may bind the same address:port,
// letting the kernel load-balance inbound connections across them.
func ListenTCP(network, addr string, reusePort bool) (*net.TCPListener, error) {
	sa, soType, err := getSockaddr(network, addr)
	if err != nil {
		return nil, err
	}

	syscall.ForkLock.RLock()
	fd, err := syscall.Socket(soType, syscall.SOCK_STREAM, syscall.IPPROTO_TCP)
	if err == nil {
		syscall.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, err
	}
	ln, err := createListener(fd, sa, reusePort, getSocketFileName(network, addr))
	if err != nil {
		syscall.Close(fd)
		return nil, err
	}
	return ln, nil
}

// getSockaddr parses network and address and returns implementor
// of syscall.Sockaddr: syscall.SockaddrInet4 or syscall.SockaddrInet6.
func getSockaddr(network, addr string) (sa syscall.Sockaddr, soType int, err error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
		return getTCPSockaddr(network, addr)
	default:
		return nil, -1, errUnsupportedProtocol
	}
}

func getTCPSockaddr(network, addr string) (sa syscall.Sockaddr, soType int, err error) {
	tcp, tcpVersion, err := getTCPAddr(network, addr)
	if err != nil {
		return nil, -1, err
	}

	switch tcpVersion {
	case "tcp":
		return &syscall.SockaddrInet4{Port: tcp.Port}, syscall.AF_INET, nil
	case "tcp4":
		return getTCP4Sockaddr(tcp)
	default:
		// must be "tcp6"
		return getTCP6Sockaddr(tcp)
	}
}

func getTCPAddr(network, addr string) (*net.TCPAddr, string, error) {
	tcp, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return nil, "", err
	}

	tcpVersion, err := determineTCPProto(network, tcp)
	if err != nil {
		return nil, "", err
	}

	return tcp, tcpVersion, nil
}

func getTCP4Sockaddr(tcp *net.TCPAddr) (syscall.Sockaddr, int, error) {
	sa := &syscall.SockaddrInet4{Port: tcp.Port}

	if tcp.IP != nil {
		if len(tcp.IP) == 16 {
			copy(sa.Addr[:], tcp.IP[12:16]) // copy last 4 bytes of slice to array
		} else {
			copy(sa.Addr[:], tcp.IP) // copy all bytes of slice to array
		}
	}

	return sa, syscall.AF_INET, nil
}

func getTCP6Sockaddr(tcp *net.TCPAddr) (syscall.Sockaddr, int, error) {
	sa := &syscall.SockaddrInet6{Port: tcp.Port}

	if tcp.IP != nil {
		copy(sa.Addr[:], tcp.IP) // copy all bytes of slice to array
	}

	if tcp.Zone != "" {
		iface, err := net.InterfaceByName(tcp.Zone)
		if err != nil {
			return nil, -1, err
		}

		sa.ZoneId = uint32(iface.Index)
	}

	return sa, syscall.AF_INET6, nil
}

func determineTCPProto(network string, ip *net.TCPAddr) (string, error) {
	// If network is set to "tcp", try to determine the actual protocol
	// version from the size of the resolved IP address. Otherwise, simply
	// use the network given to us by the caller.
	if ip.IP.To4() != nil {
		return "tcp4", nil
	}

	if ip.IP.To16() != nil {
		return "tcp6", nil
	}

	switch network {
	case "tcp", "tcp4", "tcp6":
		return network, nil
	default:
		return "", errUnsupportedProtocol
	}
}

func createListener(fd int, sockaddr syscall.Sockaddr, reusePort bool, fdName string) (*net.TCPListener, error) {
	if err := setListenerSockOpt(fd, sockaddr, reusePort); err != nil {
		return nil, err
	}

	file := os.NewFile(uintptr(fd), fdName)
	ln, err := net.FileListener(file)
	if err != nil {
		return nil, err
	}

	if err := file.Close(); err != nil {
		return nil, err
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("unexpected listener type %T", ln)
	}
	return tcpLn, nil
}

func setListenerSockOpt(fd int, sockaddr syscall.Sockaddr, reusePort bool) error {
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		return err
	}

	if reusePort {
		if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, soReusePort, 1); err != nil {
			return err
		}
	}

	if err := syscall.Bind(fd, sockaddr); err != nil {
		return err
	}
	return syscall.Listen(fd, syscall.SOMAXCONN)
}

const fileNameTemplate = "reuseport.%d.%s.%s"

func getSocketFileName(network, addr string) string {
	return fmt.Sprintf(fileNameTemplate, os.Getpid(), network, addr)
}
