// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

//go:build linux

package netpoll

import (
	"fmt"
	"io"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// TCPConn is a non-blocking TCP socket identified by its raw descriptor.
type TCPConn struct {
	fd int
}

var _ Socket = (*TCPConn)(nil)

// Fd returns the underlying file descriptor.
func (c *TCPConn) Fd() int { return c.fd }

// Read reads available bytes without blocking. It returns ErrWouldBlock when
// the socket has nothing to read and io.EOF when the peer closed.
func (c *TCPConn) Read(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, fmt.Errorf("read fd %d: %w", c.fd, err)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write writes as many bytes as the socket accepts without blocking,
// returning ErrWouldBlock alongside the partial count when the send buffer
// is full.
func (c *TCPConn) Write(p []byte) (int, error) {
	n, err := unix.Write(c.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			if n < 0 {
				n = 0
			}
			return n, ErrWouldBlock
		}
		return 0, fmt.Errorf("write fd %d: %w", c.fd, err)
	}
	return n, nil
}

// Close closes the socket.
func (c *TCPConn) Close() error {
	return unix.Close(c.fd)
}

// TCPListener is a non-blocking listening socket.
type TCPListener struct {
	fd int
}

var _ Listener = (*TCPListener)(nil)

// Fd returns the underlying file descriptor.
func (l *TCPListener) Fd() int { return l.fd }

// Accept accepts one pending connection, returning ErrWouldBlock once the
// backlog is drained. Accepted sockets are non-blocking.
func (l *TCPListener) Accept() (Socket, error) {
	fd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("accept fd %d: %w", l.fd, err)
	}
	return &TCPConn{fd: fd}, nil
}

// Close closes the listening socket.
func (l *TCPListener) Close() error {
	return unix.Close(l.fd)
}

// Addr returns the bound address, which is useful when listening on port 0.
func (l *TCPListener) Addr() (string, error) {
	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		return "", fmt.Errorf("getsockname fd %d: %w", l.fd, err)
	}
	return sockaddrString(sa)
}

// Listen opens a non-blocking listening socket on the given host:port.
func Listen(addr string) (*TCPListener, error) {
	sa, family, err := resolve(addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &TCPListener{fd: fd}, nil
}

// Dial starts a non-blocking connect to the given host:port. The in-progress
// state is not an error: the connection is usable once the reactor reports
// the socket writable. Dial satisfies the Dialer contract.
func Dial(addr string) (Socket, error) {
	sa, family, err := resolve(addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return &TCPConn{fd: fd}, nil
}

func resolve(addr string) (unix.Sockaddr, int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, 0, fmt.Errorf("resolving address %q: %w", addr, err)
	}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil || tcpAddr.IP == nil {
		sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: tcpAddr.Port}
	copy(sa.Addr[:], tcpAddr.IP.To16())
	return sa, unix.AF_INET6, nil
}

func sockaddrString(sa unix.Sockaddr) (string, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port)), nil
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port)), nil
	default:
		return "", fmt.Errorf("unsupported sockaddr %T", sa)
	}
}
