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

// Package netpoll is the readiness-driven I/O layer. It defines the reactor
// contracts the cluster server is written against (registrar, events,
// non-blocking sockets) and, on Linux, implements them with epoll, timerfd
// and raw non-blocking TCP sockets.
//
// Every socket operation is non-blocking: a read or write that cannot make
// progress returns ErrWouldBlock and the caller resumes it on the next
// readiness notification for that registration.
package netpoll

import (
	"errors"
	"time"
)

// ErrWouldBlock is returned by socket reads and writes that cannot make
// progress without blocking.
var ErrWouldBlock = errors.New("operation would block")

// Interest expresses which readiness kinds a registration subscribes to.
type Interest uint8

const (
	// Read subscribes to read readiness.
	Read Interest = 1 << iota
	// Write subscribes to write readiness.
	Write
	// Both subscribes to read and write readiness.
	Both = Read | Write
)

// String returns the textual representation of the interest.
func (i Interest) String() string {
	switch i {
	case Read:
		return "read"
	case Write:
		return "write"
	case Both:
		return "both"
	default:
		return "none"
	}
}

// Event is one readiness notification, tagged with the registration id it
// belongs to.
type Event struct {
	ID        int
	Readiness Interest
}

// Pollable is anything that can be registered with a registrar.
type Pollable interface {
	// Fd returns the underlying file descriptor.
	Fd() int
}

// Socket is a non-blocking byte-stream connection. Read and Write return
// ErrWouldBlock when they cannot make progress.
type Socket interface {
	Pollable
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Listener accepts inbound sockets. Accept returns ErrWouldBlock once the
// kernel backlog is drained.
type Listener interface {
	Pollable
	Accept() (Socket, error)
	Close() error
}

// Dialer starts a non-blocking connection attempt to a host:port address. An
// in-progress connect is not an error; the socket becomes usable once the
// reactor reports it writable.
type Dialer func(addr string) (Socket, error)

// Registrar registers pollables with the reactor and owns the opaque ids
// that readiness events are tagged with. Implementations must be safe for
// use from the control loop while a poll loop is running.
type Registrar interface {
	// Register adds the pollable with the given interest and returns its id.
	Register(p Pollable, interest Interest) (int, error)
	// Reregister replaces the interest of an existing registration.
	Reregister(id int, p Pollable, interest Interest) error
	// Deregister removes the pollable from the reactor.
	Deregister(p Pollable) error
	// SetInterval arranges a readiness event with a dedicated id to fire
	// every interval until the reactor is closed.
	SetInterval(interval time.Duration) (int, error)
}
