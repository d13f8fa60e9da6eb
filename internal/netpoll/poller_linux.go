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
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Poller is the Linux reactor: an epoll instance plus timerfd-backed
// intervals. Registrations are level-triggered, so a registration keeps
// firing while it is readable/writable; idle connections should therefore be
// registered read-only and only carry write interest while output is
// pending.
//
// Registrar methods are safe to call while another goroutine blocks in Wait.
type Poller struct {
	epfd   int
	mu     sync.Mutex
	nextID int
	ids    map[int]int // fd -> registration id
	timers map[int]int // registration id -> timerfd
	closed bool
}

var _ Registrar = (*Poller)(nil)

// NewPoller creates an epoll-backed reactor.
func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Poller{
		epfd:   epfd,
		nextID: 1,
		ids:    make(map[int]int),
		timers: make(map[int]int),
	}, nil
}

// Register adds the pollable with the given interest and returns its id.
func (p *Poller) Register(pollable Pollable, interest Interest) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, unix.EBADF
	}
	id := p.nextID
	p.nextID++
	fd := pollable.Fd()
	event := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd), Pad: int32(id)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return 0, fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	p.ids[fd] = id
	return id, nil
}

// Reregister replaces the interest of an existing registration.
func (p *Poller) Reregister(id int, pollable Pollable, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return unix.EBADF
	}
	fd := pollable.Fd()
	event := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd), Pad: int32(id)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &event); err != nil {
		return fmt.Errorf("epoll_ctl mod fd %d: %w", fd, err)
	}
	return nil
}

// Deregister removes the pollable from the reactor.
func (p *Poller) Deregister(pollable Pollable) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return unix.EBADF
	}
	fd := pollable.Fd()
	delete(p.ids, fd)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

// SetInterval creates a timerfd firing every interval and registers it for
// read readiness. The timer is drained inside Wait, so its event arrives at
// most once per poll round and needs no re-arming by the consumer.
func (p *Poller) SetInterval(interval time.Duration) (int, error) {
	tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return 0, fmt.Errorf("timerfd_create: %w", err)
	}
	spec := unix.ItimerSpec{
		Interval: unix.NsecToTimespec(interval.Nanoseconds()),
		Value:    unix.NsecToTimespec(interval.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(tfd, 0, &spec, nil); err != nil {
		_ = unix.Close(tfd)
		return 0, fmt.Errorf("timerfd_settime: %w", err)
	}
	id, err := p.Register(fdPollable(tfd), Read)
	if err != nil {
		_ = unix.Close(tfd)
		return 0, err
	}
	p.mu.Lock()
	p.timers[id] = tfd
	p.mu.Unlock()
	return id, nil
}

// Wait blocks until readiness arrives or the timeout elapses, returning the
// batch of events. A nil batch with nil error means the timeout elapsed.
func (p *Poller) Wait(timeout time.Duration) ([]Event, error) {
	var buf [128]unix.EpollEvent
	for {
		n, err := unix.EpollWait(p.epfd, buf[:], int(timeout.Milliseconds()))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("epoll_wait: %w", err)
		}
		events := make([]Event, 0, n)
		for _, raw := range buf[:n] {
			id := int(raw.Pad)
			p.drainTimer(id)
			events = append(events, Event{ID: id, Readiness: fromEpollEvents(raw.Events)})
		}
		return events, nil
	}
}

// Close tears the reactor down, closing the epoll instance and every timer.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, tfd := range p.timers {
		_ = unix.Close(tfd)
	}
	return unix.Close(p.epfd)
}

func (p *Poller) drainTimer(id int) {
	p.mu.Lock()
	tfd, ok := p.timers[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	var expirations [8]byte
	_, _ = unix.Read(tfd, expirations[:])
}

// fdPollable adapts a raw file descriptor to the Pollable contract.
type fdPollable int

func (f fdPollable) Fd() int { return int(f) }

func toEpollEvents(interest Interest) uint32 {
	var events uint32
	if interest&Read != 0 {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&Write != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

func fromEpollEvents(events uint32) Interest {
	var interest Interest
	if events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		interest |= Read
	}
	if events&unix.EPOLLOUT != 0 {
		interest |= Write
	}
	if interest == 0 {
		interest = Read
	}
	return interest
}
