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

package cluster

import (
	"time"

	"github.com/tochemey/clustermesh/log"
)

// Option is the interface that applies a configuration option.
type Option interface {
	// Apply sets the Option value of a config.
	Apply(srv *Server)
}

// enforce compilation error
var _ Option = OptionFunc(nil)

// OptionFunc implements the Option interface.
type OptionFunc func(srv *Server)

func (f OptionFunc) Apply(srv *Server) {
	f(srv)
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return OptionFunc(func(srv *Server) {
		srv.logger = logger
	})
}

// WithTickInterval sets the coarse tick driving liveness expiry, ping
// broadcast and reconciliation.
func WithTickInterval(interval time.Duration) Option {
	return OptionFunc(func(srv *Server) {
		srv.tickInterval = interval
	})
}

// WithRequestTimeout sets the liveness window: a connection that receives
// nothing for this long is closed. It must be at least twice the tick
// interval.
func WithRequestTimeout(timeout time.Duration) Option {
	return OptionFunc(func(srv *Server) {
		srv.requestTimeout = timeout
	})
}

// WithExecutorTickInterval sets the fast tick relayed to the executor so
// process timers can fire.
func WithExecutorTickInterval(interval time.Duration) Option {
	return OptionFunc(func(srv *Server) {
		srv.executorTickInterval = interval
	})
}

// WithMaxFrameSize caps the payload size a peer may announce on one frame.
func WithMaxFrameSize(size uint32) Option {
	return OptionFunc(func(srv *Server) {
		srv.maxFrameSize = size
	})
}

// WithMailboxSize sets the buffering of the control channel.
func WithMailboxSize(size int) Option {
	return OptionFunc(func(srv *Server) {
		srv.mailboxSize = size
	})
}
