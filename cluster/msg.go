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
	"github.com/tochemey/clustermesh/address"
	"github.com/tochemey/clustermesh/internal/netpoll"
	"github.com/tochemey/clustermesh/message"
)

// Msg is a control message consumed by the server loop. The set of
// implementations is closed; producers send them through Server.Send from any
// goroutine.
type Msg interface {
	isMsg()
}

// PollNotifications carries one batch of readiness events from the poll loop.
type PollNotifications struct {
	Events []netpoll.Event
}

// Join requests that a node be added to the membership and connected to.
type Join struct {
	Node address.NodeID
}

// Leave requests that a node be removed from the membership. Its connection
// is torn down by the next reconciliation pass.
type Leave struct {
	Node address.NodeID
}

// RouteEnvelope requests delivery of a locally originated envelope to its
// destination node. Envelopes addressed to the server's own Pid are answered
// with a Status reply.
type RouteEnvelope struct {
	Envelope *message.Envelope
}

// GetStatus requests a Status reply addressed by the correlation identifier
// and routed back through the executor.
type GetStatus struct {
	CorrelationID *message.CorrelationID
}

// Shutdown terminates the server loop.
type Shutdown struct{}

func (PollNotifications) isMsg() {}
func (Join) isMsg()              {}
func (Leave) isMsg()             {}
func (RouteEnvelope) isMsg()     {}
func (GetStatus) isMsg()         {}
func (Shutdown) isMsg()          {}

// Executor consumes the envelopes the server receives from remote peers and
// the fast ticks that drive process timers. A returned error means the
// executor is gone; the server loop treats it as fatal.
type Executor interface {
	// Deliver hands an inbound envelope to the executor for local routing.
	Deliver(envelope *message.Envelope) error
	// Tick lets the executor fire pending process timers.
	Tick() error
}

// Counters are the monotonically increasing operation counts kept by the
// server. They are part of the Status reply.
type Counters struct {
	PollNotifications   uint64 `cbor:"1,keyasint"`
	Joins               uint64 `cbor:"2,keyasint"`
	Leaves              uint64 `cbor:"3,keyasint"`
	StatusRequests      uint64 `cbor:"4,keyasint"`
	LocalEnvelopes      uint64 `cbor:"5,keyasint"`
	RemoteEnvelopes     uint64 `cbor:"6,keyasint"`
	AcceptedConnections uint64 `cbor:"7,keyasint"`
	ConnectionAttempts  uint64 `cbor:"8,keyasint"`
	Errors              uint64 `cbor:"9,keyasint"`
}

// Status is a point-in-time view of the server, sent as an envelope body in
// response to GetStatus. Member lists are sorted by NodeID order.
type Status struct {
	Members     []address.NodeID `cbor:"1,keyasint"`
	Established []address.NodeID `cbor:"2,keyasint"`
	Connections int              `cbor:"3,keyasint"`
	Counters    Counters         `cbor:"4,keyasint"`
}
