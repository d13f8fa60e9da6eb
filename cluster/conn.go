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
	"github.com/tochemey/clustermesh/internal/frames"
	"github.com/tochemey/clustermesh/internal/netpoll"
)

// conn is the per-connection record. node stays zero on an accepted
// connection until the peer identifies itself with a Members message;
// isClient records which side initiated, which the duplicate-link resolver
// depends on. slot is the connection's current timing-wheel bucket.
type conn struct {
	sock        netpoll.Socket
	node        address.NodeID
	isClient    bool
	membersSent bool
	slot        int
	reader      *frames.Reader
	writer      *frames.Writer
}

// newConn creates a connection record. A non-zero node marks the connection
// as client-initiated, since outgoing connections are the only ones whose
// peer is known up front.
func newConn(sock netpoll.Socket, node address.NodeID, maxFrameSize uint32) *conn {
	return &conn{
		sock:     sock,
		node:     node,
		isClient: !node.IsZero(),
		reader:   frames.NewReader(maxFrameSize),
		writer:   frames.NewWriter(),
	}
}
