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

package message

import "github.com/tochemey/clustermesh/address"

// CorrelationID ties a response back to the request that caused it. It is
// owned by whichever component issued the original request; the transport
// only carries it. Pid identifies where the response should go; Handle and
// Request further qualify the request when the issuer multiplexes several.
type CorrelationID struct {
	Pid     *address.Pid `cbor:"1,keyasint,omitempty"`
	Handle  *uint64      `cbor:"2,keyasint,omitempty"`
	Request *uint64      `cbor:"3,keyasint,omitempty"`
}

// CorrelatePid creates a correlation identifier addressed to a Pid.
func CorrelatePid(pid address.Pid) *CorrelationID {
	return &CorrelationID{Pid: &pid}
}

// CorrelateHandle creates a correlation identifier addressed to a Pid with a
// multiplexing handle.
func CorrelateHandle(pid address.Pid, handle uint64) *CorrelationID {
	return &CorrelationID{Pid: &pid, Handle: &handle}
}

// NextRequest returns a copy with the request counter advanced. A missing
// counter starts at zero.
func (c *CorrelationID) NextRequest() *CorrelationID {
	next := uint64(0)
	if c.Request != nil {
		next = *c.Request + 1
	}
	out := *c
	out.Request = &next
	return &out
}
