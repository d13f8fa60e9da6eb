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

// Package message defines the envelope exchanged between processes and the
// correlation identifier threaded through request/response pairs. Envelope
// bodies are opaque CBOR payloads so that the transport never needs to
// understand application message types.
package message

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/tochemey/clustermesh/address"
)

// Envelope is the unit of inter-process communication. It is routable both
// locally and across the network and is consumed exactly once by the
// addressed recipient. Envelopes are immutable values; create a new one
// rather than mutating in place.
type Envelope struct {
	To            address.Pid     `cbor:"1,keyasint"`
	From          address.Pid     `cbor:"2,keyasint"`
	CorrelationID *CorrelationID  `cbor:"3,keyasint,omitempty"`
	Body          cbor.RawMessage `cbor:"4,keyasint,omitempty"`
}

// NewEnvelope creates an envelope carrying the given body.
func NewEnvelope(to, from address.Pid, body cbor.RawMessage) *Envelope {
	return &Envelope{To: to, From: from, Body: body}
}

// WithCorrelation returns a copy of the envelope carrying the given
// correlation identifier.
func (e *Envelope) WithCorrelation(cid *CorrelationID) *Envelope {
	out := *e
	out.CorrelationID = cid
	return &out
}

// NewBody marshals an application value into an opaque envelope body.
func NewBody(v any) (cbor.RawMessage, error) {
	return cbor.Marshal(v)
}

// DecodeBody unmarshals an envelope body into the given value.
func DecodeBody(body cbor.RawMessage, v any) error {
	return cbor.Unmarshal(body, v)
}
