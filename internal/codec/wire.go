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

// Package codec encodes and decodes the peer control protocol. Each frame
// payload is a CBOR map holding exactly one of the four message variants,
// keyed by a stable integer tag so the schema can evolve without breaking
// older peers.
package codec

import (
	"errors"

	"github.com/fxamacker/cbor/v2"

	"github.com/tochemey/clustermesh/address"
	"github.com/tochemey/clustermesh/internal/orset"
	"github.com/tochemey/clustermesh/message"
)

// ErrMalformedMessage is returned when a payload does not decode to exactly
// one protocol variant.
var ErrMalformedMessage = errors.New("malformed peer message")

// Members bootstraps or refreshes a peer's view of the membership replica.
// It doubles as the identity half of the handshake: From tells the receiver
// who is on the other end of the socket.
type Members struct {
	From address.NodeID `cbor:"1,keyasint"`
	Set  *orset.ORSet   `cbor:"2,keyasint"`
}

// Ping is the periodic liveness heartbeat. It carries no payload.
type Ping struct{}

// Wire is the tagged union carried by every peer frame. Exactly one field is
// set.
type Wire struct {
	Members  *Members          `cbor:"1,keyasint,omitempty"`
	Ping     *Ping             `cbor:"2,keyasint,omitempty"`
	Envelope *message.Envelope `cbor:"3,keyasint,omitempty"`
	Delta    *orset.Delta      `cbor:"4,keyasint,omitempty"`
}

// EncodeMembers encodes a membership snapshot sent by from.
func EncodeMembers(from address.NodeID, set *orset.ORSet) ([]byte, error) {
	return cbor.Marshal(Wire{Members: &Members{From: from, Set: set}})
}

// EncodePing encodes a liveness heartbeat.
func EncodePing() ([]byte, error) {
	return cbor.Marshal(Wire{Ping: &Ping{}})
}

// EncodeEnvelope encodes an inter-node envelope relay.
func EncodeEnvelope(envelope *message.Envelope) ([]byte, error) {
	return cbor.Marshal(Wire{Envelope: envelope})
}

// EncodeDelta encodes an incremental membership update.
func EncodeDelta(delta orset.Delta) ([]byte, error) {
	return cbor.Marshal(Wire{Delta: &delta})
}

// Decode decodes one frame payload, enforcing that exactly one variant is
// present. Malformed input yields an error, never a panic.
func Decode(payload []byte) (Wire, error) {
	var wire Wire
	if err := cbor.Unmarshal(payload, &wire); err != nil {
		return Wire{}, errors.Join(ErrMalformedMessage, err)
	}
	variants := 0
	if wire.Members != nil {
		variants++
	}
	if wire.Ping != nil {
		variants++
	}
	if wire.Envelope != nil {
		variants++
	}
	if wire.Delta != nil {
		variants++
	}
	if variants != 1 {
		return Wire{}, ErrMalformedMessage
	}
	return wire, nil
}
