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
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/tochemey/clustermesh/address"
)

var (
	// ErrShutdown terminates the server loop in response to a Shutdown
	// control message.
	ErrShutdown = errors.New("cluster server shutdown requested")

	// ErrAlreadyStarted is returned when Run is called on a running server.
	ErrAlreadyStarted = errors.New("cluster server already started")
)

// connScoped is implemented by errors attributed to a single connection. The
// server loop closes every attributed connection before deciding whether the
// error is fatal.
type connScoped interface {
	connID() (int, bool)
}

// EncodeError reports a failure to encode an outbound message. ID is zero
// when the failure is not attributable to one connection (a broadcast).
type EncodeError struct {
	ID   int
	Node address.NodeID
	Err  error
}

func (e *EncodeError) Error() string {
	return scopedMessage("encoding message failed", e.ID, e.Node, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func (e *EncodeError) connID() (int, bool) { return e.ID, e.ID != 0 }

// DecodeError reports a malformed or undecodable inbound frame.
type DecodeError struct {
	ID   int
	Node address.NodeID
	Err  error
}

func (e *DecodeError) Error() string {
	return scopedMessage("decoding message failed", e.ID, e.Node, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) connID() (int, bool) { return e.ID, e.ID != 0 }

// ReadError reports a failed socket read, including peer close (io.EOF).
type ReadError struct {
	ID   int
	Node address.NodeID
	Err  error
}

func (e *ReadError) Error() string {
	return scopedMessage("reading from connection failed", e.ID, e.Node, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

func (e *ReadError) connID() (int, bool) { return e.ID, e.ID != 0 }

// WriteError reports a failed socket write.
type WriteError struct {
	ID   int
	Node address.NodeID
	Err  error
}

func (e *WriteError) Error() string {
	return scopedMessage("writing to connection failed", e.ID, e.Node, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) connID() (int, bool) { return e.ID, e.ID != 0 }

// RegistrarError reports a failed reactor registration change. ID is zero
// when the pollable had no registration yet.
type RegistrarError struct {
	ID   int
	Node address.NodeID
	Err  error
}

func (e *RegistrarError) Error() string {
	return scopedMessage("reactor registration failed", e.ID, e.Node, e.Err)
}

func (e *RegistrarError) Unwrap() error { return e.Err }

func (e *RegistrarError) connID() (int, bool) { return e.ID, e.ID != 0 }

// ConnectError reports a failed outgoing connection attempt. It is never
// fatal: reconciliation retries the node on the next tick for as long as it
// remains a member.
type ConnectError struct {
	Node address.NodeID
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to %s failed: %v", e.Node, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// DeliveryError reports that the executor rejected a handoff. The executor is
// the sole consumer of inbound envelopes, so losing it leaves no way to make
// progress and the server loop terminates.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering to executor failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// connIDs returns every connection id attributed by the error, walking
// aggregates so that one bad connection in a batch never hides another.
func connIDs(err error) []int {
	var ids []int
	for _, e := range multierr.Errors(err) {
		var scoped connScoped
		if errors.As(e, &scoped) {
			if id, ok := scoped.connID(); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// isFatal reports whether the error must terminate the server loop.
func isFatal(err error) bool {
	var delivery *DeliveryError
	return errors.As(err, &delivery)
}

func scopedMessage(what string, id int, node address.NodeID, err error) string {
	switch {
	case id != 0 && !node.IsZero():
		return fmt.Sprintf("%s: connection %d to %s: %v", what, id, node, err)
	case id != 0:
		return fmt.Sprintf("%s: connection %d: %v", what, id, err)
	default:
		return fmt.Sprintf("%s: %v", what, err)
	}
}
