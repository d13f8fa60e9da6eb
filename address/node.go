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

// Package address defines the identifiers used to route messages inside and
// across a cluster: NodeID names a cluster node and Pid names an addressable
// process on a node.
package address

import (
	"fmt"
	"strings"
)

// NodeID uniquely identifies a node in the cluster. It is an immutable value
// made of a logical name and the TCP address (host:port) peers use to reach
// the node.
//
// NodeID carries a total order (Compare) that is identical on every node of
// the cluster. The duplicate-link resolver relies on that property to settle
// simultaneous connects without any coordination, so the ordering must never
// depend on node-local state.
type NodeID struct {
	Name string `cbor:"1,keyasint"`
	Addr string `cbor:"2,keyasint"`
}

// NewNodeID creates a NodeID from a logical name and a host:port address.
func NewNodeID(name, addr string) NodeID {
	return NodeID{Name: name, Addr: addr}
}

// ParseNodeID parses the canonical textual form "name@host:port".
func ParseNodeID(s string) (NodeID, error) {
	name, addr, ok := strings.Cut(s, "@")
	if !ok || name == "" || addr == "" {
		return NodeID{}, fmt.Errorf("%w: %q must be of the form name@host:port", ErrInvalidNodeID, s)
	}
	return NodeID{Name: name, Addr: addr}, nil
}

// String returns the canonical textual form "name@host:port".
func (n NodeID) String() string {
	return n.Name + "@" + n.Addr
}

// IsZero reports whether the NodeID is the zero value.
func (n NodeID) IsZero() bool {
	return n.Name == "" && n.Addr == ""
}

// Compare orders NodeIDs lexicographically by name, then by address.
// It returns a negative value when n sorts before other, zero when equal,
// and a positive value otherwise.
func (n NodeID) Compare(other NodeID) int {
	if c := strings.Compare(n.Name, other.Name); c != 0 {
		return c
	}
	return strings.Compare(n.Addr, other.Addr)
}

// Less reports whether n sorts strictly before other.
func (n NodeID) Less(other NodeID) bool {
	return n.Compare(other) < 0
}
