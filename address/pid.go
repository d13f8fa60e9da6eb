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

package address

// Pid identifies an addressable process or service. It carries the NodeID of
// the node owning the process so that envelopes addressed to it can be routed
// across the cluster. The optional Group namespaces processes of the same
// kind (for example "service").
//
// Pid is a comparable value; two Pids are the same destination iff they are
// equal with ==.
type Pid struct {
	Name  string `cbor:"1,keyasint"`
	Group string `cbor:"2,keyasint,omitempty"`
	Node  NodeID `cbor:"3,keyasint"`
}

// NewPid creates a Pid without a group.
func NewPid(name string, node NodeID) Pid {
	return Pid{Name: name, Node: node}
}

// NewGroupPid creates a Pid namespaced under the given group.
func NewGroupPid(group, name string, node NodeID) Pid {
	return Pid{Name: name, Group: group, Node: node}
}

// String returns "name@node" or "group/name@node" when a group is set.
func (p Pid) String() string {
	if p.Group != "" {
		return p.Group + "/" + p.Name + "@" + p.Node.String()
	}
	return p.Name + "@" + p.Node.String()
}

// IsZero reports whether the Pid is the zero value.
func (p Pid) IsZero() bool {
	return p.Name == "" && p.Group == "" && p.Node.IsZero()
}
