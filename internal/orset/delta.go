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

package orset

import (
	"fmt"

	"github.com/tochemey/clustermesh/address"
)

// Dot uniquely tags one mutation: the actor that performed it plus the
// actor's monotonically increasing counter at that time.
type Dot struct {
	Actor   string `cbor:"1,keyasint"`
	Counter uint64 `cbor:"2,keyasint"`
}

// String returns "actor:counter".
func (d Dot) String() string {
	return fmt.Sprintf("%s:%d", d.Actor, d.Counter)
}

// Delta is the minimal incremental state produced by one local mutation.
// Exactly one of Add or Remove is set: Add carries the fresh dot of an
// insertion, Remove carries every add-dot that was observed at removal time.
// Merging a delta any number of times, in any order, is safe.
type Delta struct {
	Member address.NodeID `cbor:"1,keyasint"`
	Add    *Dot           `cbor:"2,keyasint,omitempty"`
	Remove []Dot          `cbor:"3,keyasint,omitempty"`
}

// IsAdd reports whether the delta records an insertion.
func (d Delta) IsAdd() bool {
	return d.Add != nil
}

// IsRemove reports whether the delta records a removal.
func (d Delta) IsRemove() bool {
	return len(d.Remove) > 0
}

// String renders the delta for logging.
func (d Delta) String() string {
	if d.IsAdd() {
		return fmt.Sprintf("add(%s, %s)", d.Member, d.Add)
	}
	return fmt.Sprintf("remove(%s, %d dots)", d.Member, len(d.Remove))
}
