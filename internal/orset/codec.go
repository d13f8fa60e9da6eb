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
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/fxamacker/cbor/v2"

	"github.com/tochemey/clustermesh/address"
)

// memberDots is the wire entry for one member's dot set.
type memberDots struct {
	Member address.NodeID `cbor:"1,keyasint"`
	Dots   []Dot          `cbor:"2,keyasint"`
}

// state is the portable form of a replica. Members and dots are sorted so
// that the encoding of a given state is deterministic.
type state struct {
	Actor   string       `cbor:"1,keyasint"`
	Counter uint64       `cbor:"2,keyasint"`
	Adds    []memberDots `cbor:"3,keyasint"`
	Removes []memberDots `cbor:"4,keyasint"`
}

// MarshalCBOR encodes the replica in its portable form.
func (s *ORSet) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(state{
		Actor:   s.actor,
		Counter: s.counter,
		Adds:    toEntries(s.adds),
		Removes: toEntries(s.removes),
	})
}

// UnmarshalCBOR decodes a replica from its portable form.
func (s *ORSet) UnmarshalCBOR(data []byte) error {
	var decoded state
	if err := cbor.Unmarshal(data, &decoded); err != nil {
		return err
	}
	s.actor = decoded.Actor
	s.counter = decoded.Counter
	s.adds = fromEntries(decoded.Adds)
	s.removes = fromEntries(decoded.Removes)
	return nil
}

func toEntries(index map[address.NodeID]mapset.Set[Dot]) []memberDots {
	entries := make([]memberDots, 0, len(index))
	for member, dots := range index {
		if dots.Cardinality() == 0 {
			continue
		}
		sorted := dots.ToSlice()
		sortDots(sorted)
		entries = append(entries, memberDots{Member: member, Dots: sorted})
	}
	sortEntries(entries)
	return entries
}

func fromEntries(entries []memberDots) map[address.NodeID]mapset.Set[Dot] {
	index := make(map[address.NodeID]mapset.Set[Dot], len(entries))
	for _, entry := range entries {
		dots, ok := index[entry.Member]
		if !ok {
			dots = mapset.NewThreadUnsafeSet[Dot]()
			index[entry.Member] = dots
		}
		dots.Append(entry.Dots...)
	}
	return index
}

func sortEntries(entries []memberDots) {
	slices.SortFunc(entries, func(a, b memberDots) int {
		return a.Member.Compare(b.Member)
	})
}
