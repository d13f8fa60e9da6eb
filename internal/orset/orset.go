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

// Package orset implements an observed-remove set over node identifiers.
//
// Every insertion is tagged with a globally unique dot; a removal tombstones
// only the dots it has observed. An element is present while it owns at least
// one add-dot that no tombstone covers, which is what lets an add that is
// concurrent with a remove survive the merge. Join is idempotent, commutative
// and associative, so replicas converge regardless of delivery order or
// duplication.
//
// Dots and tombstones grow monotonically with mutations; no compaction is
// performed. Compacting safely requires knowing which dots every replica has
// observed (causal stability), which this package does not track.
package orset

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/tochemey/clustermesh/address"
)

// ORSet is a single replica of the set. It is not safe for concurrent use;
// the owning control loop is expected to be its only writer and reader.
type ORSet struct {
	actor   string
	counter uint64
	adds    map[address.NodeID]mapset.Set[Dot]
	removes map[address.NodeID]mapset.Set[Dot]
}

// New creates an empty replica mutated on behalf of the given actor.
func New(actor address.NodeID) *ORSet {
	return &ORSet{
		actor:   actor.String(),
		adds:    make(map[address.NodeID]mapset.Set[Dot]),
		removes: make(map[address.NodeID]mapset.Set[Dot]),
	}
}

// Add inserts the member with a fresh dot and returns the delta to
// disseminate. Adding an already present member is valid and produces a new
// dot, which makes the insertion win over any remove that has not observed
// it.
func (s *ORSet) Add(member address.NodeID) Delta {
	s.counter++
	dot := Dot{Actor: s.actor, Counter: s.counter}
	s.addDots(s.adds, member, dot)
	return Delta{Member: member, Add: &dot}
}

// Leave tombstones every currently observed add-dot of the member. It
// returns false when the member is not present, in which case there is
// nothing to disseminate.
func (s *ORSet) Leave(member address.NodeID) (Delta, bool) {
	observed := s.liveDots(member)
	if len(observed) == 0 {
		return Delta{}, false
	}
	s.addDots(s.removes, member, observed...)
	sortDots(observed)
	return Delta{Member: member, Remove: observed}, true
}

// JoinDelta merges one incremental mutation and reports whether the local
// state changed. Replayed or reordered deltas merge to the same state.
func (s *ORSet) JoinDelta(delta Delta) bool {
	changed := false
	if delta.Add != nil {
		changed = s.addDots(s.adds, delta.Member, *delta.Add)
	}
	if len(delta.Remove) > 0 {
		if s.addDots(s.removes, delta.Member, delta.Remove...) {
			changed = true
		}
	}
	return changed
}

// Join merges a full remote state and reports whether the local state
// changed.
func (s *ORSet) Join(other *ORSet) bool {
	changed := false
	for member, dots := range other.adds {
		if s.addDots(s.adds, member, dots.ToSlice()...) {
			changed = true
		}
	}
	for member, dots := range other.removes {
		if s.addDots(s.removes, member, dots.ToSlice()...) {
			changed = true
		}
	}
	return changed
}

// Contains reports whether the member is currently present.
func (s *ORSet) Contains(member address.NodeID) bool {
	return len(s.liveDots(member)) > 0
}

// All returns the current live membership: every member with at least one
// add-dot not covered by a tombstone.
func (s *ORSet) All() mapset.Set[address.NodeID] {
	members := mapset.NewThreadUnsafeSet[address.NodeID]()
	for member := range s.adds {
		if s.Contains(member) {
			members.Add(member)
		}
	}
	return members
}

// Snapshot returns a deep copy of the replica. It is used to bootstrap a
// freshly connected peer, to which a bare delta would be meaningless.
func (s *ORSet) Snapshot() *ORSet {
	out := &ORSet{
		actor:   s.actor,
		counter: s.counter,
		adds:    make(map[address.NodeID]mapset.Set[Dot], len(s.adds)),
		removes: make(map[address.NodeID]mapset.Set[Dot], len(s.removes)),
	}
	for member, dots := range s.adds {
		out.adds[member] = dots.Clone()
	}
	for member, dots := range s.removes {
		out.removes[member] = dots.Clone()
	}
	return out
}

// addDots inserts dots into the member's entry of the given index and
// reports whether anything new was recorded. Dots minted by this actor also
// advance the local counter so that a state merged back in (for example
// after a restart) can never cause a dot to be reissued.
func (s *ORSet) addDots(index map[address.NodeID]mapset.Set[Dot], member address.NodeID, dots ...Dot) bool {
	entry, ok := index[member]
	if !ok {
		entry = mapset.NewThreadUnsafeSet[Dot]()
		index[member] = entry
	}
	changed := false
	for _, dot := range dots {
		if entry.Add(dot) {
			changed = true
		}
		if dot.Actor == s.actor && dot.Counter > s.counter {
			s.counter = dot.Counter
		}
	}
	return changed
}

// liveDots returns the member's add-dots not covered by a tombstone.
func (s *ORSet) liveDots(member address.NodeID) []Dot {
	added, ok := s.adds[member]
	if !ok {
		return nil
	}
	removed := s.removes[member]
	live := make([]Dot, 0, added.Cardinality())
	for _, dot := range added.ToSlice() {
		if removed == nil || !removed.Contains(dot) {
			live = append(live, dot)
		}
	}
	return live
}

func sortDots(dots []Dot) {
	slices.SortFunc(dots, func(a, b Dot) int {
		if a.Actor != b.Actor {
			if a.Actor < b.Actor {
				return -1
			}
			return 1
		}
		switch {
		case a.Counter < b.Counter:
			return -1
		case a.Counter > b.Counter:
			return 1
		default:
			return 0
		}
	})
}
