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

// Package wheel provides a timing wheel: a ring of buckets advanced one slot
// per tick, giving O(1) amortized insert, remove and expiry. Accuracy is plus
// or minus one tick interval.
package wheel

import mapset "github.com/deckarep/golang-set/v2"

// Wheel is a ring of slot buckets. An entry lives in exactly one bucket at a
// time; refreshing an entry means removing it from its current slot and
// inserting it again, which places it in the freshest bucket. An entry that
// is never refreshed is returned by Expire once its bucket rotates to
// oldest, i.e. after the full window of slots has elapsed.
//
// Wheel is not safe for concurrent use.
type Wheel[T comparable] struct {
	buckets []mapset.Set[T]
	current int
}

// New creates a wheel with the given number of slots. The total liveness
// window is slots multiplied by the tick interval the caller drives Expire
// with. It panics when slots is not at least two, since a single bucket
// cannot distinguish fresh entries from expiring ones.
func New[T comparable](slots int) *Wheel[T] {
	if slots < 2 {
		panic("wheel: need at least two slots")
	}
	buckets := make([]mapset.Set[T], slots)
	for i := range buckets {
		buckets[i] = mapset.NewThreadUnsafeSet[T]()
	}
	return &Wheel[T]{buckets: buckets}
}

// Insert places the entry in the freshest bucket and returns the slot index
// the caller must keep to remove it later.
func (w *Wheel[T]) Insert(entry T) int {
	w.buckets[w.current].Add(entry)
	return w.current
}

// Remove takes the entry out of the given slot. Removing an entry that is
// not there is a no-op.
func (w *Wheel[T]) Remove(entry T, slot int) {
	w.buckets[slot].Remove(entry)
}

// Expire advances the wheel by one tick and returns every entry left in the
// bucket that has rotated to oldest. Returned entries are no longer tracked.
func (w *Wheel[T]) Expire() mapset.Set[T] {
	w.current = (w.current + 1) % len(w.buckets)
	expired := w.buckets[w.current]
	w.buckets[w.current] = mapset.NewThreadUnsafeSet[T]()
	return expired
}

// Slots returns the number of buckets in the ring.
func (w *Wheel[T]) Slots() int {
	return len(w.buckets)
}
