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
	"math/rand"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tochemey/clustermesh/address"
)

func node(i int) address.NodeID {
	return address.NewNodeID(fmt.Sprintf("node%d", i), fmt.Sprintf("127.0.0.1:%d", 5000+i))
}

func TestAddContains(t *testing.T) {
	replica := New(node(0))
	delta := replica.Add(node(1))

	require.True(t, delta.IsAdd())
	assert.Equal(t, node(1), delta.Member)
	assert.True(t, replica.Contains(node(1)))
	assert.False(t, replica.Contains(node(2)))
	assert.ElementsMatch(t, []address.NodeID{node(1)}, replica.All().ToSlice())
}

func TestLeaveAbsentMember(t *testing.T) {
	replica := New(node(0))
	_, ok := replica.Leave(node(1))
	assert.False(t, ok)
}

func TestLeaveTombstonesObservedDots(t *testing.T) {
	replica := New(node(0))
	replica.Add(node(1))
	replica.Add(node(1))

	delta, ok := replica.Leave(node(1))
	require.True(t, ok)
	assert.True(t, delta.IsRemove())
	assert.Len(t, delta.Remove, 2)
	assert.False(t, replica.Contains(node(1)))

	// leaving twice has nothing left to observe
	_, ok = replica.Leave(node(1))
	assert.False(t, ok)
}

func TestJoinDeltaIdempotent(t *testing.T) {
	source := New(node(0))
	delta := source.Add(node(1))

	replica := New(node(9))
	require.True(t, replica.JoinDelta(delta))
	require.False(t, replica.JoinDelta(delta))
	assert.True(t, replica.Contains(node(1)))

	leave, ok := source.Leave(node(1))
	require.True(t, ok)
	require.True(t, replica.JoinDelta(leave))
	require.False(t, replica.JoinDelta(leave))
	assert.False(t, replica.Contains(node(1)))
}

func TestConcurrentAddSurvivesRemove(t *testing.T) {
	a := New(node(1))
	b := New(node(2))

	// both replicas observe the initial insertion
	initial := a.Add(node(3))
	require.True(t, b.JoinDelta(initial))

	// b removes while a concurrently re-adds with a fresh, unobserved dot
	removal, ok := b.Leave(node(3))
	require.True(t, ok)
	fresh := a.Add(node(3))

	require.True(t, a.JoinDelta(removal))
	require.True(t, b.JoinDelta(fresh))

	assert.True(t, a.Contains(node(3)), "fresh add-dot must survive the concurrent remove")
	assert.True(t, b.Contains(node(3)))
	assert.ElementsMatch(t, a.All().ToSlice(), b.All().ToSlice())
}

func TestJoinFullState(t *testing.T) {
	a := New(node(1))
	a.Add(node(1))
	a.Add(node(2))

	b := New(node(2))
	require.True(t, b.Join(a))
	require.False(t, b.Join(a), "joining the same state twice must be a no-op")
	assert.ElementsMatch(t, a.All().ToSlice(), b.All().ToSlice())
}

func TestJoinOwnStateNeverReissuesDots(t *testing.T) {
	a := New(node(1))
	a.Add(node(1))
	a.Add(node(2))
	snapshot := a.Snapshot()

	// a restarted replica of the same actor merges its old state back in
	restarted := New(node(1))
	require.True(t, restarted.Join(snapshot))
	delta := restarted.Add(node(3))
	require.NotNil(t, delta.Add)
	assert.Greater(t, delta.Add.Counter, uint64(2), "fresh dot must not collide with merged history")
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	a := New(node(1))
	a.Add(node(2))
	snapshot := a.Snapshot()

	a.Add(node(3))
	assert.False(t, snapshot.Contains(node(3)))
	assert.True(t, snapshot.Contains(node(2)))
}

func TestStateRoundTrip(t *testing.T) {
	a := New(node(1))
	a.Add(node(1))
	a.Add(node(2))
	_, ok := a.Leave(node(2))
	require.True(t, ok)

	encoded, err := cbor.Marshal(a)
	require.NoError(t, err)

	decoded := new(ORSet)
	require.NoError(t, cbor.Unmarshal(encoded, decoded))
	assert.ElementsMatch(t, a.All().ToSlice(), decoded.All().ToSlice())

	// decoding is deterministic: re-encoding yields identical bytes
	reencoded, err := cbor.Marshal(decoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, reencoded)
}

func TestDeltaRoundTrip(t *testing.T) {
	a := New(node(1))
	delta := a.Add(node(2))

	encoded, err := cbor.Marshal(delta)
	require.NoError(t, err)
	var decoded Delta
	require.NoError(t, cbor.Unmarshal(encoded, &decoded))
	assert.Equal(t, delta, decoded)
}

// TestConvergence applies random interleavings of add/leave across replicas,
// delivers every produced delta to every replica in a different random order
// with duplicates, and asserts all replicas agree.
func TestConvergence(t *testing.T) {
	const (
		replicaCount = 4
		mutations    = 200
	)
	rng := rand.New(rand.NewSource(42))

	replicas := make([]*ORSet, replicaCount)
	for i := range replicas {
		replicas[i] = New(node(i))
	}

	var deltas []Delta
	for i := 0; i < mutations; i++ {
		replica := replicas[rng.Intn(replicaCount)]
		member := node(rng.Intn(6))
		if rng.Intn(3) == 0 {
			if delta, ok := replica.Leave(member); ok {
				deltas = append(deltas, delta)
			}
			continue
		}
		deltas = append(deltas, replica.Add(member))
	}

	for _, replica := range replicas {
		order := rng.Perm(len(deltas))
		for _, i := range order {
			replica.JoinDelta(deltas[i])
			if rng.Intn(4) == 0 {
				replica.JoinDelta(deltas[i]) // duplicate delivery
			}
		}
	}

	expected := replicas[0].All()
	for i, replica := range replicas[1:] {
		assert.True(t, expected.Equal(replica.All()), "replica %d diverged", i+1)
	}
}
