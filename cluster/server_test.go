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
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tochemey/clustermesh/address"
	"github.com/tochemey/clustermesh/internal/codec"
	"github.com/tochemey/clustermesh/internal/netpoll"
	"github.com/tochemey/clustermesh/internal/orset"
	"github.com/tochemey/clustermesh/message"
)

var (
	nodeA = address.NewNodeID("a", "127.0.0.1:5000")
	nodeB = address.NewNodeID("b", "127.0.0.1:5001")
	nodeC = address.NewNodeID("c", "127.0.0.1:5002")
	nodeD = address.NewNodeID("d", "127.0.0.1:5003")
)

func frame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

func membersFrame(t *testing.T, from address.NodeID, members ...address.NodeID) []byte {
	t.Helper()
	set := orset.New(from)
	for _, member := range members {
		set.Add(member)
	}
	payload, err := codec.EncodeMembers(from, set)
	require.NoError(t, err)
	return frame(payload)
}

func TestNewServerValidation(t *testing.T) {
	transport := Transport{
		Registrar: newFakeRegistrar(),
		Listener:  &fakeListener{},
		Dial:      newFakeDialer().dial,
	}

	_, err := NewServer(address.NodeID{}, &fakeExecutor{}, transport)
	require.Error(t, err)

	_, err = NewServer(nodeA, nil, transport)
	require.Error(t, err)

	_, err = NewServer(nodeA, &fakeExecutor{}, Transport{})
	require.Error(t, err)

	// liveness window narrower than two ticks cannot be tracked
	_, err = NewServer(nodeA, &fakeExecutor{}, transport,
		WithTickInterval(DefaultRequestTimeout), WithRequestTimeout(DefaultRequestTimeout))
	require.Error(t, err)
}

func TestAcceptSendsMembersSnapshot(t *testing.T) {
	f := newFixture(t, nodeA)
	sock := &fakeSocket{fd: 100}
	f.acceptPeer(t, sock)

	sent := sock.frames(t)
	require.Len(t, sent, 1)
	wire, err := codec.Decode(sent[0])
	require.NoError(t, err)
	require.NotNil(t, wire.Members)
	assert.Equal(t, nodeA, wire.Members.From)
	assert.True(t, wire.Members.Set.Contains(nodeA))
	assert.Equal(t, uint64(1), f.srv.counters.AcceptedConnections)
}

func TestHandshakeEstablishesConnection(t *testing.T) {
	f := newFixture(t, nodeA)
	sock := &fakeSocket{fd: 100}
	id := f.acceptPeer(t, sock)

	require.NoError(t, f.deliverRead(t, id, sock, membersFrame(t, nodeB, nodeB)))

	require.Contains(t, f.srv.established, nodeB)
	assert.Equal(t, id, f.srv.established[nodeB])
	assert.Equal(t, nodeB, f.srv.connections[id].node)
	// remote membership merged into the local replica
	assert.True(t, f.srv.members.Contains(nodeB))
}

func TestDuplicateLinkResolution(t *testing.T) {
	// Exactly one of two racing links survives: the one initiated by the
	// endpoint with the greater NodeID, decided identically on both ends.
	testCases := []struct {
		name          string
		local, peer   address.NodeID
		savedIsClient bool
		savedSurvives bool
	}{
		{"local smaller, saved dialed out", nodeA, nodeB, true, false},
		{"local greater, saved dialed out", nodeC, nodeB, true, true},
		{"local greater, saved accepted", nodeC, nodeB, false, false},
		{"local smaller, saved accepted", nodeA, nodeB, false, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.local)

			var savedID int
			savedSock := &fakeSocket{fd: 100}
			if tc.savedIsClient {
				var err error
				savedID, err = f.srv.initConn(savedSock, tc.peer)
				require.NoError(t, err)
			} else {
				savedID = f.acceptPeer(t, savedSock)
			}
			f.srv.establish(savedID, tc.peer, nil)
			require.Equal(t, savedID, f.srv.established[tc.peer])

			newSock := &fakeSocket{fd: 101}
			var newID int
			if tc.savedIsClient {
				newID = f.acceptPeer(t, newSock)
			} else {
				var err error
				newID, err = f.srv.initConn(newSock, tc.peer)
				require.NoError(t, err)
			}
			f.srv.establish(newID, tc.peer, nil)

			survivor, loserSock := newID, savedSock
			if tc.savedSurvives {
				survivor, loserSock = savedID, newSock
			}
			assert.Equal(t, survivor, f.srv.established[tc.peer])
			assert.True(t, loserSock.closed)
			assert.Len(t, f.srv.connections, 1)
		})
	}
}

func TestJoinDialsAndGossips(t *testing.T) {
	f := newFixture(t, nodeA)
	require.NoError(t, f.srv.handleMsg(Join{Node: nodeB}))

	assert.Equal(t, []string{nodeB.Addr}, f.dialer.dialed)
	assert.True(t, f.srv.members.Contains(nodeB))
	assert.Equal(t, uint64(1), f.srv.counters.Joins)
	assert.Equal(t, uint64(1), f.srv.counters.ConnectionAttempts)

	// the dialed connection is client-side with the peer known a priori
	require.Len(t, f.srv.connections, 1)
	for _, c := range f.srv.connections {
		assert.True(t, c.isClient)
		assert.Equal(t, nodeB, c.node)
	}
}

func TestReconciliationConnectsToLearnedMembers(t *testing.T) {
	f := newFixture(t, nodeA)

	// a delta learned from elsewhere brings in nodeC
	replica := orset.New(nodeB)
	delta := replica.Add(nodeC)
	require.True(t, f.srv.members.JoinDelta(delta))

	f.srv.checkConnections()
	assert.Equal(t, []string{nodeC.Addr}, f.dialer.dialed)
}

func TestReconciliationDisconnectsDepartedMembers(t *testing.T) {
	f := newFixture(t, nodeA)
	sock := &fakeSocket{fd: 100}
	id := f.acceptPeer(t, sock)
	require.NoError(t, f.deliverRead(t, id, sock, membersFrame(t, nodeB, nodeB)))
	require.Contains(t, f.srv.established, nodeB)

	_, ok := f.srv.members.Leave(nodeB)
	require.True(t, ok)
	f.srv.checkConnections()

	assert.NotContains(t, f.srv.established, nodeB)
	assert.Empty(t, f.srv.connections)
	assert.True(t, sock.closed)
}

func TestSelfEvictionDisconnectsEverything(t *testing.T) {
	f := newFixture(t, nodeA)
	sock := &fakeSocket{fd: 100}
	id := f.acceptPeer(t, sock)
	require.NoError(t, f.deliverRead(t, id, sock, membersFrame(t, nodeB, nodeB)))

	require.NoError(t, f.srv.handleMsg(Leave{Node: nodeA}))
	f.srv.checkConnections()

	assert.Empty(t, f.srv.connections)
	assert.Empty(t, f.srv.established)
	assert.True(t, sock.closed)
}

func TestStatusReply(t *testing.T) {
	f := newFixture(t, nodeA)
	sock := &fakeSocket{fd: 100}
	id := f.acceptPeer(t, sock)
	require.NoError(t, f.deliverRead(t, id, sock, membersFrame(t, nodeB, nodeB)))

	replyTo := address.NewPid("admin", nodeA)
	require.NoError(t, f.srv.handleMsg(GetStatus{CorrelationID: message.CorrelatePid(replyTo)}))

	require.Len(t, f.executor.delivered, 1)
	reply := f.executor.delivered[0]
	assert.Equal(t, replyTo, reply.To)
	assert.Equal(t, f.srv.Pid(), reply.From)

	var status Status
	require.NoError(t, message.DecodeBody(reply.Body, &status))
	assert.Equal(t, []address.NodeID{nodeA, nodeB}, status.Members)
	assert.Equal(t, []address.NodeID{nodeB}, status.Established)
	assert.Equal(t, 1, status.Connections)
	assert.Equal(t, uint64(1), status.Counters.StatusRequests)
}

func TestEnvelopeToServerPidAnswersStatus(t *testing.T) {
	f := newFixture(t, nodeA)
	from := address.NewPid("admin", nodeA)
	body, err := message.NewBody("status please")
	require.NoError(t, err)

	envelope := message.NewEnvelope(f.srv.Pid(), from, body)
	require.NoError(t, f.srv.handleMsg(RouteEnvelope{Envelope: envelope}))

	require.Len(t, f.executor.delivered, 1)
	var status Status
	require.NoError(t, message.DecodeBody(f.executor.delivered[0].Body, &status))
	assert.Equal(t, []address.NodeID{nodeA}, status.Members)
}

func TestOutboundEnvelopeWrittenToEstablishedConnection(t *testing.T) {
	f := newFixture(t, nodeA)
	sock := &fakeSocket{fd: 100}
	id := f.acceptPeer(t, sock)
	require.NoError(t, f.deliverRead(t, id, sock, membersFrame(t, nodeB, nodeB)))

	body, err := message.NewBody("work item")
	require.NoError(t, err)
	envelope := message.NewEnvelope(address.NewPid("worker", nodeB), address.NewPid("owner", nodeA), body)
	require.NoError(t, f.srv.handleMsg(RouteEnvelope{Envelope: envelope}))

	sent := sock.frames(t)
	wire, err := codec.Decode(sent[len(sent)-1])
	require.NoError(t, err)
	require.NotNil(t, wire.Envelope)
	assert.Equal(t, envelope.To, wire.Envelope.To)

	var text string
	require.NoError(t, message.DecodeBody(wire.Envelope.Body, &text))
	assert.Equal(t, "work item", text)
}

func TestUnroutableEnvelopeDropped(t *testing.T) {
	f := newFixture(t, nodeA)
	body, err := message.NewBody("nobody home")
	require.NoError(t, err)
	envelope := message.NewEnvelope(address.NewPid("ghost", nodeD), address.NewPid("owner", nodeA), body)

	require.NoError(t, f.srv.handleMsg(RouteEnvelope{Envelope: envelope}))
	assert.Empty(t, f.executor.delivered)
}

func TestInboundEnvelopeDeliveredToExecutor(t *testing.T) {
	f := newFixture(t, nodeA)
	sock := &fakeSocket{fd: 100}
	id := f.acceptPeer(t, sock)
	require.NoError(t, f.deliverRead(t, id, sock, membersFrame(t, nodeB, nodeB)))

	body, err := message.NewBody(42)
	require.NoError(t, err)
	envelope := message.NewEnvelope(address.NewPid("worker", nodeA), address.NewPid("owner", nodeB), body)
	payload, err := codec.EncodeEnvelope(envelope)
	require.NoError(t, err)
	require.NoError(t, f.deliverRead(t, id, sock, frame(payload)))

	require.Len(t, f.executor.delivered, 1)
	assert.Equal(t, envelope.To, f.executor.delivered[0].To)
	assert.Equal(t, uint64(1), f.srv.counters.RemoteEnvelopes)
}

func TestNovelDeltaGossipedToAllPeers(t *testing.T) {
	f := newFixture(t, nodeA)
	sock1 := &fakeSocket{fd: 100}
	id1 := f.acceptPeer(t, sock1)
	require.NoError(t, f.deliverRead(t, id1, sock1, membersFrame(t, nodeB, nodeB)))
	sock2 := &fakeSocket{fd: 101}
	id2 := f.acceptPeer(t, sock2)
	require.NoError(t, f.deliverRead(t, id2, sock2, membersFrame(t, nodeC, nodeC)))

	framesBefore1 := len(sock1.frames(t))
	framesBefore2 := len(sock2.frames(t))

	replica := orset.New(nodeB)
	delta := replica.Add(nodeD)
	payload, err := codec.EncodeDelta(delta)
	require.NoError(t, err)
	require.NoError(t, f.deliverRead(t, id1, sock1, frame(payload)))

	// the novel mutation fans out to every handshaken connection
	assert.Len(t, sock1.frames(t), framesBefore1+1)
	assert.Len(t, sock2.frames(t), framesBefore2+1)
	assert.True(t, f.srv.members.Contains(nodeD))

	// replaying it is absorbed silently
	require.NoError(t, f.deliverRead(t, id1, sock1, frame(payload)))
	assert.Len(t, sock1.frames(t), framesBefore1+1)
	assert.Len(t, sock2.frames(t), framesBefore2+1)

	// the next coarse tick reconciles and dials the learned member
	require.NoError(t, f.srv.tick())
	assert.Equal(t, []string{nodeD.Addr}, f.dialer.dialed)
}

func TestPingKeepsConnectionAlive(t *testing.T) {
	f := newFixture(t, nodeA)
	sock := &fakeSocket{fd: 100}
	id := f.acceptPeer(t, sock)

	// the default window is five ticks; a ping on the third resets it
	for i := 0; i < 3; i++ {
		require.NoError(t, f.srv.tick())
	}
	require.Contains(t, f.srv.connections, id)
	payload, err := codec.EncodePing()
	require.NoError(t, err)
	require.NoError(t, f.deliverRead(t, id, sock, frame(payload)))

	for i := 0; i < 4; i++ {
		require.NoError(t, f.srv.tick())
	}
	assert.Contains(t, f.srv.connections, id)
	require.NoError(t, f.srv.tick())
	assert.NotContains(t, f.srv.connections, id)
	assert.True(t, sock.closed)
}

func TestSilentConnectionTimesOut(t *testing.T) {
	f := newFixture(t, nodeA)
	sock := &fakeSocket{fd: 100}
	id := f.acceptPeer(t, sock)

	for i := 0; i < 4; i++ {
		require.NoError(t, f.srv.tick())
		require.Contains(t, f.srv.connections, id)
	}
	require.NoError(t, f.srv.tick())
	assert.NotContains(t, f.srv.connections, id)
	assert.True(t, sock.closed)
}

func TestTickBroadcastsPings(t *testing.T) {
	f := newFixture(t, nodeA)
	sock := &fakeSocket{fd: 100}
	f.acceptPeer(t, sock)

	require.NoError(t, f.srv.tick())
	sent := sock.frames(t)
	wire, err := codec.Decode(sent[len(sent)-1])
	require.NoError(t, err)
	assert.NotNil(t, wire.Ping)
}

func TestExecutorTickRelayed(t *testing.T) {
	f := newFixture(t, nodeA)
	require.NoError(t, f.srv.handleMsg(PollNotifications{Events: []netpoll.Event{
		{ID: f.srv.executorTimerID, Readiness: netpoll.Read},
	}}))
	assert.Equal(t, 1, f.executor.ticks)
}

func TestExecutorFailuresAreFatal(t *testing.T) {
	f := newFixture(t, nodeA)
	f.executor.tickErr = errors.New("executor gone")

	err := f.srv.handleMsg(PollNotifications{Events: []netpoll.Event{
		{ID: f.srv.executorTimerID, Readiness: netpoll.Read},
	}})
	require.Error(t, err)
	assert.True(t, isFatal(err))
	assert.Empty(t, connIDs(err))
}

func TestDecodeErrorAttributedToConnection(t *testing.T) {
	f := newFixture(t, nodeA)
	sock := &fakeSocket{fd: 100}
	id := f.acceptPeer(t, sock)

	err := f.deliverRead(t, id, sock, frame([]byte{0xff, 0x00, 0x13}))
	require.Error(t, err)
	assert.False(t, isFatal(err))
	assert.Equal(t, []int{id}, connIDs(err))

	var decodeErr *DecodeError
	require.ErrorIs(t, err, codec.ErrMalformedMessage)
	require.True(t, errors.As(err, &decodeErr))
}

func TestPeerCloseAttributedToConnection(t *testing.T) {
	f := newFixture(t, nodeA)
	sock := &fakeSocket{fd: 100}
	id := f.acceptPeer(t, sock)

	sock.eof = true
	err := f.srv.handleMsg(PollNotifications{Events: []netpoll.Event{
		{ID: id, Readiness: netpoll.Read},
	}})
	require.Error(t, err)
	require.ErrorIs(t, err, io.EOF)

	var readErr *ReadError
	require.True(t, errors.As(err, &readErr))
	assert.Equal(t, []int{id}, connIDs(err))
	assert.False(t, isFatal(err))
}

func TestRunClosesOnlyOffendingConnection(t *testing.T) {
	f := newFixture(t, nodeA)
	sock1 := &fakeSocket{fd: 100}
	id1 := f.acceptPeer(t, sock1)
	sock2 := &fakeSocket{fd: 101}
	id2 := f.acceptPeer(t, sock2)
	sock1.inbound.Write(frame([]byte{0xff, 0x00, 0x13}))

	done := make(chan error, 1)
	go func() {
		done <- f.srv.Run()
	}()

	f.srv.Send(PollNotifications{Events: []netpoll.Event{
		{ID: id1, Readiness: netpoll.Read},
	}})
	f.srv.Send(Shutdown{})
	require.NoError(t, <-done)

	assert.True(t, sock1.closed)
	assert.False(t, sock2.closed)
	assert.NotContains(t, f.srv.connections, id1)
	assert.Contains(t, f.srv.connections, id2)
	assert.Equal(t, uint64(1), f.srv.counters.Errors)
}

func TestRunStopsOnExecutorFailure(t *testing.T) {
	f := newFixture(t, nodeA)
	f.executor.tickErr = errors.New("executor gone")

	done := make(chan error, 1)
	go func() {
		done <- f.srv.Run()
	}()

	// the fixture consumed ids 1-3, so Run's own registrations take 4-6 and
	// the executor timer lands on id 5
	f.srv.Send(PollNotifications{Events: []netpoll.Event{
		{ID: 5, Readiness: netpoll.Read},
	}})

	err := <-done
	require.Error(t, err)
	var delivery *DeliveryError
	assert.True(t, errors.As(err, &delivery))
}

func TestRunRejectsSecondStart(t *testing.T) {
	f := newFixture(t, nodeA)
	done := make(chan error, 1)
	go func() {
		done <- f.srv.Run()
	}()

	require.Eventually(t, func() bool {
		return f.srv.started.Load()
	}, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, f.srv.Run(), ErrAlreadyStarted)

	f.srv.Send(Shutdown{})
	require.NoError(t, <-done)
}

func TestWriteInterestDroppedWhenDrained(t *testing.T) {
	f := newFixture(t, nodeA)
	sock := &fakeSocket{fd: 100}
	id := f.acceptPeer(t, sock)

	// spurious write readiness on a drained connection downgrades to read
	f.registrar.interests[id] = netpoll.Both
	require.NoError(t, f.srv.handleMsg(PollNotifications{Events: []netpoll.Event{
		{ID: id, Readiness: netpoll.Write},
	}}))
	assert.Equal(t, netpoll.Read, f.registrar.interests[id])
}
