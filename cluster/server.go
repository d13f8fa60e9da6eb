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

// Package cluster implements the membership and inter-node transport layer:
// an event-driven server owning every peer connection, an observed-remove set
// as the replicated member list, delta-based dissemination, ping liveness
// over a timing wheel, and deterministic resolution of duplicate links.
//
// All state belongs to the single goroutine running Server.Run. Other
// goroutines interact exclusively by sending control messages through
// Server.Send; the reactor poll loop is just another producer feeding
// readiness batches in.
package cluster

import (
	"errors"
	"fmt"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/tochemey/clustermesh/address"
	"github.com/tochemey/clustermesh/internal/codec"
	"github.com/tochemey/clustermesh/internal/netpoll"
	"github.com/tochemey/clustermesh/internal/orset"
	"github.com/tochemey/clustermesh/internal/wheel"
	"github.com/tochemey/clustermesh/log"
	"github.com/tochemey/clustermesh/message"
)

const (
	// DefaultTickInterval is the coarse tick driving liveness and
	// reconciliation.
	DefaultTickInterval = time.Second
	// DefaultRequestTimeout is the liveness window.
	DefaultRequestTimeout = 5 * time.Second
	// DefaultExecutorTickInterval is the fast tick relayed to the executor.
	DefaultExecutorTickInterval = 100 * time.Millisecond
	// DefaultMaxFrameSize caps a single frame payload at 100 MiB.
	DefaultMaxFrameSize = 100 << 20
	// DefaultMailboxSize is the control channel buffering.
	DefaultMailboxSize = 1024
)

// Transport supplies the reactor pieces the server runs on. On Linux these
// are netpoll.NewPoller, netpoll.Listen and netpoll.Dial; tests substitute
// in-memory fakes.
type Transport struct {
	Registrar netpoll.Registrar
	Listener  netpoll.Listener
	Dial      netpoll.Dialer
}

// Poller is the blocking half of the reactor, consumed by PollLoop.
type Poller interface {
	// Wait blocks until readiness arrives or the timeout elapses.
	Wait(timeout time.Duration) ([]netpoll.Event, error)
}

// Server handles cluster membership and routes envelopes to processes on
// other nodes. Create it with NewServer, drive it with Run, talk to it with
// Send.
type Server struct {
	pid       address.Pid
	node      address.NodeID
	mailbox   chan Msg
	executor  Executor
	registrar netpoll.Registrar
	listener  netpoll.Listener
	dial      netpoll.Dialer

	listenerID      int
	timerID         int
	executorTimerID int

	members     *orset.ORSet
	wheel       *wheel.Wheel[int]
	connections map[int]*conn
	established map[address.NodeID]int

	tickInterval         time.Duration
	requestTimeout       time.Duration
	executorTickInterval time.Duration
	maxFrameSize         uint32
	mailboxSize          int

	counters Counters
	started  *atomic.Bool
	logger   log.Logger
}

// NewServer creates a cluster server for the given local node. The local
// node is immediately a member of its own cluster of one; Join grows the
// cluster from there.
func NewServer(node address.NodeID, executor Executor, transport Transport, opts ...Option) (*Server, error) {
	if node.IsZero() {
		return nil, errors.New("cluster: node is required")
	}
	if executor == nil {
		return nil, errors.New("cluster: executor is required")
	}
	if transport.Registrar == nil || transport.Listener == nil || transport.Dial == nil {
		return nil, errors.New("cluster: transport requires a registrar, a listener and a dialer")
	}

	srv := &Server{
		pid:                  address.NewGroupPid("cluster", "server", node),
		node:                 node,
		executor:             executor,
		registrar:            transport.Registrar,
		listener:             transport.Listener,
		dial:                 transport.Dial,
		members:              orset.New(node),
		connections:          make(map[int]*conn),
		established:          make(map[address.NodeID]int),
		tickInterval:         DefaultTickInterval,
		requestTimeout:       DefaultRequestTimeout,
		executorTickInterval: DefaultExecutorTickInterval,
		maxFrameSize:         DefaultMaxFrameSize,
		mailboxSize:          DefaultMailboxSize,
		started:              atomic.NewBool(false),
		logger:               log.DefaultLogger,
	}
	for _, opt := range opts {
		opt.Apply(srv)
	}

	slots := int(srv.requestTimeout / srv.tickInterval)
	if slots < 2 {
		return nil, fmt.Errorf("cluster: request timeout %v must be at least twice the tick interval %v",
			srv.requestTimeout, srv.tickInterval)
	}
	srv.wheel = wheel.New[int](slots)
	srv.mailbox = make(chan Msg, srv.mailboxSize)
	srv.logger = srv.logger.With("component", "cluster_server", "node", node.String())
	srv.members.Add(node)
	return srv, nil
}

// Pid returns the server's own process identifier. Envelopes routed to it
// are answered with a Status reply.
func (s *Server) Pid() address.Pid {
	return s.pid
}

// Node returns the local node identifier.
func (s *Server) Node() address.NodeID {
	return s.node
}

// Send enqueues a control message. It blocks while the mailbox is full and
// is safe to call from any goroutine.
func (s *Server) Send(msg Msg) {
	s.mailbox <- msg
}

// PollLoop feeds the server with readiness batches until the poller fails,
// which is how closing the poller stops it. It is meant to run on its own
// goroutine next to Run.
func (s *Server) PollLoop(poller Poller) {
	for {
		events, err := poller.Wait(250 * time.Millisecond)
		if err != nil {
			s.logger.Debugf("poll loop stopped: %v", err)
			return
		}
		if len(events) > 0 {
			s.Send(PollNotifications{Events: events})
		}
	}
}

// Run executes the server loop on the calling goroutine until a Shutdown
// message arrives or a fatal error occurs. Connection-scoped failures close
// the connection they are attributed to and the loop carries on.
func (s *Server) Run() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer s.started.Store(false)

	s.logger.Info("starting")
	if err := s.register(); err != nil {
		return err
	}

	for msg := range s.mailbox {
		err := s.handleMsg(msg)
		if err == nil {
			continue
		}
		s.counters.Errors++
		for _, id := range connIDs(err) {
			s.close(id)
		}
		switch {
		case errors.Is(err, ErrShutdown):
			s.logger.Info("shutting down")
			return nil
		case isFatal(err):
			s.logger.Error(err.Error())
			return err
		default:
			s.logger.Warn(err.Error())
		}
	}
	return nil
}

// register arms the two interval timers and subscribes the listener to read
// readiness.
func (s *Server) register() error {
	var err error
	if s.timerID, err = s.registrar.SetInterval(s.tickInterval); err != nil {
		return fmt.Errorf("cluster: arming tick timer: %w", err)
	}
	if s.executorTimerID, err = s.registrar.SetInterval(s.executorTickInterval); err != nil {
		return fmt.Errorf("cluster: arming executor timer: %w", err)
	}
	if s.listenerID, err = s.registrar.Register(s.listener, netpoll.Read); err != nil {
		return fmt.Errorf("cluster: registering listener: %w", err)
	}
	return nil
}

func (s *Server) handleMsg(msg Msg) error {
	switch m := msg.(type) {
	case PollNotifications:
		s.counters.PollNotifications++
		return s.handleNotifications(m.Events)
	case Join:
		s.counters.Joins++
		return s.join(m.Node)
	case Leave:
		s.counters.Leaves++
		return s.leave(m.Node)
	case RouteEnvelope:
		s.counters.LocalEnvelopes++
		// status queries are the only envelopes addressed to the server itself
		if m.Envelope.To == s.pid {
			return s.answerStatus(m.Envelope)
		}
		return s.sendRemote(m.Envelope)
	case GetStatus:
		s.counters.StatusRequests++
		return s.getStatus(m.CorrelationID)
	case Shutdown:
		return ErrShutdown
	default:
		return nil
	}
}

func (s *Server) handleNotifications(events []netpoll.Event) error {
	var errs error
	for _, event := range events {
		var err error
		switch event.ID {
		case s.listenerID:
			err = s.accept()
		case s.timerID:
			err = s.tick()
		case s.executorTimerID:
			err = s.tickExecutor()
		default:
			err = s.socketIO(event)
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (s *Server) socketIO(event netpoll.Event) error {
	var errs error
	if event.Readiness&netpoll.Read != 0 {
		errs = multierr.Append(errs, s.read(event.ID))
	}
	if event.Readiness&netpoll.Write != 0 {
		errs = multierr.Append(errs, s.write(event.ID, nil))
	}
	return errs
}

// read drains a read-ready connection. Until the local membership snapshot
// has gone out nothing is decoded: the handshake requires members to be the
// first message in both directions, and the poller will report the readiness
// again.
func (s *Server) read(id int) error {
	c, ok := s.connections[id]
	if !ok {
		return nil
	}
	if !c.membersSent {
		return s.sendMembers(id)
	}
	wires, err := s.decodeFrames(id, c)
	if err != nil {
		return err
	}
	for _, wire := range wires {
		if err := s.handleWire(id, wire); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) decodeFrames(id int, c *conn) ([]codec.Wire, error) {
	if err := c.reader.Fill(c.sock); err != nil {
		return nil, &ReadError{ID: id, Node: c.node, Err: err}
	}
	payloads := c.reader.Drain()
	wires := make([]codec.Wire, 0, len(payloads))
	for _, payload := range payloads {
		wire, err := codec.Decode(payload)
		if err != nil {
			return nil, &DecodeError{ID: id, Node: c.node, Err: err}
		}
		wires = append(wires, wire)
	}
	return wires, nil
}

func (s *Server) handleWire(id int, wire codec.Wire) error {
	switch {
	case wire.Members != nil:
		s.logger.Infof("got members from %s on connection %d", wire.Members.From, id)
		s.establish(id, wire.Members.From, wire.Members.Set)
		s.checkConnections()
	case wire.Ping != nil:
		s.resetTimer(id)
	case wire.Envelope != nil:
		s.counters.RemoteEnvelopes++
		s.logger.Debugf("got envelope from %s to %s", wire.Envelope.From, wire.Envelope.To)
		if err := s.executor.Deliver(wire.Envelope); err != nil {
			return &DeliveryError{Err: err}
		}
	case wire.Delta != nil:
		s.logger.Debugf("got delta %s on connection %d", wire.Delta, id)
		if s.members.JoinDelta(*wire.Delta) {
			return s.broadcastDelta(*wire.Delta)
		}
	}
	return nil
}

// write handles a write-readiness notification when payload is nil, or
// queues a new payload otherwise, then flushes whatever the socket accepts.
func (s *Server) write(id int, payload []byte) error {
	c, ok := s.connections[id]
	if !ok {
		return nil
	}
	if payload == nil {
		if c.writer.Writable() {
			// leftover write readiness with nothing buffered; drop the write
			// interest or the level-triggered poller keeps firing
			if err := s.registrar.Reregister(id, c.sock, netpoll.Read); err != nil {
				return &RegistrarError{ID: id, Node: c.node, Err: err}
			}
		}
		c.writer.MarkWritable()
	}
	return s.flush(id, c, payload)
}

// flush pushes buffered output to the socket. When the socket blocks, the
// registration gains write interest so the remainder goes out on the next
// write-readiness notification.
func (s *Server) flush(id int, c *conn, payload []byte) error {
	done, err := c.writer.Write(c.sock, payload)
	if err != nil {
		return &WriteError{ID: id, Node: c.node, Err: err}
	}
	if !done {
		if err := s.registrar.Reregister(id, c.sock, netpoll.Both); err != nil {
			return &RegistrarError{ID: id, Node: c.node, Err: err}
		}
	}
	return nil
}

// resetTimer refreshes the connection's liveness window.
func (s *Server) resetTimer(id int) {
	if c, ok := s.connections[id]; ok {
		s.wheel.Remove(id, c.slot)
		c.slot = s.wheel.Insert(id)
	}
}

// establish transitions a connection to established once the peer has
// identified itself. When two links to the same peer exist, exactly one
// survives: both endpoints independently keep the connection initiated by
// the greater NodeID.
func (s *Server) establish(id int, from address.NodeID, remote *orset.ORSet) {
	if remote != nil {
		s.members.Join(remote)
	}
	if closeID, ok := s.chooseConnToClose(id, from); ok {
		s.logger.Debugf("duplicate link to %s, closing connection %d", from, closeID)
		s.close(closeID)
		if closeID == id {
			return
		}
	}
	c, ok := s.connections[id]
	if !ok {
		return
	}
	s.logger.Infof("established connection %d to %s", id, from)
	c.node = from
	s.wheel.Remove(id, c.slot)
	c.slot = s.wheel.Insert(id)
	s.established[from] = id
}

// chooseConnToClose picks the loser of a duplicate link. A client connection
// always originates at the local node, so comparing the local node with the
// peer tells which side initiated the saved connection's surviving twin; the
// rule is evaluated identically on both endpoints.
func (s *Server) chooseConnToClose(id int, from address.NodeID) (int, bool) {
	savedID, ok := s.established[from]
	if !ok {
		return 0, false
	}
	saved, ok := s.connections[savedID]
	if !ok {
		return 0, false
	}
	if (saved.isClient && s.node.Less(from)) || (!saved.isClient && from.Less(s.node)) {
		return savedID, true
	}
	return id, true
}

func (s *Server) join(node address.NodeID) error {
	delta := s.members.Add(node)
	if err := s.broadcastDelta(delta); err != nil {
		return err
	}
	s.counters.ConnectionAttempts++
	return s.connect(node)
}

func (s *Server) leave(node address.NodeID) error {
	if delta, ok := s.members.Leave(node); ok {
		return s.broadcastDelta(delta)
	}
	return nil
}

func (s *Server) connect(node address.NodeID) error {
	s.logger.Debugf("connecting to %s", node)
	sock, err := s.dial(node.Addr)
	if err != nil {
		return &ConnectError{Node: node, Err: err}
	}
	_, err = s.initConn(sock, node)
	return err
}

func (s *Server) accept() error {
	for {
		sock, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, netpoll.ErrWouldBlock) {
				return nil
			}
			return fmt.Errorf("cluster: accepting connection: %w", err)
		}
		s.counters.AcceptedConnections++
		id, err := s.initConn(sock, address.NodeID{})
		if err != nil {
			return err
		}
		if err := s.sendMembers(id); err != nil {
			return err
		}
	}
}

func (s *Server) initConn(sock netpoll.Socket, node address.NodeID) (int, error) {
	id, err := s.registrar.Register(sock, netpoll.Read)
	if err != nil {
		_ = sock.Close()
		return 0, &RegistrarError{Node: node, Err: err}
	}
	s.logger.Debugf("new connection %d (client=%t, peer=%s)", id, !node.IsZero(), node)
	c := newConn(sock, node, s.maxFrameSize)
	c.slot = s.wheel.Insert(id)
	s.connections[id] = c
	return id, nil
}

// sendMembers sends the full local replica as the identity-bearing first
// message of the handshake.
func (s *Server) sendMembers(id int) error {
	c, ok := s.connections[id]
	if !ok {
		return nil
	}
	encoded, err := codec.EncodeMembers(s.node, s.members)
	if err != nil {
		return &EncodeError{ID: id, Node: c.node, Err: err}
	}
	s.logger.Infof("sending members on connection %d", id)
	if err := s.flush(id, c, encoded); err != nil {
		return err
	}
	c.membersSent = true
	return nil
}

func (s *Server) sendRemote(envelope *message.Envelope) error {
	id, ok := s.established[envelope.To.Node]
	if !ok {
		s.logger.Debugf("no established connection to %s, dropping envelope", envelope.To.Node)
		return nil
	}
	c := s.connections[id]
	encoded, err := codec.EncodeEnvelope(envelope)
	if err != nil {
		return &EncodeError{ID: id, Node: envelope.To.Node, Err: err}
	}
	return s.flush(id, c, encoded)
}

func (s *Server) getStatus(cid *message.CorrelationID) error {
	if cid == nil || cid.Pid == nil {
		s.logger.Warn("status request without a reply pid")
		return nil
	}
	body, err := message.NewBody(s.status())
	if err != nil {
		return &EncodeError{Err: err}
	}
	reply := message.NewEnvelope(*cid.Pid, s.pid, body).WithCorrelation(cid)
	if err := s.executor.Deliver(reply); err != nil {
		return &DeliveryError{Err: err}
	}
	return nil
}

// answerStatus replies to an envelope addressed to the server itself. The
// reply is routed through the executor, which knows how to reach any Pid.
func (s *Server) answerStatus(envelope *message.Envelope) error {
	body, err := message.NewBody(s.status())
	if err != nil {
		return &EncodeError{Err: err}
	}
	reply := message.NewEnvelope(envelope.From, s.pid, body).WithCorrelation(envelope.CorrelationID)
	if err := s.executor.Deliver(reply); err != nil {
		return &DeliveryError{Err: err}
	}
	return nil
}

func (s *Server) status() Status {
	members := s.members.All().ToSlice()
	slices.SortFunc(members, address.NodeID.Compare)
	established := make([]address.NodeID, 0, len(s.established))
	for node := range s.established {
		established = append(established, node)
	}
	slices.SortFunc(established, address.NodeID.Compare)
	return Status{
		Members:     members,
		Established: established,
		Connections: len(s.connections),
		Counters:    s.counters,
	}
}

// tick advances the liveness wheel, closes expired connections, pings every
// peer and reconciles connections with the membership.
func (s *Server) tick() error {
	expired := s.wheel.Expire()
	for _, id := range expired.ToSlice() {
		s.logger.Warnf("connection %d timed out", id)
		s.close(id)
	}
	if err := s.broadcastPings(); err != nil {
		return err
	}
	s.checkConnections()
	return nil
}

func (s *Server) tickExecutor() error {
	if err := s.executor.Tick(); err != nil {
		return &DeliveryError{Err: err}
	}
	return nil
}

func (s *Server) broadcastDelta(delta orset.Delta) error {
	s.logger.Debugf("broadcasting delta %s", delta)
	encoded, err := codec.EncodeDelta(delta)
	if err != nil {
		return &EncodeError{Err: err}
	}
	return s.broadcast(encoded)
}

func (s *Server) broadcastPings() error {
	encoded, err := codec.EncodePing()
	if err != nil {
		return &EncodeError{Err: err}
	}
	return s.broadcast(encoded)
}

// broadcast writes the encoded message to every handshaken connection. A
// failing connection does not stop the fan-out; the per-connection errors
// come back aggregated.
func (s *Server) broadcast(encoded []byte) error {
	var errs error
	for id, c := range s.connections {
		if !c.membersSent {
			continue
		}
		errs = multierr.Append(errs, s.flush(id, c, encoded))
	}
	return errs
}

// checkConnections reconciles the connection table with the membership: it
// connects to members without a connection and disconnects peers that are no
// longer members. A local node that finds itself evicted disconnects from
// everyone.
func (s *Server) checkConnections() {
	all := s.members.All()
	if !all.Contains(s.node) {
		s.disconnectAll()
		return
	}

	known := mapset.NewThreadUnsafeSet[address.NodeID]()
	for _, c := range s.connections {
		if !c.node.IsZero() {
			known.Add(c.node)
		}
	}
	toConnect := all.Difference(known)
	toConnect.Remove(s.node)
	toDisconnect := known.Difference(all)

	for _, node := range toConnect.ToSlice() {
		s.counters.ConnectionAttempts++
		if err := s.connect(node); err != nil {
			s.logger.Warn(err.Error())
		}
	}
	s.disconnectEstablished(toDisconnect.ToSlice())
}

func (s *Server) disconnectAll() {
	s.logger.Warn("local node is no longer a member, disconnecting from all peers")
	s.established = make(map[address.NodeID]int)
	for id, c := range s.connections {
		s.wheel.Remove(id, c.slot)
		if err := s.registrar.Deregister(c.sock); err != nil {
			s.logger.Errorf("failed to deregister connection %d: %v", id, err)
		}
		_ = c.sock.Close()
	}
	s.connections = make(map[int]*conn)
}

func (s *Server) disconnectEstablished(nodes []address.NodeID) {
	for _, node := range nodes {
		id, ok := s.established[node]
		if !ok {
			continue
		}
		delete(s.established, node)
		c, ok := s.connections[id]
		if !ok {
			continue
		}
		delete(s.connections, id)
		s.wheel.Remove(id, c.slot)
		if err := s.registrar.Deregister(c.sock); err != nil {
			s.logger.Errorf("failed to deregister connection %d: %v", id, err)
		}
		_ = c.sock.Close()
		s.logger.Infof("disconnected from departed member %s", node)
	}
}

// close tears down one connection and all state attached to it.
func (s *Server) close(id int) {
	c, ok := s.connections[id]
	if !ok {
		return
	}
	delete(s.connections, id)
	_ = s.registrar.Deregister(c.sock)
	_ = c.sock.Close()
	s.wheel.Remove(id, c.slot)
	if !c.node.IsZero() {
		if establishedID, ok := s.established[c.node]; ok && establishedID == id {
			delete(s.established, c.node)
			s.logger.Infof("closed established connection %d to %s", id, c.node)
			return
		}
	}
	s.logger.Infof("closed connection %d", id)
}
