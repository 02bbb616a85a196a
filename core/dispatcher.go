package core

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// dispatcher.go implements the recv/pop/feed/send loop from spec.md §4.6,
// the single writer of OpStorage (spec.md §5), owning the Clock-driven OC
// retry/deadline bookkeeping from ochandshake.go and emitting the
// operational signals from spec.md §6.

// DefaultJoinDeadline is the design default for the whole join operation
// (spec.md §5).
const DefaultJoinDeadline = 60 * time.Second

// Signal is an operational event the dispatcher reports upward, per
// spec.md §6.
type Signal interface{ isSignal() }

// JoinSuccess reports that a join completed with at least one open
// connection (spec.md §6).
type JoinSuccess struct {
	Gateway PeerId
	NewNode PeerId
}

func (JoinSuccess) isSignal() {}

// JoinFailed reports that a join never produced an open connection.
type JoinFailed struct {
	Reason string
}

func (JoinFailed) isSignal() {}

// Dispatcher owns OpStorage, the Ring, and the ConnectionBridge for one
// peer, and runs the single-threaded cooperative loop described in
// spec.md §5 ("the simplest valid implementation is one dispatcher per
// peer").
type Dispatcher struct {
	Self          PeerKeyLocation
	Ring          *Ring
	Bridge        ConnectionBridge
	Clock         Clock
	Rand          *rand.Rand
	RndIfHTLAbove int
	MaxHopsToLive int

	// Estimator, when set, is fed a RoutingEvent for every OC handshake
	// this peer completes as a joiner (applyRingAndBridgeEffects's
	// JRAwaitingOC case), using the handshake round-trip time as the only
	// measured retrieval latency this protocol produces (SPEC_FULL.md
	// §4.4). Nil by default so existing tests that build a Dispatcher
	// directly are unaffected; transport.Node assigns a real one sized
	// from its configured RouterCacheSize.
	Estimator *PeerTimeEstimator

	storage   *OpStorage
	oc        *OCTracker
	deadlines map[Transaction]time.Time
	gateways  map[Transaction]PeerId
	Signals   chan Signal

	log *logrus.Entry
}

// NewDispatcher builds a Dispatcher ready to run.
func NewDispatcher(self PeerKeyLocation, ring *Ring, bridge ConnectionBridge, clk Clock, rnd *rand.Rand, rndIfHTLAbove, maxHopsToLive int) *Dispatcher {
	return &Dispatcher{
		Self:          self,
		Ring:          ring,
		Bridge:        bridge,
		Clock:         clk,
		Rand:          rnd,
		RndIfHTLAbove: rndIfHTLAbove,
		MaxHopsToLive: maxHopsToLive,
		storage:       NewOpStorage(),
		oc:            NewOCTracker(0, 0),
		deadlines:     make(map[Transaction]time.Time),
		gateways:      make(map[Transaction]PeerId),
		Signals:       make(chan Signal, 16),
		log:           logrus.WithField("component", "dispatcher"),
	}
}

// StartJoin initiates a join against gateway, returning the transaction id
// the caller can use to correlate a later JoinSuccess/JoinFailed signal.
func (d *Dispatcher) StartJoin(ctx context.Context, gateway PeerKeyLocation) (Transaction, error) {
	tx := NewTransaction(TxJoinRing)
	info := ConnectionInfo{Gateway: gateway, ThisPeer: d.Self, MaxHopsToLive: d.MaxHopsToLive}
	state, msg := StartJoinRing(info, tx, d.MaxHopsToLive)

	d.storage.Push(tx, Operation{Tx: tx, State: state})
	d.deadlines[tx] = d.Clock.Now().Add(DefaultJoinDeadline)
	d.gateways[tx] = gateway.Peer

	if err := d.Bridge.Send(ctx, gateway.Peer, msg); err != nil {
		d.log.WithError(err).WithField("gateway", gateway.Peer).Warn("failed to send initial join request")
		return tx, err
	}
	d.log.WithField("tx", tx).WithField("gateway", gateway.Peer).Info("join started")
	return tx, nil
}

// Run drives the dispatch loop until ctx is cancelled. Any other receive
// error from the bridge is logged and the loop continues.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		peer, msg, err := d.Bridge.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			d.log.WithError(err).Warn("transport error receiving message")
			continue
		}

		now := d.Clock.Now()
		d.checkJoinDeadlines(ctx, now)
		d.tickOC(ctx, now)
		d.handleMessage(ctx, peer, msg)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, peer PeerId, msg Message) {
	tx := msg.TxID()
	op, existed := d.storage.Pop(tx)
	var state JRState
	if existed {
		state = op.State
	}

	ev := JoinRingEvent{
		Sender:        peer,
		Msg:           msg,
		Ring:          d.Ring,
		Rand:          d.Rand,
		Self:          d.Self,
		RndIfHTLAbove: d.RndIfHTLAbove,
		MaxHopsToLive: d.MaxHopsToLive,
	}
	result := UpdateState(tx, state, ev)
	d.applyRingAndBridgeEffects(tx, state, msg, result)

	if result.HasMsg && result.HasDest {
		if err := d.Bridge.Send(ctx, result.Dest, result.Msg); err != nil {
			d.log.WithError(err).WithField("dest", result.Dest).Warn("failed to send operation reply")
		}
	}

	if result.Terminate {
		delete(d.deadlines, tx)
		d.emitTerminal(tx, result.NextState)
		return
	}

	d.storage.Push(tx, Operation{Tx: tx, State: result.NextState})
	if _, tracked := d.deadlines[tx]; !tracked {
		d.deadlines[tx] = d.Clock.Now().Add(DefaultJoinDeadline)
	}

	awaiting, isAwaiting := result.NextState.(JRAwaitingOC)
	if !isAwaiting {
		return
	}
	if _, wasAwaiting := state.(JRAwaitingOC); wasAwaiting {
		// the kick-offs went out when the operation first entered
		// JRAwaitingOC; a later Connected ack must not resend them.
		return
	}
	now := d.Clock.Now()
	if result.HasMsg {
		if resp, isResp := result.Msg.(RespMsg); isResp {
			if _, isOC := resp.Msg.(ReceivedOCResponse); isOC {
				d.oc.Track(tx, result.Dest, result.Msg, now)
				d.Bridge.AddConnection(result.Dest, true)
			}
		}
	}
	for _, send := range PendingOCSends(tx, awaiting) {
		if err := d.Bridge.Send(ctx, send.Dest, send.Msg); err != nil {
			d.log.WithError(err).WithField("dest", send.Dest).Warn("failed to send OC kick-off")
			continue
		}
		d.oc.Track(tx, send.Dest, send.Msg, now)
		d.Bridge.AddConnection(send.Dest, true)
	}
}

// applyRingAndBridgeEffects performs the Ring/ConnectionBridge mutations a
// join-ring transition implies, but that stepJoinRing itself never touches
// since it is kept a pure function of (state, event) (spec.md §9). It
// inspects the state the operation held before this event (prev) and the
// message that triggered the transition to decide what, if anything,
// happened:
//
//   - the joiner learns its own location from InitialJoinResponse
//     (spec.md §3: "own_location... assigned at first successful join");
//   - an acceptor that just received ReceivedOC registers an inbound
//     bridge connection for the joiner (spec.md §4.5.5 step 1 is the
//     joiner's half; this is the acceptor's);
//   - the joiner, on receiving Connected from one of its accepted peers,
//     inserts that peer into its Ring (spec.md §4.5.5 step 3);
//   - an acceptor, on receiving the joiner's final Connected, inserts the
//     joiner into its own Ring (spec.md §4.5.5 step 4, mirrored);
//   - the joiner stops retrying ReceivedOC toward a peer once that peer's
//     Connected arrives (spec.md §4.5.5: "until either Connected is
//     observed or a per-connection deadline expires").
func (d *Dispatcher) applyRingAndBridgeEffects(tx Transaction, prev JRState, msg Message, result OperationResult) {
	if !result.OK {
		return
	}
	switch p := prev.(type) {
	case JRConnectingJoiner:
		if resp, ok := msg.(RespMsg); ok {
			if initial, ok := resp.Msg.(InitialJoinResponse); ok {
				loc := initial.YourLocation
				d.Self.Location = &loc
				d.Ring.SetOwnLocation(loc)
			}
		}
	case JRAcceptorAwaitingOC:
		if resp, ok := msg.(RespMsg); ok {
			if _, ok := resp.Msg.(ReceivedOCResponse); ok {
				d.Bridge.AddConnection(p.Joiner.Peer, false)
			}
		}
	case JRAwaitingOC:
		if _, ok := msg.(ConnectedMsg); ok {
			sentAt, acked := d.oc.Ack(tx, result.Dest)
			if connectedPeer, found := FindAcceptedPeer(p.AcceptedBy, result.Dest); found {
				myLoc := d.Ring.OwnLocation()
				if myLoc != nil {
					d.Ring.AddConnection(*myLoc, connectedPeer)
				}
				if acked && d.Estimator != nil && myLoc != nil && connectedPeer.Location != nil {
					d.Estimator.AddEvent(RoutingEvent{
						Peer:             connectedPeer.Peer,
						PeerLocation:     *connectedPeer.Location,
						ContractLocation: *myLoc,
						MeasuredTime:     d.Clock.Now().Sub(sentAt).Seconds(),
					})
				}
			}
		}
	case JROCReceived:
		if _, ok := msg.(ConnectedMsg); ok {
			if myLoc := d.Ring.OwnLocation(); myLoc != nil {
				d.Ring.AddConnection(*myLoc, p.Joiner)
			}
		}
	}
}

// emitTerminal reports a JoinSuccess/JoinFailed signal when state reflects
// the overall outcome of a join the local peer initiated. Forwarder/
// acceptor terminations (state is nil, or the JRConnected that follows
// JROCReceived) are not joins this peer started and produce no signal.
func (d *Dispatcher) emitTerminal(tx Transaction, state JRState) {
	connected, ok := state.(JRConnected)
	gateway, wasJoiner := d.gateways[tx]
	delete(d.gateways, tx)
	if !ok || !wasJoiner {
		return
	}
	if connected.Success {
		d.send(JoinSuccess{Gateway: gateway, NewNode: d.Self.Peer})
	} else {
		d.send(JoinFailed{Reason: "no acceptor completed the OC handshake"})
	}
}

func (d *Dispatcher) send(s Signal) {
	select {
	case d.Signals <- s:
	default:
		d.log.Warn("signal channel full, dropping signal")
	}
}

func (d *Dispatcher) checkJoinDeadlines(ctx context.Context, now time.Time) {
	for tx, deadline := range d.deadlines {
		if now.Before(deadline) {
			continue
		}
		delete(d.deadlines, tx)
		d.storage.Pop(tx)
		d.log.WithField("tx", tx).Warn("join operation deadline expired")
		if _, wasJoiner := d.gateways[tx]; wasJoiner {
			delete(d.gateways, tx)
			d.send(JoinFailed{Reason: "deadline expired"})
		}
	}
}

func (d *Dispatcher) tickOC(ctx context.Context, now time.Time) {
	due, expired := d.oc.Tick(now)
	for _, e := range expired {
		d.log.WithField("tx", e.Tx).WithField("peer", e.Dest).Warn("OC handshake deadline expired")
		op, ok := d.storage.Pop(e.Tx)
		if !ok {
			continue
		}
		awaiting, isAwaiting := op.State.(JRAwaitingOC)
		if !isAwaiting {
			d.storage.Push(e.Tx, op)
			continue
		}
		next := ExpireOutstanding(awaiting, e.Dest)
		if isTerminalState(next) {
			d.emitTerminal(e.Tx, next)
			delete(d.deadlines, e.Tx)
			continue
		}
		d.storage.Push(e.Tx, Operation{Tx: e.Tx, State: next})
	}
	for _, item := range due {
		if err := d.Bridge.Send(ctx, item.Dest, item.Msg); err != nil {
			d.log.WithError(err).WithField("peer", item.Dest).Warn("OC retry send failed")
		}
	}
}
