package core

import "math/rand"

// joinring.go implements the join-ring protocol's state machine as a pure
// transition/output pair over a closed sum of states (spec.md §4.5, §9),
// grounded on original_source/.../operations/join_ring.rs's JROpSM
// (rust_fsm state/transition/output split). All I/O — sending, receiving,
// timers — lives in the dispatcher (dispatcher.go); everything here is a
// deterministic function of (state, event).

// ConnectionInfo is the data an Initializing operation carries until it is
// consumed by the transition into ConnectingJoiner (spec.md §4.5.2).
type ConnectionInfo struct {
	Gateway       PeerKeyLocation
	ThisPeer      PeerKeyLocation
	MaxHopsToLive int
}

// JRState is the closed sum of join-ring operation states.
type JRState interface{ isJRState() }

// JRInitializing is the joiner's state before it has sent anything.
// Gateways and forwarders never occupy this state (spec.md §4.5.2).
type JRInitializing struct{ Info ConnectionInfo }

func (JRInitializing) isJRState() {}

// JRConnectingJoiner is the joiner awaiting Resp::Initial from its gateway.
type JRConnectingJoiner struct{ Info ConnectionInfo }

func (JRConnectingJoiner) isJRState() {}

// JRConnectingForwarder is a forwarder or gateway awaiting the Resp::Proxy
// that answers the Req::Proxy it relayed onward (spec.md §4.5.3, §4.5.4).
// SelfAccepted records whether this peer included itself in the
// accepted_by it is about to merge and relay, so that once the merged
// reply is sent it knows whether to keep the operation alive and wait for
// the joiner's own OC handshake (spec.md §4.5.5) rather than terminating.
type JRConnectingForwarder struct {
	Accumulator  []PeerKeyLocation
	ReplyTo      PeerId
	WasInitial   bool
	JoinerPeer   PeerId
	JoinerLoc    Location
	SelfAccepted bool
}

func (JRConnectingForwarder) isJRState() {}

// JRAcceptorAwaitingOC is a peer (gateway, forwarder, or terminal
// forwarder) that included itself in accepted_by and has sent its reply
// toward the joiner; it stays live, on the same transaction, waiting for
// the joiner's ReceivedOC so the OC three-way handshake (spec.md §4.5.5)
// can complete and this peer can add the joiner to its own Ring.
type JRAcceptorAwaitingOC struct{ Joiner PeerKeyLocation }

func (JRAcceptorAwaitingOC) isJRState() {}

// JRAwaitingOC is the joiner running the three-way OC handshake against
// every peer in AcceptedBy (spec.md §4.5.5). Outstanding tracks peers that
// have not yet answered; Connected accumulates those that have.
type JRAwaitingOC struct {
	AcceptedBy  []PeerKeyLocation
	Outstanding map[PeerId]bool
	Connected   []PeerId
}

func (JRAwaitingOC) isJRState() {}

// JROCReceived is an acceptor's state between receiving ReceivedOC and
// receiving the joiner's final Connected (spec.md §4.5.5 steps 2-4).
// Joiner carries the joiner's identity and location so the dispatcher can
// insert it into Ring.connections_by_location once Connected arrives.
type JROCReceived struct{ Joiner PeerKeyLocation }

func (JROCReceived) isJRState() {}

// JRConnected is terminal and absorbing (spec.md §4.5.2). Success reports
// whether at least one acceptor completed the handshake (spec.md §4.5.6);
// it is meaningless for the acceptor-side terminal state, which is always
// a true single-connection success.
type JRConnected struct{ Success bool }

func (JRConnected) isJRState() {}

// JoinRingEvent bundles everything a transition needs besides the current
// state: the arriving message, who sent it, and the read-only views
// (ring, rng, local config) the forwarder decision in spec.md §4.5.3
// depends on. Passing these in rather than reaching for global state is
// what keeps transition/output pure and unit-testable under a seeded rng.
type JoinRingEvent struct {
	Sender        PeerId
	Msg           Message
	Ring          *Ring
	Rand          *rand.Rand
	Self          PeerKeyLocation
	RndIfHTLAbove int
	MaxHopsToLive int
}

// StartJoinRing builds the initial ConnectingJoiner state and the
// Req::Initial message a joiner sends to its gateway. It is not a
// transition (there is no prior event) but is pure in the same sense: no
// I/O, deterministic given its arguments.
func StartJoinRing(info ConnectionInfo, tx Transaction, maxHopsToLive int) (JRState, Message) {
	req := InitialJoinRequest{
		TargetLoc:     info.Gateway,
		ReqPeer:       info.ThisPeer.Peer,
		HopsToLive:    maxHopsToLive,
		MaxHopsToLive: maxHopsToLive,
	}
	return JRConnectingJoiner{Info: info}, ReqMsg{ID: tx, Msg: req}
}

// TransitionJoinRing returns the next state for (state, ev), or ok=false
// if the input is a protocol error from that state (spec.md §4.5.2:
// "transitions not enumerated are protocol errors").
func TransitionJoinRing(state JRState, ev JoinRingEvent) (JRState, bool) {
	next, _, _, ok := stepJoinRing(state, ev)
	return next, ok
}

// OutputJoinRing returns the message (if any) produced by (state, ev).
func OutputJoinRing(state JRState, ev JoinRingEvent) Message {
	_, _, msg, _ := stepJoinRing(state, ev)
	return msg
}

// DestinationJoinRing returns the peer OutputJoinRing's message should be
// sent to, if any.
func DestinationJoinRing(state JRState, ev JoinRingEvent) (PeerId, bool) {
	_, dest, _, ok := stepJoinRing(state, ev)
	return dest, dest != "" && ok
}

// stepJoinRing is the single source of truth TransitionJoinRing,
// OutputJoinRing and DestinationJoinRing are derived from; splitting them
// into three pure functions over one computation avoids divergence between
// "what the new state is" and "what gets sent where" while still
// presenting the transition/output shape spec.md §9 asks for.
func stepJoinRing(state JRState, ev JoinRingEvent) (next JRState, dest PeerId, msg Message, ok bool) {
	switch s := state.(type) {
	case nil:
		return stepFresh(ev)
	case JRInitializing:
		// Reaching a transition with Initializing means StartJoinRing's
		// output was never sent; nothing to do but move on.
		return JRConnectingJoiner{Info: s.Info}, "", nil, true
	case JRConnectingJoiner:
		return stepConnectingJoiner(s, ev)
	case JRConnectingForwarder:
		return stepConnectingForwarder(s, ev)
	case JRAwaitingOC:
		return stepAwaitingOC(s, ev)
	case JRAcceptorAwaitingOC:
		return stepAcceptorAwaitingOC(s, ev)
	case JROCReceived:
		return stepOCReceived(s, ev)
	case JRConnected:
		return nil, "", nil, false
	default:
		return nil, "", nil, false
	}
}

// stepFresh handles a message that names a transaction OpStorage has no
// record of: either a Req arriving at a forwarder/gateway/acceptor that
// has not seen this transaction before, or the first ReceivedOC an
// acceptor gets for a connection it never proactively tracked.
func stepFresh(ev JoinRingEvent) (JRState, PeerId, Message, bool) {
	switch m := ev.Msg.(type) {
	case ReqMsg:
		switch req := m.Msg.(type) {
		case InitialJoinRequest:
			return forwarderDecision(m.ID, ev, req.HopsToLive, randomJoinerLocation(ev), req.ReqPeer, true)
		case ProxyJoinRequest:
			loc := Location(0)
			if req.Joiner.Location != nil {
				loc = *req.Joiner.Location
			}
			return forwarderDecision(m.ID, ev, req.HopsToLive, loc, req.Joiner.Peer, false)
		default:
			return nil, "", nil, false
		}
	case RespMsg:
		// No JRAcceptorAwaitingOC survived for this transaction (e.g. the
		// operation was already reaped by a deadline): the joiner's
		// location cannot be recovered here, so the best this degraded
		// path can do is ack without a Ring insertion.
		if _, isOC := m.Msg.(ReceivedOCResponse); isOC {
			return JROCReceived{Joiner: PeerKeyLocation{Peer: ev.Sender}}, ev.Sender, ConnectedMsg{ID: m.ID}, true
		}
		return nil, "", nil, false
	default:
		return nil, "", nil, false
	}
}

func randomJoinerLocation(ev JoinRingEvent) Location {
	return RandomLocation(ev.Rand)
}

// forwarderDecision implements spec.md §4.5.3 steps 1-5 for a peer that is
// either the gateway (wasInitial=true, servicing Req::Initial directly) or
// an intermediate forwarder (wasInitial=false, servicing Req::Proxy).
func forwarderDecision(tx Transaction, ev JoinRingEvent, hopsToLive int, joinerLoc Location, joinerPeer PeerId, wasInitial bool) (JRState, PeerId, Message, bool) {
	myLoc := ev.Self.Location
	selfAccepted := myLoc != nil && ev.Ring.ShouldAccept(*myLoc, joinerLoc)
	var accepted []PeerKeyLocation
	if selfAccepted {
		accepted = []PeerKeyLocation{ev.Self}
	}

	notSender := func(pl PeerKeyLocation) bool { return pl.Peer != ev.Sender }
	neighbors := ev.Ring.Connections()
	live := 0
	for _, n := range neighbors {
		if notSender(n) {
			live++
		}
	}

	var target PeerKeyLocation
	haveTarget := false
	if live > 0 {
		if hopsToLive >= ev.RndIfHTLAbove {
			target, haveTarget = ev.Ring.RandomPeer(ev.Rand, notSender)
		} else {
			target, haveTarget = ev.Ring.ClosestPeer(joinerLoc, notSender)
		}
	}

	if haveTarget && hopsToLive > 0 && live > 0 {
		newHTL := hopsToLive
		if ev.MaxHopsToLive < newHTL {
			newHTL = ev.MaxHopsToLive
		}
		newHTL--
		joiner := PeerKeyLocation{Peer: joinerPeer, Location: &joinerLoc}
		proxyReq := ProxyJoinRequest{Joiner: joiner, HopsToLive: newHTL}
		state := JRConnectingForwarder{
			Accumulator:  accepted,
			ReplyTo:      ev.Sender,
			WasInitial:   wasInitial,
			JoinerPeer:   joinerPeer,
			JoinerLoc:    joinerLoc,
			SelfAccepted: selfAccepted,
		}
		return state, target.Peer, ReqMsg{ID: tx, Msg: proxyReq}, true
	}

	// Terminal forwarder: reply immediately. If this peer accepted the
	// joiner it stays alive awaiting the joiner's OC handshake on the same
	// transaction (spec.md §4.5.5); otherwise the operation ends here.
	next := terminalNextState(selfAccepted, joinerPeer, joinerLoc)
	if wasInitial {
		resp := InitialJoinResponse{AcceptedBy: accepted, YourLocation: joinerLoc, YourPeerId: joinerPeer}
		return next, ev.Sender, RespMsg{ID: tx, Sender: ev.Self, Msg: resp}, true
	}
	resp := ProxyJoinResponse{AcceptedBy: accepted}
	return next, ev.Sender, RespMsg{ID: tx, Sender: ev.Self, Msg: resp}, true
}

// terminalNextState is the post-reply state for any accepting peer
// (terminal forwarder or intermediate forwarder merging its children's
// responses): nil if this peer did not accept the joiner, JRAcceptorAwaitingOC
// if it did and must still complete the OC handshake on this transaction.
func terminalNextState(selfAccepted bool, joinerPeer PeerId, joinerLoc Location) JRState {
	if !selfAccepted {
		return nil
	}
	return JRAcceptorAwaitingOC{Joiner: PeerKeyLocation{Peer: joinerPeer, Location: &joinerLoc}}
}

func stepConnectingJoiner(s JRConnectingJoiner, ev JoinRingEvent) (JRState, PeerId, Message, bool) {
	resp, isResp := ev.Msg.(RespMsg)
	if !isResp {
		return nil, "", nil, false
	}
	initial, isInitial := resp.Msg.(InitialJoinResponse)
	if !isInitial {
		return nil, "", nil, false
	}
	return enterAwaitingOC(resp.ID, initial.AcceptedBy)
}

func stepConnectingForwarder(s JRConnectingForwarder, ev JoinRingEvent) (JRState, PeerId, Message, bool) {
	resp, isResp := ev.Msg.(RespMsg)
	if !isResp {
		return nil, "", nil, false
	}
	var accepted []PeerKeyLocation
	switch m := resp.Msg.(type) {
	case ProxyJoinResponse:
		accepted = m.AcceptedBy
	case InitialJoinResponse:
		accepted = m.AcceptedBy
	default:
		return nil, "", nil, false
	}

	merged := mergeAcceptors(s.Accumulator, accepted)
	next := terminalNextState(s.SelfAccepted, s.JoinerPeer, s.JoinerLoc)
	if s.WasInitial {
		out := InitialJoinResponse{AcceptedBy: merged, YourLocation: s.JoinerLoc, YourPeerId: s.JoinerPeer}
		return next, s.ReplyTo, RespMsg{ID: resp.ID, Sender: ev.Self, Msg: out}, true
	}
	out := ProxyJoinResponse{AcceptedBy: merged}
	return next, s.ReplyTo, RespMsg{ID: resp.ID, Sender: ev.Self, Msg: out}, true
}

// stepAcceptorAwaitingOC handles the joiner's ReceivedOC arriving at a peer
// that accepted it earlier in the forwarding chain (spec.md §4.5.5 step 2):
// transition to JROCReceived, carrying the joiner's identity and location
// forward so the final Connected can trigger the Ring insertion.
func stepAcceptorAwaitingOC(s JRAcceptorAwaitingOC, ev JoinRingEvent) (JRState, PeerId, Message, bool) {
	resp, isResp := ev.Msg.(RespMsg)
	if !isResp {
		return nil, "", nil, false
	}
	if _, isOC := resp.Msg.(ReceivedOCResponse); !isOC {
		return nil, "", nil, false
	}
	return JROCReceived{Joiner: s.Joiner}, ev.Sender, ConnectedMsg{ID: resp.ID}, true
}

// mergeAcceptors implements the accumulator union from spec.md §4.5.4,
// preserving insertion order and skipping duplicates by peer id.
func mergeAcceptors(acc, incoming []PeerKeyLocation) []PeerKeyLocation {
	seen := make(map[PeerId]bool, len(acc))
	merged := make([]PeerKeyLocation, 0, len(acc)+len(incoming))
	for _, pl := range acc {
		if !seen[pl.Peer] {
			seen[pl.Peer] = true
			merged = append(merged, pl)
		}
	}
	for _, pl := range incoming {
		if !seen[pl.Peer] {
			seen[pl.Peer] = true
			merged = append(merged, pl)
		}
	}
	return merged
}

func enterAwaitingOC(tx Transaction, acceptedBy []PeerKeyLocation) (JRState, PeerId, Message, bool) {
	if len(acceptedBy) == 0 {
		return JRConnected{Success: false}, "", nil, true
	}
	outstanding := make(map[PeerId]bool, len(acceptedBy))
	for _, pl := range acceptedBy {
		outstanding[pl.Peer] = true
	}
	state := JRAwaitingOC{AcceptedBy: acceptedBy, Outstanding: outstanding}
	first := acceptedBy[0]
	return state, first.Peer, RespMsg{ID: tx, Msg: ReceivedOCResponse{ByPeer: first}}, true
}

// OCSend is one outbound ReceivedOC kick-off produced by PendingOCSends.
type OCSend struct {
	Dest PeerId
	Msg  Message
}

// PendingOCSends returns the ReceivedOC messages for every accepted peer
// beyond the first, which enterAwaitingOC already addressed. The
// dispatcher calls this once, right after a transition produces a fresh
// JRAwaitingOC, to fan out the remaining handshake kick-offs; it is a pure
// function of the state, not part of the transition/output pair itself
// because that pair is defined to emit at most one message per step.
func PendingOCSends(tx Transaction, state JRAwaitingOC) []OCSend {
	out := make([]OCSend, 0, len(state.AcceptedBy))
	for i, pl := range state.AcceptedBy {
		if i == 0 {
			continue
		}
		out = append(out, OCSend{Dest: pl.Peer, Msg: RespMsg{ID: tx, Msg: ReceivedOCResponse{ByPeer: pl}}})
	}
	return out
}

func stepAwaitingOC(s JRAwaitingOC, ev JoinRingEvent) (JRState, PeerId, Message, bool) {
	_, isConnected := ev.Msg.(ConnectedMsg)
	if !isConnected {
		return nil, "", nil, false
	}
	if !s.Outstanding[ev.Sender] {
		return nil, "", nil, false
	}

	outstanding := make(map[PeerId]bool, len(s.Outstanding))
	for k, v := range s.Outstanding {
		outstanding[k] = v
	}
	delete(outstanding, ev.Sender)
	connected := append(append([]PeerId(nil), s.Connected...), ev.Sender)

	ack := ConnectedMsg{ID: ev.Msg.TxID()}
	if len(outstanding) == 0 {
		return JRConnected{Success: len(connected) > 0}, ev.Sender, ack, true
	}
	return JRAwaitingOC{AcceptedBy: s.AcceptedBy, Outstanding: outstanding, Connected: connected}, ev.Sender, ack, true
}

// FindAcceptedPeer looks up peer within acceptedBy, for callers (the
// dispatcher) that need its Location once a ConnectedMsg confirms the OC
// handshake with it completed (spec.md §4.5.5 step 3).
func FindAcceptedPeer(acceptedBy []PeerKeyLocation, peer PeerId) (PeerKeyLocation, bool) {
	for _, pl := range acceptedBy {
		if pl.Peer == peer {
			return pl, true
		}
	}
	return PeerKeyLocation{}, false
}

// ExpireOutstanding drops peer from an AwaitingOC operation's outstanding
// set after its per-connection deadline passes (spec.md §4.5.5, §4.5.6):
// that one connection is abandoned, siblings are untouched. If it was the
// last outstanding peer, the operation resolves exactly as it would have
// on a normal response, per spec.md §4.5.6's "successful overall iff at
// least one acceptor reached Connected".
func ExpireOutstanding(state JRAwaitingOC, peer PeerId) JRState {
	if !state.Outstanding[peer] {
		return state
	}
	outstanding := make(map[PeerId]bool, len(state.Outstanding))
	for k, v := range state.Outstanding {
		if k != peer {
			outstanding[k] = v
		}
	}
	if len(outstanding) == 0 {
		return JRConnected{Success: len(state.Connected) > 0}
	}
	return JRAwaitingOC{AcceptedBy: state.AcceptedBy, Outstanding: outstanding, Connected: state.Connected}
}

func stepOCReceived(s JROCReceived, ev JoinRingEvent) (JRState, PeerId, Message, bool) {
	if _, isConnected := ev.Msg.(ConnectedMsg); !isConnected {
		return nil, "", nil, false
	}
	return JRConnected{Success: true}, "", nil, true
}
