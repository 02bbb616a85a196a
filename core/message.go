package core

// Message is the closed sum of everything that can cross a ConnectionBridge
// for the join-ring protocol (spec.md §4.5.1). New protocols extend this
// sum rather than introducing dynamic dispatch (spec.md §9).
type Message interface {
	TxID() Transaction
	isMessage()
}

// ReqMsg carries a join request. The sender is not carried in the payload:
// it is always the peer that handed the message to the bridge, available
// from ConnectionBridge.Recv's return value.
type ReqMsg struct {
	ID  Transaction
	Msg JoinRequest
}

func (m ReqMsg) TxID() Transaction { return m.ID }
func (ReqMsg) isMessage()          {}

// RespMsg carries a join response, with the explicit sender location so a
// forwarder relaying it onward can attribute the response correctly even
// across a multi-hop chain.
type RespMsg struct {
	ID     Transaction
	Sender PeerKeyLocation
	Msg    JoinResponse
}

func (m RespMsg) TxID() Transaction { return m.ID }
func (RespMsg) isMessage()          {}

// ConnectedMsg is the terminal acknowledgement of the OC three-way
// handshake (spec.md §4.5.5). Resolving one of spec.md §9's open
// questions: this implementation carries the Transaction id explicitly,
// since ConnectionBridge has no notion of a connection frame to inherit it
// from — every message is self-contained.
type ConnectedMsg struct {
	ID Transaction
}

func (m ConnectedMsg) TxID() Transaction { return m.ID }
func (ConnectedMsg) isMessage()          {}

// CanceledMsg aborts an operation on a protocol error (spec.md §4.5.6, §7).
type CanceledMsg struct {
	ID Transaction
}

func (m CanceledMsg) TxID() Transaction { return m.ID }
func (CanceledMsg) isMessage()          {}

// JoinRequest is the closed sum of join-request payloads (spec.md §4.5.1).
type JoinRequest interface{ isJoinRequest() }

// InitialJoinRequest is sent once, by the joiner, to its configured
// gateway.
type InitialJoinRequest struct {
	TargetLoc     PeerKeyLocation
	ReqPeer       PeerId
	HopsToLive    int
	MaxHopsToLive int
}

func (InitialJoinRequest) isJoinRequest() {}

// ProxyJoinRequest is relayed by a forwarder to one of its own neighbours.
type ProxyJoinRequest struct {
	Joiner     PeerKeyLocation
	HopsToLive int
}

func (ProxyJoinRequest) isJoinRequest() {}

// JoinResponse is the closed sum of join-response payloads (spec.md §4.5.1).
type JoinResponse interface{ isJoinResponse() }

// InitialJoinResponse is the gateway's/terminal forwarder's reply to the
// joiner's InitialJoinRequest.
type InitialJoinResponse struct {
	AcceptedBy  []PeerKeyLocation
	YourLocation Location
	YourPeerId   PeerId
}

func (InitialJoinResponse) isJoinResponse() {}

// ProxyJoinResponse carries the accumulated acceptors back up the
// forwarding chain.
type ProxyJoinResponse struct {
	AcceptedBy []PeerKeyLocation
}

func (ProxyJoinResponse) isJoinResponse() {}

// ReceivedOCResponse is step 1 of the OC three-way handshake (spec.md
// §4.5.5): the joiner informing an acceptor it has opened a connection.
type ReceivedOCResponse struct {
	ByPeer PeerKeyLocation
}

func (ReceivedOCResponse) isJoinResponse() {}
