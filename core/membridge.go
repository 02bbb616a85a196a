package core

import (
	"context"
	"fmt"
	"sync"
)

// membridge.go is an in-process ConnectionBridge simulator used by every
// deterministic test in this package (spec.md §8's end-to-end scenarios):
// a MemoryNetwork holds a set of MemoryBridge endpoints and delivers sent
// messages to the addressee's inbox channel, so a whole ring can be
// exercised in one goroutine-per-peer test without any real transport.

// MemoryNetwork is the shared switchboard a MemoryBridge looks up peers
// through. The zero value is ready to use.
type MemoryNetwork struct {
	mu    sync.Mutex
	peers map[PeerId]*MemoryBridge
}

// NewMemoryNetwork returns an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{peers: make(map[PeerId]*MemoryBridge)}
}

// NewBridge registers and returns a new endpoint for id.
func (n *MemoryNetwork) NewBridge(id PeerId) *MemoryBridge {
	b := &MemoryBridge{
		self:    id,
		network: n,
		inbox:   make(chan inboundMessage, 256),
		conns:   make(map[PeerId]bool),
	}
	n.mu.Lock()
	n.peers[id] = b
	n.mu.Unlock()
	return b
}

func (n *MemoryNetwork) lookup(id PeerId) (*MemoryBridge, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	b, ok := n.peers[id]
	return b, ok
}

type inboundMessage struct {
	from PeerId
	msg  Message
}

// MemoryBridge implements ConnectionBridge over a MemoryNetwork.
type MemoryBridge struct {
	self    PeerId
	network *MemoryNetwork
	inbox   chan inboundMessage

	mu    sync.Mutex
	conns map[PeerId]bool
}

var _ ConnectionBridge = (*MemoryBridge)(nil)

// AddConnection records peer as connected; it has no effect on delivery
// (the simulator delivers regardless), matching the real bridge's
// contract that AddConnection is advisory bookkeeping for the caller.
func (b *MemoryBridge) AddConnection(peer PeerId, isOutbound bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[peer] = true
}

// DropConnection removes the bookkeeping entry for peer.
func (b *MemoryBridge) DropConnection(peer PeerId) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, peer)
}

// Send encodes and immediately decodes msg (exercising the wire codec on
// every simulated hop, per spec.md §8's round-trip law) and delivers it to
// the destination's inbox.
func (b *MemoryBridge) Send(ctx context.Context, peer PeerId, msg Message) error {
	dest, ok := b.network.lookup(peer)
	if !ok {
		return &TransportError{Kind: PeerUnreachable, Peer: peer, Err: fmt.Errorf("unknown peer %q", peer)}
	}
	encoded := EncodeMessage(msg)
	decoded, err := DecodeMessage(encoded)
	if err != nil {
		return &TransportError{Kind: EncodingError, Peer: peer, Err: err}
	}
	select {
	case dest.inbox <- inboundMessage{from: b.self, msg: decoded}:
		return nil
	case <-ctx.Done():
		return &TransportError{Kind: Timeout, Peer: peer, Err: ctx.Err()}
	}
}

// Recv blocks until a message arrives or ctx is done.
func (b *MemoryBridge) Recv(ctx context.Context) (PeerId, Message, error) {
	select {
	case m := <-b.inbox:
		return m.from, m.msg, nil
	case <-ctx.Done():
		return "", nil, &TransportError{Kind: Timeout, Peer: b.self, Err: ctx.Err()}
	}
}
