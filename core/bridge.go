package core

import "context"

// ConnectionBridge is the abstract capability the core consumes to move
// messages between peers (spec.md §4.3). It does not guarantee ordering
// beyond per-connection FIFO, and surfaces transport failures rather than
// hiding them. Two implementations exist in this module: MemoryBridge (an
// in-process simulator used by every deterministic test) and the
// libp2p-backed bridge in package transport, used at runtime.
type ConnectionBridge interface {
	AddConnection(peer PeerId, isOutbound bool)
	DropConnection(peer PeerId)
	Send(ctx context.Context, peer PeerId, msg Message) error
	Recv(ctx context.Context) (PeerId, Message, error)
}
