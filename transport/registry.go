package transport

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"ringnet/core"
)

// registry.go tracks what Bridge knows about other peers: discovered or
// configured addresses, and which ones are presently marked connected.
// Grounded on the teacher's core/peer_management.go PeerManagement, which
// kept the same two concerns (address book, connection set) alongside a
// Node; here they stand alone since Bridge owns the libp2p host directly.

type peerRecord struct {
	addr      peer.AddrInfo
	connected bool
	outbound  bool
	seenAt    time.Time
}

type peerRegistry struct {
	mu      sync.RWMutex
	records map[core.PeerId]*peerRecord
}

func newPeerRegistry() *peerRegistry {
	return &peerRegistry{records: make(map[core.PeerId]*peerRecord)}
}

func (r *peerRegistry) remember(id core.PeerId, addr peer.AddrInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		rec = &peerRecord{}
		r.records[id] = rec
	}
	rec.addr = addr
	rec.seenAt = time.Now()
}

func (r *peerRegistry) markConnected(id core.PeerId, outbound bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		rec = &peerRecord{}
		r.records[id] = rec
	}
	rec.connected = true
	rec.outbound = outbound
}

func (r *peerRegistry) forget(id core.PeerId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
}

// Known returns every peer id the registry currently has a record for.
func (r *peerRegistry) Known() []core.PeerId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.PeerId, 0, len(r.records))
	for id := range r.records {
		out = append(out, id)
	}
	return out
}

// Connected reports whether id is currently marked as a live connection.
func (r *peerRegistry) Connected(id core.PeerId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return ok && rec.connected
}
