package transport

import (
	"context"
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"

	"ringnet/core"
)

// node.go bundles a Bridge with a Ring and Dispatcher into the lifecycle
// unit the CLI starts and stops, grounded on the teacher's
// core/bootstrap_node.go (BootstrapNode's Start/Stop wrapping a Node) with
// the ledger/replication concerns dropped as out of scope (SPEC_FULL.md
// Non-goals) and the join-ring dispatcher substituted in their place.

// Node is one running ringnet peer: its transport, its view of the ring,
// and the dispatcher driving the join-ring protocol over them.
type Node struct {
	Bridge     *Bridge
	Ring       *core.Ring
	Dispatcher *core.Dispatcher
	Estimator  *core.PeerTimeEstimator

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	log *logrus.Entry
}

// NodeConfig is the subset of the loaded configuration a Node needs to
// start (internal/config.Config supplies these fields at runtime).
type NodeConfig struct {
	PeerKey         string
	ListenAddr      string
	DiscoveryTag    string
	MaxConnections  int
	MaxHopsToLive   int
	RndIfHTLAbove   int
	RouterCacheSize int
}

// NewNode constructs a Node: starts the libp2p bridge, builds the Ring and
// Dispatcher wired to it.
func NewNode(ctx context.Context, cfg NodeConfig) (*Node, error) {
	bridge, err := NewBridge(ctx, cfg.ListenAddr, cfg.DiscoveryTag)
	if err != nil {
		return nil, err
	}

	ring := core.NewRing(cfg.MaxConnections, cfg.MaxHopsToLive, cfg.RndIfHTLAbove)
	self := core.PeerKeyLocation{Peer: bridge.Self()}

	dispatcher := core.NewDispatcher(self, ring, bridge, core.NewClock(), rand.New(rand.NewSource(int64(len(cfg.PeerKey))+1)), cfg.RndIfHTLAbove, cfg.MaxHopsToLive)

	estimator := core.NewPeerTimeEstimator(nil, cfg.RouterCacheSize)
	dispatcher.Estimator = estimator

	return &Node{
		Bridge:     bridge,
		Ring:       ring,
		Dispatcher: dispatcher,
		Estimator:  estimator,
		log:        logrus.WithField("component", "node"),
	}, nil
}

// Start launches the dispatcher loop in the background. Safe to call once.
func (n *Node) Start(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.running = true
	go func() {
		if err := n.Dispatcher.Run(runCtx); err != nil {
			n.log.WithError(err).Info("dispatcher loop exited")
		}
	}()
}

// Stop shuts down the dispatcher loop and the transport.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		n.cancel()
	}
	n.running = false
	return n.Bridge.Close()
}

// Join starts a join operation against gateway and returns its transaction id.
func (n *Node) Join(ctx context.Context, gateway core.PeerKeyLocation) (core.Transaction, error) {
	return n.Dispatcher.StartJoin(ctx, gateway)
}

// KnownPeers lists every peer the transport has discovered or dialed,
// alongside whether it is currently connected (used by `ringnode ring
// status`).
func (n *Node) KnownPeers() map[core.PeerId]bool {
	out := make(map[core.PeerId]bool)
	for _, id := range n.Bridge.registry.Known() {
		out[id] = n.Bridge.registry.Connected(id)
	}
	return out
}
