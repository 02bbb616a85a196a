package core

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MinPeerPointsForRegression is the minimum number of observations a peer
// must have, strictly exceeded, before it gets its own regression; below
// that the global regression is used as a fallback (spec.md §4.4).
const MinPeerPointsForRegression = 10

// DefaultRouterCacheSize bounds the number of per-peer regressions kept in
// memory (SPEC_FULL.md §4.4): peer churn in a large overlay should not grow
// router memory without bound. Eviction only ever degrades precision to the
// global fallback, never correctness (spec.md §4.4's contract is unaffected
// by which peers currently have a cached regression).
const DefaultRouterCacheSize = 4096

// RoutingEvent is one observed (peer, distance, latency) sample, immutable
// after recording (spec.md §3).
type RoutingEvent struct {
	Peer             PeerId
	PeerLocation     Location
	ContractLocation Location
	MeasuredTime     float64
}

func (e RoutingEvent) distance() float64 { return e.PeerLocation.Distance(e.ContractLocation) }

// PeerTimeEstimator predicts retrieval time for a (peer, distance) pair,
// using an isotonic regression per peer when enough data exists and a
// global regression as a fallback (spec.md §4.4), grounded on
// original_source/crates/locutus-router/src/lib.rs.
type PeerTimeEstimator struct {
	mu     sync.Mutex
	global *IsotonicRegression
	peers  *lru.Cache[PeerId, *IsotonicRegression]

	// pending buffers raw observations per peer that has not yet crossed
	// MinPeerPointsForRegression and so has no entry in peers yet, so that
	// graduation builds the peer's regression from its full history rather
	// than just the point that tipped it over the threshold.
	pending map[PeerId][]Point
}

// NewPeerTimeEstimator builds the global regression from the full history
// and a per-peer regression only for peers with more than
// MinPeerPointsForRegression observations (spec.md §4.4).
func NewPeerTimeEstimator(history []RoutingEvent, cacheSize int) *PeerTimeEstimator {
	if cacheSize <= 0 {
		cacheSize = DefaultRouterCacheSize
	}
	cache, _ := lru.New[PeerId, *IsotonicRegression](cacheSize)

	e := &PeerTimeEstimator{
		global:  NewIsotonicRegression(nil),
		peers:   cache,
		pending: make(map[PeerId][]Point),
	}

	allPoints := make([]Point, 0, len(history))
	perPeer := make(map[PeerId][]Point)
	for _, ev := range history {
		p := Point{X: ev.distance(), Y: ev.MeasuredTime}
		allPoints = append(allPoints, p)
		perPeer[ev.Peer] = append(perPeer[ev.Peer], p)
	}
	e.global = NewIsotonicRegression(allPoints)
	for peer, pts := range perPeer {
		if len(pts) > MinPeerPointsForRegression {
			e.peers.Add(peer, NewIsotonicRegression(pts))
		} else {
			e.pending[peer] = pts
		}
	}
	return e
}

// AddEvent inserts the event into the global regression and into (or
// creates) the peer's regression once the peer crosses the threshold.
// Mutation is guarded by a single mutex so it appears atomic to readers
// (spec.md §5).
func (e *PeerTimeEstimator) AddEvent(ev RoutingEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := Point{X: ev.distance(), Y: ev.MeasuredTime}
	e.global.AddPoints([]Point{p})

	if reg, ok := e.peers.Get(ev.Peer); ok {
		reg.AddPoints([]Point{p})
		return
	}
	pts := append(e.pending[ev.Peer], p)
	if len(pts) > MinPeerPointsForRegression {
		e.peers.Add(ev.Peer, NewIsotonicRegression(pts))
		delete(e.pending, ev.Peer)
		return
	}
	e.pending[ev.Peer] = pts
}

// Estimate returns the peer regression's interpolation if present;
// otherwise the global regression's if it has enough points; otherwise
// None (spec.md §4.4).
func (e *PeerTimeEstimator) Estimate(peer PeerId, distance float64) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if reg, ok := e.peers.Get(peer); ok {
		return reg.Interpolate(distance), true
	}
	if e.global.Len() > MinPeerPointsForRegression {
		return e.global.Interpolate(distance), true
	}
	return 0, false
}
