package core

import (
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
)

// ringSnapshot is the connection table at one point in time. Ring replaces
// the whole snapshot on every mutation (spec.md §9: "snapshot-on-write
// recommended because membership changes are infrequent relative to reads
// from the router") so readers never block behind a writer.
type ringSnapshot struct {
	byLocation map[Location]PeerKeyLocation
	ordered    []Location // kept sorted for nearest-neighbour scans
}

func emptySnapshot() *ringSnapshot {
	return &ringSnapshot{byLocation: make(map[Location]PeerKeyLocation)}
}

// Ring is a peer's view of the overlay: its own location (once assigned)
// and its open-connection neighbour table, plus the tuning constants that
// govern acceptance and forwarding (spec.md §3).
type Ring struct {
	mu            sync.Mutex // serializes writers; readers go through the atomic pointer
	snap          atomic.Pointer[ringSnapshot]
	ownLocation   atomic.Pointer[Location]
	MaxConnections   int
	MaxHopsToLive    int
	RndIfHTLAbove    int
}

// NewRing constructs a Ring with the given tuning constants. Defaults match
// SPEC_FULL.md §6: max_connections=20, max_hops_to_live=10, rnd_if_htl_above=7.
func NewRing(maxConnections, maxHopsToLive, rndIfHTLAbove int) *Ring {
	r := &Ring{
		MaxConnections: maxConnections,
		MaxHopsToLive:  maxHopsToLive,
		RndIfHTLAbove:  rndIfHTLAbove,
	}
	r.snap.Store(emptySnapshot())
	return r
}

// OwnLocation returns the peer's assigned location, or nil if not yet set.
func (r *Ring) OwnLocation() *Location { return r.ownLocation.Load() }

// SetOwnLocation assigns the peer's location on first successful join. It is
// idempotent: setting the same value twice is a no-op, but setting a
// different value once already assigned is an internal-error condition the
// caller should not trigger.
func (r *Ring) SetOwnLocation(loc Location) { r.ownLocation.Store(&loc) }

func (r *Ring) currentSnapshot() *ringSnapshot { return r.snap.Load() }

// Len reports the number of open connections.
func (r *Ring) Len() int { return len(r.currentSnapshot().ordered) }

// Connections returns a copy of the current neighbour table, safe for the
// caller to range over without holding any lock.
func (r *Ring) Connections() []PeerKeyLocation {
	s := r.currentSnapshot()
	out := make([]PeerKeyLocation, 0, len(s.ordered))
	for _, loc := range s.ordered {
		out = append(out, s.byLocation[loc])
	}
	return out
}

// ShouldAccept reports whether a candidate at candidateLoc should be
// admitted as a neighbour of a peer located at myLoc: true iff there is
// still room under MaxConnections, or the candidate is strictly closer than
// the current farthest neighbour. Ties are broken in favour of the
// incumbent (spec.md §4.1).
func (r *Ring) ShouldAccept(myLoc, candidateLoc Location) bool {
	s := r.currentSnapshot()
	if len(s.ordered) < r.MaxConnections {
		return true
	}
	farthest := myLoc.Distance(s.ordered[0])
	farthestIdx := 0
	for i, loc := range s.ordered {
		if d := myLoc.Distance(loc); d > farthest {
			farthest = d
			farthestIdx = i
		}
	}
	_ = farthestIdx
	return myLoc.Distance(candidateLoc) < farthest
}

// AddConnection inserts pl into the neighbour table, evicting the farthest
// neighbour first if at capacity and the new peer is closer. It is the sole
// writer path and is safe for concurrent use.
func (r *Ring) AddConnection(myLoc Location, pl PeerKeyLocation) {
	if !pl.HasLocation() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.currentSnapshot()
	next := &ringSnapshot{byLocation: make(map[Location]PeerKeyLocation, len(cur.byLocation)+1)}
	for k, v := range cur.byLocation {
		next.byLocation[k] = v
	}
	loc := *pl.Location
	if _, exists := next.byLocation[loc]; !exists && len(next.byLocation) >= r.MaxConnections {
		// evict farthest neighbour to make room, if the candidate is closer.
		farthestLoc := cur.ordered[0]
		farthest := myLoc.Distance(farthestLoc)
		for _, l := range cur.ordered {
			if d := myLoc.Distance(l); d > farthest {
				farthest = d
				farthestLoc = l
			}
		}
		if myLoc.Distance(loc) >= farthest {
			return // would not actually be accepted; no-op
		}
		delete(next.byLocation, farthestLoc)
	}
	next.byLocation[loc] = pl
	next.ordered = make([]Location, 0, len(next.byLocation))
	for k := range next.byLocation {
		next.ordered = append(next.ordered, k)
	}
	sort.Slice(next.ordered, func(i, j int) bool { return next.ordered[i] < next.ordered[j] })
	r.snap.Store(next)
}

// DropConnection removes any neighbour at the given location.
func (r *Ring) DropConnection(loc Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.currentSnapshot()
	if _, ok := cur.byLocation[loc]; !ok {
		return
	}
	next := &ringSnapshot{byLocation: make(map[Location]PeerKeyLocation, len(cur.byLocation))}
	for k, v := range cur.byLocation {
		if k != loc {
			next.byLocation[k] = v
		}
	}
	next.ordered = make([]Location, 0, len(next.byLocation))
	for k := range next.byLocation {
		next.ordered = append(next.ordered, k)
	}
	sort.Slice(next.ordered, func(i, j int) bool { return next.ordered[i] < next.ordered[j] })
	r.snap.Store(next)
}

// RandomPeer returns a uniformly random neighbour satisfying filter, or the
// zero value and false if none qualify.
func (r *Ring) RandomPeer(rnd *rand.Rand, filter func(PeerKeyLocation) bool) (PeerKeyLocation, bool) {
	s := r.currentSnapshot()
	candidates := make([]PeerKeyLocation, 0, len(s.ordered))
	for _, loc := range s.ordered {
		pl := s.byLocation[loc]
		if filter == nil || filter(pl) {
			candidates = append(candidates, pl)
		}
	}
	if len(candidates) == 0 {
		return PeerKeyLocation{}, false
	}
	return candidates[rnd.Intn(len(candidates))], true
}

// ClosestPeer returns the neighbour minimizing arc-distance to targetLoc
// among those passing filter. Exact ties are broken by the smaller PeerId
// (spec.md §4.5.3), making selection deterministic under replay.
func (r *Ring) ClosestPeer(targetLoc Location, filter func(PeerKeyLocation) bool) (PeerKeyLocation, bool) {
	s := r.currentSnapshot()
	var best PeerKeyLocation
	bestDist := 2.0 // > any real distance
	found := false
	for _, loc := range s.ordered {
		pl := s.byLocation[loc]
		if filter != nil && !filter(pl) {
			continue
		}
		d := targetLoc.Distance(loc)
		switch {
		case !found || d < bestDist:
			best, bestDist, found = pl, d, true
		case d == bestDist && pl.Peer.Less(best.Peer):
			best = pl
		}
	}
	return best, found
}
