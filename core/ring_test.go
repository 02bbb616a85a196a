package core

import (
	"math/rand"
	"testing"
)

func peerAt(t *testing.T, id PeerId, loc float64) PeerKeyLocation {
	t.Helper()
	l := mustLocation(t, loc)
	return PeerKeyLocation{Peer: id, Location: &l}
}

func TestRingShouldAcceptFillsUnderCapacity(t *testing.T) {
	r := NewRing(3, 10, 7)
	my := mustLocation(t, 0.0)
	if !r.ShouldAccept(my, mustLocation(t, 0.5)) {
		t.Fatalf("should accept into an empty ring")
	}
}

func TestRingAddConnectionEvictsFarthest(t *testing.T) {
	r := NewRing(2, 10, 7)
	my := mustLocation(t, 0.0)

	r.AddConnection(my, peerAt(t, "near", 0.1))
	r.AddConnection(my, peerAt(t, "far", 0.4))
	if r.Len() != 2 {
		t.Fatalf("expected 2 connections, got %d", r.Len())
	}

	// closer than "far" (distance 0.4): should evict "far", keep "near".
	r.AddConnection(my, peerAt(t, "closer", 0.2))
	if r.Len() != 2 {
		t.Fatalf("expected ring to stay at capacity, got %d", r.Len())
	}
	ids := map[PeerId]bool{}
	for _, c := range r.Connections() {
		ids[c.Peer] = true
	}
	if !ids["near"] || !ids["closer"] || ids["far"] {
		t.Fatalf("unexpected membership after eviction: %v", ids)
	}
}

func TestRingAddConnectionRejectsWhenNotCloser(t *testing.T) {
	r := NewRing(1, 10, 7)
	my := mustLocation(t, 0.0)
	r.AddConnection(my, peerAt(t, "near", 0.1))
	r.AddConnection(my, peerAt(t, "farther", 0.4))
	if r.Len() != 1 {
		t.Fatalf("expected capacity-1 ring unchanged, got %d", r.Len())
	}
	if r.Connections()[0].Peer != "near" {
		t.Fatalf("expected incumbent kept, got %v", r.Connections()[0].Peer)
	}
}

func TestRingDropConnection(t *testing.T) {
	r := NewRing(5, 10, 7)
	my := mustLocation(t, 0.0)
	loc := mustLocation(t, 0.3)
	r.AddConnection(my, PeerKeyLocation{Peer: "x", Location: &loc})
	if r.Len() != 1 {
		t.Fatalf("expected 1 connection")
	}
	r.DropConnection(loc)
	if r.Len() != 0 {
		t.Fatalf("expected connection dropped, got %d", r.Len())
	}
}

func TestRingClosestPeerBreaksTiesByPeerId(t *testing.T) {
	r := NewRing(10, 10, 7)
	my := mustLocation(t, 0.0)
	r.AddConnection(my, peerAt(t, "bbb", 0.25))
	r.AddConnection(my, peerAt(t, "aaa", 0.75))
	target := mustLocation(t, 0.5) // exactly equidistant (0.25) from both 0.25 and 0.75
	best, ok := r.ClosestPeer(target, nil)
	if !ok {
		t.Fatalf("expected a closest peer")
	}
	if best.Peer != "aaa" {
		t.Fatalf("expected tie broken toward smaller peer id, got %v", best.Peer)
	}
}

func TestRingRandomPeerRespectsFilter(t *testing.T) {
	r := NewRing(10, 10, 7)
	my := mustLocation(t, 0.0)
	r.AddConnection(my, peerAt(t, "a", 0.1))
	r.AddConnection(my, peerAt(t, "b", 0.2))
	r.AddConnection(my, peerAt(t, "c", 0.3))

	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		pl, ok := r.RandomPeer(rnd, func(pl PeerKeyLocation) bool { return pl.Peer == "b" })
		if !ok || pl.Peer != "b" {
			t.Fatalf("expected filter to restrict selection to b, got %+v ok=%v", pl, ok)
		}
	}
}

func TestRingOwnLocationIdempotent(t *testing.T) {
	r := NewRing(5, 10, 7)
	if r.OwnLocation() != nil {
		t.Fatalf("expected no location assigned initially")
	}
	loc := mustLocation(t, 0.42)
	r.SetOwnLocation(loc)
	r.SetOwnLocation(loc)
	if r.OwnLocation() == nil || *r.OwnLocation() != loc {
		t.Fatalf("expected location %v, got %v", loc, r.OwnLocation())
	}
}
