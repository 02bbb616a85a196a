package core

import "fmt"

// PeerId is an opaque, globally unique peer identifier derived from a
// peer's public key. It only needs equality and a total order here; key
// derivation and authentication live outside the core (SPEC_FULL.md §1).
type PeerId string

// Less gives PeerId a total, deterministic order, used to break exact
// distance ties when picking a forwarding target (spec.md §4.5.3).
func (p PeerId) Less(other PeerId) bool { return p < other }

func (p PeerId) String() string { return string(p) }

// PeerKeyLocation pairs a peer with its location, which is unknown until
// learned through the join protocol.
type PeerKeyLocation struct {
	Peer     PeerId
	Location *Location
}

// HasLocation reports whether the location has been learned.
func (pl PeerKeyLocation) HasLocation() bool { return pl.Location != nil }

func (pl PeerKeyLocation) String() string {
	if pl.Location == nil {
		return fmt.Sprintf("%s@?", pl.Peer)
	}
	return fmt.Sprintf("%s@%s", pl.Peer, pl.Location)
}

// Equal compares peer and location value, not pointer identity.
func (pl PeerKeyLocation) Equal(other PeerKeyLocation) bool {
	if pl.Peer != other.Peer {
		return false
	}
	if pl.HasLocation() != other.HasLocation() {
		return false
	}
	if pl.HasLocation() && *pl.Location != *other.Location {
		return false
	}
	return true
}

// withLocation returns a copy of pl with the given location attached.
func (pl PeerKeyLocation) withLocation(loc Location) PeerKeyLocation {
	l := loc
	return PeerKeyLocation{Peer: pl.Peer, Location: &l}
}
