package core

import (
	"testing"
)

func mustLocation(t *testing.T, v float64) Location {
	t.Helper()
	loc, err := NewLocation(v)
	if err != nil {
		t.Fatalf("NewLocation(%v): %v", v, err)
	}
	return loc
}

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	data := EncodeMessage(m)
	got, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	return got
}

func TestCodecRoundTripInitialJoinRequest(t *testing.T) {
	tx := NewTransaction(TxJoinRing)
	loc := mustLocation(t, 0.25)
	req := ReqMsg{
		ID: tx,
		Msg: InitialJoinRequest{
			TargetLoc:     PeerKeyLocation{Peer: "gateway-1", Location: &loc},
			ReqPeer:       "joiner-1",
			HopsToLive:    10,
			MaxHopsToLive: 10,
		},
	}

	got, ok := roundTrip(t, req).(ReqMsg)
	if !ok {
		t.Fatalf("expected ReqMsg, got %T", got)
	}
	if !got.ID.Equal(tx) {
		t.Fatalf("transaction mismatch: %v vs %v", got.ID, tx)
	}
	inner, ok := got.Msg.(InitialJoinRequest)
	if !ok {
		t.Fatalf("expected InitialJoinRequest, got %T", got.Msg)
	}
	if inner.ReqPeer != "joiner-1" || inner.HopsToLive != 10 || inner.MaxHopsToLive != 10 {
		t.Fatalf("unexpected payload: %+v", inner)
	}
	if !inner.TargetLoc.Equal(req.Msg.(InitialJoinRequest).TargetLoc) {
		t.Fatalf("target location mismatch: %+v", inner.TargetLoc)
	}
}

func TestCodecRoundTripProxyJoinRequest(t *testing.T) {
	tx := NewTransaction(TxJoinRing)
	loc := mustLocation(t, 0.9)
	req := ReqMsg{
		ID:  tx,
		Msg: ProxyJoinRequest{Joiner: PeerKeyLocation{Peer: "joiner-2", Location: &loc}, HopsToLive: 3},
	}
	got := roundTrip(t, req).(ReqMsg)
	inner := got.Msg.(ProxyJoinRequest)
	if inner.HopsToLive != 3 || inner.Joiner.Peer != "joiner-2" {
		t.Fatalf("unexpected payload: %+v", inner)
	}
}

func TestCodecRoundTripInitialJoinResponse(t *testing.T) {
	tx := NewTransaction(TxJoinRing)
	loc1 := mustLocation(t, 0.1)
	loc2 := mustLocation(t, 0.2)
	yourLoc := mustLocation(t, 0.5)
	resp := RespMsg{
		ID:     tx,
		Sender: PeerKeyLocation{Peer: "gateway-1", Location: &loc1},
		Msg: InitialJoinResponse{
			AcceptedBy:   []PeerKeyLocation{{Peer: "a", Location: &loc1}, {Peer: "b", Location: &loc2}},
			YourLocation: yourLoc,
			YourPeerId:   "joiner-1",
		},
	}
	got := roundTrip(t, resp).(RespMsg)
	inner := got.Msg.(InitialJoinResponse)
	if len(inner.AcceptedBy) != 2 {
		t.Fatalf("expected 2 acceptors, got %d", len(inner.AcceptedBy))
	}
	if inner.YourLocation != yourLoc || inner.YourPeerId != "joiner-1" {
		t.Fatalf("unexpected payload: %+v", inner)
	}
}

func TestCodecRoundTripConnectedAndCanceled(t *testing.T) {
	tx := NewTransaction(TxJoinRing)

	got := roundTrip(t, ConnectedMsg{ID: tx})
	if _, ok := got.(ConnectedMsg); !ok {
		t.Fatalf("expected ConnectedMsg, got %T", got)
	}

	got = roundTrip(t, CanceledMsg{ID: tx})
	if _, ok := got.(CanceledMsg); !ok {
		t.Fatalf("expected CanceledMsg, got %T", got)
	}
}

func TestCodecRoundTripNoLocation(t *testing.T) {
	tx := NewTransaction(TxJoinRing)
	req := ReqMsg{
		ID: tx,
		Msg: InitialJoinRequest{
			TargetLoc:     PeerKeyLocation{Peer: "gateway-1"},
			ReqPeer:       "joiner-1",
			HopsToLive:    5,
			MaxHopsToLive: 10,
		},
	}
	got := roundTrip(t, req).(ReqMsg)
	inner := got.Msg.(InitialJoinRequest)
	if inner.TargetLoc.HasLocation() {
		t.Fatalf("expected no location to round-trip as absent, got %+v", inner.TargetLoc)
	}
}

func TestDecodeMessageRejectsTruncatedInput(t *testing.T) {
	tx := NewTransaction(TxJoinRing)
	data := EncodeMessage(ConnectedMsg{ID: tx})
	_, err := DecodeMessage(data[:len(data)-1])
	if err == nil {
		t.Fatalf("expected error decoding truncated message")
	}
}

func TestDecodeMessageRejectsUnknownTag(t *testing.T) {
	tx := NewTransaction(TxJoinRing)
	data := EncodeMessage(ConnectedMsg{ID: tx})
	data[len(data)-1] = 0xFF
	_, err := DecodeMessage(data)
	if err == nil {
		t.Fatalf("expected error decoding unknown tag")
	}
}
