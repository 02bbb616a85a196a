package core

import (
	"testing"
	"time"
)

func TestOCTrackerTracksUntilAcked(t *testing.T) {
	tr := NewOCTracker(100*time.Millisecond, time.Second)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tx := NewTransaction(TxJoinRing)

	tr.Track(tx, "G", RespMsg{ID: tx, Msg: ReceivedOCResponse{}}, base)

	due, expired := tr.Tick(base)
	if len(due) != 0 || len(expired) != 0 {
		t.Fatalf("expected nothing due immediately after Track, got due=%v expired=%v", due, expired)
	}

	tr.Ack(tx, "G")
	due, expired = tr.Tick(base.Add(2 * time.Second))
	if len(due) != 0 || len(expired) != 0 {
		t.Fatalf("expected acked connection to produce nothing on a later tick, got due=%v expired=%v", due, expired)
	}
}

func TestOCTrackerRetriesAfterInterval(t *testing.T) {
	tr := NewOCTracker(100*time.Millisecond, time.Second)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tx := NewTransaction(TxJoinRing)
	tr.Track(tx, "G", RespMsg{ID: tx, Msg: ReceivedOCResponse{}}, base)

	due, expired := tr.Tick(base.Add(150 * time.Millisecond))
	if len(expired) != 0 {
		t.Fatalf("expected no expiry before the deadline, got %v", expired)
	}
	if len(due) != 1 || due[0].Dest != "G" || !due[0].Tx.Equal(tx) {
		t.Fatalf("expected a retry for G, got %v", due)
	}

	// immediately re-ticking should not re-fire: lastSent was just bumped.
	due, _ = tr.Tick(base.Add(160 * time.Millisecond))
	if len(due) != 0 {
		t.Fatalf("expected no retry before the next interval, got %v", due)
	}
}

func TestOCTrackerExpiresAfterDeadline(t *testing.T) {
	tr := NewOCTracker(100*time.Millisecond, time.Second)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tx := NewTransaction(TxJoinRing)
	tr.Track(tx, "G", RespMsg{ID: tx, Msg: ReceivedOCResponse{}}, base)

	_, expired := tr.Tick(base.Add(2 * time.Second))
	if len(expired) != 1 || expired[0].Dest != "G" {
		t.Fatalf("expected G to expire, got %v", expired)
	}

	// the entry is gone: a later tick produces nothing further for it.
	due, expired := tr.Tick(base.Add(3 * time.Second))
	if len(due) != 0 || len(expired) != 0 {
		t.Fatalf("expected an already-expired entry to be gone, got due=%v expired=%v", due, expired)
	}
}

func TestOCTrackerSiblingsIndependent(t *testing.T) {
	tr := NewOCTracker(100*time.Millisecond, time.Second)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tx := NewTransaction(TxJoinRing)
	tr.Track(tx, "G", RespMsg{ID: tx, Msg: ReceivedOCResponse{}}, base)
	tr.Track(tx, "N", RespMsg{ID: tx, Msg: ReceivedOCResponse{}}, base)

	tr.Ack(tx, "G")
	_, expired := tr.Tick(base.Add(2 * time.Second))
	if len(expired) != 1 || expired[0].Dest != "N" {
		t.Fatalf("expected only N to expire, got %v", expired)
	}
}
