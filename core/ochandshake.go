package core

import (
	"sync"
	"time"
)

// ochandshake.go tracks the per-connection retry/deadline bookkeeping for
// the OC three-way handshake (spec.md §4.5.5): the joiner resends
// ReceivedOC at a fixed interval until Connected is observed or the
// per-connection deadline expires, at which point that one connection
// (and only that one) is abandoned.

// DefaultOCRetryInterval is the design default retransmission interval
// (spec.md §4.5.5).
const DefaultOCRetryInterval = 200 * time.Millisecond

// DefaultOCDeadline is the design default per-connection timeout
// (spec.md §4.5.5).
const DefaultOCDeadline = 30 * time.Second

type ocPending struct {
	msg      Message
	deadline time.Time
	lastSent time.Time
	sentAt   time.Time
}

// OCTracker is owned by the dispatcher goroutine, same single-writer
// discipline as OpStorage (spec.md §5); it needs no locking of its own,
// but embeds a mutex so tests can inspect it from another goroutine
// without racing a running dispatcher.
type OCTracker struct {
	mu       sync.Mutex
	interval time.Duration
	deadline time.Duration
	byTx     map[Transaction]map[PeerId]*ocPending
}

// NewOCTracker builds a tracker using the given retry interval and
// per-connection deadline; zero values fall back to the design defaults.
func NewOCTracker(interval, deadline time.Duration) *OCTracker {
	if interval <= 0 {
		interval = DefaultOCRetryInterval
	}
	if deadline <= 0 {
		deadline = DefaultOCDeadline
	}
	return &OCTracker{interval: interval, deadline: deadline, byTx: make(map[Transaction]map[PeerId]*ocPending)}
}

// Track registers a freshly sent ReceivedOC so it can be retried or timed
// out later.
func (t *OCTracker) Track(tx Transaction, dest PeerId, msg Message, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	peers, ok := t.byTx[tx]
	if !ok {
		peers = make(map[PeerId]*ocPending)
		t.byTx[tx] = peers
	}
	peers[dest] = &ocPending{msg: msg, deadline: now.Add(t.deadline), lastSent: now, sentAt: now}
}

// Ack removes dest's pending handshake for tx once Connected is observed,
// returning the time the handshake was first tracked so the caller can
// compute its round-trip time (SPEC_FULL.md §4.4: the only measured
// latency this protocol produces, fed to the router as a RoutingEvent).
// The second return value is false if no such handshake was pending.
func (t *OCTracker) Ack(tx Transaction, dest PeerId) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	peers, ok := t.byTx[tx]
	if !ok {
		return time.Time{}, false
	}
	p, ok := peers[dest]
	if !ok {
		return time.Time{}, false
	}
	delete(peers, dest)
	if len(peers) == 0 {
		delete(t.byTx, tx)
	}
	return p.sentAt, true
}

// OCDue is one connection that needs its ReceivedOC resent.
type OCDue struct {
	Tx   Transaction
	Dest PeerId
	Msg  Message
}

// OCExpired is one connection whose per-connection deadline has passed.
type OCExpired struct {
	Tx   Transaction
	Dest PeerId
}

// Tick advances the tracker's clock view, returning the handshakes due a
// retry and those that have expired (and are removed as a side effect).
// Expiry never touches sibling connections under the same transaction
// (spec.md §4.5.6: "other acceptors are independent").
func (t *OCTracker) Tick(now time.Time) ([]OCDue, []OCExpired) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var due []OCDue
	var expired []OCExpired
	for tx, peers := range t.byTx {
		for dest, p := range peers {
			if !now.Before(p.deadline) {
				expired = append(expired, OCExpired{Tx: tx, Dest: dest})
				delete(peers, dest)
				continue
			}
			if !now.Before(p.lastSent.Add(t.interval)) {
				due = append(due, OCDue{Tx: tx, Dest: dest, Msg: p.msg})
				p.lastSent = now
			}
		}
		if len(peers) == 0 {
			delete(t.byTx, tx)
		}
	}
	return due, expired
}
