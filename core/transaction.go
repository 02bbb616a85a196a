package core

import (
	"github.com/google/uuid"
)

// TransactionType tags the protocol an operation belongs to. JoinRing is the
// only variant in scope for this module (spec.md §3); additional protocols
// extend this set rather than requiring dynamic dispatch (spec.md §9).
type TransactionType uint8

const (
	TxJoinRing TransactionType = iota
)

func (t TransactionType) String() string {
	switch t {
	case TxJoinRing:
		return "JoinRing"
	default:
		return "Unknown"
	}
}

// Transaction identifies one in-flight operation. It is created once by the
// initiator and carried unchanged by every message belonging to that
// operation; it is never reused across operations.
type Transaction struct {
	ID   uuid.UUID
	Type TransactionType
}

// NewTransaction mints a fresh transaction id for the given protocol type.
func NewTransaction(t TransactionType) Transaction {
	return Transaction{ID: uuid.New(), Type: t}
}

func (t Transaction) String() string { return t.ID.String() + ":" + t.Type.String() }

func (t Transaction) Equal(other Transaction) bool {
	return t.ID == other.ID && t.Type == other.Type
}
