package core

// operation.go implements the Operation/OperationResult contract from
// spec.md §4.6. Operation is presently a closed sum of one variant
// (join-ring); new protocols extend it by adding a case here and to
// UpdateState, never by introducing dynamic dispatch (spec.md §9).

// Operation is one in-flight protocol instance, identified by its
// Transaction and carrying the pure state UpdateState advances.
type Operation struct {
	Tx    Transaction
	State JRState
}

// OperationResult is the dispatcher-facing summary of applying one event
// to an Operation: spec.md §4.6's four-way return_msg/state combination.
type OperationResult struct {
	Dest      PeerId
	HasDest   bool
	Msg       Message
	HasMsg    bool
	NextState JRState
	// Terminate is true when the operation should be removed from
	// OpStorage: either it reached a terminal state or failed fatally.
	Terminate bool
	// OK is false when the input was a protocol error from the prior
	// state (spec.md §4.5.2): the dispatcher still replies Canceled and
	// terminates, but must not treat this as a legitimate transition for
	// Ring/ConnectionBridge side effects.
	OK bool
}

// UpdateState feeds ev through the join-ring state machine and translates
// the result into the four cases spec.md §4.6 enumerates. A failed
// transition (protocol error) replies Canceled to the sender and
// terminates the operation, per spec.md §4.5.2 and §7.
func UpdateState(tx Transaction, state JRState, ev JoinRingEvent) OperationResult {
	next, dest, msg, ok := stepJoinRing(state, ev)
	if !ok {
		return OperationResult{
			Dest: ev.Sender, HasDest: ev.Sender != "",
			Msg: CanceledMsg{ID: tx}, HasMsg: true,
			Terminate: true,
		}
	}

	result := OperationResult{NextState: next, OK: true}
	if dest != "" {
		result.Dest, result.HasDest = dest, true
	}
	if msg != nil {
		result.Msg, result.HasMsg = msg, true
	}
	result.Terminate = isTerminalState(next)
	return result
}

// isTerminalState reports whether s should be removed from OpStorage
// rather than stored for the next event: either there is no next state,
// or it is the absorbing Connected state (spec.md §8's invariant that no
// live operation is ever observed in the Connected state).
func isTerminalState(s JRState) bool {
	if s == nil {
		return true
	}
	_, connected := s.(JRConnected)
	return connected
}
