package core

// State, StateDelta and StateSummary are opaque byte sequences whose
// meaning is defined solely by the contract code (spec.md §3). The core
// never interprets them, only passes them to the contract handler.
type (
	State        []byte
	StateDelta   []byte
	StateSummary []byte
)

// UpdateOutcome tags the result of applying a delta or a summary.
type UpdateOutcome int

const (
	ValidUpdate UpdateOutcome = iota
	ValidNoChange
	Invalid
)

func (o UpdateOutcome) String() string {
	switch o {
	case ValidUpdate:
		return "ValidUpdate"
	case ValidNoChange:
		return "ValidNoChange"
	case Invalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// UpdateResult carries an UpdateOutcome and, for ValidUpdate, the new state.
type UpdateResult struct {
	Outcome  UpdateOutcome
	NewState State
}

// ContractInterface is the update algebra a contract handler exposes
// (spec.md §4.2). Implementations are pure with respect to their inputs:
// same parameters/state/delta, same result on any peer. The core invokes
// this interface through a handler obtained out of band (the WASM runtime
// that actually executes contract code is out of scope, per spec.md §1);
// tests in this module use small in-memory fakes that satisfy it.
type ContractInterface interface {
	ValidateState(parameters []byte, state State) bool
	ValidateDelta(parameters []byte, delta StateDelta) bool
	UpdateState(parameters []byte, state State, delta StateDelta) (UpdateResult, error)
	SummarizeState(parameters []byte, state State) StateSummary
	GetStateDelta(parameters []byte, state State, otherSummary StateSummary) StateDelta
	UpdateStateFromSummary(parameters []byte, state State, summary StateSummary) (UpdateResult, error)
}
