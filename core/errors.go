package core

import "errors"

// Error taxonomy per spec.md §7. Wrap these with fmt.Errorf("...: %w", ...)
// for context; callers classify with errors.Is.
var (
	// ErrProtocol covers invalid state transitions, unknown transactions and
	// malformed messages. Action: reply Canceled(tx) to the sender if known,
	// drop the operation, log at warning.
	ErrProtocol = errors.New("protocol error")

	// ErrTransport covers peer-unreachable, encode/decode failure and
	// transport timeout. Action: bubble to the operation, which decides.
	ErrTransport = errors.New("transport error")

	// ErrContract covers a validate_* returning false or update_state
	// returning Invalid. Action: reject the inducing message, do not mutate
	// state, surface as a fatal operation outcome. Never retried: the
	// algebra is deterministic.
	ErrContract = errors.New("contract error")

	// ErrInternal covers invariant violations, e.g. a terminal operation
	// receiving further input after removal from storage.
	ErrInternal = errors.New("internal error")
)

// TransportError classifies a failure surfaced by a ConnectionBridge.
type TransportError struct {
	Kind TransportErrorKind
	Peer PeerId
	Err  error
}

type TransportErrorKind int

const (
	PeerUnreachable TransportErrorKind = iota
	EncodingError
	Timeout
)

func (k TransportErrorKind) String() string {
	switch k {
	case PeerUnreachable:
		return "PeerUnreachable"
	case EncodingError:
		return "EncodingError"
	case Timeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return e.Kind.String() + " (" + string(e.Peer) + "): " + e.Err.Error()
	}
	return e.Kind.String() + " (" + string(e.Peer) + ")"
}

func (e *TransportError) Unwrap() error { return ErrTransport }
