package core

import "github.com/benbjohnson/clock"

// Clock abstracts wall-clock time so the join operation's retry/deadline
// logic (spec.md §4.5.5, §5) can be driven by a fake clock in tests instead
// of real time. github.com/benbjohnson/clock already rode in as an indirect
// dependency of the libp2p transport stack; this promotes it to a direct,
// named collaborator rather than hand-rolling an equivalent interface.
type Clock = clock.Clock

// NewClock returns the real, wall-clock backed implementation.
func NewClock() Clock { return clock.New() }

// NewMockClock returns a controllable clock for deterministic tests.
func NewMockClock() *clock.Mock { return clock.NewMock() }
