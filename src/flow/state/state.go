package state

import (
	"sync/atomic"
)

// State captures the lifecycle of a flow: Created, Running, Suspended,
// Completed, Errored or Removed.
type State uint32

const (
	// Created is the state of a flow that has a checkpoint but has not run
	// any of its logic yet.
	Created State = iota

	// Running is the state in which the flow logic is executing between two
	// suspension points.
	Running

	// Suspended is the state in which a flow waits for messages, a timer or
	// an asynchronous operation. Its checkpoint is durable.
	Suspended

	// Completed is the state of a flow whose top-level logic returned a
	// result.
	Completed

	// Errored is the state of a flow whose logic failed. The flow stays in
	// the hospital until it is retried from its last safe point or removed.
	Errored

	// Removed is the state of a flow that was killed or gave up after an
	// error. Its checkpoint is deleted.
	Removed
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Running:
		return "Running"
	case Suspended:
		return "Suspended"
	case Completed:
		return "Completed"
	case Errored:
		return "Errored"
	case Removed:
		return "Removed"
	default:
		return "Unknown"
	}
}

// IsTerminal is true for states a flow never leaves.
func (s State) IsTerminal() bool {
	return s == Completed || s == Removed
}

// Manager wraps a State with atomic get and set methods.
type Manager struct {
	state State
}

// GetState returns the current state.
func (b *Manager) GetState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

// SetState sets the state.
func (b *Manager) SetState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// CompareAndSet moves the state from old to next and reports whether it did.
func (b *Manager) CompareAndSet(old, next State) bool {
	stateAddr := (*uint32)(&b.state)
	return atomic.CompareAndSwapUint32(stateAddr, uint32(old), uint32(next))
}
