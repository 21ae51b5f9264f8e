package node

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a node: Initialising, Running, Suspended or
// Shutdown.
type State uint32

const (
	// Initialising is the state of a node until its flows are restored.
	Initialising State = iota
	// Running ...
	Running
	// Suspended refuses new work but keeps the flows it has.
	Suspended
	// Shutdown is shutdown
	Shutdown
)

// String ...
func (s State) String() string {
	switch s {
	case Initialising:
		return "Initialising"
	case Running:
		return "Running"
	case Suspended:
		return "Suspended"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

type state struct {
	state State
	wg    sync.WaitGroup
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

func (b *state) waitRoutines() {
	b.wg.Wait()
}
