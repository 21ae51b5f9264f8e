package flow

import (
	"context"
	"sync"
)

// FlowHandle is the future of a flow result.
type FlowHandle struct {
	ID FlowID

	once   sync.Once
	done   chan struct{}
	result []byte
	err    error
}

func newFlowHandle(id FlowID) *FlowHandle {
	return &FlowHandle{
		ID:   id,
		done: make(chan struct{}),
	}
}

func (h *FlowHandle) complete(result []byte, err error) {
	h.once.Do(func() {
		h.result = result
		h.err = err
		close(h.done)
	})
}

// Done is closed when the flow ends.
func (h *FlowHandle) Done() <-chan struct{} {
	return h.done
}

// Result waits for the flow to end.
func (h *FlowHandle) Result(ctx context.Context) ([]byte, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
