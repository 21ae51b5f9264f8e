package pipeline

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mosaicnetworks/notarium/src/flow"
	"github.com/sirupsen/logrus"
)

// Record is one executed transition.
type Record struct {
	Time         time.Time
	Event        string
	Actions      []string
	Continuation string
	From         string
	To           string
	Error        string
}

type records struct {
	sync.Mutex
	items []Record
}

// History keeps the last transitions of recently active flows, and logs
// them when a flow becomes errored.
type History struct {
	perFlow int
	cache   *lru.Cache[flow.FlowID, *records]
	mu      sync.Mutex
}

// NewHistory keeps perFlow records for at most flows flows.
func NewHistory(flows, perFlow int) (*History, error) {
	cache, err := lru.New[flow.FlowID, *records](flows)
	if err != nil {
		return nil, err
	}
	return &History{
		perFlow: perFlow,
		cache:   cache,
	}, nil
}

// Records returns the history of a flow, oldest first.
func (h *History) Records(id flow.FlowID) []Record {
	r, ok := h.cache.Peek(id)
	if !ok {
		return nil
	}
	r.Lock()
	defer r.Unlock()
	return append([]Record(nil), r.items...)
}

func (h *History) add(id flow.FlowID, rec Record) []Record {
	h.mu.Lock()
	r, ok := h.cache.Get(id)
	if !ok {
		r = &records{}
		h.cache.Add(id, r)
	}
	h.mu.Unlock()

	r.Lock()
	defer r.Unlock()
	r.items = append(r.items, rec)
	if len(r.items) > h.perFlow {
		r.items = r.items[len(r.items)-h.perFlow:]
	}
	return append([]Record(nil), r.items...)
}

// Interceptor ...
func (h *History) Interceptor() flow.Interceptor {
	return func(next flow.TransitionExecutor) flow.TransitionExecutor {
		return flow.TransitionExecutorFunc(func(
			fiber flow.FiberInfo,
			previous *flow.StateMachineState,
			event flow.Event,
			transition flow.TransitionResult,
			actions flow.ActionExecutor,
		) (flow.Continuation, *flow.StateMachineState, error) {
			cont, nextState, err := next.ExecuteTransition(fiber, previous, event, transition, actions)

			rec := Record{
				Time:         time.Now(),
				Event:        event.String(),
				Actions:      actionNames(transition.Actions),
				Continuation: continuationName(cont),
				From:         previous.Checkpoint.Status.String(),
			}
			if nextState != nil {
				rec.To = nextState.Checkpoint.Status.String()
			}
			if err != nil {
				rec.Error = err.Error()
			}

			history := h.add(fiber.ID(), rec)

			if !previous.IsErrored() && nextState.IsErrored() {
				dump(fiber.Logger(), history)
			}

			return cont, nextState, err
		})
	}
}

func dump(logger *logrus.Entry, history []Record) {
	for i, r := range history {
		logger.WithFields(logrus.Fields{
			"step":         i,
			"event":        r.Event,
			"actions":      r.Actions,
			"continuation": r.Continuation,
			"from":         r.From,
			"to":           r.To,
			"error":        r.Error,
		}).Warn("Flow history")
	}
}
