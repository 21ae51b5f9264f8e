package flow

import (
	"fmt"
	"time"

	"github.com/mosaicnetworks/notarium/src/flow/state"
	"github.com/sirupsen/logrus"
)

// FiberInfo is what executors and interceptors may know and do about the
// flow whose transition they execute.
type FiberInfo interface {
	ID() FlowID
	FlowName() string
	Logger() *logrus.Entry
	// ScheduleEvent queues an event for the flow after delay.
	ScheduleEvent(e Event, delay time.Duration)
}

// ActionExecutor performs the side effect of one action.
type ActionExecutor interface {
	Execute(fiber FiberInfo, action Action) error
}

// TransitionExecutor executes the actions of a transition and returns the
// continuation and the state the fiber carries on with.
type TransitionExecutor interface {
	ExecuteTransition(
		fiber FiberInfo,
		previous *StateMachineState,
		event Event,
		transition TransitionResult,
		actions ActionExecutor,
	) (Continuation, *StateMachineState, error)
}

// TransitionExecutorFunc adapts a function to TransitionExecutor.
type TransitionExecutorFunc func(
	fiber FiberInfo,
	previous *StateMachineState,
	event Event,
	transition TransitionResult,
	actions ActionExecutor,
) (Continuation, *StateMachineState, error)

// ExecuteTransition implements TransitionExecutor.
func (f TransitionExecutorFunc) ExecuteTransition(
	fiber FiberInfo,
	previous *StateMachineState,
	event Event,
	transition TransitionResult,
	actions ActionExecutor,
) (Continuation, *StateMachineState, error) {
	return f(fiber, previous, event, transition, actions)
}

// Interceptor decorates a TransitionExecutor.
type Interceptor func(TransitionExecutor) TransitionExecutor

// Chain wraps base with the interceptors. The first interceptor is the
// outermost one: it sees every transition first and its result last.
func Chain(base TransitionExecutor, interceptors ...Interceptor) TransitionExecutor {
	res := base
	for i := len(interceptors) - 1; i >= 0; i-- {
		res = interceptors[i](res)
	}
	return res
}

type transitionExecutor struct{}

// NewTransitionExecutor returns the base executor. It runs the actions in
// order. When an action fails the remaining ones are skipped and the flow is
// put in an errored state on its last persisted checkpoint, with a
// retryable error.
func NewTransitionExecutor() TransitionExecutor {
	return transitionExecutor{}
}

func (transitionExecutor) ExecuteTransition(
	fiber FiberInfo,
	previous *StateMachineState,
	event Event,
	transition TransitionResult,
	actions ActionExecutor,
) (Continuation, *StateMachineState, error) {
	safePoint := previous.SafePoint

	for _, a := range transition.Actions {
		if err := actions.Execute(fiber, a); err != nil {
			err = fmt.Errorf("executing %s after %s: %w", a, event, err)
			if transition.NewState.IsRemoved {
				return Abort{}, transition.NewState, err
			}
			return ProcessEvents{}, erroredState(previous, safePoint, err), err
		}
		if p, ok := a.(PersistCheckpoint); ok {
			safePoint = p.Checkpoint
		}
	}

	return transition.Continuation, transition.NewState, nil
}

func erroredState(previous *StateMachineState, safePoint *Checkpoint, err error) *StateMachineState {
	base := safePoint
	if base == nil {
		base = previous.Checkpoint
	}
	cp := base.Clone()
	cp.ErrorState = ErrorState{
		Errored: true,
		Errors: append(append([]FlowError(nil), previous.Checkpoint.ErrorState.Errors...), FlowError{
			Type:      "TransitionError",
			Message:   err.Error(),
			Retryable: true,
		}),
	}
	cp.Status = state.Errored
	return &StateMachineState{
		Checkpoint: cp,
		SafePoint:  safePoint,
	}
}
