package pipeline

import (
	"sync"

	"github.com/mosaicnetworks/notarium/src/flow"
)

// HospitalisingInterceptor tells a flow.Hospital when flows become errored
// and when they recover. The ward is shared by every fiber, so each edge is
// reported exactly once even when flows run concurrently.
type HospitalisingInterceptor struct {
	hospital flow.Hospital
	ward     sync.Map
}

// NewHospitalising ...
func NewHospitalising(hospital flow.Hospital) *HospitalisingInterceptor {
	return &HospitalisingInterceptor{hospital: hospital}
}

// Hospitalising returns the interceptor of a new HospitalisingInterceptor.
func Hospitalising(hospital flow.Hospital) flow.Interceptor {
	return NewHospitalising(hospital).Interceptor()
}

// InWard reports whether a flow is currently errored.
func (h *HospitalisingInterceptor) InWard(id flow.FlowID) bool {
	_, ok := h.ward.Load(id)
	return ok
}

// Interceptor ...
func (h *HospitalisingInterceptor) Interceptor() flow.Interceptor {
	return func(next flow.TransitionExecutor) flow.TransitionExecutor {
		return flow.TransitionExecutorFunc(func(
			fiber flow.FiberInfo,
			previous *flow.StateMachineState,
			event flow.Event,
			transition flow.TransitionResult,
			actions flow.ActionExecutor,
		) (flow.Continuation, *flow.StateMachineState, error) {
			cont, nextState, err := next.ExecuteTransition(fiber, previous, event, transition, actions)
			if nextState == nil {
				return cont, nextState, err
			}

			id := fiber.ID()
			switch {
			case nextState.IsRemoved:
				h.ward.Delete(id)
				h.hospital.FlowRemoved(id)
			case !previous.IsErrored() && nextState.IsErrored():
				if _, loaded := h.ward.LoadOrStore(id, struct{}{}); !loaded {
					h.hospital.FlowErrored(fiber, nextState.Checkpoint.ErrorState.Errors)
				}
			case previous.IsErrored() && !nextState.IsErrored():
				if _, loaded := h.ward.LoadAndDelete(id); loaded {
					h.hospital.FlowCleaned(id)
				}
			}

			return cont, nextState, err
		})
	}
}
