package pipeline

import (
	"time"

	"github.com/mosaicnetworks/notarium/src/flow"
	"github.com/sirupsen/logrus"
)

// Logging logs every transition at debug level, and failed ones at error
// level.
func Logging() flow.Interceptor {
	return func(next flow.TransitionExecutor) flow.TransitionExecutor {
		return flow.TransitionExecutorFunc(func(
			fiber flow.FiberInfo,
			previous *flow.StateMachineState,
			event flow.Event,
			transition flow.TransitionResult,
			actions flow.ActionExecutor,
		) (flow.Continuation, *flow.StateMachineState, error) {
			start := time.Now()
			cont, nextState, err := next.ExecuteTransition(fiber, previous, event, transition, actions)

			fields := logrus.Fields{
				"event":        event.String(),
				"actions":      actionNames(transition.Actions),
				"continuation": continuationName(cont),
				"from":         previous.Checkpoint.Status.String(),
				"duration":     time.Since(start),
			}
			if nextState != nil {
				fields["to"] = nextState.Checkpoint.Status.String()
			}

			logger := fiber.Logger().WithFields(fields)
			if err != nil {
				logger.WithError(err).Error("Transition")
			} else {
				logger.Debug("Transition")
			}

			return cont, nextState, err
		})
	}
}

func actionNames(actions []flow.Action) []string {
	res := make([]string, len(actions))
	for i, a := range actions {
		res[i] = a.String()
	}
	return res
}

func continuationName(c flow.Continuation) string {
	if c == nil {
		return ""
	}
	return c.String()
}
