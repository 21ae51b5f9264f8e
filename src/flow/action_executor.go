package flow

import (
	"fmt"

	"github.com/mosaicnetworks/notarium/src/common"
)

type actionExecutor struct {
	m *Manager
}

// Execute implements ActionExecutor. Actions run in the order the
// transition lists them, which puts PersistCheckpoint before SendMessages.
func (e *actionExecutor) Execute(fiber FiberInfo, action Action) error {
	m := e.m
	switch a := action.(type) {
	case PersistCheckpoint:
		return m.store.Save(a.Checkpoint.FlowID, a.Checkpoint)

	case SendMessages:
		m.outbox.Send(a.Messages)

	case RegisterSessions:
		m.registerSessions(fiber.ID(), a.Sessions)

	case ScheduleWakeUp:
		fiber.ScheduleEvent(WakeUp{Suspension: a.Suspension}, a.At.Sub(m.clock.Now()))

	case ExecuteAsyncOperation:
		op, ok := m.registry.Operation(a.Operation)
		if !ok {
			fiber.ScheduleEvent(AsyncOperationCompletion{
				OperationID: a.OperationID,
				Err:         fmt.Errorf("unknown operation %s", a.Operation),
			}, 0)
			return nil
		}
		go func() {
			res, err := op(m.ctx, a.Payload)
			if m.ctx.Err() != nil {
				return
			}
			fiber.ScheduleEvent(AsyncOperationCompletion{
				OperationID: a.OperationID,
				Result:      res,
				Err:         err,
			}, 0)
		}()

	case ReleaseResources:
		m.release(fiber, a.Frames, a.Err)

	case RemoveCheckpoint:
		if err := m.store.Delete(a.ID); err != nil && !common.IsStore(err, common.KeyNotFound) {
			return err
		}

	case SignalFlowEnd:
		m.flowEnded(fiber.ID(), a.Result, a.Err)

	case PropagateErrors:
		for _, fe := range a.Errors {
			fiber.Logger().WithField("error_type", fe.Type).Warn(fe.Message)
		}
		m.outbox.Send(a.Messages)

	case AcknowledgeMessages:
		for _, ack := range a.Acks {
			close(ack)
		}

	default:
		return fmt.Errorf("unknown action %s", action)
	}

	return nil
}
