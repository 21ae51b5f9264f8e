package flow

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mosaicnetworks/notarium/src/flow/state"
	"github.com/sirupsen/logrus"
)

// fiber runs one flow. Events are queued in order and processed by at most
// one worker at a time.
type fiber struct {
	id      FlowID
	name    string
	manager *Manager
	logger  *logrus.Entry

	mu        sync.Mutex
	queue     []Event
	scheduled bool
	aborted   bool
	info      FlowInfo

	status state.Manager

	// only touched by the worker that runs the fiber
	state *StateMachineState
}

func newFiber(m *Manager, cp *Checkpoint, safePoint *Checkpoint) *fiber {
	f := &fiber{
		id:      cp.FlowID,
		name:    cp.FlowName,
		manager: m,
		logger: m.logger.WithFields(logrus.Fields{
			"flow_id": cp.FlowID,
			"flow":    cp.FlowName,
		}),
		state: &StateMachineState{
			Checkpoint: cp,
			SafePoint:  safePoint,
		},
	}
	f.status.SetState(cp.Status)
	f.info = infoOf(cp)
	return f
}

// ID implements FiberInfo.
func (f *fiber) ID() FlowID {
	return f.id
}

// FlowName implements FiberInfo.
func (f *fiber) FlowName() string {
	return f.name
}

// Logger implements FiberInfo.
func (f *fiber) Logger() *logrus.Entry {
	return f.logger
}

// ScheduleEvent implements FiberInfo.
func (f *fiber) ScheduleEvent(e Event, delay time.Duration) {
	if delay <= 0 {
		f.enqueue(e)
		return
	}
	time.AfterFunc(delay, func() {
		f.enqueue(e)
	})
}

func (f *fiber) enqueue(e Event) {
	f.mu.Lock()
	if f.aborted {
		removed := f.status.GetState().IsTerminal()
		f.mu.Unlock()
		release([]Event{e}, removed)
		return
	}
	f.queue = append(f.queue, e)
	if f.scheduled {
		f.mu.Unlock()
		return
	}
	f.scheduled = true
	f.mu.Unlock()

	f.manager.pool.Submit(f.run)
}

func (f *fiber) run() {
	for {
		f.mu.Lock()
		if f.aborted || len(f.queue) == 0 {
			pending := f.queue
			f.queue = nil
			f.scheduled = false
			removed := f.status.GetState().IsTerminal()
			f.mu.Unlock()
			release(pending, removed)
			return
		}
		e := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()

		f.process(e)
	}
}

// stop aborts the fiber without touching its checkpoint.
func (f *fiber) stop() {
	f.mu.Lock()
	f.aborted = true
	f.mu.Unlock()
}

// release acknowledges the messages of events that will never be processed
// when the flow is gone. Otherwise the acknowledgements are withheld and the
// senders redeliver to the restored flow.
func release(events []Event, ack bool) {
	if !ack {
		return
	}
	for _, e := range events {
		switch ev := e.(type) {
		case Start:
			if ev.Ack != nil {
				close(ev.Ack)
			}
		case DeliverSessionMessage:
			if ev.Ack != nil {
				close(ev.Ack)
			}
		}
	}
}

func (f *fiber) process(event Event) {
	m := f.manager
	for event != nil {
		previous := f.state
		transition := Transition(previous, event, m.clock.Now())

		cont, next, err := m.executor.ExecuteTransition(f, previous, event, transition, m.actions)
		if err != nil {
			f.logger.WithError(err).WithField("event", event.String()).Error("Transition failed")
		}
		if next == nil {
			next = previous
		}
		f.state = next
		f.status.SetState(next.Checkpoint.Status)

		f.mu.Lock()
		f.info = infoOf(next.Checkpoint)
		f.mu.Unlock()

		switch c := cont.(type) {
		case Resume:
			event = f.runLogic(c.Input)
		case Abort:
			f.stop()
			return
		default:
			event = nil
		}
	}
}

// runLogic runs the logic on top of the stack until it suspends, and returns
// the event describing the outcome. Subflow returns are handled here without
// a checkpoint.
func (f *fiber) runLogic(in Input) Event {
	m := f.manager
	cp := f.state.Checkpoint

	frames := append([]Frame(nil), cp.Frames...)
	sessions := make(map[SessionID]*SessionState, len(cp.Sessions))
	for id, s := range cp.Sessions {
		sessions[id] = s.clone()
	}

	if len(frames) == 0 {
		return Error{Err: errors.New("flow has no logic")}
	}

	logic, err := m.registry.Decode(frames[len(frames)-1])
	if err != nil {
		return Error{Err: err}
	}

	fc := &Context{
		id:       f.id,
		me:       m.me,
		sessions: sessions,
		services: m.services,
		logger:   f.logger,
	}

	for {
		fc.flowName = frames[len(frames)-1].Name

		susp, flowErr := resume(logic, fc, in)
		if flowErr != nil {
			if len(frames) == 1 {
				return Error{Err: flowErr}
			}
			frames = frames[:len(frames)-1]
			if logic, err = m.registry.Decode(frames[len(frames)-1]); err != nil {
				return Error{Err: err}
			}
			in = Input{Kind: InputSubFlowReturned, Err: flowErr}
			continue
		}

		switch s := susp.(type) {
		case Done:
			if len(frames) == 1 {
				return FlowFinish{Sessions: sessions, Result: s.Result}
			}
			frames = frames[:len(frames)-1]
			if logic, err = m.registry.Decode(frames[len(frames)-1]); err != nil {
				return Error{Err: err}
			}
			in = Input{Kind: InputSubFlowReturned, SubFlowResult: s.Result}
			continue
		case Call:
			top, err := m.registry.Encode(logic)
			if err != nil {
				return Error{Err: err}
			}
			sub, err := m.registry.Encode(s.SubFlow)
			if err != nil {
				return Error{Err: err}
			}
			frames[len(frames)-1] = top
			frames = append(frames, sub)
			return Suspend{Frames: frames, Sessions: sessions, Suspension: s}
		default:
			if err := checkSessions(s, sessions); err != nil {
				return Error{Err: err}
			}
			top, err := m.registry.Encode(logic)
			if err != nil {
				return Error{Err: err}
			}
			frames[len(frames)-1] = top
			return Suspend{Frames: frames, Sessions: sessions, Suspension: s}
		}
	}
}

func resume(l Logic, fc *Context, in Input) (s Suspension, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("flow %s panicked: %v", fc.flowName, r)
		}
	}()

	s, err = l.Resume(fc, in)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("flow %s returned no suspension", fc.flowName)
	}
	return normalize(s), nil
}

func normalize(s Suspension) Suspension {
	switch v := s.(type) {
	case *Send:
		return *v
	case *Receive:
		return *v
	case *SendAndReceive:
		return *v
	case *Sleep:
		return *v
	case *Call:
		return *v
	case *Await:
		return *v
	case *Done:
		return *v
	}
	return s
}

func checkSessions(s Suspension, sessions map[SessionID]*SessionState) error {
	var ids []SessionID
	switch v := s.(type) {
	case Send:
		for _, m := range v.Messages {
			ids = append(ids, m.Session)
		}
	case Receive:
		ids = v.Sessions
	case SendAndReceive:
		ids = []SessionID{v.Session}
	}
	for _, id := range ids {
		if _, ok := sessions[id]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSession, id)
		}
	}
	return nil
}

// FlowInfo summarises a running flow.
type FlowInfo struct {
	ID          FlowID
	Name        string
	Status      string
	Suspension  string
	Suspensions int
	Sessions    int
	Errors      []FlowError
	Timestamp   time.Time
}

func infoOf(cp *Checkpoint) FlowInfo {
	return FlowInfo{
		ID:          cp.FlowID,
		Name:        cp.FlowName,
		Status:      cp.Status.String(),
		Suspension:  cp.Suspension.Kind.String(),
		Suspensions: cp.NumberOfSuspensions,
		Sessions:    len(cp.Sessions),
		Errors:      append([]FlowError(nil), cp.ErrorState.Errors...),
		Timestamp:   cp.Timestamp,
	}
}
