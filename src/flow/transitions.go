package flow

import (
	"fmt"
	"sort"
	"time"

	"github.com/mosaicnetworks/notarium/src/flow/state"
	"github.com/mosaicnetworks/notarium/src/net"
)

// StateMachineState is the in-memory state of a flow.
type StateMachineState struct {
	Checkpoint *Checkpoint
	// SafePoint is the last checkpoint handed to PersistCheckpoint. An
	// errored flow falls back to it.
	SafePoint *Checkpoint
	IsRemoved bool
}

// Clone returns a deep copy of the state.
func (s *StateMachineState) Clone() *StateMachineState {
	return &StateMachineState{
		Checkpoint: s.Checkpoint.Clone(),
		SafePoint:  s.SafePoint,
		IsRemoved:  s.IsRemoved,
	}
}

// IsErrored is true when the checkpoint carries errors.
func (s *StateMachineState) IsErrored() bool {
	return s != nil && s.Checkpoint != nil && s.Checkpoint.ErrorState.Errored
}

// TransitionResult is the outcome of applying an event to a state.
type TransitionResult struct {
	NewState     *StateMachineState
	Actions      []Action
	Continuation Continuation
}

// Transition applies event to s. It does not modify s and has no side
// effects; everything it wants done is in the returned actions.
func Transition(s *StateMachineState, event Event, now time.Time) TransitionResult {
	b := &builder{
		state: s.Clone(),
		now:   now,
	}

	if b.state.IsRemoved {
		b.acknowledge(event)
		return b.result(ProcessEvents{})
	}

	switch ev := event.(type) {
	case Start:
		return b.start(ev)
	case DeliverSessionMessage:
		return b.deliver(ev)
	case WakeUp:
		return b.wakeUp(ev)
	case AsyncOperationCompletion:
		return b.asyncCompleted(ev)
	case Suspend:
		return b.suspend(ev)
	case FlowFinish:
		return b.finish(ev)
	case Error:
		return b.error(ev)
	case RetryFromSafePoint:
		return b.retry(ev)
	case StartErrorPropagation:
		return b.propagate()
	case Kill:
		return b.kill()
	default:
		return b.error(Error{Err: fmt.Errorf("unknown event %s", event)})
	}
}

type builder struct {
	state   *StateMachineState
	actions []Action
	now     time.Time
}

func (b *builder) cp() *Checkpoint {
	return b.state.Checkpoint
}

func (b *builder) add(actions ...Action) {
	b.actions = append(b.actions, actions...)
}

func (b *builder) result(c Continuation) TransitionResult {
	return TransitionResult{
		NewState:     b.state,
		Actions:      b.actions,
		Continuation: c,
	}
}

func (b *builder) persist() {
	cp := b.cp()
	cp.Timestamp = b.now
	snapshot := cp.Clone()
	b.state.SafePoint = snapshot
	b.add(PersistCheckpoint{Checkpoint: snapshot})
}

func (b *builder) acknowledge(event Event) {
	switch ev := event.(type) {
	case Start:
		if ev.Ack != nil {
			b.add(AcknowledgeMessages{Acks: []chan struct{}{ev.Ack}})
		}
	case DeliverSessionMessage:
		if ev.Ack != nil {
			b.add(AcknowledgeMessages{Acks: []chan struct{}{ev.Ack}})
		}
	}
}

func (b *builder) message(s *SessionState, kind net.SessionMessageKind, payload []byte, errMsg string) OutboundMessage {
	m := net.SessionMessage{
		SessionID:   string(s.ID),
		ToInitiator: !s.Initiator,
		Seq:         s.NextSendSeq,
		Kind:        kind,
		Sender:      b.cp().OurIdentity,
		Payload:     payload,
		Error:       errMsg,
	}
	if kind == net.SessionInit {
		m.FlowName = s.InitiatingFlow
	}
	s.NextSendSeq++
	return OutboundMessage{To: s.Counterparty, Message: m}
}

// initiate opens the session on the counterparty the first time the
// initiating side uses it.
func (b *builder) initiate(s *SessionState) []OutboundMessage {
	if !s.Initiator || s.Initiated {
		return nil
	}
	s.Initiated = true
	return []OutboundMessage{b.message(s, net.SessionInit, nil, "")}
}

// open returns the sessions the counterparty knows about and that are still
// open, sorted by id.
func (b *builder) open() []*SessionState {
	res := []*SessionState{}
	for _, s := range b.cp().Sessions {
		if s.Ended || s.ErrorMessage != "" {
			continue
		}
		if s.Initiator && !s.Initiated {
			continue
		}
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

func sessionKeys(sessions map[SessionID]*SessionState, only func(*SessionState) bool) []SessionKey {
	keys := []SessionKey{}
	for _, s := range sessions {
		if only != nil && !only(s) {
			continue
		}
		keys = append(keys, SessionKey{ID: s.ID, Initiator: s.Initiator})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	return keys
}

func (b *builder) start(ev Start) TransitionResult {
	cp := b.cp()
	if cp.Status != state.Created {
		b.acknowledge(ev)
		return b.result(ProcessEvents{})
	}
	cp.Status = state.Running
	b.persist()
	if keys := sessionKeys(cp.Sessions, nil); len(keys) > 0 {
		b.add(RegisterSessions{Sessions: keys})
	}
	b.acknowledge(ev)
	return b.result(Resume{Input: Input{Kind: InputStart}})
}

func (b *builder) deliver(ev DeliverSessionMessage) TransitionResult {
	cp := b.cp()
	msg := ev.Message
	s, ok := cp.Sessions[SessionID(msg.SessionID)]
	if !ok || msg.Seq <= s.LastReceivedSeq {
		b.acknowledge(ev)
		return b.result(ProcessEvents{})
	}

	s.LastReceivedSeq = msg.Seq
	switch msg.Kind {
	case net.SessionData:
		s.Inbox = append(s.Inbox, msg.Payload)
	case net.SessionEnd:
		s.Ended = true
	case net.SessionError:
		s.ErrorMessage = msg.Error
		if s.ErrorMessage == "" {
			s.ErrorMessage = "unknown error"
		}
	}

	b.persist()
	b.acknowledge(ev)

	return b.result(b.tryReceive())
}

// tryReceive resumes a flow suspended on a receive whose sessions are all
// ready.
func (b *builder) tryReceive() Continuation {
	cp := b.cp()
	if cp.Status != state.Suspended || cp.ErrorState.Errored {
		return ProcessEvents{}
	}
	req := cp.Suspension
	if req.Kind != IOReceive && req.Kind != IOSendAndReceive {
		return ProcessEvents{}
	}
	for _, id := range req.Sessions {
		s, ok := cp.Sessions[id]
		if !ok {
			cp.Status = state.Running
			return Resume{Input: Input{Kind: InputReceived, Err: ErrUnknownSession}}
		}
		if !s.ready() {
			return ProcessEvents{}
		}
	}

	in := Input{Kind: InputReceived}
	for _, id := range req.Sessions {
		s := cp.Sessions[id]
		switch {
		case len(s.Inbox) > 0:
			in.Received = append(in.Received, ReceivedMessage{Session: id, Payload: s.Inbox[0]})
			s.Inbox = s.Inbox[1:]
		case s.ErrorMessage != "":
			if in.Err == nil {
				in.Err = &CounterpartyFlowError{Session: id, Party: s.Counterparty, Message: s.ErrorMessage}
			}
		default:
			if in.Err == nil {
				in.Err = &UnexpectedFlowEndError{Session: id, Party: s.Counterparty}
			}
		}
	}
	cp.Status = state.Running
	return Resume{Input: in}
}

func (b *builder) wakeUp(ev WakeUp) TransitionResult {
	cp := b.cp()
	if cp.Status != state.Suspended || cp.ErrorState.Errored ||
		cp.Suspension.Kind != IOSleep || cp.NumberOfSuspensions != ev.Suspension {
		return b.result(ProcessEvents{})
	}
	cp.Status = state.Running
	return b.result(Resume{Input: Input{Kind: InputWoken}})
}

func (b *builder) asyncCompleted(ev AsyncOperationCompletion) TransitionResult {
	cp := b.cp()
	if cp.Status != state.Suspended || cp.ErrorState.Errored ||
		cp.Suspension.Kind != IOAwait || cp.Suspension.OperationID != ev.OperationID {
		return b.result(ProcessEvents{})
	}
	cp.Status = state.Running
	return b.result(Resume{Input: Input{
		Kind:        InputAsyncCompleted,
		AsyncResult: ev.Result,
		Err:         ev.Err,
	}})
}

func (b *builder) suspend(ev Suspend) TransitionResult {
	cp := b.cp()

	newSessions := sessionKeys(ev.Sessions, func(s *SessionState) bool {
		_, known := cp.Sessions[s.ID]
		return !known
	})

	cp.Frames = append([]Frame(nil), ev.Frames...)
	cp.Sessions = make(map[SessionID]*SessionState, len(ev.Sessions))
	for id, s := range ev.Sessions {
		cp.Sessions[id] = s.clone()
	}
	cp.NumberOfSuspensions++

	req := IORequest{Kind: ev.Suspension.kind()}
	var outbound []OutboundMessage
	send := func(id SessionID, payload []byte) {
		s := cp.Sessions[id]
		outbound = append(outbound, b.initiate(s)...)
		outbound = append(outbound, b.message(s, net.SessionData, payload, ""))
	}

	switch s := ev.Suspension.(type) {
	case Send:
		for _, m := range s.Messages {
			send(m.Session, m.Payload)
		}
	case Receive:
		req.Sessions = append([]SessionID(nil), s.Sessions...)
		for _, id := range s.Sessions {
			outbound = append(outbound, b.initiate(cp.Sessions[id])...)
		}
	case SendAndReceive:
		req.Sessions = []SessionID{s.Session}
		send(s.Session, s.Payload)
	case Sleep:
		req.WakeAt = b.now.Add(s.Duration)
	case Await:
		req.Operation = s.Operation
		req.Payload = s.Payload
		req.OperationID = fmt.Sprintf("%s:%d", cp.FlowID, cp.NumberOfSuspensions)
	}

	cp.Suspension = req
	cp.PendingMessages = outbound
	cp.Status = state.Suspended

	b.persist()
	if len(newSessions) > 0 {
		b.add(RegisterSessions{Sessions: newSessions})
	}
	if len(outbound) > 0 {
		b.add(SendMessages{Messages: outbound})
	}

	return b.result(b.arm())
}

// arm sets up whatever the pending suspension waits for.
func (b *builder) arm() Continuation {
	cp := b.cp()
	req := cp.Suspension
	switch req.Kind {
	case IONone:
		cp.Status = state.Running
		return Resume{Input: Input{Kind: InputStart}}
	case IOSend:
		cp.Status = state.Running
		return Resume{Input: Input{Kind: InputSent}}
	case IOCall:
		cp.Status = state.Running
		return Resume{Input: Input{Kind: InputStart}}
	case IOReceive, IOSendAndReceive:
		return b.tryReceive()
	case IOSleep:
		b.add(ScheduleWakeUp{At: req.WakeAt, Suspension: cp.NumberOfSuspensions})
	case IOAwait:
		b.add(ExecuteAsyncOperation{
			Operation:   req.Operation,
			OperationID: req.OperationID,
			Payload:     req.Payload,
		})
	}
	return ProcessEvents{}
}

func (b *builder) finish(ev FlowFinish) TransitionResult {
	cp := b.cp()
	cp.Sessions = make(map[SessionID]*SessionState, len(ev.Sessions))
	for id, s := range ev.Sessions {
		cp.Sessions[id] = s.clone()
	}

	var outbound []OutboundMessage
	for _, s := range b.open() {
		outbound = append(outbound, b.message(s, net.SessionEnd, nil, ""))
	}

	cp.Status = state.Completed
	b.state.IsRemoved = true

	if len(outbound) > 0 {
		b.add(SendMessages{Messages: outbound})
	}
	b.add(
		RemoveCheckpoint{ID: cp.FlowID},
		SignalFlowEnd{Result: ev.Result},
	)

	return b.result(Abort{})
}

func (b *builder) error(ev Error) TransitionResult {
	errors := append(b.cp().ErrorState.Errors, NewFlowError(ev.Err))

	if b.state.SafePoint != nil {
		b.state.Checkpoint = b.state.SafePoint.Clone()
	}
	cp := b.cp()
	cp.ErrorState = ErrorState{Errored: true, Errors: errors}
	cp.Status = state.Errored

	b.persist()

	return b.result(ProcessEvents{})
}

func (b *builder) retry(ev RetryFromSafePoint) TransitionResult {
	cp := b.cp()
	errored := cp.ErrorState.Errored
	if !errored && !ev.Restored {
		return b.result(ProcessEvents{})
	}

	cp.ErrorState = ErrorState{}
	cp.Status = state.Suspended

	if errored {
		b.persist()
	} else {
		b.state.SafePoint = cp.Clone()
	}
	if ev.Restored {
		if keys := sessionKeys(cp.Sessions, nil); len(keys) > 0 {
			b.add(RegisterSessions{Sessions: keys})
		}
	}
	if len(cp.PendingMessages) > 0 {
		b.add(SendMessages{Messages: append([]OutboundMessage(nil), cp.PendingMessages...)})
	}

	return b.result(b.arm())
}

func (b *builder) propagate() TransitionResult {
	cp := b.cp()
	errors := cp.ErrorState.Errors
	reason := "flow failed"
	if len(errors) > 0 {
		reason = errors[len(errors)-1].Message
	}

	var outbound []OutboundMessage
	for _, s := range b.open() {
		outbound = append(outbound, b.message(s, net.SessionError, nil, reason))
	}

	cp.Status = state.Removed
	b.state.IsRemoved = true

	failed := &FlowFailedError{FlowID: cp.FlowID, Errors: errors}
	b.add(
		PropagateErrors{Errors: errors, Messages: outbound},
		ReleaseResources{Frames: append([]Frame(nil), cp.Frames...), Err: failed},
		RemoveCheckpoint{ID: cp.FlowID},
		SignalFlowEnd{Err: failed},
	)

	return b.result(Abort{})
}

func (b *builder) kill() TransitionResult {
	cp := b.cp()

	var outbound []OutboundMessage
	for _, s := range b.open() {
		outbound = append(outbound, b.message(s, net.SessionError, nil, ErrFlowKilled.Error()))
	}

	cp.Status = state.Removed
	b.state.IsRemoved = true

	if len(outbound) > 0 {
		b.add(SendMessages{Messages: outbound})
	}
	b.add(
		ReleaseResources{Frames: append([]Frame(nil), cp.Frames...), Err: ErrFlowKilled},
		RemoveCheckpoint{ID: cp.FlowID},
		SignalFlowEnd{Err: ErrFlowKilled},
	)

	return b.result(Abort{})
}
