package flow

import (
	"time"

	"github.com/mosaicnetworks/notarium/src/net"
)

// Event is something that happens to a flow. Events of one flow are
// processed one at a time in the order they were queued.
type Event interface {
	String() string
}

// Start runs a new flow. Ack, when set, is acknowledged once the initial
// checkpoint is persisted.
type Start struct {
	Ack chan struct{}
}

// DeliverSessionMessage hands a session message to the flow that owns the
// session. Ack is acknowledged once the message is checkpointed or dropped
// as a duplicate.
type DeliverSessionMessage struct {
	Message net.SessionMessage
	Ack     chan struct{}
}

// WakeUp ends the Sleep of suspension number Suspension.
type WakeUp struct {
	Suspension int
}

// AsyncOperationCompletion carries the outcome of an Await.
type AsyncOperationCompletion struct {
	OperationID string
	Result      []byte
	Err         error
}

// Error is raised when the logic of a flow fails.
type Error struct {
	Err error
}

// RetryFromSafePoint clears the errors of a flow and re-arms its last
// checkpoint. Restored is set for flows loaded from the checkpoint store.
type RetryFromSafePoint struct {
	Restored bool
}

// StartErrorPropagation gives up on an errored flow: its counterparties are
// told and the flow is removed.
type StartErrorPropagation struct{}

// Kill removes a flow between two steps.
type Kill struct{}

// Suspend is raised when the logic reaches a suspension point. Frames and
// Sessions are the flow state after the step.
type Suspend struct {
	Frames     []Frame
	Sessions   map[SessionID]*SessionState
	Suspension Suspension
}

// FlowFinish is raised when the top-level logic returns Done.
type FlowFinish struct {
	Sessions map[SessionID]*SessionState
	Result   []byte
}

func (Start) String() string                    { return "Start" }
func (DeliverSessionMessage) String() string    { return "DeliverSessionMessage" }
func (WakeUp) String() string                   { return "WakeUp" }
func (AsyncOperationCompletion) String() string { return "AsyncOperationCompletion" }
func (Error) String() string                    { return "Error" }
func (RetryFromSafePoint) String() string       { return "RetryFromSafePoint" }
func (StartErrorPropagation) String() string    { return "StartErrorPropagation" }
func (Kill) String() string                     { return "Kill" }
func (Suspend) String() string                  { return "Suspend" }
func (FlowFinish) String() string               { return "FlowFinish" }

// SessionKey routes session messages: the session id and which end of the
// session the message is for.
type SessionKey struct {
	ID        SessionID
	Initiator bool
}

// Action is a side effect of a transition.
type Action interface {
	String() string
}

// PersistCheckpoint saves Checkpoint.
type PersistCheckpoint struct {
	Checkpoint *Checkpoint
}

// SendMessages hands messages to the outbox.
type SendMessages struct {
	Messages []OutboundMessage
}

// RegisterSessions routes incoming messages of the sessions to the flow.
type RegisterSessions struct {
	Sessions []SessionKey
}

// ScheduleWakeUp queues a WakeUp at At.
type ScheduleWakeUp struct {
	At         time.Time
	Suspension int
}

// ExecuteAsyncOperation runs an AsyncOperation and queues its completion.
type ExecuteAsyncOperation struct {
	Operation   string
	OperationID string
	Payload     []byte
}

// ReleaseResources calls Release on the frames of a removed flow.
type ReleaseResources struct {
	Frames []Frame
	Err    error
}

// RemoveCheckpoint deletes the checkpoint of a flow.
type RemoveCheckpoint struct {
	ID FlowID
}

// SignalFlowEnd completes the result of a flow and releases its sessions.
type SignalFlowEnd struct {
	Result []byte
	Err    error
}

// PropagateErrors tells counterparties that the flow failed.
type PropagateErrors struct {
	Errors   []FlowError
	Messages []OutboundMessage
}

// AcknowledgeMessages acknowledges delivered messages to their senders.
type AcknowledgeMessages struct {
	Acks []chan struct{}
}

func (PersistCheckpoint) String() string     { return "PersistCheckpoint" }
func (SendMessages) String() string          { return "SendMessages" }
func (RegisterSessions) String() string      { return "RegisterSessions" }
func (ScheduleWakeUp) String() string        { return "ScheduleWakeUp" }
func (ExecuteAsyncOperation) String() string { return "ExecuteAsyncOperation" }
func (ReleaseResources) String() string      { return "ReleaseResources" }
func (RemoveCheckpoint) String() string      { return "RemoveCheckpoint" }
func (SignalFlowEnd) String() string         { return "SignalFlowEnd" }
func (PropagateErrors) String() string       { return "PropagateErrors" }
func (AcknowledgeMessages) String() string   { return "AcknowledgeMessages" }

// Continuation tells the fiber what to do after a transition.
type Continuation interface {
	String() string
}

// ProcessEvents waits for the next event.
type ProcessEvents struct{}

// Resume runs the logic with Input.
type Resume struct {
	Input Input
}

// Abort stops the fiber. The flow is either removed or left to be restored
// from its checkpoint.
type Abort struct{}

func (ProcessEvents) String() string { return "ProcessEvents" }
func (Resume) String() string        { return "Resume" }
func (Abort) String() string         { return "Abort" }
