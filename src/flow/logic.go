package flow

import (
	"fmt"
	"time"
)

// Logic is the behaviour of a flow. Resume is called with the outcome of the
// previous suspension and runs until the next one. Implementations keep their
// resume point and locals in exported fields; the value is serialized with
// msgpack into the checkpoint and decoded into a fresh instance from the
// Registry when the flow is restored. Unexported fields are left untouched by
// decoding, which is how factories inject services.
type Logic interface {
	Resume(fc *Context, in Input) (Suspension, error)
}

// Releaser is implemented by logic that holds resources outside of its
// checkpoint. Release is called for every frame of a flow that is removed
// after an error or a kill, innermost frame first. It is not called for flows
// that complete.
type Releaser interface {
	Release(fc *Context, err error)
}

// Suspension is what a Logic waits for when it returns from Resume.
type Suspension interface {
	kind() IORequestKind
}

// OutgoingMessage is a payload for the counterparty of a session.
type OutgoingMessage struct {
	Session SessionID
	Payload []byte
}

// Send sends messages and resumes immediately with InputSent once they are
// checkpointed.
type Send struct {
	Messages []OutgoingMessage
}

// Receive waits for one message on each of the sessions. The messages are
// returned in the order the sessions are listed.
type Receive struct {
	Sessions []SessionID
}

// SendAndReceive sends a payload on a session and waits for the reply.
type SendAndReceive struct {
	Session SessionID
	Payload []byte
}

// Sleep suspends the flow for a duration.
type Sleep struct {
	Duration time.Duration
}

// Call runs a subflow. The calling logic resumes with InputSubFlowReturned
// once the subflow is done.
type Call struct {
	SubFlow Logic
}

// Await runs the asynchronous operation registered under Operation with
// the given payload and resumes with its result.
type Await struct {
	Operation string
	Payload   []byte
}

// Done completes the logic with a result.
type Done struct {
	Result []byte
}

func (Send) kind() IORequestKind           { return IOSend }
func (Receive) kind() IORequestKind        { return IOReceive }
func (SendAndReceive) kind() IORequestKind { return IOSendAndReceive }
func (Sleep) kind() IORequestKind          { return IOSleep }
func (Call) kind() IORequestKind           { return IOCall }
func (Await) kind() IORequestKind          { return IOAwait }
func (Done) kind() IORequestKind           { return IONone }

// SendTo is a shorthand for a Send of one payload.
func SendTo(session SessionID, payload []byte) Send {
	return Send{Messages: []OutgoingMessage{{Session: session, Payload: payload}}}
}

// ReceiveFrom is a shorthand for a Receive on the given sessions.
func ReceiveFrom(sessions ...SessionID) Receive {
	return Receive{Sessions: sessions}
}

// InputKind says why a Logic is resumed.
type InputKind uint8

const (
	// InputStart is the first resumption of a logic.
	InputStart InputKind = iota
	// InputSent follows a Send.
	InputSent
	// InputReceived follows a Receive or SendAndReceive.
	InputReceived
	// InputWoken follows a Sleep.
	InputWoken
	// InputSubFlowReturned follows a Call.
	InputSubFlowReturned
	// InputAsyncCompleted follows an Await.
	InputAsyncCompleted
)

// String ...
func (k InputKind) String() string {
	switch k {
	case InputStart:
		return "Start"
	case InputSent:
		return "Sent"
	case InputReceived:
		return "Received"
	case InputWoken:
		return "Woken"
	case InputSubFlowReturned:
		return "SubFlowReturned"
	case InputAsyncCompleted:
		return "AsyncCompleted"
	default:
		return "Unknown"
	}
}

// ReceivedMessage is a payload received on a session.
type ReceivedMessage struct {
	Session SessionID
	Payload []byte
}

// Input is the outcome of the previous suspension. Err is set when the
// suspension failed: a counterparty ended or failed, a subflow returned an
// error or an asynchronous operation failed. A logic that does not handle
// Err should return it.
type Input struct {
	Kind          InputKind
	Received      []ReceivedMessage
	SubFlowResult []byte
	AsyncResult   []byte
	Err           error
}

// Messages returns the received payloads in the order the sessions were
// requested. Sessions that ended or failed have no entry.
func (in Input) Messages() [][]byte {
	res := make([][]byte, 0, len(in.Received))
	for _, m := range in.Received {
		res = append(res, m.Payload)
	}
	return res
}

// MessageMap returns the received payloads keyed by session.
func (in Input) MessageMap() map[SessionID][]byte {
	res := make(map[SessionID][]byte, len(in.Received))
	for _, m := range in.Received {
		res[m.Session] = m.Payload
	}
	return res
}

// Message returns the single payload of a one-session receive.
func (in Input) Message() ([]byte, error) {
	if in.Err != nil {
		return nil, in.Err
	}
	if len(in.Received) != 1 {
		return nil, fmt.Errorf("expected one message, got %d", len(in.Received))
	}
	return in.Received[0].Payload, nil
}
