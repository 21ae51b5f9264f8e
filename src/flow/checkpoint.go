package flow

import (
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/mosaicnetworks/notarium/src/flow/state"
	"github.com/mosaicnetworks/notarium/src/net"
	"github.com/vmihailenco/msgpack/v4"
)

// FlowID identifies a flow on its node.
type FlowID string

// NewFlowID returns a random FlowID.
func NewFlowID() FlowID {
	return FlowID(uuid.New().String())
}

// SessionID identifies a session. Both ends of a session share it.
type SessionID string

// NewSessionID returns a random SessionID.
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// Frame is one logic on the flow stack: the registered name of the logic and
// its msgpack-encoded state.
type Frame struct {
	Name  string
	State []byte
}

// SessionState is one end of a session as seen by the flow that owns it.
type SessionState struct {
	ID              SessionID
	Counterparty    string
	Initiator       bool
	Initiated       bool
	InitiatingFlow  string
	NextSendSeq     uint64
	LastReceivedSeq uint64
	Inbox           [][]byte
	Ended           bool
	ErrorMessage    string
}

func (s *SessionState) clone() *SessionState {
	c := *s
	c.Inbox = append([][]byte(nil), s.Inbox...)
	return &c
}

// ready is true when a Receive on the session can complete.
func (s *SessionState) ready() bool {
	return len(s.Inbox) > 0 || s.Ended || s.ErrorMessage != ""
}

// IORequestKind is the kind of a pending suspension.
type IORequestKind uint8

const (
	// IONone means the flow has not suspended yet.
	IONone IORequestKind = iota
	// IOSend ...
	IOSend
	// IOReceive ...
	IOReceive
	// IOSendAndReceive ...
	IOSendAndReceive
	// IOSleep ...
	IOSleep
	// IOCall ...
	IOCall
	// IOAwait ...
	IOAwait
)

// String ...
func (k IORequestKind) String() string {
	switch k {
	case IONone:
		return "None"
	case IOSend:
		return "Send"
	case IOReceive:
		return "Receive"
	case IOSendAndReceive:
		return "SendAndReceive"
	case IOSleep:
		return "Sleep"
	case IOCall:
		return "Call"
	case IOAwait:
		return "Await"
	default:
		return "Unknown"
	}
}

// IORequest is the persisted form of a Suspension.
type IORequest struct {
	Kind        IORequestKind
	Sessions    []SessionID
	WakeAt      time.Time
	Operation   string
	OperationID string
	Payload     []byte
}

// OutboundMessage is a session message addressed to a party.
type OutboundMessage struct {
	To      string
	Message net.SessionMessage
}

// ErrorState is Clean when Errored is false.
type ErrorState struct {
	Errored bool
	Errors  []FlowError
}

// Checkpoint is the durable state of a flow at a suspension point.
type Checkpoint struct {
	FlowID              FlowID
	FlowName            string
	OurIdentity         string
	Status              state.State
	Frames              []Frame
	Sessions            map[SessionID]*SessionState
	Suspension          IORequest
	ErrorState          ErrorState
	PendingMessages     []OutboundMessage
	NumberOfSuspensions int
	Timestamp           time.Time
}

// Clone returns a deep copy of the checkpoint.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	res := *c
	res.Frames = append([]Frame(nil), c.Frames...)
	res.Sessions = make(map[SessionID]*SessionState, len(c.Sessions))
	for id, s := range c.Sessions {
		res.Sessions[id] = s.clone()
	}
	res.Suspension.Sessions = append([]SessionID(nil), c.Suspension.Sessions...)
	res.ErrorState.Errors = append([]FlowError(nil), c.ErrorState.Errors...)
	res.PendingMessages = append([]OutboundMessage(nil), c.PendingMessages...)
	return &res
}

// Top returns the frame of the running logic.
func (c *Checkpoint) Top() (Frame, bool) {
	if len(c.Frames) == 0 {
		return Frame{}, false
	}
	return c.Frames[len(c.Frames)-1], true
}

// EncodeCheckpoint serializes a checkpoint with msgpack and compresses it
// with snappy.
func EncodeCheckpoint(c *Checkpoint) ([]byte, error) {
	raw, err := msgpack.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding checkpoint %s: %w", c.FlowID, err)
	}
	return snappy.Encode(nil, raw), nil
}

// DecodeCheckpoint is the inverse of EncodeCheckpoint.
func DecodeCheckpoint(data []byte) (*Checkpoint, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, err
	}
	var c Checkpoint
	if err := msgpack.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	if c.Sessions == nil {
		c.Sessions = make(map[SessionID]*SessionState)
	}
	return &c, nil
}
