package net

import (
	"github.com/mosaicnetworks/notarium/src/transaction"
)

// SessionMessageKind ...
type SessionMessageKind uint8

const (
	// SessionInit opens a session and starts the responder flow registered
	// for FlowName on the receiving node.
	SessionInit SessionMessageKind = iota
	// SessionData carries a payload.
	SessionData
	// SessionEnd tells the counterparty that the sending flow finished.
	SessionEnd
	// SessionError tells the counterparty that the sending flow failed.
	SessionError
)

// String ...
func (k SessionMessageKind) String() string {
	switch k {
	case SessionInit:
		return "Init"
	case SessionData:
		return "Data"
	case SessionEnd:
		return "End"
	case SessionError:
		return "Error"
	default:
		return "Unknown"
	}
}

// SessionMessage is a message exchanged between two flows over a session.
// Both ends of a session share the SessionID. ToInitiator tells which end the
// message is for. Seq numbers start at 1 and increase by one per message in
// each direction, so receivers can drop redeliveries.
type SessionMessage struct {
	SessionID   string
	ToInitiator bool
	Seq         uint64
	Kind        SessionMessageKind
	Sender      string
	FlowName    string
	Payload     []byte
	Error       string
}

// SessionRequest delivers a batch of session messages to a node.
type SessionRequest struct {
	FromAddr string
	Messages []SessionMessage
}

// SessionResponse acknowledges a SessionRequest. Accepted counts the messages
// routed to a flow or a new responder; redeliveries are acknowledged but not
// counted.
type SessionResponse struct {
	FromAddr string
	Accepted int
}

// NotarisationRequestMessage asks a notary to notarise a transaction. The
// payload is opaque to the transport.
type NotarisationRequestMessage struct {
	VerificationID     int64
	TransactionPayload []byte
	ResponseAddress    string
}

// NotarisationResponseMessage carries either the notary signatures or an
// encoded notary error.
type NotarisationResponseMessage struct {
	VerificationID int64
	Signatures     []transaction.TransactionSignature
	Error          []byte
}
