package flow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFlowKilled is the result of a flow that was killed.
	ErrFlowKilled = errors.New("flow killed")
	// ErrUnknownFlow is returned for operations on a flow id the manager
	// does not run.
	ErrUnknownFlow = errors.New("unknown flow")
	// ErrUnknownSession is returned when a logic uses a session it did not
	// open or receive.
	ErrUnknownSession = errors.New("unknown session")
	// ErrManagerStopped is returned by a stopped Manager.
	ErrManagerStopped = errors.New("flow manager stopped")
)

// UnexpectedFlowEndError is returned to a flow waiting on a session whose
// counterparty finished.
type UnexpectedFlowEndError struct {
	Session SessionID
	Party   string
}

func (e *UnexpectedFlowEndError) Error() string {
	return fmt.Sprintf("counterparty %s ended session %s", e.Party, e.Session)
}

// CounterpartyFlowError is returned to a flow waiting on a session whose
// counterparty failed.
type CounterpartyFlowError struct {
	Session SessionID
	Party   string
	Message string
}

func (e *CounterpartyFlowError) Error() string {
	return fmt.Sprintf("counterparty %s failed on session %s: %s", e.Party, e.Session, e.Message)
}

// FlowError is the persisted record of an error raised by a flow. The
// hospital decides what to do with a flow from its FlowErrors.
type FlowError struct {
	Type      string
	Message   string
	Retryable bool
	Park      bool
}

func (e FlowError) String() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// FlowFailedError is the result of a flow that gave up after errors.
type FlowFailedError struct {
	FlowID FlowID
	Errors []FlowError
}

func (e *FlowFailedError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Message
	}
	return fmt.Sprintf("flow %s failed: %s", e.FlowID, strings.Join(msgs, "; "))
}

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

type parkedError struct{ err error }

func (e *parkedError) Error() string { return e.err.Error() }
func (e *parkedError) Unwrap() error { return e.err }

// Retryable marks an error so the hospital retries the flow from its last
// checkpoint.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err}
}

// Park marks an error so the hospital keeps the flow for observation instead
// of propagating the error.
func Park(err error) error {
	if err == nil {
		return nil
	}
	return &parkedError{err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

// IsParked reports whether err was marked with Park.
func IsParked(err error) bool {
	var p *parkedError
	return errors.As(err, &p)
}

// NewFlowError records err.
func NewFlowError(err error) FlowError {
	inner := err
	for unwrapping := true; unwrapping; {
		switch w := inner.(type) {
		case *retryableError:
			inner = w.err
		case *parkedError:
			inner = w.err
		default:
			unwrapping = false
		}
	}
	return FlowError{
		Type:      fmt.Sprintf("%T", inner),
		Message:   err.Error(),
		Retryable: IsRetryable(err),
		Park:      IsParked(err),
	}
}
