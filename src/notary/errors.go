package notary

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/transaction"
)

// Reason classifies a NotaryError.
type Reason uint32

const (
	// General is a failure that is not specific to the notary protocol, such
	// as a transaction that cannot be sent to its notary.
	General Reason = iota
	// Conflict means one or more inputs were already consumed.
	Conflict
	// TimeWindowInvalid means the current time is outside the time window.
	TimeWindowInvalid
	// ParametersStale means the transaction uses outdated network parameters.
	ParametersStale
	// RequestSignatureInvalid means the request signature did not verify.
	RequestSignatureInvalid
	// TransactionInvalid means the notary rejected the transaction content or
	// its signatures.
	TransactionInvalid
	// Unavailable means the notary is temporarily unable to serve requests.
	Unavailable
	// Timeout means the notary could not be reached before retries ran out.
	Timeout
)

// String ...
func (r Reason) String() string {
	switch r {
	case General:
		return "General"
	case Conflict:
		return "Conflict"
	case TimeWindowInvalid:
		return "TimeWindowInvalid"
	case ParametersStale:
		return "ParametersStale"
	case RequestSignatureInvalid:
		return "RequestSignatureInvalid"
	case TransactionInvalid:
		return "TransactionInvalid"
	case Unavailable:
		return "Unavailable"
	case Timeout:
		return "Timeout"
	default:
		return fmt.Sprintf("Reason(%d)", uint32(r))
	}
}

// StateConflict records an input and the transaction that consumed it.
type StateConflict struct {
	StateRef    transaction.StateRef `json:"state_ref"`
	ConsumingTx crypto.SecureHash    `json:"consuming_tx"`
}

// NotaryError is returned to flows when notarisation fails.
type NotaryError struct {
	Reason    Reason            `json:"reason"`
	TxID      crypto.SecureHash `json:"tx_id"`
	Message   string            `json:"message"`
	Conflicts []StateConflict   `json:"conflicts,omitempty"`
}

func newNotaryError(reason Reason, txID crypto.SecureHash, format string, args ...interface{}) *NotaryError {
	return &NotaryError{
		Reason:  reason,
		TxID:    txID,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error ...
func (e *NotaryError) Error() string {
	msg := fmt.Sprintf("notarisation of %s failed (%s): %s", e.TxID.Short(), e.Reason, e.Message)
	if len(e.Conflicts) > 0 {
		refs := make([]string, len(e.Conflicts))
		for i, c := range e.Conflicts {
			refs[i] = fmt.Sprintf("%s consumed by %s", c.StateRef, c.ConsumingTx.Short())
		}
		msg += " [" + strings.Join(refs, ", ") + "]"
	}
	return msg
}

// IsNotaryError checks that err is a *NotaryError with the given reason.
func IsNotaryError(err error, reason Reason) bool {
	var nerr *NotaryError
	return errors.As(err, &nerr) && nerr.Reason == reason
}

// EncodeError serializes a NotaryError for the wire.
func EncodeError(e *NotaryError) ([]byte, error) {
	return transaction.Serialize(e)
}

// DecodeError parses the output of EncodeError.
func DecodeError(data []byte) (*NotaryError, error) {
	var e NotaryError
	if err := transaction.Deserialize(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
