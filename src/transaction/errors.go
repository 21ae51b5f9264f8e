package transaction

import (
	"errors"
	"fmt"
)

// ErrType ...
type ErrType uint32

const (
	// InvalidTransaction is returned when a transaction cannot be built from
	// its components.
	InvalidTransaction ErrType = iota
	// IDMismatch is returned when the group roots do not hash to the claimed
	// transaction id.
	IDMismatch
	// InvalidProof is returned when revealed components do not match their
	// group root.
	InvalidProof
	// ComponentsNotVisible is returned when a group is only partially revealed
	// where it needs to be revealed entirely.
	ComponentsNotVisible
	// SignaturesMissing is returned when required signers have not signed.
	SignaturesMissing
	// SignatureInvalid is returned when an attached signature does not verify.
	SignatureInvalid
)

// TransactionErr ...
type TransactionErr struct {
	errType ErrType
	detail  string
}

func newTransactionErr(t ErrType, format string, args ...interface{}) TransactionErr {
	return TransactionErr{errType: t, detail: fmt.Sprintf(format, args...)}
}

// Type ...
func (e TransactionErr) Type() ErrType {
	return e.errType
}

// Error ...
func (e TransactionErr) Error() string {
	m := ""
	switch e.errType {
	case InvalidTransaction:
		m = "Invalid Transaction"
	case IDMismatch:
		m = "ID Mismatch"
	case InvalidProof:
		m = "Invalid Proof"
	case ComponentsNotVisible:
		m = "Components Not Visible"
	case SignaturesMissing:
		m = "Signatures Missing"
	case SignatureInvalid:
		m = "Signature Invalid"
	}
	return fmt.Sprintf("%s: %s", m, e.detail)
}

// IsTransaction checks that err is a TransactionErr of type t.
func IsTransaction(err error, t ErrType) bool {
	var txErr TransactionErr
	return errors.As(err, &txErr) && txErr.errType == t
}
