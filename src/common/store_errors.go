package common

import (
	"errors"
	"fmt"
)

// StoreErrType ...
type StoreErrType uint32

const (
	// KeyNotFound ...
	KeyNotFound StoreErrType = iota
	// KeyAlreadyExists ...
	KeyAlreadyExists
	// Empty ...
	Empty
	// Closed is returned when a store is used after Close.
	Closed
	// Corrupted is returned when a stored value cannot be decoded.
	Corrupted
)

// StoreErr is the error type returned by checkpoint stores and ledgers. The
// dataType identifies the kind of record ("Checkpoint", "Transaction", ...)
// and key the record that caused the error.
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr ...
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error ...
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case Empty:
		m = "Empty"
	case Closed:
		m = "Closed"
	case Corrupted:
		m = "Corrupted"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is of type StoreErr and that it's code matches
// the provided StoreErr code. Wrapped errors are unwrapped.
func IsStore(err error, t StoreErrType) bool {
	var storeErr StoreErr
	return errors.As(err, &storeErr) && storeErr.errType == t
}
