package notary

import (
	"sync"

	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/transaction"
)

// UniquenessProvider records which transaction consumed which state.
type UniquenessProvider interface {
	// Commit marks inputs as consumed by txID. Committing the same
	// transaction again succeeds. When an input or a reference was already
	// consumed by another transaction nothing is committed and the conflicts
	// are returned.
	Commit(inputs, references []transaction.StateRef, txID crypto.SecureHash) ([]StateConflict, error)
}

// InmemUniquenessProvider keeps the consumed states in memory.
type InmemUniquenessProvider struct {
	sync.Mutex
	consumed map[transaction.StateRef]crypto.SecureHash
}

// NewInmemUniquenessProvider ...
func NewInmemUniquenessProvider() *InmemUniquenessProvider {
	return &InmemUniquenessProvider{
		consumed: make(map[transaction.StateRef]crypto.SecureHash),
	}
}

// Commit implements UniquenessProvider.
func (u *InmemUniquenessProvider) Commit(inputs, references []transaction.StateRef, txID crypto.SecureHash) ([]StateConflict, error) {
	u.Lock()
	defer u.Unlock()

	conflicts := []StateConflict{}
	check := func(ref transaction.StateRef) {
		if consumer, ok := u.consumed[ref]; ok && consumer != txID {
			conflicts = append(conflicts, StateConflict{StateRef: ref, ConsumingTx: consumer})
		}
	}
	for _, ref := range inputs {
		check(ref)
	}
	for _, ref := range references {
		check(ref)
	}
	if len(conflicts) > 0 {
		return conflicts, nil
	}

	for _, ref := range inputs {
		u.consumed[ref] = txID
	}
	return nil, nil
}

// ConsumingTx returns the transaction that consumed ref, if any.
func (u *InmemUniquenessProvider) ConsumingTx(ref transaction.StateRef) (crypto.SecureHash, bool) {
	u.Lock()
	defer u.Unlock()
	tx, ok := u.consumed[ref]
	return tx, ok
}
