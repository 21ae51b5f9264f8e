package notary

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/badger"
	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/transaction"
	"github.com/sirupsen/logrus"
)

const consumedPrefix = "consumed_"

// BadgerUniquenessProvider keeps the consumed states in a badger database so
// that a restarted notary still rejects double spends.
type BadgerUniquenessProvider struct {
	// commits are serialized so that concurrent transactions never observe
	// each other's partial writes
	sync.Mutex
	db *badger.DB
}

// NewBadgerUniquenessProvider opens, or creates, the database in path.
func NewBadgerUniquenessProvider(path string, logger *logrus.Entry) (*BadgerUniquenessProvider, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true)
	if logger != nil {
		opts = opts.WithLogger(logger)
	} else {
		opts = opts.WithLogger(nil)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerUniquenessProvider{db: handle}, nil
}

func consumedKey(ref transaction.StateRef) []byte {
	return []byte(fmt.Sprintf("%s%s_%d", consumedPrefix, ref.TxHash, ref.Index))
}

// Commit implements UniquenessProvider.
func (u *BadgerUniquenessProvider) Commit(inputs, references []transaction.StateRef, txID crypto.SecureHash) ([]StateConflict, error) {
	u.Lock()
	defer u.Unlock()

	conflicts := []StateConflict{}
	err := u.db.Update(func(txn *badger.Txn) error {
		for _, ref := range append(append([]transaction.StateRef{}, inputs...), references...) {
			consumer, ok, err := getConsumer(txn, ref)
			if err != nil {
				return err
			}
			if ok && consumer != txID {
				conflicts = append(conflicts, StateConflict{StateRef: ref, ConsumingTx: consumer})
			}
		}
		if len(conflicts) > 0 {
			return nil
		}

		for _, ref := range inputs {
			if err := txn.Set(consumedKey(ref), txID.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return conflicts, nil
	}
	return nil, nil
}

// ConsumingTx returns the transaction that consumed ref, if any.
func (u *BadgerUniquenessProvider) ConsumingTx(ref transaction.StateRef) (crypto.SecureHash, bool, error) {
	var (
		consumer crypto.SecureHash
		ok       bool
	)
	err := u.db.View(func(txn *badger.Txn) error {
		var err error
		consumer, ok, err = getConsumer(txn, ref)
		return err
	})
	return consumer, ok, err
}

func getConsumer(txn *badger.Txn, ref transaction.StateRef) (crypto.SecureHash, bool, error) {
	item, err := txn.Get(consumedKey(ref))
	if err == badger.ErrKeyNotFound {
		return crypto.SecureHash{}, false, nil
	}
	if err != nil {
		return crypto.SecureHash{}, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return crypto.SecureHash{}, false, err
	}
	consumer, err := crypto.SecureHashFromBytes(val)
	if err != nil {
		return crypto.SecureHash{}, false, err
	}
	return consumer, true, nil
}

// Close closes the database.
func (u *BadgerUniquenessProvider) Close() error {
	return u.db.Close()
}
