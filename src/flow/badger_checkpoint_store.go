package flow

import (
	"github.com/dgraph-io/badger"
	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/sirupsen/logrus"
)

const checkpointPrefix = "checkpoint_"

// BadgerCheckpointStore persists checkpoints in a badger database, one key
// per flow.
type BadgerCheckpointStore struct {
	db   *badger.DB
	path string
}

// NewBadgerCheckpointStore opens, or creates, the database in path.
func NewBadgerCheckpointStore(path string, logger *logrus.Entry) (*BadgerCheckpointStore, error) {
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

	return &BadgerCheckpointStore{
		db:   handle,
		path: path,
	}, nil
}

func checkpointKey(id FlowID) []byte {
	return []byte(checkpointPrefix + string(id))
}

// Save implements CheckpointStore.
func (s *BadgerCheckpointStore) Save(id FlowID, c *Checkpoint) error {
	data, err := EncodeCheckpoint(c)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(id), data)
	})
}

// Load implements CheckpointStore.
func (s *BadgerCheckpointStore) Load(id FlowID) (*Checkpoint, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, common.NewStoreErr("Checkpoint", common.KeyNotFound, string(id))
		}
		return nil, err
	}

	c, err := DecodeCheckpoint(data)
	if err != nil {
		return nil, common.NewStoreErr("Checkpoint", common.Corrupted, string(id))
	}

	return c, nil
}

// Delete implements CheckpointStore.
func (s *BadgerCheckpointStore) Delete(id FlowID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(checkpointKey(id))
	})
}

// All implements CheckpointStore. Checkpoints come out in key order, that is
// sorted by flow id.
func (s *BadgerCheckpointStore) All() ([]*Checkpoint, error) {
	res := []*Checkpoint{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(checkpointPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			c, err := DecodeCheckpoint(data)
			if err != nil {
				return common.NewStoreErr("Checkpoint", common.Corrupted, string(item.Key()))
			}
			res = append(res, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Close implements CheckpointStore.
func (s *BadgerCheckpointStore) Close() error {
	return s.db.Close()
}

// StorePath returns the directory of the database.
func (s *BadgerCheckpointStore) StorePath() string {
	return s.path
}
