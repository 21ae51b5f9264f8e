package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	"github.com/dgraph-io/badger"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/sethvargo/go-retry"
	"github.com/vmihailenco/msgpack/v4"
)

const (
	txPrefix       = "tx_"
	senderPrefix   = "sdr_"
	receiverPrefix = "rdr_"
	indexPrefix    = "rix_"

	conflictRetries = 10
)

// BadgerLedger persists transactions and distribution records in a badger
// database. Distribution record keys start with the big-endian timestamp,
// so time window queries are range scans. A secondary index by transaction
// id serves RemoveUnnotarisedTransaction.
type BadgerLedger struct {
	*recoveryLedger

	db    *badger.DB
	cache *lru.Cache[crypto.SecureHash, txRecord]
	path  string
}

// NewBadgerLedger opens, or creates, the database in path. cacheSize
// transactions are kept in memory.
func NewBadgerLedger(path string, cacheSize int, conf Config) (*BadgerLedger, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true)
	if conf.Logger != nil {
		opts = opts.WithLogger(conf.Logger.WithField("prefix", "badger"))
	} else {
		opts = opts.WithLogger(nil)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	cache, err := lru.New[crypto.SecureHash, txRecord](cacheSize)
	if err != nil {
		handle.Close()
		return nil, err
	}

	l := &BadgerLedger{
		db:    handle,
		cache: cache,
		path:  path,
	}
	l.recoveryLedger = newRecoveryLedger(l, conf)

	return l, nil
}

// StorePath returns the directory of the database.
func (l *BadgerLedger) StorePath() string {
	return l.path
}

func txKey(id crypto.SecureHash) []byte {
	return append([]byte(txPrefix), id[:]...)
}

func timestampBytes(t time.Time) []byte {
	nanos := t.UnixNano()
	if nanos < 0 {
		nanos = 0
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(nanos))
	return b
}

// recordKey is prefix, timestamp (8 bytes), discriminator (4 bytes),
// transaction id and party id.
func recordKey(prefix string, k DistributionRecordKey) []byte {
	key := make([]byte, 0, len(prefix)+8+4+2*crypto.HashSize)
	key = append(key, prefix...)
	key = append(key, timestampBytes(k.Timestamp)...)
	key = binary.BigEndian.AppendUint32(key, k.TimestampDiscriminator)
	key = append(key, k.TxID[:]...)
	key = append(key, k.PeerPartyID[:]...)
	return key
}

func indexKey(id crypto.SecureHash, record []byte) []byte {
	key := make([]byte, 0, len(indexPrefix)+crypto.HashSize+len(record))
	key = append(key, indexPrefix...)
	key = append(key, id[:]...)
	return append(key, record...)
}

// updateWithRetry runs fn in a read-write transaction, again when badger
// reports a conflict with a concurrent transaction.
func (l *BadgerLedger) updateWithRetry(fn func(txn *badger.Txn) error) error {
	b := retry.WithMaxRetries(conflictRetries, retry.NewConstant(time.Millisecond))
	return retry.Do(context.Background(), b, func(ctx context.Context) error {
		err := l.db.Update(fn)
		if err == badger.ErrConflict {
			return retry.RetryableError(err)
		}
		return err
	})
}

func readTx(txn *badger.Txn, id crypto.SecureHash) (*txRecord, error) {
	item, err := txn.Get(txKey(id))
	if err != nil {
		return nil, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	rec := &txRecord{}
	if err := msgpack.Unmarshal(data, rec); err != nil {
		return nil, common.NewStoreErr("Transaction", common.Corrupted, id.String())
	}
	return rec, nil
}

func (l *BadgerLedger) update(id crypto.SecureHash, fn func(cur *txRecord) (*txRecord, []DistributionRecord, error)) error {
	var written *txRecord

	err := l.updateWithRetry(func(txn *badger.Txn) error {
		written = nil

		cur, err := readTx(txn, id)
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}

		next, records, err := fn(cur)
		if err != nil || next == nil {
			return err
		}

		data, err := msgpack.Marshal(next)
		if err != nil {
			return err
		}
		if err := txn.Set(txKey(id), data); err != nil {
			return err
		}

		for _, r := range records {
			var key []byte
			switch r.(type) {
			case *SenderDistributionRecord:
				key = recordKey(senderPrefix, r.Key())
			case *ReceiverDistributionRecord:
				key = recordKey(receiverPrefix, r.Key())
			}
			val, err := msgpack.Marshal(r)
			if err != nil {
				return err
			}
			if err := txn.Set(key, val); err != nil {
				return err
			}
			if err := txn.Set(indexKey(id, key), []byte{}); err != nil {
				return err
			}
		}

		written = next
		return nil
	})
	if err != nil {
		return err
	}

	if written != nil {
		l.cache.Add(id, *written)
	}
	return nil
}

func (l *BadgerLedger) get(id crypto.SecureHash) (*txRecord, error) {
	if rec, ok := l.cache.Get(id); ok {
		return &rec, nil
	}

	var rec *txRecord
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readTx(txn, id)
		return err
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, common.NewStoreErr("Transaction", common.KeyNotFound, id.String())
		}
		return nil, err
	}

	l.cache.Add(id, *rec)
	return rec, nil
}

func (l *BadgerLedger) remove(id crypto.SecureHash) (bool, error) {
	removed := false

	err := l.updateWithRetry(func(txn *badger.Txn) error {
		removed = false

		cur, err := readTx(txn, id)
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if cur != nil && cur.Status == InFlight {
			if err := txn.Delete(txKey(id)); err != nil {
				return err
			}
		}

		prefix := append([]byte(indexPrefix), id[:]...)
		keys := [][]byte{}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k[len(prefix):]); err != nil {
				return err
			}
			if err := txn.Delete(k); err != nil {
				return err
			}
			removed = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	l.cache.Remove(id)
	return removed, nil
}

// scan calls fn with the value of every record of the window, in key order.
func (l *BadgerLedger) scan(prefix string, f recordFilter, fn func(val []byte) error) error {
	until := timestampBytes(f.window.Until)

	return l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		start := append([]byte(prefix), timestampBytes(f.window.From)...)
		for it.Seek(start); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if bytes.Compare(key[len(prefix):len(prefix)+8], until) > 0 {
				break
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *BadgerLedger) senderRecords(f recordFilter) ([]*SenderDistributionRecord, error) {
	res := []*SenderDistributionRecord{}
	err := l.scan(senderPrefix, f, func(val []byte) error {
		r := &SenderDistributionRecord{}
		if err := msgpack.Unmarshal(val, r); err != nil {
			return common.NewStoreErr("SenderDistributionRecord", common.Corrupted, "")
		}
		if f.match(r.Key()) {
			res = append(res, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (l *BadgerLedger) receiverRecords(f recordFilter) ([]*ReceiverDistributionRecord, error) {
	res := []*ReceiverDistributionRecord{}
	err := l.scan(receiverPrefix, f, func(val []byte) error {
		r := &ReceiverDistributionRecord{}
		if err := msgpack.Unmarshal(val, r); err != nil {
			return common.NewStoreErr("ReceiverDistributionRecord", common.Corrupted, "")
		}
		if f.match(r.Key()) {
			res = append(res, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (l *BadgerLedger) transactions(status TransactionStatus) ([]*txRecord, error) {
	res := []*txRecord{}
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(txPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			rec := &txRecord{}
			if err := msgpack.Unmarshal(data, rec); err != nil {
				return common.NewStoreErr("Transaction", common.Corrupted, string(it.Item().Key()))
			}
			if rec.Status == status {
				res = append(res, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (l *BadgerLedger) close() error {
	return l.db.Close()
}
