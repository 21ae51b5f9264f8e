package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/transaction"
	"github.com/sirupsen/logrus"
)

// TransactionStorage stores signed transactions.
type TransactionStorage interface {
	// GetTransaction returns a verified transaction.
	GetTransaction(id crypto.SecureHash) (*transaction.SignedTransaction, error)
	GetTransactionWithStatus(id crypto.SecureHash) (*transaction.SignedTransaction, TransactionStatus, error)
	// AddTransaction records a verified transaction. It returns false when
	// the transaction was already verified.
	AddTransaction(stx *transaction.SignedTransaction) (bool, error)
	// Track returns the verified transactions and a subscription to the
	// ones verified afterwards.
	Track() ([]*transaction.SignedTransaction, *Subscription)
	// RecordExtraSignatures adds signatures to a stored transaction.
	RecordExtraSignatures(id crypto.SecureHash, sigs []transaction.TransactionSignature) error
	FinalizeTransactionWithExtraSignatures(stx *transaction.SignedTransaction, sigs []transaction.TransactionSignature, statesToRecord StatesToRecord) (bool, error)
}

// Ledger is a TransactionStorage that also keeps distribution records.
type Ledger interface {
	TransactionStorage

	AddUnnotarisedTransaction(stx *transaction.SignedTransaction, metadata TransactionMetadata, isInitiator bool) (bool, error)
	FinalizeTransaction(stx *transaction.SignedTransaction, metadata TransactionMetadata, isInitiator bool) (bool, error)
	// RemoveUnnotarisedTransaction removes an in-flight transaction and every
	// distribution record of the transaction. It returns true if there was
	// at least one record.
	RemoveUnnotarisedTransaction(id crypto.SecureHash) (bool, error)

	QueryDistributionRecords(window RecoveryTimeWindow, recordType DistributionRecordType, excluding []crypto.SecureHash, order SortDirection) (*DistributionRecords, error)
	// QuerySenderDistributionRecords restricts the records to peers when
	// peers is not empty.
	QuerySenderDistributionRecords(window RecoveryTimeWindow, peers []string, excluding []crypto.SecureHash, order SortDirection) ([]*SenderDistributionRecord, error)
	// QueryReceiverDistributionRecords restricts the records to initiators
	// when initiators is not empty.
	QueryReceiverDistributionRecords(window RecoveryTimeWindow, initiators []string, excluding []crypto.SecureHash, order SortDirection) ([]*ReceiverDistributionRecord, error)

	// CreateReceiverDistributionList seals list for receiver.
	CreateReceiverDistributionList(list *SenderDistributionList, receiver string) (*ReceiverDistributionList, error)
	DecryptSenderDistributionList(blob []byte) (*SenderDistributionList, error)

	Close() error
}

// Config holds what every Ledger implementation needs.
type Config struct {
	Clock  common.Clock
	Sealer *Sealer
	Logger *logrus.Entry
}

type txRecord struct {
	ID     crypto.SecureHash
	Status TransactionStatus
	Data   []byte
}

type recordFilter struct {
	window    RecoveryTimeWindow
	parties   map[crypto.SecureHash]bool
	excluding map[crypto.SecureHash]bool
}

func newRecordFilter(window RecoveryTimeWindow, parties []string, excluding []crypto.SecureHash) recordFilter {
	f := recordFilter{window: window}
	if len(parties) > 0 {
		f.parties = make(map[crypto.SecureHash]bool, len(parties))
		for _, p := range parties {
			f.parties[PartyID(p)] = true
		}
	}
	if len(excluding) > 0 {
		f.excluding = make(map[crypto.SecureHash]bool, len(excluding))
		for _, id := range excluding {
			f.excluding[id] = true
		}
	}
	return f
}

func (f recordFilter) match(k DistributionRecordKey) bool {
	if !f.window.Contains(k.Timestamp) {
		return false
	}
	if f.parties != nil && !f.parties[k.PeerPartyID] {
		return false
	}
	return !f.excluding[k.TxID]
}

// backend is the storage of a Ledger.
type backend interface {
	// update calls fn with the stored transaction, nil if there is none.
	// It then writes the returned transaction and appends the returned
	// records, all at once. Nothing is written
	// when fn returns a nil transaction. fn may be called more than once.
	update(id crypto.SecureHash, fn func(cur *txRecord) (*txRecord, []DistributionRecord, error)) error
	get(id crypto.SecureHash) (*txRecord, error)
	// remove deletes the transaction if it is in flight, and its
	// distribution records. It reports whether there were records.
	remove(id crypto.SecureHash) (bool, error)
	// Records are returned in ascending key order.
	senderRecords(f recordFilter) ([]*SenderDistributionRecord, error)
	receiverRecords(f recordFilter) ([]*ReceiverDistributionRecord, error)
	transactions(status TransactionStatus) ([]*txRecord, error)
	close() error
}

// recoveryLedger implements Ledger on top of a backend.
type recoveryLedger struct {
	backend backend
	clock   common.Clock
	sealer  *Sealer
	logger  *logrus.Entry

	// writers hold trackLock for reading so that Track sees every
	// transaction exactly once, in its snapshot or as an update.
	trackLock sync.RWMutex
	feed      *feed

	tsLock        sync.Mutex
	lastTimestamp time.Time
	discriminator uint32
}

func newRecoveryLedger(b backend, conf Config) *recoveryLedger {
	if conf.Clock == nil {
		conf.Clock = common.SystemClock{}
	}
	if conf.Logger == nil {
		conf.Logger = logrus.NewEntry(logrus.New())
	}
	return &recoveryLedger{
		backend: b,
		clock:   conf.Clock,
		sealer:  conf.Sealer,
		logger:  conf.Logger.WithField("prefix", "ledger"),
		feed:    newFeed(),
	}
}

// nextTimestamp returns the timestamp of a new record. Timestamps never go
// backwards; records created at the same timestamp get increasing
// discriminators.
func (l *recoveryLedger) nextTimestamp() (time.Time, uint32) {
	now := l.clock.Now().Round(0).UTC()

	l.tsLock.Lock()
	defer l.tsLock.Unlock()

	if now.After(l.lastTimestamp) {
		l.lastTimestamp = now
		l.discriminator = 0
	} else {
		l.discriminator++
	}
	return l.lastTimestamp, l.discriminator
}

func (l *recoveryLedger) distributionRecords(id crypto.SecureHash, metadata TransactionMetadata, isInitiator bool) ([]DistributionRecord, error) {
	if isInitiator {
		list, ok := metadata.DistributionList.(*SenderDistributionList)
		if !ok {
			return nil, fmt.Errorf("initiator of %s needs a sender distribution list, got %T", id.Short(), metadata.DistributionList)
		}
		peers := make([]string, 0, len(list.PeersToStatesToRecord))
		for p := range list.PeersToStatesToRecord {
			peers = append(peers, p)
		}
		sort.Strings(peers)

		res := make([]DistributionRecord, 0, len(peers))
		for _, p := range peers {
			ts, d := l.nextTimestamp()
			res = append(res, &SenderDistributionRecord{
				TxID:                   id,
				PeerPartyID:            PartyID(p),
				Timestamp:              ts,
				TimestampDiscriminator: d,
				SenderStatesToRecord:   list.SenderStatesToRecord,
				ReceiverStatesToRecord: list.PeersToStatesToRecord[p],
			})
		}
		return res, nil
	}

	list, ok := metadata.DistributionList.(*ReceiverDistributionList)
	if !ok {
		return nil, fmt.Errorf("receiver of %s needs a receiver distribution list, got %T", id.Short(), metadata.DistributionList)
	}
	ts, d := l.nextTimestamp()
	return []DistributionRecord{&ReceiverDistributionRecord{
		TxID:                      id,
		PeerPartyID:               PartyID(metadata.Initiator),
		Timestamp:                 ts,
		TimestampDiscriminator:    d,
		EncryptedDistributionList: append([]byte(nil), list.OpaqueData...),
		ReceiverStatesToRecord:    list.ReceiverStatesToRecord,
	}}, nil
}

// record stores stx with status and appends its distribution records. Every
// call adds records stamped with the current time, so a retried send
// supersedes the earlier ones. A verified transaction is never downgraded or
// rewritten.
func (l *recoveryLedger) record(stx *transaction.SignedTransaction, status TransactionStatus, metadata *TransactionMetadata, isInitiator bool) (bool, error) {
	id := stx.ID()
	if id.IsZero() {
		return false, fmt.Errorf("invalid transaction")
	}

	var records []DistributionRecord
	if metadata != nil {
		var err error
		records, err = l.distributionRecords(id, *metadata, isInitiator)
		if err != nil {
			return false, err
		}
	}

	l.trackLock.RLock()
	defer l.trackLock.RUnlock()

	var (
		changed bool
		written int
		stored  *transaction.SignedTransaction
	)
	err := l.backend.update(id, func(cur *txRecord) (*txRecord, []DistributionRecord, error) {
		changed = false
		written = 0
		stored = stx

		if cur != nil {
			if cur.Status == Verified || status != Verified {
				if len(records) == 0 {
					return nil, nil, nil
				}
				written = len(records)
				return cur, records, nil
			}
			prev, err := transaction.UnmarshalSignedTransaction(cur.Data)
			if err != nil {
				return nil, nil, common.NewStoreErr("Transaction", common.Corrupted, id.String())
			}
			stored = stx.WithAdditionalSignatures(prev.Sigs...)
		}

		data, err := stored.Marshal()
		if err != nil {
			return nil, nil, err
		}
		changed = true
		written = len(records)
		return &txRecord{ID: id, Status: status, Data: data}, records, nil
	})
	if err != nil {
		return false, err
	}

	logger := l.logger.WithFields(logrus.Fields{
		"tx_id":   id.Short(),
		"status":  status.String(),
		"records": written,
	})
	if !changed {
		logger.Debug("Transaction already recorded")
		return false, nil
	}
	logger.Debug("Recorded transaction")

	if status == Verified {
		l.feed.publish(stored)
	}
	return true, nil
}

// AddUnnotarisedTransaction records stx as in flight, with its distribution
// records.
func (l *recoveryLedger) AddUnnotarisedTransaction(stx *transaction.SignedTransaction, metadata TransactionMetadata, isInitiator bool) (bool, error) {
	return l.record(stx, InFlight, &metadata, isInitiator)
}

// FinalizeTransaction records stx as verified, with its distribution
// records.
func (l *recoveryLedger) FinalizeTransaction(stx *transaction.SignedTransaction, metadata TransactionMetadata, isInitiator bool) (bool, error) {
	return l.record(stx, Verified, &metadata, isInitiator)
}

// AddTransaction implements TransactionStorage.
func (l *recoveryLedger) AddTransaction(stx *transaction.SignedTransaction) (bool, error) {
	return l.record(stx, Verified, nil, false)
}

// FinalizeTransactionWithExtraSignatures implements TransactionStorage.
func (l *recoveryLedger) FinalizeTransactionWithExtraSignatures(stx *transaction.SignedTransaction, sigs []transaction.TransactionSignature, statesToRecord StatesToRecord) (bool, error) {
	l.logger.WithFields(logrus.Fields{
		"tx_id":            stx.ID().Short(),
		"states_to_record": statesToRecord.String(),
	}).Debug("Finalizing transaction with extra signatures")
	return l.record(stx.WithAdditionalSignatures(sigs...), Verified, nil, false)
}

// RecordExtraSignatures implements TransactionStorage.
func (l *recoveryLedger) RecordExtraSignatures(id crypto.SecureHash, sigs []transaction.TransactionSignature) error {
	l.trackLock.RLock()
	defer l.trackLock.RUnlock()

	return l.backend.update(id, func(cur *txRecord) (*txRecord, []DistributionRecord, error) {
		if cur == nil {
			return nil, nil, common.NewStoreErr("Transaction", common.KeyNotFound, id.String())
		}
		stx, err := transaction.UnmarshalSignedTransaction(cur.Data)
		if err != nil {
			return nil, nil, common.NewStoreErr("Transaction", common.Corrupted, id.String())
		}
		data, err := stx.WithAdditionalSignatures(sigs...).Marshal()
		if err != nil {
			return nil, nil, err
		}
		return &txRecord{ID: id, Status: cur.Status, Data: data}, nil, nil
	})
}

// GetTransactionWithStatus implements TransactionStorage.
func (l *recoveryLedger) GetTransactionWithStatus(id crypto.SecureHash) (*transaction.SignedTransaction, TransactionStatus, error) {
	rec, err := l.backend.get(id)
	if err != nil {
		return nil, Unverified, err
	}
	stx, err := transaction.UnmarshalSignedTransaction(rec.Data)
	if err != nil {
		return nil, Unverified, common.NewStoreErr("Transaction", common.Corrupted, id.String())
	}
	return stx, rec.Status, nil
}

// GetTransaction implements TransactionStorage.
func (l *recoveryLedger) GetTransaction(id crypto.SecureHash) (*transaction.SignedTransaction, error) {
	stx, status, err := l.GetTransactionWithStatus(id)
	if err != nil {
		return nil, err
	}
	if status != Verified {
		return nil, common.NewStoreErr("Transaction", common.KeyNotFound, id.String())
	}
	return stx, nil
}

// Track implements TransactionStorage. On a storage error the snapshot is
// empty and the error is logged.
func (l *recoveryLedger) Track() ([]*transaction.SignedTransaction, *Subscription) {
	l.trackLock.Lock()
	defer l.trackLock.Unlock()

	snapshot := []*transaction.SignedTransaction{}
	records, err := l.backend.transactions(Verified)
	if err != nil {
		l.logger.WithError(err).Error("Reading transactions")
	}
	for _, r := range records {
		stx, err := transaction.UnmarshalSignedTransaction(r.Data)
		if err != nil {
			l.logger.WithField("tx_id", r.ID.Short()).Error("Corrupted transaction")
			continue
		}
		snapshot = append(snapshot, stx)
	}

	return snapshot, l.feed.subscribe()
}

// RemoveUnnotarisedTransaction implements Ledger.
func (l *recoveryLedger) RemoveUnnotarisedTransaction(id crypto.SecureHash) (bool, error) {
	removed, err := l.backend.remove(id)
	if err != nil {
		return false, err
	}
	l.logger.WithFields(logrus.Fields{
		"tx_id":   id.Short(),
		"removed": removed,
	}).Debug("Removed unnotarised transaction")
	return removed, nil
}

// QueryDistributionRecords implements Ledger.
func (l *recoveryLedger) QueryDistributionRecords(window RecoveryTimeWindow, recordType DistributionRecordType, excluding []crypto.SecureHash, order SortDirection) (*DistributionRecords, error) {
	res := &DistributionRecords{}
	var err error
	if recordType == Sender || recordType == All {
		res.Sender, err = l.QuerySenderDistributionRecords(window, nil, excluding, order)
		if err != nil {
			return nil, err
		}
	}
	if recordType == Receiver || recordType == All {
		res.Receiver, err = l.QueryReceiverDistributionRecords(window, nil, excluding, order)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// QuerySenderDistributionRecords implements Ledger.
func (l *recoveryLedger) QuerySenderDistributionRecords(window RecoveryTimeWindow, peers []string, excluding []crypto.SecureHash, order SortDirection) ([]*SenderDistributionRecord, error) {
	res, err := l.backend.senderRecords(newRecordFilter(window, peers, excluding))
	if err != nil {
		return nil, err
	}
	if order == Descending {
		for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
			res[i], res[j] = res[j], res[i]
		}
	}
	return res, nil
}

// QueryReceiverDistributionRecords implements Ledger.
func (l *recoveryLedger) QueryReceiverDistributionRecords(window RecoveryTimeWindow, initiators []string, excluding []crypto.SecureHash, order SortDirection) ([]*ReceiverDistributionRecord, error) {
	res, err := l.backend.receiverRecords(newRecordFilter(window, initiators, excluding))
	if err != nil {
		return nil, err
	}
	if order == Descending {
		for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
			res[i], res[j] = res[j], res[i]
		}
	}
	return res, nil
}

// CreateReceiverDistributionList implements Ledger.
func (l *recoveryLedger) CreateReceiverDistributionList(list *SenderDistributionList, receiver string) (*ReceiverDistributionList, error) {
	if l.sealer == nil {
		return nil, fmt.Errorf("ledger has no sealer")
	}
	statesToRecord, ok := list.PeersToStatesToRecord[receiver]
	if !ok {
		return nil, fmt.Errorf("%s is not in the distribution list", receiver)
	}
	blob, err := l.sealer.Seal(list)
	if err != nil {
		return nil, err
	}
	return &ReceiverDistributionList{
		OpaqueData:             blob,
		ReceiverStatesToRecord: statesToRecord,
	}, nil
}

// DecryptSenderDistributionList implements Ledger.
func (l *recoveryLedger) DecryptSenderDistributionList(blob []byte) (*SenderDistributionList, error) {
	if l.sealer == nil {
		return nil, fmt.Errorf("ledger has no sealer")
	}
	return l.sealer.Open(blob)
}

// Close ends the Track subscriptions and closes the storage.
func (l *recoveryLedger) Close() error {
	l.feed.close()
	return l.backend.close()
}

func sortKeys[R DistributionRecord](records []R) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key().less(records[j].Key())
	})
}
