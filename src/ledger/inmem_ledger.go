package ledger

import (
	"sort"
	"sync"

	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/crypto"
)

// InmemLedger keeps everything in memory.
type InmemLedger struct {
	*recoveryLedger

	mu       sync.RWMutex
	txs      map[crypto.SecureHash]*txRecord
	sender   map[DistributionRecordKey]*SenderDistributionRecord
	receiver map[DistributionRecordKey]*ReceiverDistributionRecord
	closed   bool
}

// NewInmemLedger ...
func NewInmemLedger(conf Config) *InmemLedger {
	l := &InmemLedger{
		txs:      make(map[crypto.SecureHash]*txRecord),
		sender:   make(map[DistributionRecordKey]*SenderDistributionRecord),
		receiver: make(map[DistributionRecordKey]*ReceiverDistributionRecord),
	}
	l.recoveryLedger = newRecoveryLedger(l, conf)
	return l
}

func (l *InmemLedger) update(id crypto.SecureHash, fn func(cur *txRecord) (*txRecord, []DistributionRecord, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return common.NewStoreErr("Ledger", common.Closed, "")
	}

	var cur *txRecord
	if r, ok := l.txs[id]; ok {
		c := *r
		cur = &c
	}

	next, records, err := fn(cur)
	if err != nil || next == nil {
		return err
	}

	l.txs[id] = next
	for _, r := range records {
		switch rec := r.(type) {
		case *SenderDistributionRecord:
			c := *rec
			l.sender[rec.Key()] = &c
		case *ReceiverDistributionRecord:
			c := *rec
			l.receiver[rec.Key()] = &c
		}
	}
	return nil
}

func (l *InmemLedger) get(id crypto.SecureHash) (*txRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.txs[id]
	if !ok {
		return nil, common.NewStoreErr("Transaction", common.KeyNotFound, id.String())
	}
	c := *r
	return &c, nil
}

func (l *InmemLedger) remove(id crypto.SecureHash) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r, ok := l.txs[id]; ok && r.Status == InFlight {
		delete(l.txs, id)
	}

	removed := false
	for k := range l.sender {
		if k.TxID == id {
			delete(l.sender, k)
			removed = true
		}
	}
	for k := range l.receiver {
		if k.TxID == id {
			delete(l.receiver, k)
			removed = true
		}
	}
	return removed, nil
}

func (l *InmemLedger) senderRecords(f recordFilter) ([]*SenderDistributionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	res := []*SenderDistributionRecord{}
	for k, r := range l.sender {
		if f.match(k) {
			c := *r
			res = append(res, &c)
		}
	}
	sortKeys(res)
	return res, nil
}

func (l *InmemLedger) receiverRecords(f recordFilter) ([]*ReceiverDistributionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	res := []*ReceiverDistributionRecord{}
	for k, r := range l.receiver {
		if f.match(k) {
			c := *r
			res = append(res, &c)
		}
	}
	sortKeys(res)
	return res, nil
}

func (l *InmemLedger) transactions(status TransactionStatus) ([]*txRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	res := []*txRecord{}
	for _, r := range l.txs {
		if r.Status == status {
			c := *r
			res = append(res, &c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID.Compare(res[j].ID) < 0 })
	return res, nil
}

func (l *InmemLedger) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
