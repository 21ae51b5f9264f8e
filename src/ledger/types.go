package ledger

import (
	"fmt"
	"time"

	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/identity"
)

// TransactionStatus is the lifecycle stage of a stored transaction.
type TransactionStatus uint8

const (
	// Unverified transactions were received but not checked.
	Unverified TransactionStatus = iota
	// Verified transactions are final.
	Verified
	// InFlight transactions are waiting for notarisation.
	InFlight
)

func (s TransactionStatus) String() string {
	switch s {
	case Unverified:
		return "Unverified"
	case Verified:
		return "Verified"
	case InFlight:
		return "InFlight"
	default:
		return "Unknown"
	}
}

// StatesToRecord says which states of a transaction a party records.
type StatesToRecord uint8

const (
	// None records no state.
	None StatesToRecord = iota
	// OnlyRelevant records the states the party participates in.
	OnlyRelevant
	// AllVisible records every state the party can see.
	AllVisible
)

func (s StatesToRecord) String() string {
	switch s {
	case None:
		return "None"
	case OnlyRelevant:
		return "OnlyRelevant"
	case AllVisible:
		return "AllVisible"
	default:
		return "Unknown"
	}
}

// DistributionList is either a *SenderDistributionList, held by the
// initiator of a transaction, or a *ReceiverDistributionList, held by its
// peers.
type DistributionList interface {
	distributionList()
}

// SenderDistributionList tells which peers a transaction is sent to and
// what each of them records.
type SenderDistributionList struct {
	SenderStatesToRecord  StatesToRecord
	PeersToStatesToRecord map[string]StatesToRecord
}

// ReceiverDistributionList is what a peer receives: the sender's list,
// sealed, and its own states-to-record value.
type ReceiverDistributionList struct {
	OpaqueData             []byte
	ReceiverStatesToRecord StatesToRecord
}

func (*SenderDistributionList) distributionList()   {}
func (*ReceiverDistributionList) distributionList() {}

// TransactionMetadata accompanies a transaction recorded with distribution
// records.
type TransactionMetadata struct {
	Initiator        string
	DistributionList DistributionList
}

// PartyID identifies a party in distribution records.
func PartyID(name string) crypto.SecureHash {
	return identity.PartyID(name)
}

// DistributionRecordKey identifies a distribution record. The discriminator
// tells apart records created at the same timestamp.
type DistributionRecordKey struct {
	TxID                   crypto.SecureHash
	PeerPartyID            crypto.SecureHash
	Timestamp              time.Time
	TimestampDiscriminator uint32
}

func (k DistributionRecordKey) less(other DistributionRecordKey) bool {
	if !k.Timestamp.Equal(other.Timestamp) {
		return k.Timestamp.Before(other.Timestamp)
	}
	if k.TimestampDiscriminator != other.TimestampDiscriminator {
		return k.TimestampDiscriminator < other.TimestampDiscriminator
	}
	if c := k.TxID.Compare(other.TxID); c != 0 {
		return c < 0
	}
	return k.PeerPartyID.Compare(other.PeerPartyID) < 0
}

// DistributionRecord is a *SenderDistributionRecord or a
// *ReceiverDistributionRecord.
type DistributionRecord interface {
	Key() DistributionRecordKey
}

// SenderDistributionRecord records that a transaction was sent to a peer.
type SenderDistributionRecord struct {
	TxID                   crypto.SecureHash
	PeerPartyID            crypto.SecureHash
	Timestamp              time.Time
	TimestampDiscriminator uint32
	SenderStatesToRecord   StatesToRecord
	ReceiverStatesToRecord StatesToRecord
}

// Key implements DistributionRecord.
func (r *SenderDistributionRecord) Key() DistributionRecordKey {
	return DistributionRecordKey{
		TxID:                   r.TxID,
		PeerPartyID:            r.PeerPartyID,
		Timestamp:              r.Timestamp,
		TimestampDiscriminator: r.TimestampDiscriminator,
	}
}

// ReceiverDistributionRecord records that a transaction was received from
// its initiator, the peer of the record.
type ReceiverDistributionRecord struct {
	TxID                      crypto.SecureHash
	PeerPartyID               crypto.SecureHash
	Timestamp                 time.Time
	TimestampDiscriminator    uint32
	EncryptedDistributionList []byte
	ReceiverStatesToRecord    StatesToRecord
}

// Key implements DistributionRecord.
func (r *ReceiverDistributionRecord) Key() DistributionRecordKey {
	return DistributionRecordKey{
		TxID:                   r.TxID,
		PeerPartyID:            r.PeerPartyID,
		Timestamp:              r.Timestamp,
		TimestampDiscriminator: r.TimestampDiscriminator,
	}
}

// DistributionRecordType selects the records of a query.
type DistributionRecordType uint8

const (
	// Sender selects sender records.
	Sender DistributionRecordType = iota
	// Receiver selects receiver records.
	Receiver
	// All selects both.
	All
)

func (t DistributionRecordType) String() string {
	switch t {
	case Sender:
		return "Sender"
	case Receiver:
		return "Receiver"
	case All:
		return "All"
	default:
		return "Unknown"
	}
}

// ParseDistributionRecordType is the inverse of String.
func ParseDistributionRecordType(s string) (DistributionRecordType, error) {
	for _, t := range []DistributionRecordType{Sender, Receiver, All} {
		if t.String() == s {
			return t, nil
		}
	}
	return All, fmt.Errorf("unknown distribution record type %q", s)
}

// SortDirection orders query results by timestamp.
type SortDirection uint8

const (
	// Unsorted leaves records in storage order, which is ascending for
	// every implementation in this package.
	Unsorted SortDirection = iota
	// Ascending ...
	Ascending
	// Descending ...
	Descending
)

// DistributionRecords is the result of QueryDistributionRecords.
type DistributionRecords struct {
	Sender   []*SenderDistributionRecord
	Receiver []*ReceiverDistributionRecord
}

// Len ...
func (r *DistributionRecords) Len() int {
	return len(r.Sender) + len(r.Receiver)
}

// All returns the sender records followed by the receiver records.
func (r *DistributionRecords) All() []DistributionRecord {
	res := make([]DistributionRecord, 0, r.Len())
	for _, s := range r.Sender {
		res = append(res, s)
	}
	for _, s := range r.Receiver {
		res = append(res, s)
	}
	return res
}

// Epoch is the lower bound of UntilOnly windows.
var Epoch = time.Unix(0, 0).UTC()

// RecoveryTimeWindow is a closed interval of record timestamps.
type RecoveryTimeWindow struct {
	From  time.Time
	Until time.Time
}

// NewRecoveryTimeWindow fails when until is before from.
func NewRecoveryTimeWindow(from, until time.Time) (RecoveryTimeWindow, error) {
	if until.Before(from) {
		return RecoveryTimeWindow{}, fmt.Errorf("recovery window until %s is before from %s",
			until.Format(time.RFC3339Nano), from.Format(time.RFC3339Nano))
	}
	return RecoveryTimeWindow{From: from, Until: until}, nil
}

// Between is NewRecoveryTimeWindow.
func Between(from, until time.Time) (RecoveryTimeWindow, error) {
	return NewRecoveryTimeWindow(from, until)
}

// FromOnly returns the window from from until now.
func FromOnly(from time.Time) (RecoveryTimeWindow, error) {
	return NewRecoveryTimeWindow(from, time.Now())
}

// UntilOnly returns the window from Epoch until until.
func UntilOnly(until time.Time) (RecoveryTimeWindow, error) {
	return NewRecoveryTimeWindow(Epoch, until)
}

// Contains reports whether t is in the window, bounds included.
func (w RecoveryTimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.Until)
}

func (w RecoveryTimeWindow) String() string {
	return fmt.Sprintf("[%s, %s]", w.From.Format(time.RFC3339Nano), w.Until.Format(time.RFC3339Nano))
}
