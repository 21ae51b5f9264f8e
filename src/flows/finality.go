package flows

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/mosaicnetworks/notarium/src/flow"
	"github.com/mosaicnetworks/notarium/src/ledger"
	"github.com/mosaicnetworks/notarium/src/notary"
	"github.com/mosaicnetworks/notarium/src/transaction"
	"github.com/sirupsen/logrus"
)

const (
	finalityStart = iota
	finalityNotarised
	finalitySent
	finalityAcknowledged
)

// FinalityFlow notarises a transaction signed by every required party except
// the notary, records it and distributes it to Peers. The result is the
// transaction id.
type FinalityFlow struct {
	Point          int
	Transaction    []byte
	StatesToRecord ledger.StatesToRecord
	Peers          map[string]ledger.StatesToRecord
	Sessions       []flow.SessionID

	ledger ledger.Ledger
}

// NewFinalityFlow ...
func NewFinalityFlow(stx *transaction.SignedTransaction, statesToRecord ledger.StatesToRecord, peers map[string]ledger.StatesToRecord) (*FinalityFlow, error) {
	bits, err := stx.Marshal()
	if err != nil {
		return nil, err
	}
	return &FinalityFlow{
		Transaction:    bits,
		StatesToRecord: statesToRecord,
		Peers:          peers,
	}, nil
}

func (f *FinalityFlow) metadata(fc *flow.Context) ledger.TransactionMetadata {
	peers := make(map[string]ledger.StatesToRecord, len(f.Peers))
	for p, s := range f.Peers {
		peers[p] = s
	}
	return ledger.TransactionMetadata{
		Initiator: fc.OurIdentity().Name,
		DistributionList: &ledger.SenderDistributionList{
			SenderStatesToRecord:  f.StatesToRecord,
			PeersToStatesToRecord: peers,
		},
	}
}

// Resume implements flow.Logic.
func (f *FinalityFlow) Resume(fc *flow.Context, in flow.Input) (flow.Suspension, error) {
	if f.ledger == nil {
		return nil, fmt.Errorf("finality flow has no ledger")
	}

	stx, err := transaction.UnmarshalSignedTransaction(f.Transaction)
	if err != nil {
		return nil, err
	}
	id := stx.ID()
	logger := fc.Logger().WithField("tx_id", id.Short())

	switch f.Point {
	case finalityStart:
		wtx, err := stx.Tx()
		if err != nil {
			return nil, err
		}
		for p := range f.Peers {
			if p == fc.OurIdentity().Name {
				return nil, fmt.Errorf("%s cannot be a peer of its own transaction", p)
			}
			if _, ok := fc.Services().Identity.PartyByName(p); !ok {
				return nil, fmt.Errorf("unknown peer %s", p)
			}
		}

		if !needsNotarisation(wtx) {
			if err := stx.VerifyRequiredSignatures(); err != nil {
				return nil, err
			}
			if _, err := f.ledger.FinalizeTransaction(stx, f.metadata(fc), true); err != nil {
				return nil, err
			}
			return f.distribute(fc, stx, logger)
		}

		if err := stx.VerifySignaturesExcept(wtx.Notary().OwningKey); err != nil {
			return nil, err
		}
		if _, err := f.ledger.AddUnnotarisedTransaction(stx, f.metadata(fc), true); err != nil {
			return nil, err
		}

		logger.Debug("Notarising")
		f.Point = finalityNotarised
		return flow.Await{Operation: NotariseOperationName, Payload: f.Transaction}, nil

	case finalityNotarised:
		if in.Err != nil {
			if notary.IsNotaryError(in.Err, notary.Timeout) {
				return nil, flow.Retryable(in.Err)
			}
			if _, err := f.ledger.RemoveUnnotarisedTransaction(id); err != nil {
				logger.WithError(err).Error("Removing unnotarised transaction")
			}
			return nil, in.Err
		}
		sigs, err := decodeSignatures(in.AsyncResult)
		if err != nil {
			return nil, err
		}
		notarised := stx.WithAdditionalSignatures(sigs...)
		if err := notarised.VerifyRequiredSignatures(); err != nil {
			return nil, err
		}
		// the distribution records were written with the unnotarised transaction
		if _, err := f.ledger.FinalizeTransactionWithExtraSignatures(stx, sigs, f.StatesToRecord); err != nil {
			return nil, err
		}
		if f.Transaction, err = notarised.Marshal(); err != nil {
			return nil, err
		}
		return f.distribute(fc, notarised, logger)

	case finalitySent:
		f.Point = finalityAcknowledged
		return flow.Receive{Sessions: f.Sessions}, nil

	case finalityAcknowledged:
		if in.Err != nil {
			return nil, in.Err
		}
		for i, ack := range in.Messages() {
			if !bytes.Equal(ack, id.Bytes()) {
				return nil, fmt.Errorf("peer %d acknowledged %x instead of %s", i, ack, id.Short())
			}
		}
		logger.WithField("peers", len(f.Sessions)).Debug("Transaction distributed")
		return flow.Done{Result: id.Bytes()}, nil
	}

	return nil, fmt.Errorf("bad resume point %d", f.Point)
}

// Release implements flow.Releaser. A flow removed while it waits for the
// notary leaves an in-flight transaction behind, which is removed with its
// distribution records.
func (f *FinalityFlow) Release(fc *flow.Context, err error) {
	if f.ledger == nil || f.Point != finalityNotarised {
		return
	}
	stx, uerr := transaction.UnmarshalSignedTransaction(f.Transaction)
	if uerr != nil {
		return
	}
	id := stx.ID()
	logger := fc.Logger().WithField("tx_id", id.Short())

	if _, status, serr := f.ledger.GetTransactionWithStatus(id); serr != nil || status != ledger.InFlight {
		return
	}
	removed, rerr := f.ledger.RemoveUnnotarisedTransaction(id)
	if rerr != nil {
		logger.WithError(rerr).Error("Removing unnotarised transaction")
		return
	}
	logger.WithFields(logrus.Fields{
		"removed": removed,
		"reason":  err,
	}).Info("Released unnotarised transaction")
}

// distribute sends the finalised stx to the peers.
func (f *FinalityFlow) distribute(fc *flow.Context, stx *transaction.SignedTransaction, logger *logrus.Entry) (flow.Suspension, error) {
	logger.Debug("Finalised")

	if len(f.Peers) == 0 {
		return flow.Done{Result: stx.ID().Bytes()}, nil
	}

	names := make([]string, 0, len(f.Peers))
	for p := range f.Peers {
		names = append(names, p)
	}
	sort.Strings(names)

	list := f.metadata(fc).DistributionList.(*ledger.SenderDistributionList)
	send := flow.Send{}
	f.Sessions = f.Sessions[:0]
	for _, name := range names {
		party, ok := fc.Services().Identity.PartyByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown peer %s", name)
		}
		receiverList, err := f.ledger.CreateReceiverDistributionList(list, name)
		if err != nil {
			return nil, err
		}
		payload, err := (&FinalityMessage{Transaction: f.Transaction, DistributionList: receiverList}).marshal()
		if err != nil {
			return nil, err
		}
		session := fc.InitiateFlow(party)
		f.Sessions = append(f.Sessions, session)
		send.Messages = append(send.Messages, flow.OutgoingMessage{Session: session, Payload: payload})
	}

	f.Point = finalitySent
	return send, nil
}

// needsNotarisation reports whether a transaction consumes or references
// states or has a time window.
func needsNotarisation(wtx *transaction.WireTransaction) bool {
	if wtx.Notary() == nil {
		return false
	}
	return len(wtx.Inputs()) > 0 || len(wtx.References()) > 0 || wtx.TimeWindow() != nil
}
