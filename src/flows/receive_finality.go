package flows

import (
	"errors"
	"fmt"

	"github.com/mosaicnetworks/notarium/src/flow"
	"github.com/mosaicnetworks/notarium/src/ledger"
	"github.com/sirupsen/logrus"
)

// ReceiveFinalityFlow responds to FinalityFlow. It records the transaction
// with the receiver distribution list sent along and acknowledges it with
// the transaction id.
type ReceiveFinalityFlow struct {
	Point int
	TxID  []byte

	ledger ledger.Ledger
}

// Resume implements flow.Logic.
func (r *ReceiveFinalityFlow) Resume(fc *flow.Context, in flow.Input) (flow.Suspension, error) {
	session, ok := fc.InitiatingSession()
	if !ok {
		return nil, errors.New("receive finality needs an initiating session")
	}

	switch r.Point {
	case 0:
		r.Point = 1
		return flow.ReceiveFrom(session), nil

	case 1:
		data, err := in.Message()
		if err != nil {
			return nil, err
		}
		msg, stx, err := unmarshalFinalityMessage(data)
		if err != nil {
			return nil, err
		}
		if err := stx.VerifyRequiredSignatures(); err != nil {
			return nil, err
		}

		initiator, _ := fc.Counterparty(session)
		if _, err := r.ledger.FinalizeTransaction(stx, ledger.TransactionMetadata{
			Initiator:        initiator.Name,
			DistributionList: msg.DistributionList,
		}, false); err != nil {
			return nil, err
		}

		id := stx.ID()
		fc.Logger().WithFields(logrus.Fields{
			"tx_id":     id.Short(),
			"initiator": initiator.Name,
		}).Debug("Received transaction")

		r.TxID = id.Bytes()
		r.Point = 2
		return flow.SendTo(session, r.TxID), nil

	case 2:
		return flow.Done{Result: r.TxID}, nil
	}

	return nil, fmt.Errorf("bad resume point %d", r.Point)
}
