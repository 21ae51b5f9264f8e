package flows

import (
	"fmt"

	"github.com/mosaicnetworks/notarium/src/ledger"
	"github.com/mosaicnetworks/notarium/src/transaction"
)

// FinalityMessage is sent by FinalityFlow to each peer.
type FinalityMessage struct {
	Transaction      []byte                           `json:"transaction"`
	DistributionList *ledger.ReceiverDistributionList `json:"distribution_list"`
}

func (m *FinalityMessage) marshal() ([]byte, error) {
	return transaction.Serialize(m)
}

func unmarshalFinalityMessage(data []byte) (*FinalityMessage, *transaction.SignedTransaction, error) {
	var m FinalityMessage
	if err := transaction.Deserialize(data, &m); err != nil {
		return nil, nil, fmt.Errorf("decoding finality message: %w", err)
	}
	if m.DistributionList == nil {
		return nil, nil, fmt.Errorf("finality message without distribution list")
	}
	stx, err := transaction.UnmarshalSignedTransaction(m.Transaction)
	if err != nil {
		return nil, nil, err
	}
	return &m, stx, nil
}
