package flows

import (
	"context"

	"github.com/mosaicnetworks/notarium/src/flow"
	"github.com/mosaicnetworks/notarium/src/transaction"
)

// Notariser gets transactions countersigned by their notary. It is
// implemented by *notary.Client.
type Notariser interface {
	Notarise(ctx context.Context, stx *transaction.SignedTransaction) ([]transaction.TransactionSignature, error)
}

// NotariseOperation wraps a Notariser as a flow.AsyncOperation. The payload
// is a marshalled SignedTransaction and the result the serialized notary
// signatures.
func NotariseOperation(n Notariser) flow.AsyncOperation {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		stx, err := transaction.UnmarshalSignedTransaction(payload)
		if err != nil {
			return nil, err
		}
		sigs, err := n.Notarise(ctx, stx)
		if err != nil {
			return nil, err
		}
		return transaction.Serialize(sigs)
	}
}

func decodeSignatures(data []byte) ([]transaction.TransactionSignature, error) {
	var sigs []transaction.TransactionSignature
	if err := transaction.Deserialize(data, &sigs); err != nil {
		return nil, err
	}
	return sigs, nil
}
