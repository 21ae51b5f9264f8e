package flows

import (
	"github.com/mosaicnetworks/notarium/src/flow"
	"github.com/mosaicnetworks/notarium/src/ledger"
)

const (
	// FinalityFlowName ...
	FinalityFlowName = "finality"
	// ReceiveFinalityFlowName ...
	ReceiveFinalityFlowName = "receive-finality"
	// NotariseOperationName ...
	NotariseOperationName = "notarise"
)

// Register adds the built-in flows and operations to r. The flows record
// transactions in l; n serves the notarise operation.
func Register(r *flow.Registry, l ledger.Ledger, n Notariser) error {
	if err := r.Register(FinalityFlowName, func() flow.Logic {
		return &FinalityFlow{ledger: l}
	}); err != nil {
		return err
	}

	if err := r.RegisterResponder(FinalityFlowName, ReceiveFinalityFlowName, func() flow.Logic {
		return &ReceiveFinalityFlow{ledger: l}
	}); err != nil {
		return err
	}

	r.RegisterOperation(NotariseOperationName, NotariseOperation(n))

	return nil
}
