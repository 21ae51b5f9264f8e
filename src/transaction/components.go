package transaction

import (
	"fmt"

	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/identity"
)

// ComponentGroup identifies a group of transaction components. The value is
// the position of the group root in the transaction id tree.
type ComponentGroup int

const (
	// InputsGroup ...
	InputsGroup ComponentGroup = iota
	// OutputsGroup ...
	OutputsGroup
	// CommandsGroup ...
	CommandsGroup
	// AttachmentsGroup ...
	AttachmentsGroup
	// NotaryGroup ...
	NotaryGroup
	// TimeWindowGroup ...
	TimeWindowGroup
	// SignersGroup ...
	SignersGroup
	// ReferencesGroup ...
	ReferencesGroup
	// ParametersGroup ...
	ParametersGroup

	numGroups
)

// NumGroups is the number of component groups in a transaction.
const NumGroups = int(numGroups)

// String ...
func (g ComponentGroup) String() string {
	switch g {
	case InputsGroup:
		return "Inputs"
	case OutputsGroup:
		return "Outputs"
	case CommandsGroup:
		return "Commands"
	case AttachmentsGroup:
		return "Attachments"
	case NotaryGroup:
		return "Notary"
	case TimeWindowGroup:
		return "TimeWindow"
	case SignersGroup:
		return "Signers"
	case ReferencesGroup:
		return "References"
	case ParametersGroup:
		return "Parameters"
	default:
		return fmt.Sprintf("Group(%d)", int(g))
	}
}

// StateRef points to an output of a previous transaction.
type StateRef struct {
	TxHash crypto.SecureHash `json:"tx_hash"`
	Index  int               `json:"index"`
}

// String ...
func (r StateRef) String() string {
	return fmt.Sprintf("%s(%d)", r.TxHash.String(), r.Index)
}

// TransactionState is an output of a transaction. Data is opaque to the
// platform.
type TransactionState struct {
	Contract     string           `json:"contract"`
	Data         []byte           `json:"data"`
	Participants []identity.Party `json:"participants"`
	Notary       identity.Party   `json:"notary"`
}

// Command names the action a transaction performs and the keys that must sign
// it.
type Command struct {
	Name    string   `json:"name"`
	Value   []byte   `json:"value"`
	Signers []string `json:"signers"`
}

// Component is a single revealed component handed to a filtering predicate.
// Value holds the decoded component: a StateRef, TransactionState, Command,
// crypto.SecureHash, identity.Party, TimeWindow or a signer key string.
type Component struct {
	Group ComponentGroup
	Index int
	Value interface{}
}
