package identity

import (
	"github.com/mosaicnetworks/notarium/src/common"
)

// NotaryType tells which notary service, if any, a node offers.
type NotaryType string

const (
	// NoNotary is an ordinary node.
	NoNotary NotaryType = ""
	// ValidatingNotary sees and verifies full transactions.
	ValidatingNotary NotaryType = "validating"
	// NonValidatingNotary only sees filtered transactions.
	NonValidatingNotary NotaryType = "non-validating"
)

// NodeInfo locates the node hosting a party.
type NodeInfo struct {
	Name      string
	NetAddr   string
	PubKeyHex string

	// Notary is the kind of notary service hosted by the node.
	Notary NotaryType `json:",omitempty"`

	// NotaryKey is the owning key of the notary service. It defaults to
	// PubKeyHex and is a composite key for clustered notaries.
	NotaryKey string `json:",omitempty"`
}

// NewNodeInfo ...
func NewNodeInfo(name, netAddr, pubKeyHex string) *NodeInfo {
	return &NodeInfo{
		Name:      name,
		NetAddr:   netAddr,
		PubKeyHex: common.NormalizeHex(pubKeyHex),
	}
}

// IsNotary ...
func (n *NodeInfo) IsNotary() bool {
	return n.Notary != NoNotary
}

// Party returns the identity of the node. For notaries this is the notary
// service identity.
func (n *NodeInfo) Party() Party {
	if n.IsNotary() && n.NotaryKey != "" {
		return NewParty(n.Name, n.NotaryKey)
	}
	return NewParty(n.Name, n.PubKeyHex)
}
