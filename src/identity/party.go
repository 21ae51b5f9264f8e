package identity

import (
	"fmt"

	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/crypto/keys"
)

// Party is a legal identity on the network.
type Party struct {
	Name      string `json:"name"`
	OwningKey string `json:"owning_key"`
}

// NewParty normalizes the owning key and returns a Party.
func NewParty(name, owningKey string) Party {
	if !keys.IsCompositeKey(owningKey) {
		owningKey = common.NormalizeHex(owningKey)
	}
	return Party{Name: name, OwningKey: owningKey}
}

// ID is the party identifier recorded in distribution records.
func (p Party) ID() crypto.SecureHash {
	return PartyID(p.Name)
}

// PartyID hashes a party name into the identifier used by distribution
// records.
func PartyID(name string) crypto.SecureHash {
	return crypto.HashOf([]byte(name))
}

// IsZero reports whether p is the empty Party.
func (p Party) IsZero() bool {
	return p.Name == "" && p.OwningKey == ""
}

// String ...
func (p Party) String() string {
	return p.Name
}

// GoString ...
func (p Party) GoString() string {
	return fmt.Sprintf("Party{%s, %s}", p.Name, p.OwningKey)
}
