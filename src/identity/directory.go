package identity

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/crypto/keys"
)

// IdentityService resolves parties and their addresses.
type IdentityService interface {
	PartyByName(name string) (Party, bool)
	PartyFromKey(key string) (Party, bool)
	AddressOf(p Party) (string, error)
	PartyAt(netAddr string) (Party, bool)
}

// NotaryDirectory answers which parties are notaries.
type NotaryDirectory interface {
	IsNotary(p Party) bool
	IsValidatingNotary(p Party) bool
}

// Directory is the network map: the set of known nodes indexed by name, key
// and address. It implements IdentityService and NotaryDirectory.
type Directory struct {
	sync.RWMutex

	nodes     []*NodeInfo
	byName    map[string]*NodeInfo
	byKey     map[string]*NodeInfo
	byNetAddr map[string]*NodeInfo
}

// NewDirectory creates a Directory from a list of NodeInfos.
func NewDirectory(nodes []*NodeInfo) *Directory {
	d := &Directory{}
	d.index(nodes)
	return d
}

func (d *Directory) index(nodes []*NodeInfo) {
	d.nodes = nodes
	d.byName = make(map[string]*NodeInfo, len(nodes))
	d.byKey = make(map[string]*NodeInfo, len(nodes))
	d.byNetAddr = make(map[string]*NodeInfo, len(nodes))

	for _, n := range nodes {
		d.byName[n.Name] = n
		d.byKey[common.NormalizeHex(n.PubKeyHex)] = n
		d.byNetAddr[n.NetAddr] = n
		if n.NotaryKey != "" {
			d.byKey[n.NotaryKey] = n
			for _, leaf := range keys.LeafKeysOf(n.NotaryKey) {
				if _, ok := d.byKey[leaf]; !ok {
					d.byKey[leaf] = n
				}
			}
		}
	}
}

// Add inserts or replaces a node.
func (d *Directory) Add(n *NodeInfo) {
	d.Lock()
	defer d.Unlock()

	nodes := make([]*NodeInfo, 0, len(d.nodes)+1)
	for _, existing := range d.nodes {
		if existing.Name != n.Name {
			nodes = append(nodes, existing)
		}
	}
	d.index(append(nodes, n))
}

// Nodes returns the known nodes sorted by name.
func (d *Directory) Nodes() []*NodeInfo {
	d.RLock()
	defer d.RUnlock()

	res := make([]*NodeInfo, len(d.nodes))
	copy(res, d.nodes)
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// Len ...
func (d *Directory) Len() int {
	d.RLock()
	defer d.RUnlock()
	return len(d.nodes)
}

// NodeByName ...
func (d *Directory) NodeByName(name string) (*NodeInfo, bool) {
	d.RLock()
	defer d.RUnlock()
	n, ok := d.byName[name]
	return n, ok
}

// PartyByName implements IdentityService.
func (d *Directory) PartyByName(name string) (Party, bool) {
	n, ok := d.NodeByName(name)
	if !ok {
		return Party{}, false
	}
	return n.Party(), true
}

// PartyFromKey implements IdentityService. The key may be a node key, a
// notary service key, or one of the member keys of a composite notary key.
func (d *Directory) PartyFromKey(key string) (Party, bool) {
	d.RLock()
	defer d.RUnlock()

	if !keys.IsCompositeKey(key) {
		key = common.NormalizeHex(key)
	}
	n, ok := d.byKey[key]
	if !ok {
		return Party{}, false
	}
	return n.Party(), true
}

// PartyAt implements IdentityService.
func (d *Directory) PartyAt(netAddr string) (Party, bool) {
	d.RLock()
	defer d.RUnlock()
	n, ok := d.byNetAddr[netAddr]
	if !ok {
		return Party{}, false
	}
	return n.Party(), true
}

// AddressOf implements IdentityService.
func (d *Directory) AddressOf(p Party) (string, error) {
	n, ok := d.NodeByName(p.Name)
	if !ok {
		return "", fmt.Errorf("unknown party %s", p.Name)
	}
	return n.NetAddr, nil
}

// IsNotary implements NotaryDirectory. The party must match the notary's
// service identity exactly.
func (d *Directory) IsNotary(p Party) bool {
	n, ok := d.NodeByName(p.Name)
	return ok && n.IsNotary() && n.Party() == p
}

// IsValidatingNotary implements NotaryDirectory.
func (d *Directory) IsValidatingNotary(p Party) bool {
	n, ok := d.NodeByName(p.Name)
	return ok && n.Notary == ValidatingNotary && n.Party() == p
}

// Notaries returns the notary parties on the network.
func (d *Directory) Notaries() []Party {
	res := []Party{}
	for _, n := range d.Nodes() {
		if n.IsNotary() {
			res = append(res, n.Party())
		}
	}
	return res
}
