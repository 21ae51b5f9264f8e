package transaction

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/identity"
	"github.com/mosaicnetworks/notarium/src/merkle"
)

// TransactionBuilder collects the components of a transaction before it is
// frozen into a WireTransaction. The signers group is derived from the
// commands. A random PrivacySalt is drawn when none is set.
type TransactionBuilder struct {
	PrivacySalt           *crypto.SecureHash
	Inputs                []StateRef
	References            []StateRef
	Outputs               []TransactionState
	Commands              []Command
	Attachments           []crypto.SecureHash
	Notary                *identity.Party
	TimeWindow            *TimeWindow
	NetworkParametersHash *crypto.SecureHash
}

// ToWireTransaction ...
func (b *TransactionBuilder) ToWireTransaction() (*WireTransaction, error) {
	return NewWireTransaction(b)
}

// WireTransaction is an immutable transaction whose id is the Merkle root of
// its component group roots. Every component leaf is hashed with a nonce
// derived from the privacy salt and the component position, so equal
// components get distinct leaves and hidden components cannot be guessed.
// All accessors return copies.
type WireTransaction struct {
	salt   crypto.SecureHash
	raw    [numGroups][][]byte
	nonces [numGroups][]crypto.SecureHash
	leaves [numGroups][]crypto.SecureHash
	roots  [numGroups]crypto.SecureHash
	id     crypto.SecureHash

	inputs      []StateRef
	outputs     []TransactionState
	commands    []Command
	attachments []crypto.SecureHash
	notary      *identity.Party
	timeWindow  *TimeWindow
	signers     []string
	references  []StateRef
	paramsHash  *crypto.SecureHash
}

// wireFormat is the serialized form of a WireTransaction. Keeping the
// component bytes guarantees that a decoded transaction hashes to the same id.
type wireFormat struct {
	Salt   crypto.SecureHash `json:"salt"`
	Groups [][][]byte        `json:"groups"`
}

// NewWireTransaction serializes and hashes every component of b.
func NewWireTransaction(b *TransactionBuilder) (*WireTransaction, error) {
	var raw [numGroups][][]byte

	add := func(g ComponentGroup, v interface{}) error {
		bytes, err := Serialize(v)
		if err != nil {
			return newTransactionErr(InvalidTransaction, "serializing %s component: %v", g, err)
		}
		raw[g] = append(raw[g], bytes)
		return nil
	}

	for _, in := range b.Inputs {
		if err := add(InputsGroup, in); err != nil {
			return nil, err
		}
	}
	for _, out := range b.Outputs {
		if err := add(OutputsGroup, out); err != nil {
			return nil, err
		}
	}
	signers := []string{}
	seen := make(map[string]bool)
	for _, cmd := range b.Commands {
		if err := add(CommandsGroup, cmd); err != nil {
			return nil, err
		}
		for _, s := range cmd.Signers {
			if !seen[s] {
				seen[s] = true
				signers = append(signers, s)
			}
		}
	}
	for _, a := range b.Attachments {
		if err := add(AttachmentsGroup, a); err != nil {
			return nil, err
		}
	}
	if b.Notary != nil {
		if err := add(NotaryGroup, *b.Notary); err != nil {
			return nil, err
		}
	}
	if b.TimeWindow != nil {
		if err := add(TimeWindowGroup, *b.TimeWindow); err != nil {
			return nil, err
		}
	}
	for _, s := range signers {
		if err := add(SignersGroup, s); err != nil {
			return nil, err
		}
	}
	for _, ref := range b.References {
		if err := add(ReferencesGroup, ref); err != nil {
			return nil, err
		}
	}
	if b.NetworkParametersHash != nil {
		if err := add(ParametersGroup, *b.NetworkParametersHash); err != nil {
			return nil, err
		}
	}

	var salt crypto.SecureHash
	if b.PrivacySalt != nil {
		salt = *b.PrivacySalt
	} else if _, err := rand.Read(salt[:]); err != nil {
		return nil, newTransactionErr(InvalidTransaction, "drawing privacy salt: %v", err)
	}

	return fromRaw(salt, raw)
}

// UnmarshalWireTransaction decodes the output of Marshal.
func UnmarshalWireTransaction(data []byte) (*WireTransaction, error) {
	var wf wireFormat
	if err := Deserialize(data, &wf); err != nil {
		return nil, newTransactionErr(InvalidTransaction, "decoding: %v", err)
	}
	if len(wf.Groups) != NumGroups {
		return nil, newTransactionErr(InvalidTransaction, "expected %d component groups, got %d", NumGroups, len(wf.Groups))
	}

	var raw [numGroups][][]byte
	copy(raw[:], wf.Groups)
	return fromRaw(wf.Salt, raw)
}

// Marshal ...
func (w *WireTransaction) Marshal() ([]byte, error) {
	return Serialize(wireFormat{Salt: w.salt, Groups: w.raw[:]})
}

func fromRaw(salt crypto.SecureHash, raw [numGroups][][]byte) (*WireTransaction, error) {
	if salt.IsZero() {
		return nil, newTransactionErr(InvalidTransaction, "privacy salt must not be zero")
	}
	w := &WireTransaction{salt: salt, raw: raw}

	for g := ComponentGroup(0); g < numGroups; g++ {
		for i, bytes := range raw[g] {
			v, err := decodeComponent(g, bytes)
			if err != nil {
				return nil, newTransactionErr(InvalidTransaction, "%s component %d: %v", g, i, err)
			}
			w.setComponent(g, v)

			nonce := componentNonce(salt, g, i)
			w.nonces[g] = append(w.nonces[g], nonce)
			w.leaves[g] = append(w.leaves[g], componentLeaf(nonce, bytes))
		}

		root, err := groupRoot(w.leaves[g])
		if err != nil {
			return nil, err
		}
		w.roots[g] = root
	}

	if err := w.validate(); err != nil {
		return nil, err
	}

	id, err := merkle.RootOf(w.roots[:])
	if err != nil {
		return nil, err
	}
	w.id = id

	return w, nil
}

// componentNonce is the hash of the salt followed by the big-endian group
// and index of the component.
func componentNonce(salt crypto.SecureHash, g ComponentGroup, i int) crypto.SecureHash {
	buf := make([]byte, 0, crypto.HashSize+8)
	buf = append(buf, salt[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(g))
	buf = binary.BigEndian.AppendUint32(buf, uint32(i))
	return crypto.HashOf(buf)
}

func componentLeaf(nonce crypto.SecureHash, component []byte) crypto.SecureHash {
	buf := make([]byte, 0, crypto.HashSize+len(component))
	buf = append(buf, nonce[:]...)
	buf = append(buf, component...)
	return crypto.HashOf(buf)
}

func groupRoot(leaves []crypto.SecureHash) (crypto.SecureHash, error) {
	if len(leaves) == 0 {
		return crypto.AllOnesHash, nil
	}
	return merkle.RootOf(leaves)
}

func decodeComponent(g ComponentGroup, data []byte) (interface{}, error) {
	var err error
	var v interface{}

	switch g {
	case InputsGroup, ReferencesGroup:
		var ref StateRef
		err = Deserialize(data, &ref)
		v = ref
	case OutputsGroup:
		var out TransactionState
		err = Deserialize(data, &out)
		v = out
	case CommandsGroup:
		var cmd Command
		err = Deserialize(data, &cmd)
		v = cmd
	case AttachmentsGroup, ParametersGroup:
		var h crypto.SecureHash
		err = Deserialize(data, &h)
		v = h
	case NotaryGroup:
		var p identity.Party
		err = Deserialize(data, &p)
		v = p
	case TimeWindowGroup:
		var tw TimeWindow
		err = Deserialize(data, &tw)
		v = tw
	case SignersGroup:
		var s string
		err = Deserialize(data, &s)
		v = s
	default:
		return nil, newTransactionErr(InvalidTransaction, "unknown component group %d", int(g))
	}

	return v, err
}

func (w *WireTransaction) setComponent(g ComponentGroup, v interface{}) {
	switch g {
	case InputsGroup:
		w.inputs = append(w.inputs, v.(StateRef))
	case OutputsGroup:
		w.outputs = append(w.outputs, v.(TransactionState))
	case CommandsGroup:
		w.commands = append(w.commands, v.(Command))
	case AttachmentsGroup:
		w.attachments = append(w.attachments, v.(crypto.SecureHash))
	case NotaryGroup:
		p := v.(identity.Party)
		w.notary = &p
	case TimeWindowGroup:
		tw := v.(TimeWindow)
		w.timeWindow = &tw
	case SignersGroup:
		w.signers = append(w.signers, v.(string))
	case ReferencesGroup:
		w.references = append(w.references, v.(StateRef))
	case ParametersGroup:
		h := v.(crypto.SecureHash)
		w.paramsHash = &h
	}
}

func (w *WireTransaction) validate() error {
	if len(w.raw[NotaryGroup]) > 1 {
		return newTransactionErr(InvalidTransaction, "more than one notary")
	}
	if len(w.raw[TimeWindowGroup]) > 1 {
		return newTransactionErr(InvalidTransaction, "more than one time window")
	}
	if len(w.raw[ParametersGroup]) > 1 {
		return newTransactionErr(InvalidTransaction, "more than one network parameters hash")
	}
	spent := make(map[StateRef]bool, len(w.inputs))
	for _, in := range w.inputs {
		if spent[in] {
			return newTransactionErr(InvalidTransaction, "duplicate input %s", in)
		}
		spent[in] = true
	}
	referenced := make(map[StateRef]bool, len(w.references))
	for _, ref := range w.references {
		if referenced[ref] {
			return newTransactionErr(InvalidTransaction, "duplicate reference %s", ref)
		}
		if spent[ref] {
			return newTransactionErr(InvalidTransaction, "%s is both an input and a reference", ref)
		}
		referenced[ref] = true
	}
	if w.notary == nil {
		if len(w.inputs) > 0 || len(w.references) > 0 {
			return newTransactionErr(InvalidTransaction, "transactions with input or reference states must have a notary")
		}
		if w.timeWindow != nil {
			return newTransactionErr(InvalidTransaction, "transactions with a time window must have a notary")
		}
	}
	if w.timeWindow != nil {
		if err := w.timeWindow.validate(); err != nil {
			return newTransactionErr(InvalidTransaction, "%v", err)
		}
	}
	return nil
}

// ID ...
func (w *WireTransaction) ID() crypto.SecureHash {
	return w.id
}

// GroupHashes returns the roots of the component groups, indexed by
// ComponentGroup.
func (w *WireTransaction) GroupHashes() []crypto.SecureHash {
	res := make([]crypto.SecureHash, NumGroups)
	copy(res, w.roots[:])
	return res
}

// PrivacySalt ...
func (w *WireTransaction) PrivacySalt() crypto.SecureHash {
	return w.salt
}

// ComponentHashes returns the leaf hashes of group g.
func (w *WireTransaction) ComponentHashes(g ComponentGroup) []crypto.SecureHash {
	return append([]crypto.SecureHash{}, w.leaves[g]...)
}

// Components lists every component of the transaction in group order.
func (w *WireTransaction) Components() []Component {
	res := []Component{}
	for g := ComponentGroup(0); g < numGroups; g++ {
		for i, bytes := range w.raw[g] {
			v, _ := decodeComponent(g, bytes)
			res = append(res, Component{Group: g, Index: i, Value: v})
		}
	}
	return res
}

// Inputs ...
func (w *WireTransaction) Inputs() []StateRef {
	return append([]StateRef{}, w.inputs...)
}

// References ...
func (w *WireTransaction) References() []StateRef {
	return append([]StateRef{}, w.references...)
}

// Outputs ...
func (w *WireTransaction) Outputs() []TransactionState {
	return append([]TransactionState{}, w.outputs...)
}

// Commands ...
func (w *WireTransaction) Commands() []Command {
	return append([]Command{}, w.commands...)
}

// Attachments ...
func (w *WireTransaction) Attachments() []crypto.SecureHash {
	return append([]crypto.SecureHash{}, w.attachments...)
}

// Notary ...
func (w *WireTransaction) Notary() *identity.Party {
	if w.notary == nil {
		return nil
	}
	p := *w.notary
	return &p
}

// TimeWindow ...
func (w *WireTransaction) TimeWindow() *TimeWindow {
	if w.timeWindow == nil {
		return nil
	}
	tw := *w.timeWindow
	return &tw
}

// Signers returns the command signers in order of first appearance.
func (w *WireTransaction) Signers() []string {
	return append([]string{}, w.signers...)
}

// NetworkParametersHash ...
func (w *WireTransaction) NetworkParametersHash() *crypto.SecureHash {
	if w.paramsHash == nil {
		return nil
	}
	h := *w.paramsHash
	return &h
}

// RequiredSigningKeys returns the command signers plus the notary key when the
// transaction consumes or references states or has a time window.
func (w *WireTransaction) RequiredSigningKeys() []string {
	res := w.Signers()
	if w.notary != nil && (len(w.inputs) > 0 || len(w.references) > 0 || w.timeWindow != nil) {
		res = append(res, w.notary.OwningKey)
	}
	return res
}

// OutputRef returns the StateRef of output i.
func (w *WireTransaction) OutputRef(i int) StateRef {
	return StateRef{TxHash: w.id, Index: i}
}
