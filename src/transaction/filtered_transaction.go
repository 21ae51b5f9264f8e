package transaction

import (
	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/identity"
	"github.com/mosaicnetworks/notarium/src/merkle"
)

// FilteredGroup holds the revealed components of one group, the nonce each
// was hashed with and the proof that they belong to the group.
type FilteredGroup struct {
	Group      ComponentGroup      `json:"group"`
	Components [][]byte            `json:"components"`
	Nonces     []crypto.SecureHash `json:"nonces"`
	Proof      *merkle.PartialTree `json:"proof"`
}

// leaves recomputes the leaf hashes of the revealed components.
func (fg *FilteredGroup) leaves() ([]crypto.SecureHash, bool) {
	if len(fg.Nonces) != len(fg.Components) {
		return nil, false
	}
	res := make([]crypto.SecureHash, len(fg.Components))
	for i, c := range fg.Components {
		res[i] = componentLeaf(fg.Nonces[i], c)
	}
	return res, true
}

// FilteredTransaction is a partial view of a WireTransaction. Groups without
// revealed components only contribute their root through GroupHashes.
type FilteredTransaction struct {
	ID          crypto.SecureHash   `json:"id"`
	Groups      []FilteredGroup     `json:"groups"`
	GroupHashes []crypto.SecureHash `json:"group_hashes"`
}

// NonValidatingNotaryPredicate selects what a non-validating notary needs to
// see: the input and reference states, the time window, the notary and the
// network parameters hash.
func NonValidatingNotaryPredicate(c Component) bool {
	switch c.Group {
	case InputsGroup, ReferencesGroup, TimeWindowGroup, NotaryGroup, ParametersGroup:
		return true
	}
	return false
}

// BuildFilteredTransaction reveals the components accepted by pred.
func (w *WireTransaction) BuildFilteredTransaction(pred func(c Component) bool) (*FilteredTransaction, error) {
	ftx := &FilteredTransaction{
		ID:          w.id,
		Groups:      []FilteredGroup{},
		GroupHashes: w.GroupHashes(),
	}

	for g := ComponentGroup(0); g < numGroups; g++ {
		var selected [][]byte
		var selectedNonces, selectedLeaves []crypto.SecureHash

		for i, bytes := range w.raw[g] {
			v, _ := decodeComponent(g, bytes)
			if pred(Component{Group: g, Index: i, Value: v}) {
				selected = append(selected, bytes)
				selectedNonces = append(selectedNonces, w.nonces[g][i])
				selectedLeaves = append(selectedLeaves, w.leaves[g][i])
			}
		}

		if len(selected) == 0 {
			continue
		}

		tree, err := merkle.BuildTree(w.leaves[g])
		if err != nil {
			return nil, err
		}
		proof, err := merkle.BuildPartialTree(tree, selectedLeaves)
		if err != nil {
			return nil, err
		}

		ftx.Groups = append(ftx.Groups, FilteredGroup{
			Group:      g,
			Components: selected,
			Nonces:     selectedNonces,
			Proof:      proof,
		})
	}

	return ftx, nil
}

// Verify checks that the revealed components belong to the transaction with
// id claimedID.
func (f *FilteredTransaction) Verify(claimedID crypto.SecureHash) error {
	if len(f.GroupHashes) != NumGroups {
		return newTransactionErr(InvalidProof, "expected %d group hashes, got %d", NumGroups, len(f.GroupHashes))
	}

	root, err := merkle.RootOf(f.GroupHashes)
	if err != nil {
		return newTransactionErr(InvalidProof, "%v", err)
	}
	if root != f.ID {
		return newTransactionErr(IDMismatch, "group hashes give %s, transaction claims %s", root, f.ID)
	}
	if f.ID != claimedID {
		return newTransactionErr(IDMismatch, "transaction id %s, expected %s", f.ID, claimedID)
	}

	seen := make(map[ComponentGroup]bool)
	for _, fg := range f.Groups {
		if fg.Group < 0 || fg.Group >= numGroups {
			return newTransactionErr(InvalidProof, "unknown component group %d", int(fg.Group))
		}
		if seen[fg.Group] {
			return newTransactionErr(InvalidProof, "group %s revealed twice", fg.Group)
		}
		seen[fg.Group] = true

		if len(fg.Components) == 0 || fg.Proof == nil {
			return newTransactionErr(InvalidProof, "group %s has no components or no proof", fg.Group)
		}

		for i, c := range fg.Components {
			if _, err := decodeComponent(fg.Group, c); err != nil {
				return newTransactionErr(InvalidProof, "group %s component %d: %v", fg.Group, i, err)
			}
		}
		leaves, ok := fg.leaves()
		if !ok {
			return newTransactionErr(InvalidProof, "group %s has %d components and %d nonces", fg.Group, len(fg.Components), len(fg.Nonces))
		}

		if !fg.Proof.Verify(f.GroupHashes[fg.Group], leaves) {
			return newTransactionErr(InvalidProof, "group %s does not match its root", fg.Group)
		}
	}

	return nil
}

// Verified is Verify as a boolean.
func (f *FilteredTransaction) Verified(claimedID crypto.SecureHash) bool {
	return f.Verify(claimedID) == nil
}

// CheckAllComponentsVisible checks that the revealed components of group g are
// the whole group.
func (f *FilteredTransaction) CheckAllComponentsVisible(g ComponentGroup) error {
	if g < 0 || g >= numGroups || len(f.GroupHashes) != NumGroups {
		return newTransactionErr(ComponentsNotVisible, "no group %s", g)
	}

	fg := f.group(g)
	if fg == nil {
		if f.GroupHashes[g] == crypto.AllOnesHash {
			return nil
		}
		return newTransactionErr(ComponentsNotVisible, "group %s is hidden", g)
	}

	leaves, ok := fg.leaves()
	if !ok {
		return newTransactionErr(ComponentsNotVisible, "group %s is malformed", g)
	}
	root, err := merkle.RootOf(leaves)
	if err != nil || root != f.GroupHashes[g] {
		return newTransactionErr(ComponentsNotVisible, "group %s is partially hidden", g)
	}
	return nil
}

func (f *FilteredTransaction) group(g ComponentGroup) *FilteredGroup {
	for i := range f.Groups {
		if f.Groups[i].Group == g {
			return &f.Groups[i]
		}
	}
	return nil
}

func (f *FilteredTransaction) components(g ComponentGroup) []interface{} {
	fg := f.group(g)
	if fg == nil {
		return nil
	}
	res := make([]interface{}, 0, len(fg.Components))
	for _, c := range fg.Components {
		if v, err := decodeComponent(g, c); err == nil {
			res = append(res, v)
		}
	}
	return res
}

// Inputs returns the revealed inputs.
func (f *FilteredTransaction) Inputs() []StateRef {
	res := []StateRef{}
	for _, v := range f.components(InputsGroup) {
		res = append(res, v.(StateRef))
	}
	return res
}

// References returns the revealed reference inputs.
func (f *FilteredTransaction) References() []StateRef {
	res := []StateRef{}
	for _, v := range f.components(ReferencesGroup) {
		res = append(res, v.(StateRef))
	}
	return res
}

// Outputs returns the revealed outputs.
func (f *FilteredTransaction) Outputs() []TransactionState {
	res := []TransactionState{}
	for _, v := range f.components(OutputsGroup) {
		res = append(res, v.(TransactionState))
	}
	return res
}

// Commands returns the revealed commands.
func (f *FilteredTransaction) Commands() []Command {
	res := []Command{}
	for _, v := range f.components(CommandsGroup) {
		res = append(res, v.(Command))
	}
	return res
}

// TimeWindow returns the time window if it was revealed.
func (f *FilteredTransaction) TimeWindow() *TimeWindow {
	vs := f.components(TimeWindowGroup)
	if len(vs) == 0 {
		return nil
	}
	tw := vs[0].(TimeWindow)
	return &tw
}

// Notary returns the notary if it was revealed.
func (f *FilteredTransaction) Notary() *identity.Party {
	vs := f.components(NotaryGroup)
	if len(vs) == 0 {
		return nil
	}
	p := vs[0].(identity.Party)
	return &p
}

// NetworkParametersHash returns the parameters hash if it was revealed.
func (f *FilteredTransaction) NetworkParametersHash() *crypto.SecureHash {
	vs := f.components(ParametersGroup)
	if len(vs) == 0 {
		return nil
	}
	h := vs[0].(crypto.SecureHash)
	return &h
}

// Marshal ...
func (f *FilteredTransaction) Marshal() ([]byte, error) {
	return Serialize(f)
}

// UnmarshalFilteredTransaction ...
func UnmarshalFilteredTransaction(data []byte) (*FilteredTransaction, error) {
	var f FilteredTransaction
	if err := Deserialize(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
