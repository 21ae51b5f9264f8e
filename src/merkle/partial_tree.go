package merkle

import (
	"github.com/mosaicnetworks/notarium/src/crypto"
)

// NodeKind tags an entry of a PartialTree's pre-order encoding.
type NodeKind uint8

const (
	// Node is an internal node whose two children follow.
	Node NodeKind = iota
	// IncludedLeaf is a leaf whose hash is claimed by the proof.
	IncludedLeaf
	// Pruned is the hash of a subtree that contains no claimed leaf.
	Pruned
)

// maxDepth bounds recursion when decoding untrusted proofs.
const maxDepth = 64

// PartialTree proves that a set of leaves belongs to a tree with a known root
// without revealing the other leaves. Shape lists node kinds in pre-order;
// Hashes holds one entry per IncludedLeaf or Pruned element of Shape, in the
// same order.
type PartialTree struct {
	Shape  []NodeKind          `json:"shape"`
	Hashes []crypto.SecureHash `json:"hashes"`
}

// BuildPartialTree returns the proof for the included leaves of tree.
func BuildPartialTree(tree *Tree, included []crypto.SecureHash) (*PartialTree, error) {
	claimed := make(map[crypto.SecureHash]bool, len(included))
	for _, h := range included {
		if h.IsZero() {
			return nil, newMerkleErr(ZeroHashIncluded, "zero hashes cannot be included in a partial tree")
		}
		if claimed[h] {
			return nil, newMerkleErr(DuplicateLeaf, "%s claimed twice", h.Short())
		}
		claimed[h] = true
	}

	if err := CheckFull(tree); err != nil {
		return nil, err
	}

	pt := &PartialTree{}
	used := make(map[crypto.SecureHash]int)
	pt.build(tree, claimed, used)

	for h, count := range used {
		if count > 1 {
			return nil, newMerkleErr(DuplicateLeaf, "%s matches %d leaves", h.Short(), count)
		}
	}
	if len(used) != len(claimed) {
		for h := range claimed {
			if used[h] == 0 {
				return nil, newMerkleErr(LeafNotFound, "%s is not a leaf of the tree", h.Short())
			}
		}
	}

	return pt, nil
}

// build appends the encoding of n and reports whether n contains a claimed
// leaf. Subtrees without claimed leaves collapse into a single Pruned entry.
func (pt *PartialTree) build(n *Tree, claimed map[crypto.SecureHash]bool, used map[crypto.SecureHash]int) bool {
	if n.IsLeaf() {
		if claimed[n.Hash] {
			used[n.Hash]++
			pt.Shape = append(pt.Shape, IncludedLeaf)
			pt.Hashes = append(pt.Hashes, n.Hash)
			return true
		}
		pt.Shape = append(pt.Shape, Pruned)
		pt.Hashes = append(pt.Hashes, n.Hash)
		return false
	}

	shapeMark, hashMark := len(pt.Shape), len(pt.Hashes)

	pt.Shape = append(pt.Shape, Node)
	left := pt.build(n.Left, claimed, used)
	right := pt.build(n.Right, claimed, used)

	if left || right {
		return true
	}

	pt.Shape = append(pt.Shape[:shapeMark], Pruned)
	pt.Hashes = append(pt.Hashes[:hashMark], n.Hash)
	return false
}

// Verify recomputes the root from the proof and reports whether it equals
// root and the proof's included leaves are exactly the given leaves.
func (pt *PartialTree) Verify(root crypto.SecureHash, included []crypto.SecureHash) bool {
	if pt == nil {
		return false
	}

	computed, used, ok := pt.compute()
	if !ok || computed != root {
		return false
	}

	if len(used) != len(included) {
		return false
	}

	remaining := make(map[crypto.SecureHash]int, len(included))
	for _, h := range included {
		remaining[h]++
	}
	for _, h := range used {
		if remaining[h] == 0 {
			return false
		}
		remaining[h]--
	}

	return true
}

// RootHash recomputes the root hash. ok is false when the encoding is
// malformed.
func (pt *PartialTree) RootHash() (root crypto.SecureHash, ok bool) {
	root, _, ok = pt.compute()
	return root, ok
}

// IncludedLeaves returns the claimed leaf hashes in tree order.
func (pt *PartialTree) IncludedLeaves() []crypto.SecureHash {
	var res []crypto.SecureHash
	hi := 0
	for _, k := range pt.Shape {
		switch k {
		case IncludedLeaf:
			if hi < len(pt.Hashes) {
				res = append(res, pt.Hashes[hi])
			}
			hi++
		case Pruned:
			hi++
		}
	}
	return res
}

func (pt *PartialTree) compute() (crypto.SecureHash, []crypto.SecureHash, bool) {
	d := &decoder{pt: pt}
	root, ok := d.node(0)
	if !ok {
		return crypto.SecureHash{}, nil, false
	}
	// trailing entries are a malformed proof
	if d.shape != len(pt.Shape) || d.hash != len(pt.Hashes) {
		return crypto.SecureHash{}, nil, false
	}
	return root, d.used, true
}

type decoder struct {
	pt    *PartialTree
	shape int
	hash  int
	used  []crypto.SecureHash
}

func (d *decoder) node(depth int) (crypto.SecureHash, bool) {
	if depth > maxDepth || d.shape >= len(d.pt.Shape) {
		return crypto.SecureHash{}, false
	}

	kind := d.pt.Shape[d.shape]
	d.shape++

	switch kind {
	case IncludedLeaf, Pruned:
		if d.hash >= len(d.pt.Hashes) {
			return crypto.SecureHash{}, false
		}
		h := d.pt.Hashes[d.hash]
		d.hash++
		if kind == IncludedLeaf {
			d.used = append(d.used, h)
		}
		return h, true
	case Node:
		left, ok := d.node(depth + 1)
		if !ok {
			return crypto.SecureHash{}, false
		}
		right, ok := d.node(depth + 1)
		if !ok {
			return crypto.SecureHash{}, false
		}
		return crypto.HashConcat(left, right), true
	default:
		return crypto.SecureHash{}, false
	}
}
