package merkle

import (
	"github.com/mosaicnetworks/notarium/src/crypto"
)

// Tree is an immutable binary hash tree. A node without children is a leaf;
// every other node has both children and Hash = HashConcat(Left, Right).
type Tree struct {
	Hash  crypto.SecureHash
	Left  *Tree
	Right *Tree
}

// IsLeaf ...
func (t *Tree) IsLeaf() bool {
	return t.Left == nil && t.Right == nil
}

// BuildTree builds the tree over leaves, padding with crypto.ZeroHash to the
// next power of two.
func BuildTree(leaves []crypto.SecureHash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, newMerkleErr(EmptyLeafSet, "cannot build a tree without leaves")
	}

	level := make([]*Tree, 0, nextPowerOfTwo(len(leaves)))
	for _, l := range leaves {
		level = append(level, &Tree{Hash: l})
	}
	for len(level) < cap(level) {
		level = append(level, &Tree{Hash: crypto.ZeroHash})
	}

	for len(level) > 1 {
		next := make([]*Tree, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, &Tree{
				Hash:  crypto.HashConcat(level[i].Hash, level[i+1].Hash),
				Left:  level[i],
				Right: level[i+1],
			})
		}
		level = next
	}

	return level[0], nil
}

// RootOf is shorthand for BuildTree(leaves).Hash.
func RootOf(leaves []crypto.SecureHash) (crypto.SecureHash, error) {
	t, err := BuildTree(leaves)
	if err != nil {
		return crypto.SecureHash{}, err
	}
	return t.Hash, nil
}

// CheckFull verifies that every internal node has two children and that all
// leaves are at the same depth.
func CheckFull(t *Tree) error {
	if t == nil {
		return newMerkleErr(NotFullTree, "nil tree")
	}
	_, err := checkFull(t, 0)
	return err
}

func checkFull(t *Tree, depth int) (int, error) {
	if t.IsLeaf() {
		return depth, nil
	}
	if t.Left == nil || t.Right == nil {
		return 0, newMerkleErr(NotFullTree, "node %s has a single child", t.Hash.Short())
	}
	l, err := checkFull(t.Left, depth+1)
	if err != nil {
		return 0, err
	}
	r, err := checkFull(t.Right, depth+1)
	if err != nil {
		return 0, err
	}
	if l != r {
		return 0, newMerkleErr(NotFullTree, "leaves at depths %d and %d", l, r)
	}
	return l, nil
}

// Leaves returns the leaf hashes from left to right, padding included.
func (t *Tree) Leaves() []crypto.SecureHash {
	var res []crypto.SecureHash
	var walk func(n *Tree)
	walk = func(n *Tree) {
		if n == nil {
			return
		}
		if n.IsLeaf() {
			res = append(res, n.Hash)
			return
		}
		walk(n.Left)
		walk(n.Right)
	}
	walk(t)
	return res
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
