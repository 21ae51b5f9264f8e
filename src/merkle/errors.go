package merkle

import (
	"errors"
	"fmt"
)

// ErrType discriminates structural Merkle errors.
type ErrType uint32

const (
	// EmptyLeafSet is returned when building a tree from no leaves.
	EmptyLeafSet ErrType = iota
	// NotFullTree is returned when an internal node has a single child or
	// leaves sit at different depths.
	NotFullTree
	// DuplicateLeaf is returned when a partial tree would claim the same hash
	// twice.
	DuplicateLeaf
	// LeafNotFound is returned when a claimed hash is not a leaf of the tree.
	LeafNotFound
	// ZeroHashIncluded is returned when a padding hash is claimed.
	ZeroHashIncluded
)

// MerkleErr is the error returned by tree construction.
type MerkleErr struct {
	errType ErrType
	detail  string
}

func newMerkleErr(t ErrType, format string, args ...interface{}) MerkleErr {
	return MerkleErr{errType: t, detail: fmt.Sprintf(format, args...)}
}

// Type returns the discriminator.
func (e MerkleErr) Type() ErrType {
	return e.errType
}

// Error ...
func (e MerkleErr) Error() string {
	m := ""
	switch e.errType {
	case EmptyLeafSet:
		m = "Empty Leaf Set"
	case NotFullTree:
		m = "Not Full Tree"
	case DuplicateLeaf:
		m = "Duplicate Leaf"
	case LeafNotFound:
		m = "Leaf Not Found"
	case ZeroHashIncluded:
		m = "Zero Hash Included"
	}
	if e.detail == "" {
		return m
	}
	return fmt.Sprintf("%s: %s", m, e.detail)
}

// IsMerkle reports whether err is a MerkleErr of type t.
func IsMerkle(err error, t ErrType) bool {
	var merkleErr MerkleErr
	return errors.As(err, &merkleErr) && merkleErr.errType == t
}
