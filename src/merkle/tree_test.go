package merkle

import (
	"testing"

	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashed(s string) []crypto.SecureHash {
	res := make([]crypto.SecureHash, len(s))
	for i, c := range s {
		res[i] = crypto.HashOf([]byte{byte(c)})
	}
	return res
}

func TestBuildTreeEmpty(t *testing.T) {
	_, err := BuildTree(nil)
	require.Error(t, err)
	assert.True(t, IsMerkle(err, EmptyLeafSet))
}

func TestBuildTreeSingleLeaf(t *testing.T) {
	leaves := hashed("a")

	tree, err := BuildTree(leaves)
	require.NoError(t, err)

	assert.Equal(t, leaves[0], tree.Hash)
	assert.True(t, tree.IsLeaf())
}

func TestBuildTreeSixLeaves(t *testing.T) {
	leaves := hashed("abcdef")

	tree, err := BuildTree(leaves)
	require.NoError(t, err)

	padded, err := BuildTree(append(append([]crypto.SecureHash{}, leaves...), crypto.ZeroHash, crypto.ZeroHash))
	require.NoError(t, err)
	assert.Equal(t, padded.Hash, tree.Hash)

	ab := crypto.HashConcat(leaves[0], leaves[1])
	cd := crypto.HashConcat(leaves[2], leaves[3])
	ef := crypto.HashConcat(leaves[4], leaves[5])
	zz := crypto.HashConcat(crypto.ZeroHash, crypto.ZeroHash)
	expected := crypto.HashConcat(crypto.HashConcat(ab, cd), crypto.HashConcat(ef, zz))

	assert.Equal(t, expected, tree.Hash)
}

func TestBuildTreeOddLeaves(t *testing.T) {
	leaves := hashed("abc")

	tree, err := BuildTree(leaves)
	require.NoError(t, err)

	expected := crypto.HashConcat(
		crypto.HashConcat(leaves[0], leaves[1]),
		crypto.HashConcat(leaves[2], crypto.ZeroHash),
	)

	assert.Equal(t, expected, tree.Hash)
	assert.Len(t, tree.Leaves(), 4)
}

func TestBuildTreeDeterministic(t *testing.T) {
	for n := 1; n <= 17; n++ {
		leaves := hashed("abcdefghijklmnopq"[:n])

		first, err := BuildTree(leaves)
		require.NoError(t, err)
		second, err := BuildTree(leaves)
		require.NoError(t, err)

		assert.Equal(t, first.Hash, second.Hash, "n=%d", n)
		assert.NoError(t, CheckFull(first), "n=%d", n)
	}
}

func TestCheckFull(t *testing.T) {
	leaves := hashed("ab")

	lopsided := &Tree{
		Hash: crypto.HashOf([]byte("x")),
		Left: &Tree{Hash: leaves[0]},
	}
	err := CheckFull(lopsided)
	require.Error(t, err)
	assert.True(t, IsMerkle(err, NotFullTree))

	unbalanced := &Tree{
		Hash: crypto.HashOf([]byte("y")),
		Left: &Tree{Hash: leaves[0]},
		Right: &Tree{
			Hash:  crypto.HashConcat(leaves[0], leaves[1]),
			Left:  &Tree{Hash: leaves[0]},
			Right: &Tree{Hash: leaves[1]},
		},
	}
	err = CheckFull(unbalanced)
	require.Error(t, err)
	assert.True(t, IsMerkle(err, NotFullTree))
}
