package notary

import (
	"path/filepath"
	"testing"

	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniquenessProviders(t *testing.T) map[string]UniquenessProvider {
	b, err := NewBadgerUniquenessProvider(filepath.Join(t.TempDir(), "uniqueness"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return map[string]UniquenessProvider{
		"inmem":  NewInmemUniquenessProvider(),
		"badger": b,
	}
}

func TestUniquenessCommit(t *testing.T) {
	issue := crypto.HashOf([]byte("issue"))
	a := transaction.StateRef{TxHash: issue, Index: 0}
	b := transaction.StateRef{TxHash: issue, Index: 1}
	ref := transaction.StateRef{TxHash: crypto.HashOf([]byte("reference")), Index: 0}

	tx1 := crypto.HashOf([]byte("tx1"))
	tx2 := crypto.HashOf([]byte("tx2"))
	tx3 := crypto.HashOf([]byte("tx3"))

	for name, u := range uniquenessProviders(t) {
		t.Run(name, func(t *testing.T) {
			conflicts, err := u.Commit([]transaction.StateRef{a}, []transaction.StateRef{ref}, tx1)
			require.NoError(t, err)
			assert.Empty(t, conflicts)

			// same transaction again
			conflicts, err = u.Commit([]transaction.StateRef{a}, []transaction.StateRef{ref}, tx1)
			require.NoError(t, err)
			assert.Empty(t, conflicts)

			// references are not consumed
			conflicts, err = u.Commit([]transaction.StateRef{ref}, nil, tx3)
			require.NoError(t, err)
			assert.Empty(t, conflicts)

			conflicts, err = u.Commit([]transaction.StateRef{a, b}, nil, tx2)
			require.NoError(t, err)
			require.Len(t, conflicts, 1)
			assert.Equal(t, a, conflicts[0].StateRef)
			assert.Equal(t, tx1, conflicts[0].ConsumingTx)

			// nothing was committed for the conflicting transaction
			conflicts, err = u.Commit([]transaction.StateRef{b}, nil, tx3)
			require.NoError(t, err)
			assert.Empty(t, conflicts)

			// a consumed reference conflicts
			conflicts, err = u.Commit(nil, []transaction.StateRef{a}, tx2)
			require.NoError(t, err)
			require.Len(t, conflicts, 1)
		})
	}
}

func TestBadgerUniquenessReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uniqueness")
	ref := transaction.StateRef{TxHash: crypto.HashOf([]byte("issue")), Index: 0}
	tx1 := crypto.HashOf([]byte("tx1"))

	u, err := NewBadgerUniquenessProvider(path, nil)
	require.NoError(t, err)
	_, err = u.Commit([]transaction.StateRef{ref}, nil, tx1)
	require.NoError(t, err)
	require.NoError(t, u.Close())

	u, err = NewBadgerUniquenessProvider(path, nil)
	require.NoError(t, err)
	defer u.Close()

	consumer, ok, err := u.ConsumingTx(ref)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, tx1, consumer)

	conflicts, err := u.Commit([]transaction.StateRef{ref}, nil, crypto.HashOf([]byte("tx2")))
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}
