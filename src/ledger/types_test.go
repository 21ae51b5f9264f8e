package ledger

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/notarium/src/crypto/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoveryTimeWindow(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := NewRecoveryTimeWindow(from, from.Add(-time.Nanosecond))
	assert.Error(t, err)

	w, err := Between(from, from)
	require.NoError(t, err)
	assert.True(t, w.Contains(from))
	assert.False(t, w.Contains(from.Add(time.Nanosecond)))

	w, err = UntilOnly(from)
	require.NoError(t, err)
	assert.True(t, w.From.Equal(Epoch))
	assert.True(t, w.Contains(Epoch))

	w, err = FromOnly(from)
	require.NoError(t, err)
	assert.False(t, w.Until.Before(from))

	_, err = FromOnly(time.Now().Add(time.Hour))
	assert.Error(t, err)
}

func TestPartyID(t *testing.T) {
	assert.Equal(t, PartyID("Alice"), PartyID("Alice"))
	assert.NotEqual(t, PartyID("Alice"), PartyID("Bob"))
}

func TestDistributionRecordType(t *testing.T) {
	for _, rt := range []DistributionRecordType{Sender, Receiver, All} {
		parsed, err := ParseDistributionRecordType(rt.String())
		require.NoError(t, err)
		assert.Equal(t, rt, parsed)
	}
	_, err := ParseDistributionRecordType("Nobody")
	assert.Error(t, err)
}

func TestSealer(t *testing.T) {
	key, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	sealer, err := NewSealerFromKey(key)
	require.NoError(t, err)

	list := &SenderDistributionList{
		SenderStatesToRecord:  OnlyRelevant,
		PeersToStatesToRecord: map[string]StatesToRecord{"Bob": AllVisible, "Carol": None},
	}

	blob, err := sealer.Seal(list)
	require.NoError(t, err)

	again, err := sealer.Seal(list)
	require.NoError(t, err)
	assert.NotEqual(t, blob, again, "every seal uses a fresh nonce")

	opened, err := sealer.Open(blob)
	require.NoError(t, err)
	assert.Equal(t, list, opened)

	blob[len(blob)-1] ^= 0xff
	_, err = sealer.Open(blob)
	assert.Equal(t, ErrUnsealable, err)

	_, err = sealer.Open([]byte("short"))
	assert.Equal(t, ErrUnsealable, err)

	_, err = NewSealer([]byte("too short"))
	assert.Error(t, err)
}
