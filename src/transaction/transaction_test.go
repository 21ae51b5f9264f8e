package transaction

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/crypto/keys"
	"github.com/mosaicnetworks/notarium/src/identity"
	"github.com/mosaicnetworks/notarium/src/merkle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	aliceKey  *ecdsa.PrivateKey
	bobKey    *ecdsa.PrivateKey
	notaryKey *ecdsa.PrivateKey
	alice     identity.Party
	bob       identity.Party
	notary    identity.Party
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{}
	var err error
	f.aliceKey, err = keys.GenerateECDSAKey()
	require.NoError(t, err)
	f.bobKey, err = keys.GenerateECDSAKey()
	require.NoError(t, err)
	f.notaryKey, err = keys.GenerateECDSAKey()
	require.NoError(t, err)

	f.alice = identity.NewParty("Alice", keys.PublicKeyHexOf(f.aliceKey))
	f.bob = identity.NewParty("Bob", keys.PublicKeyHexOf(f.bobKey))
	f.notary = identity.NewParty("Notary", keys.PublicKeyHexOf(f.notaryKey))
	return f
}

func (f *fixture) builder(t *testing.T) *TransactionBuilder {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tw, err := Between(from, from.Add(time.Hour))
	require.NoError(t, err)
	params := crypto.HashOf([]byte("parameters"))
	salt := crypto.HashOf([]byte("salt"))

	return &TransactionBuilder{
		PrivacySalt: &salt,
		Inputs: []StateRef{
			{TxHash: crypto.HashOf([]byte("tx1")), Index: 0},
			{TxHash: crypto.HashOf([]byte("tx1")), Index: 1},
		},
		References: []StateRef{
			{TxHash: crypto.HashOf([]byte("ref")), Index: 0},
		},
		Outputs: []TransactionState{
			{
				Contract:     "cash",
				Data:         []byte("100 GBP"),
				Participants: []identity.Party{f.bob},
				Notary:       f.notary,
			},
		},
		Commands: []Command{
			{
				Name:    "Move",
				Signers: []string{keys.PublicKeyHexOf(f.aliceKey)},
			},
		},
		Attachments:           []crypto.SecureHash{crypto.HashOf([]byte("contract code"))},
		Notary:                &f.notary,
		TimeWindow:            tw,
		NetworkParametersHash: &params,
	}
}

func TestWireTransactionRoundTrip(t *testing.T) {
	f := newFixture(t)

	wtx, err := f.builder(t).ToWireTransaction()
	require.NoError(t, err)

	bytes, err := wtx.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalWireTransaction(bytes)
	require.NoError(t, err)

	assert.Equal(t, wtx.ID(), decoded.ID())
	assert.Equal(t, wtx.Inputs(), decoded.Inputs())
	assert.Equal(t, wtx.Outputs(), decoded.Outputs())
	assert.Equal(t, *wtx.Notary(), *decoded.Notary())
	assert.True(t, wtx.TimeWindow().From.Equal(*decoded.TimeWindow().From))
}

func TestWireTransactionIDIsMerkleRootOfGroups(t *testing.T) {
	f := newFixture(t)

	wtx, err := f.builder(t).ToWireTransaction()
	require.NoError(t, err)

	groups := wtx.GroupHashes()
	require.Len(t, groups, NumGroups)

	root, err := merkle.RootOf(groups)
	require.NoError(t, err)
	assert.Equal(t, root, wtx.ID())

	outputs, err := merkle.RootOf(wtx.ComponentHashes(OutputsGroup))
	require.NoError(t, err)
	assert.Equal(t, outputs, groups[OutputsGroup])
}

func TestEmptyGroupRoot(t *testing.T) {
	wtx, err := NewWireTransaction(&TransactionBuilder{
		Commands: []Command{{Name: "Issue"}},
	})
	require.NoError(t, err)

	groups := wtx.GroupHashes()
	assert.Equal(t, crypto.AllOnesHash, groups[InputsGroup])
	assert.Equal(t, crypto.AllOnesHash, groups[NotaryGroup])
	assert.NotEqual(t, crypto.AllOnesHash, groups[CommandsGroup])
}

func TestNotaryChangesID(t *testing.T) {
	f := newFixture(t)

	b := f.builder(t)
	wtx1, err := b.ToWireTransaction()
	require.NoError(t, err)

	other := identity.NewParty("Other Notary", keys.PublicKeyHexOf(f.bobKey))
	b.Notary = &other
	wtx2, err := b.ToWireTransaction()
	require.NoError(t, err)

	assert.NotEqual(t, wtx1.ID(), wtx2.ID())
}

func TestPrivacySalt(t *testing.T) {
	f := newFixture(t)

	b := f.builder(t)
	wtx1, err := b.ToWireTransaction()
	require.NoError(t, err)
	wtx2, err := b.ToWireTransaction()
	require.NoError(t, err)
	assert.Equal(t, wtx1.ID(), wtx2.ID(), "same salt, same id")

	other := crypto.HashOf([]byte("other salt"))
	b.PrivacySalt = &other
	wtx3, err := b.ToWireTransaction()
	require.NoError(t, err)
	assert.NotEqual(t, wtx1.ID(), wtx3.ID())
	assert.Equal(t, other, wtx3.PrivacySalt())

	b.PrivacySalt = nil
	random1, err := b.ToWireTransaction()
	require.NoError(t, err)
	random2, err := b.ToWireTransaction()
	require.NoError(t, err)
	assert.False(t, random1.PrivacySalt().IsZero())
	assert.NotEqual(t, random1.ID(), random2.ID())

	var zero crypto.SecureHash
	b.PrivacySalt = &zero
	_, err = b.ToWireTransaction()
	assert.True(t, IsTransaction(err, InvalidTransaction))
}

func TestEqualComponents(t *testing.T) {
	f := newFixture(t)

	b := f.builder(t)
	b.Outputs = append(b.Outputs, b.Outputs[0])
	wtx, err := b.ToWireTransaction()
	require.NoError(t, err)

	require.Len(t, wtx.Outputs(), 2)
	assert.Equal(t, wtx.Outputs()[0], wtx.Outputs()[1])
	leaves := wtx.ComponentHashes(OutputsGroup)
	assert.NotEqual(t, leaves[0], leaves[1], "equal outputs get distinct leaves")

	bytes, err := wtx.Marshal()
	require.NoError(t, err)
	decoded, err := UnmarshalWireTransaction(bytes)
	require.NoError(t, err)
	assert.Equal(t, wtx.ID(), decoded.ID())

	// reveal only the second output
	ftx, err := wtx.BuildFilteredTransaction(func(c Component) bool {
		return c.Group == OutputsGroup && c.Index == 1
	})
	require.NoError(t, err)
	require.NoError(t, ftx.Verify(wtx.ID()))
	assert.Len(t, ftx.Outputs(), 1)
	assert.True(t, IsTransaction(ftx.CheckAllComponentsVisible(OutputsGroup), ComponentsNotVisible))

	// a nonce from another position does not prove the component
	g := ftx.group(OutputsGroup)
	g.Nonces[0] = componentNonce(wtx.PrivacySalt(), OutputsGroup, 0)
	assert.True(t, IsTransaction(ftx.Verify(wtx.ID()), InvalidProof))

	all, err := wtx.BuildFilteredTransaction(func(c Component) bool { return c.Group == OutputsGroup })
	require.NoError(t, err)
	require.NoError(t, all.Verify(wtx.ID()))
	assert.NoError(t, all.CheckAllComponentsVisible(OutputsGroup))
}

func TestSignersDerivedFromCommands(t *testing.T) {
	f := newFixture(t)

	alice := keys.PublicKeyHexOf(f.aliceKey)
	bob := keys.PublicKeyHexOf(f.bobKey)

	b := f.builder(t)
	b.Commands = []Command{
		{Name: "Move", Signers: []string{alice, bob}},
		{Name: "Fee", Signers: []string{bob}},
	}
	wtx, err := b.ToWireTransaction()
	require.NoError(t, err)

	assert.Equal(t, []string{alice, bob}, wtx.Signers())
	assert.Equal(t, []string{alice, bob, f.notary.OwningKey}, wtx.RequiredSigningKeys())
}

func TestInvalidTransactions(t *testing.T) {
	f := newFixture(t)

	b := f.builder(t)
	b.Notary = nil
	_, err := b.ToWireTransaction()
	assert.True(t, IsTransaction(err, InvalidTransaction), "inputs without notary: %v", err)

	b = f.builder(t)
	b.Inputs = append(b.Inputs, b.Inputs[0])
	_, err = b.ToWireTransaction()
	assert.True(t, IsTransaction(err, InvalidTransaction), "duplicate input: %v", err)

	b = f.builder(t)
	b.References = append(b.References, b.Inputs[0])
	_, err = b.ToWireTransaction()
	assert.True(t, IsTransaction(err, InvalidTransaction), "input used as reference: %v", err)

	b = f.builder(t)
	b.TimeWindow = &TimeWindow{}
	_, err = b.ToWireTransaction()
	assert.True(t, IsTransaction(err, InvalidTransaction), "unbounded time window: %v", err)
}

func TestFilteredTransaction(t *testing.T) {
	f := newFixture(t)

	wtx, err := f.builder(t).ToWireTransaction()
	require.NoError(t, err)

	ftx, err := wtx.BuildFilteredTransaction(NonValidatingNotaryPredicate)
	require.NoError(t, err)

	require.NoError(t, ftx.Verify(wtx.ID()))
	assert.Equal(t, wtx.Inputs(), ftx.Inputs())
	assert.Equal(t, wtx.References(), ftx.References())
	assert.Equal(t, f.notary, *ftx.Notary())
	assert.NotNil(t, ftx.TimeWindow())
	assert.NotNil(t, ftx.NetworkParametersHash())
	assert.Empty(t, ftx.Outputs())
	assert.Empty(t, ftx.Commands())

	assert.NoError(t, ftx.CheckAllComponentsVisible(InputsGroup))
	assert.NoError(t, ftx.CheckAllComponentsVisible(ReferencesGroup))
	assert.Error(t, ftx.CheckAllComponentsVisible(OutputsGroup))

	other := crypto.HashOf([]byte("other"))
	assert.True(t, IsTransaction(ftx.Verify(other), IDMismatch))
}

func TestFilteredTransactionOnlyTimeWindow(t *testing.T) {
	f := newFixture(t)

	wtx, err := f.builder(t).ToWireTransaction()
	require.NoError(t, err)

	ftx, err := wtx.BuildFilteredTransaction(func(c Component) bool {
		return c.Group == TimeWindowGroup
	})
	require.NoError(t, err)
	require.Len(t, ftx.Groups, 1)

	assert.True(t, ftx.Verified(wtx.ID()))
	assert.Equal(t, *wtx.TimeWindow().Until, *ftx.TimeWindow().Until)
	assert.Nil(t, ftx.Notary())
}

func TestFilteredTransactionPartialGroup(t *testing.T) {
	f := newFixture(t)

	wtx, err := f.builder(t).ToWireTransaction()
	require.NoError(t, err)

	ftx, err := wtx.BuildFilteredTransaction(func(c Component) bool {
		return c.Group == InputsGroup && c.Index == 1
	})
	require.NoError(t, err)

	require.NoError(t, ftx.Verify(wtx.ID()))
	assert.Equal(t, wtx.Inputs()[1:], ftx.Inputs())
	assert.True(t, IsTransaction(ftx.CheckAllComponentsVisible(InputsGroup), ComponentsNotVisible))
}

func TestFilteredTransactionTampering(t *testing.T) {
	f := newFixture(t)

	wtx, err := f.builder(t).ToWireTransaction()
	require.NoError(t, err)

	build := func() *FilteredTransaction {
		ftx, err := wtx.BuildFilteredTransaction(NonValidatingNotaryPredicate)
		require.NoError(t, err)
		return ftx
	}

	// swap a revealed input for another state
	ftx := build()
	forged, err := Serialize(StateRef{TxHash: crypto.HashOf([]byte("forged")), Index: 0})
	require.NoError(t, err)
	ftx.group(InputsGroup).Components[0] = forged
	assert.True(t, IsTransaction(ftx.Verify(wtx.ID()), InvalidProof))

	// hide an input the proof claims
	ftx = build()
	g := ftx.group(InputsGroup)
	g.Components = g.Components[:1]
	assert.False(t, ftx.Verified(wtx.ID()))

	// drop the nonces
	ftx = build()
	ftx.group(InputsGroup).Nonces = nil
	assert.True(t, IsTransaction(ftx.Verify(wtx.ID()), InvalidProof))

	// change a group hash
	ftx = build()
	ftx.GroupHashes[OutputsGroup] = crypto.HashOf([]byte("outputs"))
	assert.True(t, IsTransaction(ftx.Verify(wtx.ID()), IDMismatch))

	// drop a group hash
	ftx = build()
	ftx.GroupHashes = ftx.GroupHashes[1:]
	assert.False(t, ftx.Verified(wtx.ID()))

	// reveal a group twice
	ftx = build()
	ftx.Groups = append(ftx.Groups, ftx.Groups[0])
	assert.False(t, ftx.Verified(wtx.ID()))
}

func TestFilteredTransactionRoundTrip(t *testing.T) {
	f := newFixture(t)

	wtx, err := f.builder(t).ToWireTransaction()
	require.NoError(t, err)

	ftx, err := wtx.BuildFilteredTransaction(NonValidatingNotaryPredicate)
	require.NoError(t, err)

	bytes, err := ftx.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalFilteredTransaction(bytes)
	require.NoError(t, err)

	assert.NoError(t, decoded.Verify(wtx.ID()))
	assert.Equal(t, ftx.Inputs(), decoded.Inputs())
}

func TestSignedTransaction(t *testing.T) {
	f := newFixture(t)

	wtx, err := f.builder(t).ToWireTransaction()
	require.NoError(t, err)

	stx, err := NewSignedTransaction(wtx)
	require.NoError(t, err)

	err = stx.VerifySignaturesExcept(f.notary.OwningKey)
	assert.True(t, IsTransaction(err, SignaturesMissing), "unsigned: %v", err)

	stx, err = stx.SignWith(f.aliceKey)
	require.NoError(t, err)
	assert.NoError(t, stx.VerifySignaturesExcept(f.notary.OwningKey))
	assert.True(t, IsTransaction(stx.VerifyRequiredSignatures(), SignaturesMissing))

	notarySig, err := Sign(f.notaryKey, stx.ID())
	require.NoError(t, err)
	notarised := stx.WithAdditionalSignatures(notarySig, notarySig)
	assert.Len(t, notarised.Sigs, 2)
	assert.NoError(t, notarised.VerifyRequiredSignatures())

	bytes, err := notarised.Marshal()
	require.NoError(t, err)
	decoded, err := UnmarshalSignedTransaction(bytes)
	require.NoError(t, err)
	assert.Equal(t, wtx.ID(), decoded.ID())
	assert.NoError(t, decoded.VerifyRequiredSignatures())

	// a signature over another id is rejected
	bad, err := Sign(f.bobKey, crypto.HashOf([]byte("other")))
	require.NoError(t, err)
	err = notarised.WithAdditionalSignatures(bad).VerifyRequiredSignatures()
	assert.Error(t, err)
}

func TestSignedTransactionCompositeNotary(t *testing.T) {
	f := newFixture(t)

	replicas := make([]*ecdsa.PrivateKey, 3)
	members := make([]keys.WeightedKey, 3)
	for i := range replicas {
		k, err := keys.GenerateECDSAKey()
		require.NoError(t, err)
		replicas[i] = k
		members[i] = keys.WeightedKey{Key: keys.PublicKeyHexOf(k), Weight: 1}
	}
	ck, err := keys.NewCompositeKey(2, members...)
	require.NoError(t, err)

	b := f.builder(t)
	cluster := identity.NewParty("Cluster", ck.Encode())
	b.Notary = &cluster
	wtx, err := b.ToWireTransaction()
	require.NoError(t, err)

	stx, err := NewSignedTransaction(wtx)
	require.NoError(t, err)
	stx, err = stx.SignWith(f.aliceKey)
	require.NoError(t, err)

	one, err := stx.SignWith(replicas[0])
	require.NoError(t, err)
	assert.Error(t, one.VerifyRequiredSignatures())

	two, err := one.SignWith(replicas[2])
	require.NoError(t, err)
	assert.NoError(t, two.VerifyRequiredSignatures())
}

func TestTimeWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tw, err := WithTolerance(now, time.Minute)
	require.NoError(t, err)
	assert.True(t, tw.Contains(now))
	assert.True(t, tw.Contains(now.Add(-time.Minute)))
	assert.False(t, tw.Contains(now.Add(time.Minute)))

	assert.True(t, FromOnly(now).Contains(now.Add(24*time.Hour)))
	assert.False(t, FromOnly(now).Contains(now.Add(-time.Second)))
	assert.True(t, UntilOnly(now).Contains(now.Add(-24*time.Hour)))
	assert.False(t, UntilOnly(now).Contains(now))

	_, err = Between(now, now)
	assert.Error(t, err)
}
