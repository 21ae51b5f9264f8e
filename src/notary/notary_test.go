package notary

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"testing"
	"time"

	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/crypto/keys"
	"github.com/mosaicnetworks/notarium/src/identity"
	"github.com/mosaicnetworks/notarium/src/net"
	"github.com/mosaicnetworks/notarium/src/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapResolver map[crypto.SecureHash]*transaction.SignedTransaction

func (m mapResolver) GetTransaction(id crypto.SecureHash) (*transaction.SignedTransaction, error) {
	stx, ok := m[id]
	if !ok {
		return nil, common.NewStoreErr("Transaction", common.KeyNotFound, id.String())
	}
	return stx, nil
}

type network struct {
	t *testing.T

	aliceKey *ecdsa.PrivateKey
	alice    identity.Party

	notary   identity.Party
	replicas []*ecdsa.PrivateKey

	directory *identity.Directory
	resolver  mapResolver
	clock     *common.ManualClock

	aliceTrans  *net.InmemTransport
	notaryTrans *net.InmemTransport

	service *Service
	client  *Client
}

func testRetryConfig() RetryConfig {
	return RetryConfig{
		Initial:  5 * time.Millisecond,
		Max:      20 * time.Millisecond,
		Attempts: 4,
	}
}

// newNetwork creates Alice and a notary backed by nReplicas keys. With more
// than one replica the notary owning key is a composite key with the given
// threshold.
func newNetwork(t *testing.T, notaryType identity.NotaryType, nReplicas, threshold int) *network {
	n := &network{
		t:        t,
		resolver: mapResolver{},
		clock:    common.NewManualClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)),
	}

	var err error
	n.aliceKey, err = keys.GenerateECDSAKey()
	require.NoError(t, err)

	members := []keys.WeightedKey{}
	for i := 0; i < nReplicas; i++ {
		k, err := keys.GenerateECDSAKey()
		require.NoError(t, err)
		n.replicas = append(n.replicas, k)
		members = append(members, keys.WeightedKey{Key: keys.PublicKeyHexOf(k), Weight: 1})
	}

	_, n.aliceTrans = net.NewInmemTransport("")
	_, n.notaryTrans = net.NewInmemTransport("")
	net.ConnectAll(n.aliceTrans, n.notaryTrans)

	aliceInfo := identity.NewNodeInfo("Alice", n.aliceTrans.LocalAddr(), keys.PublicKeyHexOf(n.aliceKey))
	notaryInfo := identity.NewNodeInfo("Notary", n.notaryTrans.LocalAddr(), members[0].Key)
	notaryInfo.Notary = notaryType
	if nReplicas > 1 {
		ck, err := keys.NewCompositeKey(threshold, members...)
		require.NoError(t, err)
		notaryInfo.NotaryKey = ck.Encode()
	}

	n.directory = identity.NewDirectory([]*identity.NodeInfo{aliceInfo, notaryInfo})
	n.alice = aliceInfo.Party()
	n.notary = notaryInfo.Party()

	logger := common.NewTestEntry(t, common.TestLogLevel)

	n.service, err = NewService(ServiceConfig{
		Party:       n.notary,
		Validating:  notaryType == identity.ValidatingNotary,
		ReplicaKeys: n.replicas,
		Directory:   n.directory,
		Clock:       n.clock,
	}, logger)
	require.NoError(t, err)

	go func() {
		for rpc := range n.notaryTrans.Consumer() {
			if req, ok := rpc.Command.(*net.NotarisationRequestMessage); ok {
				rpc.Respond(n.service.Process(req), nil)
			}
		}
	}()

	n.client = NewClient(n.alice, n.aliceKey, n.aliceTrans, n.directory, n.resolver, testRetryConfig(), logger)

	return n
}

// issue records a transaction with one output assigned to the notary and
// returns a reference to that output.
func (n *network) issue(data string) transaction.StateRef {
	wtx, err := (&transaction.TransactionBuilder{
		Outputs: []transaction.TransactionState{
			{Contract: "cash", Data: []byte(data), Participants: []identity.Party{n.alice}, Notary: n.notary},
		},
		Commands: []transaction.Command{
			{Name: "Issue", Signers: []string{n.alice.OwningKey}},
		},
	}).ToWireTransaction()
	require.NoError(n.t, err)

	stx, err := transaction.NewSignedTransaction(wtx)
	require.NoError(n.t, err)
	stx, err = stx.SignWith(n.aliceKey)
	require.NoError(n.t, err)

	n.resolver[stx.ID()] = stx
	return wtx.OutputRef(0)
}

// move spends the inputs and returns the transaction signed by Alice.
func (n *network) move(tag string, tw *transaction.TimeWindow, inputs ...transaction.StateRef) *transaction.SignedTransaction {
	notary := n.notary
	wtx, err := (&transaction.TransactionBuilder{
		Inputs: inputs,
		Outputs: []transaction.TransactionState{
			{Contract: "cash", Data: []byte(tag), Participants: []identity.Party{n.alice}, Notary: n.notary},
		},
		Commands: []transaction.Command{
			{Name: "Move", Signers: []string{n.alice.OwningKey}},
		},
		Notary:     &notary,
		TimeWindow: tw,
	}).ToWireTransaction()
	require.NoError(n.t, err)

	stx, err := transaction.NewSignedTransaction(wtx)
	require.NoError(n.t, err)
	stx, err = stx.SignWith(n.aliceKey)
	require.NoError(n.t, err)
	return stx
}

func TestNotariseValidating(t *testing.T) {
	n := newNetwork(t, identity.ValidatingNotary, 1, 1)

	stx := n.move("a", nil, n.issue("100"))

	sigs, err := n.client.Notarise(context.Background(), stx)
	require.NoError(t, err)
	require.Len(t, sigs, 1)

	assert.NoError(t, stx.WithAdditionalSignatures(sigs...).VerifyRequiredSignatures())
}

func TestNotariseNonValidating(t *testing.T) {
	n := newNetwork(t, identity.NonValidatingNotary, 1, 1)

	stx := n.move("a", nil, n.issue("100"))

	sigs, err := n.client.Notarise(context.Background(), stx)
	require.NoError(t, err)

	assert.NoError(t, stx.WithAdditionalSignatures(sigs...).VerifyRequiredSignatures())
}

func TestNotariseDoubleSpend(t *testing.T) {
	for _, nt := range []identity.NotaryType{identity.ValidatingNotary, identity.NonValidatingNotary} {
		n := newNetwork(t, nt, 1, 1)

		input := n.issue("100")
		first := n.move("first", nil, input)
		second := n.move("second", nil, input)

		_, err := n.client.Notarise(context.Background(), first)
		require.NoError(t, err)

		// notarising the same transaction again is fine
		_, err = n.client.Notarise(context.Background(), first)
		require.NoError(t, err)

		_, err = n.client.Notarise(context.Background(), second)
		require.True(t, IsNotaryError(err, Conflict), "%s: %v", nt, err)

		nerr := err.(*NotaryError)
		require.Len(t, nerr.Conflicts, 1)
		assert.Equal(t, input, nerr.Conflicts[0].StateRef)
		assert.Equal(t, first.ID(), nerr.Conflicts[0].ConsumingTx)
	}
}

func TestNotariseTimeWindow(t *testing.T) {
	n := newNetwork(t, identity.NonValidatingNotary, 1, 1)

	tw, err := transaction.Between(n.clock.Now().Add(time.Hour), n.clock.Now().Add(2*time.Hour))
	require.NoError(t, err)

	stx := n.move("a", tw, n.issue("100"))

	_, err = n.client.Notarise(context.Background(), stx)
	assert.True(t, IsNotaryError(err, TimeWindowInvalid), "%v", err)

	n.clock.Advance(90 * time.Minute)
	_, err = n.client.Notarise(context.Background(), stx)
	assert.NoError(t, err)
}

func TestNotariseStaleParameters(t *testing.T) {
	for _, nt := range []identity.NotaryType{identity.ValidatingNotary, identity.NonValidatingNotary} {
		n := newNetwork(t, nt, 1, 1)
		current := crypto.HashOf([]byte("parameters v2"))
		n.service.conf.NetworkParametersHash = &current

		exit := func(params *crypto.SecureHash) *transaction.SignedTransaction {
			notary := n.notary
			wtx, err := (&transaction.TransactionBuilder{
				Inputs:                []transaction.StateRef{n.issue("100")},
				Commands:              []transaction.Command{{Name: "Exit", Signers: []string{n.alice.OwningKey}}},
				Notary:                &notary,
				NetworkParametersHash: params,
			}).ToWireTransaction()
			require.NoError(t, err)
			stx, err := transaction.NewSignedTransaction(wtx)
			require.NoError(t, err)
			stx, err = stx.SignWith(n.aliceKey)
			require.NoError(t, err)
			return stx
		}

		old := crypto.HashOf([]byte("parameters v1"))
		_, err := n.client.Notarise(context.Background(), exit(&old))
		assert.True(t, IsNotaryError(err, ParametersStale), "%s: %v", nt, err)

		_, err = n.client.Notarise(context.Background(), exit(nil))
		assert.True(t, IsNotaryError(err, ParametersStale), "%s without parameters: %v", nt, err)

		_, err = n.client.Notarise(context.Background(), exit(&current))
		assert.NoError(t, err, "%s", nt)
	}
}

func TestCheckTransaction(t *testing.T) {
	n := newNetwork(t, identity.ValidatingNotary, 1, 1)

	// the notary is unreachable: failures below must happen before any
	// network call, so they are General and not Timeout
	n.aliceTrans.DisconnectAll()

	// missing signature
	input := n.issue("100")
	notary := n.notary
	wtx, err := (&transaction.TransactionBuilder{
		Inputs:   []transaction.StateRef{input},
		Commands: []transaction.Command{{Name: "Move", Signers: []string{n.alice.OwningKey}}},
		Notary:   &notary,
	}).ToWireTransaction()
	require.NoError(t, err)
	unsigned, err := transaction.NewSignedTransaction(wtx)
	require.NoError(t, err)

	_, err = n.client.Notarise(context.Background(), unsigned)
	assert.True(t, IsNotaryError(err, General), "%v", err)

	// unknown notary
	impostor := identity.NewParty("Impostor", n.alice.OwningKey)
	wtx, err = (&transaction.TransactionBuilder{
		Inputs:   []transaction.StateRef{input},
		Commands: []transaction.Command{{Name: "Move", Signers: []string{n.alice.OwningKey}}},
		Notary:   &impostor,
	}).ToWireTransaction()
	require.NoError(t, err)
	stx, err := transaction.NewSignedTransaction(wtx)
	require.NoError(t, err)
	stx, err = stx.SignWith(n.aliceKey)
	require.NoError(t, err)

	_, _, err = n.client.CheckTransaction(stx)
	assert.True(t, IsNotaryError(err, General), "%v", err)

	// unresolvable input
	stx = n.move("a", nil, transaction.StateRef{TxHash: crypto.HashOf([]byte("unknown"))})
	_, _, err = n.client.CheckTransaction(stx)
	assert.True(t, IsNotaryError(err, General), "%v", err)

	// no notary at all
	wtx, err = (&transaction.TransactionBuilder{
		Commands: []transaction.Command{{Name: "Issue", Signers: []string{n.alice.OwningKey}}},
	}).ToWireTransaction()
	require.NoError(t, err)
	stx, err = transaction.NewSignedTransaction(wtx)
	require.NoError(t, err)
	_, _, err = n.client.CheckTransaction(stx)
	assert.True(t, IsNotaryError(err, General), "%v", err)
}

func TestCheckTransactionInputOnOtherNotary(t *testing.T) {
	n := newNetwork(t, identity.ValidatingNotary, 1, 1)

	otherKey, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	other := identity.NewParty("Other", keys.PublicKeyHexOf(otherKey))

	wtx, err := (&transaction.TransactionBuilder{
		Outputs: []transaction.TransactionState{
			{Contract: "cash", Data: []byte("5"), Notary: other},
		},
		Commands: []transaction.Command{{Name: "Issue", Signers: []string{n.alice.OwningKey}}},
	}).ToWireTransaction()
	require.NoError(t, err)
	issue, err := transaction.NewSignedTransaction(wtx)
	require.NoError(t, err)
	n.resolver[issue.ID()] = issue

	stx := n.move("a", nil, wtx.OutputRef(0))
	_, _, err = n.client.CheckTransaction(stx)
	assert.True(t, IsNotaryError(err, General), "%v", err)
}

func TestNotariseRetriesUnavailable(t *testing.T) {
	n := newNetwork(t, identity.NonValidatingNotary, 1, 1)
	n.service.SetAvailable(false)

	go func() {
		time.Sleep(15 * time.Millisecond)
		n.service.SetAvailable(true)
	}()

	stx := n.move("a", nil, n.issue("100"))
	sigs, err := n.client.Notarise(context.Background(), stx)
	require.NoError(t, err)
	assert.Len(t, sigs, 1)
}

func TestNotariseTimeout(t *testing.T) {
	n := newNetwork(t, identity.NonValidatingNotary, 1, 1)
	n.service.SetAvailable(false)

	stx := n.move("a", nil, n.issue("100"))
	_, err := n.client.Notarise(context.Background(), stx)
	assert.True(t, IsNotaryError(err, Timeout), "%v", err)

	n.aliceTrans.DisconnectAll()
	_, err = n.client.Notarise(context.Background(), stx)
	assert.True(t, IsNotaryError(err, Timeout), "%v", err)
}

func TestNotariseCompositeNotary(t *testing.T) {
	n := newNetwork(t, identity.NonValidatingNotary, 3, 2)

	stx := n.move("a", nil, n.issue("100"))
	sigs, err := n.client.Notarise(context.Background(), stx)
	require.NoError(t, err)
	require.Len(t, sigs, 3)

	assert.NoError(t, ValidateResponse(n.notary, stx.ID(), sigs[:2]))
	assert.Error(t, ValidateResponse(n.notary, stx.ID(), sigs[:1]))
	assert.NoError(t, stx.WithAdditionalSignatures(sigs[1:]...).VerifyRequiredSignatures())
}

func TestValidateResponse(t *testing.T) {
	n := newNetwork(t, identity.ValidatingNotary, 1, 1)
	id := crypto.HashOf([]byte("tx"))

	good, err := transaction.Sign(n.replicas[0], id)
	require.NoError(t, err)
	assert.NoError(t, ValidateResponse(n.notary, id, []transaction.TransactionSignature{good}))

	wrongTx, err := transaction.Sign(n.replicas[0], crypto.HashOf([]byte("other")))
	require.NoError(t, err)
	assert.Error(t, ValidateResponse(n.notary, id, []transaction.TransactionSignature{wrongTx}))

	wrongKey, err := transaction.Sign(n.aliceKey, id)
	require.NoError(t, err)
	assert.Error(t, ValidateResponse(n.notary, id, []transaction.TransactionSignature{wrongKey}))

	assert.Error(t, ValidateResponse(n.notary, id, nil))
}

func TestRequestSignature(t *testing.T) {
	n := newNetwork(t, identity.ValidatingNotary, 1, 1)

	req := NotarisationRequest{
		StatesToConsume: []transaction.StateRef{{TxHash: crypto.HashOf([]byte("a"))}},
		TxID:            crypto.HashOf([]byte("tx")),
	}
	sig, err := req.Sign(n.alice, n.aliceKey)
	require.NoError(t, err)
	assert.NoError(t, req.Verify(sig, n.alice))

	tampered := req
	tampered.TxID = crypto.HashOf([]byte("other"))
	assert.Error(t, tampered.Verify(sig, n.alice))

	assert.Error(t, req.Verify(sig, n.notary))
}

func TestNotaryErrorEncoding(t *testing.T) {
	nerr := newNotaryError(Conflict, crypto.HashOf([]byte("tx")), "consumed")
	nerr.Conflicts = []StateConflict{{StateRef: transaction.StateRef{Index: 2}, ConsumingTx: crypto.HashOf([]byte("c"))}}

	bytes, err := EncodeError(nerr)
	require.NoError(t, err)
	decoded, err := DecodeError(bytes)
	require.NoError(t, err)

	assert.Equal(t, nerr, decoded)
	assert.True(t, IsNotaryError(fmt.Errorf("wrapped: %w", decoded), Conflict))
}
