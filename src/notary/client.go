package notary

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"time"

	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/crypto/keys"
	"github.com/mosaicnetworks/notarium/src/identity"
	"github.com/mosaicnetworks/notarium/src/net"
	"github.com/mosaicnetworks/notarium/src/transaction"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Step is a progress step of the client protocol.
type Step string

const (
	// Requesting covers the local checks and the request itself.
	Requesting Step = "Requesting signature by notary service"
	// Validating covers the checks of the notary response.
	Validating Step = "Validating response from notary service"
)

// Directory resolves parties and tells notaries apart.
type Directory interface {
	identity.IdentityService
	identity.NotaryDirectory
}

// StateResolver loads the transactions that produced the inputs of a
// transaction.
type StateResolver interface {
	GetTransaction(id crypto.SecureHash) (*transaction.SignedTransaction, error)
}

// RetryConfig bounds the send-with-retry loop. Attempts is the number of
// retries after the first request.
type RetryConfig struct {
	Initial  time.Duration
	Max      time.Duration
	Attempts uint64
}

// DefaultRetryConfig ...
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Initial:  200 * time.Millisecond,
		Max:      5 * time.Second,
		Attempts: 8,
	}
}

// Client requests notarisations on behalf of the local party.
type Client struct {
	me        identity.Party
	key       *ecdsa.PrivateKey
	transport net.Transport
	directory Directory
	resolver  StateResolver
	retry     RetryConfig
	nextID    *atomic.Int64
	logger    *logrus.Entry
}

// NewClient ...
func NewClient(
	me identity.Party,
	key *ecdsa.PrivateKey,
	transport net.Transport,
	directory Directory,
	resolver StateResolver,
	retry RetryConfig,
	logger *logrus.Entry,
) *Client {
	return &Client{
		me:        me,
		key:       key,
		transport: transport,
		directory: directory,
		resolver:  resolver,
		retry:     retry,
		nextID:    atomic.NewInt64(time.Now().UnixNano()),
		logger:    logger.WithField("prefix", "notary-client"),
	}
}

// Notarise gets stx countersigned by its notary and returns the notary
// signatures.
func (c *Client) Notarise(ctx context.Context, stx *transaction.SignedTransaction) ([]transaction.TransactionSignature, error) {
	txID := stx.ID()
	logger := c.logger.WithField("tx_id", txID.Short())

	logger.WithField("step", Requesting).Debug("Notarise")

	notary, wtx, err := c.CheckTransaction(stx)
	if err != nil {
		return nil, err
	}

	payload, err := c.buildPayload(notary, wtx, stx)
	if err != nil {
		return nil, newNotaryError(General, txID, "building request: %v", err)
	}

	resp, err := c.sendWithRetry(ctx, notary, txID, payload)
	if err != nil {
		return nil, err
	}

	logger.WithField("step", Validating).Debug("Notarise")

	if err := ValidateResponse(notary, txID, resp); err != nil {
		return nil, err
	}

	return resp, nil
}

// CheckTransaction runs the local checks of the Requesting step: the
// transaction has a notary known to the network, every input and reference
// state is assigned to that notary, and every signature apart from the
// notary's is present and valid.
func (c *Client) CheckTransaction(stx *transaction.SignedTransaction) (identity.Party, *transaction.WireTransaction, error) {
	txID := stx.ID()

	wtx, err := stx.Tx()
	if err != nil {
		return identity.Party{}, nil, newNotaryError(General, txID, "invalid transaction: %v", err)
	}

	notaryRef := wtx.Notary()
	if notaryRef == nil {
		return identity.Party{}, nil, newNotaryError(General, txID, "transaction does not specify a notary")
	}
	notary := *notaryRef

	if !c.directory.IsNotary(notary) {
		return identity.Party{}, nil, newNotaryError(General, txID, "%s is not a notary on the network", notary.Name)
	}

	refs := append(wtx.Inputs(), wtx.References()...)
	for _, ref := range refs {
		state, err := c.resolveState(ref)
		if err != nil {
			return identity.Party{}, nil, newNotaryError(General, txID, "resolving %s: %v", ref, err)
		}
		if state.Notary != notary {
			return identity.Party{}, nil, newNotaryError(General, txID,
				"input state %s is assigned to notary %s, transaction to %s", ref, state.Notary.Name, notary.Name)
		}
	}

	if err := stx.VerifySignaturesExcept(notary.OwningKey); err != nil {
		return identity.Party{}, nil, newNotaryError(General, txID, "%v", err)
	}

	return notary, wtx, nil
}

func (c *Client) resolveState(ref transaction.StateRef) (transaction.TransactionState, error) {
	stx, err := c.resolver.GetTransaction(ref.TxHash)
	if err != nil {
		return transaction.TransactionState{}, err
	}
	wtx, err := stx.Tx()
	if err != nil {
		return transaction.TransactionState{}, err
	}
	outputs := wtx.Outputs()
	if ref.Index < 0 || ref.Index >= len(outputs) {
		return transaction.TransactionState{}, errors.New("output index out of range")
	}
	return outputs[ref.Index], nil
}

func (c *Client) buildPayload(notary identity.Party, wtx *transaction.WireTransaction, stx *transaction.SignedTransaction) (*NotarisationPayload, error) {
	request := NotarisationRequest{
		StatesToConsume: wtx.Inputs(),
		TxID:            wtx.ID(),
	}
	reqSig, err := request.Sign(c.me, c.key)
	if err != nil {
		return nil, err
	}

	payload := &NotarisationPayload{RequestSignature: reqSig}

	if c.directory.IsValidatingNotary(notary) {
		payload.SignedTransaction = stx
		return payload, nil
	}

	ftx, err := wtx.BuildFilteredTransaction(transaction.NonValidatingNotaryPredicate)
	if err != nil {
		return nil, err
	}
	payload.FilteredTransaction = ftx
	for _, sig := range stx.Sigs {
		if keys.ContainsKey(notary.OwningKey, sig.By) {
			payload.NotarySignatures = append(payload.NotarySignatures, sig)
		}
	}
	return payload, nil
}

// sendWithRetry retries transport failures and Unavailable responses with an
// exponential backoff. Retries never touch the flow checkpoint.
func (c *Client) sendWithRetry(ctx context.Context, notary identity.Party, txID crypto.SecureHash, payload *NotarisationPayload) ([]transaction.TransactionSignature, error) {
	addr, err := c.directory.AddressOf(notary)
	if err != nil {
		return nil, newNotaryError(General, txID, "%v", err)
	}

	bytes, err := payload.Marshal()
	if err != nil {
		return nil, newNotaryError(General, txID, "encoding payload: %v", err)
	}

	backoff := retry.NewExponential(c.retry.Initial)
	backoff = retry.WithCappedDuration(c.retry.Max, backoff)
	backoff = retry.WithJitterPercent(10, backoff)
	backoff = retry.WithMaxRetries(c.retry.Attempts, backoff)

	var (
		sigs     []transaction.TransactionSignature
		final    error
		attempts int
	)

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++

		msg := &net.NotarisationRequestMessage{
			VerificationID:     c.nextID.Inc(),
			TransactionPayload: bytes,
			ResponseAddress:    c.transport.AdvertiseAddr(),
		}

		var resp net.NotarisationResponseMessage
		if err := c.transport.Notarise(addr, msg, &resp); err != nil {
			c.logger.WithFields(logrus.Fields{
				"notary":  notary.Name,
				"attempt": attempts,
				"error":   err,
			}).Debug("Notary unreachable, retrying")
			return retry.RetryableError(err)
		}

		if resp.VerificationID != msg.VerificationID {
			final = newNotaryError(General, txID, "response to request %d, expected %d", resp.VerificationID, msg.VerificationID)
			return final
		}

		if len(resp.Error) > 0 {
			nerr, err := DecodeError(resp.Error)
			if err != nil {
				final = newNotaryError(General, txID, "undecodable notary error: %v", err)
				return final
			}
			if nerr.Reason == Unavailable {
				return retry.RetryableError(nerr)
			}
			final = nerr
			return final
		}

		sigs = resp.Signatures
		return nil
	})

	if err == nil {
		return sigs, nil
	}
	if final != nil {
		return nil, final
	}
	return nil, newNotaryError(Timeout, txID, "notary %s did not answer after %d attempts: %v", notary.Name, attempts, err)
}

// ValidateResponse checks that every signature is valid over txID and that
// the signers satisfy the notary's owning key, single or composite.
func ValidateResponse(notary identity.Party, txID crypto.SecureHash, sigs []transaction.TransactionSignature) error {
	if len(sigs) == 0 {
		return newNotaryError(General, txID, "notary returned no signatures")
	}

	signers := make([]string, 0, len(sigs))
	for _, sig := range sigs {
		if !sig.Verify(txID) {
			return newNotaryError(General, txID, "invalid notary signature by %s", sig.By)
		}
		if !keys.ContainsKey(notary.OwningKey, sig.By) {
			return newNotaryError(General, txID, "signature by %s is not from notary %s", sig.By, notary.Name)
		}
		signers = append(signers, sig.By)
	}

	if !keys.IsFulfilledBy(notary.OwningKey, signers) {
		return newNotaryError(General, txID, "notary signatures do not meet the threshold of %s", notary.Name)
	}

	return nil
}
