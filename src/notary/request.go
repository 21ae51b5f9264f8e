package notary

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/crypto/keys"
	"github.com/mosaicnetworks/notarium/src/identity"
	"github.com/mosaicnetworks/notarium/src/transaction"
)

// NotarisationRequest is what the requester signs: the states the transaction
// consumes and its id.
type NotarisationRequest struct {
	StatesToConsume []transaction.StateRef `json:"states_to_consume"`
	TxID            crypto.SecureHash      `json:"tx_id"`
}

// NotarisationRequestSignature is the requester's signature over a
// NotarisationRequest.
type NotarisationRequestSignature struct {
	By        string `json:"by"`
	Requester string `json:"requester"`
	Signature string `json:"signature"`
}

func (r NotarisationRequest) hash() (crypto.SecureHash, error) {
	bytes, err := transaction.Serialize(r)
	if err != nil {
		return crypto.ZeroHash, err
	}
	return crypto.HashOf(bytes), nil
}

// Sign ...
func (r NotarisationRequest) Sign(requester identity.Party, priv *ecdsa.PrivateKey) (NotarisationRequestSignature, error) {
	h, err := r.hash()
	if err != nil {
		return NotarisationRequestSignature{}, err
	}
	sig, err := keys.SignToString(priv, h.Bytes())
	if err != nil {
		return NotarisationRequestSignature{}, err
	}
	return NotarisationRequestSignature{
		By:        keys.PublicKeyHexOf(priv),
		Requester: requester.Name,
		Signature: sig,
	}, nil
}

// Verify checks the signature and that it was made by the requester's key.
func (r NotarisationRequest) Verify(sig NotarisationRequestSignature, requester identity.Party) error {
	if !keys.ContainsKey(requester.OwningKey, sig.By) {
		return fmt.Errorf("request signed by %s, which is not a key of %s", sig.By, requester.Name)
	}
	h, err := r.hash()
	if err != nil {
		return err
	}
	if !keys.VerifyString(sig.By, h.Bytes(), sig.Signature) {
		return fmt.Errorf("invalid request signature")
	}
	return nil
}

// NotarisationPayload is carried in the TransactionPayload of a
// net.NotarisationRequestMessage. Exactly one of SignedTransaction and
// FilteredTransaction is set.
type NotarisationPayload struct {
	SignedTransaction   *transaction.SignedTransaction     `json:"signed_transaction,omitempty"`
	FilteredTransaction *transaction.FilteredTransaction   `json:"filtered_transaction,omitempty"`
	NotarySignatures    []transaction.TransactionSignature `json:"notary_signatures,omitempty"`
	RequestSignature    NotarisationRequestSignature       `json:"request_signature"`
}

// TxID ...
func (p *NotarisationPayload) TxID() crypto.SecureHash {
	if p.SignedTransaction != nil {
		return p.SignedTransaction.ID()
	}
	if p.FilteredTransaction != nil {
		return p.FilteredTransaction.ID
	}
	return crypto.ZeroHash
}

// Marshal ...
func (p *NotarisationPayload) Marshal() ([]byte, error) {
	return transaction.Serialize(p)
}

// UnmarshalPayload ...
func UnmarshalPayload(data []byte) (*NotarisationPayload, error) {
	var p NotarisationPayload
	if err := transaction.Deserialize(data, &p); err != nil {
		return nil, err
	}
	if (p.SignedTransaction == nil) == (p.FilteredTransaction == nil) {
		return nil, fmt.Errorf("payload must carry exactly one transaction")
	}
	return &p, nil
}
