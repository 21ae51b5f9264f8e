package transaction

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/crypto/keys"
)

// TransactionSignature is a signature over a transaction id. By is the hex
// public key of the signer.
type TransactionSignature struct {
	By        string `json:"by"`
	Signature string `json:"signature"`
}

// Sign signs id with priv.
func Sign(priv *ecdsa.PrivateKey, id crypto.SecureHash) (TransactionSignature, error) {
	sig, err := keys.SignToString(priv, id.Bytes())
	if err != nil {
		return TransactionSignature{}, err
	}
	return TransactionSignature{
		By:        keys.PublicKeyHexOf(priv),
		Signature: sig,
	}, nil
}

// Verify reports whether the signature is valid over id.
func (s TransactionSignature) Verify(id crypto.SecureHash) bool {
	return keys.VerifyString(s.By, id.Bytes(), s.Signature)
}

// SignedTransaction is a serialized WireTransaction and the signatures over
// its id.
type SignedTransaction struct {
	TxBits []byte                 `json:"tx_bits"`
	Sigs   []TransactionSignature `json:"sigs"`

	tx *WireTransaction
}

// NewSignedTransaction ...
func NewSignedTransaction(wtx *WireTransaction, sigs ...TransactionSignature) (*SignedTransaction, error) {
	bits, err := wtx.Marshal()
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{
		TxBits: bits,
		Sigs:   append([]TransactionSignature{}, sigs...),
		tx:     wtx,
	}, nil
}

// Tx returns the underlying WireTransaction.
func (s *SignedTransaction) Tx() (*WireTransaction, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	return UnmarshalWireTransaction(s.TxBits)
}

// ID returns the id of the underlying transaction, or the zero hash when the
// transaction bytes are invalid.
func (s *SignedTransaction) ID() crypto.SecureHash {
	tx, err := s.Tx()
	if err != nil {
		return crypto.ZeroHash
	}
	return tx.ID()
}

// WithAdditionalSignatures returns a copy of s with sigs appended. Signatures
// already present are not duplicated.
func (s *SignedTransaction) WithAdditionalSignatures(sigs ...TransactionSignature) *SignedTransaction {
	res := &SignedTransaction{
		TxBits: s.TxBits,
		Sigs:   append([]TransactionSignature{}, s.Sigs...),
		tx:     s.tx,
	}
	for _, sig := range sigs {
		dup := false
		for _, existing := range res.Sigs {
			if existing == sig {
				dup = true
				break
			}
		}
		if !dup {
			res.Sigs = append(res.Sigs, sig)
		}
	}
	return res
}

// SignWith appends the signature of priv.
func (s *SignedTransaction) SignWith(priv *ecdsa.PrivateKey) (*SignedTransaction, error) {
	sig, err := Sign(priv, s.ID())
	if err != nil {
		return nil, err
	}
	return s.WithAdditionalSignatures(sig), nil
}

// Signers returns the keys of the attached signatures.
func (s *SignedTransaction) Signers() []string {
	res := make([]string, len(s.Sigs))
	for i, sig := range s.Sigs {
		res[i] = common.NormalizeHex(sig.By)
	}
	return res
}

// VerifyRequiredSignatures checks that every attached signature is valid and
// every required key has signed.
func (s *SignedTransaction) VerifyRequiredSignatures() error {
	return s.VerifySignaturesExcept()
}

// VerifySignaturesExcept checks that every attached signature is valid and
// that every required key except allowedToBeMissing has signed. Composite
// keys are satisfied when enough of their members have signed.
func (s *SignedTransaction) VerifySignaturesExcept(allowedToBeMissing ...string) error {
	tx, err := s.Tx()
	if err != nil {
		return err
	}
	id := tx.ID()

	var result *multierror.Error
	for _, sig := range s.Sigs {
		if !sig.Verify(id) {
			result = multierror.Append(result, newTransactionErr(SignatureInvalid, "signature by %s", sig.By))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}

	allowed := make(map[string]bool, len(allowedToBeMissing))
	for _, k := range allowedToBeMissing {
		allowed[k] = true
		allowed[common.NormalizeHex(k)] = true
	}

	signers := s.Signers()
	missing := []string{}
	for _, k := range tx.RequiredSigningKeys() {
		if allowed[k] {
			continue
		}
		if !keys.IsFulfilledBy(k, signers) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return newTransactionErr(SignaturesMissing, "missing signatures from %s", strings.Join(missing, ", "))
	}

	return nil
}

// Marshal ...
func (s *SignedTransaction) Marshal() ([]byte, error) {
	return Serialize(s)
}

// UnmarshalSignedTransaction decodes the output of Marshal and checks that
// the transaction bytes are valid.
func UnmarshalSignedTransaction(data []byte) (*SignedTransaction, error) {
	var s SignedTransaction
	if err := Deserialize(data, &s); err != nil {
		return nil, err
	}
	tx, err := UnmarshalWireTransaction(s.TxBits)
	if err != nil {
		return nil, err
	}
	s.tx = tx
	return &s, nil
}

// String ...
func (s *SignedTransaction) String() string {
	return fmt.Sprintf("SignedTransaction(%s, %d sigs)", s.ID().Short(), len(s.Sigs))
}
