package ledger

import (
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/golang/snappy"
	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/vmihailenco/msgpack/v4"
	"golang.org/x/crypto/chacha20poly1305"
)

const sealKeyDomain = "notarium distribution list"

// ErrUnsealable is returned when a sealed distribution list was not sealed
// by this node or was tampered with.
var ErrUnsealable = errors.New("cannot open sealed distribution list")

// Sealer seals sender distribution lists with a node-local
// chacha20poly1305 key. Sealed lists are msgpack, compressed with snappy,
// and prefixed by their nonce.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer uses key, which must be chacha20poly1305.KeySize bytes long.
func NewSealer(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// NewSealerFromKey derives the sealing key from the node's private key.
func NewSealerFromKey(priv *ecdsa.PrivateKey) (*Sealer, error) {
	if priv == nil {
		return nil, errors.New("no private key")
	}
	key := crypto.HashOf(append([]byte(sealKeyDomain), priv.D.Bytes()...))
	return NewSealer(key[:])
}

// Seal ...
func (s *Sealer) Seal(list *SenderDistributionList) ([]byte, error) {
	plain, err := msgpack.Marshal(list)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return s.aead.Seal(nonce, nonce, snappy.Encode(nil, plain), nil), nil
}

// Open reverses Seal.
func (s *Sealer) Open(blob []byte) (*SenderDistributionList, error) {
	if len(blob) < s.aead.NonceSize() {
		return nil, ErrUnsealable
	}
	nonce, sealed := blob[:s.aead.NonceSize()], blob[s.aead.NonceSize():]

	compressed, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrUnsealable
	}

	plain, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("decompressing distribution list: %w", err)
	}

	list := &SenderDistributionList{}
	if err := msgpack.Unmarshal(plain, list); err != nil {
		return nil, fmt.Errorf("decoding distribution list: %w", err)
	}
	if list.PeersToStatesToRecord == nil {
		list.PeersToStatesToRecord = make(map[string]StatesToRecord)
	}
	return list, nil
}
