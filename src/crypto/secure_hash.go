package crypto

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashSize is the size in bytes of a SecureHash.
const HashSize = 32

// SecureHash is a SHA-256 digest. It identifies transactions, Merkle leaves
// and Merkle nodes. SecureHashes are totally ordered by byte comparison.
type SecureHash [HashSize]byte

var (
	// ZeroHash is the all-zero hash used to pad Merkle trees.
	ZeroHash SecureHash

	// AllOnesHash stands in for the root of an absent component group.
	AllOnesHash = func() SecureHash {
		var h SecureHash
		for i := range h {
			h[i] = 0xff
		}
		return h
	}()
)

// HashOf returns the SHA-256 digest of data.
func HashOf(data []byte) SecureHash {
	var h SecureHash
	copy(h[:], SHA256(data))
	return h
}

// HashConcat returns SHA-256(left ++ right).
func HashConcat(left, right SecureHash) SecureHash {
	var h SecureHash
	copy(h[:], SimpleHashFromTwoHashes(left[:], right[:]))
	return h
}

// SecureHashFromBytes copies b into a SecureHash. b must be HashSize bytes
// long.
func SecureHashFromBytes(b []byte) (SecureHash, error) {
	var h SecureHash
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length %d, need %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// ParseSecureHash parses the hexadecimal form produced by String. The 0X
// prefix is optional.
func ParseSecureHash(s string) (SecureHash, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0X"), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return SecureHash{}, err
	}
	return SecureHashFromBytes(b)
}

// Bytes returns a copy of the digest.
func (h SecureHash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// String returns the upper-case hexadecimal representation of the digest.
func (h SecureHash) String() string {
	return strings.ToUpper(hex.EncodeToString(h[:]))
}

// Short returns the first 8 hex characters, for log lines.
func (h SecureHash) Short() string {
	return h.String()[:8]
}

// Compare returns -1, 0 or 1 following bytes.Compare.
func (h SecureHash) Compare(other SecureHash) int {
	return bytes.Compare(h[:], other[:])
}

// Equal ...
func (h SecureHash) Equal(other SecureHash) bool {
	return h == other
}

// IsZero reports whether h is the ZeroHash.
func (h SecureHash) IsZero() bool {
	return h == ZeroHash
}

// MarshalText implements encoding.TextMarshaler.
func (h SecureHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *SecureHash) UnmarshalText(text []byte) error {
	parsed, err := ParseSecureHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
