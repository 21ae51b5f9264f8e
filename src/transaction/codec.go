package transaction

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

// Serialize returns the canonical JSON encoding of v. Map keys are sorted so
// equal values always produce the same bytes.
func Serialize(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Deserialize decodes data produced by Serialize into v.
func Deserialize(data []byte, v interface{}) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(v)
}
