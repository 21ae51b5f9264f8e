package keys

import (
	"encoding/hex"
	"io/ioutil"
	"os"
	"path"
	"reflect"
	"testing"

	bcrypto "github.com/mosaicnetworks/notarium/src/crypto"
)

func TestSimpleKeyfile(t *testing.T) {

	// Create a test dir
	os.Mkdir("test_data", os.ModeDir|0700)
	dir, err := ioutil.TempDir("test_data", "notarium")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	simpleKeyfile := NewSimpleKeyfile(path.Join(dir, "priv_key"))

	// Try a read, should get nothing
	key, err := simpleKeyfile.ReadKey()
	if err == nil {
		t.Fatalf("ReadKey should generate an error")
	}
	if key != nil {
		t.Fatalf("key is not nil")
	}

	// Initialize a key and try a write
	key, _ = GenerateECDSAKey()

	if err := simpleKeyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Try a read, should get key
	nKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !reflect.DeepEqual(*nKey, *key) {
		t.Fatalf("Keys do not match")
	}

	t.Log(err)
}

func TestFilePermissions(t *testing.T) {

	// Create a test dir
	os.Mkdir("test_data", os.ModeDir|0700)
	dir, err := ioutil.TempDir("test_data", "notarium")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	// Initialize a key and try a write
	key, _ := GenerateECDSAKey()
	rawKey := hex.EncodeToString(DumpPrivateKey(key))

	badKeyPath := path.Join(dir, "priv_key_bad")

	// random selection of permissions that should not be accepted. There might
	// be a more clever way to build this list.
	shouldErr := []os.FileMode{
		0777, 0766, 0744,
		0677, 0666, 0644,
		0477, 0466, 0444,
	}

	for _, fm := range shouldErr {
		ioutil.WriteFile(badKeyPath, []byte(rawKey), fm)

		badKeyFile := NewSimpleKeyfile(badKeyPath)

		if _, err := badKeyFile.ReadKey(); err == nil {
			t.Fatalf("%o || badKeyFile should return permissions error", fm)
		}
	}

	goodKeyPath := path.Join(dir, "priv_key_good")

	// random selection of permissions that should pass
	shouldNotErr := []os.FileMode{
		0700, 0600, 0500, 0400,
	}

	for _, fm := range shouldNotErr {
		ioutil.WriteFile(goodKeyPath, []byte(rawKey), fm)

		badKeyFile := NewSimpleKeyfile(goodKeyPath)

		if _, err := badKeyFile.ReadKey(); err != nil {
			t.Fatalf("%o || badKeyFile should not return error. Got %v", fm, err)
		}
	}

}

func TestSignatureEncoding(t *testing.T) {
	privKey, _ := GenerateECDSAKey()

	msg := "J'aime mieux forger mon ame que la meubler"
	msgBytes := []byte(msg)
	msgHashBytes := bcrypto.SHA256(msgBytes)

	r, s, _ := Sign(privKey, msgHashBytes)

	encodedSig := EncodeSignature(r, s)

	dr, ds, err := DecodeSignature(encodedSig)
	if err != nil {
		t.Logf("r: %#v", r)
		t.Logf("s: %#v", s)
		t.Logf("error decoding %v", encodedSig)
		t.Fatal(err)
	}

	if r.Cmp(dr) != 0 {
		t.Fatalf("Signature Rs defer")
	}

	if s.Cmp(ds) != 0 {
		t.Fatalf("Signature Ss defer")
	}

}

func TestSignToString(t *testing.T) {
	privKey, _ := GenerateECDSAKey()
	data := bcrypto.SHA256([]byte("notarise me"))

	sig, err := SignToString(privKey, data)
	if err != nil {
		t.Fatal(err)
	}

	if !VerifyString(PublicKeyHexOf(privKey), data, sig) {
		t.Fatalf("signature should verify")
	}

	other, _ := GenerateECDSAKey()
	if VerifyString(PublicKeyHexOf(other), data, sig) {
		t.Fatalf("signature should not verify with another key")
	}

	if VerifyString("0X1234", data, sig) {
		t.Fatalf("malformed key should fail verification")
	}

	if VerifyString(PublicKeyHexOf(privKey), data, "garbage") {
		t.Fatalf("malformed signature should fail verification")
	}
}

func TestParsePublicKeyHex(t *testing.T) {
	privKey, _ := GenerateECDSAKey()

	pub, err := ParsePublicKeyHex(PublicKeyHexOf(privKey))
	if err != nil {
		t.Fatal(err)
	}

	if pub.X.Cmp(privKey.PublicKey.X) != 0 || pub.Y.Cmp(privKey.PublicKey.Y) != 0 {
		t.Fatalf("public keys differ")
	}
}

func testKeys(n int) []string {
	res := make([]string, n)
	for i := 0; i < n; i++ {
		k, _ := GenerateECDSAKey()
		res[i] = PublicKeyHexOf(k)
	}
	return res
}

func TestCompositeKeyThreshold(t *testing.T) {
	members := testKeys(4)

	children := make([]WeightedKey, len(members))
	for i, m := range members {
		children[i] = WeightedKey{Key: m, Weight: 1}
	}

	ck, err := NewCompositeKey(3, children...)
	if err != nil {
		t.Fatal(err)
	}

	if ck.IsFulfilledBy(members[:2]) {
		t.Fatalf("2 of 4 should not fulfil a threshold of 3")
	}

	if !ck.IsFulfilledBy(members[1:]) {
		t.Fatalf("3 of 4 should fulfil a threshold of 3")
	}

	encoded := ck.Encode()
	if !IsCompositeKey(encoded) {
		t.Fatalf("encoded key should be recognised as composite")
	}

	if !IsFulfilledBy(encoded, members) {
		t.Fatalf("all members should fulfil the encoded key")
	}

	if len(LeafKeysOf(encoded)) != 4 {
		t.Fatalf("expected 4 leaf keys, got %d", len(LeafKeysOf(encoded)))
	}

	if !ContainsKey(encoded, members[2]) {
		t.Fatalf("member should be part of the composite key")
	}
}

func TestCompositeKeyNested(t *testing.T) {
	members := testKeys(3)

	inner, err := NewCompositeKey(2,
		WeightedKey{Key: members[0], Weight: 1},
		WeightedKey{Key: members[1], Weight: 1},
	)
	if err != nil {
		t.Fatal(err)
	}

	outer, err := NewCompositeKey(2,
		WeightedKey{Key: inner.Encode(), Weight: 1},
		WeightedKey{Key: members[2], Weight: 1},
	)
	if err != nil {
		t.Fatal(err)
	}

	if outer.IsFulfilledBy([]string{members[0], members[2]}) {
		t.Fatalf("inner key is not fulfilled by one member")
	}

	if !outer.IsFulfilledBy(members) {
		t.Fatalf("all members should fulfil the nested key")
	}

	decoded, err := DecodeCompositeKey(outer.Encode())
	if err != nil {
		t.Fatal(err)
	}

	if decoded.Encode() != outer.Encode() {
		t.Fatalf("encoding should be stable")
	}
}

func TestCompositeKeyValidation(t *testing.T) {
	members := testKeys(2)

	if _, err := NewCompositeKey(3,
		WeightedKey{Key: members[0], Weight: 1},
		WeightedKey{Key: members[1], Weight: 1},
	); err == nil {
		t.Fatalf("threshold above total weight should fail")
	}

	if _, err := NewCompositeKey(1,
		WeightedKey{Key: members[0], Weight: 1},
		WeightedKey{Key: members[0], Weight: 1},
	); err == nil {
		t.Fatalf("duplicate children should fail")
	}

	if _, err := NewCompositeKey(1); err == nil {
		t.Fatalf("empty composite key should fail")
	}

	if IsFulfilledBy(members[0], []string{members[1]}) {
		t.Fatalf("single key should only be fulfilled by itself")
	}

	if !IsFulfilledBy(members[0], []string{members[1], members[0]}) {
		t.Fatalf("single key should be fulfilled by itself")
	}
}
