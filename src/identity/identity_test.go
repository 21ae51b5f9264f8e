package identity

import (
	"fmt"
	"io/ioutil"
	"os"
	"reflect"
	"testing"

	"github.com/mosaicnetworks/notarium/src/crypto/keys"
)

func initNodes(t *testing.T, n int) []*NodeInfo {
	nodes := []*NodeInfo{}
	for i := 0; i < n; i++ {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		nodes = append(nodes, NewNodeInfo(
			fmt.Sprintf("party%d", i),
			fmt.Sprintf("addr%d", i),
			keys.PublicKeyHex(&key.PublicKey),
		))
	}
	return nodes
}

func TestDirectoryLookups(t *testing.T) {
	nodes := initNodes(t, 3)
	nodes[2].Notary = ValidatingNotary

	dir := NewDirectory(nodes)

	p, ok := dir.PartyByName("party1")
	if !ok {
		t.Fatalf("party1 should be known")
	}
	if p.OwningKey != nodes[1].PubKeyHex {
		t.Fatalf("wrong owning key %s", p.OwningKey)
	}

	byKey, ok := dir.PartyFromKey(nodes[1].PubKeyHex)
	if !ok || byKey != p {
		t.Fatalf("lookup by key returned %#v", byKey)
	}

	addr, err := dir.AddressOf(p)
	if err != nil || addr != "addr1" {
		t.Fatalf("AddressOf returned %s, %v", addr, err)
	}

	at, ok := dir.PartyAt("addr1")
	if !ok || at != p {
		t.Fatalf("PartyAt returned %#v", at)
	}

	if _, err := dir.AddressOf(NewParty("nobody", nodes[0].PubKeyHex)); err == nil {
		t.Fatalf("unknown party should not resolve")
	}

	notary, _ := dir.PartyByName("party2")
	if !dir.IsNotary(notary) || !dir.IsValidatingNotary(notary) {
		t.Fatalf("party2 should be a validating notary")
	}
	if dir.IsNotary(p) {
		t.Fatalf("party1 is not a notary")
	}

	impostor := NewParty("party2", nodes[0].PubKeyHex)
	if dir.IsNotary(impostor) {
		t.Fatalf("a party with the notary's name but another key is not the notary")
	}

	if len(dir.Notaries()) != 1 {
		t.Fatalf("expected one notary, got %d", len(dir.Notaries()))
	}
}

func TestDirectoryCompositeNotary(t *testing.T) {
	nodes := initNodes(t, 1)

	members := []keys.WeightedKey{}
	memberHex := []string{}
	for i := 0; i < 3; i++ {
		k, _ := keys.GenerateECDSAKey()
		memberHex = append(memberHex, keys.PublicKeyHex(&k.PublicKey))
		members = append(members, keys.WeightedKey{Key: memberHex[i], Weight: 1})
	}
	ck, err := keys.NewCompositeKey(2, members...)
	if err != nil {
		t.Fatal(err)
	}

	nodes[0].Notary = NonValidatingNotary
	nodes[0].NotaryKey = ck.Encode()

	dir := NewDirectory(nodes)

	notary, _ := dir.PartyByName("party0")
	if notary.OwningKey != ck.Encode() {
		t.Fatalf("notary party should carry the composite key")
	}

	if !dir.IsNotary(notary) || dir.IsValidatingNotary(notary) {
		t.Fatalf("party0 should be a non-validating notary")
	}

	replica, ok := dir.PartyFromKey(memberHex[1])
	if !ok || replica != notary {
		t.Fatalf("member key should resolve to the notary")
	}
}

func TestJSONDirectory(t *testing.T) {
	// Create a test dir
	dir, err := ioutil.TempDir("", "notarium")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	store := NewJSONDirectory(dir)

	// Try a read, should get nothing
	d, err := store.Directory()
	if err == nil {
		t.Fatalf("store.Directory() should generate an error")
	}
	if d != nil {
		t.Fatalf("directory: %v", d)
	}

	nodes := initNodes(t, 3)
	nodes[0].Notary = NonValidatingNotary

	if err := store.Write(nodes); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Try a read, should find 3 nodes
	d, err = store.Directory()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if d.Len() != 3 {
		t.Fatalf("expected 3 nodes, got %d", d.Len())
	}

	if !reflect.DeepEqual(d.Nodes(), nodes) {
		t.Fatalf("nodes differ after round trip")
	}
}
