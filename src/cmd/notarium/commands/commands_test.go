package commands

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mosaicnetworks/notarium/src/crypto/keys"
	"github.com/sirupsen/logrus"
)

func TestKeygen(t *testing.T) {
	dir := t.TempDir()
	privKeyFile = filepath.Join(dir, "priv_key")
	pubKeyFile = filepath.Join(dir, "pub", "key.pub")

	if err := keygen(nil, nil); err != nil {
		t.Fatal(err)
	}

	key, err := keys.NewSimpleKeyfile(privKeyFile).ReadKey()
	if err != nil {
		t.Fatal(err)
	}
	pub, err := ioutil.ReadFile(pubKeyFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(pub) != keys.PublicKeyHex(&key.PublicKey) {
		t.Fatalf("public key file should hold %s, not %s", keys.PublicKeyHex(&key.PublicKey), pub)
	}

	if err := keygen(nil, nil); err == nil {
		t.Fatal("keygen should not overwrite a key")
	}
}

func TestAddFileHooks(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	logger := logrus.New()
	logger.Out = ioutil.Discard
	logger.Level = logrus.DebugLevel

	if err := addFileHooks(logger, dir); err != nil {
		t.Fatal(err)
	}

	logger.WithField("prefix", "test").Info("hello")

	data, err := os.ReadFile(filepath.Join(dir, "notarium_info.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("info log should contain the message, got %q", data)
	}
}
