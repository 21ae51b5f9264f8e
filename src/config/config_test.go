package config

import (
	"path/filepath"
	"testing"

	"github.com/mosaicnetworks/notarium/src/identity"
)

func TestSetDataDir(t *testing.T) {
	conf := NewDefaultConfig()
	conf.SetDataDir("/tmp/notarium")

	if conf.DatabaseDir != filepath.Join("/tmp/notarium", DefaultDatabaseFile) {
		t.Fatalf("DatabaseDir should follow DataDir, not %s", conf.DatabaseDir)
	}
	if conf.Keyfile() != filepath.Join("/tmp/notarium", DefaultKeyfile) {
		t.Fatalf("wrong Keyfile %s", conf.Keyfile())
	}

	conf.DatabaseDir = "/var/db"
	conf.SetDataDir("/tmp/other")
	if conf.DatabaseDir != "/var/db" {
		t.Fatalf("an explicit DatabaseDir should be kept, not %s", conf.DatabaseDir)
	}
}

func TestValidate(t *testing.T) {
	conf := NewDefaultConfig()
	if err := conf.Validate(); err != nil {
		t.Fatal(err)
	}

	conf.Ledger = "postgres"
	if err := conf.Validate(); err == nil {
		t.Fatal("postgres is not a ledger backend")
	}

	conf = NewDefaultConfig()
	conf.Notary = "strict"
	if err := conf.Validate(); err == nil {
		t.Fatal("strict is not a notary type")
	}

	conf.Notary = "non-validating"
	nt, err := conf.NotaryType()
	if err != nil {
		t.Fatal(err)
	}
	if nt != identity.NonValidatingNotary {
		t.Fatalf("notary type should be non-validating, not %q", nt)
	}

	conf.NetworkParameters = "zz"
	if err := conf.Validate(); err == nil {
		t.Fatal("zz is not a hash")
	}
}

func TestNetworkParametersHash(t *testing.T) {
	conf := NewDefaultConfig()

	h, err := conf.NetworkParametersHash()
	if err != nil || h != nil {
		t.Fatalf("unset parameters should give no hash, got %v %v", h, err)
	}

	conf.NetworkParameters = "0000000000000000000000000000000000000000000000000000000000000001"
	h, err = conf.NetworkParametersHash()
	if err != nil {
		t.Fatal(err)
	}
	if h.Bytes()[31] != 1 {
		t.Fatalf("wrong hash %s", h)
	}
}

func TestLogger(t *testing.T) {
	conf := NewDefaultConfig()
	conf.LogLevel = "warn"

	entry := conf.Logger()
	if entry.Data["prefix"] != "notarium" {
		t.Fatalf("prefix should be notarium, not %v", entry.Data["prefix"])
	}
	if entry.Logger.Level.String() != "warning" {
		t.Fatalf("level should be warning, not %s", entry.Logger.Level)
	}
	if conf.BaseLogger() != entry.Logger {
		t.Fatal("Logger should reuse the base logger")
	}
}
