//go:build !unit
// +build !unit

package version

import (
	"strings"
	"testing"
)

// TestFlagEmpty fails if version.Flag is not empty, which differentiates
// development builds from releases on the master branch.
func TestFlagEmpty(t *testing.T) {
	if len(Flag) > 0 {
		t.Fatalf("Version Flag is not empty: %s", Flag)
	}
}

func TestVersion(t *testing.T) {
	if !strings.HasPrefix(Version, "0.1.0") {
		t.Fatalf("unexpected version %s", Version)
	}
}
