//go:build !unit
// +build !unit

package version

import (
	"strings"
	"testing"
)

// TestFlagEmpty fails if version.Flag is not empty. We use this to enforce an
// empty flag on the master branch.
func TestFlagEmpty(t *testing.T) {
	if len(Flag) > 0 {
		t.Fatalf("Version Flag is not empty: %s", Flag)
	}
}

func TestString(t *testing.T) {
	if !strings.HasPrefix(String(), Version) || !strings.Contains(String(), "protocol 1") {
		t.Fatalf("unexpected version string %q", String())
	}
}
