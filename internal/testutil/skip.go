package testutil

import (
	"os"
	"testing"
)

// SkipIfNoNetwork skips the test if HOSTDECK_TEST_SKIP_NETWORK is set.
// Use this for tests that listen on loopback TCP, which some sandboxes block.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("HOSTDECK_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: HOSTDECK_TEST_SKIP_NETWORK is set")
	}
}
