package sandbox

import (
	"os"
	"testing"
)

// The test binary doubles as the rlimit helper for tests that spawn processes
func TestMain(m *testing.M) {
	if code, ok := MaybeRunHelper(os.Args); ok {
		os.Exit(code)
	}
	os.Exit(m.Run())
}
