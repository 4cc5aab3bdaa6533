package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

// TestModeEnv, when truthy, makes the binaries return before touching Postgres, Redis or the
// network and disables rate limiting.
const TestModeEnv = "PROCUREMENT_TEST_MODE"

var testMode atomic.Pointer[bool]

func readTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}

// InTestMode reports whether runtime side effects should be skipped. The flag is read from the
// environment on first use and cached.
func InTestMode() bool {
	if cached := testMode.Load(); cached != nil {
		return *cached
	}
	RefreshTestMode()
	return *testMode.Load()
}

// RefreshTestMode re-reads TestModeEnv.
func RefreshTestMode() {
	on := readTestMode()
	testMode.Store(&on)
}
