// Package testing puts test binaries into procurement test mode. Blank-import it from a
// package's tests to get the environment that cmd/ binaries expect under go test.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

// integrationEnv names the variables that would make a test reach real services.
var integrationEnv = []string{
	"AUDIT_API_URL",
	"INVENTORY_API_KEY",
	"FINANCE_API_KEY",
	"REDIS_ADDR",
}

var setup sync.Once

func isolate() {
	setup.Do(func() {
		_ = os.Setenv("PROCUREMENT_TEST_MODE", "1")
		for _, key := range integrationEnv {
			_ = os.Unsetenv(key)
		}
	})
}

func init() {
	isolate()
}

// TestMain is available to packages that delegate their own TestMain here.
func TestMain(m *stdtesting.M) {
	isolate()
	os.Exit(m.Run())
}
