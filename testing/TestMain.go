package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("HOUSEKEEPING_TEST_MODE", "1")
		if os.Getenv("CLAIMS_SIGNING_KEY") == "" {
			_ = os.Setenv("CLAIMS_SIGNING_KEY", "test-signing-key")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
