package testutil

import (
	"os"
	"testing"
)

// SetupTestEnv sets environment variables for the duration of a test.
//
// The original environment is restored when the test completes. Tests
// using it must not call t.Parallel.
//
// Example usage:
//
//	SetupTestEnv(t, map[string]string{
//	    "AKV_CACHE_DIR": t.TempDir(),
//	})
func SetupTestEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for key, value := range vars {
		t.Setenv(key, value)
	}
}

// UnsetTestEnv removes environment variables for the duration of a test.
func UnsetTestEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		// t.Setenv registers the restore and rejects parallel tests.
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("Failed to unset environment variable %s: %v", key, err)
		}
	}
}

// LookupFrom returns an environment lookup backed by vars, for code that
// accepts one instead of reading the process environment.
func LookupFrom(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}
