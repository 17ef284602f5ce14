// Package testutil contains test helpers shared across mimespool packages.
package testutil

import (
	"os"
	"testing"
)

// GetEnvOrSkip returns the value of the environment variable or skips the test when it is not set.
func GetEnvOrSkip(t *testing.T, name string) string {
	t.Helper()

	v := os.Getenv(name)
	if v == "" {
		t.Skipf("%v not provided", name)
	}

	return v
}
