// Package testutils contains some common utilities used exclusively
// by the test suite.
package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// ReplicaDSN returns the DSN of a MySQL replica, or empty if there is none.
// Tests which need a real replica skip when it is empty.
func ReplicaDSN() string {
	return os.Getenv("REPLICA_DSN")
}

// WriteFile writes contents to name inside a temporary directory owned by t
// and returns the full path.
func WriteFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}
