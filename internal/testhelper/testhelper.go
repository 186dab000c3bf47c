// Package testhelper contains helpers to simplify tests
package testhelper

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TempDir creates a temp dir on the disk that is removed once the test
// is done.
// The returned path has its symlinks resolved
func TempDir(t *testing.T) string {
	t.Helper()

	out, err := os.MkdirTemp("", strings.ReplaceAll(t.Name(), "/", "_")+"_")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, os.RemoveAll(out))
	})

	// On macOS the temp dir is behind a symlink
	out, err = filepath.EvalSymlinks(out)
	require.NoError(t, err)
	return out
}
