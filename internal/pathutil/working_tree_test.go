package pathutil_test

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcskit/gitcore/internal/pathutil"
)

func TestWorkingTreeFromPath(t *testing.T) {
	t.Parallel()

	t.Run("should be found from subdir", func(t *testing.T) {
		t.Parallel()

		fs := afero.NewMemMapFs()
		root := filepath.FromSlash("/work/repo")
		require.NoError(t, fs.MkdirAll(filepath.Join(root, ".git"), 0o755))
		finalPath := filepath.Join(root, "a", "b", "c")
		require.NoError(t, fs.MkdirAll(finalPath, 0o755))

		p, err := pathutil.WorkingTreeFromPath(fs, finalPath)
		require.NoError(t, err)
		assert.Equal(t, root, p)
	})

	t.Run("a .git file should not count", func(t *testing.T) {
		t.Parallel()

		fs := afero.NewMemMapFs()
		root := filepath.FromSlash("/work/repo")
		require.NoError(t, afero.WriteFile(fs, filepath.Join(root, ".git"), []byte("gitdir: elsewhere"), 0o644))

		_, err := pathutil.WorkingTreeFromPath(fs, root)
		require.ErrorIs(t, err, pathutil.ErrNoRepo)
	})

	t.Run("no repo should return an error", func(t *testing.T) {
		t.Parallel()

		fs := afero.NewMemMapFs()
		finalPath := filepath.FromSlash("/work/a/b/c")
		require.NoError(t, fs.MkdirAll(finalPath, 0o755))

		_, err := pathutil.WorkingTreeFromPath(fs, finalPath)
		require.ErrorIs(t, err, pathutil.ErrNoRepo)
	})
}
