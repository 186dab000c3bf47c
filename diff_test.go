package git_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	git "github.com/vcskit/gitcore"
	"github.com/vcskit/gitcore/diff"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/config"
	"gopkg.in/ini.v1"
)

func TestDiffIndexToWorkdir(t *testing.T) {
	t.Parallel()

	r, fs := newRepo(t)
	writeFile(t, fs, "file.txt", "a\nb\nc\n")
	commitWorkTree(t, r, "initial commit\n")
	writeFile(t, fs, "file.txt", "a\nB\nc\nd\n")

	d, err := r.DiffIndexToWorkdir(nil)
	require.NoError(t, err)
	require.Equal(t, 1, d.Len())
	delta, ok := d.Delta(0)
	require.True(t, ok)
	assert.Equal(t, diff.StatusModified, delta.Status)
	assert.Equal(t, "file.txt", delta.Path())

	p, err := d.Patch(0)
	require.NoError(t, err)
	require.Len(t, p.Hunks, 1)
	ins, del := p.LineStats()
	assert.Equal(t, 2, ins)
	assert.Equal(t, 1, del)
	assert.Contains(t, p.String(), "diff --git a/file.txt b/file.txt\n")

	stats, err := d.Stats()
	require.NoError(t, err)
	assert.Equal(t, diff.Stats{FilesChanged: 1, Insertions: 2, Deletions: 1}, stats)
}

func TestDiffTreeToTree(t *testing.T) {
	t.Parallel()

	content := "line 1\nline 2\nline 3\nline 4\nline 5\nline 6\n"

	r, fs := newRepo(t)
	writeFile(t, fs, "old.txt", content)
	first := commitWorkTree(t, r, "initial commit\n")
	require.NoError(t, fs.Remove("/repo/old.txt"))
	writeFile(t, fs, "new.txt", content)
	second := commitWorkTree(t, r, "rename\n")

	oldTree, err := r.Tree(first.TreeID())
	require.NoError(t, err)
	newTree, err := r.Tree(second.TreeID())
	require.NoError(t, err)

	d, err := r.DiffTreeToTree(oldTree, newTree, nil)
	require.NoError(t, err)
	require.Equal(t, 2, d.Len(), "renames are not detected by default")

	err = r.Config().UpdateLocal(func(f *ini.File) error {
		f.Section(config.SectionDiff).Key(config.KeyDiffRenames).SetValue("true")
		return nil
	})
	require.NoError(t, err)

	d, err = r.DiffTreeToTree(oldTree, newTree, nil)
	require.NoError(t, err)
	require.Equal(t, 1, d.Len())
	delta, _ := d.Delta(0)
	assert.Equal(t, diff.StatusRenamed, delta.Status)
	assert.Equal(t, "old.txt", delta.OldFile.Path)
	assert.Equal(t, "new.txt", delta.NewFile.Path)
	assert.Equal(t, 100, delta.Similarity)

	// a nil tree is an empty tree
	d, err = r.DiffTreeToTree(nil, oldTree, nil)
	require.NoError(t, err)
	require.Equal(t, 1, d.Len())
	delta, _ = d.Delta(0)
	assert.Equal(t, diff.StatusAdded, delta.Status)
}

func TestDiffTreeToIndex(t *testing.T) {
	t.Parallel()

	r, fs := newRepo(t)
	writeFile(t, fs, "a", "a\n")
	commitWorkTree(t, r, "initial commit\n")
	writeFile(t, fs, "b", "b\n")
	idx, err := r.Index()
	require.NoError(t, err)
	require.NoError(t, idx.AddByPath("b"))

	head, err := r.HeadTree()
	require.NoError(t, err)
	d, err := r.DiffTreeToIndex(head, nil)
	require.NoError(t, err)
	require.Equal(t, 1, d.Len())
	delta, _ := d.Delta(0)
	assert.Equal(t, diff.StatusAdded, delta.Status)
	assert.Equal(t, "b", delta.Path())

	// the working tree is not involved
	d, err = r.DiffTreeToWorkdir(head, nil)
	require.NoError(t, err)
	require.Equal(t, 0, d.Len(), "untracked files are not reported by default")
	d, err = r.DiffTreeToWorkdir(head, &diff.Options{Flags: diff.IncludeUntracked})
	require.NoError(t, err)
	require.Equal(t, 1, d.Len())
	delta, _ = d.Delta(0)
	assert.Equal(t, diff.StatusUntracked, delta.Status)
}

func TestDiffBareRepository(t *testing.T) {
	t.Parallel()

	r, _ := newRepoWithOptions(t, git.InitOptions{IsBare: true})
	_, err := r.DiffIndexToWorkdir(nil)
	assert.ErrorIs(t, err, ginternals.ErrBareRepository)
	_, err = r.DiffTreeToWorkdir(nil, nil)
	assert.ErrorIs(t, err, ginternals.ErrBareRepository)

	head, err := r.HeadTree()
	require.NoError(t, err)
	assert.Nil(t, head, "an unborn branch has no tree")
}
