package index_test

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/index"
	"github.com/vcskit/gitcore/ginternals/object"
)

func newEntry(hash githash.Hash, path string, stage index.Stage) index.Entry {
	return index.Entry{
		Path:  path,
		Stage: stage,
		ID:    hash.Sum([]byte(path)),
		Mode:  object.ModeFile,
		Size:  uint32(len(path)),
		CTime: time.Unix(1566115917, 10),
		MTime: time.Unix(1566115918, 20),
	}
}

func paths(entries []index.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, fmt.Sprintf("%s:%d", e.Path, e.Stage))
	}
	return out
}

func TestAdd(t *testing.T) {
	t.Parallel()

	hash := githash.NewSHA1()

	t.Run("entries should be sorted by path then stage", func(t *testing.T) {
		t.Parallel()

		idx := index.New(hash)
		for _, e := range []index.Entry{
			newEntry(hash, "foo/bar", index.StageMerged),
			newEntry(hash, "b", index.StageTheirs),
			newEntry(hash, "foo.txt", index.StageMerged),
			newEntry(hash, "b", index.StageOurs),
			newEntry(hash, "a", index.StageMerged),
			newEntry(hash, "b", index.StageAncestor),
		} {
			require.NoError(t, idx.Add(e))
		}

		expected := []string{"a:0", "b:1", "b:2", "b:3", "foo.txt:0", "foo/bar:0"}
		if diff := cmp.Diff(expected, paths(idx.Entries())); diff != "" {
			t.Errorf("unexpected entries (-want +got):\n%s", diff)
		}
		assert.Equal(t, 6, idx.Count())
		assert.True(t, idx.HasConflicts())
		assert.Len(t, idx.Conflicts(), 3)
	})

	t.Run("adding the same path and stage replaces the entry", func(t *testing.T) {
		t.Parallel()

		idx := index.New(hash)
		e := newEntry(hash, "a", index.StageMerged)
		require.NoError(t, idx.Add(e))
		e.Size = 42
		require.NoError(t, idx.Add(e))

		require.Equal(t, 1, idx.Count())
		got, ok := idx.Entry("a", index.StageMerged)
		require.True(t, ok)
		assert.Equal(t, uint32(42), got.Size)
	})

	t.Run("a file replaces the directory of the same name", func(t *testing.T) {
		t.Parallel()

		idx := index.New(hash)
		for _, e := range []index.Entry{
			newEntry(hash, "a/b", index.StageMerged),
			newEntry(hash, "a/c/d", index.StageMerged),
			newEntry(hash, "a.txt", index.StageMerged),
			newEntry(hash, "ab", index.StageMerged),
			newEntry(hash, "a/b", index.StageOurs),
			newEntry(hash, "a", index.StageMerged),
		} {
			require.NoError(t, idx.Add(e))
		}

		// only the entries of the same stage are replaced
		expected := []string{"a:0", "a.txt:0", "a/b:2", "ab:0"}
		if diff := cmp.Diff(expected, paths(idx.Entries())); diff != "" {
			t.Errorf("unexpected entries (-want +got):\n%s", diff)
		}
	})

	t.Run("a directory replaces the file of the same name", func(t *testing.T) {
		t.Parallel()

		idx := index.New(hash)
		for _, e := range []index.Entry{
			newEntry(hash, "a", index.StageMerged),
			newEntry(hash, "a.txt", index.StageMerged),
			newEntry(hash, "a/b/c", index.StageMerged),
		} {
			require.NoError(t, idx.Add(e))
		}

		expected := []string{"a.txt:0", "a/b/c:0"}
		if diff := cmp.Diff(expected, paths(idx.Entries())); diff != "" {
			t.Errorf("unexpected entries (-want +got):\n%s", diff)
		}
	})

	t.Run("invalid paths", func(t *testing.T) {
		t.Parallel()

		testCases := []string{"", "/abs", "dir/", "a//b", "a/./b", "../a", ".git/config", "a/.GIT/b"}
		for i, p := range testCases {
			p := p
			t.Run(fmt.Sprintf("%d/%s", i, p), func(t *testing.T) {
				t.Parallel()
				idx := index.New(hash)
				err := idx.Add(newEntry(hash, p, index.StageMerged))
				require.ErrorIs(t, err, index.ErrInvalidPath)
				require.ErrorIs(t, err, ginternals.ErrInvalidName)
			})
		}
	})
}

func TestRemove(t *testing.T) {
	t.Parallel()

	hash := githash.NewSHA1()
	build := func(t *testing.T) *index.Index {
		idx := index.New(hash)
		for _, e := range []index.Entry{
			newEntry(hash, "a", index.StageMerged),
			newEntry(hash, "b", index.StageOurs),
			newEntry(hash, "b", index.StageTheirs),
			newEntry(hash, "dir/c", index.StageMerged),
			newEntry(hash, "dir/sub/d", index.StageMerged),
			newEntry(hash, "dirt", index.StageMerged),
		} {
			require.NoError(t, idx.Add(e))
		}
		return idx
	}

	t.Run("Remove", func(t *testing.T) {
		t.Parallel()

		idx := build(t)
		assert.True(t, idx.Remove("a", index.StageMerged))
		assert.False(t, idx.Remove("a", index.StageMerged))
		assert.False(t, idx.Remove("b", index.StageMerged), "b has no stage 0")
		assert.False(t, idx.Contains("a"))
		assert.Equal(t, 5, idx.Count())
	})

	t.Run("RemoveAll", func(t *testing.T) {
		t.Parallel()

		idx := build(t)
		assert.Equal(t, 2, idx.RemoveAll("b"))
		assert.Equal(t, 0, idx.RemoveAll("nope"))
		assert.False(t, idx.Contains("b"))
		assert.False(t, idx.HasConflicts())
	})

	t.Run("RemoveDirectory", func(t *testing.T) {
		t.Parallel()

		idx := build(t)
		assert.Equal(t, 2, idx.RemoveDirectory("dir", index.StageMerged))
		assert.Equal(t, []string{"a:0", "b:2", "b:3", "dirt:0"}, paths(idx.Entries()))
	})

	t.Run("Clear", func(t *testing.T) {
		t.Parallel()

		idx := build(t)
		idx.Clear()
		assert.Equal(t, 0, idx.Count())
		_, ok := idx.EntryAt(0)
		assert.False(t, ok)
	})
}

func TestLookups(t *testing.T) {
	t.Parallel()

	hash := githash.NewSHA1()
	idx := index.New(hash)
	require.NoError(t, idx.Add(newEntry(hash, "b", index.StageMerged)))
	require.NoError(t, idx.Add(newEntry(hash, "c", index.StageOurs)))

	i, found := idx.Find("a", index.StageMerged)
	assert.False(t, found)
	assert.Equal(t, 0, i, "a should be inserted first")

	i, found = idx.Find("c", index.StageOurs)
	assert.True(t, found)
	assert.Equal(t, 1, i)

	assert.True(t, idx.Contains("c"), "Contains should look at all the stages")
	_, ok := idx.Entry("c", index.StageMerged)
	assert.False(t, ok)

	e, ok := idx.EntryAt(1)
	require.True(t, ok)
	assert.Equal(t, "c", e.Path)

	// Entries must return a copy
	entries := idx.Entries()
	entries[0].Path = "modified"
	e, _ = idx.EntryAt(0)
	assert.Equal(t, "b", e.Path)
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		desc            string
		hash            githash.Hash
		extended        bool
		expectedVersion uint32
	}{
		{desc: "sha1", hash: githash.NewSHA1(), expectedVersion: 2},
		{desc: "sha256", hash: githash.NewSHA256(), expectedVersion: 2},
		{desc: "extended flags", hash: githash.NewSHA1(), extended: true, expectedVersion: 3},
	}
	for i, tc := range testCases {
		tc := tc
		t.Run(fmt.Sprintf("%d/%s", i, tc.desc), func(t *testing.T) {
			t.Parallel()

			idx := index.New(tc.hash)
			longName := string(bytes.Repeat([]byte{'a'}, 5000))
			for _, p := range []string{"README.md", "a/b/c.go", "abcdefg", longName} {
				e := newEntry(tc.hash, p, index.StageMerged)
				e.AssumeValid = p == "abcdefg"
				e.SkipWorktree = tc.extended && p == "README.md"
				require.NoError(t, idx.Add(e))
			}
			conflict := newEntry(tc.hash, "conflict", index.StageTheirs)
			conflict.Mode = object.ModeExecutable
			require.NoError(t, idx.Add(conflict))

			buf := new(bytes.Buffer)
			require.NoError(t, idx.Encode(buf))
			require.NotNil(t, idx.Checksum())

			got, err := index.Decode(tc.hash, bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			assert.Equal(t, tc.expectedVersion, got.Version())
			assert.Equal(t, idx.Checksum(), got.Checksum())
			require.Equal(t, idx.Count(), got.Count())
			for i, want := range idx.Entries() {
				e, _ := got.EntryAt(i)
				assert.Equal(t, want.Path, e.Path)
				assert.Equal(t, want.Stage, e.Stage)
				assert.Equal(t, want.ID, e.ID)
				assert.Equal(t, want.Mode, e.Mode)
				assert.Equal(t, want.Size, e.Size)
				assert.True(t, want.MTime.Equal(e.MTime), "mtime of %s", want.Path)
				assert.True(t, want.CTime.Equal(e.CTime), "ctime of %s", want.Path)
				assert.Equal(t, want.AssumeValid, e.AssumeValid)
				assert.Equal(t, want.SkipWorktree, e.SkipWorktree)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	hash := githash.NewSHA1()
	idx := index.New(hash)
	require.NoError(t, idx.Add(newEntry(hash, "file", index.StageMerged)))
	buf := new(bytes.Buffer)
	require.NoError(t, idx.Encode(buf))
	valid := buf.Bytes()

	// withChecksum recomputes the checksum of a modified content
	withChecksum := func(content []byte) []byte {
		return append(content, hash.Sum(content).Bytes()...)
	}
	content := valid[:len(valid)-hash.OidSize()]

	badVersion := append([]byte{}, content...)
	badVersion[7] = 4

	withExtension := append([]byte{}, content...)
	withExtension = append(withExtension, 'T', 'R', 'E', 'E', 0, 0, 0, 2, 'x', 'y')

	withMandatoryExtension := append([]byte{}, content...)
	withMandatoryExtension = append(withMandatoryExtension, 'l', 'i', 'n', 'k', 0, 0, 0, 0)

	corrupted := append([]byte{}, valid...)
	corrupted[20] ^= 0xff

	testCases := []struct {
		desc          string
		data          []byte
		expectedError error
	}{
		{desc: "empty file", data: []byte{}, expectedError: index.ErrCorruptIndex},
		{desc: "checksum mismatch", data: corrupted, expectedError: index.ErrCorruptIndex},
		{desc: "unsupported version", data: withChecksum(badVersion), expectedError: index.ErrUnsupportedVersion},
		{desc: "optional extension are skipped", data: withChecksum(withExtension)},
		{desc: "mandatory extension", data: withChecksum(withMandatoryExtension), expectedError: index.ErrCorruptIndex},
	}
	for i, tc := range testCases {
		tc := tc
		t.Run(fmt.Sprintf("%d/%s", i, tc.desc), func(t *testing.T) {
			t.Parallel()

			out, err := index.Decode(hash, bytes.NewReader(tc.data))
			if tc.expectedError != nil {
				require.ErrorIs(t, err, tc.expectedError)
				require.ErrorIs(t, err, ginternals.ErrCorruptObject)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, out.Count())
		})
	}
}
