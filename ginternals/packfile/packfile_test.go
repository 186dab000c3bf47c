package packfile_test

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
	"github.com/vcskit/gitcore/ginternals/packfile"
	"github.com/vcskit/gitcore/internal/testhelper/packutil"
)

const packDir = "/repo/.git/objects/pack"

// testObjects returns a set of objects, some of them stored as deltas
func testObjects(hash githash.Hash) (entries []packutil.Entry, objects []*object.Object) {
	base := object.New(hash, object.TypeBlob, []byte("hello world\n"))
	ofs := object.New(hash, object.TypeBlob, []byte("hello gophers\n"))
	ref := object.New(hash, object.TypeBlob, []byte("hello gophers\nhello world\n"))
	// delta of a delta
	chained := object.New(hash, object.TypeBlob, []byte("hello gophers!\n"))
	tree := object.NewTree(hash, []object.TreeEntry{
		{Path: "file", Mode: object.ModeFile, ID: base.ID()},
	}).ToObject()

	entries = []packutil.Entry{
		{Object: base},
		{Object: tree},
		{
			Object: ofs,
			Type:   packutil.TypeOfsDelta,
			Base:   0,
			Delta: concat(
				packutil.DeltaHeader(12, 14),
				packutil.Copy(0, 6),
				packutil.Insert([]byte("gophers\n")),
			),
		},
		{
			Object: ref,
			Type:   packutil.TypeRefDelta,
			Base:   2,
			Delta: concat(
				packutil.DeltaHeader(14, 26),
				packutil.Copy(0, 14),
				packutil.Insert([]byte("hello world\n")),
			),
		},
		{
			Object: chained,
			Type:   packutil.TypeOfsDelta,
			Base:   2,
			Delta: concat(
				packutil.DeltaHeader(14, 15),
				packutil.Copy(0, 13),
				packutil.Insert([]byte("!\n")),
			),
		},
	}
	return entries, []*object.Object{base, tree, ofs, ref, chained}
}

func concat(parts ...[]byte) []byte {
	out := []byte{}
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestNewFromFile(t *testing.T) {
	t.Parallel()

	t.Run("valid packfile should pass", func(t *testing.T) {
		t.Parallel()

		fs := afero.NewMemMapFs()
		hash := githash.NewSHA1()
		entries, _ := testObjects(hash)
		packPath := packutil.Write(t, fs, packDir, hash, entries)

		pack, err := packfile.NewFromFile(fs, packPath, hash)
		require.NoError(t, err)
		t.Cleanup(func() {
			require.NoError(t, pack.Close())
		})
		assert.Equal(t, uint32(len(entries)), pack.ObjectCount())

		id, err := pack.ID()
		require.NoError(t, err)
		name := strings.TrimSuffix(filepath.Base(packPath), packfile.ExtPackfile)
		assert.Equal(t, "pack-"+id.String(), name)
	})

	t.Run("missing index should fail", func(t *testing.T) {
		t.Parallel()

		fs := afero.NewMemMapFs()
		hash := githash.NewSHA1()
		entries, _ := testObjects(hash)
		packPath := packutil.Write(t, fs, packDir, hash, entries)
		require.NoError(t, fs.Remove(strings.TrimSuffix(packPath, packfile.ExtPackfile)+packfile.ExtIndex))

		_, err := packfile.NewFromFile(fs, packPath, hash)
		require.Error(t, err)
		assert.ErrorIs(t, err, ginternals.ErrStorage)
	})

	t.Run("invalid files should fail", func(t *testing.T) {
		t.Parallel()

		hash := githash.NewSHA1()
		entries, _ := testObjects(hash)
		pack, idx := packutil.Build(t, hash, entries)

		testCases := []struct {
			desc          string
			pack          []byte
			idx           []byte
			expectedError error
		}{
			{
				desc:          "index used as packfile",
				pack:          idx,
				idx:           idx,
				expectedError: packfile.ErrInvalidMagic,
			},
			{
				desc:          "unsupported version",
				pack:          append([]byte("PACK\x00\x00\x00\x03"), pack[8:]...),
				idx:           idx,
				expectedError: packfile.ErrInvalidVersion,
			},
			{
				desc:          "packfile used as index",
				pack:          pack,
				idx:           pack,
				expectedError: packfile.ErrInvalidMagic,
			},
			{
				desc:          "unsupported index version",
				pack:          pack,
				idx:           append([]byte("\xfftOc\x00\x00\x00\x01"), idx[8:]...),
				expectedError: packfile.ErrInvalidVersion,
			},
			{
				desc:          "truncated packfile",
				pack:          pack[:10],
				idx:           idx,
				expectedError: packfile.ErrInvalidPack,
			},
		}
		for i, tc := range testCases {
			tc := tc
			i := i
			t.Run(fmt.Sprintf("%d/%s", i, tc.desc), func(t *testing.T) {
				t.Parallel()

				fs := afero.NewMemMapFs()
				require.NoError(t, afero.WriteFile(fs, "/pack-test.pack", tc.pack, 0o644))
				require.NoError(t, afero.WriteFile(fs, "/pack-test.idx", tc.idx, 0o644))
				_, err := packfile.NewFromFile(fs, "/pack-test.pack", hash)
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectedError)
				assert.ErrorIs(t, err, ginternals.ErrCorruptObject)
			})
		}
	})
}

func TestObject(t *testing.T) {
	t.Parallel()

	for _, hash := range []githash.Hash{githash.NewSHA1(), githash.NewSHA256()} {
		hash := hash
		t.Run(hash.Name(), func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			entries, objects := testObjects(hash)
			packPath := packutil.Write(t, fs, packDir, hash, entries)
			pack, err := packfile.NewFromFile(fs, packPath, hash)
			require.NoError(t, err)
			t.Cleanup(func() {
				require.NoError(t, pack.Close())
			})

			for i, expected := range objects {
				o, err := pack.Object(expected.ID())
				require.NoError(t, err, "object %d", i)
				assert.Equal(t, expected.ID(), o.ID())
				assert.Equal(t, expected.Type(), o.Type())
				assert.Equal(t, string(expected.Bytes()), string(o.Bytes()))

				found, err := pack.HasObject(expected.ID())
				require.NoError(t, err)
				assert.True(t, found)
			}

			missing := object.New(hash, object.TypeBlob, []byte("not in the pack")).ID()
			_, err = pack.Object(missing)
			require.Error(t, err)
			assert.ErrorIs(t, err, ginternals.ErrObjectNotFound)
			found, err := pack.HasObject(missing)
			require.NoError(t, err)
			assert.False(t, found)

			ids, err := pack.ObjectIDs()
			require.NoError(t, err)
			require.Len(t, ids, len(objects))
			for i := 1; i < len(ids); i++ {
				assert.Less(t, ids[i-1].String(), ids[i].String(), "ids should be sorted")
			}
		})
	}
}

func TestMatchPrefix(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	hash := githash.NewSHA1()
	entries, objects := testObjects(hash)
	packPath := packutil.Write(t, fs, packDir, hash, entries)
	pack, err := packfile.NewFromFile(fs, packPath, hash)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pack.Close())
	})

	for _, o := range objects {
		matches, err := pack.MatchPrefix(o.ID().String()[:6])
		require.NoError(t, err)
		assert.Contains(t, matches, o.ID())
		for _, m := range matches {
			assert.True(t, githash.HasHexPrefix(m, o.ID().String()[:6]))
		}
	}

	matches, err := pack.MatchPrefix(strings.Repeat("f", 40))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestCorruptDelta(t *testing.T) {
	t.Parallel()

	hash := githash.NewSHA1()
	base := object.New(hash, object.TypeBlob, []byte("hello world\n"))
	target := object.New(hash, object.TypeBlob, []byte("hello gophers\n"))

	testCases := []struct {
		desc  string
		delta []byte
	}{
		{
			desc:  "wrong source size",
			delta: concat(packutil.DeltaHeader(5, 14), packutil.Copy(0, 6), packutil.Insert([]byte("gophers\n"))),
		},
		{
			desc:  "wrong target size",
			delta: concat(packutil.DeltaHeader(12, 20), packutil.Copy(0, 6), packutil.Insert([]byte("gophers\n"))),
		},
		{
			desc:  "copy out of the base",
			delta: concat(packutil.DeltaHeader(12, 14), packutil.Copy(10, 6), packutil.Insert([]byte("gophers\n"))),
		},
		{
			desc:  "truncated insert",
			delta: concat(packutil.DeltaHeader(12, 14), packutil.Copy(0, 6), []byte{8, 'g', 'o'}),
		},
		{
			desc:  "reserved instruction",
			delta: concat(packutil.DeltaHeader(12, 14), []byte{0}),
		},
	}
	for i, tc := range testCases {
		tc := tc
		i := i
		t.Run(fmt.Sprintf("%d/%s", i, tc.desc), func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			packPath := packutil.Write(t, fs, packDir, hash, []packutil.Entry{
				{Object: base},
				{Object: target, Type: packutil.TypeOfsDelta, Base: 0, Delta: tc.delta},
			})
			pack, err := packfile.NewFromFile(fs, packPath, hash)
			require.NoError(t, err)
			t.Cleanup(func() {
				require.NoError(t, pack.Close())
			})

			_, err = pack.Object(target.ID())
			require.Error(t, err)
			assert.ErrorIs(t, err, packfile.ErrInvalidPack)
			assert.ErrorIs(t, err, ginternals.ErrCorruptObject)

			// the base is still readable
			_, err = pack.Object(base.ID())
			require.NoError(t, err)
		})
	}
}
