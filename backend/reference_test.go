package backend_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcskit/gitcore/backend"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
)

// writeBlob writes a blob with the given content and returns its id
func writeBlob(t *testing.T, b *backend.Backend, content string) githash.Oid {
	t.Helper()

	oid, err := b.WriteObject(object.New(b.Hash(), object.TypeBlob, []byte(content)))
	require.NoError(t, err)
	return oid
}

func testSignature() object.Signature {
	return object.NewSignature("John Doe", "john@domain.tld")
}

func TestUpdateReference(t *testing.T) {
	t.Parallel()

	t.Run("should create and update a reference", func(t *testing.T) {
		t.Parallel()

		b, cfg := newTestBackend(t, false)
		oid := writeBlob(t, b, "v1")
		name := "refs/heads/master"
		err := b.UpdateReference(backend.RefUpdate{
			Ref:        ginternals.NewReference(name, oid),
			CreateOnly: true,
		})
		require.NoError(t, err)

		ref, err := b.Reference(name)
		require.NoError(t, err)
		assert.Equal(t, oid, ref.Target())

		// HEAD is now resolvable
		head, err := b.Reference(ginternals.Head)
		require.NoError(t, err)
		assert.Equal(t, oid, head.Target())
		assert.Equal(t, name, head.SymbolicTarget())

		data, err := afero.ReadFile(cfg.FS, ginternals.RefPath(cfg, name))
		require.NoError(t, err)
		assert.Equal(t, oid.String()+"\n", string(data))

		oid2 := writeBlob(t, b, "v2")
		err = b.UpdateReference(backend.RefUpdate{
			Ref:       ginternals.NewReference(name, oid2),
			MustExist: true,
		})
		require.NoError(t, err)
		ref, err = b.Reference(name)
		require.NoError(t, err)
		assert.Equal(t, oid2, ref.Target())

		// the data should survive a reload
		ref, err = reopen(t, cfg).Reference(name)
		require.NoError(t, err)
		assert.Equal(t, oid2, ref.Target())
	})

	t.Run("should respect the preconditions", func(t *testing.T) {
		t.Parallel()

		b, _ := newTestBackend(t, false)
		oid := writeBlob(t, b, "content")
		ref := ginternals.NewReference("refs/heads/a", oid)

		err := b.UpdateReference(backend.RefUpdate{Ref: ref, MustExist: true})
		require.ErrorIs(t, err, ginternals.ErrRefNotFound)

		require.NoError(t, b.UpdateReference(backend.RefUpdate{Ref: ref, CreateOnly: true}))
		err = b.UpdateReference(backend.RefUpdate{Ref: ref, CreateOnly: true})
		require.ErrorIs(t, err, ginternals.ErrRefExists)
		require.ErrorIs(t, err, ginternals.ErrAlreadyExists)

		// refs/heads/a is a file, so refs/heads/a/b cannot exist
		err = b.UpdateReference(backend.RefUpdate{Ref: ginternals.NewReference("refs/heads/a/b", oid)})
		require.ErrorIs(t, err, ginternals.ErrRefExists)
		err = b.UpdateReference(backend.RefUpdate{Ref: ginternals.NewReference("refs/heads", oid)})
		require.ErrorIs(t, err, ginternals.ErrRefExists)
	})

	t.Run("should reject invalid names", func(t *testing.T) {
		t.Parallel()

		b, _ := newTestBackend(t, false)
		oid := writeBlob(t, b, "content")

		err := b.UpdateReference(backend.RefUpdate{Ref: ginternals.NewReference("refs/heads/a..b", oid)})
		require.ErrorIs(t, err, ginternals.ErrRefNameInvalid)
		require.ErrorIs(t, err, ginternals.ErrInvalidName)

		err = b.UpdateReference(backend.RefUpdate{Ref: ginternals.NewSymbolicReference("refs/heads/a", "refs/heads/b.lock")})
		require.ErrorIs(t, err, ginternals.ErrRefNameInvalid)
	})

	t.Run("should fail if the reference is locked", func(t *testing.T) {
		t.Parallel()

		b, cfg := newTestBackend(t, false)
		oid := writeBlob(t, b, "content")
		name := "refs/heads/locked"
		require.NoError(t, afero.WriteFile(cfg.FS, ginternals.RefPath(cfg, name)+".lock", nil, 0o644))

		err := b.UpdateReference(backend.RefUpdate{Ref: ginternals.NewReference(name, oid)})
		require.ErrorIs(t, err, ginternals.ErrStorage)
		_, err = b.Reference(name)
		require.ErrorIs(t, err, ginternals.ErrRefNotFound)
	})

	t.Run("should detect symbolic loops", func(t *testing.T) {
		t.Parallel()

		b, _ := newTestBackend(t, false)
		require.NoError(t, b.UpdateReference(backend.RefUpdate{Ref: ginternals.NewSymbolicReference("refs/heads/x", "refs/heads/y")}))
		require.NoError(t, b.UpdateReference(backend.RefUpdate{Ref: ginternals.NewSymbolicReference("refs/heads/y", "refs/heads/x")}))

		_, err := b.Reference("refs/heads/x")
		require.ErrorIs(t, err, ginternals.ErrRefChainTooDeep)

		// The raw reference is still readable
		ref, err := b.RawReference("refs/heads/x")
		require.NoError(t, err)
		assert.Equal(t, "refs/heads/y", ref.SymbolicTarget())
	})
}

func TestReflog(t *testing.T) {
	t.Parallel()

	t.Run("should log the changes of a branch and of HEAD", func(t *testing.T) {
		t.Parallel()

		b, _ := newTestBackend(t, false)
		oid1 := writeBlob(t, b, "v1")
		oid2 := writeBlob(t, b, "v2")
		name := "refs/heads/master"
		sig := testSignature()

		require.NoError(t, b.UpdateReference(backend.RefUpdate{
			Ref:       ginternals.NewReference(name, oid1),
			Committer: sig,
			Message:   "commit (initial): first",
		}))
		require.NoError(t, b.UpdateReference(backend.RefUpdate{
			Ref:       ginternals.NewReference(name, oid2),
			Committer: sig,
			Message:   "commit: second",
		}))

		for _, n := range []string{name, ginternals.Head} {
			log, err := b.Reflog(n)
			require.NoError(t, err, n)
			require.Equal(t, 2, log.Len(), n)

			latest, ok := log.Latest()
			require.True(t, ok)
			assert.Equal(t, oid1, latest.Old)
			assert.Equal(t, oid2, latest.New)
			assert.Equal(t, "commit: second", latest.Message)
			assert.Equal(t, sig.Name, latest.Committer.Name)
			assert.Equal(t, sig.Email, latest.Committer.Email)

			oldest, ok := log.Oldest()
			require.True(t, ok)
			assert.True(t, oldest.Old.IsZero())
			assert.Equal(t, oid1, oldest.New)
		}
	})

	t.Run("should not log tags", func(t *testing.T) {
		t.Parallel()

		b, _ := newTestBackend(t, false)
		name := "refs/tags/v1"
		require.NoError(t, b.UpdateReference(backend.RefUpdate{
			Ref:       ginternals.NewReference(name, writeBlob(t, b, "v1")),
			Committer: testSignature(),
			Message:   "tag",
		}))
		_, err := b.Reflog(name)
		require.ErrorIs(t, err, ginternals.ErrReflogNotFound)
		assert.False(t, b.HasReflog(name))
	})

	t.Run("should not log without committer", func(t *testing.T) {
		t.Parallel()

		b, _ := newTestBackend(t, false)
		name := "refs/heads/master"
		require.NoError(t, b.UpdateReference(backend.RefUpdate{
			Ref: ginternals.NewReference(name, writeBlob(t, b, "v1")),
		}))
		_, err := b.Reflog(name)
		require.ErrorIs(t, err, ginternals.ErrReflogNotFound)
	})

	t.Run("should not log in bare repositories", func(t *testing.T) {
		t.Parallel()

		b, _ := newTestBackend(t, true)
		name := "refs/heads/master"
		require.NoError(t, b.UpdateReference(backend.RefUpdate{
			Ref:       ginternals.NewReference(name, writeBlob(t, b, "v1")),
			Committer: testSignature(),
		}))
		_, err := b.Reflog(name)
		require.ErrorIs(t, err, ginternals.ErrReflogNotFound)
	})

	t.Run("should log namespaced branches", func(t *testing.T) {
		t.Parallel()

		b, _ := newTestBackend(t, false)
		name := ginternals.NamespacedName("foo/bar", "refs/heads/master")
		require.NoError(t, b.UpdateReference(backend.RefUpdate{
			Ref:       ginternals.NewReference(name, writeBlob(t, b, "v1")),
			Committer: testSignature(),
		}))
		log, err := b.Reflog(name)
		require.NoError(t, err)
		assert.Equal(t, 1, log.Len())
	})
}

func TestDeleteReference(t *testing.T) {
	t.Parallel()

	t.Run("should remove the reference and its reflog", func(t *testing.T) {
		t.Parallel()

		b, cfg := newTestBackend(t, false)
		name := "refs/heads/feature/thing"
		require.NoError(t, b.UpdateReference(backend.RefUpdate{
			Ref:       ginternals.NewReference(name, writeBlob(t, b, "v1")),
			Committer: testSignature(),
		}))
		require.True(t, b.HasReflog(name))

		require.NoError(t, b.DeleteReference(name))
		_, err := b.Reference(name)
		require.ErrorIs(t, err, ginternals.ErrRefNotFound)
		assert.False(t, b.HasReflog(name))

		// the empty directories are removed
		exists, err := afero.DirExists(cfg.FS, ginternals.RefPath(cfg, "refs/heads/feature"))
		require.NoError(t, err)
		assert.False(t, exists)
		exists, err = afero.DirExists(cfg.FS, ginternals.LocalBranchesPath(cfg))
		require.NoError(t, err)
		assert.True(t, exists)

		_, err = reopen(t, cfg).Reference(name)
		require.ErrorIs(t, err, ginternals.ErrRefNotFound)
	})

	t.Run("should fail on missing reference", func(t *testing.T) {
		t.Parallel()

		b, _ := newTestBackend(t, false)
		err := b.DeleteReference("refs/heads/nope")
		require.ErrorIs(t, err, ginternals.ErrRefNotFound)
	})
}

func TestRenameReference(t *testing.T) {
	t.Parallel()

	t.Run("should move the reference, its reflog, and HEAD", func(t *testing.T) {
		t.Parallel()

		b, _ := newTestBackend(t, false)
		oid := writeBlob(t, b, "v1")
		sig := testSignature()
		require.NoError(t, b.UpdateReference(backend.RefUpdate{
			Ref:       ginternals.NewReference("refs/heads/master", oid),
			Committer: sig,
			Message:   "first",
		}))

		err := b.RenameReference("refs/heads/master", "refs/heads/main", false, sig, "renamed")
		require.NoError(t, err)

		_, err = b.Reference("refs/heads/master")
		require.ErrorIs(t, err, ginternals.ErrRefNotFound)
		ref, err := b.Reference("refs/heads/main")
		require.NoError(t, err)
		assert.Equal(t, oid, ref.Target())

		head, err := b.RawReference(ginternals.Head)
		require.NoError(t, err)
		assert.Equal(t, "refs/heads/main", head.SymbolicTarget())

		assert.False(t, b.HasReflog("refs/heads/master"))
		log, err := b.Reflog("refs/heads/main")
		require.NoError(t, err)
		require.Equal(t, 2, log.Len())
		latest, _ := log.Latest()
		assert.Equal(t, "renamed", latest.Message)
		assert.Equal(t, oid, latest.Old)
		assert.Equal(t, oid, latest.New)
	})

	t.Run("should not overwrite without force", func(t *testing.T) {
		t.Parallel()

		b, _ := newTestBackend(t, false)
		oid1 := writeBlob(t, b, "v1")
		oid2 := writeBlob(t, b, "v2")
		require.NoError(t, b.UpdateReference(backend.RefUpdate{Ref: ginternals.NewReference("refs/heads/a", oid1)}))
		require.NoError(t, b.UpdateReference(backend.RefUpdate{Ref: ginternals.NewReference("refs/heads/b", oid2)}))

		err := b.RenameReference("refs/heads/a", "refs/heads/b", false, testSignature(), "")
		require.ErrorIs(t, err, ginternals.ErrRefExists)

		err = b.RenameReference("refs/heads/a", "refs/heads/b", true, testSignature(), "")
		require.NoError(t, err)
		ref, err := b.Reference("refs/heads/b")
		require.NoError(t, err)
		assert.Equal(t, oid1, ref.Target())
		assert.Equal(t, []string{"refs/heads/b"}, b.ReferenceNames())
	})

	t.Run("should fail on missing reference", func(t *testing.T) {
		t.Parallel()

		b, _ := newTestBackend(t, false)
		err := b.RenameReference("refs/heads/a", "refs/heads/b", false, testSignature(), "")
		require.ErrorIs(t, err, ginternals.ErrRefNotFound)
	})
}

func TestPackReferences(t *testing.T) {
	t.Parallel()

	b, cfg := newTestBackend(t, false)
	blobID := writeBlob(t, b, "tagged content")
	blob, err := b.Object(blobID)
	require.NoError(t, err)
	tag := object.NewTag(b.Hash(), &object.TagParams{
		Target:  blob,
		Name:    "v1",
		Tagger:  testSignature(),
		Message: "version 1",
	})
	tagID, err := b.WriteObject(tag.ToObject())
	require.NoError(t, err)

	require.NoError(t, b.UpdateReference(backend.RefUpdate{Ref: ginternals.NewReference("refs/heads/master", blobID)}))
	require.NoError(t, b.UpdateReference(backend.RefUpdate{Ref: ginternals.NewReference("refs/tags/v1", tagID)}))
	require.NoError(t, b.UpdateReference(backend.RefUpdate{Ref: ginternals.NewSymbolicReference("refs/heads/alias", "refs/heads/master")}))

	require.NoError(t, b.PackReferences())

	data, err := afero.ReadFile(cfg.FS, ginternals.PackedRefsPath(cfg))
	require.NoError(t, err)
	expected := "# pack-refs with: peeled fully-peeled sorted \n" +
		blobID.String() + " refs/heads/master\n" +
		tagID.String() + " refs/tags/v1\n" +
		"^" + blobID.String() + "\n"
	assert.Equal(t, expected, string(data))

	// loose refs are gone, except for the symbolic ones
	for name, exists := range map[string]bool{
		"refs/heads/master": false,
		"refs/tags/v1":      false,
		"refs/heads/alias":  true,
		ginternals.Head:     true,
	} {
		found, err := afero.Exists(cfg.FS, ginternals.RefPath(cfg, name))
		require.NoError(t, err)
		assert.Equal(t, exists, found, name)
	}

	reloaded := reopen(t, cfg)
	for _, be := range []*backend.Backend{b, reloaded} {
		ref, err := be.Reference("refs/heads/alias")
		require.NoError(t, err)
		assert.Equal(t, blobID, ref.Target())
		ref, err = be.Reference("refs/tags/v1")
		require.NoError(t, err)
		assert.Equal(t, tagID, ref.Target())
		assert.Equal(t, blobID, be.PeeledReference("refs/tags/v1"))
		assert.Equal(t, []string{"refs/heads/alias", "refs/heads/master", "refs/tags/v1"}, be.ReferenceNames())
	}

	t.Run("loose references should win over packed ones", func(t *testing.T) {
		newID := writeBlob(t, reloaded, "new content")
		require.NoError(t, reloaded.UpdateReference(backend.RefUpdate{Ref: ginternals.NewReference("refs/heads/master", newID)}))
		ref, err := reloaded.Reference("refs/heads/master")
		require.NoError(t, err)
		assert.Equal(t, newID, ref.Target())
		assert.Nil(t, reloaded.PeeledReference("refs/heads/master"))
	})

	t.Run("deleting a packed reference should rewrite packed-refs", func(t *testing.T) {
		require.NoError(t, reloaded.DeleteReference("refs/tags/v1"))
		data, err := afero.ReadFile(cfg.FS, ginternals.PackedRefsPath(cfg))
		require.NoError(t, err)
		assert.NotContains(t, string(data), "refs/tags/v1")
		_, err = reloaded.Reference("refs/tags/v1")
		require.ErrorIs(t, err, ginternals.ErrRefNotFound)
	})
}

func TestReadPackedRefs(t *testing.T) {
	t.Parallel()

	oid := "3b18e512dba79e4c8300dd08aeb37f8e728b8dad"
	testCases := []struct {
		desc        string
		content     string
		expectedErr error
	}{
		{
			desc:    "valid file with comments",
			content: "# pack-refs with: peeled\n" + oid + " refs/heads/master\n^" + oid + "\n\n",
		},
		{
			desc:        "peeled line first",
			content:     "^" + oid + "\n",
			expectedErr: ginternals.ErrPackedRefInvalid,
		},
		{
			desc:        "missing name",
			content:     oid + "\n",
			expectedErr: ginternals.ErrPackedRefInvalid,
		},
		{
			desc:        "invalid id",
			content:     "abcdef refs/heads/master\n",
			expectedErr: ginternals.ErrPackedRefInvalid,
		},
	}
	for i, tc := range testCases {
		tc := tc
		t.Run(fmt.Sprintf("%d/%s", i, tc.desc), func(t *testing.T) {
			t.Parallel()

			b, cfg := newTestBackend(t, false)
			require.NoError(t, b.Close())
			require.NoError(t, afero.WriteFile(cfg.FS, ginternals.PackedRefsPath(cfg), []byte(tc.content), 0o644))

			_, err := backend.NewFS(cfg)
			if tc.expectedErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tc.expectedErr), "unexpected error: %v", err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestWalkReferences(t *testing.T) {
	t.Parallel()

	b, _ := newTestBackend(t, false)
	oid := writeBlob(t, b, "content")
	names := []string{"refs/tags/v1", "refs/heads/b", "refs/heads/a"}
	for _, name := range names {
		require.NoError(t, b.UpdateReference(backend.RefUpdate{Ref: ginternals.NewReference(name, oid)}))
	}

	t.Run("should walk in order", func(t *testing.T) {
		t.Parallel()

		found := []string{}
		err := b.WalkReferences(func(ref *ginternals.Reference) error {
			found = append(found, ref.Name())
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"refs/heads/a", "refs/heads/b", "refs/tags/v1"}, found)
	})

	t.Run("should stop", func(t *testing.T) {
		t.Parallel()

		count := 0
		err := b.WalkReferences(func(ref *ginternals.Reference) error {
			count++
			return backend.WalkStop
		})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}
