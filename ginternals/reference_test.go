package ginternals_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/githash"
)

func TestIsRefNameValid(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		desc       string
		name       string
		shouldPass bool
	}{
		{desc: "name with control chars should fail", name: "refs/not\000valid", shouldPass: false},
		{desc: "name with DEL should fail", name: "refs/not\177valid", shouldPass: false},
		{desc: "name with slashes should pass", name: "refs/some/name_/that/I/often-use/89", shouldPass: true},
		{desc: "name cannot be empty", name: "", shouldPass: false},
		{desc: "name cannot be @", name: "@", shouldPass: false},
		{desc: "name cannot start with a /", name: "/refs/heads/master", shouldPass: false},
		{desc: "name cannot end with a /", name: "refs/heads/master/", shouldPass: false},
		{desc: "name cannot contain ..", name: "refs/heads/ma..ster", shouldPass: false},
		{desc: "name cannot contain ?", name: "refs/heads/master?", shouldPass: false},
		{desc: "name cannot contain ~", name: "refs/heads/master~1", shouldPass: false},
		{desc: "name cannot contain :", name: "refs/heads/ma:ster", shouldPass: false},
		{desc: `name cannot contain \`, name: `refs/heads/ma\ster`, shouldPass: false},
		{desc: "name cannot contain ^", name: "refs/heads/ma^ster", shouldPass: false},
		{desc: "name cannot contain @{", name: "refs/heads/ma@{ster}", shouldPass: false},
		{desc: "name can end with @", name: "refs/heads/master@", shouldPass: true},
		{desc: "name can contain !", name: "refs/heads/wow!", shouldPass: true},
		{desc: "name cannot start with a .", name: ".refs/heads/master", shouldPass: false},
		{desc: "name cannot end with a .", name: "refs/heads/master.", shouldPass: false},
		{desc: "name cannot contain a [", name: "refs/heads/[master", shouldPass: false},
		{desc: "name cannot contain a space", name: "refs/he ads/master", shouldPass: false},
		{desc: "name cannot end with .lock", name: "refs/heads/master.lock", shouldPass: false},
		{desc: "segments cannot be empty", name: "refs//master", shouldPass: false},
		{desc: "segments cannot end with a .", name: "refs/heads./master", shouldPass: false},
		{desc: "segments cannot end with .lock", name: "refs/heads.lock/master", shouldPass: false},
		{desc: "HEAD should be a valid reference", name: "HEAD", shouldPass: true},
		{desc: "ORIG_HEAD should be a valid reference", name: "ORIG_HEAD", shouldPass: true},
		{desc: "one level lowercase names should fail", name: "master", shouldPass: false},
	}
	for i, tc := range testCases {
		tc := tc
		t.Run(fmt.Sprintf("%d/%s", i, tc.desc), func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.shouldPass, ginternals.IsRefNameValid(tc.name))
		})
	}
}

func refFinder(refs map[string]string) ginternals.RefContent {
	return func(name string) ([]byte, error) {
		data, ok := refs[name]
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, ginternals.ErrRefNotFound)
		}
		return []byte(data), nil
	}
}

func TestResolveReference(t *testing.T) {
	t.Parallel()

	const sha = "0eaf966ff79d8f61958aaefe163620d952606516"
	hash := githash.NewSHA1()

	t.Run("should resolve oid reference", func(t *testing.T) {
		t.Parallel()

		ref, err := ginternals.ResolveReference(hash, "refs/heads/master", refFinder(map[string]string{
			"refs/heads/master": sha + "\n",
		}))
		require.NoError(t, err)
		assert.Equal(t, ginternals.OidReference, ref.Type())
		assert.Empty(t, ref.SymbolicTarget())
		assert.Equal(t, sha, ref.Target().String())
	})

	t.Run("should resolve symbolic reference", func(t *testing.T) {
		t.Parallel()

		ref, err := ginternals.ResolveReference(hash, "HEAD", refFinder(map[string]string{
			"HEAD":              "ref: refs/heads/master\n",
			"refs/heads/master": sha + "\n",
		}))
		require.NoError(t, err)
		assert.Equal(t, ginternals.SymbolicReference, ref.Type())
		assert.Equal(t, "HEAD", ref.Name())
		assert.Equal(t, "refs/heads/master", ref.SymbolicTarget())
		assert.Equal(t, sha, ref.Target().String())
	})

	t.Run("should follow chains up to the max depth", func(t *testing.T) {
		t.Parallel()

		refs := map[string]string{}
		for i := 0; i < ginternals.MaxSymbolicDepth; i++ {
			refs[fmt.Sprintf("refs/heads/%d", i)] = fmt.Sprintf("ref: refs/heads/%d", i+1)
		}
		refs[fmt.Sprintf("refs/heads/%d", ginternals.MaxSymbolicDepth)] = sha

		ref, err := ginternals.ResolveReference(hash, "refs/heads/0", refFinder(refs))
		require.NoError(t, err)
		assert.Equal(t, sha, ref.Target().String())
		assert.Equal(t, "refs/heads/1", ref.SymbolicTarget())

		// one more link is one too many
		refs["refs/heads/extra"] = "ref: refs/heads/0"
		_, err = ginternals.ResolveReference(hash, "refs/heads/extra", refFinder(refs))
		require.ErrorIs(t, err, ginternals.ErrRefChainTooDeep)
		assert.ErrorIs(t, err, ginternals.ErrInvalidTarget)
	})

	t.Run("should fail on loops", func(t *testing.T) {
		t.Parallel()

		ref, err := ginternals.ResolveReference(hash, "HEAD", refFinder(map[string]string{
			"HEAD":              "ref: refs/heads/master\n",
			"refs/heads/master": "ref: HEAD\n",
		}))
		require.ErrorIs(t, err, ginternals.ErrRefChainTooDeep)
		assert.Nil(t, ref)
	})

	t.Run("should fail on invalid name", func(t *testing.T) {
		t.Parallel()

		_, err := ginternals.ResolveReference(hash, "refs/hea ds/master", refFinder(nil))
		require.ErrorIs(t, err, ginternals.ErrRefNameInvalid)
		assert.ErrorIs(t, err, ginternals.ErrInvalidName)
	})

	t.Run("should fail on invalid content", func(t *testing.T) {
		t.Parallel()

		testCases := []struct {
			desc    string
			content string
		}{
			{desc: "random data", content: "not a valid ref\n"},
			{desc: "empty file", content: ""},
			{desc: "invalid symbolic target", content: "ref: refs/hea ds/master\n"},
		}
		for i, tc := range testCases {
			tc := tc
			t.Run(fmt.Sprintf("%d/%s", i, tc.desc), func(t *testing.T) {
				t.Parallel()

				ref, err := ginternals.ResolveReference(hash, "HEAD", refFinder(map[string]string{
					"HEAD": tc.content,
				}))
				require.ErrorIs(t, err, ginternals.ErrRefInvalid)
				assert.ErrorIs(t, err, ginternals.ErrCorruptObject)
				assert.Nil(t, ref)
			})
		}
	})

	t.Run("should pass error down from the finder", func(t *testing.T) {
		t.Parallel()

		expectedErr := errors.New("expected error")
		finder := func(name string) ([]byte, error) {
			return nil, expectedErr
		}
		ref, err := ginternals.ResolveReference(hash, "HEAD", finder)
		require.ErrorIs(t, err, expectedErr)
		assert.Nil(t, ref)
	})

	t.Run("dangling symbolic reference should be not found", func(t *testing.T) {
		t.Parallel()

		_, err := ginternals.ResolveReference(hash, "HEAD", refFinder(map[string]string{
			"HEAD": "ref: refs/heads/unborn\n",
		}))
		require.ErrorIs(t, err, ginternals.ErrRefNotFound)
		assert.ErrorIs(t, err, ginternals.ErrNotFound)
	})
}

func TestReferenceContent(t *testing.T) {
	t.Parallel()

	hash := githash.NewSHA1()
	oid, err := hash.ConvertFromString("0eaf966ff79d8f61958aaefe163620d952606516")
	require.NoError(t, err)

	ref := ginternals.NewReference("refs/heads/master", oid)
	assert.Equal(t, ginternals.OidReference, ref.Type())
	data, err := ref.Content()
	require.NoError(t, err)
	assert.Equal(t, "0eaf966ff79d8f61958aaefe163620d952606516\n", string(data))

	sym := ginternals.NewSymbolicReference("HEAD", "refs/heads/master")
	assert.Equal(t, ginternals.SymbolicReference, sym.Type())
	assert.Nil(t, sym.Target())
	data, err = sym.Content()
	require.NoError(t, err)
	assert.Equal(t, "ref: refs/heads/master\n", string(data))

	parsed, err := ginternals.ParseReference(hash, "HEAD", data)
	require.NoError(t, err)
	assert.Equal(t, sym, parsed)

	renamed := ref.Rename("refs/heads/main")
	assert.Equal(t, "refs/heads/main", renamed.Name())
	assert.Equal(t, "refs/heads/master", ref.Name())
}
