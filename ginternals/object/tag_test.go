package object_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
)

func TestNewTag(t *testing.T) {
	t.Parallel()

	hash := githash.NewSHA1()
	treeID := object.New(hash, object.TypeTree, []byte{}).ID()
	commit := object.NewCommit(hash, treeID, fixedSignature(t, "author"), &object.CommitOptions{
		Message: "message",
	})

	t.Run("same data should give the same tag", func(t *testing.T) {
		t.Parallel()

		params := &object.TagParams{
			Target:  commit.ToObject(),
			Name:    "v1.0.0",
			Tagger:  fixedSignature(t, "tagger"),
			Message: "release\n",
		}
		tag := object.NewTag(hash, params)
		tag2 := object.NewTag(hash, params)
		assert.Equal(t, tag.ID(), tag2.ID())

		expected := "object " + commit.ID().String() + "\n" +
			"type commit\n" +
			"tag v1.0.0\n" +
			"tagger tagger <tagger@domain.tld> 1566115917 -0700\n" +
			"\n" +
			"release\n"
		assert.Equal(t, expected, string(tag.ToObject().Bytes()))

		header := fmt.Sprintf("tag %d\x00", len(expected))
		assert.Equal(t, hash.Sum([]byte(header+expected)), tag.ID())
	})

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		tag := object.NewTag(hash, &object.TagParams{
			Target:    commit.ToObject(),
			Message:   "message",
			Name:      "v10.5.0",
			OptGPGSig: "-----BEGIN PGP SIGNATURE-----\n\ndata\n-----END PGP SIGNATURE-----",
			Tagger:    fixedSignature(t, "tagger"),
		})
		assert.Equal(t, commit.ID(), tag.Target())
		assert.Equal(t, object.TypeCommit, tag.Type())

		tag2, err := tag.ToObject().AsTag()
		require.NoError(t, err)
		assert.Equal(t, tag.ID(), tag2.ID())
		assert.Equal(t, tag.Message(), tag2.Message())
		assert.Equal(t, tag.Tagger().Name, tag2.Tagger().Name)
		assert.Equal(t, tag.Name(), tag2.Name())
		assert.Equal(t, tag.GPGSig(), tag2.GPGSig())
		assert.Equal(t, tag.Target(), tag2.Target())
	})
}

func TestNewTagFromObject(t *testing.T) {
	t.Parallel()

	t.Run("should fail if the object is not a tag", func(t *testing.T) {
		t.Parallel()

		o := object.New(githash.NewSHA1(), object.TypeTree, []byte{})
		_, err := object.NewTagFromObject(o)
		require.ErrorIs(t, err, object.ErrObjectInvalid)
		assert.Contains(t, err.Error(), "is not a tag")
	})

	t.Run("parsing failures", func(t *testing.T) {
		t.Parallel()

		testCases := []struct {
			desc               string
			data               string
			expectedErrorMatch string
		}{
			{
				desc:               "should fail if the tag has incomplete content",
				data:               "invalid data\n",
				expectedErrorMatch: "tag has no tagger",
			},
			{
				desc:               "should fail if the object id is invalid",
				data:               "object adad\n",
				expectedErrorMatch: "could not parse target id",
			},
			{
				desc:               "should fail if the type is invalid",
				data:               "type nope\n",
				expectedErrorMatch: "invalid object type",
			},
			{
				desc:               "should fail if the tagger is invalid",
				data:               "tagger nope\n",
				expectedErrorMatch: "could not parse tagger",
			},
		}
		for i, tc := range testCases {
			tc := tc
			t.Run(fmt.Sprintf("%d/%s", i, tc.desc), func(t *testing.T) {
				t.Parallel()

				o := object.New(githash.NewSHA1(), object.TypeTag, []byte(tc.data))
				_, err := object.NewTagFromObject(o)
				require.ErrorIs(t, err, object.ErrTagInvalid)
				assert.Contains(t, err.Error(), tc.expectedErrorMatch)
			})
		}
	})
}
