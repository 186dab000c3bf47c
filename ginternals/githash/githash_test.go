package githash_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcskit/gitcore/ginternals/githash"
)

func TestConvertFromString(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		desc          string
		hash          githash.Hash
		id            string
		expectError   bool
		expectedError error
	}{
		{
			desc: "valid sha1 oid should work",
			hash: githash.NewSHA1(),
			id:   "0eaf966ff79d8f61958aaefe163620d952606516",
		},
		{
			desc:        "invalid sha1 char should fail",
			hash:        githash.NewSHA1(),
			id:          "0eaf96 ff79d8f61958aaefe163620d952606516",
			expectError: true,
		},
		{
			desc:          "invalid sha1 size should fail",
			hash:          githash.NewSHA1(),
			id:            "0eaf96ff79d8f61958aaefe163620d952606",
			expectError:   true,
			expectedError: githash.ErrInvalidOid,
		},
		{
			desc: "valid sha256 oid should work",
			hash: githash.NewSHA256(),
			id:   "ed7002b439e9ac845f22357d822bac1444730fbdb6016d3ec9432297b9ec9f73",
		},
		{
			desc:          "sha1 oid should not be a valid sha256",
			hash:          githash.NewSHA256(),
			id:            "0eaf966ff79d8f61958aaefe163620d952606516",
			expectError:   true,
			expectedError: githash.ErrInvalidOid,
		},
	}
	for i, tc := range testCases {
		tc := tc
		t.Run(fmt.Sprintf("%d/%s", i, tc.desc), func(t *testing.T) {
			t.Parallel()

			oid, err := tc.hash.ConvertFromString(tc.id)
			if tc.expectError {
				require.Error(t, err)
				assert.True(t, oid.IsZero(), "oid should be Zero")
				if tc.expectedError != nil {
					assert.True(t, errors.Is(err, tc.expectedError), "invalid error returned: %s", err.Error())
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.id, oid.String())
			assert.Len(t, oid.Bytes(), tc.hash.OidSize())

			fromChars, err := tc.hash.ConvertFromChars([]byte(tc.id))
			require.NoError(t, err)
			assert.Equal(t, oid, fromChars)

			fromBytes, err := tc.hash.ConvertFromBytes(oid.Bytes())
			require.NoError(t, err)
			assert.Equal(t, oid, fromBytes)
		})
	}
}

func TestSum(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		desc       string
		hash       githash.Hash
		content    []byte
		expectedID string
	}{
		{
			desc:       "sha1",
			hash:       githash.NewSHA1(),
			content:    []byte("123456789"),
			expectedID: "f7c3bc1d808e04732adf679965ccc34ca7ae3441",
		},
		{
			desc:       "sha256",
			hash:       githash.NewSHA256(),
			content:    []byte("123456789"),
			expectedID: "15e2b0d3c33891ebb0f1ef609ec419420c20e320ce94c65fbc8c3312448eb225",
		},
	}
	for i, tc := range testCases {
		tc := tc
		t.Run(fmt.Sprintf("%d/%s", i, tc.desc), func(t *testing.T) {
			t.Parallel()

			oid := tc.hash.Sum(tc.content)
			assert.Equal(t, tc.expectedID, oid.String())
			assert.False(t, oid.IsZero())
			assert.True(t, tc.hash.NullOid().IsZero())
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	h, err := githash.New("")
	require.NoError(t, err)
	assert.Equal(t, "sha1", h.Name())

	h, err = githash.New("SHA256")
	require.NoError(t, err)
	assert.Equal(t, "sha256", h.Name())

	_, err = githash.New("md5")
	require.ErrorIs(t, err, githash.ErrUnknownHash)
}

func TestPrefix(t *testing.T) {
	t.Parallel()

	oid, err := githash.NewSHA1().ConvertFromString("f7c3bc1d808e04732adf679965ccc34ca7ae3441")
	require.NoError(t, err)

	testCases := []struct {
		desc        string
		prefix      string
		expectError bool
		matches     bool
	}{
		{desc: "even prefix should match", prefix: "f7c3bc", matches: true},
		{desc: "odd prefix should match", prefix: "f7c3b", matches: true},
		{desc: "upper case should be accepted", prefix: "F7C3B", matches: true},
		{desc: "full id should match", prefix: "f7c3bc1d808e04732adf679965ccc34ca7ae3441", matches: true},
		{desc: "different prefix should not match", prefix: "f7c4", matches: false},
		{desc: "different last nibble should not match", prefix: "f7c3c", matches: false},
		{desc: "short prefix should fail", prefix: "f7c", expectError: true},
		{desc: "non hex prefix should fail", prefix: "f7cz", expectError: true},
		{desc: "too long prefix should fail", prefix: "f7c3bc1d808e04732adf679965ccc34ca7ae34410", expectError: true},
	}
	for i, tc := range testCases {
		tc := tc
		t.Run(fmt.Sprintf("%d/%s", i, tc.desc), func(t *testing.T) {
			t.Parallel()

			prefix, err := githash.ValidatePrefix(githash.NewSHA1(), tc.prefix)
			if tc.expectError {
				require.ErrorIs(t, err, githash.ErrInvalidPrefix)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.matches, githash.HasHexPrefix(oid, prefix))
		})
	}
}
