package git_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	git "github.com/vcskit/gitcore"
	"github.com/vcskit/gitcore/env"
	"github.com/vcskit/gitcore/ginternals/object"
)

const repoPath = "/repo"

// testEnv returns an environment that prevents the config of the
// machine from leaking into the tests, and that has an identity
func testEnv() *env.Env {
	return env.NewFromKVList([]string{
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_COMMITTER_NAME=John Doe",
		"GIT_COMMITTER_EMAIL=john@domain.tld",
	})
}

// fixedSignature returns a signature that never changes
func fixedSignature() object.Signature {
	return object.Signature{
		Name:  "John Doe",
		Email: "john@domain.tld",
		Time:  time.Unix(1566115917, 0).In(time.FixedZone("", -7*3600)),
	}
}

// newRepo creates an empty repository at /repo, in memory
func newRepo(t *testing.T) (*git.Repository, afero.Fs) {
	t.Helper()
	return newRepoWithOptions(t, git.InitOptions{})
}

func newRepoWithOptions(t *testing.T, opts git.InitOptions) (*git.Repository, afero.Fs) {
	t.Helper()

	if opts.FS == nil {
		opts.FS = afero.NewMemMapFs()
	}
	if opts.Env == nil {
		opts.Env = testEnv()
	}
	r, err := git.InitRepositoryWithOptions(repoPath, opts)
	require.NoError(t, err, "failed creating the repository")
	t.Cleanup(func() {
		require.NoError(t, r.Close(), "failed closing the repository")
	})
	return r, opts.FS
}

// writeFile writes a file in the working tree of /repo
func writeFile(t *testing.T, fs afero.Fs, p, content string) {
	t.Helper()

	full := filepath.Join(repoPath, filepath.FromSlash(p))
	require.NoError(t, fs.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, afero.WriteFile(fs, full, []byte(content), 0o644))
}

// commitWorkTree adds all the files of the working tree to the index,
// and commits the result on the branch targeted by HEAD
func commitWorkTree(t *testing.T, r *git.Repository, msg string) *object.Commit {
	t.Helper()

	idx, err := r.Index()
	require.NoError(t, err)
	require.NoError(t, idx.AddAll([]string{"."}))
	require.NoError(t, idx.Write())

	tree, err := idx.WriteTree()
	require.NoError(t, err)

	opts := &object.CommitOptions{Message: msg}
	if head, err := r.Head(); err == nil {
		opts.ParentsID = append(opts.ParentsID, head.Target())
	}
	c, err := r.NewCommit("HEAD", tree, fixedSignature(), opts)
	require.NoError(t, err)
	return c
}
