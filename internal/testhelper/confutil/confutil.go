// Package confutil contains helpers and function to generate basic
// configuration
package confutil

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/vcskit/gitcore/env"
	"github.com/vcskit/gitcore/ginternals/config"
	"github.com/vcskit/gitcore/internal/gitpath"
)

// testEnv returns an environment that prevents the config files of the
// machine from leaking into the tests
func testEnv() *env.Env {
	return env.NewFromKVList([]string{"GIT_CONFIG_NOSYSTEM=1"})
}

// NewCommonConfig returns the config of a repository located at
// workingTreePath.
// fs defaults to the OS filesystem
func NewCommonConfig(t *testing.T, fs afero.Fs, workingTreePath string) *config.Config {
	t.Helper()

	cfg, err := config.LoadConfig(testEnv(), config.LoadConfigOptions{
		FS:           fs,
		WorkTreePath: workingTreePath,
		GitDirPath:   filepath.Join(workingTreePath, gitpath.DotGitPath),
	})
	require.NoError(t, err)
	return cfg
}

// NewCommonConfigBare returns the config of a bare repository located
// at gitDirPath.
// fs defaults to the OS filesystem
func NewCommonConfigBare(t *testing.T, fs afero.Fs, gitDirPath string) *config.Config {
	t.Helper()

	cfg, err := config.LoadConfig(testEnv(), config.LoadConfigOptions{
		FS:         fs,
		IsBare:     true,
		GitDirPath: gitDirPath,
	})
	require.NoError(t, err)
	return cfg
}
