// Package pathutil contains methods to find repositories on the
// filesystem
package pathutil

import (
	"errors"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/vcskit/gitcore/internal/gitpath"
)

// ErrNoRepo is an error returned when no repo are found
var ErrNoRepo = errors.New("not a git repository (or any of the parent directories)")

// WorkingTreeFromPath returns the absolute path to the root of the
// working tree containing the provided directory, by walking up the
// tree until a .git directory is found
func WorkingTreeFromPath(fs afero.Fs, p string) (string, error) {
	p, err := filepath.Abs(p)
	if err != nil {
		return "", err //nolint:wrapcheck // the error is already descriptive
	}
	prev := ""
	for p != prev {
		info, err := fs.Stat(filepath.Join(p, gitpath.DotGitPath))
		if err == nil && info.IsDir() {
			return p, nil
		}
		prev = p
		p = filepath.Dir(p)
	}
	return "", ErrNoRepo
}
