package backend

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/config"
)

// InitParams contains the data used to initialize a repository
type InitParams struct {
	// InitialBranch is the name of the branch HEAD targets.
	// Defaults to init.defaultBranch, or master
	InitialBranch string
	// IsBare is set if the repository has no working tree
	IsBare bool
}

// Init initializes a repository.
// This method cannot be called concurrently with other methods
func (b *Backend) Init(p InitParams) error {
	branch := p.InitialBranch
	if branch == "" {
		branch = ginternals.Master
		if name, ok := b.config.FromFiles().DefaultBranch(); ok {
			branch = name
		}
	}
	head := ginternals.NewSymbolicReference(ginternals.Head, ginternals.LocalBranchFullName(branch))
	if !ginternals.IsRefNameValid(head.SymbolicTarget()) {
		return fmt.Errorf("invalid branch name %q: %w", branch, ginternals.ErrRefNameInvalid)
	}

	// Create the directories
	dirs := []string{
		b.Path(),
		ginternals.TagsPath(b.config),
		ginternals.LocalBranchesPath(b.config),
		ginternals.ObjectsPath(b.config),
		ginternals.ObjectsInfoPath(b.config),
		ginternals.ObjectsPacksPath(b.config),
		filepath.Dir(ginternals.InfoExcludePath(b.config)),
	}
	for _, d := range dirs {
		if err := b.fs.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("could not create directory %s: %w: %w", d, err, ginternals.ErrStorage)
		}
	}

	// Create the files with the default content
	// (taken from a repo created on github)
	files := []struct {
		path    string
		content []byte
	}{
		{
			path:    ginternals.DescriptionFilePath(b.config),
			content: []byte("Unnamed repository; edit this file 'description' to name the repository.\n"),
		},
		{
			path:    ginternals.InfoExcludePath(b.config),
			content: []byte("# git ls-files --others --exclude-from=.git/info/exclude\n"),
		},
	}
	for _, f := range files {
		if err := afero.WriteFile(b.fs, f.path, f.content, 0o644); err != nil {
			return fmt.Errorf("could not create file %s: %w: %w", f.path, err, ginternals.ErrStorage)
		}
	}

	if err := b.setDefaultCfg(p.IsBare); err != nil {
		return fmt.Errorf("could not set the default config: %w", err)
	}

	if err := b.UpdateReference(RefUpdate{Ref: head}); err != nil {
		return fmt.Errorf("could not write HEAD: %w", err)
	}
	b.logger.WithField("branch", branch).Debug("repository initialized")
	return nil
}

// setDefaultCfg set and persists the default git configuration for
// the repository
func (b *Backend) setDefaultCfg(isBare bool) error {
	cfg, err := config.NewLocalConfig(config.LocalConfigParams{
		IsBare:       isBare,
		ObjectFormat: b.hash.Name(),
	})
	if err != nil {
		return err
	}
	if err := config.WriteFile(b.fs, b.config.LocalConfig, cfg); err != nil {
		return fmt.Errorf("%w: %w", err, ginternals.ErrStorage)
	}
	return b.config.Reload()
}
