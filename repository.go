// Package git contains the high level API to interact with a
// repository: objects, references, index, diffs, and status
package git

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/vcskit/gitcore/backend"
	"github.com/vcskit/gitcore/env"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/config"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
	"github.com/vcskit/gitcore/internal/gitpath"
	"github.com/vcskit/gitcore/internal/pathutil"
)

// List of errors returned by the Repository struct
var (
	ErrRepositoryNotExist           = fmt.Errorf("repository %w", ginternals.ErrNotFound)
	ErrRepositoryUnsupportedVersion = errors.New("repository format version not supported")
	ErrRepositoryExists             = fmt.Errorf("repository %w", ginternals.ErrAlreadyExists)
	ErrNoIdentity                   = fmt.Errorf("no identity configured (user.name and user.email): %w", ginternals.ErrNotFound)
)

// maxRepoFormatVersion is the highest repositoryformatversion we
// support. Version 1 is needed for sha256 repositories
const maxRepoFormatVersion = 1

// Repository represent a git repository
// A Git repository is the .git/ folder inside a project.
// This repository tracks all changes made to files in your project,
// building a history over time.
// https://blog.axosoft.com/learning-git-repository/
type Repository struct {
	cfg     *config.Config
	dotGit  *backend.Backend
	runtime *Runtime
	logger  logrus.FieldLogger

	mu        sync.Mutex
	namespace string
	idx       *Index

	closeOnce sync.Once
	closeErr  error
}

// InitOptions contains all the optional data used to initialized a
// repository
type InitOptions struct {
	// IsBare represents whether a bare repository will be created or not
	IsBare bool
	// InitialBranch is the name of the branch HEAD will point to.
	// Defaults to init.defaultBranch, or master
	InitialBranch string
	// ObjectFormat is the hash algorithm of the repository: "sha1" or
	// "sha256".
	// Defaults to sha1
	ObjectFormat string
	// FS is the filesystem containing the repository and its working
	// tree.
	// Defaults to the regular filesystem
	FS afero.Fs
	// Env contains the environment variables used to configure the
	// repository ($GIT_DIR, $GIT_NAMESPACE, etc.)
	// Defaults to the environment of the process
	Env *env.Env
	// Logger is used to report the changes made to the repository.
	// Defaults to the logger of the runtime
	Logger logrus.FieldLogger
}

// InitRepository initialize a new git repository by creating the .git
// directory in the given path, which is where almost everything that
// Git stores and manipulates is located.
// https://git-scm.com/book/en/v2/Git-Internals-Plumbing-and-Porcelain#ch10-git-internals
func InitRepository(repoPath string) (*Repository, error) {
	return InitRepositoryWithOptions(repoPath, InitOptions{})
}

// InitRepositoryWithOptions initialize a new git repository by creating
// the .git directory in the given path, which is where almost everything
// that Git stores and manipulates is located.
// https://git-scm.com/book/en/v2/Git-Internals-Plumbing-and-Porcelain#ch10-git-internals
func InitRepositoryWithOptions(repoPath string, opts InitOptions) (r *Repository, err error) {
	if opts.Env == nil {
		opts.Env = env.NewFromOs()
	}
	hash, err := githash.New(opts.ObjectFormat)
	if err != nil {
		return nil, fmt.Errorf("invalid object format %q: %w", opts.ObjectFormat, err)
	}

	loadOpts := config.LoadConfigOptions{
		FS:               opts.FS,
		WorkingDirectory: repoPath,
		IsBare:           opts.IsBare,
		SkipGitDirLookUp: true,
	}
	if opts.IsBare {
		loadOpts.GitDirPath = repoPath
	}
	cfg, err := config.LoadConfig(opts.Env, loadOpts)
	if err != nil {
		return nil, fmt.Errorf("could not load the config: %w", err)
	}

	exists, err := afero.Exists(cfg.FS, filepath.Join(cfg.GitDirPath, gitpath.HEADPath))
	if err != nil {
		return nil, fmt.Errorf("could not check if the repository exists: %w: %w", err, ginternals.ErrStorage)
	}
	if exists {
		return nil, fmt.Errorf("%s: %w", cfg.GitDirPath, ErrRepositoryExists)
	}

	r, err = newRepository(cfg, hash, opts.Logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			r.Close() //nolint:errcheck // it failed anyway
		}
	}()

	err = r.dotGit.Init(backend.InitParams{
		InitialBranch: opts.InitialBranch,
		IsBare:        opts.IsBare,
	})
	if err != nil {
		return nil, fmt.Errorf("could not initialize the repository: %w", err)
	}
	return r, nil
}

// OpenOptions contains all the optional data used to open a
// repository
type OpenOptions struct {
	// IsBare represents whether the repository is bare. When set, the
	// provided path is the path to the repository itself, and no
	// lookup is done
	IsBare bool
	// FS is the filesystem containing the repository and its working
	// tree.
	// Defaults to the regular filesystem
	FS afero.Fs
	// Env contains the environment variables used to configure the
	// repository ($GIT_DIR, $GIT_NAMESPACE, etc.)
	// Defaults to the environment of the process
	Env *env.Env
	// Logger is used to report the changes made to the repository.
	// Defaults to the logger of the runtime
	Logger logrus.FieldLogger
}

// OpenRepository loads an existing git repository by reading its
// config file, and returns a Repository instance.
// The repository is looked for in the given path and all its parents
func OpenRepository(repoPath string) (*Repository, error) {
	return OpenRepositoryWithOptions(repoPath, OpenOptions{})
}

// OpenRepositoryWithOptions loads an existing git repository by reading
// its config file, and returns a Repository instance
func OpenRepositoryWithOptions(repoPath string, opts OpenOptions) (*Repository, error) {
	if opts.Env == nil {
		opts.Env = env.NewFromOs()
	}
	loadOpts := config.LoadConfigOptions{
		FS:               opts.FS,
		WorkingDirectory: repoPath,
		IsBare:           opts.IsBare,
	}
	if opts.IsBare {
		loadOpts.GitDirPath = repoPath
	}
	cfg, err := config.LoadConfig(opts.Env, loadOpts)
	if err != nil {
		if errors.Is(err, pathutil.ErrNoRepo) {
			return nil, fmt.Errorf("%s: %w", repoPath, ErrRepositoryNotExist)
		}
		return nil, fmt.Errorf("could not load the config: %w", err)
	}

	// HEAD should always be there
	exists, err := afero.Exists(cfg.FS, filepath.Join(cfg.GitDirPath, gitpath.HEADPath))
	if err != nil {
		return nil, fmt.Errorf("could not check if the repository exists: %w: %w", err, ginternals.ErrStorage)
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", cfg.GitDirPath, ErrRepositoryNotExist)
	}

	if version, ok := cfg.FromFiles().RepoFormatVersion(); ok && version > maxRepoFormatVersion {
		return nil, fmt.Errorf("version %d: %w", version, ErrRepositoryUnsupportedVersion)
	}

	// nil lets the backend use the format of the config
	return newRepository(cfg, nil, opts.Logger)
}

func newRepository(cfg *config.Config, hash githash.Hash, logger logrus.FieldLogger) (*Repository, error) {
	rt, err := AcquireRuntime()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = rt.Logger()
	}
	b, err := backend.New(cfg, backend.Options{
		Hash:   hash,
		Cache:  rt.cache(),
		Logger: logger,
	})
	if err != nil {
		rt.Release() //nolint:errcheck // it failed anyway
		return nil, fmt.Errorf("could not load the repository: %w", err)
	}
	return &Repository{
		cfg:       cfg,
		dotGit:    b,
		runtime:   rt,
		logger:    logger,
		namespace: cfg.Namespace,
	}, nil
}

// Close frees the resources used by the repository.
// Calling Close more than once is a no-op
func (r *Repository) Close() error {
	r.closeOnce.Do(func() {
		if err := r.dotGit.Close(); err != nil {
			r.closeErr = fmt.Errorf("could not close the backend: %w", err)
		}
		if err := r.runtime.Release(); err != nil && r.closeErr == nil {
			r.closeErr = err
		}
	})
	return r.closeErr
}

// IsBare returns whether the repo is bare or not.
// A bare repo doesn't have a working tree
func (r *Repository) IsBare() bool {
	return r.cfg.WorkTreePath == ""
}

// Path returns the path to the .git directory
func (r *Repository) Path() string {
	return r.cfg.GitDirPath
}

// WorkTreePath returns the path to the working tree, or an empty
// string for a bare repository
func (r *Repository) WorkTreePath() string {
	return r.cfg.WorkTreePath
}

// Config returns the config of the repository
func (r *Repository) Config() *config.Config {
	return r.cfg
}

// Hash returns the hash algorithm used by the repository
func (r *Repository) Hash() githash.Hash {
	return r.dotGit.Hash()
}

// Namespace returns the namespace the references are read from and
// written to. An empty string means no namespace
func (r *Repository) Namespace() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.namespace
}

// SetNamespace changes the namespace of the repository. Once set, all
// the references under refs/ are read and written from
// refs/namespaces/<namespace>/refs/.
// An empty string removes the namespace
func (r *Repository) SetNamespace(namespace string) error {
	if namespace != "" && !ginternals.IsRefNameValid(ginternals.NamespacePrefix(namespace)+"HEAD") {
		return fmt.Errorf("namespace %q: %w", namespace, ginternals.ErrInvalidName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.namespace = namespace
	return nil
}

// DefaultSignature returns the signature of the current user, at the
// current time. The identity comes from $GIT_COMMITTER_NAME and
// $GIT_COMMITTER_EMAIL, or from user.name and user.email.
// ErrNoIdentity is returned if no identity is configured
func (r *Repository) DefaultSignature() (object.Signature, error) {
	e := r.cfg.Env()
	name := e.Get("GIT_COMMITTER_NAME")
	if name == "" {
		name, _ = r.cfg.FromFiles().UserName()
	}
	email := e.Get("GIT_COMMITTER_EMAIL")
	if email == "" {
		email, _ = r.cfg.FromFiles().UserEmail()
	}
	if name == "" || email == "" {
		return object.Signature{}, ErrNoIdentity
	}
	return object.NewSignature(name, email), nil
}
