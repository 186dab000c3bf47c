// Package backend contains the filesystem implementation of the object
// database and of the reference database of a repository
package backend

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/config"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/packfile"
	"github.com/vcskit/gitcore/internal/cache"
	"github.com/vcskit/gitcore/internal/syncutil"
)

// objectMutexes is the number of mutexes shared by all the objects.
// Using a prime number reduces collisions
const objectMutexes = 101

// defaultCacheSize is the number of objects kept in memory when no
// cache is provided
const defaultCacheSize = 1000

// RefWalkFunc represents a function that will be applied on all references
// found by WalkReferences()
type RefWalkFunc = func(ref *ginternals.Reference) error

// OidWalkFunc represents a function that will be applied on all the
// object ids found by WalkLooseObjectIDs()
type OidWalkFunc = func(oid githash.Oid) error

// WalkStop is a fake error used to tell Walk() to stop
var WalkStop = errors.New("stop walking") //nolint // the linter expects all errors to start with Err, but since here we're faking an error we don't want that

// Options contains the options used to create a Backend
type Options struct {
	// Hash is the hash algorithm used by the repository.
	// Defaults to the value of extensions.objectformat, or SHA-1
	Hash githash.Hash
	// Cache is the LRU cache used to store the objects. The cache may be
	// shared by multiple backends.
	// Defaults to a private cache
	Cache *cache.LRU
	// Logger is the logger used to report the changes made to the
	// repository
	// Defaults to the standard logger of logrus
	Logger logrus.FieldLogger
}

// Backend stores and retrieves data from a .git directory
type Backend struct {
	fs     afero.Fs
	config *config.Config
	hash   githash.Hash
	logger logrus.FieldLogger

	objectMu *syncutil.NamedMutex
	cache    *cache.LRU

	packMu      sync.Mutex
	packsLoaded bool
	packList    []*packfile.Pack
	packByPath  map[string]*packfile.Pack

	// refMu protects loose and packed, and serializes the updates
	// made by this process
	refMu  sync.RWMutex
	loose  map[string][]byte
	packed map[string]packedRef

	closeOnce sync.Once
}

// cacheKey is the key used to store an object in the cache.
// The key contains the backend that loaded the object so a shared
// cache never returns objects of another repository, even when two
// repositories live at the same path on different filesystems
type cacheKey struct {
	owner *Backend
	oid   githash.Oid
}

// NewFS returns a new Backend using the FS and the paths of the config
func NewFS(cfg *config.Config) (*Backend, error) {
	return New(cfg, Options{})
}

// New returns a new Backend
func New(cfg *config.Config, opts Options) (*Backend, error) {
	if opts.Hash == nil {
		name, _ := cfg.FromFiles().ObjectFormat()
		h, err := githash.New(name)
		if err != nil {
			return nil, fmt.Errorf("invalid object format: %w", err)
		}
		opts.Hash = h
	}
	if opts.Cache == nil {
		c, err := cache.NewLRU(defaultCacheSize)
		if err != nil {
			return nil, fmt.Errorf("could not create the object cache: %w", err)
		}
		opts.Cache = c
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	b := &Backend{
		fs:       cfg.FS,
		config:   cfg,
		hash:     opts.Hash,
		cache:    opts.Cache,
		logger:   opts.Logger.WithField("repo", cfg.GitDirPath),
		objectMu: syncutil.NewNamedMutex(objectMutexes),
	}
	if err := b.loadRefs(); err != nil {
		return nil, fmt.Errorf("could not load the references: %w", err)
	}
	return b, nil
}

// Path returns the path to the .git directory
func (b *Backend) Path() string {
	return ginternals.DotGitPath(b.config)
}

// Hash returns the hash algorithm used by the repository
func (b *Backend) Hash() githash.Hash {
	return b.hash
}

// Config returns the config of the repository
func (b *Backend) Config() *config.Config {
	return b.config
}

// Close frees the resources used by the Backend.
// The packfiles are closed and the objects of the repository are
// evicted from the cache.
// This method cannot be called concurrently with other methods
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.cache.RemoveFunc(func(k interface{}) bool {
			key, ok := k.(cacheKey)
			return ok && key.owner == b
		})
		if err = b.closePacks(); err != nil {
			err = fmt.Errorf("could not close the packfiles: %w", err)
		}
	})
	return err
}
