package git

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/index"
	"github.com/vcskit/gitcore/ginternals/object"
	"github.com/vcskit/gitcore/internal/errutil"
	"github.com/vcskit/gitcore/internal/gitpath"
	"github.com/vcskit/gitcore/internal/ignore"
	"github.com/vcskit/gitcore/internal/lockfile"
)

// List of errors returned by the Index
var (
	ErrEntryNotFound  = fmt.Errorf("index entry %w", ginternals.ErrNotFound)
	ErrIndexConflicts = errors.New("the index contains conflicts")
)

// Index represents the staging area of a repository.
// The data are kept in memory until Write() is called.
// This struct is safe for concurrent use
type Index struct {
	repo *Repository

	mu  sync.Mutex
	idx *index.Index
	// fingerprint identifies the version of the file idx was
	// loaded from
	fingerprint indexFingerprint
}

type indexFingerprint struct {
	exists   bool
	size     int64
	mtime    time.Time
	checksum githash.Oid
}

// Index returns the index of the repository, loading it from the
// disk on the first call
func (r *Repository) Index() (*Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.idx != nil {
		return r.idx, nil
	}
	idx := &Index{
		repo: r,
		idx:  index.New(r.dotGit.Hash()),
	}
	if err := idx.Read(true); err != nil {
		return nil, err
	}
	r.idx = idx
	return idx, nil
}

func (idx *Index) path() string {
	return ginternals.IndexPath(idx.repo.cfg)
}

func (idx *Index) fs() afero.Fs {
	return idx.repo.cfg.FS
}

// Read loads the index from the disk. Unless force is set, the file
// is only parsed if it changed since the last time it was read or
// written.
// A missing file is the same as an empty index
func (idx *Index) Read(force bool) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.readUnsafe(force)
}

func (idx *Index) readUnsafe(force bool) (err error) {
	hash := idx.repo.dotGit.Hash()
	info, err := idx.fs().Stat(idx.path())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("could not stat the index: %w: %w", err, ginternals.ErrStorage)
		}
		if force || idx.fingerprint.exists {
			idx.idx = index.New(hash)
			idx.fingerprint = indexFingerprint{}
		}
		return nil
	}

	if !force && idx.fingerprint.exists &&
		info.Size() == idx.fingerprint.size &&
		info.ModTime().Equal(idx.fingerprint.mtime) {
		sum, err := idx.readChecksum(info.Size())
		if err == nil && sum == idx.fingerprint.checksum {
			return nil
		}
	}

	f, err := idx.fs().Open(idx.path())
	if err != nil {
		return fmt.Errorf("could not open the index: %w: %w", err, ginternals.ErrStorage)
	}
	defer errutil.CloseWithLogger(f, &err, idx.repo.logger)

	parsed, err := index.Decode(hash, f)
	if err != nil {
		return fmt.Errorf("could not parse the index: %w", err)
	}
	idx.idx = parsed
	idx.fingerprint = indexFingerprint{
		exists:   true,
		size:     info.Size(),
		mtime:    info.ModTime(),
		checksum: parsed.Checksum(),
	}
	return nil
}

// readChecksum returns the checksum stored at the end of the index
// file
func (idx *Index) readChecksum(size int64) (sum githash.Oid, err error) {
	hash := idx.repo.dotGit.Hash()
	f, err := idx.fs().Open(idx.path())
	if err != nil {
		return nil, err //nolint:wrapcheck // only used to compare
	}
	defer errutil.Close(f, &err)

	buf := make([]byte, hash.OidSize())
	if _, err = f.ReadAt(buf, size-int64(len(buf))); err != nil && !errors.Is(err, io.EOF) {
		return nil, err //nolint:wrapcheck // only used to compare
	}
	return hash.ConvertFromBytes(buf)
}

// Write persists the index on disk.
// The file is replaced atomically
func (idx *Index) Write() (err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	lock, err := lockfile.New(idx.fs(), idx.path())
	if err != nil {
		return fmt.Errorf("could not lock the index: %w: %w", err, ginternals.ErrStorage)
	}
	defer lock.Rollback() //nolint:errcheck // no-op once committed

	buf := new(bytes.Buffer)
	if err = idx.idx.Encode(buf); err != nil {
		return err
	}
	if _, err = lock.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("could not write the index: %w: %w", err, ginternals.ErrStorage)
	}
	if err = lock.Commit(); err != nil {
		return fmt.Errorf("could not persist the index: %w: %w", err, ginternals.ErrStorage)
	}

	idx.fingerprint = indexFingerprint{
		exists:   true,
		size:     int64(buf.Len()),
		checksum: idx.idx.Checksum(),
	}
	if info, err := idx.fs().Stat(idx.path()); err == nil {
		idx.fingerprint.size = info.Size()
		idx.fingerprint.mtime = info.ModTime()
	}

	idx.repo.logger.WithField("path", idx.path()).WithField("entries", idx.idx.Count()).Debug("index written")
	return nil
}

// Add adds or replaces an entry
func (idx *Index) Add(e index.Entry) error {
	if e.ID == nil || e.ID.IsZero() {
		return fmt.Errorf("no object id for %s: %w", e.Path, ginternals.ErrInvalidTarget)
	}
	if !e.Mode.IsValid() || e.Mode == object.ModeDirectory {
		return fmt.Errorf("invalid mode %s for %s: %w", e.Mode, e.Path, ginternals.ErrInvalidTarget)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.idx.Add(e)
}

// AddByPath adds the file of the working tree located at the given
// path (relative to the root of the working tree) to the index, and
// stores its content in the odb.
// Adding a file resolves its conflicts
func (idx *Index) AddByPath(p string) error {
	if idx.repo.IsBare() {
		return ginternals.ErrBareRepository
	}
	p = filepath.ToSlash(filepath.Clean(p))
	if err := index.ValidatePath(p); err != nil {
		return err
	}

	e, err := idx.entryFromWorkTree(p)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.idx.RemoveAll(p)
	return idx.idx.Add(e)
}

// entryFromWorkTree stats and stores a file of the working tree
func (idx *Index) entryFromWorkTree(p string) (index.Entry, error) {
	wt := idx.fs()
	full := filepath.Join(idx.repo.WorkTreePath(), filepath.FromSlash(p))

	var info fs.FileInfo
	var err error
	if lstater, ok := wt.(afero.Lstater); ok {
		info, _, err = lstater.LstatIfPossible(full)
	} else {
		info, err = wt.Stat(full)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return index.Entry{}, fmt.Errorf("%s: %w", p, ErrEntryNotFound)
		}
		return index.Entry{}, fmt.Errorf("could not stat %s: %w: %w", p, err, ginternals.ErrStorage)
	}
	if info.IsDir() {
		return index.Entry{}, fmt.Errorf("%s is a directory: %w", p, index.ErrInvalidPath)
	}

	mode := object.ModeFromFileInfo(info)
	var data []byte
	if mode == object.ModeSymLink {
		reader, ok := wt.(afero.LinkReader)
		if !ok {
			return index.Entry{}, fmt.Errorf("cannot read symlink %s: %w", p, ginternals.ErrStorage)
		}
		target, err := reader.ReadlinkIfPossible(full)
		if err != nil {
			return index.Entry{}, fmt.Errorf("could not read symlink %s: %w: %w", p, err, ginternals.ErrStorage)
		}
		data = []byte(filepath.ToSlash(target))
	} else {
		data, err = afero.ReadFile(wt, full)
		if err != nil {
			return index.Entry{}, fmt.Errorf("could not read %s: %w: %w", p, err, ginternals.ErrStorage)
		}
	}

	blob, err := idx.repo.NewBlob(data)
	if err != nil {
		return index.Entry{}, err
	}
	return index.Entry{
		Path:  p,
		Stage: index.StageMerged,
		ID:    blob.ID(),
		Mode:  mode,
		Size:  uint32(info.Size()),
		CTime: info.ModTime(),
		MTime: info.ModTime(),
	}, nil
}

// pathMatcher matches the paths of the working tree against a list
// of patterns
type pathMatcher struct {
	patterns []string
	globs    []glob.Glob
}

func newPathMatcher(patterns []string) (*pathMatcher, error) {
	m := &pathMatcher{
		patterns: make([]string, 0, len(patterns)),
		globs:    make([]glob.Glob, 0, len(patterns)),
	}
	for _, p := range patterns {
		p = strings.Trim(strings.TrimPrefix(filepath.ToSlash(p), "./"), "/")
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %s: %w", p, err.Error(), ginternals.ErrInvalidName)
		}
		m.patterns = append(m.patterns, p)
		m.globs = append(m.globs, g)
	}
	return m, nil
}

// match returns the index of the first pattern matching the path,
// or -1
func (m *pathMatcher) match(p string) int {
	for i, pattern := range m.patterns {
		switch {
		case pattern == "" || pattern == ".":
			return i
		case p == pattern || strings.HasPrefix(p, pattern+"/"):
			return i
		case m.globs[i].Match(p):
			return i
		}
	}
	return -1
}

// AddAll adds all the files of the working tree matching at least one
// of the patterns. Ignored files are skipped unless they are already
// tracked, and tracked files that don't exist anymore are removed.
// A pattern matching nothing is not an error. Files that cannot be
// added are reported together once all the others are added
func (idx *Index) AddAll(patterns []string) error {
	if idx.repo.IsBare() {
		return ginternals.ErrBareRepository
	}
	matcher, err := newPathMatcher(patterns)
	if err != nil {
		return err
	}
	ignored, err := idx.repo.ignoreMatcher()
	if err != nil {
		return err
	}

	idx.mu.Lock()
	tracked := map[string]struct{}{}
	for _, e := range idx.idx.Entries() {
		tracked[e.Path] = struct{}{}
	}
	idx.mu.Unlock()

	root := idx.repo.WorkTreePath()
	found := map[string]struct{}{}
	var result *multierror.Error
	err = afero.Walk(idx.fs(), root, func(full string, info fs.FileInfo, err error) error {
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("could not walk %s: %w", full, err))
			return nil
		}
		if info.IsDir() {
			if info.Name() == gitpath.DotGitPath {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, full)
		if err != nil {
			return err //nolint:wrapcheck // the error is already descriptive
		}
		rel = filepath.ToSlash(rel)
		if matcher.match(rel) < 0 {
			return nil
		}
		if _, isTracked := tracked[rel]; !isTracked && ignored.Match(rel, false) {
			return nil
		}
		found[rel] = struct{}{}
		if err := idx.AddByPath(rel); err != nil {
			result = multierror.Append(result, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("could not walk the working tree: %w: %w", err, ginternals.ErrStorage)
	}

	idx.mu.Lock()
	for p := range tracked {
		if _, ok := found[p]; !ok && matcher.match(p) >= 0 {
			idx.idx.RemoveAll(p)
		}
	}
	idx.mu.Unlock()
	return result.ErrorOrNil()
}

// Remove removes the entry of the given path at the given stage.
// ErrEntryNotFound is returned if there are no such entry
func (idx *Index) Remove(p string, stage index.Stage) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !idx.idx.Remove(p, stage) {
		return fmt.Errorf("%s (stage %d): %w", p, stage, ErrEntryNotFound)
	}
	return nil
}

// RemoveAll removes all the entries of the given paths, at any stage.
// Paths that are not in the index are ignored
func (idx *Index) RemoveAll(paths []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, p := range paths {
		idx.idx.RemoveAll(p)
	}
}

// RemoveDirectory removes all the entries located in the given
// directory, and returns how many were removed
func (idx *Index) RemoveDirectory(dir string, stage index.Stage) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.idx.RemoveDirectory(dir, stage)
}

// Contains returns whether the path is in the index, at any stage
func (idx *Index) Contains(p string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.idx.Contains(p)
}

// EntryAt returns the entry at the given position
func (idx *Index) EntryAt(i int) (index.Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.idx.EntryAt(i)
}

// EntryByPath returns the entry of the given path, at the given stage.
// ErrEntryNotFound is returned if there are no such entry
func (idx *Index) EntryByPath(p string, stage index.Stage) (index.Entry, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.idx.Entry(p, stage)
	if !ok {
		return index.Entry{}, fmt.Errorf("%s (stage %d): %w", p, stage, ErrEntryNotFound)
	}
	return e, nil
}

// Count returns the number of entries
func (idx *Index) Count() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.idx.Count()
}

// Entries returns a copy of the entries, ordered by path and stage
func (idx *Index) Entries() []index.Entry {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.idx.Entries()
}

// HasConflicts returns whether at least one path is in conflict
func (idx *Index) HasConflicts() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.idx.HasConflicts()
}

// Clear removes all the entries. Nothing is persisted until Write()
// is called
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.idx.Clear()
}

// snapshot returns a copy of the in-memory index
func (idx *Index) snapshot() (*index.Index, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cpy := index.New(idx.idx.Hash())
	if err := cpy.Replace(idx.idx.Entries()); err != nil {
		return nil, fmt.Errorf("could not copy the index: %w", err)
	}
	cpy.SetModTime(idx.fingerprint.mtime)
	return cpy, nil
}

// WriteTree stores the content of the index as tree objects and
// returns the root tree.
// ErrIndexConflicts is returned if some paths are in conflict
func (idx *Index) WriteTree() (*object.Tree, error) {
	idx.mu.Lock()
	entries := idx.idx.Entries()
	hasConflicts := idx.idx.HasConflicts()
	idx.mu.Unlock()

	if hasConflicts {
		return nil, ErrIndexConflicts
	}
	staged := entries[:0]
	for _, e := range entries {
		// intent-to-add entries don't have content yet
		if !e.IntentToAdd {
			staged = append(staged, e)
		}
	}
	return idx.writeTree("", staged)
}

// writeTree writes the tree of the directory prefix. entries must
// contain all the entries under prefix, and nothing else
func (idx *Index) writeTree(prefix string, entries []index.Entry) (*object.Tree, error) {
	treeEntries := []object.TreeEntry{}
	names := map[string]struct{}{}
	addName := func(name string) error {
		if _, ok := names[name]; ok {
			return fmt.Errorf("%s is both a file and a directory: %w", prefix+name, index.ErrCorruptIndex)
		}
		names[name] = struct{}{}
		return nil
	}
	for i := 0; i < len(entries); {
		rel := entries[i].Path[len(prefix):]
		slash := strings.IndexByte(rel, '/')
		if slash < 0 {
			if err := addName(rel); err != nil {
				return nil, err
			}
			treeEntries = append(treeEntries, object.TreeEntry{
				Path: rel,
				Mode: entries[i].Mode,
				ID:   entries[i].ID,
			})
			i++
			continue
		}

		dir := rel[:slash]
		if err := addName(dir); err != nil {
			return nil, err
		}
		dirPrefix := prefix + dir + "/"
		end := i
		for end < len(entries) && strings.HasPrefix(entries[end].Path, dirPrefix) {
			end++
		}
		sub, err := idx.writeTree(dirPrefix, entries[i:end])
		if err != nil {
			return nil, err
		}
		treeEntries = append(treeEntries, object.TreeEntry{
			Path: dir,
			Mode: object.ModeDirectory,
			ID:   sub.ID(),
		})
		i = end
	}

	t := object.NewTree(idx.repo.dotGit.Hash(), treeEntries)
	if _, err := idx.repo.dotGit.WriteObject(t.ToObject()); err != nil {
		return nil, fmt.Errorf("could not write tree %q: %w", prefix, err)
	}
	return t, nil
}

// ReadTree replaces the content of the index by the content of the
// tree. Nothing is persisted until Write() is called
func (idx *Index) ReadTree(t *object.Tree) error {
	entries := []index.Entry{}
	if err := idx.flattenTree("", t, &entries); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.idx.Replace(entries)
}

func (idx *Index) flattenTree(prefix string, t *object.Tree, out *[]index.Entry) error {
	for _, e := range t.Entries() {
		p := path.Join(prefix, e.Path)
		if e.Mode == object.ModeDirectory {
			sub, err := idx.repo.Tree(e.ID)
			if err != nil {
				return fmt.Errorf("could not read tree %s: %w", p, err)
			}
			if err := idx.flattenTree(p, sub, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, index.Entry{
			Path: p,
			ID:   e.ID,
			Mode: e.Mode,
		})
	}
	return nil
}

// ignoreMatcher returns the ignore rules of the working tree
func (r *Repository) ignoreMatcher() (*ignore.Matcher, error) {
	opts := ignore.LoadOptions{
		InfoExclude: ginternals.InfoExcludePath(r.cfg),
	}
	if p, ok := r.cfg.FromFiles().ExcludesFile(); ok {
		opts.ExcludesFile = p
	}
	m, err := ignore.Load(r.cfg.FS, r.WorkTreePath(), opts)
	if err != nil {
		return nil, fmt.Errorf("could not load the ignore rules: %w", err)
	}
	return m, nil
}
