package diff

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/index"
	"github.com/vcskit/gitcore/ginternals/object"
	"github.com/vcskit/gitcore/internal/gitpath"
)

// entryKind describes why an entry is part of a snapshot
type entryKind int8

const (
	kindTracked entryKind = iota
	kindUntracked
	kindIgnored
	kindConflicted
)

// snapshotEntry is a file of a flattened snapshot (tree, index, or
// working tree)
type snapshotEntry struct {
	path string
	id   githash.Oid
	mode object.TreeObjectMode
	kind entryKind

	// stat data, only available for the index and the working tree
	hasStat bool
	size    int64
	mtime   time.Time
	// assumeUnchanged is set for index entries that should never be
	// compared with the working tree
	assumeUnchanged bool
}

// differ contains the state shared while building a diff
type differ struct {
	diff     *Diff
	odb      ObjectReader
	pathspec *pathspec

	oldLoader contentLoader
	newLoader contentLoader
}

func newDiffer(odb ObjectReader, opts *Options) (*differ, error) {
	d := newDiff(odb.Hash(), opts)
	ps, err := newPathspec(d.opts.Pathspec, d.opts.has(IgnoreCase))
	if err != nil {
		return nil, err
	}
	loader := &odbLoader{odb: odb}
	return &differ{
		diff:      d,
		odb:       odb,
		pathspec:  ps,
		oldLoader: loader,
		newLoader: loader,
	}, nil
}

// key returns the value used to compare paths
func (d *differ) key(p string) string {
	if d.diff.opts.has(IgnoreCase) {
		return strings.ToLower(p)
	}
	return p
}

// emit adds a delta to the diff, unless it's filtered out
func (d *differ) emit(delta Delta) {
	if delta.Status == StatusUnmodified && !d.diff.opts.has(IncludeUnmodified) {
		return
	}
	if !d.pathspec.match(delta.Path()) {
		return
	}
	d.diff.deltas = append(d.diff.deltas, delta)
}

func (d *differ) missingFile(p string) File {
	return File{
		Path: p,
		ID:   d.odb.Hash().NullOid(),
	}
}

func (d *differ) file(e *snapshotEntry, loader contentLoader) File {
	f := File{
		Path:   e.path,
		ID:     e.id,
		Mode:   e.mode,
		Size:   e.size,
		Flags:  FlagExists,
		loader: loader,
	}
	if f.ID == nil {
		f.ID = d.odb.Hash().NullOid()
	} else if !f.ID.IsZero() {
		f.Flags |= FlagValidID
	}
	return f
}

// modeKind returns the kind of object a mode represents, a change of
// kind being a type change
func modeKind(m object.TreeObjectMode) int {
	switch m {
	case object.ModeSymLink:
		return 1
	case object.ModeGitLink:
		return 2
	case object.ModeDirectory:
		return 3
	default:
		return 0
	}
}

// compare creates the delta between 2 versions of the same file
func (d *differ) compare(oldFile, newFile File) Delta {
	delta := Delta{
		OldFile: oldFile,
		NewFile: newFile,
	}
	switch {
	case modeKind(oldFile.Mode) != modeKind(newFile.Mode):
		delta.Status = StatusTypeChange
	case oldFile.ID == newFile.ID && oldFile.Mode == newFile.Mode:
		delta.Status = StatusUnmodified
	default:
		delta.Status = StatusModified
	}
	return delta
}

// TreeToTree returns the diff between 2 trees. A nil tree is treated
// as an empty tree
func TreeToTree(odb ObjectReader, oldTree, newTree *object.Tree, opts *Options) (*Diff, error) {
	d, err := newDiffer(odb, opts)
	if err != nil {
		return nil, err
	}
	if err = d.trees("", treeEntries(oldTree), treeEntries(newTree)); err != nil {
		return nil, err
	}
	d.diff.sort()
	return d.diff, nil
}

func treeEntries(t *object.Tree) []object.TreeEntry {
	if t == nil {
		return nil
	}
	return t.Entries()
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// subTree returns the entries of the tree with the given id
func (d *differ) subTree(id githash.Oid) ([]object.TreeEntry, error) {
	o, err := d.odb.Object(id)
	if err != nil {
		return nil, fmt.Errorf("could not get tree %s: %w", id.String(), err)
	}
	t, err := o.AsTree()
	if err != nil {
		return nil, fmt.Errorf("could not parse tree %s: %w", id.String(), err)
	}
	return t.Entries(), nil
}

// trees does a merge-join of 2 lists of entries sorted in tree order.
// Sub-trees are only loaded when they differ
func (d *differ) trees(prefix string, a, b []object.TreeEntry) error {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var c int
		switch {
		case i == len(a):
			c = 1
		case j == len(b):
			c = -1
		default:
			c = object.CompareTreeEntries(a[i], b[j])
		}

		var err error
		switch {
		case c < 0:
			err = d.treeEntry(prefix, &a[i], nil)
			i++
		case c > 0:
			err = d.treeEntry(prefix, nil, &b[j])
			j++
		default:
			err = d.treeEntry(prefix, &a[i], &b[j])
			i++
			j++
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// treeEntry compares 2 entries that have the same name. One of them
// may be nil
func (d *differ) treeEntry(prefix string, oldEntry, newEntry *object.TreeEntry) error {
	var name string
	var isDir bool
	if oldEntry != nil {
		name, isDir = oldEntry.Path, oldEntry.Mode.IsDir()
	} else {
		name, isDir = newEntry.Path, newEntry.Mode.IsDir()
	}
	p := joinPath(prefix, name)

	if isDir {
		if oldEntry != nil && newEntry != nil && oldEntry.ID == newEntry.ID && !d.diff.opts.has(IncludeUnmodified) {
			return nil
		}
		var oldEntries, newEntries []object.TreeEntry
		var err error
		if oldEntry != nil {
			if oldEntries, err = d.subTree(oldEntry.ID); err != nil {
				return err
			}
		}
		if newEntry != nil {
			if newEntries, err = d.subTree(newEntry.ID); err != nil {
				return err
			}
		}
		return d.trees(p, oldEntries, newEntries)
	}

	var oldSnap, newSnap *snapshotEntry
	if oldEntry != nil {
		oldSnap = &snapshotEntry{path: p, id: oldEntry.ID, mode: oldEntry.Mode}
	}
	if newEntry != nil {
		newSnap = &snapshotEntry{path: p, id: newEntry.ID, mode: newEntry.Mode}
	}
	d.pair(oldSnap, newSnap)
	return nil
}

// pair creates the delta of 2 entries of a snapshot that are not
// in the working tree. One of them may be nil
func (d *differ) pair(oldEntry, newEntry *snapshotEntry) {
	switch {
	case newEntry == nil:
		d.emit(Delta{
			Status:  StatusDeleted,
			OldFile: d.file(oldEntry, d.oldLoader),
			NewFile: d.missingFile(oldEntry.path),
		})
	case newEntry.kind == kindConflicted:
		oldFile := d.missingFile(newEntry.path)
		if oldEntry != nil {
			oldFile = d.file(oldEntry, d.oldLoader)
		}
		d.emit(Delta{
			Status:  StatusConflicted,
			OldFile: oldFile,
			NewFile: d.file(newEntry, d.newLoader),
		})
	case oldEntry == nil:
		d.emit(Delta{
			Status:  StatusAdded,
			OldFile: d.missingFile(newEntry.path),
			NewFile: d.file(newEntry, d.newLoader),
		})
	default:
		d.emit(d.compare(d.file(oldEntry, d.oldLoader), d.file(newEntry, d.newLoader)))
	}
}

// flattenTree returns all the files of a tree, sorted by path
func (d *differ) flattenTree(t *object.Tree) ([]*snapshotEntry, error) {
	out := []*snapshotEntry{}
	var walk func(prefix string, entries []object.TreeEntry) error
	walk = func(prefix string, entries []object.TreeEntry) error {
		for _, e := range entries {
			p := joinPath(prefix, e.Path)
			if !e.Mode.IsDir() {
				out = append(out, &snapshotEntry{path: p, id: e.ID, mode: e.Mode})
				continue
			}
			sub, err := d.subTree(e.ID)
			if err != nil {
				return err
			}
			if err = walk(p, sub); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk("", treeEntries(t)); err != nil {
		return nil, err
	}
	d.sortEntries(out)
	return out, nil
}

// flattenIndex returns the entries of the index. A path in conflict
// is returned once, using the "ours" version when available
func (d *differ) flattenIndex(idx *index.Index) []*snapshotEntry {
	out := []*snapshotEntry{}
	for _, e := range idx.Entries() {
		e := e
		snap := &snapshotEntry{
			path:            e.Path,
			id:              e.ID,
			mode:            e.Mode,
			hasStat:         !idx.IsRacy(&e),
			size:            int64(e.Size),
			mtime:           e.MTime,
			assumeUnchanged: e.AssumeValid || e.SkipWorktree,
		}
		if e.Stage != index.StageMerged {
			snap.kind = kindConflicted
			snap.hasStat = false
		}

		// entries are sorted by path then stage so all the stages of a
		// path are next to each other
		if len(out) > 0 && out[len(out)-1].path == e.Path {
			if e.Stage == index.StageOurs {
				out[len(out)-1] = snap
			}
			continue
		}
		out = append(out, snap)
	}
	d.sortEntries(out)
	return out
}

func (d *differ) sortEntries(entries []*snapshotEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return d.key(entries[i].path) < d.key(entries[j].path)
	})
}

// join does a merge-join on 2 lists of entries sorted by path, and
// calls f with the entries sharing the same path
func (d *differ) join(a, b []*snapshotEntry, f func(oldEntry, newEntry *snapshotEntry) error) error {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var c int
		switch {
		case i == len(a):
			c = 1
		case j == len(b):
			c = -1
		default:
			c = strings.Compare(d.key(a[i].path), d.key(b[j].path))
		}

		var err error
		switch {
		case c < 0:
			err = f(a[i], nil)
			i++
		case c > 0:
			err = f(nil, b[j])
			j++
		default:
			err = f(a[i], b[j])
			i++
			j++
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// TreeToIndex returns the diff between a tree and an index. A nil tree
// is treated as an empty tree
func TreeToIndex(odb ObjectReader, t *object.Tree, idx *index.Index, opts *Options) (*Diff, error) {
	d, err := newDiffer(odb, opts)
	if err != nil {
		return nil, err
	}
	oldEntries, err := d.flattenTree(t)
	if err != nil {
		return nil, err
	}
	err = d.join(oldEntries, d.flattenIndex(idx), func(oldEntry, newEntry *snapshotEntry) error {
		d.pair(oldEntry, newEntry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.diff.sort()
	return d.diff, nil
}

// TreeToWorkdir returns the diff between a tree and the working tree,
// without going through the index. A nil tree is treated as an empty
// tree
func TreeToWorkdir(odb ObjectReader, t *object.Tree, wt WorkTree, opts *Options) (*Diff, error) {
	d, err := newDiffer(odb, opts)
	if err != nil {
		return nil, err
	}
	oldEntries, err := d.flattenTree(t)
	if err != nil {
		return nil, err
	}
	if err = d.workdir(oldEntries, wt); err != nil {
		return nil, err
	}
	d.diff.sort()
	return d.diff, nil
}

// IndexToWorkdir returns the diff between an index and the working
// tree
func IndexToWorkdir(odb ObjectReader, idx *index.Index, wt WorkTree, opts *Options) (*Diff, error) {
	d, err := newDiffer(odb, opts)
	if err != nil {
		return nil, err
	}
	if err = d.workdir(d.flattenIndex(idx), wt); err != nil {
		return nil, err
	}
	d.diff.sort()
	return d.diff, nil
}

// workdir compares the given entries with the working tree
func (d *differ) workdir(oldEntries []*snapshotEntry, wt WorkTree) error {
	d.newLoader = &workdirLoader{wt: wt}
	newEntries, err := d.walkWorkdir(wt, oldEntries)
	if err != nil {
		return err
	}
	return d.join(oldEntries, newEntries, func(oldEntry, newEntry *snapshotEntry) error {
		return d.workdirPair(wt, oldEntry, newEntry)
	})
}

// workdirPair creates the delta between an entry and its version in
// the working tree. One of them may be nil
func (d *differ) workdirPair(wt WorkTree, oldEntry, newEntry *snapshotEntry) error {
	switch {
	case newEntry == nil:
		if oldEntry.kind == kindConflicted {
			d.emit(Delta{
				Status:  StatusConflicted,
				OldFile: d.file(oldEntry, d.oldLoader),
				NewFile: d.missingFile(oldEntry.path),
			})
			return nil
		}
		d.pair(oldEntry, nil)
		return nil
	case oldEntry == nil:
		status := StatusUntracked
		if newEntry.kind == kindIgnored {
			status = StatusIgnored
		}
		d.emit(Delta{
			Status:  status,
			OldFile: d.missingFile(newEntry.path),
			NewFile: d.file(newEntry, d.newLoader),
		})
		return nil
	case oldEntry.kind == kindConflicted:
		d.emit(Delta{
			Status:  StatusConflicted,
			OldFile: d.file(oldEntry, d.oldLoader),
			NewFile: d.file(newEntry, d.newLoader),
		})
		return nil
	}

	// The file is tracked and exists in the working tree. We use the
	// stat data to avoid hashing files that haven't changed
	newEntry.path = oldEntry.path
	// We don't look inside submodules
	if oldEntry.assumeUnchanged || newEntry.mode == object.ModeGitLink || (oldEntry.hasStat &&
		oldEntry.mode == newEntry.mode &&
		uint32(oldEntry.size) == uint32(newEntry.size) &&
		oldEntry.mtime.Equal(newEntry.mtime)) {
		newEntry.id = oldEntry.id
		d.emit(d.compare(d.file(oldEntry, d.oldLoader), d.file(newEntry, d.newLoader)))
		return nil
	}

	f := d.file(newEntry, d.newLoader)
	data, err := f.content()
	if err != nil {
		d.emit(Delta{
			Status:  StatusUnreadable,
			OldFile: d.file(oldEntry, d.oldLoader),
			NewFile: f,
		})
		d.diff.logger.WithError(err).WithField("path", newEntry.path).Warn("could not read file")
		return nil
	}
	newEntry.id = object.New(d.odb.Hash(), object.TypeBlob, data).ID()
	d.emit(d.compare(d.file(oldEntry, d.oldLoader), d.file(newEntry, d.newLoader)))
	return nil
}

// walkWorkdir returns all the files of the working tree, sorted by
// path. The untracked and ignored files are only returned when
// requested.
func (d *differ) walkWorkdir(wt WorkTree, tracked []*snapshotEntry) ([]*snapshotEntry, error) {
	trackedFiles := make(map[string]struct{}, len(tracked))
	trackedDirs := map[string]struct{}{}
	submodules := map[string]struct{}{}
	for _, e := range tracked {
		trackedFiles[d.key(e.path)] = struct{}{}
		if e.mode == object.ModeGitLink {
			submodules[d.key(e.path)] = struct{}{}
		}
		for dir := index.Dir(e.path); dir != ""; dir = index.Dir(dir) {
			trackedDirs[d.key(dir)] = struct{}{}
		}
	}

	out := []*snapshotEntry{}
	opts := d.diff.opts
	isIgnored := func(rel string, isDir bool) bool {
		return opts.Ignore != nil && opts.Ignore.Match(rel, isDir)
	}

	err := afero.Walk(wt.FS, wt.Root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(wt.Root, p)
		if err != nil {
			return err //nolint:wrapcheck // the error is already descriptive
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if info.Name() == gitpath.DotGitPath {
				return filepath.SkipDir
			}
			if _, ok := trackedDirs[d.key(rel)]; ok {
				return nil
			}
			// Submodules are the only directories tracked as a single
			// entry. A tracked file replaced by a directory is not one:
			// the file is reported as deleted and the directory as
			// untracked
			if _, ok := submodules[d.key(rel)]; ok {
				out = append(out, &snapshotEntry{
					path: rel,
					mode: object.ModeGitLink,
				})
				return filepath.SkipDir
			}

			// The directory only contains untracked files
			kind := kindUntracked
			if isIgnored(rel, true) {
				if !opts.has(IncludeIgnored) {
					return filepath.SkipDir
				}
				kind = kindIgnored
			} else if !opts.has(IncludeUntracked) {
				return filepath.SkipDir
			}
			if kind == kindUntracked && opts.has(RecurseUntrackedDirs) {
				return nil
			}
			hasFiles, err := containsFiles(wt.FS, p)
			if err != nil {
				return err
			}
			if hasFiles {
				out = append(out, &snapshotEntry{
					path: rel + "/",
					mode: object.ModeDirectory,
					kind: kind,
				})
			}
			return filepath.SkipDir
		}

		entry := &snapshotEntry{
			path:    rel,
			mode:    object.ModeFromFileInfo(info),
			hasStat: true,
			size:    info.Size(),
			mtime:   info.ModTime(),
		}
		if _, ok := trackedFiles[d.key(rel)]; !ok {
			switch {
			case isIgnored(rel, false):
				if !opts.has(IncludeIgnored) {
					return nil
				}
				entry.kind = kindIgnored
			case !opts.has(IncludeUntracked):
				return nil
			default:
				entry.kind = kindUntracked
			}
		}
		out = append(out, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not walk the working tree: %w", err)
	}
	d.sortEntries(out)
	return out, nil
}

// containsFiles returns whether a directory contains at least one
// file, at any depth
func containsFiles(fs afero.Fs, dir string) (bool, error) {
	found := false
	err := afero.Walk(fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if p != dir && info.Name() == gitpath.DotGitPath {
				return filepath.SkipDir
			}
			return nil
		}
		found = true
		return errStopWalk
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return false, fmt.Errorf("could not walk %s: %w", dir, err)
	}
	return found, nil
}

var errStopWalk = errors.New("stop walking")
