// Package index contains the staging area of a repository: a table of
// entries ordered by path and stage, and its on-disk binary format
package index

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
	"github.com/vcskit/gitcore/internal/gitpath"
)

var (
	// ErrCorruptIndex is returned when the index file cannot be parsed
	ErrCorruptIndex = fmt.Errorf("index: %w", ginternals.ErrCorruptObject)

	// ErrInvalidPath is returned when an entry has a path that cannot
	// be stored in the index
	ErrInvalidPath = fmt.Errorf("index entry path: %w", ginternals.ErrInvalidName)
)

// Stage represents the merge stage of an entry.
// Any stage other than StageMerged means the path is in conflict
type Stage uint8

const (
	// StageMerged is the stage of a regular entry
	StageMerged Stage = 0
	// StageAncestor is the stage of the common ancestor's version
	StageAncestor Stage = 1
	// StageOurs is the stage of our version
	StageOurs Stage = 2
	// StageTheirs is the stage of their version
	StageTheirs Stage = 3
)

// Entry represents a file tracked by the index
type Entry struct {
	Path  string
	Stage Stage
	ID    githash.Oid
	Mode  object.TreeObjectMode
	// Size is the size of the file on disk, truncated to 32 bits
	Size  uint32
	CTime time.Time
	MTime time.Time
	Dev   uint32
	Inode uint32
	UID   uint32
	GID   uint32

	AssumeValid bool
	// SkipWorktree and IntentToAdd require the version 3 of the format
	SkipWorktree bool
	IntentToAdd  bool
}

func (e *Entry) isExtended() bool {
	return e.SkipWorktree || e.IntentToAdd
}

// compareEntry compares the (path, stage) of 2 entries
func compareEntry(path string, stage Stage, e *Entry) int {
	if c := strings.Compare(path, e.Path); c != 0 {
		return c
	}
	switch {
	case stage < e.Stage:
		return -1
	case stage > e.Stage:
		return 1
	default:
		return 0
	}
}

// ValidatePath returns whether the given path can be stored in the
// index
func ValidatePath(p string) error {
	if p == "" || strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") || strings.ContainsRune(p, 0) {
		return fmt.Errorf("%q: %w", p, ErrInvalidPath)
	}
	for _, s := range strings.Split(p, "/") {
		if s == "" || s == "." || s == ".." || strings.EqualFold(s, gitpath.DotGitPath) {
			return fmt.Errorf("%q: %w", p, ErrInvalidPath)
		}
	}
	return nil
}

// Index represents the staging area of a repository
type Index struct {
	hash     githash.Hash
	version  uint32
	entries  []Entry
	checksum githash.Oid
	// modTime is the last modification time of the index file
	modTime time.Time
}

// New returns an empty index
func New(hash githash.Hash) *Index {
	return &Index{
		hash:    hash,
		version: 2,
	}
}

// Hash returns the hash algorithm used by the index
func (idx *Index) Hash() githash.Hash {
	return idx.hash
}

// Version returns the version of the format the index was read from
func (idx *Index) Version() uint32 {
	return idx.version
}

// Checksum returns the checksum of the index as it was last read
// or written. Returns nil if the index has never been persisted
func (idx *Index) Checksum() githash.Oid {
	return idx.checksum
}

// ModTime returns the last modification time of the file the index
// was read from. The zero time is returned if unknown
func (idx *Index) ModTime() time.Time {
	return idx.modTime
}

// SetModTime sets the last modification time of the index file
func (idx *Index) SetModTime(t time.Time) {
	idx.modTime = t
}

// IsRacy returns whether the stat data of the entry cannot be used to
// tell if the file changed. This happens when the file was modified
// at, or after, the time the index was written: a change made in the
// same timestamp tick keeps the same mtime.
// Entries are always racy when the modification time of the index is
// unknown
func (idx *Index) IsRacy(e *Entry) bool {
	return idx.modTime.IsZero() || !e.MTime.Before(idx.modTime)
}

// Find returns the position of the entry with the given path and stage.
// If no entry matches, the position at which such entry would be
// inserted is returned alongside false
func (idx *Index) Find(p string, stage Stage) (int, bool) {
	i := sort.Search(len(idx.entries), func(i int) bool {
		return compareEntry(p, stage, &idx.entries[i]) <= 0
	})
	return i, i < len(idx.entries) && compareEntry(p, stage, &idx.entries[i]) == 0
}

// Add adds the entry to the index, replacing the entry that has the
// same path and stage if any.
// Entries of the same stage that cannot coexist with the new one are
// removed: the entries located under e.Path, and the entries named
// after one of the parent directories of e.Path
func (idx *Index) Add(e Entry) error {
	if err := ValidatePath(e.Path); err != nil {
		return err
	}
	if e.Stage > StageTheirs {
		return fmt.Errorf("invalid stage %d for %s: %w", e.Stage, e.Path, ErrInvalidPath)
	}
	if e.ID == nil {
		return fmt.Errorf("no object id for %s: %w", e.Path, ginternals.ErrInvalidTarget)
	}
	idx.removeConflictingPaths(e.Path, e.Stage)
	i, found := idx.Find(e.Path, e.Stage)
	if found {
		idx.entries[i] = e
		return nil
	}
	idx.entries = append(idx.entries, Entry{})
	copy(idx.entries[i+1:], idx.entries[i:])
	idx.entries[i] = e
	return nil
}

// removeConflictingPaths removes the entries of the given stage that
// prevent p from being a file or a directory
func (idx *Index) removeConflictingPaths(p string, stage Stage) {
	prefix := p + "/"
	kept := idx.entries[:0]
	for _, e := range idx.entries {
		if e.Stage == stage && (strings.HasPrefix(e.Path, prefix) || strings.HasPrefix(p, e.Path+"/")) {
			continue
		}
		kept = append(kept, e)
	}
	idx.entries = kept
}

// Remove removes the entry with the given path and stage.
// Returns false if no such entry exists
func (idx *Index) Remove(p string, stage Stage) bool {
	i, found := idx.Find(p, stage)
	if !found {
		return false
	}
	idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
	return true
}

// RemoveAll removes all the entries of a path, regardless of their
// stage, and returns how many were removed
func (idx *Index) RemoveAll(p string) int {
	start, _ := idx.Find(p, StageMerged)
	end := start
	for end < len(idx.entries) && idx.entries[end].Path == p {
		end++
	}
	idx.entries = append(idx.entries[:start], idx.entries[end:]...)
	return end - start
}

// RemoveDirectory removes all the entries of the given stage located
// under the given directory, and returns how many were removed
func (idx *Index) RemoveDirectory(dir string, stage Stage) int {
	prefix := strings.Trim(dir, "/") + "/"
	kept := idx.entries[:0]
	removed := 0
	for _, e := range idx.entries {
		if e.Stage == stage && strings.HasPrefix(e.Path, prefix) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	idx.entries = kept
	return removed
}

// EntryAt returns the entry at the given position
func (idx *Index) EntryAt(i int) (Entry, bool) {
	if i < 0 || i >= len(idx.entries) {
		return Entry{}, false
	}
	return idx.entries[i], true
}

// Entry returns the entry with the given path and stage
func (idx *Index) Entry(p string, stage Stage) (Entry, bool) {
	i, found := idx.Find(p, stage)
	if !found {
		return Entry{}, false
	}
	return idx.entries[i], true
}

// Contains returns whether the index has an entry for the given path,
// at any stage
func (idx *Index) Contains(p string) bool {
	i, _ := idx.Find(p, StageMerged)
	return i < len(idx.entries) && idx.entries[i].Path == p
}

// Count returns the number of entries
func (idx *Index) Count() int {
	return len(idx.entries)
}

// Entries returns a copy of all the entries, ordered by path and stage
func (idx *Index) Entries() []Entry {
	out := make([]Entry, len(idx.entries))
	copy(out, idx.entries)
	return out
}

// Conflicts returns the entries that are not at the merged stage
func (idx *Index) Conflicts() []Entry {
	var out []Entry
	for _, e := range idx.entries {
		if e.Stage != StageMerged {
			out = append(out, e)
		}
	}
	return out
}

// HasConflicts returns whether at least one path is in conflict
func (idx *Index) HasConflicts() bool {
	for _, e := range idx.entries {
		if e.Stage != StageMerged {
			return true
		}
	}
	return false
}

// Clear removes all the entries
func (idx *Index) Clear() {
	idx.entries = nil
}

// Replace replaces the content of the index by the given entries
func (idx *Index) Replace(entries []Entry) error {
	idx.Clear()
	for _, e := range entries {
		if err := idx.Add(e); err != nil {
			return err
		}
	}
	return nil
}

// Dir returns the directory of an entry path, "" for the root
func Dir(p string) string {
	d := path.Dir(p)
	if d == "." {
		return ""
	}
	return d
}
