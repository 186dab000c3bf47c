// Package diff computes the differences between two snapshots of a
// repository: trees, the index, or the working tree.
package diff

import (
	"fmt"
	"sort"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
)

// Status represents the kind of change of a Delta
type Status int8

// List of all the possible statuses
const (
	StatusUnmodified Status = iota
	StatusAdded
	StatusDeleted
	StatusModified
	StatusRenamed
	StatusCopied
	StatusIgnored
	StatusUntracked
	StatusTypeChange
	StatusUnreadable
	StatusConflicted
)

func (s Status) String() string {
	switch s {
	case StatusUnmodified:
		return "unmodified"
	case StatusAdded:
		return "added"
	case StatusDeleted:
		return "deleted"
	case StatusModified:
		return "modified"
	case StatusRenamed:
		return "renamed"
	case StatusCopied:
		return "copied"
	case StatusIgnored:
		return "ignored"
	case StatusUntracked:
		return "untracked"
	case StatusTypeChange:
		return "typechange"
	case StatusUnreadable:
		return "unreadable"
	case StatusConflicted:
		return "conflicted"
	default:
		return fmt.Sprintf("status(%d)", int8(s))
	}
}

// Char returns the letter git uses to represent the status
// (as in git diff --name-status)
func (s Status) Char() byte {
	switch s {
	case StatusAdded:
		return 'A'
	case StatusDeleted:
		return 'D'
	case StatusModified:
		return 'M'
	case StatusRenamed:
		return 'R'
	case StatusCopied:
		return 'C'
	case StatusIgnored:
		return '!'
	case StatusUntracked:
		return '?'
	case StatusTypeChange:
		return 'T'
	case StatusUnreadable:
		return 'X'
	case StatusConflicted:
		return 'U'
	default:
		return ' '
	}
}

// FileFlag contains information about a side of a Delta
type FileFlag uint8

// List of the flags of a File or a Delta
const (
	// FlagBinary is set when the content is binary
	FlagBinary FileFlag = 1 << iota
	// FlagNotBinary is set when the content is known to be text
	FlagNotBinary
	// FlagValidID is set when File.ID contains the id of the content
	FlagValidID
	// FlagExists is set when the file exists on this side of the delta
	FlagExists
)

// File represents one side of a Delta
type File struct {
	Path  string
	ID    githash.Oid
	Size  int64
	Mode  object.TreeObjectMode
	Flags FileFlag

	// loader is used to retrieve the content of the file
	loader contentLoader
}

// Exists returns whether the file exists on its side of the delta
func (f File) Exists() bool {
	return f.Flags&FlagExists != 0
}

// Delta represents the change of a single path
type Delta struct {
	Status  Status
	OldFile File
	NewFile File
	// Similarity is the similarity score (0-100) of a renamed, copied,
	// or rewritten file
	Similarity int
	// Flags contains the binary flags of the delta, once known
	Flags FileFlag
}

// Path returns the path the delta should be sorted with.
// This is the new path for renames and copies
func (d Delta) Path() string {
	if d.NewFile.Path != "" {
		return d.NewFile.Path
	}
	return d.OldFile.Path
}

// Flag contains the options changing how a diff is computed
type Flag uint32

// List of flags that can be used in Options
const (
	// IncludeUnmodified adds the unmodified files to the diff
	IncludeUnmodified Flag = 1 << iota
	// IncludeUntracked adds the untracked files of the working tree
	IncludeUntracked
	// IncludeIgnored adds the ignored files of the working tree
	IncludeIgnored
	// RecurseUntrackedDirs lists the content of untracked directories
	// instead of reporting the directory itself
	RecurseUntrackedDirs
	// IgnoreCase makes path comparisons case-insensitive
	IgnoreCase
	// IgnoreWhitespace ignores all whitespace when comparing lines
	IgnoreWhitespace
	// IgnoreWhitespaceChange ignores changes in the amount of whitespace
	IgnoreWhitespaceChange
	// IgnoreWhitespaceEOL ignores whitespace at the end of the lines
	IgnoreWhitespaceEOL
	// ForceText treats all files as text
	ForceText
	// ForceBinary treats all files as binary
	ForceBinary
	// SkipBinaryCheck doesn't look at the content to decide whether a
	// file is binary
	SkipBinaryCheck
)

// Ignorer tells if a path of the working tree should be ignored
type Ignorer interface {
	Match(relPath string, isDir bool) bool
}

// Options contains the options used to generate a diff
type Options struct {
	Flags Flag
	// ContextLines is the number of unchanged lines around a change
	// in a patch
	ContextLines int
	// InterhunkLines is the maximum number of unchanged lines between
	// 2 hunks before they get merged
	InterhunkLines int
	// Pathspec limits the diff to the paths matching at least one of
	// the patterns. A pattern matches a path if it globs it, or if it
	// is one of its parent directories
	Pathspec []string
	// Ignore is used to find the ignored files of the working tree
	Ignore Ignorer
	// Logger is used to report non-fatal problems.
	// Defaults to the standard logger of logrus
	Logger logrus.FieldLogger
}

// DefaultOptions returns the options used when none are provided
func DefaultOptions() *Options {
	return &Options{
		ContextLines: 3,
	}
}

func (o *Options) has(f Flag) bool {
	return o.Flags&f != 0
}

// ObjectReader represents the object database the diff reads from
type ObjectReader interface {
	Hash() githash.Hash
	Object(oid githash.Oid) (*object.Object, error)
}

// WorkTree represents a working tree
type WorkTree struct {
	FS   afero.Fs
	Root string
}

// Diff contains the changes between 2 snapshots
type Diff struct {
	hash   githash.Hash
	opts   Options
	logger logrus.FieldLogger
	deltas []Delta
}

func newDiff(hash githash.Hash, opts *Options) *Diff {
	if opts == nil {
		opts = DefaultOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Diff{
		hash:   hash,
		opts:   *opts,
		logger: logger,
	}
}

// sort sorts the deltas by path
func (d *Diff) sort() {
	sort.SliceStable(d.deltas, func(i, j int) bool {
		return d.deltas[i].Path() < d.deltas[j].Path()
	})
}

// Len returns the number of deltas
func (d *Diff) Len() int {
	return len(d.deltas)
}

// Delta returns the delta at the given position
func (d *Diff) Delta(i int) (Delta, bool) {
	if i < 0 || i >= len(d.deltas) {
		return Delta{}, false
	}
	return d.deltas[i], true
}

// Deltas returns a copy of all the deltas, ordered by path
func (d *Diff) Deltas() []Delta {
	out := make([]Delta, len(d.deltas))
	copy(out, d.deltas)
	return out
}

// Merge adds the deltas of from into onto. The deltas of from replace
// the deltas of onto that have the same path.
// The result is ordered by path
func Merge(onto, from *Diff) error {
	if onto.hash.Name() != from.hash.Name() {
		return fmt.Errorf("cannot merge a %s diff into a %s diff: %w", from.hash.Name(), onto.hash.Name(), ginternals.ErrInvalidTarget)
	}

	// A diff can contain more than one delta for a path (a broken
	// rewrite is a deletion and an addition), so we group them
	merged := treemap.NewWithStringComparator()
	group := func(deltas []Delta) map[string][]Delta {
		out := map[string][]Delta{}
		for _, delta := range deltas {
			out[delta.Path()] = append(out[delta.Path()], delta)
		}
		return out
	}
	for p, deltas := range group(onto.deltas) {
		merged.Put(p, deltas)
	}
	for p, deltas := range group(from.deltas) {
		merged.Put(p, deltas)
	}

	deltas := make([]Delta, 0, len(onto.deltas)+len(from.deltas))
	it := merged.Iterator()
	for it.Next() {
		deltas = append(deltas, it.Value().([]Delta)...)
	}
	onto.deltas = deltas
	return nil
}
