package object

import (
	"bytes"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/internal/readutil"
)

// TreeObjectMode represents the mode of an object inside a tree
// Non-standard modes (like 0o100664) are not supported
type TreeObjectMode int32

const (
	// ModeFile represents the mode to use for a regular file
	ModeFile TreeObjectMode = 0o100644
	// ModeExecutable represents the mode to use for a executable file
	ModeExecutable TreeObjectMode = 0o100755
	// ModeDirectory represents the mode to use for a directory
	ModeDirectory TreeObjectMode = 0o040000
	// ModeSymLink represents the mode to use for a symbolic link
	ModeSymLink TreeObjectMode = 0o120000
	// ModeGitLink represents the mode to use for a gitlink (submodule)
	ModeGitLink TreeObjectMode = 0o160000
)

// IsValid returns whether the mode is a supported mode or not
func (m TreeObjectMode) IsValid() bool {
	switch m {
	case ModeFile, ModeExecutable, ModeDirectory, ModeSymLink, ModeGitLink:
		return true
	default:
		return false
	}
}

// IsDir returns whether the mode points to a sub-tree
func (m TreeObjectMode) IsDir() bool {
	return m == ModeDirectory
}

// ObjectType returns the object type associated to a mode
func (m TreeObjectMode) ObjectType() Type {
	switch m {
	case ModeDirectory:
		return TypeTree
	case ModeGitLink:
		return TypeCommit
	case ModeExecutable, ModeFile, ModeSymLink:
		return TypeBlob
	default:
		// We treat anything unexpected as blob
		return TypeBlob
	}
}

// String returns the octal representation of the mode, as found in
// a tree object
func (m TreeObjectMode) String() string {
	return fmt.Sprintf("%06o", int32(m))
}

// ModeFromFileInfo returns the mode git would use to store the given
// file. Only the executable bit of the permissions is kept
func ModeFromFileInfo(info fs.FileInfo) TreeObjectMode {
	switch {
	case info.IsDir():
		return ModeDirectory
	case info.Mode()&fs.ModeSymlink != 0:
		return ModeSymLink
	case info.Mode().Perm()&0o111 != 0:
		return ModeExecutable
	default:
		return ModeFile
	}
}

// Tree represents a git tree object
type Tree struct {
	rawObject *Object
	// we don't use pointers to make sure entries are immutable
	entries []TreeEntry
}

// TreeEntry represents an entry inside a git tree
type TreeEntry struct {
	Path string
	ID   githash.Oid
	Mode TreeObjectMode
}

// CompareTreeEntries compares 2 entries using the order git expects in
// a tree: bytewise on the names, a directory being compared as if its
// name had a trailing "/".
func CompareTreeEntries(a, b TreeEntry) int {
	return compareTreeNames(a.Path, a.Mode.IsDir(), b.Path, b.Mode.IsDir())
}

func compareTreeNames(a string, aIsDir bool, b string, bIsDir bool) int {
	l := len(a)
	if len(b) < l {
		l = len(b)
	}
	if c := strings.Compare(a[:l], b[:l]); c != 0 {
		return c
	}
	// One name is the prefix of the other (or they are equal), the
	// next char decides. Directories behave like they end with a "/"
	next := func(name string, isDir bool) int {
		if len(name) > l {
			return int(name[l])
		}
		if isDir {
			return '/'
		}
		return 0
	}
	return next(a, aIsDir) - next(b, bIsDir)
}

// SortTreeEntries sorts the entries in place, in the git tree order
func SortTreeEntries(entries []TreeEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return CompareTreeEntries(entries[i], entries[j]) < 0
	})
}

// NewTree returns a new tree with the given entries.
// The entries are copied and sorted in the git tree order
func NewTree(hash githash.Hash, entries []TreeEntry) *Tree {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	SortTreeEntries(sorted)

	t := &Tree{
		entries: sorted,
	}
	t.rawObject = t.serialize(hash)
	return t
}

// NewTreeFromObject returns a new tree from an object
//
// A tree has following format:
//
// {octal_mode} {path_name}\0{encoded_sha}
//
// Note:
// - a Tree may have multiple entries
func NewTreeFromObject(o *Object) (*Tree, error) {
	if o.Type() != TypeTree {
		return nil, fmt.Errorf("type %s is not a tree: %w", o.typ, ErrObjectInvalid)
	}

	entries := []TreeEntry{}
	oidSize := o.hash.OidSize()
	objData := o.Bytes()
	offset := 0
	// i is only used for error messages
	for i := 1; offset < len(objData); i++ {
		entry := TreeEntry{}
		data := readutil.ReadTo(objData[offset:], ' ')
		if len(data) == 0 {
			return nil, fmt.Errorf("could not retrieve the mode of entry %d: %w", i, ErrTreeInvalid)
		}
		offset += len(data) + 1 // +1 for the space
		mode, err := strconv.ParseInt(string(data), 8, 32)
		if err != nil {
			return nil, fmt.Errorf("could not parse mode of entry %d: %s: %w", i, err.Error(), ErrTreeInvalid)
		}
		entry.Mode = TreeObjectMode(mode)

		data = readutil.ReadTo(objData[offset:], 0)
		if len(data) == 0 {
			return nil, fmt.Errorf("could not retrieve the path of entry %d: %w", i, ErrTreeInvalid)
		}
		offset += len(data) + 1 // +1 for the \0
		entry.Path = string(data)

		if offset+oidSize > len(objData) {
			return nil, fmt.Errorf("not enough space to retrieve the ID of entry %d: %w", i, ErrTreeInvalid)
		}
		entry.ID, err = o.hash.ConvertFromBytes(objData[offset : offset+oidSize])
		if err != nil {
			return nil, fmt.Errorf("invalid SHA for entry %d (%s): %w", i, err.Error(), ErrTreeInvalid)
		}
		offset += oidSize

		entries = append(entries, entry)
	}
	return &Tree{
		rawObject: o,
		entries:   entries,
	}, nil
}

// Entries returns a copy of tree entries
func (t *Tree) Entries() []TreeEntry {
	out := make([]TreeEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Entry returns the entry matching the given name
func (t *Tree) Entry(name string) (TreeEntry, bool) {
	for _, e := range t.entries {
		if e.Path == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// Len returns the number of entries in the tree
func (t *Tree) Len() int {
	return len(t.entries)
}

// ID returns the object's ID
func (t *Tree) ID() githash.Oid {
	return t.rawObject.ID()
}

// ToObject returns an Object representing the tree
func (t *Tree) ToObject() *Object {
	return t.rawObject
}

func (t *Tree) serialize(hash githash.Hash) *Object {
	// Quick reminder that the Write* methods on bytes.Buffer never fails,
	// the error returned is always nil
	buf := new(bytes.Buffer)

	// A tree object is only composed of a bunch of entries back to back
	for _, e := range t.entries {
		// the mode is not padded: directories are "40000"
		buf.WriteString(strconv.FormatInt(int64(e.Mode), 8))
		buf.WriteByte(' ')
		buf.WriteString(e.Path)
		buf.WriteByte(0)
		buf.Write(e.ID.Bytes())
	}
	return New(hash, TypeTree, buf.Bytes())
}
