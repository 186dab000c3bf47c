package diff_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vcskit/gitcore/diff"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
)

// memODB is an in-memory object database
type memODB struct {
	hash githash.Hash

	mu      sync.RWMutex
	objects map[githash.Oid]*object.Object
}

func newMemODB(hash githash.Hash) *memODB {
	return &memODB{
		hash:    hash,
		objects: map[githash.Oid]*object.Object{},
	}
}

func (db *memODB) Hash() githash.Hash {
	return db.hash
}

func (db *memODB) Object(oid githash.Oid) (*object.Object, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	o, ok := db.objects[oid]
	if !ok {
		return nil, fmt.Errorf("%s: %w", oid.String(), ginternals.ErrObjectNotFound)
	}
	return o, nil
}

func (db *memODB) add(o *object.Object) githash.Oid {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.objects[o.ID()] = o
	return o.ID()
}

func (db *memODB) blob(content string) githash.Oid {
	return db.add(object.New(db.hash, object.TypeBlob, []byte(content)))
}

// file is a file of a tree created by the tests
type file struct {
	content string
	mode    object.TreeObjectMode
}

// tree creates a tree, and all its sub-trees, from a list of files
// indexed by path. Files with no mode are regular files
func (db *memODB) tree(t *testing.T, files map[string]file) *object.Tree {
	t.Helper()

	entries := []object.TreeEntry{}
	dirs := map[string]map[string]file{}
	for p, f := range files {
		if i := strings.IndexByte(p, '/'); i >= 0 {
			dir := p[:i]
			if dirs[dir] == nil {
				dirs[dir] = map[string]file{}
			}
			dirs[dir][p[i+1:]] = f
			continue
		}
		mode := f.mode
		if mode == 0 {
			mode = object.ModeFile
		}
		entries = append(entries, object.TreeEntry{
			Path: p,
			Mode: mode,
			ID:   db.blob(f.content),
		})
	}
	for dir, content := range dirs {
		sub := db.tree(t, content)
		entries = append(entries, object.TreeEntry{
			Path: dir,
			Mode: object.ModeDirectory,
			ID:   sub.ID(),
		})
	}
	tree := object.NewTree(db.hash, entries)
	db.add(tree.ToObject())

	// make sure what we stored can be parsed back
	_, err := tree.ToObject().AsTree()
	require.NoError(t, err)
	return tree
}

// files is a shortcut to create a list of regular files
func files(kv ...string) map[string]file {
	out := make(map[string]file, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = file{content: kv[i+1]}
	}
	return out
}

// summary returns a "<status char> <path>" line per delta
func summary(d *diff.Diff) []string {
	out := make([]string, 0, d.Len())
	for _, delta := range d.Deltas() {
		line := fmt.Sprintf("%c %s", delta.Status.Char(), delta.Path())
		if delta.Status == diff.StatusRenamed || delta.Status == diff.StatusCopied {
			line = fmt.Sprintf("%c %s -> %s (%d)", delta.Status.Char(), delta.OldFile.Path, delta.NewFile.Path, delta.Similarity)
		}
		out = append(out, line)
	}
	return out
}

// numberedLines returns n lines of text, each line being unique
func numberedLines(prefix string, n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("%s line %d", prefix, i+1)
	}
	return lines
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n") + "\n"
}
