package git

import (
	"fmt"
	"strings"

	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
)

// TreeBuilder is used to build trees
type TreeBuilder struct {
	repo    *Repository
	entries map[string]object.TreeEntry
}

// NewTreeBuilder create a new empty tree builder
func (r *Repository) NewTreeBuilder() *TreeBuilder {
	return &TreeBuilder{
		repo:    r,
		entries: map[string]object.TreeEntry{},
	}
}

// NewTreeBuilderFromTree create a new tree builder containing the
// entries of another tree
func (r *Repository) NewTreeBuilderFromTree(t *object.Tree) *TreeBuilder {
	tb := r.NewTreeBuilder()
	for _, e := range t.Entries() {
		tb.entries[e.Path] = e
	}
	return tb
}

// Insert inserts a new object in a tree, replacing the entry that has
// the same name.
// The object must exist and its type must match the mode, unless
// the mode is a gitlink (the commit lives in another repository)
func (tb *TreeBuilder) Insert(name string, oid githash.Oid, mode object.TreeObjectMode) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("invalid entry name %q: %w", name, ginternals.ErrInvalidName)
	}
	if !mode.IsValid() {
		return fmt.Errorf("invalid mode %o: %w", int32(mode), object.ErrObjectInvalid)
	}

	if mode != object.ModeGitLink {
		o, err := tb.repo.Object(oid)
		if err != nil {
			return fmt.Errorf("cannot verify object: %w", err)
		}
		if o.Type() != mode.ObjectType() {
			return fmt.Errorf("mode %s expects a %s, got a %s: %w", mode, mode.ObjectType(), o.Type(), object.ErrObjectInvalid)
		}
	}

	tb.entries[name] = object.TreeEntry{
		Mode: mode,
		Path: name,
		ID:   oid,
	}
	return nil
}

// Remove removes an object from tree
func (tb *TreeBuilder) Remove(name string) {
	delete(tb.entries, name)
}

// Len returns the number of entries in the builder
func (tb *TreeBuilder) Len() int {
	return len(tb.entries)
}

// Write creates and persists a new Tree object.
// The entries are stored in the git tree order
func (tb *TreeBuilder) Write() (*object.Tree, error) {
	entries := make([]object.TreeEntry, 0, len(tb.entries))
	for _, e := range tb.entries {
		entries = append(entries, e)
	}

	t := object.NewTree(tb.repo.dotGit.Hash(), entries)
	if _, err := tb.repo.dotGit.WriteObject(t.ToObject()); err != nil {
		return nil, fmt.Errorf("could not write the object to the odb: %w", err)
	}
	return t, nil
}
