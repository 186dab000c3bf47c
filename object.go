package git

import (
	"fmt"
	"strings"

	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
)

// Object returns the object matching the given ID.
// ErrObjectNotFound is returned if the object doesn't exist
func (r *Repository) Object(oid githash.Oid) (*object.Object, error) {
	return r.dotGit.Object(oid)
}

// ObjectByPrefix returns the object matching the given hex id, which
// may be abbreviated (4 chars minimum)
func (r *Repository) ObjectByPrefix(prefix string) (*object.Object, error) {
	oid, err := r.dotGit.ResolvePrefix(prefix)
	if err != nil {
		return nil, err
	}
	return r.dotGit.Object(oid)
}

// HasObject returns whether an object exists in the odb
func (r *Repository) HasObject(oid githash.Oid) (bool, error) {
	return r.dotGit.HasObject(oid)
}

// Blob returns the blob matching the given ID.
// object.ErrObjectInvalid is returned if the object is not a blob
func (r *Repository) Blob(oid githash.Oid) (*object.Blob, error) {
	o, err := r.dotGit.Object(oid)
	if err != nil {
		return nil, err
	}
	return o.AsBlob()
}

// Tree returns the tree matching the given ID.
// object.ErrObjectInvalid is returned if the object is not a tree
func (r *Repository) Tree(oid githash.Oid) (*object.Tree, error) {
	o, err := r.dotGit.Object(oid)
	if err != nil {
		return nil, err
	}
	return o.AsTree()
}

// Commit returns the commit matching the given ID.
// object.ErrObjectInvalid is returned if the object is not a commit
func (r *Repository) Commit(oid githash.Oid) (*object.Commit, error) {
	o, err := r.dotGit.Object(oid)
	if err != nil {
		return nil, err
	}
	return o.AsCommit()
}

// Tag returns the annotated tag matching the given ID.
// object.ErrObjectInvalid is returned if the object is not a tag
func (r *Repository) Tag(oid githash.Oid) (*object.Tag, error) {
	o, err := r.dotGit.Object(oid)
	if err != nil {
		return nil, err
	}
	return o.AsTag()
}

// HashBlob returns the ID data would have as a blob, without
// storing anything
func (r *Repository) HashBlob(data []byte) githash.Oid {
	return object.New(r.dotGit.Hash(), object.TypeBlob, data).ID()
}

// NewBlob creates, stores, and returns a new Blob object
func (r *Repository) NewBlob(data []byte) (*object.Blob, error) {
	b := object.NewBlobFromContent(r.dotGit.Hash(), data)
	if _, err := r.dotGit.WriteObject(b.ToObject()); err != nil {
		return nil, fmt.Errorf("could not write the object to the odb: %w", err)
	}
	return b, nil
}

// NewCommit creates, stores, and returns a new Commit object.
// The reference refname is then updated to target the new commit.
// If the reference is symbolic, its target gets updated.
// An empty refname doesn't update anything
func (r *Repository) NewCommit(refname string, tree *object.Tree, author object.Signature, opts *object.CommitOptions) (*object.Commit, error) {
	c, err := r.NewDetachedCommit(tree, author, opts)
	if err != nil {
		return nil, err
	}
	if refname == "" {
		return c, nil
	}

	name := r.refName(refname)
	ref, err := r.dotGit.RawReference(name)
	switch {
	case err == nil && ref.Type() == ginternals.SymbolicReference:
		name = ref.SymbolicTarget()
	case err != nil && !isNotFound(err):
		return nil, fmt.Errorf("could not get reference %s: %w", refname, err)
	}

	msg := "commit: "
	if len(c.ParentIDs()) == 0 {
		msg = "commit (initial): "
	}
	msg += firstLine(c.Message())

	err = r.updateReference(ginternals.NewReference(name, c.ID()), refUpdate{
		committer: c.Committer(),
		message:   msg,
	})
	if err != nil {
		return nil, fmt.Errorf("could not update %s: %w", refname, err)
	}
	return c, nil
}

// NewDetachedCommit creates, stores, and returns a new Commit object
// not attached to any reference
func (r *Repository) NewDetachedCommit(tree *object.Tree, author object.Signature, opts *object.CommitOptions) (*object.Commit, error) {
	if tree == nil {
		return nil, fmt.Errorf("no tree provided: %w", ginternals.ErrInvalidTarget)
	}
	if opts != nil {
		for _, p := range opts.ParentsID {
			if err := r.requireObject(p); err != nil {
				return nil, fmt.Errorf("invalid parent %s: %w", p, err)
			}
		}
	}
	c := object.NewCommit(r.dotGit.Hash(), tree.ID(), author, opts)
	if _, err := r.dotGit.WriteObject(c.ToObject()); err != nil {
		return nil, fmt.Errorf("could not write the object to the odb: %w", err)
	}
	return c, nil
}

// NewTag creates, stores, and returns a new annotated tag, and creates
// the reference refs/tags/{name} targeting it.
// ErrRefExists is returned if the reference already exists
func (r *Repository) NewTag(p *object.TagParams) (*object.Tag, error) {
	if p == nil || p.Target == nil {
		return nil, fmt.Errorf("no target provided: %w", ginternals.ErrInvalidTarget)
	}
	name := ginternals.LocalTagFullName(p.Name)
	if !ginternals.IsRefNameValid(name) {
		return nil, fmt.Errorf(`tag "%s": %w`, p.Name, ginternals.ErrRefNameInvalid)
	}
	if _, err := r.dotGit.RawReference(r.refName(name)); err == nil {
		return nil, fmt.Errorf(`tag "%s": %w`, p.Name, ginternals.ErrRefExists)
	}
	if err := r.requireObject(p.Target.ID()); err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}

	tag := object.NewTag(r.dotGit.Hash(), p)
	if _, err := r.dotGit.WriteObject(tag.ToObject()); err != nil {
		return nil, fmt.Errorf("could not write the object to the odb: %w", err)
	}

	err := r.updateReference(ginternals.NewReference(r.refName(name), tag.ID()), refUpdate{
		createOnly: true,
		committer:  p.Tagger,
		message:    "tag: " + firstLine(p.Message),
	})
	if err != nil {
		return nil, fmt.Errorf("could not create the tag reference: %w", err)
	}
	return tag, nil
}

// NewLightweightTag creates a reference refs/tags/{name} targeting the
// given object.
// ErrRefExists is returned if the reference already exists
func (r *Repository) NewLightweightTag(name string, target githash.Oid) (*ginternals.Reference, error) {
	return r.CreateReference(ginternals.LocalTagFullName(name), target, ReferenceOptions{})
}

// requireObject returns ErrInvalidTarget if the object doesn't exist
func (r *Repository) requireObject(oid githash.Oid) error {
	if oid == nil || oid.IsZero() {
		return fmt.Errorf("null id: %w", ginternals.ErrInvalidTarget)
	}
	exists, err := r.dotGit.HasObject(oid)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("object %s does not exist: %w", oid, ginternals.ErrInvalidTarget)
	}
	return nil
}

func firstLine(msg string) string {
	msg = strings.TrimSpace(msg)
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return strings.TrimSpace(msg[:i])
	}
	return msg
}
