package git

import (
	"errors"
	"fmt"

	"github.com/vcskit/gitcore/backend"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
)

// ErrUnbornBranch is returned when HEAD targets a branch that
// doesn't exist yet (no commits were made on it)
var ErrUnbornBranch = fmt.Errorf("HEAD targets an unborn branch: %w", ginternals.ErrRefNotFound)

// ReferenceOptions contains the optional data used to create, update,
// or rename a reference
type ReferenceOptions struct {
	// Force overwrites the reference if it already exists
	Force bool
	// LogMessage is the message written in the reflog
	LogMessage string
	// Committer is the identity written in the reflog.
	// Defaults to DefaultSignature(). Nothing is written in the
	// reflog if no identity is available
	Committer object.Signature
}

type refUpdate struct {
	createOnly bool
	mustExist  bool
	committer  object.Signature
	message    string
}

// refName returns the name of the reference as stored on disk
func (r *Repository) refName(name string) string {
	return ginternals.NamespacedName(r.Namespace(), name)
}

// publicRef returns the reference as seen from the namespace of the
// repository
func (r *Repository) publicRef(ref *ginternals.Reference) *ginternals.Reference {
	return ginternals.StripReferenceNamespace(r.Namespace(), ref)
}

func (r *Repository) updateReference(ref *ginternals.Reference, u refUpdate) error {
	committer := u.committer
	if committer.IsZero() {
		// no identity means no reflog entry
		committer, _ = r.DefaultSignature()
	}
	return r.dotGit.UpdateReference(backend.RefUpdate{
		Ref:        ref,
		CreateOnly: u.createOnly,
		MustExist:  u.mustExist,
		Committer:  committer,
		Message:    u.message,
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, ginternals.ErrNotFound)
}

// Reference returns the reference matching the given name, with its
// target resolved.
// ErrRefNotFound is returned if the reference, or the reference it
// targets, doesn't exist
func (r *Repository) Reference(name string) (*ginternals.Reference, error) {
	ref, err := r.dotGit.Reference(r.refName(name))
	if err != nil {
		return nil, err
	}
	return r.publicRef(ref), nil
}

// References returns the names of all the references under refs/,
// sorted lexicographically.
// When a namespace is set, only the references of the namespace are
// returned
func (r *Repository) References() []string {
	ns := r.Namespace()
	all := r.dotGit.ReferenceNames()
	if ns == "" {
		return all
	}
	names := make([]string, 0, len(all))
	for _, name := range all {
		if stripped, ok := ginternals.StripNamespace(ns, name); ok {
			names = append(names, stripped)
		}
	}
	return names
}

// CreateReference creates a new reference targeting the given object.
// - ErrRefNameInvalid is returned if the name is not valid
// - ErrRefExists is returned if the reference exists and opts.Force
// is not set
// - ErrInvalidTarget is returned if the object doesn't exist
func (r *Repository) CreateReference(name string, target githash.Oid, opts ReferenceOptions) (*ginternals.Reference, error) {
	if !ginternals.IsRefNameValid(name) {
		return nil, fmt.Errorf(`ref "%s": %w`, name, ginternals.ErrRefNameInvalid)
	}
	if err := r.requireObject(target); err != nil {
		return nil, fmt.Errorf(`ref "%s": %w`, name, err)
	}
	ref := ginternals.NewReference(r.refName(name), target)
	err := r.updateReference(ref, refUpdate{
		createOnly: !opts.Force,
		committer:  opts.Committer,
		message:    opts.LogMessage,
	})
	if err != nil {
		return nil, err
	}
	return r.publicRef(ref), nil
}

// CreateReferenceFromHex creates a new reference targeting the object
// matching the given hex id, which can be abbreviated
func (r *Repository) CreateReferenceFromHex(name, hex string, opts ReferenceOptions) (*ginternals.Reference, error) {
	if !ginternals.IsRefNameValid(name) {
		return nil, fmt.Errorf(`ref "%s": %w`, name, ginternals.ErrRefNameInvalid)
	}
	oid, err := r.dotGit.ResolvePrefix(hex)
	if err != nil {
		return nil, fmt.Errorf(`ref "%s": %w`, name, err)
	}
	return r.CreateReference(name, oid, opts)
}

// CreateSymbolicReference creates a new reference targeting another
// reference. The target doesn't need to exist
func (r *Repository) CreateSymbolicReference(name, target string, opts ReferenceOptions) (*ginternals.Reference, error) {
	for _, n := range []string{name, target} {
		if !ginternals.IsRefNameValid(n) {
			return nil, fmt.Errorf(`ref "%s": %w`, n, ginternals.ErrRefNameInvalid)
		}
	}
	ref := ginternals.NewSymbolicReference(r.refName(name), r.refName(target))
	err := r.updateReference(ref, refUpdate{
		createOnly: !opts.Force,
		committer:  opts.Committer,
		message:    opts.LogMessage,
	})
	if err != nil {
		return nil, err
	}
	return r.Reference(name)
}

// SetReferenceTarget makes an existing reference target the given
// object. A symbolic reference becomes a direct reference.
// ErrRefNotFound is returned if the reference doesn't exist
func (r *Repository) SetReferenceTarget(name string, target githash.Oid, logMessage string) (*ginternals.Reference, error) {
	if !ginternals.IsRefNameValid(name) {
		return nil, fmt.Errorf(`ref "%s": %w`, name, ginternals.ErrRefNameInvalid)
	}
	if err := r.requireObject(target); err != nil {
		return nil, fmt.Errorf(`ref "%s": %w`, name, err)
	}
	ref := ginternals.NewReference(r.refName(name), target)
	err := r.updateReference(ref, refUpdate{
		mustExist: true,
		message:   logMessage,
	})
	if err != nil {
		return nil, err
	}
	return r.publicRef(ref), nil
}

// SetSymbolicReferenceTarget makes an existing reference target
// another reference.
// ErrRefNotFound is returned if the reference doesn't exist
func (r *Repository) SetSymbolicReferenceTarget(name, target, logMessage string) (*ginternals.Reference, error) {
	for _, n := range []string{name, target} {
		if !ginternals.IsRefNameValid(n) {
			return nil, fmt.Errorf(`ref "%s": %w`, n, ginternals.ErrRefNameInvalid)
		}
	}
	ref := ginternals.NewSymbolicReference(r.refName(name), r.refName(target))
	err := r.updateReference(ref, refUpdate{
		mustExist: true,
		message:   logMessage,
	})
	if err != nil {
		return nil, err
	}
	return r.Reference(name)
}

// RenameReference renames a reference. Its reflog is moved with it.
// - ErrRefNotFound is returned if the reference doesn't exist
// - ErrRefExists is returned if newName exists and opts.Force is
// not set
func (r *Repository) RenameReference(oldName, newName string, opts ReferenceOptions) (*ginternals.Reference, error) {
	committer := opts.Committer
	if committer.IsZero() {
		committer, _ = r.DefaultSignature()
	}
	msg := opts.LogMessage
	if msg == "" {
		msg = fmt.Sprintf("renamed %s to %s", oldName, newName)
	}
	err := r.dotGit.RenameReference(r.refName(oldName), r.refName(newName), opts.Force, committer, msg)
	if err != nil {
		return nil, err
	}
	ref, err := r.dotGit.RawReference(r.refName(newName))
	if err != nil {
		return nil, fmt.Errorf("could not read the renamed reference: %w", err)
	}
	if ref.Type() == ginternals.SymbolicReference {
		return r.Reference(newName)
	}
	return r.publicRef(ref), nil
}

// DeleteReference removes a reference and its reflog.
// ErrRefNotFound is returned if the reference doesn't exist
func (r *Repository) DeleteReference(name string) error {
	return r.dotGit.DeleteReference(r.refName(name))
}

// PackReferences moves all the direct references under refs/ into the
// packed-refs file
func (r *Repository) PackReferences() error {
	return r.dotGit.PackReferences()
}

// Reflog returns the history of the given reference.
// ginternals.ErrReflogNotFound is returned if the reference has no
// reflog
func (r *Repository) Reflog(name string) (*ginternals.Reflog, error) {
	return r.dotGit.Reflog(r.refName(name))
}

// Head returns the reference HEAD resolves to.
// ErrUnbornBranch is returned if HEAD targets a branch that has no
// commits yet
func (r *Repository) Head() (*ginternals.Reference, error) {
	raw, err := r.dotGit.RawReference(ginternals.Head)
	if err != nil {
		return nil, fmt.Errorf("could not read HEAD: %w", err)
	}
	ref, err := r.dotGit.Reference(ginternals.Head)
	if err != nil {
		if raw.Type() == ginternals.SymbolicReference && errors.Is(err, ginternals.ErrRefNotFound) {
			return nil, fmt.Errorf("%s: %w", raw.SymbolicTarget(), ErrUnbornBranch)
		}
		return nil, err
	}
	return r.publicRef(ref), nil
}

// IsHeadDetached returns whether HEAD targets a commit directly
// instead of a branch
func (r *Repository) IsHeadDetached() (bool, error) {
	raw, err := r.dotGit.RawReference(ginternals.Head)
	if err != nil {
		return false, fmt.Errorf("could not read HEAD: %w", err)
	}
	return raw.Type() == ginternals.OidReference, nil
}

// IsHeadUnborn returns whether HEAD targets a branch that has no
// commits yet
func (r *Repository) IsHeadUnborn() (bool, error) {
	_, err := r.Head()
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, ErrUnbornBranch):
		return true, nil
	default:
		return false, err
	}
}

// SetHead makes HEAD target the given reference, usually a branch.
// The reference doesn't need to exist
func (r *Repository) SetHead(refname string) error {
	if !ginternals.IsRefNameValid(refname) {
		return fmt.Errorf(`ref "%s": %w`, refname, ginternals.ErrRefNameInvalid)
	}
	from := "HEAD"
	if raw, err := r.dotGit.RawReference(ginternals.Head); err == nil && raw.Type() == ginternals.SymbolicReference {
		from = ginternals.LocalBranchShortName(raw.SymbolicTarget())
	}
	msg := fmt.Sprintf("checkout: moving from %s to %s", from, ginternals.LocalBranchShortName(refname))
	ref := ginternals.NewSymbolicReference(ginternals.Head, r.refName(refname))
	return r.updateReference(ref, refUpdate{message: msg})
}

// SetHeadDetached makes HEAD target the given commit directly
func (r *Repository) SetHeadDetached(oid githash.Oid) error {
	if err := r.requireObject(oid); err != nil {
		return fmt.Errorf("could not detach HEAD: %w", err)
	}
	msg := "checkout: moving to " + oid.String()
	return r.updateReference(ginternals.NewReference(ginternals.Head, oid), refUpdate{message: msg})
}
