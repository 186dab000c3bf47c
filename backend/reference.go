package backend

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
	"github.com/vcskit/gitcore/internal/errutil"
	"github.com/vcskit/gitcore/internal/lockfile"
)

// packedRefsHeader is the first line of the packed-refs files we write
const packedRefsHeader = "# pack-refs with: peeled fully-peeled sorted \n"

// specialRefs contains the references living at the root of the
// .git directory
//
//nolint:gochecknoglobals // Treat this as a const
var specialRefs = []string{
	ginternals.Head,
	ginternals.OrigHead,
	ginternals.MergeHead,
	ginternals.CherryPickHead,
}

// packedRef represents a reference stored in the packed-refs file
type packedRef struct {
	id githash.Oid
	// peeled contains the id of the object targeted by an annotated tag.
	// nil if the reference doesn't target a tag
	peeled githash.Oid
}

// RefUpdate contains the data needed to create or update a reference
type RefUpdate struct {
	// Ref is the new value of the reference
	Ref *ginternals.Reference
	// CreateOnly makes the update fail with ErrRefExists if the
	// reference already exists
	CreateOnly bool
	// MustExist makes the update fail with ErrRefNotFound if the
	// reference doesn't exist
	MustExist bool
	// Committer is the identity recorded in the reflog.
	// No reflog entries are written if the committer is not set
	Committer object.Signature
	// Message is the message recorded in the reflog
	Message string
}

// loadRefs loads the references in memory
func (b *Backend) loadRefs() (err error) {
	b.refMu.Lock()
	defer b.refMu.Unlock()

	b.loose = map[string][]byte{}
	b.packed, err = b.readPackedRefs()
	if err != nil {
		return err
	}

	// Now we browse all the references on disk
	refsPath := ginternals.RefsPath(b.config)
	err = afero.Walk(b.fs, refsPath, func(path string, info fs.FileInfo, e error) error {
		if e != nil {
			// refsPath doesn't exist in a repo that is being created
			if path == refsPath && errors.Is(e, os.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("could not walk %s: %w", path, e)
		}
		if info.IsDir() || strings.HasSuffix(path, lockfile.Suffix) {
			return nil
		}
		data, e := afero.ReadFile(b.fs, path)
		if e != nil {
			return fmt.Errorf("could not read reference at %s: %w", path, e)
		}
		relpath, e := filepath.Rel(b.Path(), path)
		if e != nil {
			return e //nolint:wrapcheck // the error message is already pretty descriptive
		}
		// the name of the ref is its UNIX path
		b.loose[filepath.ToSlash(relpath)] = data
		return nil
	})
	if err != nil {
		return fmt.Errorf("could not browse the refs directory: %w: %w", err, ginternals.ErrStorage)
	}

	for _, name := range specialRefs {
		data, err := afero.ReadFile(b.fs, ginternals.RefPath(b.config, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("could not read reference at %s: %w: %w", name, err, ginternals.ErrStorage)
		}
		b.loose[name] = data
	}
	return nil
}

// readPackedRefs parses the packed-refs file
func (b *Backend) readPackedRefs() (refs map[string]packedRef, err error) {
	refs = map[string]packedRef{}
	packedRefPath := ginternals.PackedRefsPath(b.config)
	f, err := b.fs.Open(packedRefPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return refs, nil
		}
		return nil, fmt.Errorf("could not open %s: %w: %w", packedRefPath, err, ginternals.ErrStorage)
	}
	defer errutil.CloseWithLogger(f, &err, b.logger)

	last := ""
	sc := bufio.NewScanner(f)
	for i := 1; sc.Scan(); i++ {
		line := sc.Text()
		switch {
		case line == "", line[0] == '#':
			continue
		case line[0] == '^':
			// The line contains the object targeted by the annotated
			// tag of the previous line
			ref, ok := refs[last]
			if !ok {
				return nil, fmt.Errorf("line %d: peeled line without a reference: %w", i, ginternals.ErrPackedRefInvalid)
			}
			ref.peeled, err = b.hash.ConvertFromString(line[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid peeled id: %w", i, ginternals.ErrPackedRefInvalid)
			}
			refs[last] = ref
			continue
		}

		// We expect data to have the format:
		// "oid ref-name"
		parts := strings.Split(line, " ")
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: unexpected data: %w", i, ginternals.ErrPackedRefInvalid)
		}
		oid, err := b.hash.ConvertFromString(parts[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid id: %w", i, ginternals.ErrPackedRefInvalid)
		}
		last = parts[1]
		refs[last] = packedRef{id: oid}
	}
	if err = sc.Err(); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w: %w", packedRefPath, err, ginternals.ErrStorage)
	}
	return refs, nil
}

// writePackedRefsUnsafe replaces the content of the packed-refs file.
// The file is removed if refs is empty.
// refMu must be held
func (b *Backend) writePackedRefsUnsafe(refs map[string]packedRef) (err error) {
	p := ginternals.PackedRefsPath(b.config)
	lock, err := lockfile.New(b.fs, p)
	if err != nil {
		return fmt.Errorf("could not lock packed-refs: %w: %w", err, ginternals.ErrStorage)
	}
	defer lock.Rollback() //nolint:errcheck // no-op once committed

	if len(refs) == 0 {
		if err := b.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("could not remove packed-refs: %w: %w", err, ginternals.ErrStorage)
		}
		b.packed = refs
		return nil
	}

	names := treeset.NewWithStringComparator()
	for name := range refs {
		names.Add(name)
	}
	buf := new(bytes.Buffer)
	buf.WriteString(packedRefsHeader)
	for _, n := range names.Values() {
		name := n.(string)
		ref := refs[name]
		buf.WriteString(ref.id.String())
		buf.WriteByte(' ')
		buf.WriteString(name)
		buf.WriteByte('\n')
		if ref.peeled != nil {
			buf.WriteByte('^')
			buf.WriteString(ref.peeled.String())
			buf.WriteByte('\n')
		}
	}
	if _, err = lock.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("could not write packed-refs: %w: %w", err, ginternals.ErrStorage)
	}
	if err = lock.Commit(); err != nil {
		return fmt.Errorf("could not write packed-refs: %w: %w", err, ginternals.ErrStorage)
	}
	b.packed = refs
	return nil
}

// contentUnsafe returns the raw content of a reference, the way it's
// stored on disk.
// refMu must be held
func (b *Backend) contentUnsafe(name string) ([]byte, error) {
	if data, ok := b.loose[name]; ok {
		return data, nil
	}
	if ref, ok := b.packed[name]; ok {
		return []byte(ref.id.String() + "\n"), nil
	}
	return nil, fmt.Errorf(`ref "%s": %w`, name, ginternals.ErrRefNotFound)
}

func (b *Backend) hasRefUnsafe(name string) bool {
	if _, ok := b.loose[name]; ok {
		return true
	}
	_, ok := b.packed[name]
	return ok
}

// resolvedIDUnsafe returns the id targeted by a reference, or the
// null oid if the reference doesn't exist or cannot be resolved
func (b *Backend) resolvedIDUnsafe(name string) githash.Oid {
	ref, err := ginternals.ResolveReference(b.hash, name, b.contentUnsafe)
	if err != nil || ref.Target() == nil {
		return b.hash.NullOid()
	}
	return ref.Target()
}

// Reference returns a stored reference from its name, with its target
// resolved.
// ErrRefNotFound is returned if the reference doesn't exists
// This method can be called concurrently
func (b *Backend) Reference(name string) (*ginternals.Reference, error) {
	b.refMu.RLock()
	defer b.refMu.RUnlock()

	return ginternals.ResolveReference(b.hash, name, b.contentUnsafe)
}

// RawReference returns a stored reference from its name, without
// following symbolic references
// ErrRefNotFound is returned if the reference doesn't exists
// This method can be called concurrently
func (b *Backend) RawReference(name string) (*ginternals.Reference, error) {
	if !ginternals.IsRefNameValid(name) {
		return nil, fmt.Errorf(`ref "%s": %w`, name, ginternals.ErrRefNameInvalid)
	}

	b.refMu.RLock()
	defer b.refMu.RUnlock()

	data, err := b.contentUnsafe(name)
	if err != nil {
		return nil, err
	}
	return ginternals.ParseReference(b.hash, name, data)
}

// PeeledReference returns the object targeted by an annotated tag, as
// stored in the packed-refs file.
// nil is returned if the information is not available
func (b *Backend) PeeledReference(name string) githash.Oid {
	b.refMu.RLock()
	defer b.refMu.RUnlock()

	if _, isLoose := b.loose[name]; isLoose {
		return nil
	}
	return b.packed[name].peeled
}

// ReferenceNames returns the name of all the references under refs/,
// sorted lexicographically
// This method can be called concurrently
func (b *Backend) ReferenceNames() []string {
	b.refMu.RLock()
	defer b.refMu.RUnlock()

	names := treeset.NewWithStringComparator()
	for name := range b.loose {
		if strings.HasPrefix(name, "refs/") {
			names.Add(name)
		}
	}
	for name := range b.packed {
		names.Add(name)
	}

	out := make([]string, 0, names.Size())
	for _, n := range names.Values() {
		out = append(out, n.(string))
	}
	return out
}

// WalkReferences runs the provided method on all the references
// under refs/, sorted by name.
// f can return WalkStop to stop the walk
func (b *Backend) WalkReferences(f RefWalkFunc) error {
	for _, name := range b.ReferenceNames() {
		ref, err := b.Reference(name)
		if err != nil {
			return fmt.Errorf("could not resolve reference %s: %w", name, err)
		}
		if err = f(ref); err != nil {
			if err == WalkStop { //nolint:errorlint,goerr113 // it's a fake error so no need to use Error.Is()
				return nil
			}
			return err
		}
	}
	return nil
}

// conflictingRefUnsafe returns the name of a reference that prevents
// the creation of the given reference, because one is a directory
// of the other. ex. refs/heads/a and refs/heads/a/b
func (b *Backend) conflictingRefUnsafe(name string) string {
	check := func(existing string) bool {
		return strings.HasPrefix(existing, name+"/") || strings.HasPrefix(name, existing+"/")
	}
	for existing := range b.loose {
		if check(existing) {
			return existing
		}
	}
	for existing := range b.packed {
		if check(existing) {
			return existing
		}
	}
	return ""
}

// lockRef validates the name of the reference and acquires its lock
func (b *Backend) lockRef(name string) (*lockfile.Lock, error) {
	p := ginternals.RefPath(b.config, name)
	if err := b.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("could not create the directory of %s: %w: %w", name, err, ginternals.ErrStorage)
	}
	lock, err := lockfile.New(b.fs, p)
	if err != nil {
		return nil, fmt.Errorf("could not lock %s: %w: %w", name, err, ginternals.ErrStorage)
	}
	return lock, nil
}

// UpdateReference creates or updates a reference, and updates the
// reflog.
// The reference and its reflog are updated together: if the reference
// cannot be written, the reflog is restored.
// This method can be called concurrently
func (b *Backend) UpdateReference(u RefUpdate) (err error) {
	ref := u.Ref
	if !ginternals.IsRefNameValid(ref.Name()) {
		return fmt.Errorf(`ref "%s": %w`, ref.Name(), ginternals.ErrRefNameInvalid)
	}
	if ref.Type() == ginternals.SymbolicReference && !ginternals.IsRefNameValid(ref.SymbolicTarget()) {
		return fmt.Errorf(`ref "%s" targets "%s": %w`, ref.Name(), ref.SymbolicTarget(), ginternals.ErrRefNameInvalid)
	}
	content, err := ref.Content()
	if err != nil {
		return err
	}

	b.refMu.Lock()
	defer b.refMu.Unlock()

	existed := b.hasRefUnsafe(ref.Name())
	if u.CreateOnly && existed {
		return fmt.Errorf(`ref "%s": %w`, ref.Name(), ginternals.ErrRefExists)
	}
	if u.MustExist && !existed {
		return fmt.Errorf(`ref "%s": %w`, ref.Name(), ginternals.ErrRefNotFound)
	}
	if c := b.conflictingRefUnsafe(ref.Name()); c != "" {
		return fmt.Errorf(`ref "%s" conflicts with "%s": %w`, ref.Name(), c, ginternals.ErrRefExists)
	}

	lock, err := b.lockRef(ref.Name())
	if err != nil {
		return err
	}
	defer lock.Rollback() //nolint:errcheck // no-op once committed

	if _, err = lock.Write(content); err != nil {
		return fmt.Errorf("could not write %s: %w: %w", ref.Name(), err, ginternals.ErrStorage)
	}

	oldID := b.resolvedIDUnsafe(ref.Name())
	newID := ref.Target()
	if ref.Type() == ginternals.SymbolicReference {
		newID = b.resolvedIDUnsafe(ref.SymbolicTarget())
	}

	restore, err := b.logUpdateUnsafe(ref.Name(), oldID, newID, u.Committer, u.Message)
	if err != nil {
		return err
	}
	if err = lock.Commit(); err != nil {
		restore()
		return fmt.Errorf("could not persist %s: %w: %w", ref.Name(), err, ginternals.ErrStorage)
	}
	b.loose[ref.Name()] = content

	b.logger.WithFields(logrus.Fields{
		"ref": ref.Name(),
		"old": oldID.String(),
		"new": newID.String(),
	}).Debug("reference updated")
	return nil
}

// logUpdateUnsafe appends an entry to the reflog of the reference, and
// to the reflog of HEAD if HEAD targets the reference.
// The returned method reverts the changes
func (b *Backend) logUpdateUnsafe(name string, oldID, newID githash.Oid, committer object.Signature, msg string) (restore func(), err error) {
	restore = func() {}
	if committer.IsZero() || (oldID.IsZero() && newID.IsZero()) {
		return restore, nil
	}

	names := []string{name}
	if name != ginternals.Head {
		if head, ok := b.loose[ginternals.Head]; ok {
			headRef, err := ginternals.ParseReference(b.hash, ginternals.Head, head)
			if err == nil && headRef.Type() == ginternals.SymbolicReference && headRef.SymbolicTarget() == name {
				names = append(names, ginternals.Head)
			}
		}
	}

	restores := []func(){}
	restore = func() {
		for _, r := range restores {
			r()
		}
	}
	entry := ginternals.ReflogEntry{
		Old:       oldID,
		New:       newID,
		Committer: committer,
		Message:   msg,
	}
	for _, n := range names {
		if !b.shouldLog(n) {
			continue
		}
		r, err := b.appendReflog(n, entry)
		if err != nil {
			restore()
			return func() {}, err
		}
		restores = append(restores, r)
	}
	return restore, nil
}

// DeleteReference removes a reference and its reflog
// ErrRefNotFound is returned if the reference doesn't exists
// This method can be called concurrently
func (b *Backend) DeleteReference(name string) error {
	if !ginternals.IsRefNameValid(name) {
		return fmt.Errorf(`ref "%s": %w`, name, ginternals.ErrRefNameInvalid)
	}

	b.refMu.Lock()
	defer b.refMu.Unlock()

	if !b.hasRefUnsafe(name) {
		return fmt.Errorf(`ref "%s": %w`, name, ginternals.ErrRefNotFound)
	}

	lock, err := b.lockRef(name)
	if err != nil {
		return err
	}
	if err = b.deleteReferenceUnsafe(name); err != nil {
		lock.Rollback() //nolint:errcheck // we already have an error
		return err
	}
	if err = lock.Rollback(); err != nil {
		return fmt.Errorf("could not release the lock of %s: %w: %w", name, err, ginternals.ErrStorage)
	}
	b.pruneEmptyDirs(filepath.Dir(ginternals.RefPath(b.config, name)), ginternals.RefsPath(b.config))

	b.logger.WithField("ref", name).Debug("reference deleted")
	return nil
}

// deleteReferenceUnsafe removes the reference from the disk, from the
// packed-refs file, and removes its reflog.
// refMu and the lock of the reference must be held
func (b *Backend) deleteReferenceUnsafe(name string) error {
	if _, ok := b.packed[name]; ok {
		refs := make(map[string]packedRef, len(b.packed))
		for n, r := range b.packed {
			if n != name {
				refs[n] = r
			}
		}
		if err := b.writePackedRefsUnsafe(refs); err != nil {
			return err
		}
	}

	if _, ok := b.loose[name]; ok {
		err := b.fs.Remove(ginternals.RefPath(b.config, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("could not remove %s: %w: %w", name, err, ginternals.ErrStorage)
		}
		delete(b.loose, name)
	}

	return b.deleteReflog(name)
}

// RenameReference renames a reference and moves its reflog.
// - ErrRefNotFound is returned if the reference doesn't exist
// - ErrRefExists is returned if the new name is already used and
// force is not set
// This method can be called concurrently
func (b *Backend) RenameReference(oldName, newName string, force bool, committer object.Signature, msg string) (err error) {
	for _, n := range []string{oldName, newName} {
		if !ginternals.IsRefNameValid(n) {
			return fmt.Errorf(`ref "%s": %w`, n, ginternals.ErrRefNameInvalid)
		}
	}
	if oldName == newName {
		return nil
	}

	b.refMu.Lock()
	defer b.refMu.Unlock()

	content, err := b.contentUnsafe(oldName)
	if err != nil {
		return err
	}
	if b.hasRefUnsafe(newName) && !force {
		return fmt.Errorf(`ref "%s": %w`, newName, ginternals.ErrRefExists)
	}
	if c := b.conflictingRefUnsafe(newName); c != "" {
		return fmt.Errorf(`ref "%s" conflicts with "%s": %w`, newName, c, ginternals.ErrRefExists)
	}

	oldLock, err := b.lockRef(oldName)
	if err != nil {
		return err
	}
	defer oldLock.Rollback() //nolint:errcheck // always rolled back since the ref gets deleted
	newLock, err := b.lockRef(newName)
	if err != nil {
		return err
	}
	defer newLock.Rollback() //nolint:errcheck // no-op once committed

	if _, err = newLock.Write(content); err != nil {
		return fmt.Errorf("could not write %s: %w: %w", newName, err, ginternals.ErrStorage)
	}

	// The reflog follows the reference
	if err = b.deleteReflog(newName); err != nil {
		return err
	}
	moved, err := b.moveReflog(oldName, newName)
	if err != nil {
		return err
	}
	id := b.resolvedIDUnsafe(oldName)
	restore, err := b.logUpdateUnsafe(newName, id, id, committer, msg)
	if err != nil {
		return err
	}

	if err = newLock.Commit(); err != nil {
		restore()
		if moved {
			b.moveReflog(newName, oldName) //nolint:errcheck // best effort, we already have an error
		}
		return fmt.Errorf("could not persist %s: %w: %w", newName, err, ginternals.ErrStorage)
	}
	b.loose[newName] = content

	// the reflog has already been moved, so deleting the old
	// ref will not affect it
	if err = b.deleteReferenceUnsafe(oldName); err != nil {
		return fmt.Errorf("could not remove %s: %w", oldName, err)
	}

	// HEAD follows the branch it targets
	if head, ok := b.loose[ginternals.Head]; ok {
		headRef, err := ginternals.ParseReference(b.hash, ginternals.Head, head)
		if err == nil && headRef.Type() == ginternals.SymbolicReference && headRef.SymbolicTarget() == oldName {
			if err := b.writeRawUnsafe(ginternals.NewSymbolicReference(ginternals.Head, newName)); err != nil {
				return fmt.Errorf("could not update HEAD: %w", err)
			}
		}
	}
	oldLock.Rollback() //nolint:errcheck // the lock is released, the file doesn't matter anymore
	b.pruneEmptyDirs(filepath.Dir(ginternals.RefPath(b.config, oldName)), ginternals.RefsPath(b.config))

	b.logger.WithFields(logrus.Fields{
		"old": oldName,
		"new": newName,
	}).Debug("reference renamed")
	return nil
}

// writeRawUnsafe writes a reference without touching the reflog
// refMu must be held
func (b *Backend) writeRawUnsafe(ref *ginternals.Reference) error {
	content, err := ref.Content()
	if err != nil {
		return err
	}
	lock, err := b.lockRef(ref.Name())
	if err != nil {
		return err
	}
	defer lock.Rollback() //nolint:errcheck // no-op once committed
	if _, err = lock.Write(content); err != nil {
		return fmt.Errorf("could not write %s: %w: %w", ref.Name(), err, ginternals.ErrStorage)
	}
	if err = lock.Commit(); err != nil {
		return fmt.Errorf("could not persist %s: %w: %w", ref.Name(), err, ginternals.ErrStorage)
	}
	b.loose[ref.Name()] = content
	return nil
}

// PackReferences moves all the direct references under refs/ into the
// packed-refs file.
// Symbolic references are left untouched
// This method can be called concurrently
func (b *Backend) PackReferences() error {
	b.refMu.Lock()
	defer b.refMu.Unlock()

	refs := make(map[string]packedRef, len(b.packed)+len(b.loose))
	for name, ref := range b.packed {
		refs[name] = ref
	}
	toRemove := []string{}
	for name, data := range b.loose {
		if !strings.HasPrefix(name, "refs/") {
			continue
		}
		ref, err := ginternals.ParseReference(b.hash, name, data)
		if err != nil {
			return fmt.Errorf("could not parse %s: %w", name, err)
		}
		if ref.Type() != ginternals.OidReference {
			continue
		}
		refs[name] = packedRef{id: ref.Target()}
		toRemove = append(toRemove, name)
	}

	for name, ref := range refs {
		ref.peeled = b.peel(ref.id)
		refs[name] = ref
	}
	if err := b.writePackedRefsUnsafe(refs); err != nil {
		return err
	}

	// The data are safe in packed-refs, we can now remove the loose
	// references
	for _, name := range toRemove {
		p := ginternals.RefPath(b.config, name)
		if err := b.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("could not remove %s: %w: %w", name, err, ginternals.ErrStorage)
		}
		delete(b.loose, name)
		b.pruneEmptyDirs(filepath.Dir(p), ginternals.RefsPath(b.config))
	}

	b.logger.WithField("count", len(refs)).Debug("references packed")
	return nil
}

// peel returns the first non-tag object targeted by the given
// annotated tag, or nil if oid isn't an annotated tag
func (b *Backend) peel(oid githash.Oid) githash.Oid {
	var peeled githash.Oid
	current := oid
	// a tag can target another tag, we put a limit in case of a cycle
	for i := 0; i < ginternals.MaxSymbolicDepth; i++ {
		o, err := b.Object(current)
		if err != nil || o.Type() != object.TypeTag {
			return peeled
		}
		tag, err := o.AsTag()
		if err != nil {
			return peeled
		}
		current = tag.Target()
		peeled = current
	}
	return peeled
}

// pruneEmptyDirs removes dir and its parents as long as they are
// empty. stop and its direct children (refs/heads, refs/tags, ...)
// are never removed
func (b *Backend) pruneEmptyDirs(dir, stop string) {
	for filepath.Dir(dir) != stop && strings.HasPrefix(dir, stop+string(filepath.Separator)) {
		infos, err := afero.ReadDir(b.fs, dir)
		if err != nil || len(infos) > 0 {
			return
		}
		if err := b.fs.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
