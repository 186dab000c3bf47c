package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
	"github.com/vcskit/gitcore/internal/errutil"
)

// Object returns the object that has given oid.
// ErrObjectNotFound is returned if the object doesn't exist, and
// ErrCorruptObject if its data cannot be parsed.
// This method can be called concurrently
func (b *Backend) Object(oid githash.Oid) (*object.Object, error) {
	key := cacheKey{owner: b, oid: oid}
	if cached, found := b.cache.Get(key); found {
		if o, valid := cached.(*object.Object); valid {
			return o, nil
		}
	}

	runlock := b.objectMu.RLock(oid.Bytes())
	defer runlock()

	o, err := b.looseObject(oid)
	if errors.Is(err, ginternals.ErrObjectNotFound) {
		o, err = b.packedObject(oid)
	}
	if err != nil {
		return nil, err
	}
	b.cache.Add(key, o)
	return o, nil
}

// looseObject returns the object matching the given OID
// The format of an object is an ascii encoded type, an ascii encoded
// space, then an ascii encoded length of the object, then a null
// character, then the body of the object, all zlib compressed
func (b *Backend) looseObject(oid githash.Oid) (o *object.Object, err error) {
	strOid := oid.String()
	p := ginternals.LooseObjectPath(b.config, strOid)
	f, err := b.fs.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", strOid, ginternals.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("could not open object %s at path %s: %w: %w", strOid, p, err, ginternals.ErrStorage)
	}
	defer errutil.CloseWithLogger(f, &err, b.logger)

	o, err = object.NewFromLoose(b.hash, f)
	if err != nil {
		return nil, fmt.Errorf("object %s at path %s: %w: %w", strOid, p, err, ginternals.ErrCorruptObject)
	}
	if err = o.Validate(); err != nil {
		return nil, fmt.Errorf("object %s at path %s: %w: %w", strOid, p, err, ginternals.ErrCorruptObject)
	}
	return o, nil
}

// HasObject returns whether an object exists in the odb
// This method can be called concurrently
func (b *Backend) HasObject(oid githash.Oid) (bool, error) {
	if _, found := b.cache.Get(cacheKey{owner: b, oid: oid}); found {
		return true, nil
	}

	runlock := b.objectMu.RLock(oid.Bytes())
	defer runlock()
	return b.hasObjectUnsafe(oid)
}

func (b *Backend) hasObjectUnsafe(oid githash.Oid) (bool, error) {
	_, err := b.fs.Stat(ginternals.LooseObjectPath(b.config, oid.String()))
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("could not check object %s: %w: %w", oid.String(), err, ginternals.ErrStorage)
	}
	pack, err := b.findPack(oid)
	if err != nil {
		return false, err
	}
	return pack != nil, nil
}

// WriteObject adds an object to the odb.
// Writing an object that already exists is a no-op
// This method can be called concurrently
func (b *Backend) WriteObject(o *object.Object) (githash.Oid, error) {
	if o.Hash().Name() != b.hash.Name() {
		return b.hash.NullOid(), fmt.Errorf("object uses %s, repository uses %s: %w", o.Hash().Name(), b.hash.Name(), ginternals.ErrInvalidTarget)
	}
	oid := o.ID()
	unlock := b.objectMu.Lock(oid.Bytes())
	defer unlock()

	// Make sure the object doesn't already exist
	found, err := b.hasObjectUnsafe(oid)
	if err != nil {
		return b.hash.NullOid(), err
	}
	if found {
		return oid, nil
	}

	data, err := o.Compress()
	if err != nil {
		return b.hash.NullOid(), fmt.Errorf("could not compress object: %w", err)
	}

	sha := oid.String()
	p := ginternals.LooseObjectPath(b.config, sha)
	dest := filepath.Dir(p)
	if err = b.fs.MkdirAll(dest, 0o755); err != nil {
		return b.hash.NullOid(), fmt.Errorf("could not create the destination directory %s: %w: %w", dest, err, ginternals.ErrStorage)
	}

	// The object is first written in a temporary file that is then
	// moved, so readers never see a partial object
	if err = b.writeFileAtomic(p, data, 0o444); err != nil {
		return b.hash.NullOid(), fmt.Errorf("could not persist object %s: %w", sha, err)
	}

	b.cache.Add(cacheKey{owner: b, oid: oid}, o)
	return oid, nil
}

// writeFileAtomic writes the data in a temporary file located in the
// same directory as p, then moves it to p
func (b *Backend) writeFileAtomic(p string, data []byte, perm os.FileMode) (err error) {
	tmp, err := afero.TempFile(b.fs, filepath.Dir(p), "tmp_")
	if err != nil {
		return fmt.Errorf("could not create temporary file: %w: %w", err, ginternals.ErrStorage)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			b.fs.Remove(tmpPath) //nolint:errcheck // best effort, we already have an error
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // we already have an error to return
		return fmt.Errorf("could not write %s: %w: %w", tmpPath, err, ginternals.ErrStorage)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("could not close %s: %w: %w", tmpPath, err, ginternals.ErrStorage)
	}
	if err = b.fs.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("could not chmod %s: %w: %w", tmpPath, err, ginternals.ErrStorage)
	}
	if err = b.fs.Rename(tmpPath, p); err != nil {
		return fmt.Errorf("could not move %s to %s: %w: %w", tmpPath, p, err, ginternals.ErrStorage)
	}
	return nil
}

// ResolvePrefix returns the id of the only object starting by the
// given hexadecimal prefix.
// - ErrInvalidTarget is returned if the prefix is not valid hex, or
// too short, or too long
// - ErrObjectAmbiguous is returned if more than one object matches
// - ErrObjectNotFound is returned if nothing matches
func (b *Backend) ResolvePrefix(prefix string) (githash.Oid, error) {
	prefix, err := githash.ValidatePrefix(b.hash, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", err, ginternals.ErrInvalidTarget)
	}

	if len(prefix) == b.hash.OidSize()*2 {
		oid, err := b.hash.ConvertFromString(prefix)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", err, ginternals.ErrInvalidTarget)
		}
		found, err := b.HasObject(oid)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%s: %w", prefix, ginternals.ErrObjectNotFound)
		}
		return oid, nil
	}

	// The loose objects are stored in a directory named after the
	// first 2 chars of their id, so we only need to look in one
	// directory
	matches := map[string]githash.Oid{}
	dir := filepath.Join(ginternals.ObjectsPath(b.config), prefix[:2])
	infos, err := afero.ReadDir(b.fs, dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("could not read %s: %w: %w", dir, err, ginternals.ErrStorage)
	}
	for _, info := range infos {
		if info.IsDir() || !strings.HasPrefix(info.Name(), prefix[2:]) {
			continue
		}
		oid, err := b.hash.ConvertFromString(prefix[:2] + info.Name())
		if err != nil {
			// not an object (temporary file or garbage)
			continue
		}
		matches[oid.String()] = oid
	}

	// An object can be both loose and packed
	packed, err := b.packedPrefixMatches(prefix)
	if err != nil {
		return nil, err
	}
	for _, oid := range packed {
		matches[oid.String()] = oid
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%s: %w", prefix, ginternals.ErrObjectNotFound)
	case 1:
		for _, oid := range matches {
			return oid, nil
		}
	}
	ids := make([]string, 0, len(matches))
	for id := range matches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return nil, fmt.Errorf("%s matches %s: %w", prefix, strings.Join(ids, ", "), ginternals.ErrObjectAmbiguous)
}

// WalkLooseObjectIDs runs the provided method on all the oids of all
// the loose objects.
// f can return WalkStop to stop the walk
func (b *Backend) WalkLooseObjectIDs(f OidWalkFunc) error {
	objectsPath := ginternals.ObjectsPath(b.config)
	err := afero.Walk(b.fs, objectsPath, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			// this will happen if the repo is empty and the ./objects
			// folder doesn't exists
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if path == objectsPath {
			return nil
		}

		// We're interested in all the directory that are named "00"
		// up to "ff"
		if info.IsDir() {
			if !isLooseObjectDir(info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		sha := filepath.Base(filepath.Dir(path)) + info.Name()
		oid, err := b.hash.ConvertFromString(sha)
		if err != nil {
			// not an object (temporary file or garbage)
			return nil //nolint:nilerr // we skip invalid files
		}
		return f(oid)
	})
	if err == WalkStop { //nolint:errorlint,goerr113 // it's a fake error so no need to use Error.Is()
		return nil
	}
	return err
}

// isLooseObjectDir checks if a directory name is anything between 00 and ff
func isLooseObjectDir(name string) bool {
	if len(name) != 2 {
		return false
	}
	_, err := strconv.ParseUint(name, 16, 8)
	return err == nil
}
