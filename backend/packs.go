package backend

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
	"github.com/vcskit/gitcore/ginternals/packfile"
)

// packs returns the packfiles of the repository.
// The pack directory is scanned on the first call. After that it's
// only scanned again when rescan is set, to find the packfiles added
// by other processes
func (b *Backend) packs(rescan bool) ([]*packfile.Pack, error) {
	b.packMu.Lock()
	defer b.packMu.Unlock()

	if b.packsLoaded && !rescan {
		return b.packList, nil
	}

	dir := ginternals.ObjectsPacksPath(b.config)
	infos, err := afero.ReadDir(b.fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			b.packsLoaded = true
			return b.packList, nil
		}
		return nil, fmt.Errorf("could not read %s: %w: %w", dir, err, ginternals.ErrStorage)
	}
	if b.packByPath == nil {
		b.packByPath = map[string]*packfile.Pack{}
	}
	for _, fi := range infos {
		if fi.IsDir() || !packfile.IsPackfile(fi.Name()) {
			continue
		}
		p := filepath.Join(dir, fi.Name())
		if _, ok := b.packByPath[p]; ok {
			continue
		}
		pack, err := packfile.NewFromFile(b.fs, p, b.hash)
		if err != nil {
			// git skips the packs it cannot use
			b.logger.WithError(err).WithField("pack", p).Warn("ignoring invalid packfile")
			continue
		}
		b.packByPath[p] = pack
		b.packList = append(b.packList, pack)
		b.logger.WithField("pack", p).Debug("packfile loaded")
	}
	b.packsLoaded = true
	return b.packList, nil
}

// packedObject returns the object from the packfile that contains it
func (b *Backend) packedObject(oid githash.Oid) (*object.Object, error) {
	pack, err := b.findPack(oid)
	if err != nil {
		return nil, err
	}
	if pack == nil {
		return nil, fmt.Errorf("%s: %w", oid.String(), ginternals.ErrObjectNotFound)
	}
	o, err := pack.Object(oid)
	if err != nil {
		return nil, fmt.Errorf("could not read packed object %s: %w", oid.String(), err)
	}
	return o, nil
}

// findPack returns the packfile containing the object, or nil
func (b *Backend) findPack(oid githash.Oid) (*packfile.Pack, error) {
	for _, rescan := range []bool{false, true} {
		packs, err := b.packs(rescan)
		if err != nil {
			return nil, err
		}
		for _, pack := range packs {
			found, err := pack.HasObject(oid)
			if err != nil {
				return nil, fmt.Errorf("could not look for %s in a packfile: %w", oid.String(), err)
			}
			if found {
				return pack, nil
			}
		}
	}
	return nil, nil //nolint:nilnil // not finding the object is not an error
}

// packedPrefixMatches returns the ids of the packed objects starting
// by the given prefix
func (b *Backend) packedPrefixMatches(prefix string) ([]githash.Oid, error) {
	packs, err := b.packs(true)
	if err != nil {
		return nil, err
	}
	out := []githash.Oid{}
	for _, pack := range packs {
		matches, err := pack.MatchPrefix(prefix)
		if err != nil {
			return nil, fmt.Errorf("could not look for %s in a packfile: %w", prefix, err)
		}
		out = append(out, matches...)
	}
	return out, nil
}

// WalkPackedObjectIDs runs the provided method on all the oids of all
// the objects stored in packfiles.
// f can return WalkStop to stop the walk
func (b *Backend) WalkPackedObjectIDs(f OidWalkFunc) error {
	packs, err := b.packs(true)
	if err != nil {
		return err
	}
	for _, pack := range packs {
		ids, err := pack.ObjectIDs()
		if err != nil {
			return fmt.Errorf("could not list the objects of a packfile: %w", err)
		}
		for _, oid := range ids {
			if err := f(oid); err != nil {
				if err == WalkStop { //nolint:errorlint,goerr113 // it's a fake error so no need to use Error.Is()
					return nil
				}
				return err
			}
		}
	}
	return nil
}

// closePacks closes all the packfiles that have been opened
func (b *Backend) closePacks() error {
	b.packMu.Lock()
	defer b.packMu.Unlock()

	var result *multierror.Error
	for _, pack := range b.packList {
		if err := pack.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	b.packList = nil
	b.packByPath = nil
	b.packsLoaded = false
	return result.ErrorOrNil()
}
