package backend

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/internal/errutil"
)

// Reflog returns the reflog of the given reference.
// ErrReflogNotFound is returned if the reference has no reflog
// This method can be called concurrently
func (b *Backend) Reflog(name string) (log *ginternals.Reflog, err error) {
	if !ginternals.IsRefNameValid(name) {
		return nil, fmt.Errorf(`ref "%s": %w`, name, ginternals.ErrRefNameInvalid)
	}

	b.refMu.RLock()
	defer b.refMu.RUnlock()

	p := ginternals.ReflogPath(b.config, name)
	f, err := b.fs.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf(`ref "%s": %w`, name, ginternals.ErrReflogNotFound)
		}
		return nil, fmt.Errorf("could not open %s: %w: %w", p, err, ginternals.ErrStorage)
	}
	defer errutil.CloseWithLogger(f, &err, b.logger)

	return ginternals.ParseReflog(b.hash, name, f)
}

const namespacesPrefix = "refs/namespaces/"

// HasReflog returns whether the reference has a reflog
func (b *Backend) HasReflog(name string) bool {
	_, err := b.fs.Stat(ginternals.ReflogPath(b.config, name))
	return err == nil
}

// shouldLog returns whether the updates of the given reference should
// be recorded in a reflog.
// A reference that already has a reflog is always logged, the others
// depend on core.logAllRefUpdates
func (b *Backend) shouldLog(name string) bool {
	if b.HasReflog(name) {
		return true
	}

	enabled, ok := b.config.FromFiles().LogAllRefUpdates()
	if !ok {
		// git logs by default in repositories that have a working tree
		isBare, _ := b.config.FromFiles().IsBare()
		enabled = !isBare
	}
	if !enabled {
		return false
	}

	// namespaced references follow the rules of the reference they
	// mirror
	for strings.HasPrefix(name, namespacesPrefix) {
		rest := strings.TrimPrefix(name, namespacesPrefix)
		i := strings.IndexByte(rest, '/')
		if i < 0 {
			break
		}
		name = rest[i+1:]
	}
	if name == ginternals.Head {
		return true
	}
	for _, prefix := range []string{"refs/heads/", "refs/remotes/", "refs/notes/"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// appendReflog adds an entry at the end of the reflog of the given
// reference. The returned method restores the reflog to its previous
// state
func (b *Backend) appendReflog(name string, entry ginternals.ReflogEntry) (restore func(), err error) {
	p := ginternals.ReflogPath(b.config, name)
	if err = b.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("could not create the reflog directory of %s: %w: %w", name, err, ginternals.ErrStorage)
	}

	var size int64 = -1
	if info, e := b.fs.Stat(p); e == nil {
		size = info.Size()
	}

	f, err := b.fs.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("could not open the reflog of %s: %w: %w", name, err, ginternals.ErrStorage)
	}
	defer errutil.CloseWithLogger(f, &err, b.logger)

	if _, err = f.Write(entry.Bytes()); err != nil {
		return nil, fmt.Errorf("could not write the reflog of %s: %w: %w", name, err, ginternals.ErrStorage)
	}

	return func() {
		if e := b.truncate(p, size); e != nil {
			b.logger.WithError(e).WithField("ref", name).Warn("could not restore the reflog")
		}
	}, nil
}

// deleteReflog removes the reflog of a reference, if any
func (b *Backend) deleteReflog(name string) error {
	p := ginternals.ReflogPath(b.config, name)
	if err := b.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not remove the reflog of %s: %w: %w", name, err, ginternals.ErrStorage)
	}
	b.pruneEmptyDirs(filepath.Dir(p), ginternals.LogsPath(b.config))
	return nil
}

// moveReflog moves the reflog of a reference to another name.
// Returns false if there was no reflog to move
func (b *Backend) moveReflog(oldName, newName string) (bool, error) {
	oldPath := ginternals.ReflogPath(b.config, oldName)
	if _, err := b.fs.Stat(oldPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("could not stat the reflog of %s: %w: %w", oldName, err, ginternals.ErrStorage)
	}
	newPath := ginternals.ReflogPath(b.config, newName)
	if err := b.fs.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return false, fmt.Errorf("could not create the reflog directory of %s: %w: %w", newName, err, ginternals.ErrStorage)
	}
	if err := b.fs.Rename(oldPath, newPath); err != nil {
		return false, fmt.Errorf("could not move the reflog of %s: %w: %w", oldName, err, ginternals.ErrStorage)
	}
	b.pruneEmptyDirs(filepath.Dir(oldPath), ginternals.LogsPath(b.config))
	return true, nil
}

// truncate truncates the file at the given size. The file is removed
// if size is negative
func (b *Backend) truncate(p string, size int64) (err error) {
	if size < 0 {
		return b.fs.Remove(p)
	}
	f, err := b.fs.OpenFile(p, os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer errutil.CloseWithLogger(f, &err, b.logger)
	return f.Truncate(size)
}
