// Package lockfile implements git's "<file>.lock" protocol: a lock is
// taken by exclusively creating "<file>.lock", the new content is
// written in it, and the lock is then renamed over the original file.
package lockfile

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// Suffix is appended to the path of the file being locked
const Suffix = ".lock"

// ErrLocked is returned when the lock is already held
var ErrLocked = errors.New("file is locked")

// ErrDone is returned when using a lock that has already been committed
// or rolled back
var ErrDone = errors.New("lock already released")

// Lock represents a held lock on a file
type Lock struct {
	fs       afero.Fs
	path     string
	lockPath string
	f        afero.File
	done     bool
}

// New acquires a lock on the given path
func New(fs afero.Fs, path string) (*Lock, error) {
	lockPath := path + Suffix
	f, err := fs.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%s: %w", lockPath, ErrLocked)
		}
		return nil, fmt.Errorf("could not create %s: %w", lockPath, err)
	}
	return &Lock{
		fs:       fs,
		path:     path,
		lockPath: lockPath,
		f:        f,
	}, nil
}

// Path returns the path of the locked file
func (l *Lock) Path() string {
	return l.path
}

// Write writes the data in the lock file. The data will be moved
// to the locked file on Commit()
func (l *Lock) Write(p []byte) (int, error) {
	if l.done {
		return 0, ErrDone
	}
	return l.f.Write(p)
}

// Commit replaces the locked file by the content written in the lock
// and releases the lock
func (l *Lock) Commit() error {
	if l.done {
		return ErrDone
	}
	l.done = true
	if err := l.f.Close(); err != nil {
		l.fs.Remove(l.lockPath) //nolint:errcheck // we already are returning an error
		return fmt.Errorf("could not close %s: %w", l.lockPath, err)
	}
	if err := l.fs.Rename(l.lockPath, l.path); err != nil {
		l.fs.Remove(l.lockPath) //nolint:errcheck // we already are returning an error
		return fmt.Errorf("could not move %s: %w", l.lockPath, err)
	}
	return nil
}

// Rollback releases the lock without touching the locked file.
// Calling Rollback on a released lock is a no-op, which makes it
// safe to defer
func (l *Lock) Rollback() error {
	if l.done {
		return nil
	}
	l.done = true
	closeErr := l.f.Close()
	if err := l.fs.Remove(l.lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not remove %s: %w", l.lockPath, err)
	}
	if closeErr != nil {
		return fmt.Errorf("could not close %s: %w", l.lockPath, closeErr)
	}
	return nil
}
