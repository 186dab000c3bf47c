package diff

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/vcskit/gitcore/ginternals/object"
)

// binaryCheckSize is the number of bytes looked at to decide if some
// content is binary. This is the value used by git
const binaryCheckSize = 8000

// contentLoader retrieves the content of a File
type contentLoader interface {
	load(f *File) ([]byte, error)
}

// odbLoader loads the content of the files from the object database
type odbLoader struct {
	odb ObjectReader
}

func (l *odbLoader) load(f *File) ([]byte, error) {
	o, err := l.odb.Object(f.ID)
	if err != nil {
		return nil, fmt.Errorf("could not load %s (%s): %w", f.Path, f.ID.String(), err)
	}
	return o.Bytes(), nil
}

// workdirLoader loads the content of the files from the working tree
type workdirLoader struct {
	wt WorkTree
}

func (l *workdirLoader) load(f *File) ([]byte, error) {
	p := filepath.Join(l.wt.Root, filepath.FromSlash(f.Path))
	if f.Mode == object.ModeSymLink {
		target, err := readlink(l.wt.FS, p)
		if err != nil {
			return nil, err
		}
		return []byte(target), nil
	}
	data, err := afero.ReadFile(l.wt.FS, p)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", f.Path, err)
	}
	return data, nil
}

// readlink returns the target of a symbolic link, if the filesystem
// supports it
func readlink(fs afero.Fs, p string) (string, error) {
	lr, ok := fs.(afero.LinkReader)
	if !ok {
		return "", fmt.Errorf("could not read link %s: %w", p, afero.ErrNoReadlink)
	}
	target, err := lr.ReadlinkIfPossible(p)
	if err != nil {
		return "", fmt.Errorf("could not read link %s: %w", p, err)
	}
	return filepath.ToSlash(target), nil
}

// content returns the content of the file. A file that doesn't exist
// has no content
func (f *File) content() ([]byte, error) {
	if !f.Exists() || f.loader == nil || f.Mode.IsDir() {
		return nil, nil
	}
	// Submodules are not in our odb, git displays them using the
	// commit they point to
	if f.Mode == object.ModeGitLink {
		return []byte("Subproject commit " + f.ID.String() + "\n"), nil
	}
	return f.loader.load(f)
}

// isBinary returns whether the data look binary, using the same
// heuristic as git: the presence of a NUL byte at the beginning of
// the content
func isBinary(data []byte) bool {
	if len(data) > binaryCheckSize {
		data = data[:binaryCheckSize]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// loadDelta returns the content of both sides of the delta, and sets
// the binary flags of the delta
func (d *Diff) loadDelta(delta *Delta) (oldData, newData []byte, err error) {
	oldData, err = delta.OldFile.content()
	if err != nil {
		return nil, nil, err
	}
	newData, err = delta.NewFile.content()
	if err != nil {
		return nil, nil, err
	}

	binary := false
	switch {
	case d.opts.has(ForceText):
	case d.opts.has(ForceBinary):
		binary = true
	case d.opts.has(SkipBinaryCheck):
	default:
		binary = isBinary(oldData) || isBinary(newData)
	}
	delta.Flags &^= FlagBinary | FlagNotBinary
	if binary {
		delta.Flags |= FlagBinary
	} else {
		delta.Flags |= FlagNotBinary
	}
	return oldData, newData, nil
}
