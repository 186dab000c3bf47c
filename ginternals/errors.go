package ginternals

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the library wraps at most one
// of them, which allows callers to use errors.Is() without knowing the
// specific error
var (
	// ErrNotFound is returned when an object, a reference, or an index
	// entry doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating something that
	// already exists
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidName is returned when a name doesn't follow git's rules
	ErrInvalidName = errors.New("invalid name")
	// ErrInvalidTarget is returned when a reference targets something
	// that cannot be resolved
	ErrInvalidTarget = errors.New("invalid target")
	// ErrAmbiguous is returned when a short id matches more than one
	// object
	ErrAmbiguous = errors.New("ambiguous")
	// ErrCorruptObject is returned when stored data cannot be parsed
	ErrCorruptObject = errors.New("corrupt data")
	// ErrStorage is returned when the underlying storage fails
	ErrStorage = errors.New("storage failure")
	// ErrBareRepository is returned when an operation needs a working
	// tree but the repository is bare
	ErrBareRepository = errors.New("operation not supported on a bare repository")
)

var (
	// ErrObjectNotFound is an error corresponding to a git object not
	// being found
	ErrObjectNotFound = fmt.Errorf("object %w", ErrNotFound)

	// ErrObjectAmbiguous is returned when a short id matches multiple
	// objects
	ErrObjectAmbiguous = fmt.Errorf("short object id is %w", ErrAmbiguous)
)
