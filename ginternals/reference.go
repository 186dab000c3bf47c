package ginternals

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/vcskit/gitcore/ginternals/githash"
)

// Common ref names
const (
	// Head is a reference to the current branch, or to a commit if
	// we're detached
	Head = "HEAD"
	// OrigHead is a backup reference of HEAD set during destructive commands
	// such as rebase, merge, etc. and can be used to revert an operation
	OrigHead = "ORIG_HEAD"
	// MergeHead is a reference to the commit that is being merged
	// into the current branch
	MergeHead = "MERGE_HEAD"
	// CherryPickHead is a reference to the commit that is being
	// cherry-picked
	CherryPickHead = "CHERRY_PICK_HEAD"
	// Master correspond to the default branch name if none was
	// specified
	Master = "master"
)

// MaxSymbolicDepth is the maximum number of symbolic references that
// can be followed when resolving a reference
const MaxSymbolicDepth = 5

var (
	// ErrRefNotFound is an error thrown when trying to act on a
	// reference that doesn't exists
	ErrRefNotFound = fmt.Errorf("reference %w", ErrNotFound)

	// ErrRefExists is an error thrown when trying to act on a
	// reference that should not exist, but does
	ErrRefExists = fmt.Errorf("reference %w", ErrAlreadyExists)

	// ErrRefNameInvalid is an error thrown when the name of a reference
	// is not valid
	ErrRefNameInvalid = fmt.Errorf("reference: %w", ErrInvalidName)

	// ErrRefInvalid is an error thrown when the content of a reference
	// cannot be parsed
	ErrRefInvalid = fmt.Errorf("reference: %w", ErrCorruptObject)

	// ErrPackedRefInvalid is an error thrown when the packed-refs
	// file cannot be parsed properly
	ErrPackedRefInvalid = fmt.Errorf("packed-refs: %w", ErrCorruptObject)

	// ErrRefChainTooDeep is an error thrown when a chain of symbolic
	// references is too long, or loops
	ErrRefChainTooDeep = fmt.Errorf("symbolic reference chain is too deep or circular: %w", ErrInvalidTarget)

	// ErrUnknownRefType is an error thrown when the type of a reference
	// is unknown
	ErrUnknownRefType = errors.New("unknown reference type")
)

// ReferenceType represents the type of a reference
type ReferenceType int8

const (
	// OidReference represents a reference that targets an Oid
	OidReference ReferenceType = 1
	// SymbolicReference represents a reference that targets another
	// reference
	SymbolicReference ReferenceType = 2
)

// Reference represents a git reference
// https://git-scm.com/book/en/v2/Git-Internals-Git-References
type Reference struct {
	name   string
	target string
	id     githash.Oid
	typ    ReferenceType
}

// RefContent represents a method that returns the content of reference
// This is used so we can do the process here, without depending
// on a specific backend or having circular dependencies
type RefContent func(name string) ([]byte, error)

// symbolicPrefix is the prefix of the content of a symbolic reference
const symbolicPrefix = "ref: "

// ParseReference returns the reference stored with the given raw
// content, without following symbolic references
func ParseReference(hash githash.Hash, name string, data []byte) (*Reference, error) {
	data = bytes.TrimSpace(data)
	if bytes.HasPrefix(data, []byte(symbolicPrefix)) {
		target := string(bytes.TrimSpace(data[len(symbolicPrefix):]))
		if !IsRefNameValid(target) {
			return nil, fmt.Errorf(`ref "%s" targets "%s": %w`, name, target, ErrRefInvalid)
		}
		return NewSymbolicReference(name, target), nil
	}

	oid, err := hash.ConvertFromChars(data)
	if err != nil {
		return nil, fmt.Errorf(`ref "%s": %w`, name, ErrRefInvalid)
	}
	return NewReference(name, oid), nil
}

// ResolveReference returns the reference with the given name, with
// its symbolic target (if any) resolved to an Oid.
// The chain of symbolic references is followed iteratively, up to
// MaxSymbolicDepth links.
func ResolveReference(hash githash.Hash, name string, finder RefContent) (*Reference, error) {
	if !IsRefNameValid(name) {
		return nil, fmt.Errorf(`ref "%s": %w`, name, ErrRefNameInvalid)
	}

	var first *Reference
	visited := make(map[string]struct{}, MaxSymbolicDepth+1)
	current := name
	for depth := 0; ; depth++ {
		if _, ok := visited[current]; ok || depth > MaxSymbolicDepth {
			return nil, fmt.Errorf(`ref "%s": %w`, name, ErrRefChainTooDeep)
		}
		visited[current] = struct{}{}

		data, err := finder(current)
		if err != nil {
			return nil, err
		}
		ref, err := ParseReference(hash, current, data)
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = ref
		}
		if ref.Type() == OidReference {
			first.id = ref.id
			return first, nil
		}
		current = ref.SymbolicTarget()
	}
}

// NewReference return a new Reference object that targets
// an object
func NewReference(name string, target githash.Oid) *Reference {
	return &Reference{
		typ:  OidReference,
		name: name,
		id:   target,
	}
}

// NewSymbolicReference return a new Reference object that targets
// another reference.
// Example HEAD targeting heads/master
func NewSymbolicReference(name, target string) *Reference {
	return &Reference{
		typ:    SymbolicReference,
		name:   name,
		target: target,
	}
}

// Name returns the full name fo the reference:
// example: refs/heads/master
func (ref *Reference) Name() string {
	return ref.name
}

// Target returns the ID targeted by a reference.
// For a symbolic reference this is the ID of the last reference of
// the chain, and may be nil if the reference hasn't been resolved
func (ref *Reference) Target() githash.Oid {
	return ref.id
}

// Type returns the type of a reference
func (ref *Reference) Type() ReferenceType {
	return ref.typ
}

// SymbolicTarget returns the symbolic target of a reference
func (ref *Reference) SymbolicTarget() string {
	return ref.target
}

// Rename returns a copy of the reference with a new name
func (ref *Reference) Rename(name string) *Reference {
	cpy := *ref
	cpy.name = name
	return &cpy
}

// Content returns the data stored in the reference file
func (ref *Reference) Content() ([]byte, error) {
	switch ref.typ {
	case SymbolicReference:
		return []byte(symbolicPrefix + ref.target + "\n"), nil
	case OidReference:
		return []byte(ref.id.String() + "\n"), nil
	default:
		return nil, fmt.Errorf("reference type %d: %w", ref.typ, ErrUnknownRefType)
	}
}

// IsRefNameValid returns whether the name of a reference is valid or not
// https://git-scm.com/docs/git-check-ref-format
func IsRefNameValid(name string) bool {
	// the reference name cannot:
	// - be empty
	// - be "@"
	// - end by a "/" or a "."
	if name == "" || name == "@" || name[len(name)-1] == '/' || name[len(name)-1] == '.' {
		return false
	}

	// the reference name cannot contain:
	// - an ASCII char below 32 or a DEL (ASCII 127)
	// - a space, ~, ^, :, ?, *, [ or \
	// - @{
	// - ..
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 32 || c == 127 {
			return false
		}
		switch c {
		case ' ', '~', '^', ':', '?', '*', '[', '\\':
			return false
		}
		if i < len(name)-1 {
			substr := name[i : i+2]
			if substr == "@{" || substr == ".." {
				return false
			}
		}
	}

	segments := strings.Split(name, "/")
	// one-level names are only allowed for the special uppercase refs
	// such as HEAD or ORIG_HEAD
	if len(segments) == 1 {
		for _, c := range name {
			if (c < 'A' || c > 'Z') && c != '_' {
				return false
			}
		}
		return true
	}
	for _, s := range segments {
		// a segment cannot:
		// - be empty
		// - start or end by a dot
		// - end by ".lock"
		if s == "" || s[0] == '.' || s[len(s)-1] == '.' || strings.HasSuffix(s, ".lock") {
			return false
		}
	}
	return true
}
