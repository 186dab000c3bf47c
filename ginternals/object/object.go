// Package object contains methods and objects to work with git objects
package object

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/internal/errutil"
	"github.com/vcskit/gitcore/internal/readutil"
)

var (
	// ErrObjectUnknown represents an error thrown when encountering an
	// unknown object type
	ErrObjectUnknown = errors.New("invalid object type")

	// ErrObjectInvalid represents an error thrown when an object contains
	// unexpected data or when the wrong object is provided to a method.
	// Ex. Parsing a blob as a tree
	ErrObjectInvalid = errors.New("invalid object")

	// ErrTreeInvalid represents an error thrown when parsing an invalid
	// tree object
	ErrTreeInvalid = errors.New("invalid tree")

	// ErrCommitInvalid represents an error thrown when parsing an invalid
	// commit object
	ErrCommitInvalid = errors.New("invalid commit")

	// ErrTagInvalid represents an error thrown when parsing an invalid
	// tag object
	ErrTagInvalid = errors.New("invalid tag")
)

// Type represents the kind of an object
type Type int8

// List of all the possible object types
const (
	TypeCommit Type = 1
	TypeTree   Type = 2
	TypeBlob   Type = 3
	TypeTag    Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeCommit:
		return "commit"
	case TypeTree:
		return "tree"
	case TypeBlob:
		return "blob"
	case TypeTag:
		return "tag"
	default:
		return fmt.Sprintf("unknown(%d)", int8(t))
	}
}

// IsValid check id the object type is an existing type
func (t Type) IsValid() bool {
	switch t {
	case TypeCommit, TypeTree, TypeBlob, TypeTag:
		return true
	default:
		return false
	}
}

// NewTypeFromString returns an Type from its string
// representation
func NewTypeFromString(t string) (Type, error) {
	switch t {
	case "commit":
		return TypeCommit, nil
	case "tree":
		return TypeTree, nil
	case "blob":
		return TypeBlob, nil
	case "tag":
		return TypeTag, nil
	default:
		return 0, fmt.Errorf("%q: %w", t, ErrObjectUnknown)
	}
}

// Object represents a git object. An object can be of multiple types
// but they all share the same storage format: an ascii type, a space,
// the ascii size of the content, a NULL char, then the content.
// The ID of an object is the hash of this format, which means that the
// same content always has the same ID.
// https://git-scm.com/book/en/v2/Git-Internals-Git-Objects
type Object struct {
	hash    githash.Hash
	typ     Type
	content []byte

	id           githash.Oid
	idProcessing sync.Once
}

// New creates a new git object of the given type.
// The object owns content, callers should not modify it afterward
func New(hash githash.Hash, typ Type, content []byte) *Object {
	return &Object{
		hash:    hash,
		typ:     typ,
		content: content,
	}
}

// ID returns the ID of the object
func (o *Object) ID() githash.Oid {
	o.idProcessing.Do(func() {
		o.id = o.hash.Sum(o.header(true))
	})
	return o.id
}

// Hash returns the hash algorithm used by the object
func (o *Object) Hash() githash.Hash {
	return o.hash
}

// Size returns the size of the object's content
func (o *Object) Size() int {
	return len(o.content)
}

// Type returns the Type for this object
func (o *Object) Type() Type {
	return o.typ
}

// Bytes returns the object's contents
func (o *Object) Bytes() []byte {
	return o.content
}

// header returns "<type> <size>\0", followed by the content if
// withContent is set
func (o *Object) header(withContent bool) []byte {
	// Quick reminder that the Write* methods on bytes.Buffer never fails,
	// the error returned is always nil
	w := new(bytes.Buffer)
	w.WriteString(o.typ.String())
	w.WriteByte(' ')
	w.WriteString(strconv.Itoa(len(o.content)))
	w.WriteByte(0)
	if withContent {
		w.Write(o.content)
	}
	return w.Bytes()
}

// Compress returns the object in its loose format, zlib compressed.
func (o *Object) Compress() (data []byte, err error) {
	compressed := new(bytes.Buffer)
	zw := zlib.NewWriter(compressed)
	if _, err = zw.Write(o.header(true)); err != nil {
		zw.Close() //nolint:errcheck // we already have an error to return
		return nil, fmt.Errorf("could not zlib the object: %w", err)
	}
	if err = zw.Close(); err != nil {
		return nil, fmt.Errorf("could not flush the zlib stream: %w", err)
	}
	return compressed.Bytes(), nil
}

// NewFromLoose decodes a zlib compressed object stored in its loose
// format.
func NewFromLoose(hash githash.Hash, r io.Reader) (o *Object, err error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("could not decompress object: %s: %w", err.Error(), ErrObjectInvalid)
	}
	defer errutil.Close(zr, &err)

	// We directly read the entire object since most of it is the
	// content we need
	buf, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("could not read object: %s: %w", err.Error(), ErrObjectInvalid)
	}

	typ := readutil.ReadTo(buf, ' ')
	if typ == nil {
		return nil, fmt.Errorf("could not find object type: %w", ErrObjectInvalid)
	}
	oType, err := NewTypeFromString(string(typ))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), ErrObjectInvalid)
	}
	offset := len(typ) + 1 // +1 for the space

	size := readutil.ReadTo(buf[offset:], 0)
	if size == nil {
		return nil, fmt.Errorf("could not find object size: %w", ErrObjectInvalid)
	}
	oSize, err := strconv.Atoi(string(size))
	if err != nil {
		return nil, fmt.Errorf("invalid size %q: %w", size, ErrObjectInvalid)
	}
	offset += len(size) + 1 // +1 for the NULL char

	content := buf[offset:]
	if len(content) != oSize {
		return nil, fmt.Errorf("object marked as size %d, but has %d: %w", oSize, len(content), ErrObjectInvalid)
	}
	return New(hash, oType, content), nil
}

// Validate makes sure the content of the object can be parsed
// according to its type
func (o *Object) Validate() error {
	var err error
	switch o.typ {
	case TypeBlob:
	case TypeTree:
		_, err = o.AsTree()
	case TypeCommit:
		_, err = o.AsCommit()
	case TypeTag:
		_, err = o.AsTag()
	default:
		err = fmt.Errorf("type %d: %w", o.typ, ErrObjectUnknown)
	}
	return err
}

// AsBlob returns the object as a Blob.
func (o *Object) AsBlob() (*Blob, error) {
	if o.typ != TypeBlob {
		return nil, fmt.Errorf("type %s is not a blob: %w", o.typ, ErrObjectInvalid)
	}
	return NewBlob(o), nil
}

// AsTree parses the object as Tree
func (o *Object) AsTree() (*Tree, error) {
	return NewTreeFromObject(o)
}

// AsCommit parses the object as Commit
func (o *Object) AsCommit() (*Commit, error) {
	return NewCommitFromObject(o)
}

// AsTag parses the object as Tag
func (o *Object) AsTag() (*Tag, error) {
	return NewTagFromObject(o)
}
