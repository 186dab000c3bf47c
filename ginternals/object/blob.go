package object

import "github.com/vcskit/gitcore/ginternals/githash"

// Blob represents a blob object, which holds the content of a file
type Blob struct {
	rawObject *Object
}

// NewBlob returns a new Blob object from a git Object
func NewBlob(o *Object) *Blob {
	return &Blob{
		rawObject: o,
	}
}

// NewBlobFromContent creates a new blob holding the given data
func NewBlobFromContent(hash githash.Hash, data []byte) *Blob {
	return NewBlob(New(hash, TypeBlob, data))
}

// ID returns the blob's ID
func (b *Blob) ID() githash.Oid {
	return b.rawObject.ID()
}

// Bytes returns the blob's contents
func (b *Blob) Bytes() []byte {
	return b.rawObject.content
}

// BytesCopy returns a copy of blob's contents
func (b *Blob) BytesCopy() []byte {
	out := make([]byte, len(b.rawObject.content))
	copy(out, b.rawObject.content)
	return out
}

// Size returns the size of the blob
func (b *Blob) Size() int {
	return len(b.rawObject.content)
}

// ToObject returns the Blob's underlying Object
func (b *Blob) ToObject() *Object {
	return b.rawObject
}
