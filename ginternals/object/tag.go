package object

import (
	"bytes"
	"fmt"

	"github.com/vcskit/gitcore/ginternals/githash"
)

// TagParams represents all the data needed to create a Tag
// Params starting by Opt are optionals
type TagParams struct {
	Target    *Object
	Name      string
	Tagger    Signature
	Message   string
	OptGPGSig string
}

// Tag represents an annotated tag object.
// Lightweight tags are just references and don't have an object
type Tag struct {
	rawObject *Object

	tagger  Signature
	tag     string
	message string
	gpgSig  string

	target githash.Oid
	typ    Type
}

// NewTag creates a new Tag object
func NewTag(hash githash.Hash, p *TagParams) *Tag {
	t := &Tag{
		target:  p.Target.ID(),
		typ:     p.Target.Type(),
		tag:     p.Name,
		tagger:  p.Tagger,
		message: p.Message,
		gpgSig:  p.OptGPGSig,
	}
	t.rawObject = t.serialize(hash)
	return t
}

// NewTagFromObject creates a new Tag from a raw git object
//
// A tag has following format:
//
// object {sha}
// type {target_object_type}
// tag {tag_name}
// tagger {author_name} <{author_email}> {author_date_seconds} {author_date_timezone}
// gpgsig -----BEGIN PGP SIGNATURE-----
// {gpg key over multiple lines}
//
//	-----END PGP SIGNATURE-----
//
// {a blank line}
// {tag message}
//
// Note:
// - The gpgsig is optional
func NewTagFromObject(o *Object) (*Tag, error) {
	if o.typ != TypeTag {
		return nil, fmt.Errorf("type %s is not a tag: %w", o.typ, ErrObjectInvalid)
	}
	tag := &Tag{
		rawObject: o,
		target:    o.hash.NullOid(),
	}
	err := parseHeaders(o.Bytes(), func(key string, value []byte) (err error) {
		switch key {
		case "object":
			tag.target, err = o.hash.ConvertFromChars(value)
			if err != nil {
				return fmt.Errorf("could not parse target id %q: %w", value, err)
			}
		case "type":
			tag.typ, err = NewTypeFromString(string(value))
			if err != nil {
				return fmt.Errorf("invalid object type %s: %w", value, err)
			}
		case "tagger":
			tag.tagger, err = NewSignatureFromBytes(value)
			if err != nil {
				return fmt.Errorf("could not parse tagger [%s]: %w", value, err)
			}
		case "tag":
			tag.tag = string(value)
		case "gpgsig":
			tag.gpgSig = string(value)
		}
		return nil
	}, func(msg []byte) {
		tag.message = string(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), ErrTagInvalid)
	}

	if tag.tagger.IsZero() {
		return nil, fmt.Errorf("tag has no tagger: %w", ErrTagInvalid)
	}
	if tag.target.IsZero() {
		return nil, fmt.Errorf("tag has no target: %w", ErrTagInvalid)
	}
	if !tag.typ.IsValid() {
		return nil, fmt.Errorf("tag has no type: %w", ErrTagInvalid)
	}
	return tag, nil
}

// ID returns the SHA of the tag object
func (t *Tag) ID() githash.Oid {
	return t.rawObject.ID()
}

// Target returns the ID of the object targeted by the tag
func (t *Tag) Target() githash.Oid {
	return t.target
}

// Type returns the type of the targeted object
func (t *Tag) Type() Type {
	return t.typ
}

// Name returns the tag's name
func (t *Tag) Name() string {
	return t.tag
}

// Tagger returns the Signature of the person that created the tag
func (t *Tag) Tagger() Signature {
	return t.tagger
}

// Message returns the tag's message
func (t *Tag) Message() string {
	return t.message
}

// GPGSig returns the GPG signature of the tag, if any
func (t *Tag) GPGSig() string {
	return t.gpgSig
}

// ToObject returns the underlying Object
func (t *Tag) ToObject() *Object {
	return t.rawObject
}

func (t *Tag) serialize(hash githash.Hash) *Object {
	// Quick reminder that the Write* methods on bytes.Buffer never fails,
	// the error returned is always nil
	buf := new(bytes.Buffer)
	buf.WriteString("object ")
	buf.WriteString(t.target.String())
	buf.WriteByte('\n')

	buf.WriteString("type ")
	buf.WriteString(t.typ.String())
	buf.WriteByte('\n')

	buf.WriteString("tag ")
	buf.WriteString(t.tag)
	buf.WriteByte('\n')

	buf.WriteString("tagger ")
	buf.WriteString(t.tagger.String())
	buf.WriteByte('\n')

	if t.gpgSig != "" {
		writeMultiline(buf, "gpgsig", t.gpgSig)
	}

	buf.WriteByte('\n')
	buf.WriteString(t.message)
	return New(hash, TypeTag, buf.Bytes())
}
