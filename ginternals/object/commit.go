package object

import (
	"bytes"
	"fmt"

	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/internal/readutil"
)

// CommitOptions represents all the optional data available to create a commit
type CommitOptions struct {
	Message string
	GPGSig  string
	// Committer represent the person creating the commit.
	// If not provided, the author will be used as committer
	Committer Signature
	ParentsID []githash.Oid
}

// Commit represents a commit object
type Commit struct {
	rawObject *Object

	author    Signature
	committer Signature

	gpgSig  string
	message string

	parentIDs []githash.Oid
	treeID    githash.Oid
}

// NewCommit creates a new Commit object
// Any provided Oids won't be check
func NewCommit(hash githash.Hash, treeID githash.Oid, author Signature, opts *CommitOptions) *Commit {
	if opts == nil {
		opts = &CommitOptions{}
	}
	c := &Commit{
		treeID:    treeID,
		author:    author,
		committer: opts.Committer,
		message:   opts.Message,
		gpgSig:    opts.GPGSig,
	}
	c.parentIDs = make([]githash.Oid, len(opts.ParentsID))
	copy(c.parentIDs, opts.ParentsID)

	if c.committer.IsZero() {
		c.committer = author
	}
	c.rawObject = c.serialize(hash)
	return c
}

// NewCommitFromObject creates a commit from a raw object
//
// A commit has following format:
//
// tree {sha}
// parent {sha}
// author {author_name} <{author_email}> {author_date_seconds} {author_date_timezone}
// committer {committer_name} <{committer_email}> {committer_date_seconds} {committer_date_timezone}
// gpgsig -----BEGIN PGP SIGNATURE-----
// {gpg key over multiple lines}
//
//	-----END PGP SIGNATURE-----
//
// {a blank line}
// {commit message}
//
// Note:
//   - A commit can have 0, 1, or many parents lines
//     The very first commit of a repo has no parents
//     A regular commit as 1 parent
//     A merge commit has 2 or more parents
//   - The gpgsig is optional
func NewCommitFromObject(o *Object) (*Commit, error) {
	if o.typ != TypeCommit {
		return nil, fmt.Errorf("type %s is not a commit: %w", o.typ, ErrObjectInvalid)
	}
	ci := &Commit{
		rawObject: o,
		treeID:    o.hash.NullOid(),
	}
	err := parseHeaders(o.Bytes(), func(key string, value []byte) (err error) {
		switch key {
		case "tree":
			ci.treeID, err = o.hash.ConvertFromChars(value)
			if err != nil {
				return fmt.Errorf("could not parse tree id %q: %w", value, err)
			}
		case "parent":
			oid, err := o.hash.ConvertFromChars(value)
			if err != nil {
				return fmt.Errorf("could not parse parent id %q: %w", value, err)
			}
			ci.parentIDs = append(ci.parentIDs, oid)
		case "author":
			ci.author, err = NewSignatureFromBytes(value)
			if err != nil {
				return fmt.Errorf("could not parse author signature [%s]: %w", value, err)
			}
		case "committer":
			ci.committer, err = NewSignatureFromBytes(value)
			if err != nil {
				return fmt.Errorf("could not parse committer signature [%s]: %w", value, err)
			}
		case "gpgsig":
			ci.gpgSig = string(value)
		}
		return nil
	}, func(msg []byte) {
		ci.message = string(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), ErrCommitInvalid)
	}

	if ci.author.IsZero() {
		return nil, fmt.Errorf("commit has no author: %w", ErrCommitInvalid)
	}
	if ci.treeID.IsZero() {
		return nil, fmt.Errorf("commit has no tree: %w", ErrCommitInvalid)
	}
	return ci, nil
}

// parseHeaders parses the "key value" lines of a commit or a tag, then
// passes the message to onMessage.
// Multi-line values (like gpgsig) have their continuation lines starting
// with a space, which gets removed.
func parseHeaders(data []byte, onHeader func(key string, value []byte) error, onMessage func(msg []byte)) error {
	offset := 0
	var key string
	var value []byte
	flush := func() error {
		if key == "" {
			return nil
		}
		err := onHeader(key, value)
		key, value = "", nil
		return err
	}
	for offset < len(data) {
		line := readutil.ReadTo(data[offset:], '\n')
		if line == nil {
			// last line without a \n
			line = data[offset:]
		}
		offset += len(line) + 1 // +1 for the \n

		// An empty line means everything from now to the end is the
		// message
		if len(line) == 0 {
			if err := flush(); err != nil {
				return err
			}
			if offset < len(data) {
				onMessage(data[offset:])
			}
			return nil
		}

		if line[0] == ' ' {
			if key == "" {
				return fmt.Errorf("unexpected continuation line at offset %d", offset)
			}
			value = append(value, '\n')
			value = append(value, line[1:]...)
			continue
		}

		if err := flush(); err != nil {
			return err
		}
		kv := bytes.SplitN(line, []byte{' '}, 2)
		if len(kv) != 2 {
			return fmt.Errorf("invalid header line %q", line)
		}
		key = string(kv[0])
		value = append([]byte{}, kv[1]...)
	}
	if offset == 0 {
		return fmt.Errorf("object is empty")
	}
	return flush()
}

// writeMultiline writes a header whose value may span multiple lines
func writeMultiline(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteByte(' ')
	buf.WriteString(string(bytes.ReplaceAll([]byte(value), []byte{'\n'}, []byte{'\n', ' '})))
	buf.WriteByte('\n')
}

// ID returns the SHA of the commit object
func (c *Commit) ID() githash.Oid {
	return c.rawObject.ID()
}

// Author returns the Signature of the person that made the changes
func (c *Commit) Author() Signature {
	return c.author
}

// Committer returns the Signature of the person that created the commit
func (c *Commit) Committer() Signature {
	return c.committer
}

// Message returns the commit's message
func (c *Commit) Message() string {
	return c.message
}

// ParentIDs returns the list of SHA of the parent commits (if any)
// - The first commit of an orphan branch has 0 parents
// - A regular commit or the result of a fast-forward merge has 1 parent
// - A true merge (no fast-forward) as 2 or more parents
func (c *Commit) ParentIDs() []githash.Oid {
	out := make([]githash.Oid, len(c.parentIDs))
	copy(out, c.parentIDs)
	return out
}

// TreeID returns the SHA of the commit's tree
func (c *Commit) TreeID() githash.Oid {
	return c.treeID
}

// GPGSig returns the GPG signature of the commit, if any
func (c *Commit) GPGSig() string {
	return c.gpgSig
}

// ToObject returns the underlying Object
func (c *Commit) ToObject() *Object {
	return c.rawObject
}

func (c *Commit) serialize(hash githash.Hash) *Object {
	// Quick reminder that the Write* methods on bytes.Buffer never fails,
	// the error returned is always nil
	buf := new(bytes.Buffer)
	buf.WriteString("tree ")
	buf.WriteString(c.treeID.String())
	buf.WriteByte('\n')

	for _, p := range c.parentIDs {
		buf.WriteString("parent ")
		buf.WriteString(p.String())
		buf.WriteByte('\n')
	}

	buf.WriteString("author ")
	buf.WriteString(c.author.String())
	buf.WriteByte('\n')

	buf.WriteString("committer ")
	buf.WriteString(c.committer.String())
	buf.WriteByte('\n')

	if c.gpgSig != "" {
		writeMultiline(buf, "gpgsig", c.gpgSig)
	}

	buf.WriteByte('\n')
	buf.WriteString(c.message)
	return New(hash, TypeCommit, buf.Bytes())
}
