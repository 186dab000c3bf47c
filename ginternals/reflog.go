package ginternals

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
)

var (
	// ErrReflogInvalid is an error thrown when a reflog line cannot be
	// parsed
	ErrReflogInvalid = fmt.Errorf("reflog: %w", ErrCorruptObject)

	// ErrReflogNotFound is an error thrown when a reference has no
	// reflog
	ErrReflogNotFound = fmt.Errorf("reflog %w", ErrNotFound)
)

// ReflogEntry represents a single change of a reference
type ReflogEntry struct {
	// Old is the previous target of the reference. NullOid when the
	// reference was created
	Old githash.Oid
	// New is the new target of the reference
	New       githash.Oid
	Committer object.Signature
	Message   string
}

// Bytes returns the entry the way it's stored in a reflog file:
// {old} {new} {name} <{email}> {timestamp} {timezone}\t{message}\n
func (e ReflogEntry) Bytes() []byte {
	buf := new(bytes.Buffer)
	buf.WriteString(e.Old.String())
	buf.WriteByte(' ')
	buf.WriteString(e.New.String())
	buf.WriteByte(' ')
	buf.WriteString(e.Committer.String())
	if e.Message != "" {
		buf.WriteByte('\t')
		// a message has to fit on one line
		buf.WriteString(strings.TrimSpace(strings.ReplaceAll(e.Message, "\n", " ")))
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// ParseReflogEntry parses a single line of a reflog file
func ParseReflogEntry(hash githash.Hash, line []byte) (ReflogEntry, error) {
	entry := ReflogEntry{}
	hexSize := hash.OidSize() * 2

	// we need at least 2 oids separated by spaces, and a space before
	// the signature
	if len(line) < 2*hexSize+3 {
		return entry, fmt.Errorf("line too short: %w", ErrReflogInvalid)
	}

	var err error
	entry.Old, err = hash.ConvertFromChars(line[:hexSize])
	if err != nil {
		return entry, fmt.Errorf("invalid old id: %w", ErrReflogInvalid)
	}
	entry.New, err = hash.ConvertFromChars(line[hexSize+1 : 2*hexSize+1])
	if err != nil {
		return entry, fmt.Errorf("invalid new id: %w", ErrReflogInvalid)
	}

	rest := line[2*hexSize+2:]
	sig := rest
	if i := bytes.IndexByte(rest, '\t'); i >= 0 {
		sig = rest[:i]
		entry.Message = string(rest[i+1:])
	}
	entry.Committer, err = object.NewSignatureFromBytes(sig)
	if err != nil {
		return entry, fmt.Errorf("invalid committer: %s: %w", err.Error(), ErrReflogInvalid)
	}
	return entry, nil
}

// Reflog contains the history of a reference, oldest entry first.
type Reflog struct {
	name    string
	entries []ReflogEntry
}

// NewReflog returns a reflog holding the given entries, oldest first
func NewReflog(name string, entries []ReflogEntry) *Reflog {
	return &Reflog{
		name:    name,
		entries: entries,
	}
}

// ParseReflog parses the content of a reflog file
func ParseReflog(hash githash.Hash, name string, r io.Reader) (*Reflog, error) {
	log := NewReflog(name, nil)
	sc := bufio.NewScanner(r)
	for i := 1; sc.Scan(); i++ {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		entry, err := ParseReflogEntry(hash, line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i, err)
		}
		log.entries = append(log.entries, entry)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("could not read reflog: %w", err)
	}
	return log, nil
}

// Name returns the name of the reference this reflog belongs to
func (l *Reflog) Name() string {
	return l.name
}

// Len returns the number of entries
func (l *Reflog) Len() int {
	return len(l.entries)
}

// At returns the entry at the given position, 0 being the most recent
// entry
func (l *Reflog) At(i int) (ReflogEntry, bool) {
	if i < 0 || i >= len(l.entries) {
		return ReflogEntry{}, false
	}
	return l.entries[len(l.entries)-1-i], true
}

// Latest returns the most recent entry
func (l *Reflog) Latest() (ReflogEntry, bool) {
	return l.At(0)
}

// Oldest returns the very first entry
func (l *Reflog) Oldest() (ReflogEntry, bool) {
	return l.At(len(l.entries) - 1)
}

// Entries returns a copy of the entries, oldest first
func (l *Reflog) Entries() []ReflogEntry {
	out := make([]ReflogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
