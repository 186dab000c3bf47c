package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
)

// The index file has the following format (all integers are big-endian):
//
// header:
//   "DIRC" | version (uint32) | number of entries (uint32)
// entries, sorted by path then stage:
//   ctime seconds | ctime nanoseconds | mtime seconds | mtime nanoseconds
//   dev | ino | mode | uid | gid | size   (all uint32)
//   object id (raw bytes, size depends on the hash)
//   flags (uint16): assume-valid (1 bit) | extended (1 bit) | stage (2 bits) | name length (12 bits)
//   extended flags (uint16, version 3+ only, when the extended bit is set)
//   name, followed by 1 to 8 NUL bytes so that the entry size is a multiple of 8
// extensions (ignored when their signature starts by an uppercase letter):
//   signature (4 bytes) | size (uint32) | data
// checksum of everything above, using the hash of the repository

const (
	signature = "DIRC"

	flagAssumeValid  = 0x8000
	flagExtended     = 0x4000
	flagStageMask    = 0x3000
	flagStageShift   = 12
	flagNameMask     = 0x0fff
	flagSkipWorktree = 0x4000
	flagIntentToAdd  = 0x2000

	headerSize = 12
)

// ErrUnsupportedVersion is returned when the version of the index file
// is not supported
var ErrUnsupportedVersion = fmt.Errorf("unsupported version: %w", ErrCorruptIndex)

// Encode writes the index to w, and updates its checksum
func (idx *Index) Encode(w io.Writer) error {
	version := uint32(2)
	for i := range idx.entries {
		if idx.entries[i].isExtended() {
			version = 3
			break
		}
	}

	// Quick reminder that the Write* methods on bytes.Buffer never fails
	buf := new(bytes.Buffer)
	buf.WriteString(signature)
	writeUint32(buf, version)
	writeUint32(buf, uint32(len(idx.entries)))

	for i := range idx.entries {
		e := &idx.entries[i]
		start := buf.Len()
		writeUint32(buf, uint32(e.CTime.Unix()))
		writeUint32(buf, uint32(e.CTime.Nanosecond()))
		writeUint32(buf, uint32(e.MTime.Unix()))
		writeUint32(buf, uint32(e.MTime.Nanosecond()))
		writeUint32(buf, e.Dev)
		writeUint32(buf, e.Inode)
		writeUint32(buf, uint32(e.Mode))
		writeUint32(buf, e.UID)
		writeUint32(buf, e.GID)
		writeUint32(buf, e.Size)
		buf.Write(e.ID.Bytes())

		flags := uint16(e.Stage) << flagStageShift
		if len(e.Path) < flagNameMask {
			flags |= uint16(len(e.Path))
		} else {
			flags |= flagNameMask
		}
		if e.AssumeValid {
			flags |= flagAssumeValid
		}
		if e.isExtended() {
			flags |= flagExtended
		}
		writeUint16(buf, flags)
		if e.isExtended() {
			var ext uint16
			if e.SkipWorktree {
				ext |= flagSkipWorktree
			}
			if e.IntentToAdd {
				ext |= flagIntentToAdd
			}
			writeUint16(buf, ext)
		}
		buf.WriteString(e.Path)

		size := buf.Len() - start
		buf.Write(make([]byte, 8-size%8))
	}

	sum := idx.hash.Sum(buf.Bytes())
	buf.Write(sum.Bytes())
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("could not write the index: %w", err)
	}
	idx.version = version
	idx.checksum = sum
	return nil
}

// Decode parses an index file
func Decode(hash githash.Hash, r io.Reader) (*Index, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("could not read the index: %w", err)
	}
	oidSize := hash.OidSize()
	if len(data) < headerSize+oidSize {
		return nil, fmt.Errorf("file too short: %w", ErrCorruptIndex)
	}

	content := data[:len(data)-oidSize]
	checksum, err := hash.ConvertFromBytes(data[len(data)-oidSize:])
	if err != nil {
		return nil, fmt.Errorf("invalid checksum: %w", ErrCorruptIndex)
	}
	if hash.Sum(content) != checksum {
		return nil, fmt.Errorf("checksum mismatch: %w", ErrCorruptIndex)
	}

	if string(content[:4]) != signature {
		return nil, fmt.Errorf("invalid signature %q: %w", content[:4], ErrCorruptIndex)
	}
	version := binary.BigEndian.Uint32(content[4:])
	if version < 2 || version > 3 {
		return nil, fmt.Errorf("version %d: %w", version, ErrUnsupportedVersion)
	}
	count := binary.BigEndian.Uint32(content[8:])

	idx := New(hash)
	idx.version = version
	idx.checksum = checksum
	idx.entries = make([]Entry, 0, count)

	offset := headerSize
	// everything but the flags, the extended flags and the name
	fixedSize := 40 + oidSize
	for i := uint32(0); i < count; i++ {
		start := offset
		if len(content) < offset+fixedSize+2 {
			return nil, fmt.Errorf("entry %d: unexpected end of file: %w", i, ErrCorruptIndex)
		}
		fields := make([]uint32, 10)
		for j := range fields {
			fields[j] = binary.BigEndian.Uint32(content[offset:])
			offset += 4
		}
		e := Entry{
			CTime: time.Unix(int64(fields[0]), int64(fields[1])),
			MTime: time.Unix(int64(fields[2]), int64(fields[3])),
			Dev:   fields[4],
			Inode: fields[5],
			Mode:  object.TreeObjectMode(fields[6]),
			UID:   fields[7],
			GID:   fields[8],
			Size:  fields[9],
		}
		e.ID, err = hash.ConvertFromBytes(content[offset : offset+oidSize])
		if err != nil {
			return nil, fmt.Errorf("entry %d: invalid id: %w", i, ErrCorruptIndex)
		}
		offset += oidSize

		flags := binary.BigEndian.Uint16(content[offset:])
		offset += 2
		e.AssumeValid = flags&flagAssumeValid != 0
		e.Stage = Stage((flags & flagStageMask) >> flagStageShift)
		if flags&flagExtended != 0 {
			if version < 3 {
				return nil, fmt.Errorf("entry %d: extended flags in a version %d index: %w", i, version, ErrCorruptIndex)
			}
			if len(content) < offset+2 {
				return nil, fmt.Errorf("entry %d: unexpected end of file: %w", i, ErrCorruptIndex)
			}
			ext := binary.BigEndian.Uint16(content[offset:])
			offset += 2
			e.SkipWorktree = ext&flagSkipWorktree != 0
			e.IntentToAdd = ext&flagIntentToAdd != 0
		}

		nameLen := int(flags & flagNameMask)
		if nameLen == flagNameMask {
			// the name is too long to fit the flags, we need to look for
			// the NUL terminator
			end := bytes.IndexByte(content[offset:], 0)
			if end < 0 {
				return nil, fmt.Errorf("entry %d: unterminated name: %w", i, ErrCorruptIndex)
			}
			nameLen = end
		}
		if len(content) < offset+nameLen {
			return nil, fmt.Errorf("entry %d: unexpected end of file: %w", i, ErrCorruptIndex)
		}
		e.Path = string(content[offset : offset+nameLen])
		offset += nameLen

		size := offset - start
		offset += 8 - size%8
		if offset > len(content) {
			return nil, fmt.Errorf("entry %d: missing padding: %w", i, ErrCorruptIndex)
		}

		if n := len(idx.entries); n > 0 && compareEntry(e.Path, e.Stage, &idx.entries[n-1]) <= 0 {
			return nil, fmt.Errorf("entry %d (%s): entries are not sorted: %w", i, e.Path, ErrCorruptIndex)
		}
		idx.entries = append(idx.entries, e)
	}

	// Extensions
	for offset < len(content) {
		if len(content) < offset+8 {
			return nil, fmt.Errorf("truncated extension: %w", ErrCorruptIndex)
		}
		sig := content[offset : offset+4]
		size := int(binary.BigEndian.Uint32(content[offset+4:]))
		offset += 8
		if sig[0] < 'A' || sig[0] > 'Z' {
			return nil, fmt.Errorf("unsupported mandatory extension %q: %w", sig, ErrCorruptIndex)
		}
		if len(content) < offset+size {
			return nil, fmt.Errorf("truncated extension %q: %w", sig, ErrCorruptIndex)
		}
		offset += size
	}
	return idx, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}
