// Package packfile contains methods and structs to read packfiles
package packfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/spf13/afero"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
	"github.com/vcskit/gitcore/internal/errutil"
)

const (
	// packfileHeaderSize contains the size of the header of a packfile.
	// the first 4 bytes contain the magic, the 4 next bytes contains the
	// version, and the last 4 bytes contains the number of objects in
	// the packfile, for a total of 12 bytes
	packfileHeaderSize = 12

	// maxDeltaDepth is the longest chain of deltas we follow before
	// considering the packfile corrupt
	maxDeltaDepth = 4095
)

// Extensions of the files of a pack
const (
	ExtPackfile = ".pack"
	ExtIndex    = ".idx"
)

// Types only used in packfiles
const (
	// typeOfsDelta is a delta whose base is located before it, in the
	// same packfile
	typeOfsDelta object.Type = 6
	// typeRefDelta is a delta whose base is referenced by its id
	typeRefDelta object.Type = 7
)

func packfileMagic() []byte {
	return []byte{'P', 'A', 'C', 'K'}
}

func packfileVersion() []byte {
	return []byte{0, 0, 0, 2}
}

var (
	// ErrInvalidPack is returned when a packfile cannot be parsed
	ErrInvalidPack = fmt.Errorf("packfile: %w", ginternals.ErrCorruptObject)
	// ErrInvalidIndex is returned when the index of a packfile cannot
	// be parsed
	ErrInvalidIndex = fmt.Errorf("packfile index: %w", ginternals.ErrCorruptObject)
	// ErrIntOverflow is an error thrown when the packfile couldn't
	// be parsed because some data couldn't fit in an int64
	ErrIntOverflow = fmt.Errorf("int64 overflow: %w", ErrInvalidPack)
	// ErrInvalidMagic is an error thrown when a file doesn't have
	// the expected magic.
	ErrInvalidMagic = fmt.Errorf("invalid magic: %w", ginternals.ErrCorruptObject)
	// ErrInvalidVersion is an error thrown when a file has an
	// unsupported version
	ErrInvalidVersion = fmt.Errorf("invalid version: %w", ginternals.ErrCorruptObject)
)

// Pack represents a Packfile
// The packfile contains a header, a content, and a footer
// Header: 12 bytes
//
//	The first 4 bytes contain the magic ('P', 'A', 'C', 'K')
//	The next 4 bytes contains the version (0, 0, 0, 2)
//	The last 4 bytes contains the number of objects in the packfile
//
// Content: Variable size
//
//	The content contains all the objects of the packfile, each zlib
//	compressed.
//	Before every zlib compressed objects comes a few bytes of
//	metadata about the object (the type and size of the object).
//	The size of the metadata is variable, so every byte contains
//	a MSB (Most Significant bit, the most left bit of a byte) that
//	indicates if the next byte is also part of the size or not.
//	The very first byte of the metadata contains:
//	- The MSB (1 bit)
//	- The type of the object (3 bits)
//	- the beginning of the size (4 bits)
//	The subsequent bytes contains:
//	- The MSB (1 bit)
//	- The next part of the size (7 bits)
//	The chucks of the size are little-endian encoded (right to left):
//	Final_size = [part_2][part_1][part_0]
//	/!\ The size is the size of the uncompressed object, it cannot
//	be used to know where the compressed data ends.
//
// Footer: OidSize bytes
//
//	Contains the checksum of the packfile (without this checksum)
//
// https://git-scm.com/docs/pack-format
type Pack struct {
	r       afero.File
	size    int64
	idxFile afero.File
	idx     *PackIndex
	header  [packfileHeaderSize]byte
	hash    githash.Hash
	id      githash.Oid

	// Mutex used to protect the exported methods from being called
	// concurrently
	mu sync.Mutex
}

// IsPackfile returns whether the given file name is the name of a
// packfile
func IsPackfile(name string) bool {
	return strings.HasSuffix(name, ExtPackfile)
}

// NewFromFile returns a pack object from the given file. The index
// file is expected to be next to the packfile, with the same name.
// The pack will need to be closed using Close()
func NewFromFile(fs afero.Fs, filePath string, hash githash.Hash) (pack *Pack, err error) {
	f, err := fs.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w: %w", filePath, err, ginternals.ErrStorage)
	}
	defer func() {
		if err != nil {
			f.Close() //nolint:errcheck // it already failed
		}
	}()

	p := &Pack{
		r:    f,
		hash: hash,
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("could not stat %s: %w: %w", filePath, err, ginternals.ErrStorage)
	}
	p.size = info.Size()
	if p.size < int64(packfileHeaderSize+hash.OidSize()) {
		return nil, fmt.Errorf("%s is too small to be a packfile: %w", filePath, ErrInvalidPack)
	}

	// Let's validate the header
	if _, err = f.ReadAt(p.header[:], 0); err != nil {
		return nil, fmt.Errorf("could read header of packfile: %w: %w", err, ginternals.ErrStorage)
	}
	if !bytes.Equal(p.header[0:4], packfileMagic()) {
		return nil, fmt.Errorf("invalid header: %w", ErrInvalidMagic)
	}
	if !bytes.Equal(p.header[4:8], packfileVersion()) {
		return nil, fmt.Errorf("invalid header: %w", ErrInvalidVersion)
	}

	// Now we load the index file
	indexFilePath := strings.TrimSuffix(filePath, ExtPackfile) + ExtIndex
	p.idxFile, err = fs.Open(indexFilePath)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w: %w", indexFilePath, err, ginternals.ErrStorage)
	}
	defer func() {
		if err != nil {
			p.idxFile.Close() //nolint:errcheck // it already failed
		}
	}()
	p.idx, err = NewIndex(bufio.NewReader(p.idxFile), hash)
	if err != nil {
		return nil, fmt.Errorf("could create index for %s: %w", indexFilePath, err)
	}

	return p, nil
}

// rawObject contains an object as it's stored in the packfile
type rawObject struct {
	typ  object.Type
	data []byte

	// only set for deltas
	baseOid    githash.Oid
	baseOffset uint64
}

// rawObjectAt return the raw object located at the given offset,
// including its base info if the object is a delta
func (pck *Pack) rawObjectAt(objectOffset uint64) (o *rawObject, err error) {
	if objectOffset < packfileHeaderSize || objectOffset >= uint64(pck.size) {
		return nil, fmt.Errorf("offset %d is out of the packfile: %w", objectOffset, ErrInvalidPack)
	}
	buf := bufio.NewReader(io.NewSectionReader(pck.r, int64(objectOffset), pck.size-int64(objectOffset)))

	// The object size can't really be bigger than 64bits otherwise we
	// have nothing to store it. Assuming the worst case scenario we need
	// to read 8 bytes, plus 1 byte because each byte loses a bit to
	// the MSB, plus 1 byte because the first one also contains the type.
	// Total: 10 bytes
	// The footer of the packfile guarantees that there's enough data
	// after any object
	metadata, err := buf.Peek(10)
	if err != nil {
		return nil, fmt.Errorf("could not get object meta: %s: %w", err.Error(), ErrInvalidPack)
	}

	// The type is a number between 1 and 7 stored on bits 2, 3, and 4
	// value       : MTTT_SSSS // M = MSB ; T = type ; S = size
	// & 0111_0000 : 0TTT_0000
	// >> 4        : 0000_0TTT
	o = &rawObject{
		typ: object.Type((metadata[0] & 0b_0111_0000) >> 4),
	}
	if !o.typ.IsValid() && o.typ != typeOfsDelta && o.typ != typeRefDelta {
		return nil, fmt.Errorf("unknown object type %d: %w", o.typ, ErrInvalidPack)
	}

	// The first part of the size is on the last 4 bits of the byte
	objectSize := uint64(metadata[0] & 0b_0000_1111)
	metadataSize := 1
	if isMSBSet(metadata[0]) {
		size, byteRead, err := readSize(metadata[1:])
		if err != nil {
			return nil, fmt.Errorf("couldn't read object size: %w", err)
		}
		metadataSize += byteRead
		// The rest of the size goes on the left of the first 4 bits
		objectSize |= (size << 4)
	}
	if _, err = buf.Discard(metadataSize); err != nil {
		return nil, fmt.Errorf("could not skip the metadata: %s: %w", err.Error(), ErrInvalidPack)
	}

	// Deltas store the changes between 2 similar objects. The base
	// object is either referenced by its ID, or by its offset
	switch o.typ { //nolint:exhaustive // only the deltas have a special treatment
	case typeRefDelta:
		baseObjectSHA := make([]byte, pck.hash.OidSize())
		if _, err = io.ReadFull(buf, baseObjectSHA); err != nil {
			return nil, fmt.Errorf("could not get base object SHA: %s: %w", err.Error(), ErrInvalidPack)
		}
		o.baseOid, err = pck.hash.ConvertFromBytes(baseObjectSHA)
		if err != nil {
			return nil, fmt.Errorf("could not parse base object SHA %#v: %s: %w", baseObjectSHA, err.Error(), ErrInvalidPack)
		}
	case typeOfsDelta:
		// 9 bytes of 7 bits are enough to fit an int64
		offsetParts, err := buf.Peek(9)
		if err != nil {
			return nil, fmt.Errorf("could not get base object offset: %s: %w", err.Error(), ErrInvalidPack)
		}
		offset, bytesRead, err := readDeltaOffset(offsetParts)
		if err != nil {
			return nil, fmt.Errorf("couldn't read base object offset: %w", err)
		}
		if offset == 0 || offset > objectOffset {
			return nil, fmt.Errorf("invalid base object offset -%d at %d: %w", offset, objectOffset, ErrInvalidPack)
		}
		o.baseOffset = objectOffset - offset
		if _, err = buf.Discard(bytesRead); err != nil {
			return nil, fmt.Errorf("could not skip the offset: %s: %w", err.Error(), ErrInvalidPack)
		}
	}

	// We can now fetch the actual data of the object, which is zlib encoded
	zlibR, err := zlib.NewReader(buf)
	if err != nil {
		return nil, fmt.Errorf("could not get zlib reader: %s: %w", err.Error(), ErrInvalidPack)
	}
	defer errutil.Close(zlibR, &err)

	objectData := bytes.NewBuffer(make([]byte, 0, objectSize))
	if _, err = io.Copy(objectData, zlibR); err != nil {
		return nil, fmt.Errorf("could not decompress: %s: %w", err.Error(), ErrInvalidPack)
	}
	if uint64(objectData.Len()) != objectSize {
		return nil, fmt.Errorf("object size not valid. expecting %d, got %d: %w", objectSize, objectData.Len(), ErrInvalidPack)
	}
	o.data = objectData.Bytes()
	return o, nil
}

// objectAt return the type and the content of the object located at
// the given offset, with its deltas applied
func (pck *Pack) objectAt(objectOffset uint64, depth int) (object.Type, []byte, error) {
	if depth > maxDeltaDepth {
		return 0, nil, fmt.Errorf("delta chain longer than %d: %w", maxDeltaDepth, ErrInvalidPack)
	}
	raw, err := pck.rawObjectAt(objectOffset)
	if err != nil {
		return 0, nil, err
	}
	if raw.typ != typeOfsDelta && raw.typ != typeRefDelta {
		return raw.typ, raw.data, nil
	}

	baseOffset := raw.baseOffset
	if raw.typ == typeRefDelta {
		// thin packs have their bases outside of the packfile, we
		// don't support them
		baseOffset, err = pck.idx.ObjectOffset(raw.baseOid)
		if err != nil {
			return 0, nil, fmt.Errorf("could not find base object %s: %w", raw.baseOid.String(), err)
		}
	}
	typ, base, err := pck.objectAt(baseOffset, depth+1)
	if err != nil {
		return 0, nil, fmt.Errorf("could not get base object at offset %d: %w", baseOffset, err)
	}
	out, err := applyDelta(base, raw.data)
	if err != nil {
		return 0, nil, fmt.Errorf("could not apply delta at offset %d: %w", objectOffset, err)
	}
	return typ, out, nil
}

// applyDelta rebuilds an object from its base and a delta.
// The format of a delta object is:
// - A header with:
//   - The size of the source (x bytes)
//   - the size of the target (x bytes)
//
// - A set of instruction (x bytes)
func applyDelta(base, delta []byte) ([]byte, error) {
	sourceSize, sourceSizeLen, err := readSize(delta)
	if err != nil {
		return nil, fmt.Errorf("couldn't read source size of delta: %w", err)
	}
	if sourceSize != uint64(len(base)) {
		return nil, fmt.Errorf("invalid base object size. expected %d, got %d: %w", len(base), sourceSize, ErrInvalidPack)
	}
	targetSize, targetSizeLen, err := readSize(delta[sourceSizeLen:])
	if err != nil {
		return nil, fmt.Errorf("couldn't read target size of delta: %w", err)
	}
	instructions := delta[sourceSizeLen+targetSizeLen:]

	out := bytes.NewBuffer(make([]byte, 0, targetSize))
	// We don't do a for-range loop because an instruction can be over
	// multiple bytes.
	for i := 0; i < len(instructions); i++ {
		instr := instructions[i]

		// there's 2 types of instruction: COPY and INSERT.
		// If the MSB of the byte is 1 it's a COPY, otherwise it's
		// an INSERT
		if !isMSBSet(instr) {
			if instr == 0 {
				return nil, fmt.Errorf("delta contains a reserved instruction: %w", ErrInvalidPack)
			}
			// $instr contains the amount of bytes we need to copy from
			// the delta to the output
			start := i + 1
			end := start + int(instr)
			if end > len(instructions) {
				return nil, fmt.Errorf("insert goes past the end of the delta: %w", ErrInvalidPack)
			}
			out.Write(instructions[start:end])
			i += int(instr)
			continue
		}

		// The last 4 bits tell which bytes of the offset are stored,
		// and the 3 next ones which bytes of the size are stored.
		// Example: with 1010 we read 2 bytes and store them at
		// [0] and [2]: [first_byte, 0, second_byte, 0]
		var buf [4]byte
		for j := uint(0); j < 4; j++ {
			if instr>>j&1 == 1 {
				i++
				if i >= len(instructions) {
					return nil, fmt.Errorf("copy offset goes past the end of the delta: %w", ErrInvalidPack)
				}
				buf[j] = instructions[i]
			}
		}
		offset := uint64(binary.LittleEndian.Uint32(buf[:]))

		buf = [4]byte{}
		for j := uint(0); j < 3; j++ {
			if instr>>(4+j)&1 == 1 {
				i++
				if i >= len(instructions) {
					return nil, fmt.Errorf("copy size goes past the end of the delta: %w", ErrInvalidPack)
				}
				buf[j] = instructions[i]
			}
		}
		copyLen := uint64(binary.LittleEndian.Uint32(buf[:]))
		// A size of 0 means 0x10000
		if copyLen == 0 {
			copyLen = 0x10000
		}
		if offset+copyLen > uint64(len(base)) {
			return nil, fmt.Errorf("copy of %d bytes at %d goes past the end of the base: %w", copyLen, offset, ErrInvalidPack)
		}
		out.Write(base[offset : offset+copyLen])
	}

	if uint64(out.Len()) != targetSize {
		return nil, fmt.Errorf("delta produced %d bytes instead of %d: %w", out.Len(), targetSize, ErrInvalidPack)
	}
	return out.Bytes(), nil
}

// Object returns the object that has the given ID.
// ginternals.ErrObjectNotFound is returned if the object is not in
// the packfile
func (pck *Pack) Object(oid githash.Oid) (*object.Object, error) {
	pck.mu.Lock()
	defer pck.mu.Unlock()

	objectOffset, err := pck.idx.ObjectOffset(oid)
	if err != nil {
		return nil, err
	}
	typ, data, err := pck.objectAt(objectOffset, 0)
	if err != nil {
		return nil, fmt.Errorf("could not read object %s: %w", oid.String(), err)
	}
	o := object.New(pck.hash, typ, data)
	if o.ID() != oid {
		return nil, fmt.Errorf("object stored as %s has the id %s: %w", oid.String(), o.ID().String(), ErrInvalidPack)
	}
	return o, nil
}

// HasObject returns whether the packfile contains the given object
func (pck *Pack) HasObject(oid githash.Oid) (bool, error) {
	_, err := pck.idx.ObjectOffset(oid)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ginternals.ErrObjectNotFound) {
		return false, nil
	}
	return false, err
}

// MatchPrefix returns all the IDs of the packfile that start by the
// given lowercase hexadecimal prefix
func (pck *Pack) MatchPrefix(prefix string) ([]githash.Oid, error) {
	return pck.idx.MatchPrefix(prefix)
}

// ObjectIDs returns the IDs of all the objects of the packfile
func (pck *Pack) ObjectIDs() ([]githash.Oid, error) {
	return pck.idx.ObjectIDs()
}

// ObjectCount returns the number of objects in the packfile
func (pck *Pack) ObjectCount() uint32 {
	return binary.BigEndian.Uint32(pck.header[8:])
}

// ID returns the ID of the packfile, which is the checksum stored at
// the end of the file
func (pck *Pack) ID() (githash.Oid, error) {
	pck.mu.Lock()
	defer pck.mu.Unlock()

	if pck.id != nil {
		return pck.id, nil
	}

	id := make([]byte, pck.hash.OidSize())
	if _, err := pck.r.ReadAt(id, pck.size-int64(len(id))); err != nil {
		return nil, fmt.Errorf("could not read the ID: %w: %w", err, ginternals.ErrStorage)
	}
	oid, err := pck.hash.ConvertFromBytes(id)
	if err != nil {
		return nil, fmt.Errorf("could not generate oid from %v: %s: %w", id, err.Error(), ErrInvalidPack)
	}
	pck.id = oid
	return pck.id, nil
}

// Close frees the resources
func (pck *Pack) Close() error {
	pck.mu.Lock()
	defer pck.mu.Unlock()

	packErr := pck.r.Close()
	idxErr := pck.idxFile.Close()
	if packErr != nil {
		return packErr //nolint:wrapcheck // the error is already descriptive
	}
	if idxErr != nil {
		return idxErr //nolint:wrapcheck // the error is already descriptive
	}
	return nil
}

// readSize reads a size stored as little-endian chunks of 7 bits, the
// MSB of each byte telling if the next byte is part of the size
func readSize(data []byte) (size uint64, bytesRead int, err error) {
	for i, b := range data {
		bytesRead++
		if i > 9 {
			return 0, 0, ErrIntOverflow
		}
		size |= uint64(unsetMSB(b)) << (uint(i) * 7)
		if !isMSBSet(b) {
			return size, bytesRead, nil
		}
	}
	return 0, 0, fmt.Errorf("size is not terminated: %w", ErrInvalidPack)
}

// readDeltaOffset reads the provided bytes to extract a delta offset.
// The format of the each byte is:
// - 1 bit (MSB) that is used to know if we need to read the next byte
// - 7 bits that contains a chunk of offset
// The offset is big-endian encoded, and each chunk but the last one
// is stored minus one.
func readDeltaOffset(data []byte) (offset uint64, bytesRead int, err error) {
	for i, b := range data {
		bytesRead++
		if i > 0 {
			offset++
		}
		offset = offset<<7 + uint64(unsetMSB(b))
		if !isMSBSet(b) {
			return offset, bytesRead, nil
		}
	}
	return 0, 0, ErrIntOverflow
}

// isMSBSet checks if the MSB of a byte is set to 1.
// The MSB is the first bit on the left
func isMSBSet(b byte) bool {
	return b >= 0b_1000_0000
}

// unsetMSB set the most left bit of the byte to 0
func unsetMSB(b byte) byte {
	return b & 0b_0111_1111
}
