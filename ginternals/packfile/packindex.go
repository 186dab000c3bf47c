package packfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/internal/readutil"
)

const (
	layer1Size      = 1024
	layer3EntrySize = 4
	layer4EntrySize = 4
	layer5EntrySize = 8
)

// indexHeader represents the header of an index file.
// the first 4 bytes contain the magic, the 4 next bytes
// contains the version of the file.
// We only support Version 2
func indexHeader() []byte {
	return []byte{255, 't', 'O', 'c', 0, 0, 0, 2}
}

// PackIndex represents a packfile's PackIndex file (.idx)
// The index contains data to help parsing the packfile
// The index contains a header, 5 layers, and a footer.
// header: 8 bytes - See indexHeader to know the header format
// Layer1: 1024 bytes. Contains 256 entries of 4 bytes.
//
//	Each entry contains the CUMULATIVE number of objects having
//	a oid starting by oid[0].
//	To get the total of object starting with 9b, you will need
//	to look at the previous entry (9a at 154 * 4), and do
//	total_at_9b = cumul_9b - cummul_9a
//
// Layer2: x*OidSize bytes - Contains the sorted IDs of all the objects
// contained in the packfile
// Layer3: x*4 bytes - Contains a CRC value for each object.
// Layer4: x*4 - Contains the offset of each objects inside the packfile.
//
//	The MSB of an entry is not part of the offset. When it's set, the
//	31 remaining bits are the position of the real offset in layer5.
//
// Layer5: y*8 bytes - Only exists for packfile bigger than 2GB.
//
//	The 64 bits offsets that didn't fit in layer4.
//
// Footer: 2*OidSize bytes - the checksum of the packfile followed by
// the checksum of the index file.
//
// https://git-scm.com/docs/pack-format
//
//nolint:govet // aligning the memory makes the struct harder to read since we want to keep "parseError" and "parsed" together
type PackIndex struct {
	mu sync.Mutex

	hash githash.Hash

	r          readutil.BufferedReader
	oids       []githash.Oid
	hashOffset map[githash.Oid]uint64

	parseError error
	parsed     bool
}

// NewIndex returns an index object from the given reader.
// The reader is consumed the first time the index is used
func NewIndex(r readutil.BufferedReader, hash githash.Hash) (idx *PackIndex, err error) {
	// Let's validate the header
	header := make([]byte, len(indexHeader()))
	_, err = io.ReadFull(r, header)
	if err != nil {
		return nil, fmt.Errorf("could read header of index file: %s: %w", err.Error(), ErrInvalidIndex)
	}
	if !bytes.Equal(header[:4], indexHeader()[:4]) {
		return nil, fmt.Errorf("invalid header: %w", ErrInvalidMagic)
	}
	if !bytes.Equal(header[4:], indexHeader()[4:]) {
		return nil, fmt.Errorf("invalid header: %w", ErrInvalidVersion)
	}

	return &PackIndex{
		r:    r,
		hash: hash,
	}, nil
}

// ObjectOffset returns the offset of Oid in the packfile
// If the object is not found ginternals.ErrObjectNotFound is returned
func (idx *PackIndex) ObjectOffset(oid githash.Oid) (uint64, error) {
	if err := idx.parse(); err != nil {
		return 0, err
	}
	offset, exists := idx.hashOffset[oid]
	if !exists {
		return 0, fmt.Errorf("%s: %w", oid.String(), ginternals.ErrObjectNotFound)
	}
	return offset, nil
}

// Count returns the number of objects in the index
func (idx *PackIndex) Count() (int, error) {
	if err := idx.parse(); err != nil {
		return 0, err
	}
	return len(idx.oids), nil
}

// ObjectIDs returns the IDs of all the objects of the packfile, sorted
func (idx *PackIndex) ObjectIDs() ([]githash.Oid, error) {
	if err := idx.parse(); err != nil {
		return nil, err
	}
	out := make([]githash.Oid, len(idx.oids))
	copy(out, idx.oids)
	return out, nil
}

// MatchPrefix returns all the IDs starting by the given lowercase
// hexadecimal prefix
func (idx *PackIndex) MatchPrefix(prefix string) ([]githash.Oid, error) {
	if err := idx.parse(); err != nil {
		return nil, err
	}
	// the oids are sorted so all the matches are next to each other
	i := sort.Search(len(idx.oids), func(i int) bool {
		return strings.Compare(idx.oids[i].String(), prefix) >= 0
	})
	out := []githash.Oid{}
	for ; i < len(idx.oids) && githash.HasHexPrefix(idx.oids[i], prefix); i++ {
		out = append(out, idx.oids[i])
	}
	return out, nil
}

// parse extracts all the data from the index and puts them in memory.
func (idx *PackIndex) parse() (err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	// No reason to call this method more than once
	if idx.parsed {
		return nil
	}

	// If the method failed, then there's no reason to try again,
	// especially that the underlying reader doesn't get its cursor
	// reset
	if idx.parseError != nil {
		return idx.parseError
	}
	defer func() {
		if err != nil {
			err = fmt.Errorf("could not parse the index file: %w", err)
			idx.parseError = err
		}
	}()

	bufInt32 := make([]byte, 4)
	bufInt64 := make([]byte, 8)
	bufOid := make([]byte, idx.hash.OidSize())

	// First we parse layer1 to get the count of objects in the packfile.
	// Since layer1 stores a cumul, all we have to do is to get the number
	// at the last position, which is at 0xff (or 255).
	lastEntryRelOffset := 255 * 4 // an entry is an int32, so 4 bytes
	if _, err = idx.r.Discard(lastEntryRelOffset); err != nil {
		return fmt.Errorf("could not move pointer to the last entry of layer1: %s: %w", err.Error(), ErrInvalidIndex)
	}
	if _, err = io.ReadFull(idx.r, bufInt32); err != nil {
		return fmt.Errorf("couldn't get the total number of objects: %s: %w", err.Error(), ErrInvalidIndex)
	}
	objectCount := int(binary.BigEndian.Uint32(bufInt32))

	// layer2 contains all the oids back-to-back
	layer2offset := len(indexHeader()) + layer1Size
	idx.oids = make([]githash.Oid, 0, objectCount)
	for i := 0; i < objectCount; i++ {
		currentOffset := layer2offset + i*idx.hash.OidSize()
		if _, err = io.ReadFull(idx.r, bufOid); err != nil {
			return fmt.Errorf("couldn't get the oid at offset %d: %s: %w", currentOffset, err.Error(), ErrInvalidIndex)
		}
		oid, err := idx.hash.ConvertFromBytes(bufOid)
		if err != nil {
			return fmt.Errorf("invalid oid at offset %d: %s: %w", currentOffset, err.Error(), ErrInvalidIndex)
		}
		idx.oids = append(idx.oids, oid)
	}

	// We don't verify the CRCs, they are only useful when copying
	// objects from one pack to another
	layer3Size := objectCount * layer3EntrySize
	if _, err = idx.r.Discard(layer3Size); err != nil {
		return fmt.Errorf("could not skip layer3: %s: %w", err.Error(), ErrInvalidIndex)
	}

	// Because we use a buffered reader, we cannot go back and forth
	// between layer4 and 5, so the objects of layer5 are resolved
	// once layer4 is parsed
	type layer5Data struct {
		oid      githash.Oid
		position uint64
	}
	layer5Entries := []layer5Data{}

	idx.hashOffset = make(map[githash.Oid]uint64, objectCount)
	for _, oid := range idx.oids {
		if _, err = io.ReadFull(idx.r, bufInt32); err != nil {
			return fmt.Errorf("couldn't read offset of oid %s (layer4): %s: %w", oid.String(), err.Error(), ErrInvalidIndex)
		}
		entry := binary.BigEndian.Uint32(bufInt32)

		// The MSB tells if the offset is in layer5, the 31 other bits
		// are either the offset or the position in layer5
		offset := uint64(entry & 0x7fff_ffff)
		if entry>>31 == 1 {
			layer5Entries = append(layer5Entries, layer5Data{
				oid:      oid,
				position: offset,
			})
			continue
		}
		idx.hashOffset[oid] = offset
	}

	// layer5 has to be read in order
	sort.Slice(layer5Entries, func(i, j int) bool { return layer5Entries[i].position < layer5Entries[j].position })
	next := uint64(0)
	for _, data := range layer5Entries {
		if data.position < next {
			return fmt.Errorf("oid %s shares its layer5 entry with another object: %w", data.oid.String(), ErrInvalidIndex)
		}
		if skip := int(data.position-next) * layer5EntrySize; skip > 0 {
			if _, err = idx.r.Discard(skip); err != nil {
				return fmt.Errorf("could not reach layer5 entry %d: %s: %w", data.position, err.Error(), ErrInvalidIndex)
			}
		}
		if _, err = io.ReadFull(idx.r, bufInt64); err != nil {
			return fmt.Errorf("couldn't read offset of oid %s (layer5): %s: %w", data.oid.String(), err.Error(), ErrInvalidIndex)
		}
		idx.hashOffset[data.oid] = binary.BigEndian.Uint64(bufInt64)
		next = data.position + 1
	}
	idx.parsed = true
	return nil
}
