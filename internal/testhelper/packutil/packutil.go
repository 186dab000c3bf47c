// Package packutil contains helpers to generate packfiles in tests
package packutil

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
)

// Types of the entries of a packfile
const (
	TypeOfsDelta object.Type = 6
	TypeRefDelta object.Type = 7
)

// Entry represents an object to store in a packfile
type Entry struct {
	// Object is the object the entry represents. For deltas, Object
	// is the result of the delta
	Object *object.Object
	// Type is the type used to store the object. Defaults to the
	// type of the object
	Type object.Type
	// Base is the position in the pack of the base of a delta
	Base int
	// Delta contains the delta instructions, see Copy and Insert
	Delta []byte
}

// Copy returns a delta instruction that copies size bytes of the
// base, starting at offset
func Copy(offset, size uint32) []byte {
	instr := byte(0x80)
	args := []byte{}
	for i := uint(0); i < 4; i++ {
		if b := byte(offset >> (8 * i)); b != 0 {
			instr |= 1 << i
			args = append(args, b)
		}
	}
	for i := uint(0); i < 3; i++ {
		if b := byte(size >> (8 * i)); b != 0 {
			instr |= 1 << (4 + i)
			args = append(args, b)
		}
	}
	return append([]byte{instr}, args...)
}

// Insert returns a delta instruction that adds data to the output.
// data cannot be longer than 127 bytes
func Insert(data []byte) []byte {
	return append([]byte{byte(len(data))}, data...)
}

// DeltaHeader returns the header of a delta
func DeltaHeader(sourceSize, targetSize int) []byte {
	return append(varint(uint64(sourceSize)), varint(uint64(targetSize))...)
}

func varint(n uint64) []byte {
	out := []byte{}
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// objectHeader encodes the type and the size of an object
func objectHeader(typ object.Type, size uint64) []byte {
	b := byte(typ)<<4 | byte(size&0x0f)
	size >>= 4
	out := []byte{}
	for size != 0 {
		out = append(out, b|0x80)
		b = byte(size & 0x7f)
		size >>= 7
	}
	return append(out, b)
}

// ofsOffset encodes the distance between a delta and its base
func ofsOffset(n uint64) []byte {
	out := []byte{byte(n & 0x7f)}
	for n >>= 7; n != 0; n >>= 7 {
		n--
		out = append([]byte{byte(0x80 | (n & 0x7f))}, out...)
	}
	return out
}

func compress(t *testing.T, data []byte) []byte {
	t.Helper()

	buf := new(bytes.Buffer)
	zw := zlib.NewWriter(buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// Build returns the content of a packfile containing the given
// entries, and the content of its index
func Build(t *testing.T, hash githash.Hash, entries []Entry) (pack, idx []byte) {
	t.Helper()

	buf := new(bytes.Buffer)
	buf.WriteString("PACK")
	buf.Write([]byte{0, 0, 0, 2})
	require.NoError(t, binary.Write(buf, binary.BigEndian, uint32(len(entries))))

	offsets := make([]uint64, len(entries))
	for i, e := range entries {
		offsets[i] = uint64(buf.Len())
		typ := e.Type
		if typ == 0 {
			typ = e.Object.Type()
		}
		data := e.Object.Bytes()
		if typ == TypeOfsDelta || typ == TypeRefDelta {
			data = e.Delta
		}
		buf.Write(objectHeader(typ, uint64(len(data))))
		switch typ { //nolint:exhaustive // only deltas need extra data
		case TypeOfsDelta:
			buf.Write(ofsOffset(offsets[i] - offsets[e.Base]))
		case TypeRefDelta:
			buf.Write(entries[e.Base].Object.ID().Bytes())
		}
		buf.Write(compress(t, data))
	}
	packSum := hash.Sum(buf.Bytes())
	buf.Write(packSum.Bytes())
	pack = buf.Bytes()

	type idxEntry struct {
		oid    githash.Oid
		offset uint64
	}
	sorted := make([]idxEntry, len(entries))
	for i, e := range entries {
		sorted[i] = idxEntry{oid: e.Object.ID(), offset: offsets[i]}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].oid.Bytes(), sorted[j].oid.Bytes()) < 0
	})

	out := new(bytes.Buffer)
	out.Write([]byte{255, 't', 'O', 'c', 0, 0, 0, 2})
	var fanout [256]uint32
	for _, e := range sorted {
		for b := int(e.oid.Bytes()[0]); b < 256; b++ {
			fanout[b]++
		}
	}
	require.NoError(t, binary.Write(out, binary.BigEndian, fanout))
	for _, e := range sorted {
		out.Write(e.oid.Bytes())
	}
	// CRCs are not verified
	out.Write(make([]byte, 4*len(sorted)))
	large := []uint64{}
	for _, e := range sorted {
		if e.offset < 1<<31 {
			require.NoError(t, binary.Write(out, binary.BigEndian, uint32(e.offset)))
			continue
		}
		require.NoError(t, binary.Write(out, binary.BigEndian, uint32(1<<31|len(large))))
		large = append(large, e.offset)
	}
	for _, offset := range large {
		require.NoError(t, binary.Write(out, binary.BigEndian, offset))
	}
	out.Write(packSum.Bytes())
	out.Write(hash.Sum(out.Bytes()).Bytes())
	return pack, out.Bytes()
}

// Write stores a packfile and its index in dir, and returns the path
// of the packfile
func Write(t *testing.T, fs afero.Fs, dir string, hash githash.Hash, entries []Entry) string {
	t.Helper()

	pack, idx := Build(t, hash, entries)
	// packfiles are named after their checksum
	sum, err := hash.ConvertFromBytes(pack[len(pack)-hash.OidSize():])
	require.NoError(t, err)
	name := "pack-" + sum.String()
	require.NoError(t, fs.MkdirAll(dir, 0o755))
	packPath := filepath.Join(dir, name+".pack")
	require.NoError(t, afero.WriteFile(fs, packPath, pack, 0o444))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, name+".idx"), idx, 0o444))
	return packPath
}
