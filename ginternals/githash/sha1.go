package githash

import (
	"crypto/sha1" //nolint:gosec // sha1 is what git uses by default
	"encoding/hex"
)

const sha1OidSize = sha1.Size

var sha1NullOid = sha1Oid{}

type sha1Hash struct{}

// NewSHA1 returns the SHA-1 hash, used by default by git
func NewSHA1() Hash {
	return sha1Hash{}
}

func (sha1Hash) Name() string {
	return "sha1"
}

func (sha1Hash) OidSize() int {
	return sha1OidSize
}

func (sha1Hash) Sum(bytes []byte) Oid {
	return sha1Oid(sha1.Sum(bytes)) //nolint:gosec // see import
}

func (h sha1Hash) ConvertFromString(id string) (Oid, error) {
	raw, err := decodeHex(id, sha1OidSize)
	if err != nil {
		return sha1NullOid, err
	}
	return h.ConvertFromBytes(raw)
}

func (h sha1Hash) ConvertFromChars(id []byte) (Oid, error) {
	return h.ConvertFromString(string(id))
}

func (sha1Hash) ConvertFromBytes(id []byte) (Oid, error) {
	if len(id) != sha1OidSize {
		return sha1NullOid, ErrInvalidOid
	}
	var oid sha1Oid
	copy(oid[:], id)
	return oid, nil
}

func (sha1Hash) NullOid() Oid {
	return sha1NullOid
}

// sha1Oid is comparable with ==, which is what callers rely on to
// compare ids
type sha1Oid [sha1OidSize]byte

func (o sha1Oid) Bytes() []byte {
	return o[:]
}

func (o sha1Oid) String() string {
	return hex.EncodeToString(o[:])
}

func (o sha1Oid) IsZero() bool {
	return o == sha1NullOid
}
