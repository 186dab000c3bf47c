package githash

import (
	"crypto/sha256"
	"encoding/hex"
)

const sha256OidSize = sha256.Size

var sha256NullOid = sha256Oid{}

type sha256Hash struct{}

// NewSHA256 returns the SHA-256 hash, used by repositories created
// with extensions.objectformat=sha256
func NewSHA256() Hash {
	return sha256Hash{}
}

func (sha256Hash) Name() string {
	return "sha256"
}

func (sha256Hash) OidSize() int {
	return sha256OidSize
}

func (sha256Hash) Sum(bytes []byte) Oid {
	return sha256Oid(sha256.Sum256(bytes))
}

func (h sha256Hash) ConvertFromString(id string) (Oid, error) {
	raw, err := decodeHex(id, sha256OidSize)
	if err != nil {
		return sha256NullOid, err
	}
	return h.ConvertFromBytes(raw)
}

func (h sha256Hash) ConvertFromChars(id []byte) (Oid, error) {
	return h.ConvertFromString(string(id))
}

func (sha256Hash) ConvertFromBytes(id []byte) (Oid, error) {
	if len(id) != sha256OidSize {
		return sha256NullOid, ErrInvalidOid
	}
	var oid sha256Oid
	copy(oid[:], id)
	return oid, nil
}

func (sha256Hash) NullOid() Oid {
	return sha256NullOid
}

type sha256Oid [sha256OidSize]byte

func (o sha256Oid) Bytes() []byte {
	return o[:]
}

func (o sha256Oid) String() string {
	return hex.EncodeToString(o[:])
}

func (o sha256Oid) IsZero() bool {
	return o == sha256NullOid
}
