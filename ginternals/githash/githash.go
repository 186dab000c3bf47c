// Package githash contains the hash algorithms supported by git and the
// object IDs they produce
package githash

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidOid is returned when a given value isn't a valid Oid
	ErrInvalidOid = errors.New("invalid Oid")

	// ErrInvalidPrefix is returned when a short hex id cannot be used
	// to look up an object
	ErrInvalidPrefix = errors.New("invalid object id prefix")

	// ErrUnknownHash is returned when the name of a hash algorithm
	// isn't supported
	ErrUnknownHash = errors.New("unknown hash algorithm")
)

// MinPrefixLength is the minimum amount of hex chars needed to look up
// an object by a short id
const MinPrefixLength = 4

// Hash represents an Hash algorithm supported by Git
type Hash interface {
	// Name returns the name of the hash, as stored in
	// extensions.objectformat
	Name() string
	// OidSize returns the size of a raw Oid, in bytes
	OidSize() int
	// Sum returns the Oid of the given content.
	Sum(bytes []byte) Oid
	// ConvertFromString returns an Oid from its hex representation
	// For the SHA 9b91da06e69613397b38e0808e0ba5ee6983251b
	// the oid will be {0x9b, 0x91, 0xda, ...}
	ConvertFromString(id string) (Oid, error)
	// ConvertFromChars returns an Oid from hex chars
	// For the SHA {'9', 'b', '9', '1', 'd', 'a', ...}
	// the oid will be {0x9b, 0x91, 0xda, ...}
	ConvertFromChars(id []byte) (Oid, error)
	// ConvertFromBytes returns an Oid from a raw, byte-encoded, oid
	ConvertFromBytes(id []byte) (Oid, error)
	// NullOid returns an empty Oid
	NullOid() Oid
}

// Oid represents a git Object ID
type Oid interface {
	// Bytes returns the raw Oid as []byte.
	// This is different than doing []byte(oid.String())
	// For the oid 642480605b8b0fd464ab5762e044269cf29a60a3:
	// oid.Bytes(): []byte{ 0x64, 0x24, 0x80, ... }
	// []byte(oid.String()): []byte{ '6', '4', '2', '4', '8' '0', ... }
	Bytes() []byte

	// String returns the lowercase hex representation of the oid
	String() string

	// IsZero returns whether the oid has the zero value (NullOid)
	IsZero() bool
}

// New returns the Hash matching the given name.
// An empty name defaults to SHA-1
func New(name string) (Hash, error) {
	switch strings.ToLower(name) {
	case "", "sha1":
		return NewSHA1(), nil
	case "sha256":
		return NewSHA256(), nil
	default:
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownHash)
	}
}

// ValidatePrefix checks that the given string can be used as a short
// id for the provided hash. The returned prefix is lowercased.
func ValidatePrefix(h Hash, prefix string) (string, error) {
	if len(prefix) < MinPrefixLength {
		return "", fmt.Errorf("%q is shorter than %d chars: %w", prefix, MinPrefixLength, ErrInvalidPrefix)
	}
	if len(prefix) > h.OidSize()*2 {
		return "", fmt.Errorf("%q is longer than a full %s id: %w", prefix, h.Name(), ErrInvalidPrefix)
	}
	for _, c := range prefix {
		isHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
		if !isHex {
			return "", fmt.Errorf("%q contains non-hex char %q: %w", prefix, c, ErrInvalidPrefix)
		}
	}
	return strings.ToLower(prefix), nil
}

// HasHexPrefix returns whether the hex representation of the oid starts
// with the given lowercase prefix
func HasHexPrefix(oid Oid, prefix string) bool {
	raw := oid.Bytes()
	// We compare byte by byte to avoid encoding the whole oid
	for i := 0; i < len(prefix); i += 2 {
		b := raw[i/2]
		if i+1 == len(prefix) {
			return hexChar(b>>4) == prefix[i]
		}
		if hexChar(b>>4) != prefix[i] || hexChar(b&0x0f) != prefix[i+1] {
			return false
		}
	}
	return true
}

func hexChar(nibble byte) byte {
	const table = "0123456789abcdef"
	return table[nibble&0x0f]
}

// decodeHex decodes a full-length hex oid
func decodeHex(id string, size int) ([]byte, error) {
	if len(id) != size*2 {
		return nil, fmt.Errorf("expected %d chars, got %d: %w", size*2, len(id), ErrInvalidOid)
	}
	raw, err := hex.DecodeString(id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), ErrInvalidOid)
	}
	return raw, nil
}
