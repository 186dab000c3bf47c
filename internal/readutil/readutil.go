// Package readutil contains helpers to read raw git data
package readutil

import "bytes"

// BufferedReader is a reader that can skip data without copying it,
// like *bufio.Reader
type BufferedReader interface {
	Discard(n int) (discarded int, err error)
	Read(p []byte) (n int, err error)
}

// ReadTo returns the bytes of b located before the first occurrence
// of delim. nil is returned if delim is not in b
func ReadTo(b []byte, delim byte) []byte {
	i := bytes.IndexByte(b, delim)
	if i < 0 {
		return nil
	}
	return b[:i:i]
}
