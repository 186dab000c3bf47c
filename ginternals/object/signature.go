package object

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vcskit/gitcore/internal/readutil"
)

// ErrSignatureInvalid is an error thrown when a signature couldn't be
// parsed
var ErrSignatureInvalid = errors.New("signature is invalid")

// Signature represents the identity of a person at a given time.
// It's used for authors, committers, taggers, and in the reflog
type Signature struct {
	Time  time.Time
	Name  string
	Email string
}

// String returns the signature the way git stores it:
// Name <email> timestamp timezone
func (s Signature) String() string {
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.Time.Unix(), s.Time.Format("-0700"))
}

// IsZero returns whether the signature has Zero value
func (s Signature) IsZero() bool {
	return s.Time.IsZero() && s.Name == "" && s.Email == ""
}

// NewSignature generates a signature at the current date and time
func NewSignature(name, email string) Signature {
	return Signature{
		Name:  name,
		Email: email,
		Time:  time.Now(),
	}
}

// NewSignatureFromBytes returns a signature from an array of byte
//
// A signature has the following format:
// User Name <user.email@domain.tld> timestamp timezone
// Ex:
// Melvin Laplanche <melvin.wont.reply@gmail.com> 1566115917 -0700
func NewSignatureFromBytes(b []byte) (Signature, error) {
	sig := Signature{}

	// The name goes up to the "<", with an extra space we trim
	data := readutil.ReadTo(b, '<')
	if data == nil {
		if len(b) == 0 {
			return sig, fmt.Errorf("couldn't retrieve the name: %w", ErrSignatureInvalid)
		}
		return sig, fmt.Errorf("signature stopped after the name: %w", ErrSignatureInvalid)
	}
	sig.Name = strings.TrimSpace(string(data))
	offset := len(data) + 1 // +1 to skip the "<"
	if offset >= len(b) {
		return sig, fmt.Errorf("couldn't retrieve the email: %w", ErrSignatureInvalid)
	}

	// The email is between "<" and ">"
	data = readutil.ReadTo(b[offset:], '>')
	if data == nil {
		return sig, fmt.Errorf("couldn't retrieve the email: %w", ErrSignatureInvalid)
	}
	sig.Email = string(data)
	offset += len(data) + 2 // +2 to skip the "> "
	if offset >= len(b) {
		return sig, fmt.Errorf("signature stopped after the email: %w", ErrSignatureInvalid)
	}

	timestamp := readutil.ReadTo(b[offset:], ' ')
	if len(timestamp) == 0 {
		return sig, fmt.Errorf("couldn't retrieve the timestamp: %w", ErrSignatureInvalid)
	}
	offset += len(timestamp) + 1 // +1 to skip the " "
	if offset >= len(b) {
		return sig, fmt.Errorf("signature stopped after the timestamp: %w", ErrSignatureInvalid)
	}

	t, err := strconv.ParseInt(string(timestamp), 10, 64)
	if err != nil {
		return sig, fmt.Errorf("invalid timestamp %s: %w", timestamp, ErrSignatureInvalid)
	}

	// To get the timezone we parse an empty date with only the timezone
	// set and copy its location over
	timezone := b[offset:]
	tz, err := time.Parse("-0700", string(timezone))
	if err != nil {
		return sig, fmt.Errorf("invalid timezone format %s: %w", timezone, ErrSignatureInvalid)
	}
	sig.Time = time.Unix(t, 0).In(tz.Location())
	return sig, nil
}
