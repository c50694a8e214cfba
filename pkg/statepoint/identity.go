package statepoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// IDLength is the length of an ID in hexadecimal characters.
const IDLength = sha256.Size * 2

// ID is the content-derived identity of a statepoint: the lowercase hex
// SHA-256 digest of its canonical encoding.
type ID string

// String returns the hex digest.
func (id ID) String() string { return string(id) }

// ParseID validates s as an ID.
func ParseID(s string) (ID, error) {
	if len(s) != IDLength {
		return "", fmt.Errorf("invalid job id %q: want %d hex characters", s, IDLength)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("invalid job id %q: not lowercase hex", s)
		}
	}
	return ID(s), nil
}

// Identity returns the ID of a statepoint.
func Identity(sp Object) (ID, error) {
	return Encoder{}.Identity(sp)
}

// Digest returns the ID of an arbitrary value. For Objects it equals Identity.
func Digest(v Value) (ID, error) {
	return Encoder{}.Digest(v)
}

// Identity returns the ID of sp under this encoder's depth limit.
func (e Encoder) Identity(sp Object) (ID, error) {
	if sp == nil {
		sp = Object{}
	}
	return e.Digest(sp)
}

// Digest hashes the canonical encoding of v.
func (e Encoder) Digest(v Value) (ID, error) {
	b, err := e.Encode(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return ID(hex.EncodeToString(sum[:])), nil
}
