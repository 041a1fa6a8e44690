package ids

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"errors"
)

// Kind tags a derived identifier with the type of resource it names.
type Kind string

const (
	KindSpace         Kind = "space"
	KindAuthorization Kind = "auth"
)

// ErrInvalidLength is returned by a Codec that refuses the digest it was given.
var ErrInvalidLength = errors.New("ids: invalid digest length")

// Codec turns a fixed-width digest plus a kind tag into a textual identifier.
// The production chain uses an SS58-style encoder; the default here is a
// base32 rendering with a kind prefix. Implementations must be deterministic.
type Codec interface {
	CreateIdentifier(digest []byte, kind Kind) (string, error)
}

// Derive hashes the ordered parts into a canonical identifier for the given
// kind. Each part is length-prefixed before hashing so that part boundaries
// are preserved; the same inputs always yield the same identifier.
func Derive(codec Codec, kind Kind, parts ...[]byte) (string, error) {
	h := sha256.New()
	var prefix [4]byte
	for _, p := range parts {
		binary.BigEndian.PutUint32(prefix[:], uint32(len(p)))
		h.Write(prefix[:])
		h.Write(p)
	}
	return codec.CreateIdentifier(h.Sum(nil), kind)
}

// Base32Codec is the default identifier codec. It accepts only 32-byte
// digests and renders them as lowercase unpadded base32 with a kind prefix.
type Base32Codec struct{}

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func (Base32Codec) CreateIdentifier(digest []byte, kind Kind) (string, error) {
	if len(digest) != sha256.Size {
		return "", ErrInvalidLength
	}
	return string(kind) + ":" + encoding.EncodeToString(digest), nil
}
