// Package idgen generates the identifiers snapd hands out: request ids for
// logs and the journal, and short collision-free tokens for per-request
// work directories.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator of base-36 tokens of the given length. Used
// for temp directory names where a full UUID is too verbose.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings (time-sortable).
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends a fixed prefix to every id of gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

var (
	// Default is used for request ids.
	Default Generator = UUIDv7()

	// Token is used for work directory and temp file names.
	Token Generator = NanoID(12)
)

// New produces a request id.
func New() string {
	return Default()
}

// NewToken produces a short filesystem-safe token.
func NewToken() string {
	return Token()
}
