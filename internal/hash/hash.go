// Package hash implements the object-hashing rules the pack engine relies
// on for identity: the canonical "<type> <size>\0"+payload SHA-1 preimage,
// and hex<->binary conversions for the 20-byte hash.
package hash

import (
	"encoding/hex"
	"errors"
	"slices"
)

// Hash is the raw 20-byte binary form of a Git object id.
type Hash []byte

// Zero is the empty hash, used as a sentinel for "no hash".
var Zero Hash

// ErrCorruptHash is returned when a hex string cannot be decoded into a hash.
var ErrCorruptHash = errors.New("corrupt hash: not a valid hex string")

// FromHex decodes a lowercase hex string into a Hash.
func FromHex(s string) (Hash, error) {
	if s == "" {
		return Zero, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, ErrCorruptHash
	}
	return Hash(b), nil
}

// MustFromHex is like FromHex but panics on invalid input. Intended for
// tests and compile-time-known constants.
func MustFromHex(s string) Hash {
	h, err := FromHex(s)
	if err != nil {
		panic(err)
	}
	return h
}

// String returns the lowercase hex form of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h)
}

// Is reports whether h and other contain the same bytes.
func (h Hash) Is(other Hash) bool {
	return slices.Equal(h, other)
}

// IsZero reports whether h is the empty/unset hash.
func (h Hash) IsZero() bool {
	return len(h) == 0
}
