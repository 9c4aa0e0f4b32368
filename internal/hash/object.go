package hash

import (
	"crypto/sha1" //nolint:gosec // Git's object hashing is defined in terms of SHA-1.
	"hash"
	"os"
	"strconv"

	"github.com/emaste/gitup/internal/object"
)

// Hasher accumulates a Git object hash. NewHasher already wrote the object
// header, so the caller only needs to write the payload.
type Hasher struct {
	hash.Hash
}

// NewHasher starts a SHA-1 hash primed with the canonical Git object header
// "<type> <size>\0", matching the preimage Git itself hashes objects with.
func NewHasher(t object.Type, size int64) Hasher {
	h := Hasher{Hash: sha1.New()} //nolint:gosec
	_, _ = h.Write(t.Bytes())
	_, _ = h.Write([]byte(" "))
	_, _ = h.Write([]byte(strconv.FormatInt(size, 10)))
	_, _ = h.Write([]byte{0})
	return h
}

// Object computes the canonical hash of a Git object of type t containing
// payload.
func Object(t object.Type, payload []byte) Hash {
	h := NewHasher(t, int64(len(payload)))
	_, _ = h.Write(payload)
	return h.Sum(nil)
}

// Blob hashes a regular file's contents as a blob object.
func Blob(content []byte) Hash {
	return Object(object.TypeBlob, content)
}

// FileBlob hashes a file on disk as a blob would be hashed: a symlink
// hashes its link target string, a regular file hashes its contents.
func FileBlob(path string) (Hash, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return Zero, err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return Zero, err
		}
		return Blob([]byte(target)), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Zero, err
	}
	return Blob(content), nil
}
