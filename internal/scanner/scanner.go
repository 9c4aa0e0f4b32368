// Package scanner enumerates a local directory tree so repair can compare
// what's actually on disk against the remote's recorded tree, and so an
// incremental pull's ref-delta bases can be resolved against objects
// gitup already materialized on a previous run.
package scanner

import (
	"crypto/sha1" //nolint:gosec // path-identity marker, not a security hash
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/emaste/gitup/internal/hash"
	"github.com/emaste/gitup/internal/object"
	"github.com/emaste/gitup/internal/xerrors"
)

// Entry is one file or symlink found under the scanned root, with its
// path relative to that root (using "/" separators regardless of OS) and
// its blob hash as Git would compute it.
type Entry struct {
	Path string
	Hash hash.Hash
	// Ignored marks an entry matching one of the configured ignore
	// prefixes: its Hash is a stable per-path marker (SHA-1 of the
	// entry's absolute path), not its content hash, since gitup never
	// reads ignored file contents.
	Ignored bool
}

// Scan walks root and returns every regular file and symlink found,
// refusing to proceed if root already contains a .git directory — gitup
// materializes a plain tree with no Git metadata of its own and won't
// coexist with or silently adopt an existing Git working copy.
func Scan(root string, ignorePrefixes []string) ([]Entry, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, xerrors.New(xerrors.IOFailure, err)
	}

	if info, err := os.Stat(filepath.Join(absRoot, ".git")); err == nil && info.IsDir() {
		return nil, xerrors.Newf(xerrors.CoexistenceRefused, "%s already contains a .git directory", absRoot)
	}

	var entries []Entry
	err = filepath.Walk(absRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if ignored := matchesIgnorePrefix(rel, ignorePrefixes); ignored {
			entries = append(entries, Entry{Path: rel, Hash: identityHash(path), Ignored: true})
			return nil
		}

		h, err := hash.FileBlob(path)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Path: rel, Hash: h})
		return nil
	})
	if err != nil {
		return nil, xerrors.New(xerrors.IOFailure, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func matchesIgnorePrefix(relPath string, prefixes []string) bool {
	for _, p := range prefixes {
		p = strings.TrimSuffix(p, "/")
		if relPath == p || strings.HasPrefix(relPath, p+"/") {
			return true
		}
	}
	return false
}

// identityHash gives an ignored path a stable, content-independent marker
// so repair's defect comparison has something consistent to diff against
// run over run, without gitup ever reading the ignored file's bytes.
func identityHash(absPath string) hash.Hash {
	sum := sha1.Sum([]byte(absPath)) //nolint:gosec
	return hash.Hash(sum[:])
}

// Local reads and hashes files on demand under Root: Lookup by relative
// path, and HashLookup as a delta.LocalLookup-shaped func, for ref-delta
// bases and store misses that need to resolve a hash back to content
// without a full upfront scan.
type Local struct {
	Root string
}

// Lookup finds the file at Root+relPath, if any, and returns its content
// and blob hash. It searches by path only — gitup has no reverse hash
// index of the working tree — so callers must already know which
// relative path they expect a hash to name.
func (l Local) Lookup(relPath string) (data []byte, h hash.Hash, ok bool) {
	full := filepath.Join(l.Root, filepath.FromSlash(relPath))
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, hash.Zero, false
	}
	return content, hash.Blob(content), true
}

// HashLookup adapts Local into the hash-keyed shape internal/delta's
// ref-delta base resolution needs, using byHash (a manifest's
// Manifest.ByHash() index) to turn a base hash back into the relative
// path it was last materialized under. The looked-up file's content is
// re-hashed and compared against the requested hash before it's trusted
// as a delta base — a stale or drifted local copy must not silently
// stand in for the object the server actually deltas against.
func (l Local) HashLookup(byHash map[string]string) func(h hash.Hash) (data []byte, typ object.Type, ok bool) {
	return func(h hash.Hash) ([]byte, object.Type, bool) {
		path, ok := byHash[h.String()]
		if !ok {
			return nil, 0, false
		}
		data, got, ok := l.Lookup(path)
		if !ok || !got.Is(h) {
			return nil, 0, false
		}
		return data, object.TypeBlob, true
	}
}
