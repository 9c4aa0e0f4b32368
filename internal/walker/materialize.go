package walker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/emaste/gitup/internal/hash"
	"github.com/emaste/gitup/internal/object"
	"github.com/emaste/gitup/internal/xerrors"
)

// ObjectSource resolves an object's payload by hash — the object store
// populated by the pack engine, or a manifest-primed synthetic tree
// buffer during an incremental pull.
type ObjectSource interface {
	Get(h hash.Hash) (data []byte, typ object.Type, ok bool)
}

// Mode selects materialization behavior. Both modes skip a file whose
// on-disk hash already matches the tree's recorded hash (the walk
// contract's keep/save gate applies regardless of mode). Walk treats the
// two modes identically: the mode is passed down to the materializers
// but changes nothing they do, and it is not recorded in Stats.
type Mode int

const (
	// ModeWrite is used for clone and pull.
	ModeWrite Mode = iota
	// ModeRepair is used to rewrite paths a defect scan flagged.
	ModeRepair
)

// LocalFallback resolves a blob by hash from local disk when the object
// store doesn't have it — the walk contract's load_from_local(hash,
// path) step, reached when an incremental fetch's thin pack omitted an
// object the client already holds a byte-identical copy of. May be nil,
// in which case a missing store object is always fatal.
type LocalFallback func(h hash.Hash) (data []byte, typ object.Type, ok bool)

// Change is one path Walk added, updated, or removed, in the order
// encountered — the raw material for the CLI's verbosity-gated
// "+ path" / "* path" / "- path" display.
type Change struct {
	Path string
	Kind byte // '+' added, '*' updated, '-' removed
}

// Stats summarizes one Walk invocation's filesystem effects.
type Stats struct {
	FilesWritten int
	FilesSkipped int
	DirsCreated  int
	Deleted      int
	Changes      []Change
}

// Walk materializes the tree rooted at root into targetDir: creating
// directories, writing file and symlink entries, and — when deleteStale
// is true — removing local paths that the new tree no longer names.
// Every destination path is required to resolve inside targetDir;
// a tree entry whose name would escape it aborts the walk. fallback
// resolves a blob the object store doesn't have, for the case an
// incremental fetch didn't resend it because the client already has a
// byte-identical local copy; it may be nil.
func Walk(src ObjectSource, root hash.Hash, targetDir string, mode Mode, deleteStale bool, fallback LocalFallback) (*Stats, error) {
	absTarget, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, xerrors.New(xerrors.IOFailure, err)
	}

	stats := &Stats{}
	seen := map[string]bool{}

	if err := walkTree(src, fallback, root, absTarget, absTarget, mode, stats, seen); err != nil {
		return nil, err
	}

	if deleteStale {
		if err := pruneStale(absTarget, absTarget, seen, stats); err != nil {
			return nil, err
		}
	}

	return stats, nil
}

func walkTree(src ObjectSource, fallback LocalFallback, treeHash hash.Hash, dir, targetDir string, mode Mode, stats *Stats, seen map[string]bool) error {
	data, typ, ok := src.Get(treeHash)
	if !ok {
		return xerrors.Newf(xerrors.MissingObject, "tree object %s not found", treeHash.String())
	}
	if typ != object.TypeTree {
		return xerrors.Newf(xerrors.MissingObject, "object %s is a %s, not a tree", treeHash.String(), typ)
	}

	entries, err := ParseTree(data)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.New(xerrors.IOFailure, err)
	}

	for _, entry := range entries {
		dest, err := safeJoin(targetDir, dir, entry.Name)
		if err != nil {
			return err
		}
		seen[dest] = true

		switch entry.Kind {
		case KindDir:
			stats.DirsCreated++
			if err := walkTree(src, fallback, entry.Hash, dest, targetDir, mode, stats, seen); err != nil {
				return err
			}

		case KindGitlink:
			// Submodules have no tracked content of their own to fetch.
			continue

		case KindSymlink:
			if err := materializeSymlink(src, fallback, entry, dest, targetDir, mode, stats); err != nil {
				return err
			}

		default:
			if err := materializeFile(src, fallback, entry, dest, targetDir, mode, stats); err != nil {
				return err
			}
		}
	}
	return nil
}

// safeJoin joins dir and name and refuses the result if it would resolve
// outside targetDir — guards against a malicious or corrupt tree entry
// name containing ".." path segments.
func safeJoin(targetDir, dir, name string) (string, error) {
	joined := filepath.Join(dir, name)
	rel, err := filepath.Rel(targetDir, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", xerrors.Newf(xerrors.PathEscape, "tree entry %q escapes target directory", name)
	}
	return joined, nil
}

func materializeFile(src ObjectSource, fallback LocalFallback, entry Entry, dest, targetDir string, mode Mode, stats *Stats) error {
	_, statErr := os.Lstat(dest)
	existed := statErr == nil

	// keep/save gate: a path whose on-disk hash already matches the
	// tree's recorded hash is kept as-is and never rewritten, clone/pull
	// or repair alike — this is also what lets an incremental pull's
	// thin fetch, which never resends an object the client already has,
	// avoid ever needing that object's bytes at all.
	if existed {
		if existingHash, err := hash.FileBlob(dest); err == nil && existingHash.Is(entry.Hash) {
			stats.FilesSkipped++
			return nil
		}
	}

	data, typ, ok := src.Get(entry.Hash)
	if (!ok || typ != object.TypeBlob) && fallback != nil {
		data, typ, ok = fallback(entry.Hash)
	}
	if !ok || typ != object.TypeBlob {
		return xerrors.Newf(xerrors.MissingObject, "blob object %s not found", entry.Hash.String())
	}

	// Write with a conservative mode first, then chmod to the tree's
	// recorded permission bits, so a partially-written executable is
	// never momentarily runnable.
	if err := os.WriteFile(dest, data, 0o600); err != nil {
		return xerrors.New(xerrors.IOFailure, fmt.Errorf("writing %s: %w", dest, err))
	}
	perm := os.FileMode(0o644)
	if entry.Kind == KindExecutable {
		perm = 0o755
	}
	if err := os.Chmod(dest, perm); err != nil {
		return xerrors.New(xerrors.IOFailure, err)
	}

	stats.FilesWritten++
	stats.Changes = append(stats.Changes, Change{Path: displayPath(targetDir, dest), Kind: changeKind(existed)})
	return nil
}

func materializeSymlink(src ObjectSource, fallback LocalFallback, entry Entry, dest, targetDir string, mode Mode, stats *Stats) error {
	data, typ, ok := src.Get(entry.Hash)
	if (!ok || typ != object.TypeBlob) && fallback != nil {
		data, typ, ok = fallback(entry.Hash)
	}
	if !ok || typ != object.TypeBlob {
		return xerrors.Newf(xerrors.MissingObject, "symlink blob %s not found", entry.Hash.String())
	}
	target := string(data)

	existed := false
	if existing, err := os.Readlink(dest); err == nil {
		existed = true
		if existing == target {
			stats.FilesSkipped++
			return nil
		}
		_ = os.Remove(dest)
	}

	if err := os.Symlink(target, dest); err != nil {
		return xerrors.New(xerrors.IOFailure, fmt.Errorf("symlinking %s: %w", dest, err))
	}
	stats.FilesWritten++
	stats.Changes = append(stats.Changes, Change{Path: displayPath(targetDir, dest), Kind: changeKind(existed)})
	return nil
}

func changeKind(existed bool) byte {
	if existed {
		return '*'
	}
	return '+'
}

func displayPath(targetDir, dest string) string {
	rel, err := filepath.Rel(targetDir, dest)
	if err != nil {
		return dest
	}
	return filepath.ToSlash(rel)
}

// pruneStale removes files and directories under dir that weren't
// visited by the walk — content the new tree no longer has.
func pruneStale(dir, targetDir string, seen map[string]bool, stats *Stats) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return xerrors.New(xerrors.IOFailure, err)
	}

	for _, de := range entries {
		path := filepath.Join(dir, de.Name())
		if seen[path] {
			if de.IsDir() {
				if err := pruneStale(path, targetDir, seen, stats); err != nil {
					return err
				}
			}
			continue
		}

		rel, err := filepath.Rel(targetDir, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return xerrors.Newf(xerrors.PathEscape, "refusing to delete path outside target directory: %s", path)
		}

		if err := os.RemoveAll(path); err != nil {
			return xerrors.New(xerrors.IOFailure, err)
		}
		stats.Deleted++
		stats.Changes = append(stats.Changes, Change{Path: displayPath(targetDir, path), Kind: '-'})
	}
	return nil
}
