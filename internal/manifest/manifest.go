// Package manifest persists a snapshot of the remote state gitup last
// materialized: the commit it cloned/pulled, and every tree's direct
// entries. An incremental pull uses it two ways: as the prior-state
// oracle repair's defect detector diffs against, and as a source of
// synthetic tree objects that prime the object store so ref-delta bases
// and unchanged subtrees don't need to be re-fetched.
package manifest

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/emaste/gitup/internal/hash"
	"github.com/emaste/gitup/internal/object"
	"github.com/emaste/gitup/internal/walker"
	"github.com/emaste/gitup/internal/xerrors"
)

// dirMode is the fixed mode every manifest tree-block header carries —
// a tree is always a directory, regardless of what mode its own parent
// entry recorded it under.
const dirMode = "040000"

// TreeBlock is every direct entry of one tree object, keyed by that
// tree's hash and the path it was found at (trailing "/", as recorded
// in the manifest header line).
type TreeBlock struct {
	Hash    hash.Hash
	Path    string
	Entries []walker.Entry
}

// Manifest is the full persisted snapshot: the commit materialized and
// every tree reachable from it.
type Manifest struct {
	Commit hash.Hash
	Trees  []TreeBlock
}

// Load reads a manifest file. A missing file returns os.Open's error
// unchanged; callers check os.IsNotExist(err) and treat that as "no
// prior manifest" (the first run against this section).
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		return nil, xerrors.Newf(xerrors.ConfigInvalid, "empty manifest file")
	}
	commit, err := hash.FromHex(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return nil, xerrors.New(xerrors.ConfigInvalid, fmt.Errorf("manifest commit line: %w", err))
	}

	m := &Manifest{Commit: commit}

	for scanner.Scan() {
		header := scanner.Text()
		fields := strings.SplitN(header, "\t", 3)
		if len(fields) != 3 || fields[0] != dirMode {
			return nil, xerrors.Newf(xerrors.ConfigInvalid, "malformed manifest tree header %q", header)
		}
		treeHash, err := hash.FromHex(fields[1])
		if err != nil {
			return nil, xerrors.New(xerrors.ConfigInvalid, fmt.Errorf("manifest tree hash: %w", err))
		}
		treePath := fields[2]

		var entries []walker.Entry
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				break
			}
			entry, err := parseEntryLine(line)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}

		m.Trees = append(m.Trees, TreeBlock{Hash: treeHash, Path: treePath, Entries: entries})
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.New(xerrors.IOFailure, err)
	}

	return m, nil
}

func parseEntryLine(line string) (walker.Entry, error) {
	fields := strings.SplitN(line, "\t", 3)
	if len(fields) != 3 {
		return walker.Entry{}, xerrors.Newf(xerrors.ConfigInvalid, "malformed manifest entry line %q", line)
	}
	mode, err := strconv.ParseUint(fields[0], 8, 32)
	if err != nil {
		return walker.Entry{}, xerrors.New(xerrors.ConfigInvalid, fmt.Errorf("manifest entry mode: %w", err))
	}
	h, err := hash.FromHex(fields[1])
	if err != nil {
		return walker.Entry{}, xerrors.New(xerrors.ConfigInvalid, fmt.Errorf("manifest entry hash: %w", err))
	}
	entry := walker.Entry{Mode: uint32(mode), Hash: h, Name: fields[2]}
	switch entry.Mode {
	case 0o040000:
		entry.Kind = walker.KindDir
	case 0o100755:
		entry.Kind = walker.KindExecutable
	case 0o120000:
		entry.Kind = walker.KindSymlink
	case 0o160000:
		entry.Kind = walker.KindGitlink
	}
	return entry, nil
}

// Save writes a manifest to a "<path>.new" staging file and atomically
// renames it over path, so a crash mid-write never leaves a truncated
// manifest where a prior good one used to be.
func Save(path string, m *Manifest) error {
	staging := path + ".new"
	f, err := os.Create(staging)
	if err != nil {
		return xerrors.New(xerrors.IOFailure, err)
	}

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, m.Commit.String())
	for _, block := range m.Trees {
		fmt.Fprintf(w, "%s\t%s\t%s\n", dirMode, block.Hash.String(), block.Path)
		for _, e := range block.Entries {
			fmt.Fprintf(w, "%o\t%s\t%s\n", e.Mode, e.Hash.String(), e.Name)
		}
		fmt.Fprintln(w)
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(staging)
		return xerrors.New(xerrors.IOFailure, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(staging)
		return xerrors.New(xerrors.IOFailure, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(staging)
		return xerrors.New(xerrors.IOFailure, err)
	}
	if err := os.Rename(staging, path); err != nil {
		return xerrors.New(xerrors.IOFailure, err)
	}
	return nil
}

// ObjectStore is the subset of internal/store.Store that Prime needs:
// just enough to add a synthetic tree object without a dependency cycle
// between manifest and store.
type ObjectStore interface {
	Add(h hash.Hash, t object.Type, data []byte, supersede bool) error
}

// Prime reconstructs each tree block as a synthetic tree object and
// inserts it into dst, so a subsequent incremental-pull walk can resolve
// an unchanged subtree, or a ref-delta base, without the server having
// sent the tree object again.
func Prime(dst ObjectStore, m *Manifest) error {
	for _, block := range m.Trees {
		data := walker.EncodeTree(block.Entries)
		got := hash.Object(object.TypeTree, data)
		if !got.Is(block.Hash) {
			return xerrors.Newf(xerrors.ConfigInvalid, "manifest tree %s (%s) re-encodes to %s; manifest is stale or corrupt", block.Hash.String(), block.Path, got.String())
		}
		if err := dst.Add(block.Hash, object.TypeTree, data, false); err != nil {
			return err
		}
	}
	return nil
}

// ObjectGetter is the subset of internal/walker.ObjectSource BuildFromWalk
// needs: enough to read back tree payloads without importing store or
// walker's materialization machinery.
type ObjectGetter interface {
	Get(h hash.Hash) (data []byte, typ object.Type, ok bool)
}

// BuildFromWalk performs the same pre-order traversal internal/walker.Walk
// uses to materialize files, but only to record each tree's direct
// entries — it never touches the filesystem. The result is the manifest
// a run should persist once its materialization pass succeeds.
func BuildFromWalk(src ObjectGetter, commit, root hash.Hash) (*Manifest, error) {
	m := &Manifest{Commit: commit}
	if err := walkForManifest(src, root, "./", m); err != nil {
		return nil, err
	}
	return m, nil
}

func walkForManifest(src ObjectGetter, treeHash hash.Hash, path string, m *Manifest) error {
	data, typ, ok := src.Get(treeHash)
	if !ok || typ != object.TypeTree {
		return xerrors.Newf(xerrors.MissingObject, "tree object %s not found while building manifest", treeHash.String())
	}
	entries, err := walker.ParseTree(data)
	if err != nil {
		return err
	}

	m.Trees = append(m.Trees, TreeBlock{Hash: treeHash, Path: path, Entries: entries})

	for _, e := range entries {
		if e.Kind != walker.KindDir {
			continue
		}
		childPath := strings.TrimSuffix(path, "/")
		if childPath == "." {
			childPath = e.Name
		} else {
			childPath = childPath + "/" + e.Name
		}
		if err := walkForManifest(src, e.Hash, childPath+"/", m); err != nil {
			return err
		}
	}
	return nil
}

// ByHash indexes every entry across all tree blocks by hash, giving
// incremental-pull/repair code a way to turn a ref-delta base hash or a
// repair want-hash back into the relative path it was last materialized
// under.
func (m *Manifest) ByHash() map[string]string {
	index := make(map[string]string)
	for _, block := range m.Trees {
		for _, e := range block.Entries {
			index[e.Hash.String()] = strings.TrimSuffix(block.Path, "/") + "/" + e.Name
		}
	}
	return index
}
