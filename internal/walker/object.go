// Package walker parses commit and tree objects and materializes a tree
// onto the local filesystem as a plain directory — no .git metadata —
// the step that turns a resolved object graph into gitup's actual
// output.
//
// See https://git-scm.com/docs/gitformat-commit and
// https://git-scm.com/docs/gitformat-tree for the binary layouts parsed
// here.
package walker

import (
	"bytes"

	"github.com/emaste/gitup/internal/hash"
	"github.com/emaste/gitup/internal/xerrors"
)

// treeHashPrefix is "tree " — the commit object always names its root
// tree as the very first header line.
const treeHashPrefix = "tree "

// CommitTree extracts the root tree hash from a commit object's payload.
// A commit's first line is always "tree <40-hex-char-hash>\n", so the
// hash sits at a fixed byte range: 5 bytes of prefix, 40 hex digits.
func CommitTree(commit []byte) (hash.Hash, error) {
	if len(commit) < len(treeHashPrefix)+40 {
		return hash.Zero, xerrors.Newf(xerrors.MissingObject, "commit object too short to contain a tree line")
	}
	if !bytes.HasPrefix(commit, []byte(treeHashPrefix)) {
		return hash.Zero, xerrors.Newf(xerrors.MissingObject, "commit object missing tree header")
	}
	hex := string(commit[len(treeHashPrefix) : len(treeHashPrefix)+40])
	h, err := hash.FromHex(hex)
	if err != nil {
		return hash.Zero, xerrors.Newf(xerrors.MissingObject, "commit tree header has malformed hash %q", hex)
	}
	return h, nil
}

// EntryKind classifies a tree entry for materialization purposes.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindExecutable
	KindSymlink
	KindDir
	KindGitlink // submodule reference; gitup has nothing to fetch for it
)

// Entry is one parsed tree-object record.
type Entry struct {
	Name string
	Mode uint32
	Hash hash.Hash
	Kind EntryKind
}

// Git's tree-entry mode values, as octal ASCII in the tree object.
const (
	modeDir        = 0o040000
	modeFile       = 0o100644
	modeExecutable = 0o100755
	modeSymlink    = 0o120000
	modeGitlink    = 0o160000
)

func kindForMode(mode uint32) EntryKind {
	switch mode {
	case modeDir:
		return KindDir
	case modeExecutable:
		return KindExecutable
	case modeSymlink:
		return KindSymlink
	case modeGitlink:
		return KindGitlink
	default:
		return KindFile
	}
}

// ParseTree decodes a tree object's payload into its direct entries:
// repeated "<mode-octal-ascii> <name>\0<20-byte-hash>" records.
func ParseTree(data []byte) ([]Entry, error) {
	var entries []Entry
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp < 0 {
			return nil, xerrors.Newf(xerrors.MissingObject, "malformed tree entry: no mode separator")
		}
		mode, err := parseOctalMode(data[:sp])
		if err != nil {
			return nil, err
		}
		data = data[sp+1:]

		nul := bytes.IndexByte(data, 0)
		if nul < 0 {
			return nil, xerrors.Newf(xerrors.MissingObject, "malformed tree entry: no name terminator")
		}
		name := string(data[:nul])
		data = data[nul+1:]

		if len(data) < 20 {
			return nil, xerrors.Newf(xerrors.MissingObject, "malformed tree entry: truncated hash")
		}
		entries = append(entries, Entry{
			Name: name,
			Mode: mode,
			Hash: hash.Hash(data[:20]),
			Kind: kindForMode(mode),
		})
		data = data[20:]
	}
	return entries, nil
}

// EncodeTree is ParseTree's inverse: it serializes entries back into a
// tree object's canonical byte payload. Used to reconstruct a synthetic
// tree object from a manifest without re-fetching it from the remote.
func EncodeTree(entries []Entry) []byte {
	var buf bytes.Buffer
	for _, e := range entries {
		buf.WriteString(formatOctalMode(e.Mode))
		buf.WriteByte(' ')
		buf.WriteString(e.Name)
		buf.WriteByte(0)
		buf.Write(e.Hash)
	}
	return buf.Bytes()
}

func formatOctalMode(mode uint32) string {
	if mode == 0 {
		return "0"
	}
	var digits []byte
	for mode > 0 {
		digits = append([]byte{byte('0' + mode%8)}, digits...)
		mode /= 8
	}
	return string(digits)
}

func parseOctalMode(b []byte) (uint32, error) {
	var mode uint32
	for _, c := range b {
		if c < '0' || c > '7' {
			return 0, xerrors.Newf(xerrors.MissingObject, "malformed tree entry mode %q", b)
		}
		mode = mode*8 + uint32(c-'0')
	}
	return mode, nil
}
