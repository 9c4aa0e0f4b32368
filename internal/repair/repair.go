// Package repair detects drift between a manifest's recorded remote
// state and what's actually materialized on disk, and turns the
// defective set into the want-set a repair fetch sends to the server.
package repair

import (
	"fmt"
	"sort"
	"strings"

	"github.com/emaste/gitup/internal/hash"
	"github.com/emaste/gitup/internal/manifest"
	"github.com/emaste/gitup/internal/pktline"
	"github.com/emaste/gitup/internal/scanner"
	"github.com/emaste/gitup/internal/walker"
	"github.com/emaste/gitup/internal/xerrors"
)

// maxWantBytes is the repair want block's ceiling, measured as the total
// size of the framed "want <hash>\n" pkt-lines it would produce.
const maxWantBytes = 3200 * 1024

// Reason names why a path was flagged defective.
type Reason string

const (
	// ReasonMissing means the manifest records the path but no local
	// file exists there.
	ReasonMissing Reason = "missing"
	// ReasonModified means a local file exists but its hash no longer
	// matches the manifest's recorded hash.
	ReasonModified Reason = "modified"
)

// Defect is one path the manifest expects but the local tree doesn't
// currently match.
type Defect struct {
	Path   string
	Hash   hash.Hash
	Reason Reason
}

// Plan iterates the manifest's remote-by-path entries and flags a path
// defective when either no local entry matches it, or a local entry
// exists but its hash differs and the path isn't an ignored one. Ignored
// paths' hashes are identity markers, not content hashes, so a mismatch
// there is expected and never flagged.
func Plan(m *manifest.Manifest, local []scanner.Entry) []Defect {
	localByPath := make(map[string]scanner.Entry, len(local))
	for _, e := range local {
		localByPath[e.Path] = e
	}

	var defects []Defect
	for _, block := range m.Trees {
		for _, e := range block.Entries {
			if e.Kind == walker.KindDir || e.Kind == walker.KindGitlink {
				continue
			}
			path := joinPath(block.Path, e.Name)
			localEntry, ok := localByPath[path]
			switch {
			case !ok:
				defects = append(defects, Defect{Path: path, Hash: e.Hash, Reason: ReasonMissing})
			case !localEntry.Ignored && !localEntry.Hash.Is(e.Hash):
				defects = append(defects, Defect{Path: path, Hash: e.Hash, Reason: ReasonModified})
			}
		}
	}

	sort.Slice(defects, func(i, j int) bool { return defects[i].Path < defects[j].Path })
	return defects
}

func joinPath(dir, name string) string {
	dir = strings.TrimSuffix(dir, "/")
	dir = strings.TrimPrefix(dir, "./")
	if dir == "" || dir == "." {
		return name
	}
	return dir + "/" + name
}

// WantSet turns a defect list into the hash set a repair fetch should
// want, failing with TooManyRepairs if the framed want block would
// exceed the 3,200 KiB ceiling. An empty defect list yields an empty,
// nil-error want set — repair is a no-op in that case.
func WantSet(defects []Defect) ([]hash.Hash, error) {
	wants := make([]hash.Hash, 0, len(defects))
	total := 0
	for _, d := range defects {
		line := pktline.Line(fmt.Sprintf("want %s\n", d.Hash.String())).Marshal()
		total += len(line)
		if total > maxWantBytes {
			return nil, xerrors.Newf(xerrors.TooManyRepairs, "repair want block exceeds %d KiB", maxWantBytes/1024)
		}
		wants = append(wants, d.Hash)
	}
	return wants, nil
}
