package gitproto

import (
	"fmt"
	"strings"
	"time"

	"github.com/emaste/gitup/internal/hash"
	"github.com/emaste/gitup/internal/xerrors"
)

// Selector names what the user asked gitup to fetch: either an explicit
// commit hash, a tag name, or a branch name (branch may be the special
// value "quarterly").
type Selector struct {
	Explicit hash.Hash
	Tag      string
	Branch   string
}

// ResolveWant turns a Selector into a concrete want hash and the display
// name gitup should print/stamp for it, searching refs advertised by
// LsRefs (called with Peel:true so tag lines carry a peeled: attribute).
func ResolveWant(refs []RefAd, sel Selector, now time.Time) (want hash.Hash, display string, err error) {
	if !sel.Explicit.IsZero() {
		return sel.Explicit, "(detached)", nil
	}

	if sel.Tag != "" {
		if h, ok := findRef(refs, "refs/tags/"+sel.Tag); ok {
			return h, sel.Tag, nil
		}
		return hash.Zero, "", xerrors.Newf(xerrors.RefNotFound, "tag %q not found", sel.Tag)
	}

	if sel.Branch == "quarterly" {
		year, quarter := currentQuarter(now)
		name := fmt.Sprintf("%dQ%d", year, quarter)
		if h, ok := findRef(refs, "refs/heads/"+name); ok {
			return h, name, nil
		}
		prevYear, prevQuarter := previousQuarter(year, quarter)
		prevName := fmt.Sprintf("%dQ%d", prevYear, prevQuarter)
		if h, ok := findRef(refs, "refs/heads/"+prevName); ok {
			return h, prevName, nil
		}
		return hash.Zero, "", xerrors.Newf(xerrors.RefNotFound, "neither %q nor %q found", name, prevName)
	}

	if h, ok := findRef(refs, "refs/heads/"+sel.Branch); ok {
		return h, sel.Branch, nil
	}
	return hash.Zero, "", xerrors.Newf(xerrors.RefNotFound, "branch %q not found", sel.Branch)
}

// findRef locates the ref named fullName, preferring its peeled commit
// hash (set when the ref is an annotated tag and ls-refs was called with
// the peel capability) over the ref's own object hash.
func findRef(refs []RefAd, fullName string) (hash.Hash, bool) {
	for _, r := range refs {
		if r.Name != fullName {
			continue
		}
		if !r.Peeled.IsZero() {
			return r.Peeled, true
		}
		return r.Hash, true
	}
	return hash.Zero, false
}

func currentQuarter(now time.Time) (year, quarter int) {
	return now.Year(), (int(now.Month())-1)/3 + 1
}

func previousQuarter(year, quarter int) (int, int) {
	if quarter == 1 {
		return year - 1, 4
	}
	return year, quarter - 1
}
