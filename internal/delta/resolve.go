package delta

import (
	"fmt"

	"github.com/emaste/gitup/internal/hash"
	"github.com/emaste/gitup/internal/object"
	"github.com/emaste/gitup/internal/packfile"
	"github.com/emaste/gitup/internal/xerrors"
)

// LocalLookup resolves a ref-delta base hash that isn't present in the
// pack currently being parsed — the case that arises during an
// incremental pull, where the server sends a thin pack whose deltas are
// based on objects gitup already materialized locally. Scanner-backed
// implementations satisfy this by reading and re-hashing the
// corresponding on-disk file on demand, so they only ever return blobs.
type LocalLookup func(h hash.Hash) (data []byte, typ object.Type, ok bool)

// ObjectStore is the subset of internal/store.Store that Resolve streams
// resolved objects into as each one finishes, rather than accumulating
// every resolved buffer in one slice first — in low-memory mode, Add
// spills a buffer to the scratch file immediately, and Get reads a
// previously-spilled base back on demand, so peak memory during
// resolution tracks the largest single object plus the delta chain
// currently being walked, not the whole pack's resolved output.
type ObjectStore interface {
	Add(h hash.Hash, t object.Type, data []byte, supersede bool) error
	Get(h hash.Hash) (data []byte, typ object.Type, ok bool)
}

// Resolve walks every record in pack, applying delta instructions against
// their bases (recursively, so a delta-of-a-delta resolves correctly
// regardless of insertion order), and adds each resolved object to dst as
// soon as it's computed. supersede is forwarded to every dst.Add call
// (true for a repair fetch, which must replace a stale stored copy).
// local resolves ref-delta bases absent from the pack; it may be nil if
// none are expected (e.g. a clone fetch, which by construction carries
// every base it deltas against).
func Resolve(pack *packfile.Pack, local LocalLookup, dst ObjectStore, supersede bool) error {
	resolvedHash := make([]hash.Hash, len(pack.Records))
	done := make([]bool, len(pack.Records))
	resolving := make([]bool, len(pack.Records))

	var resolveAt func(i int) (object.Type, []byte, error)
	resolveAt = func(i int) (object.Type, []byte, error) {
		if done[i] {
			data, typ, ok := dst.Get(resolvedHash[i])
			if !ok {
				return 0, nil, xerrors.Newf(xerrors.MissingObject, "resolved record %d (%s) no longer in store", i, resolvedHash[i].String())
			}
			return typ, data, nil
		}
		if resolving[i] {
			return 0, nil, xerrors.Newf(xerrors.OrphanOfsDelta, "delta cycle detected at pack record %d", i)
		}
		resolving[i] = true
		defer func() { resolving[i] = false }()

		rec := pack.Records[i]

		var h hash.Hash
		var typ object.Type
		var data []byte

		switch rec.Type {
		case object.TypeCommit, object.TypeTree, object.TypeBlob, object.TypeTag:
			typ = rec.Type
			data = rec.Data
			h = hash.Object(typ, data)

		case object.TypeOfsDelta:
			baseAbsOffset := rec.Offset - rec.BaseOffset
			baseIdx, ok := pack.ByOffset[baseAbsOffset]
			if !ok {
				return 0, nil, xerrors.Newf(xerrors.OrphanOfsDelta, "ofs-delta record %d: no base at offset %d", i, baseAbsOffset)
			}
			baseTyp, baseData, err := resolveAt(baseIdx)
			if err != nil {
				return 0, nil, err
			}
			d, err := Apply(baseData, rec.Data)
			if err != nil {
				return 0, nil, fmt.Errorf("resolving ofs-delta record %d: %w", i, err)
			}
			typ = baseTyp
			data = d
			h = hash.Object(typ, data)

		case object.TypeRefDelta:
			baseTyp, baseData, err := resolveRefDeltaBase(rec.BaseHash, dst, local)
			if err != nil {
				return 0, nil, fmt.Errorf("resolving ref-delta record %d: %w", i, err)
			}
			d, err := Apply(baseData, rec.Data)
			if err != nil {
				return 0, nil, fmt.Errorf("resolving ref-delta record %d: %w", i, err)
			}
			typ = baseTyp
			data = d
			h = hash.Object(typ, data)

		default:
			return 0, nil, xerrors.Newf(xerrors.PackChecksumMismatch, "record %d: invalid object type %d", i, rec.Type)
		}

		if err := dst.Add(h, typ, data, supersede); err != nil {
			return 0, nil, err
		}
		resolvedHash[i] = h
		done[i] = true
		return typ, data, nil
	}

	for i := range pack.Records {
		if _, _, err := resolveAt(i); err != nil {
			return err
		}
	}

	return nil
}

func resolveRefDeltaBase(baseHash hash.Hash, dst ObjectStore, local LocalLookup) (object.Type, []byte, error) {
	if data, typ, ok := dst.Get(baseHash); ok {
		return typ, data, nil
	}
	if local != nil {
		if data, typ, ok := local(baseHash); ok {
			return typ, data, nil
		}
	}
	return 0, nil, xerrors.Newf(xerrors.MissingDeltaBase, "ref-delta base %s not found in pack or locally", baseHash.String())
}
