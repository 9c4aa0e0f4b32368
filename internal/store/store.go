// Package store holds every object materialized from a pack (or primed
// from a manifest) for the duration of one gitup run: an insertion-order
// list plus a hash-keyed index, exactly mirroring how a fetch response's
// object order matters for progress reporting while lookups by hash
// drive delta and tree resolution.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/emaste/gitup/internal/hash"
	"github.com/emaste/gitup/internal/object"
	"github.com/emaste/gitup/internal/xerrors"
)

// entry is one stored object. In low-memory mode, data is spilled to the
// scratch file and dropped from the struct once written; canFree tracks
// whether an in-memory (non-spilled) buffer has already been consumed by
// its one expected reader and can be released.
type entry struct {
	hash    hash.Hash
	typ     object.Type
	data    []byte
	spilled bool
	offset  int64
	size    int64
	canFree bool
}

// Store is gitup's object store: every object discovered this run, kept
// either fully in memory or spilled to a scratch file.
type Store struct {
	order   []hash.Hash
	index   map[string]int
	entries []entry

	lowMemory bool
	scratch   *os.File
}

// New creates a Store. When lowMemory is true, object payloads are
// written out to a scratch file under scratchDir as they're added and
// read back on demand, bounding peak memory at the cost of extra I/O —
// appropriate for very large repositories on constrained hosts.
func New(scratchDir string, lowMemory bool) (*Store, error) {
	s := &Store{index: make(map[string]int), lowMemory: lowMemory}
	if lowMemory {
		if err := os.MkdirAll(scratchDir, 0o755); err != nil {
			return nil, xerrors.New(xerrors.IOFailure, err)
		}
		f, err := os.CreateTemp(scratchDir, "gitup-store-*.tmp")
		if err != nil {
			return nil, xerrors.New(xerrors.IOFailure, err)
		}
		s.scratch = f
	}
	return s, nil
}

// Close releases the scratch file, if any.
func (s *Store) Close() error {
	if s.scratch == nil {
		return nil
	}
	name := s.scratch.Name()
	err := s.scratch.Close()
	_ = os.Remove(name)
	return err
}

// Add inserts an object. A duplicate hash is a no-op unless supersede is
// true (used by repair, where a re-fetched object must replace whatever
// stale copy a prior run left behind).
func (s *Store) Add(h hash.Hash, t object.Type, data []byte, supersede bool) error {
	key := h.String()
	if idx, ok := s.index[key]; ok {
		if !supersede {
			return nil
		}
		return s.write(&s.entries[idx], t, data)
	}

	s.index[key] = len(s.entries)
	s.order = append(s.order, h)
	s.entries = append(s.entries, entry{hash: h, typ: t})
	return s.write(&s.entries[len(s.entries)-1], t, data)
}

func (s *Store) write(e *entry, t object.Type, data []byte) error {
	e.typ = t
	if !s.lowMemory {
		e.data = data
		e.spilled = false
		return nil
	}

	offset, err := s.scratch.Seek(0, io.SeekEnd)
	if err != nil {
		return xerrors.New(xerrors.IOFailure, err)
	}
	if _, err := s.scratch.Write(data); err != nil {
		return xerrors.New(xerrors.IOFailure, err)
	}
	e.offset = offset
	e.size = int64(len(data))
	e.spilled = true
	e.data = nil
	return nil
}

// Get returns an object's type and payload, loading it from the scratch
// file in low-memory mode.
func (s *Store) Get(h hash.Hash) ([]byte, object.Type, bool) {
	idx, ok := s.index[h.String()]
	if !ok {
		return nil, 0, false
	}
	e := &s.entries[idx]
	data, err := s.loadBuffer(e)
	if err != nil {
		return nil, 0, false
	}
	return data, e.typ, true
}

// loadBuffer returns an entry's payload, reading it back from the
// scratch file if it was spilled.
func (s *Store) loadBuffer(e *entry) ([]byte, error) {
	if !e.spilled {
		return e.data, nil
	}
	buf := make([]byte, e.size)
	if _, err := s.scratch.ReadAt(buf, e.offset); err != nil {
		return nil, xerrors.New(xerrors.IOFailure, fmt.Errorf("reading spilled object: %w", err))
	}
	return buf, nil
}

// ReleaseBuffer drops an in-memory payload once its one expected reader
// (the tree walker materializing it to disk) has consumed it. A no-op in
// low-memory mode, where the payload was never held in memory past Add.
func (s *Store) ReleaseBuffer(h hash.Hash) {
	idx, ok := s.index[h.String()]
	if !ok {
		return
	}
	e := &s.entries[idx]
	if s.lowMemory || e.canFree {
		return
	}
	e.canFree = true
	e.data = nil
}

// Has reports whether h is already in the store.
func (s *Store) Has(h hash.Hash) bool {
	_, ok := s.index[h.String()]
	return ok
}

// Len returns the number of distinct objects held.
func (s *Store) Len() int { return len(s.entries) }

// Order returns every stored hash in insertion order.
func (s *Store) Order() []hash.Hash { return s.order }

// ScratchPath returns the scratch file path, or "" if not in low-memory
// mode (for diagnostics/tests only).
func (s *Store) ScratchPath() string {
	if s.scratch == nil {
		return ""
	}
	return filepath.Clean(s.scratch.Name())
}
