// Package packfile parses the Git pack-object wire format: the "PACK"
// header, the variable-length per-object header encoding, zlib-compressed
// payloads, and the trailing SHA-1 checksum. It does not resolve deltas —
// see internal/delta for that — it only hands back each record's raw
// (still zlib-inflated) payload, which for delta-typed records is the
// delta instruction stream rather than a materialized object body.
package packfile

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/emaste/gitup/internal/hash"
	"github.com/emaste/gitup/internal/object"
	"github.com/emaste/gitup/internal/xerrors"

	"github.com/klauspost/compress/zlib"
)

const (
	magic          = "PACK"
	trailerSize    = 20
	supportedV     = 2
	headerByteSize = 12 // "PACK" + version(4) + count(4)
)

// Record is one still-undecoded object as laid out in the pack: its type,
// declared uncompressed size, and inflated payload bytes (the delta
// instruction stream for delta-typed records). Offset is this record's
// byte offset from the start of the pack, needed to resolve ofs-delta
// base references.
type Record struct {
	Type   object.Type
	Offset int64
	Size   int64

	// BaseOffset is set for TypeOfsDelta: Offset - BaseOffset is the
	// absolute offset of the base record in this same pack.
	BaseOffset int64
	// BaseHash is set for TypeRefDelta: the base object's hash, which
	// may or may not be present in this pack.
	BaseHash hash.Hash

	Data []byte
}

// Pack is every record extracted from one packfile, indexed by offset so
// ofs-delta resolution doesn't need a second pass.
type Pack struct {
	Version    uint32
	Records    []Record
	ByOffset   map[int64]int
	Checksum   hash.Hash
}

// Parse validates a packfile's header and trailer and decodes every
// record's header and inflated payload. data must be the complete
// packfile byte stream, PACK magic through trailing SHA-1.
func Parse(data []byte) (*Pack, error) {
	if len(data) < headerByteSize+trailerSize {
		return nil, xerrors.Newf(xerrors.PackChecksumMismatch, "packfile too short: %d bytes", len(data))
	}
	if string(data[:4]) != magic {
		return nil, xerrors.Newf(xerrors.UnsupportedPackVersion, "missing PACK magic, got %q", data[:4])
	}

	version := binary.BigEndian.Uint32(data[4:8])
	if version != supportedV {
		return nil, xerrors.Newf(xerrors.UnsupportedPackVersion, "unsupported pack version %d", version)
	}
	count := binary.BigEndian.Uint32(data[8:12])

	body := data[:len(data)-trailerSize]
	trailer := data[len(data)-trailerSize:]
	sum := sha1.Sum(body)
	if !bytes.Equal(sum[:], trailer) {
		return nil, xerrors.Newf(xerrors.PackChecksumMismatch, "pack trailer checksum mismatch")
	}

	r := bytes.NewReader(data)
	if _, err := r.Seek(headerByteSize, io.SeekStart); err != nil {
		return nil, xerrors.New(xerrors.IOFailure, err)
	}

	pack := &Pack{
		Version:  version,
		Records:  make([]Record, 0, count),
		ByOffset: make(map[int64]int, count),
		Checksum: hash.Hash(trailer),
	}

	for i := uint32(0); i < count; i++ {
		offset := int64(len(data)) - int64(r.Len())

		typ, size, err := readObjHeader(r)
		if err != nil {
			return nil, xerrors.New(xerrors.PackChecksumMismatch, fmt.Errorf("record %d header: %w", i, err))
		}

		rec := Record{Type: typ, Offset: offset, Size: size}

		switch typ {
		case object.TypeOfsDelta:
			baseOffset, err := readOfsBaseOffset(r)
			if err != nil {
				return nil, xerrors.New(xerrors.PackChecksumMismatch, fmt.Errorf("record %d ofs-delta base: %w", i, err))
			}
			rec.BaseOffset = baseOffset
		case object.TypeRefDelta:
			baseHash := make([]byte, 20)
			if _, err := io.ReadFull(r, baseHash); err != nil {
				return nil, xerrors.New(xerrors.PackChecksumMismatch, fmt.Errorf("record %d ref-delta hash: %w", i, err))
			}
			rec.BaseHash = hash.Hash(baseHash)
		case object.TypeCommit, object.TypeTree, object.TypeBlob, object.TypeTag:
			// no extra header fields
		default:
			return nil, xerrors.Newf(xerrors.PackChecksumMismatch, "record %d: invalid object type %d", i, typ)
		}

		payload, err := inflate(r)
		if err != nil {
			return nil, xerrors.New(xerrors.ZlibFailure, fmt.Errorf("record %d payload: %w", i, err))
		}
		rec.Data = payload

		pack.ByOffset[offset] = len(pack.Records)
		pack.Records = append(pack.Records, rec)
	}

	return pack, nil
}

// readObjHeader decodes the variable-length object header: a 3-bit type
// in the first byte's bits 4-6, and a size built from bits 0-3 of the
// first byte plus 7 bits from each continuation byte (MSB=more-follows).
func readObjHeader(r *bytes.Reader) (object.Type, int64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	typ := object.Type((b >> 4) & 0x07)
	size := int64(b & 0x0f)
	shift := uint(4)
	for b&0x80 != 0 {
		b, err = r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		size |= int64(b&0x7f) << shift
		shift += 7
	}
	return typ, size, nil
}

// readOfsBaseOffset decodes the ofs-delta "subtract and shift" negative
// offset encoding: unlike the object header's size varint, each
// continuation adds 1 before shifting, so every encoding length covers
// its own range of offsets (two bytes start at 0x80) and no offset has
// two encodings.
func readOfsBaseOffset(r *bytes.Reader) (int64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	offset := int64(b & 0x7f)
	for b&0x80 != 0 {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		offset = ((offset + 1) << 7) | int64(b&0x7f)
	}
	return offset, nil
}

func inflate(r io.Reader) ([]byte, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
