// Package delta resolves the pack engine's two delta representations
// (ofs-delta and ref-delta) into materialized object bytes: walking each
// delta's base chain and applying its copy/insert instruction stream
// against the resolved base.
package delta

import (
	"bytes"
	"fmt"

	"github.com/emaste/gitup/internal/xerrors"
)

// maxCopySize is the size a delta copy instruction encodes as when its
// 3-byte size field is entirely zero — the instruction format cannot
// represent zero-length copies, so the all-zero encoding is repurposed
// to mean 0x10000.
const maxCopySize = 0x10000

// Apply applies delta's copy/insert instruction stream to base and
// returns the reconstructed object bytes.
func Apply(base, delta []byte) ([]byte, error) {
	r := bytes.NewReader(delta)

	baseSize, err := readVarSize(r)
	if err != nil {
		return nil, xerrors.New(xerrors.DeltaOverflow, fmt.Errorf("reading delta base size: %w", err))
	}
	if baseSize != int64(len(base)) {
		return nil, xerrors.Newf(xerrors.DeltaOverflow, "delta base size %d does not match actual base %d", baseSize, len(base))
	}

	resultSize, err := readVarSize(r)
	if err != nil {
		return nil, xerrors.New(xerrors.DeltaOverflow, fmt.Errorf("reading delta result size: %w", err))
	}

	result := make([]byte, 0, resultSize)

	for r.Len() > 0 {
		cmd, err := r.ReadByte()
		if err != nil {
			return nil, xerrors.New(xerrors.DeltaOverflow, err)
		}

		switch {
		case cmd&0x80 != 0:
			offset, size, err := readCopyArgs(r, cmd)
			if err != nil {
				return nil, xerrors.New(xerrors.DeltaOverflow, err)
			}
			if offset+size > int64(len(base)) {
				return nil, xerrors.Newf(xerrors.DeltaOverflow, "copy instruction out of bounds: offset=%d size=%d base=%d", offset, size, len(base))
			}
			result = append(result, base[offset:offset+size]...)

		case cmd != 0:
			insert := make([]byte, cmd)
			if _, err := readFull(r, insert); err != nil {
				return nil, xerrors.New(xerrors.DeltaOverflow, fmt.Errorf("reading insert instruction: %w", err))
			}
			result = append(result, insert...)

		default:
			return nil, xerrors.Newf(xerrors.DeltaOverflow, "reserved delta opcode 0")
		}

		if int64(len(result)) > resultSize {
			return nil, xerrors.Newf(xerrors.DeltaOverflow, "delta produced more than declared result size %d", resultSize)
		}
	}

	if int64(len(result)) != resultSize {
		return nil, xerrors.Newf(xerrors.DeltaOverflow, "delta result size mismatch: got %d, want %d", len(result), resultSize)
	}
	return result, nil
}

// readCopyArgs decodes a copy instruction's optional offset (up to 4
// bytes) and size (up to 3 bytes) fields, present only when their
// corresponding bit in cmd is set.
func readCopyArgs(r *bytes.Reader, cmd byte) (offset, size int64, err error) {
	readIf := func(bit byte, shift uint, dst *int64) error {
		if cmd&bit == 0 {
			return nil
		}
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		*dst |= int64(b) << shift
		return nil
	}

	for i, bit := range []byte{0x01, 0x02, 0x04, 0x08} {
		if err := readIf(bit, uint(i*8), &offset); err != nil {
			return 0, 0, err
		}
	}
	for i, bit := range []byte{0x10, 0x20, 0x40} {
		if err := readIf(bit, uint(i*8), &size); err != nil {
			return 0, 0, err
		}
	}
	if size == 0 {
		size = maxCopySize
	}
	return offset, size, nil
}

func readVarSize(r *bytes.Reader) (int64, error) {
	var size int64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		size |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	return size, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
