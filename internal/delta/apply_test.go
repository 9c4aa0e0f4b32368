package delta_test

import (
	"testing"

	"github.com/emaste/gitup/internal/delta"
	"github.com/emaste/gitup/internal/xerrors"
	"github.com/stretchr/testify/require"
)

func TestApplyPureInsert(t *testing.T) {
	// base_size=0, result_size=5, insert "hello"
	d := append([]byte{0x00, 0x05, 0x05}, []byte("hello")...)

	out, err := delta.Apply(nil, d)
	require.NoError(t, err)
	require.Equal(t, "hello", string(out))
}

func TestApplyFullCopy(t *testing.T) {
	base := []byte("hello world")
	// base_size=11, result_size=11, copy(offset=0, size=11)
	d := []byte{0x0b, 0x0b, 0x90, 0x0b}

	out, err := delta.Apply(base, d)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(out))
}

func TestApplyCopyAndInsert(t *testing.T) {
	base := []byte("HelloWorld")
	// base_size=10, result_size=11
	// copy(offset=0,size=5) "Hello"; insert "-"; copy(offset=5,size=5) "World"
	d := []byte{
		0x0a, 0x0b,
		0x90, 0x05, // cmd: size-byte0 set -> copy size=5, offset=0
		0x01, '-', // insert 1 byte "-"
		0x91, 0x05, 0x05, // cmd: offset-byte0 + size-byte0 -> offset=5, size=5
	}

	out, err := delta.Apply(base, d)
	require.NoError(t, err)
	require.Equal(t, "Hello-World", string(out))
}

func TestApplyRejectsBaseSizeMismatch(t *testing.T) {
	d := []byte{0x05, 0x00} // claims base size 5, actual base is nil
	_, err := delta.Apply(nil, d)
	require.Error(t, err)
	require.True(t, xerrors.Is(err, xerrors.DeltaOverflow))
}

func TestApplyRejectsCopyOutOfBounds(t *testing.T) {
	base := []byte("short")
	d := []byte{0x05, 0x0a, 0x90, 0x0a} // copy 10 bytes from a 5-byte base
	_, err := delta.Apply(base, d)
	require.Error(t, err)
}

func TestApplyRejectsResultSizeMismatch(t *testing.T) {
	base := []byte("hello world")
	// Declares result_size=99 but only ever copies 11 bytes.
	d := []byte{0x0b, 0x63, 0x90, 0x0b}
	_, err := delta.Apply(base, d)
	require.Error(t, err)
}
