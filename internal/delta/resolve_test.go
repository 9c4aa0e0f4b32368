package delta_test

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"testing"

	"github.com/emaste/gitup/internal/delta"
	"github.com/emaste/gitup/internal/hash"
	"github.com/emaste/gitup/internal/object"
	"github.com/emaste/gitup/internal/packfile"
	"github.com/emaste/gitup/internal/store"
	"github.com/emaste/gitup/internal/xerrors"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(t.TempDir(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeObjHeader(buf *bytes.Buffer, typ object.Type, size int) {
	b := byte(typ&0x07) << 4
	b |= byte(size & 0x0f)
	remaining := size >> 4
	if remaining > 0 {
		b |= 0x80
	}
	buf.WriteByte(b)
	for remaining > 0 {
		b = byte(remaining & 0x7f)
		remaining >>= 7
		if remaining > 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
	}
}

func writeZlib(buf *bytes.Buffer, payload []byte) {
	w := zlib.NewWriter(buf)
	_, _ = w.Write(payload)
	_ = w.Close()
}

// buildOfsDeltaPack builds a 2-record pack: a whole blob, then an
// ofs-delta record referencing it via a single-byte (offset < 128) base
// offset encoding.
func buildOfsDeltaPack(t *testing.T, baseData, deltaPayload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("PACK")
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(2)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(2)))

	baseOffset := int64(buf.Len())
	writeObjHeader(&buf, object.TypeBlob, len(baseData))
	writeZlib(&buf, baseData)

	deltaOffset := int64(buf.Len())
	writeObjHeader(&buf, object.TypeOfsDelta, len(deltaPayload))
	relOffset := deltaOffset - baseOffset
	require.Less(t, relOffset, int64(128))
	buf.WriteByte(byte(relOffset & 0x7f))
	writeZlib(&buf, deltaPayload)

	sum := sha1.Sum(buf.Bytes())
	buf.Write(sum[:])
	return buf.Bytes()
}

func TestResolveOfsDeltaChain(t *testing.T) {
	base := []byte("hello world")
	// base_size=11, result_size=11, copy(offset=0,size=11)
	deltaPayload := []byte{0x0b, 0x0b, 0x90, 0x0b}

	data := buildOfsDeltaPack(t, base, deltaPayload)
	pack, err := packfile.Parse(data)
	require.NoError(t, err)
	require.Len(t, pack.Records, 2)

	st := newTestStore(t)
	require.NoError(t, delta.Resolve(pack, nil, st, false))

	baseHash := hash.Object(object.TypeBlob, base)
	resolvedData, typ, ok := st.Get(baseHash)
	require.True(t, ok)
	require.Equal(t, object.TypeBlob, typ)
	require.Equal(t, "hello world", string(resolvedData))
	require.Equal(t, 1, st.Len(), "the delta record resolves to the same content/hash as the base and is a no-op add")
}

func TestResolveOfsDeltaOrphanBase(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("PACK")
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(2)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(1)))

	writeObjHeader(&buf, object.TypeOfsDelta, 4)
	buf.WriteByte(50) // no base exists at this offset
	writeZlib(&buf, []byte{0x00, 0x00})

	sum := sha1.Sum(buf.Bytes())
	buf.Write(sum[:])

	pack, err := packfile.Parse(buf.Bytes())
	require.NoError(t, err)

	err = delta.Resolve(pack, nil, newTestStore(t), false)
	require.Error(t, err)
	require.True(t, xerrors.Is(err, xerrors.OrphanOfsDelta))
}

func TestResolveRefDeltaUsesLocalLookup(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("PACK")
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(2)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(1)))

	baseData := []byte("local base data")
	baseHash := hash.Object(object.TypeBlob, baseData)

	deltaPayload := []byte{byte(len(baseData)), byte(len(baseData)), 0x90, byte(len(baseData))}
	writeObjHeader(&buf, object.TypeRefDelta, len(deltaPayload))
	buf.Write(baseHash)
	writeZlib(&buf, deltaPayload)

	sum := sha1.Sum(buf.Bytes())
	buf.Write(sum[:])

	pack, err := packfile.Parse(buf.Bytes())
	require.NoError(t, err)

	local := func(h hash.Hash) ([]byte, object.Type, bool) {
		if h.Is(baseHash) {
			return baseData, object.TypeBlob, true
		}
		return nil, 0, false
	}

	st := newTestStore(t)
	require.NoError(t, delta.Resolve(pack, local, st, false))

	resolvedData, _, ok := st.Get(baseHash)
	require.True(t, ok)
	require.Equal(t, string(baseData), string(resolvedData))
}

func TestResolveStreamsIntoLowMemoryStore(t *testing.T) {
	base := []byte("hello world, streamed to scratch")
	deltaPayload := []byte{byte(len(base)), byte(len(base)), 0x90, byte(len(base))}

	data := buildOfsDeltaPack(t, base, deltaPayload)
	pack, err := packfile.Parse(data)
	require.NoError(t, err)

	st, err := store.New(t.TempDir(), true)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, delta.Resolve(pack, nil, st, false))
	require.NotEmpty(t, st.ScratchPath(), "low-memory store must be backed by a scratch file")

	resolvedData, _, ok := st.Get(hash.Object(object.TypeBlob, base))
	require.True(t, ok)
	require.Equal(t, string(base), string(resolvedData))
}

func TestResolveRefDeltaMissingBase(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("PACK")
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(2)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(1)))

	writeObjHeader(&buf, object.TypeRefDelta, 2)
	buf.Write(make([]byte, 20))
	writeZlib(&buf, []byte{0x00, 0x00})

	sum := sha1.Sum(buf.Bytes())
	buf.Write(sum[:])

	pack, err := packfile.Parse(buf.Bytes())
	require.NoError(t, err)

	err = delta.Resolve(pack, nil, newTestStore(t), false)
	require.Error(t, err)
	require.True(t, xerrors.Is(err, xerrors.MissingDeltaBase))
}
