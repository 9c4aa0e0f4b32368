package walker_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/emaste/gitup/internal/hash"
	"github.com/emaste/gitup/internal/object"
	"github.com/emaste/gitup/internal/walker"
	"github.com/stretchr/testify/require"
)

type memSource struct {
	objects map[string][2]any // hash hex -> {data, type}
}

func newMemSource() *memSource { return &memSource{objects: map[string][2]any{}} }

func (m *memSource) put(data []byte, typ object.Type) hash.Hash {
	h := hash.Object(typ, data)
	m.objects[h.String()] = [2]any{data, typ}
	return h
}

func (m *memSource) Get(h hash.Hash) ([]byte, object.Type, bool) {
	v, ok := m.objects[h.String()]
	if !ok {
		return nil, 0, false
	}
	return v[0].([]byte), v[1].(object.Type), true
}

func treeEntry(mode uint32, name string, h hash.Hash) []byte {
	var b []byte
	b = append(b, []byte(modeStr(mode))...)
	b = append(b, ' ')
	b = append(b, []byte(name)...)
	b = append(b, 0)
	b = append(b, h...)
	return b
}

func modeStr(mode uint32) string {
	// minimal octal formatter sufficient for the fixed modes under test
	switch mode {
	case 0o040000:
		return "40000"
	case 0o100644:
		return "100644"
	case 0o100755:
		return "100755"
	case 0o120000:
		return "120000"
	default:
		panic("unsupported mode in test fixture")
	}
}

func TestWalkWritesFilesAndDirs(t *testing.T) {
	src := newMemSource()
	blobHash := src.put([]byte("hello"), object.TypeBlob)
	subTreeData := treeEntry(0o100644, "file.txt", blobHash)
	subTreeHash := src.put(subTreeData, object.TypeTree)
	rootTreeData := treeEntry(0o040000, "sub", subTreeHash)
	rootTreeHash := src.put(rootTreeData, object.TypeTree)

	dir := t.TempDir()
	stats, err := walker.Walk(src, rootTreeHash, dir, walker.ModeWrite, false, nil)
	require.NoError(t, err)
	require.Equal(t, 1, stats.FilesWritten)
	require.Equal(t, 1, stats.DirsCreated)

	content, err := os.ReadFile(filepath.Join(dir, "sub", "file.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))
}

func TestWalkRepairSkipsMatchingFile(t *testing.T) {
	src := newMemSource()
	blobHash := src.put([]byte("hello"), object.TypeBlob)
	rootTreeData := treeEntry(0o100644, "file.txt", blobHash)
	rootTreeHash := src.put(rootTreeData, object.TypeTree)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("hello"), 0o644))

	stats, err := walker.Walk(src, rootTreeHash, dir, walker.ModeRepair, false, nil)
	require.NoError(t, err)
	require.Equal(t, 0, stats.FilesWritten)
	require.Equal(t, 1, stats.FilesSkipped)
}

func TestWalkRepairRewritesMismatchedFile(t *testing.T) {
	src := newMemSource()
	blobHash := src.put([]byte("hello"), object.TypeBlob)
	rootTreeData := treeEntry(0o100644, "file.txt", blobHash)
	rootTreeHash := src.put(rootTreeData, object.TypeTree)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("corrupted"), 0o644))

	stats, err := walker.Walk(src, rootTreeHash, dir, walker.ModeRepair, false, nil)
	require.NoError(t, err)
	require.Equal(t, 1, stats.FilesWritten)

	content, err := os.ReadFile(filepath.Join(dir, "file.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))
}

func TestWalkDeletesStaleFiles(t *testing.T) {
	src := newMemSource()
	blobHash := src.put([]byte("hello"), object.TypeBlob)
	rootTreeData := treeEntry(0o100644, "keep.txt", blobHash)
	rootTreeHash := src.put(rootTreeData, object.TypeTree)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.txt"), []byte("old"), 0o644))

	stats, err := walker.Walk(src, rootTreeHash, dir, walker.ModeWrite, true, nil)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Deleted)

	_, err = os.Stat(filepath.Join(dir, "stale.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestWalkRecordsChangeKinds(t *testing.T) {
	src := newMemSource()
	blobHash := src.put([]byte("hello"), object.TypeBlob)
	rootTreeData := treeEntry(0o100644, "file.txt", blobHash)
	rootTreeHash := src.put(rootTreeData, object.TypeTree)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.txt"), []byte("old"), 0o644))

	stats, err := walker.Walk(src, rootTreeHash, dir, walker.ModeWrite, true, nil)
	require.NoError(t, err)
	require.Len(t, stats.Changes, 2)

	byPath := map[string]byte{}
	for _, c := range stats.Changes {
		byPath[c.Path] = c.Kind
	}
	require.Equal(t, byte('+'), byPath["file.txt"])
	require.Equal(t, byte('-'), byPath["stale.txt"])
}

func TestWalkRecordsUpdatedKindOnRewrite(t *testing.T) {
	src := newMemSource()
	blobHash := src.put([]byte("hello"), object.TypeBlob)
	rootTreeData := treeEntry(0o100644, "file.txt", blobHash)
	rootTreeHash := src.put(rootTreeData, object.TypeTree)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("corrupted"), 0o644))

	stats, err := walker.Walk(src, rootTreeHash, dir, walker.ModeRepair, false, nil)
	require.NoError(t, err)
	require.Len(t, stats.Changes, 1)
	require.Equal(t, byte('*'), stats.Changes[0].Kind)
}

func TestCommitTree(t *testing.T) {
	h := hash.MustFromHex("3f9e6a1c2b8d4e5f6a7b8c9d0e1f2a3b4c5d6e7f")
	commit := []byte("tree " + h.String() + "\nparent 0000000000000000000000000000000000000000\n")
	got, err := walker.CommitTree(commit)
	require.NoError(t, err)
	require.Equal(t, h, got)
}
