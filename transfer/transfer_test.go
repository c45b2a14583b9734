package transfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileBlobRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello world"), 0o644))

	blob, err := NewFileBlob(src, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(11), blob.Size)

	dest := t.TempDir()
	require.NoError(t, blob.Write(dest))

	got, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestWriteCreatesParentDirectories(t *testing.T) {
	blob := FileBlob{Name: "nested/dir/file.txt", Content: []byte("x")}
	blob.Size = uint64(len(blob.Content))
	sum, err := NewFileBlob(writeTempFile(t, blob.Content), "nested/dir/file.txt")
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, sum.Write(dest))
	_, err = os.Stat(filepath.Join(dest, "nested/dir/file.txt"))
	assert.NoError(t, err)
}

func TestWriteRejectsChecksumMismatch(t *testing.T) {
	blob := FileBlob{Name: "a.txt", Content: []byte("x"), Size: 1, Checksum: "bogus"}
	err := blob.Write(t.TempDir())
	assert.Error(t, err)
}

func TestWriteElidesOverlapBetweenBaseAndName(t *testing.T) {
	base := t.TempDir()
	docsDir := filepath.Join(base, "watched", "docs")
	require.NoError(t, os.MkdirAll(docsDir, 0o755))

	blob := FileBlob{Name: "docs/readme.txt", Content: []byte("overlap")}
	blob.Size = uint64(len(blob.Content))
	blob.Checksum = mustChecksum(t, blob.Content)

	require.NoError(t, blob.Write(filepath.Join(base, "watched", "docs")))

	got, err := os.ReadFile(filepath.Join(docsDir, "readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, "overlap", string(got))

	// Without the overlap elision this would have been written one level
	// too deep, at docs/docs/readme.txt.
	_, err = os.Stat(filepath.Join(docsDir, "docs", "readme.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestSmartJoinWithoutOverlapBehavesLikePlainJoin(t *testing.T) {
	assert.Equal(t,
		filepath.Join("/watch/root", "sub/file.txt"),
		smartJoin("/watch/root", "sub/file.txt"))
}

func mustChecksum(t *testing.T, content []byte) string {
	t.Helper()
	blob, err := NewFileBlob(writeTempFile(t, content), "irrelevant")
	require.NoError(t, err)
	return blob.Checksum
}

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "src-*")
	require.NoError(t, err)
	_, err = f.Write(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}
