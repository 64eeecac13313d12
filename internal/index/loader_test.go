package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "b.txt", "beta")
	writeSource(t, dir, "a.md", "# Alpha")
	writeSource(t, dir, "c.markdown", "gamma")
	writeSource(t, dir, "d.pdf", "binary")
	writeSource(t, dir, ".hidden.md", "secret")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	writeSource(t, filepath.Join(dir, "nested"), "e.md", "nested")

	docs, err := LoadDir(dir)
	require.NoError(t, err)

	require.Len(t, docs, 3)
	assert.Equal(t, Document{SourceID: "a.md", Text: "# Alpha"}, docs[0])
	assert.Equal(t, Document{SourceID: "b.txt", Text: "beta"}, docs[1])
	assert.Equal(t, Document{SourceID: "c.markdown", Text: "gamma"}, docs[2])
}

func TestLoadDirEmpty(t *testing.T) {
	docs, err := LoadDir(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoadDirCaseInsensitiveExtensions(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "NOTES.MD", "upper")

	docs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "NOTES.MD", docs[0].SourceID)
}
