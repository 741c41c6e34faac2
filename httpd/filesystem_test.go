package httpd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystem_OpenRegularFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("world"), 0o644))

	fs := NewFileSystem(root)
	f, size, err := fs.Open("/hello.txt")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(5), size)
}

func TestFileSystem_RootMapsToIndexHTML(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html/>"), 0o644))

	fs := NewFileSystem(root)
	f, size, err := fs.Open("/")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(7), size)
}

func TestFileSystem_RejectsPathTraversal(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(filepath.Dir(root), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("top secret"), 0o644))
	defer os.Remove(outside)

	fs := NewFileSystem(root)
	_, _, err := fs.Open("/../secret.txt")
	assert.Error(t, err)
}

func TestFileSystem_RejectsDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	fs := NewFileSystem(root)
	_, _, err := fs.Open("/sub")
	assert.True(t, os.IsNotExist(err))
}

func TestFileSystem_MissingFileReturnsNotExist(t *testing.T) {
	root := t.TempDir()
	fs := NewFileSystem(root)
	_, _, err := fs.Open("/nope.txt")
	assert.True(t, os.IsNotExist(err))
}
