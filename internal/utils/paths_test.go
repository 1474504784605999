package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDirectoryPathRelative(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cats"), 0o755))

	resolved, err := ResolveDirectoryPath(root, "cats")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "cats"), resolved)
}

func TestResolveDirectoryPathAbsoluteInsideRoot(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "dogs")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	resolved, err := ResolveDirectoryPath(root, sub)
	require.NoError(t, err)
	assert.Equal(t, sub, resolved)
}

func TestResolveDirectoryPathRejectsEscape(t *testing.T) {
	root := t.TempDir()

	_, err := ResolveDirectoryPath(root, "../outside")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the media root")

	_, err = ResolveDirectoryPath(root, "/etc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the media root")
}

func TestResolveDirectoryPathMissing(t *testing.T) {
	root := t.TempDir()

	_, err := ResolveDirectoryPath(root, "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestResolveDirectoryPathRejectsFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "cat.jpg")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := ResolveDirectoryPath(root, "cat.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestResolveDirectoryPathEmpty(t *testing.T) {
	_, err := ResolveDirectoryPath(t.TempDir(), "")
	assert.Error(t, err)
}

func TestPathWithin(t *testing.T) {
	assert.True(t, PathWithin("/memes", "/memes"))
	assert.True(t, PathWithin("/memes", "/memes/cats"))
	assert.False(t, PathWithin("/memes", "/memesbackup"))
	assert.False(t, PathWithin("/memes", "/etc"))
}
