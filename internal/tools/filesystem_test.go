package tools

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilesystemReadWrite(t *testing.T) {
	dir := t.TempDir()
	fsTool, err := NewFilesystem(dir, true, nil)
	require.NoError(t, err)

	abs, err := fsTool.WriteFile("sub/file.txt", "hello")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(fsTool.Root(), "sub", "file.txt"), abs)

	content, err := fsTool.ReadFile("sub/file.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", content)
}

func TestFilesystemPreventsTraversal(t *testing.T) {
	dir := t.TempDir()
	fsTool, err := NewFilesystem(dir, true, nil)
	require.NoError(t, err)

	_, err = fsTool.ReadFile("../etc/passwd")
	require.ErrorIs(t, err, ErrPathEscape)

	_, err = fsTool.WriteFile("/etc/passwd", "x")
	require.ErrorIs(t, err, ErrPathEscape)
}

func TestFilesystemWriteDisabled(t *testing.T) {
	fsTool, err := NewFilesystem(t.TempDir(), false, nil)
	require.NoError(t, err)

	_, err = fsTool.WriteFile("a.txt", "x")
	require.Error(t, err)
}

func TestWriteFilesSkipsFailures(t *testing.T) {
	dir := t.TempDir()
	fsTool, err := NewFilesystem(dir, true, nil)
	require.NoError(t, err)

	written := fsTool.WriteFiles([]File{
		{Path: "pkg/a.py", Content: "a = 1\n"},
		{Path: "../outside.py", Content: "nope"},
		{Path: "pkg/b.py", Content: ""},
	})
	require.Len(t, written, 2)
	require.Equal(t, filepath.Join(fsTool.Root(), "pkg", "a.py"), written[0])

	_, err = os.Stat(filepath.Join(filepath.Dir(dir), "outside.py"))
	require.True(t, os.IsNotExist(err))
}

func TestWriteFilesLastWriteWins(t *testing.T) {
	dir := t.TempDir()
	fsTool, err := NewFilesystem(dir, true, nil)
	require.NoError(t, err)

	fsTool.WriteFiles([]File{{Path: "a/b.txt", Content: "x"}, {Path: "a/b.txt", Content: "y"}})

	data, err := os.ReadFile(filepath.Join(dir, "a", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "y", string(data))
}

func TestWalkFilesSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	fsTool, err := NewFilesystem(dir, true, nil)
	require.NoError(t, err)

	fsTool.WriteFiles([]File{
		{Path: "b.py", Content: "b"},
		{Path: "a/c.py", Content: "c"},
		{Path: ".git/HEAD", Content: "ref"},
	})

	var seen []string
	err = fsTool.WalkFiles(func(rel string, d fs.DirEntry) bool {
		return d.Name() == ".git"
	}, func(rel string, d fs.DirEntry) error {
		seen = append(seen, rel)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a/c.py", "b.py"}, seen)
}

func TestWalkFilesSkipsUnreadableDirectory(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	dir := t.TempDir()
	fsTool, err := NewFilesystem(dir, true, nil)
	require.NoError(t, err)

	fsTool.WriteFiles([]File{
		{Path: "a.py", Content: "a"},
		{Path: "locked/b.py", Content: "b"},
		{Path: "z/c.py", Content: "c"},
	})
	locked := filepath.Join(dir, "locked")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	var seen []string
	err = fsTool.WalkFiles(nil, func(rel string, d fs.DirEntry) error {
		seen = append(seen, rel)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a.py", "z/c.py"}, seen)
}

func TestWalkFilesMissingRoot(t *testing.T) {
	fsTool, err := NewFilesystem(filepath.Join(t.TempDir(), "missing"), false, nil)
	require.NoError(t, err)

	err = fsTool.WalkFiles(nil, func(string, fs.DirEntry) error { return nil })
	require.ErrorIs(t, err, os.ErrNotExist)
}
