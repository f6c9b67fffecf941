package fsops

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMoveRenamesWithinFilesystem(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o640))

	res, err := NewMover(nil).Move(src, dst, 5)
	require.NoError(t, err)
	require.False(t, res.CrossDevice)

	_, err = os.Lstat(src)
	require.True(t, errors.Is(err, fs.ErrNotExist))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestMoveNeverReplaces(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o600))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o600))

	_, err := NewMover(nil).Move(src, dst, 3)
	require.ErrorIs(t, err, fs.ErrExist)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "old", string(data))
	data, err = os.ReadFile(src)
	require.NoError(t, err)
	require.Equal(t, "new", string(data))
}

func TestMoveMissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := NewMover(nil).Move(filepath.Join(dir, "nope"), filepath.Join(dir, "dst"), 0)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMoveRenameErrorPassesThrough(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, nil, 0o600))

	boom := errors.New("boom")
	m := NewMover(nil)
	m.Rename = func(string, string) error { return boom }

	_, err := m.Move(src, filepath.Join(dir, "dst"), 0)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrAccessDenied)
}

func TestMovePermissionDenied(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, nil, 0o600))

	m := NewMover(nil)
	m.Rename = func(src, dst string) error {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: fs.ErrPermission}
	}
	_, err := m.Move(src, filepath.Join(dir, "dst"), 0)
	require.ErrorIs(t, err, ErrAccessDenied)

	_, err = os.Lstat(src)
	require.NoError(t, err)
}

func TestFakeDeleterFailOn(t *testing.T) {
	boom := errors.New("boom")
	d := &FakeDeleter{Err: boom, FailOn: "keep"}

	require.NoError(t, d.Remove("/tmp/other"))
	require.ErrorIs(t, d.RemoveAll("/tmp/keep/me"), boom)
	require.Equal(t, []string{"rm:/tmp/other", "rmall:/tmp/keep/me"}, d.Calls)
}
