//go:build unix

package fsops

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

func isCrossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}

func isPermission(err error) bool {
	return errors.Is(err, fs.ErrPermission) || errors.Is(err, unix.EROFS)
}

func mkfifo(path string, perm fs.FileMode) error {
	if err := unix.Mkfifo(path, uint32(perm.Perm())); err != nil {
		return &os.PathError{Op: "mkfifo", Path: path, Err: err}
	}
	return nil
}

// setLinkTimes sets the times of a symlink itself rather than its target.
func setLinkTimes(path string, atime, mtime time.Time) error {
	tv := []unix.Timeval{
		unix.NsecToTimeval(atime.UnixNano()),
		unix.NsecToTimeval(mtime.UnixNano()),
	}
	if err := unix.Lutimes(path, tv); err != nil {
		return &os.PathError{Op: "lutimes", Path: path, Err: err}
	}
	return nil
}

// checkRemovable verifies, without changing anything, that path could be
// copied and then unlinked: its parent and every directory inside it must be
// writable and searchable, and every regular file readable, by this process.
func checkRemovable(path string, info fs.FileInfo) error {
	parent := filepath.Dir(path)
	if err := unix.Access(parent, unix.W_OK|unix.X_OK); err != nil {
		return &os.PathError{Op: "access", Path: parent, Err: err}
	}
	if !info.IsDir() {
		return checkReadable(path, info.Mode())
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return checkReadable(p, d.Type())
		}
		if err := unix.Access(p, unix.W_OK|unix.X_OK|unix.R_OK); err != nil {
			return &os.PathError{Op: "access", Path: p, Err: err}
		}
		return nil
	})
}

func checkReadable(path string, mode fs.FileMode) error {
	if !mode.IsRegular() {
		return nil
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return &os.PathError{Op: "access", Path: path, Err: err}
	}
	return nil
}
