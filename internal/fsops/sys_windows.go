//go:build windows

package fsops

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"golang.org/x/sys/windows"
)

func isCrossDevice(err error) bool {
	return errors.Is(err, windows.ERROR_NOT_SAME_DEVICE)
}

func isPermission(err error) bool {
	return errors.Is(err, fs.ErrPermission) || errors.Is(err, windows.ERROR_SHARING_VIOLATION)
}

func mkfifo(path string, _ fs.FileMode) error {
	return fmt.Errorf("%w: named pipes cannot be copied: %s", ErrCrossDeviceCopy, path)
}

// Symlink times are left as created on Windows.
func setLinkTimes(string, time.Time, time.Time) error {
	return nil
}

// Windows reports sharing and ACL failures at removal time only.
func checkRemovable(string, fs.FileInfo) error {
	return nil
}
