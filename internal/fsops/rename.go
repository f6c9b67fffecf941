package fsops

import (
	"errors"
	"io/fs"
	"os"
)

// renameChecked refuses to rename over an existing dst. The window between
// the Lstat and the rename is not closed here; callers on platforms without
// an atomic no-replace rename accept that race.
func renameChecked(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: fs.ErrExist}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(src, dst)
}
