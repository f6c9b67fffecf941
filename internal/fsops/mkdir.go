package fsops

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// MkdirParents creates dir and whichever of its parents are missing and
// returns the directories it created, outermost first. mode picks the
// permission bits of each new directory and is applied exactly, without the
// umask; a nil mode means 0o755 under the umask. On failure everything it
// created is removed again.
func MkdirParents(dir string, mode func(dir string) fs.FileMode) ([]string, error) {
	var missing []string
	for p := filepath.Clean(dir); ; {
		_, err := os.Lstat(p)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		missing = append(missing, p)
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}

	created := make([]string, 0, len(missing))
	for i := len(missing) - 1; i >= 0; i-- {
		p := missing[i]
		perm := fs.FileMode(0o755)
		if mode != nil {
			perm = mode(p)
		}
		if err := os.Mkdir(p, perm); err != nil {
			if info, statErr := os.Lstat(p); errors.Is(err, fs.ErrExist) && statErr == nil && info.IsDir() {
				// made by someone else meanwhile; not ours to remove
				continue
			}
			RemoveCreated(created)
			return nil, err
		}
		created = append(created, p)
		if mode != nil {
			if err := os.Chmod(p, perm); err != nil {
				RemoveCreated(created)
				return nil, err
			}
		}
	}
	return created, nil
}

// RemoveCreated undoes MkdirParents, innermost first. Directories that are
// no longer empty are left alone.
func RemoveCreated(created []string) {
	for i := len(created) - 1; i >= 0; i-- {
		_ = os.Remove(created[i])
	}
}
