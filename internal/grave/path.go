// Package grave resolves deletion targets to canonical paths and maps them
// onto unique locations beneath a graveyard root.
package grave

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var errEmptyPath = errors.New("empty path")

// Path is an absolute, cleaned filesystem path. Comparisons follow the
// host platform's case rules.
type Path string

func (p Path) String() string {
	return string(p)
}

// Equal reports whether p and q name the same location on this platform.
func (p Path) Equal(q Path) bool {
	return samePath(filepath.Clean(string(p)), filepath.Clean(string(q)))
}

// Within reports whether p is dir itself or lies somewhere below it.
func (p Path) Within(dir Path) bool {
	s := filepath.Clean(string(p))
	d := filepath.Clean(string(dir))
	if samePath(s, d) {
		return true
	}
	prefix := d
	if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}
	if len(s) <= len(prefix) {
		return false
	}
	return samePath(s[:len(prefix)], prefix)
}

// Canonicalize turns a user supplied path into an absolute Path. Symlinks in
// the parent components are resolved, the final component is kept as given
// so that a link can itself be the subject of a deletion.
func Canonicalize(path string) (Path, error) {
	if strings.TrimSpace(path) == "" {
		return "", errEmptyPath
	}
	abs, err := filepath.Abs(filepath.FromSlash(path))
	if err != nil {
		return "", fmt.Errorf("absolute path for %s: %w", path, err)
	}
	dir, base := filepath.Split(abs)
	if base == "" {
		// volume root, nothing left to resolve
		return Path(abs), nil
	}
	parent, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	return Path(filepath.Join(parent, base)), nil
}

// CanonicalizeDir resolves every component of an existing directory,
// including the last one. Used for the graveyard root.
func CanonicalizeDir(dir string) (Path, error) {
	abs, err := filepath.Abs(filepath.FromSlash(dir))
	if err != nil {
		return "", fmt.Errorf("absolute path for %s: %w", dir, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", abs, err)
	}
	return Path(resolved), nil
}
