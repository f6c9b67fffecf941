package grave

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultAttempts bounds how many "~N" suffixes are tried for one target.
const DefaultAttempts = 1024

// ErrNoFreeName is returned when every candidate destination was taken.
var ErrNoFreeName = errors.New("no free graveyard name")

// Join mirrors the absolute structure of original beneath root, so
// /tmp/a/file.txt buried into /graveyard lands at /graveyard/tmp/a/file.txt.
// A volume name such as "C:" becomes a plain "C" component.
func Join(root, original Path) Path {
	p := filepath.Clean(string(original))
	vol := filepath.VolumeName(p)
	rest := strings.TrimLeft(p[len(vol):], `\/`)
	vol = strings.Trim(strings.ReplaceAll(vol, ":", ""), `\/`)
	return Path(filepath.Join(string(root), vol, rest))
}

// Suffixed returns the n-th disambiguated sibling of p: p itself for n == 0,
// otherwise p with "~n" appended to its final component.
func Suffixed(p Path, n int) Path {
	if n == 0 {
		return p
	}
	return Path(string(p) + "~" + strconv.Itoa(n))
}

// Namer picks collision free destinations inside a graveyard.
//
// The "~N" suffix goes on whichever component collides. The final component
// is suffixed when it is occupied; a directory on the way down is suffixed
// when it exists as something other than a directory, or when it is itself
// a grave, so that a new grave never ends up inside an older one.
type Namer struct {
	// Attempts is the number of candidates tried per component before
	// giving up.
	Attempts int
	// Exists reports whether a candidate is occupied. Defaults to an
	// Lstat check, so dangling symlinks count as occupied.
	Exists func(Path) bool
	// Reserved reports whether an existing directory is the grave of a
	// live entry. Nil means no directory is.
	Reserved func(Path) (bool, error)
}

// NewNamer returns a Namer with the given attempt bound (DefaultAttempts
// when attempts <= 0).
func NewNamer(attempts int) Namer {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	return Namer{Attempts: attempts}
}

// Destination returns the first unoccupied candidate for original. It is
// advisory only: another process may take the name before it is used, see
// Claim.
func (n Namer) Destination(root, original Path) (Path, error) {
	base, err := n.base(root, original)
	if err != nil {
		return "", err
	}
	for i := 0; i < n.attempts(); i++ {
		candidate := Suffixed(base, i)
		taken, err := n.occupied(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoFreeName, base)
}

// Claim walks the candidates for original and calls place on each free one.
// place must fail with an error matching fs.ErrExist when the destination
// appeared between the existence check and the move; Claim then moves on to
// the next suffix. Any other error stops the walk and is returned together
// with the destination that was being placed.
func (n Namer) Claim(root, original Path, place func(dest Path) error) (Path, error) {
	base, err := n.base(root, original)
	if err != nil {
		return "", err
	}
	for i := 0; i < n.attempts(); i++ {
		candidate := Suffixed(base, i)
		taken, err := n.occupied(candidate)
		if err != nil {
			return candidate, err
		}
		if taken {
			continue
		}
		err = place(candidate)
		if err == nil {
			return candidate, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		return candidate, err
	}
	return "", fmt.Errorf("%w: %s after %d attempts", ErrNoFreeName, base, n.attempts())
}

// base returns Join(root, original) with every parent component that cannot
// hold a new grave replaced by its first usable suffixed sibling.
func (n Namer) base(root, original Path) (Path, error) {
	full := Join(root, original)
	rel, err := filepath.Rel(string(root), string(full))
	if err != nil {
		return "", fmt.Errorf("place %s under %s: %w", original, root, err)
	}
	parts := strings.Split(rel, string(filepath.Separator))
	dir := root
	for _, name := range parts[:len(parts)-1] {
		if dir, err = n.enter(dir, name); err != nil {
			return "", err
		}
	}
	return Path(filepath.Join(string(dir), parts[len(parts)-1])), nil
}

func (n Namer) enter(dir Path, name string) (Path, error) {
	want := Path(filepath.Join(string(dir), name))
	for i := 0; i < n.attempts(); i++ {
		candidate := Suffixed(want, i)
		ok, err := n.canHold(candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s after %d attempts", ErrNoFreeName, want, n.attempts())
}

// canHold reports whether dir is missing, or is a plain directory that is
// not a grave.
func (n Namer) canHold(dir Path) (bool, error) {
	info, err := os.Lstat(string(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, nil
	}
	if n.Reserved == nil {
		return true, nil
	}
	reserved, err := n.Reserved(dir)
	return !reserved, err
}

func (n Namer) attempts() int {
	if n.Attempts <= 0 {
		return DefaultAttempts
	}
	return n.Attempts
}

func (n Namer) occupied(p Path) (bool, error) {
	if n.Exists != nil {
		return n.Exists(p), nil
	}
	_, err := os.Lstat(string(p))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return false, err
}
