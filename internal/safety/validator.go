package safety

import (
	"errors"
	"path/filepath"
	"runtime"

	"rip-sage/internal/grave"
)

var (
	ErrInvalidPath       = errors.New("invalid path")
	ErrProtectedPath     = errors.New("protected path")
	ErrInsideGraveyard   = errors.New("target is inside the graveyard")
	ErrContainsGraveyard = errors.New("target contains the graveyard")
)

// Validator decides whether a path may be buried.
type Validator struct {
	Graveyard grave.Path
	// ProtectedPaths may not be buried themselves; their contents may.
	ProtectedPaths []grave.Path
	// ProtectedTrees may not be buried, nor may anything below them.
	ProtectedTrees []grave.Path
}

// NewValidator creates a validator for graveyard with the base protected
// set plus extra trees from configuration.
func NewValidator(graveyard grave.Path, extraProtected []string) *Validator {
	v := &Validator{Graveyard: graveyard}
	for _, p := range defaultProtected() {
		v.ProtectedPaths = append(v.ProtectedPaths, grave.Path(filepath.Clean(p)))
	}
	for _, p := range append(defaultProtectedTrees(), extraProtected...) {
		v.ProtectedTrees = append(v.ProtectedTrees, grave.Path(filepath.Clean(p)))
	}
	return v
}

// ValidateBuryTarget is the single-source-of-truth for bury authorization.
// p must already be canonical.
func (v *Validator) ValidateBuryTarget(p grave.Path) error {
	if p == "" || !filepath.IsAbs(string(p)) {
		return ErrInvalidPath
	}

	if IsProtectedPath(p, v.ProtectedPaths, v.ProtectedTrees) {
		return ErrProtectedPath
	}

	if v.Graveyard != "" {
		if p.Within(v.Graveyard) {
			return ErrInsideGraveyard
		}
		if v.Graveyard.Within(p) {
			return ErrContainsGraveyard
		}
	}
	return nil
}

// IsProtectedPath reports whether p is a filesystem root, one of exact, or
// lies within one of trees.
func IsProtectedPath(p grave.Path, exact, trees []grave.Path) bool {
	clean := filepath.Clean(string(p))
	// Hard block: a volume root
	if clean == filepath.VolumeName(clean)+string(filepath.Separator) {
		return true
	}
	for _, prot := range exact {
		if p.Equal(prot) {
			return true
		}
	}
	for _, prot := range trees {
		if p.Within(prot) {
			return true
		}
	}
	return false
}

// defaultProtected returns system directories that must never be moved
// wholesale.
func defaultProtected() []string {
	if runtime.GOOS == "windows" {
		return []string{`C:\Windows`, `C:\Program Files`, `C:\Users`}
	}
	return []string{
		"/",
		"/etc",
		"/bin",
		"/usr",
		"/boot",
		"/lib",
		"/lib64",
		"/sbin",
		"/var",
		"/home",
		"/root",
		"/opt",
	}
}

// defaultProtectedTrees are virtual filesystems; nothing in them can be
// meaningfully relocated.
func defaultProtectedTrees() []string {
	if runtime.GOOS != "linux" {
		return nil
	}
	return []string{"/proc", "/sys", "/dev"}
}
