package fsops

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Mover relocates files and directory trees. A plain rename is tried first;
// when it crosses filesystems the tree is copied, verified and the source
// removed. Neither path ever replaces an existing destination.
type Mover struct {
	Deleter Deleter
	// Rename defaults to an atomic rename that refuses to replace.
	Rename func(src, dst string) error
	// SpaceCheck, when set, is asked before a cross-device copy whether the
	// filesystem holding dir can take need more bytes.
	SpaceCheck func(dir string, need int64) error
}

// NewMover returns a Mover removing through d.
func NewMover(d Deleter) *Mover {
	if d == nil {
		d = OSDeleter{}
	}
	return &Mover{Deleter: d}
}

// Result describes how a move went.
type Result struct {
	CrossDevice bool
	// CopyRetained is set when dst holds a verified copy and src is still
	// (at least partly) present. The error is ErrPartialMove.
	CopyRetained bool
}

// Move relocates src to dst. The parent of dst must exist. need is the
// number of bytes the source occupies and is only used for the free space
// check ahead of a copy.
//
// An occupied dst yields an error matching fs.ErrExist and leaves both sides
// untouched. Permission problems yield ErrAccessDenied.
func (m *Mover) Move(src, dst string, need int64) (Result, error) {
	info, err := os.Lstat(src)
	if err != nil {
		return Result{}, classify(err)
	}

	rename := m.Rename
	if rename == nil {
		rename = renameNoReplace
	}
	err = rename(src, dst)
	switch {
	case err == nil:
		return Result{}, nil
	case errors.Is(err, fs.ErrExist):
		return Result{}, err
	case isCrossDevice(err):
		return m.copyAcross(src, dst, info, need)
	default:
		return Result{}, classify(err)
	}
}

func (m *Mover) copyAcross(src, dst string, info fs.FileInfo, need int64) (Result, error) {
	res := Result{CrossDevice: true}

	if err := checkRemovable(src, info); err != nil {
		return res, fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	if m.SpaceCheck != nil {
		if err := m.SpaceCheck(filepath.Dir(dst), need); err != nil {
			return res, fmt.Errorf("%w: %w", ErrCrossDeviceCopy, err)
		}
	}
	if _, err := os.Lstat(dst); err == nil {
		return res, &os.LinkError{Op: "copy", Old: src, New: dst, Err: fs.ErrExist}
	}

	if err := copyTree(src, dst, info); err != nil {
		// someone else owns dst if creating it was what failed
		if collidedAt(err, dst) {
			return res, err
		}
		if rmErr := m.deleter().RemoveAll(dst); rmErr != nil {
			err = errors.Join(err, fmt.Errorf("remove partial copy %s: %w", dst, rmErr))
		}
		if errors.Is(err, ErrCrossDeviceCopy) {
			return res, err
		}
		if isPermission(err) {
			return res, fmt.Errorf("%w: %w", ErrAccessDenied, err)
		}
		return res, fmt.Errorf("%w: %w", ErrCrossDeviceCopy, err)
	}

	if err := m.deleter().RemoveAll(src); err != nil {
		res.CopyRetained = true
		return res, fmt.Errorf("%w: %s copied to %s: %w", ErrPartialMove, src, dst, err)
	}
	return res, nil
}

func (m *Mover) deleter() Deleter {
	if m.Deleter == nil {
		return OSDeleter{}
	}
	return m.Deleter
}

func classify(err error) error {
	if isPermission(err) {
		return fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	return err
}

func collidedAt(err error, dst string) bool {
	if !errors.Is(err, fs.ErrExist) {
		return false
	}
	var pe *fs.PathError
	if errors.As(err, &pe) && pe.Path == dst {
		return true
	}
	var le *os.LinkError
	return errors.As(err, &le) && le.New == dst
}
