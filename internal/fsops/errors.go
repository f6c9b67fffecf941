package fsops

import "errors"

var (
	// ErrAccessDenied means the process may not move or remove the path.
	// Nothing was changed when it is returned.
	ErrAccessDenied = errors.New("access denied")
	// ErrCrossDeviceCopy covers every failure of the copy fallback used
	// when a rename crosses filesystems: not enough space, an unsupported
	// file type, a read error or a digest mismatch.
	ErrCrossDeviceCopy = errors.New("cross-device copy failed")
	// ErrPartialMove means the destination holds a verified copy but the
	// source could not be removed afterwards.
	ErrPartialMove = errors.New("source retained after copy")
)
