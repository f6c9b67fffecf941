package graveyard

import (
	"errors"

	"rip-sage/internal/fsops"
	"rip-sage/internal/record"
	"rip-sage/internal/safety"
)

var (
	// ErrNotFound means the bury target does not exist, or no record entry
	// matched an exhume.
	ErrNotFound = errors.New("not found")
	// ErrPartialBury means a bury did not complete cleanly. Either the
	// original is intact and nothing was recorded, or (when the cause is
	// fsops.ErrPartialMove) the graveyard holds a verified copy that was
	// recorded while parts of the original remain.
	ErrPartialBury = errors.New("partial bury")
	// ErrDestinationOccupied means something already exists where an
	// exhumed item would go. Neither side is touched.
	ErrDestinationOccupied = errors.New("destination occupied")
	// ErrMissingGraveyardFile means a record entry points at a grave that
	// no longer exists. The failing exhume reports it once and drops the
	// entry from the record.
	ErrMissingGraveyardFile = errors.New("missing graveyard file")
	// ErrOutsideGraveyard is returned by Unlink for paths it does not own.
	ErrOutsideGraveyard = errors.New("path is not inside the graveyard")
)

// Errors raised by the layers below, re-exported so callers need only this
// package.
var (
	ErrAccessDenied      = fsops.ErrAccessDenied
	ErrCrossDeviceCopy   = fsops.ErrCrossDeviceCopy
	ErrLockContention    = record.ErrLockContention
	ErrCorruptRecord     = record.ErrCorruptRecord
	ErrMissingHeader     = record.ErrMissingHeader
	ErrFormatMismatch    = record.ErrFormatMismatch
	ErrProtectedPath     = safety.ErrProtectedPath
	ErrInsideGraveyard   = safety.ErrInsideGraveyard
	ErrContainsGraveyard = safety.ErrContainsGraveyard
)

// errKind labels err for the errors metric.
func errKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrLockContention):
		return "lock_contention"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrDestinationOccupied):
		return "destination_occupied"
	case errors.Is(err, ErrMissingGraveyardFile):
		return "missing_grave"
	case errors.Is(err, ErrPartialBury):
		return "partial"
	case errors.Is(err, ErrCrossDeviceCopy):
		return "cross_device"
	case errors.Is(err, ErrProtectedPath), errors.Is(err, ErrInsideGraveyard),
		errors.Is(err, ErrContainsGraveyard), errors.Is(err, ErrOutsideGraveyard):
		return "safety"
	case errors.Is(err, ErrMissingHeader), errors.Is(err, ErrFormatMismatch):
		return "record_format"
	default:
		return "other"
	}
}
