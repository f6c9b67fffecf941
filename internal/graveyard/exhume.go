package graveyard

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"rip-sage/internal/database"
	"rip-sage/internal/disk"
	"rip-sage/internal/fsops"
	"rip-sage/internal/metrics"
	"rip-sage/internal/record"
)

// RestoredInfo describes a completed exhume.
type RestoredInfo struct {
	record.Entry
	Size        int64
	CrossDevice bool
	// CopyRetained is set when the item was copied back across filesystems
	// but part of the grave could not be removed. The entry is dropped
	// regardless; the leftover is just garbage inside the graveyard.
	CopyRetained bool
}

// Exhume restores the most recently buried entry matching pred and drops it
// from the record. It fails with ErrNotFound when nothing matches, leaving
// the record untouched.
//
// The record lock is held from selection to removal, so when two processes
// exhume the same entry only one succeeds and the other sees ErrNotFound.
func (g *Graveyard) Exhume(ctx context.Context, pred Predicate) (RestoredInfo, error) {
	defer metrics.ObserveDuration("exhume", time.Now())

	restored, err := g.exhume(ctx, pred, false)
	if len(restored) == 0 {
		return RestoredInfo{}, err
	}
	return restored[0], err
}

// ExhumeAll restores every entry matching pred, newest first. Entries that
// cannot be restored are left in the record and reported in the joined
// error; the others are restored regardless.
func (g *Graveyard) ExhumeAll(ctx context.Context, pred Predicate) ([]RestoredInfo, error) {
	defer metrics.ObserveDuration("exhume", time.Now())

	return g.exhume(ctx, pred, true)
}

// exhume restores the newest match, or every match when all is set. Matches
// whose grave has vanished are dropped from the record on the way, so a stale
// row is reported once and never blocks the entries behind it.
func (g *Graveyard) exhume(ctx context.Context, pred Predicate, all bool) ([]RestoredInfo, error) {
	var restored []RestoredInfo
	var stale []record.Entry
	var failures []error

	err := g.store.Update(ctx, func(entries []record.Entry) ([]record.Entry, error) {
		matches := filter(entries, pred)
		if len(matches) == 0 {
			return nil, ErrNotFound
		}
		slices.SortFunc(matches, newestFirst)
		selected, rest := matches, []indexed(nil)
		if !all {
			selected, rest = matches[:1], matches[1:]
		}

		var drop []record.Entry
		for _, m := range rest {
			if graveGone(m.Entry) {
				stale = append(stale, m.Entry)
				drop = append(drop, m.Entry)
			}
		}
		for _, m := range selected {
			r, err := g.restore(m.Entry)
			if errors.Is(err, ErrMissingGraveyardFile) {
				stale = append(stale, m.Entry)
				drop = append(drop, m.Entry)
			}
			if err != nil {
				failures = append(failures, g.fail("exhume", m.Entry, fmt.Errorf("exhume %s: %w", m.Original, err)))
				continue
			}
			restored = append(restored, r)
			drop = append(drop, m.Entry)
		}
		return drop, nil
	})
	if err != nil {
		// the data went back but the record still lists it; undo the moves
		// so the record stays truthful
		for _, r := range restored {
			if r.CopyRetained {
				continue
			}
			if _, backErr := g.mover.Move(r.Original, r.Grave, r.Size); backErr != nil {
				err = errors.Join(err, fmt.Errorf("return %s to %s: %w", r.Original, r.Grave, backErr))
			}
		}
		if errors.Is(err, ErrNotFound) {
			metrics.RecordError("exhume", errKind(err))
			return nil, fmt.Errorf("exhume: %w", err)
		}
		return nil, g.fail("exhume", record.Entry{}, fmt.Errorf("exhume: %w", err))
	}

	metrics.PrunedTotal.Add(float64(len(stale)))
	for _, e := range stale {
		g.audit(database.ActionPrune, e, 0, nil)
		g.log.Info("pruned stale entry", "original", e.Original, "grave", e.Grave)
	}
	for _, r := range restored {
		metrics.RecordExhume(r.CrossDevice)
		g.audit(database.ActionExhume, r.Entry, r.Size, nil)
		g.log.Info("exhumed", "grave", r.Grave, "original", r.Original, "cross_device", r.CrossDevice)
	}
	return restored, errors.Join(failures...)
}

func graveGone(e record.Entry) bool {
	_, err := os.Lstat(e.Grave)
	return errors.Is(err, fs.ErrNotExist)
}

// restore moves one grave back to its original location. Called with the
// record lock held.
func (g *Graveyard) restore(e record.Entry) (RestoredInfo, error) {
	if _, err := os.Lstat(e.Grave); errors.Is(err, fs.ErrNotExist) {
		return RestoredInfo{}, fmt.Errorf("%w: %s", ErrMissingGraveyardFile, e.Grave)
	} else if err != nil {
		return RestoredInfo{}, classifyFS(err)
	}
	if _, err := os.Lstat(e.Original); err == nil {
		return RestoredInfo{}, fmt.Errorf("%w: %s", ErrDestinationOccupied, e.Original)
	}

	created, err := fsops.MkdirParents(filepath.Dir(e.Original), nil)
	if err != nil {
		return RestoredInfo{}, fmt.Errorf("recreate parent of %s: %w", e.Original, classifyFS(err))
	}

	size, err := disk.SizeOf(e.Grave)
	if err != nil {
		g.log.Warn("could not size grave", "grave", e.Grave, "error", err)
	}

	res, err := g.mover.Move(e.Grave, e.Original, size)
	switch {
	case err == nil:
	case errors.Is(err, fsops.ErrPartialMove):
		g.log.Warn("grave not fully removed after copy", "grave", e.Grave, "error", err)
	case errors.Is(err, fs.ErrExist):
		fsops.RemoveCreated(created)
		return RestoredInfo{}, fmt.Errorf("%w: %s", ErrDestinationOccupied, e.Original)
	default:
		fsops.RemoveCreated(created)
		return RestoredInfo{}, err
	}
	return RestoredInfo{Entry: e, Size: size, CrossDevice: res.CrossDevice, CopyRetained: res.CopyRetained}, nil
}
