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
	"rip-sage/internal/grave"
	"rip-sage/internal/metrics"
	"rip-sage/internal/record"
)

// BuriedInfo describes a completed bury.
type BuriedInfo struct {
	record.Entry
	Size        int64
	CrossDevice bool
}

// Bury moves path into the graveyard and records it. path may be relative
// to the working directory; a symlink is buried as the link itself.
//
// On success the item is gone from its original location and exactly one
// entry was appended. On failure nothing changed, except for the case
// documented on ErrPartialBury.
func (g *Graveyard) Bury(ctx context.Context, path string) (BuriedInfo, error) {
	defer metrics.ObserveDuration("bury", time.Now())

	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return BuriedInfo{}, g.fail("bury", record.Entry{Original: path}, fmt.Errorf("bury %s: %w", path, ErrNotFound))
	}
	if err != nil {
		return BuriedInfo{}, g.fail("bury", record.Entry{Original: path}, fmt.Errorf("bury %s: %w", path, classifyFS(err)))
	}

	src, err := grave.Canonicalize(path)
	if err != nil {
		return BuriedInfo{}, g.fail("bury", record.Entry{Original: path}, fmt.Errorf("bury %s: %w", path, err))
	}
	entry := record.Entry{Original: string(src), IsDir: info.IsDir()}
	if err := g.validator.ValidateBuryTarget(src); err != nil {
		return BuriedInfo{}, g.fail("bury", entry, fmt.Errorf("bury %s: %w", src, err))
	}

	size, err := disk.SizeOf(string(src))
	if err != nil {
		g.log.Warn("could not size bury target", "path", src, "error", err)
	}

	var res fsops.Result
	namer := g.namer
	namer.Reserved = g.graveLookup(ctx)
	dest, err := namer.Claim(g.root, src, func(dest grave.Path) error {
		created, err := fsops.MkdirParents(filepath.Dir(string(dest)), graveDirModes(g.root, src, dest))
		if err != nil {
			return classifyFS(err)
		}
		res, err = g.mover.Move(string(src), string(dest), size)
		if err != nil && !errors.Is(err, fsops.ErrPartialMove) {
			fsops.RemoveCreated(created)
		}
		return err
	})
	entry.Grave = string(dest)
	entry.Time = time.Now()

	var partial error
	switch {
	case err == nil:
	case errors.Is(err, fsops.ErrPartialMove):
		// the graveyard holds a verified copy; record it so it can be found
		partial = fmt.Errorf("bury %s: %w: %w", src, ErrPartialBury, err)
	case errors.Is(err, ErrCrossDeviceCopy):
		return BuriedInfo{}, g.fail("bury", entry, fmt.Errorf("bury %s: %w: %w", src, ErrPartialBury, err))
	default:
		return BuriedInfo{}, g.fail("bury", entry, fmt.Errorf("bury %s: %w", src, err))
	}

	if err := g.store.Append(ctx, entry); err != nil {
		err = fmt.Errorf("bury %s: record: %w", src, err)
		if partial == nil {
			if _, backErr := g.mover.Move(entry.Grave, entry.Original, size); backErr != nil {
				err = errors.Join(err, fmt.Errorf("put back %s from %s: %w", entry.Original, entry.Grave, backErr))
			}
		}
		return BuriedInfo{}, g.fail("bury", entry, err)
	}

	metrics.RecordBury(size, res.CrossDevice)
	g.audit(database.ActionBury, entry, size, nil)
	g.log.Info("buried", "original", entry.Original, "grave", entry.Grave, "bytes", size, "cross_device", res.CrossDevice)

	buried := BuriedInfo{Entry: entry, Size: size, CrossDevice: res.CrossDevice}
	if partial != nil {
		g.log.Warn("original not fully removed after copy", "original", entry.Original, "grave", entry.Grave)
		return buried, partial
	}
	return buried, nil
}

// graveLookup reports whether a path is the grave of a recorded entry. The
// record is read on first use, and only if the namer has to ask.
func (g *Graveyard) graveLookup(ctx context.Context) func(grave.Path) (bool, error) {
	var graves []grave.Path
	loaded := false
	return func(p grave.Path) (bool, error) {
		if !loaded {
			snap, err := g.store.ReadAll(ctx)
			if err != nil {
				return false, err
			}
			for _, e := range snap.Entries {
				graves = append(graves, grave.Path(e.Grave))
			}
			loaded = true
		}
		return slices.ContainsFunc(graves, p.Equal), nil
	}
}

// graveDirModes gives each graveyard directory above dest the permission
// bits of the source directory it mirrors, plus owner access so later buries
// and exhumes can still work inside it. Directories with no source
// counterpart get 0o700.
func graveDirModes(root, src, dest grave.Path) func(dir string) fs.FileMode {
	modes := make(map[string]fs.FileMode)
	s, d := filepath.Dir(string(src)), filepath.Dir(string(dest))
	for grave.Path(d).Within(root) && !grave.Path(d).Equal(root) {
		if info, err := os.Stat(s); err == nil {
			modes[d] = info.Mode().Perm() | 0o700
		}
		next := filepath.Dir(s)
		if next == s {
			break
		}
		s, d = next, filepath.Dir(d)
	}
	return func(dir string) fs.FileMode {
		if m, ok := modes[filepath.Clean(dir)]; ok {
			return m
		}
		return 0o700
	}
}

func classifyFS(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	return err
}
