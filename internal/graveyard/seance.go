package graveyard

import (
	"context"
	"errors"
	"io/fs"
	"slices"
	"time"

	"rip-sage/internal/disk"
	"rip-sage/internal/metrics"
	"rip-sage/internal/record"
)

// Grave is a listed graveyard entry.
type Grave struct {
	record.Entry
	// Size in bytes, summed over a directory's files. -1 when the grave
	// exists but could not be sized.
	Size int64
}

// List returns the entries matching pred, newest first, with their sizes.
// The record is only locked while it is read. Entries whose grave has
// disappeared are left out and pruned from the record on the way.
func (g *Graveyard) List(ctx context.Context, pred Predicate) ([]Grave, error) {
	defer metrics.ObserveDuration("seance", time.Now())

	snap, err := g.store.ReadAll(ctx)
	if err != nil {
		metrics.RecordError("seance", errKind(err))
		return nil, err
	}
	matches := filter(snap.Entries, pred)
	slices.SortFunc(matches, newestFirst)

	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = m.Grave
	}
	sizes := disk.SizeOfAll(paths, 0)

	graves := make([]Grave, 0, len(matches))
	stale := make(map[string]struct{})
	for _, m := range matches {
		r := sizes[m.Grave]
		switch {
		case r.Err == nil:
			graves = append(graves, Grave{Entry: m.Entry, Size: r.Bytes})
		case errors.Is(r.Err, fs.ErrNotExist):
			stale[m.Grave] = struct{}{}
		default:
			g.log.Warn("could not size grave", "grave", m.Grave, "error", r.Err)
			graves = append(graves, Grave{Entry: m.Entry, Size: -1})
		}
	}

	if len(stale) > 0 {
		inStale := func(e record.Entry) bool {
			_, ok := stale[e.Grave]
			return ok
		}
		if _, err := g.Prune(ctx, inStale); err != nil {
			g.log.Warn("lazy prune failed", "entries", len(stale), "error", err)
		}
	}
	return graves, nil
}
