package graveyard

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"rip-sage/internal/database"
	"rip-sage/internal/metrics"
	"rip-sage/internal/record"
)

// Prune drops the entries matching pred whose grave no longer exists and
// returns them. Existence is checked under the exclusive lock, so an entry
// restored or re-created concurrently is never dropped by mistake.
func (g *Graveyard) Prune(ctx context.Context, pred Predicate) ([]record.Entry, error) {
	defer metrics.ObserveDuration("prune", time.Now())

	var pruned []record.Entry
	err := g.store.Update(ctx, func(entries []record.Entry) ([]record.Entry, error) {
		pruned = pruned[:0]
		for _, m := range filter(entries, pred) {
			if _, err := os.Lstat(m.Grave); errors.Is(err, fs.ErrNotExist) {
				pruned = append(pruned, m.Entry)
			}
		}
		return pruned, nil
	})
	if err != nil {
		return nil, g.fail("prune", record.Entry{}, fmt.Errorf("prune: %w", err))
	}

	metrics.PrunedTotal.Add(float64(len(pruned)))
	for _, e := range pruned {
		g.audit(database.ActionPrune, e, 0, nil)
		g.log.Info("pruned stale entry", "original", e.Original, "grave", e.Grave)
	}
	return pruned, nil
}
