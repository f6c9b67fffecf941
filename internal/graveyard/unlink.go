package graveyard

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"rip-sage/internal/database"
	"rip-sage/internal/grave"
	"rip-sage/internal/metrics"
	"rip-sage/internal/record"
)

// Unlink permanently deletes path, which must lie inside the graveyard.
// Nothing is recorded; entries whose grave was removed are pruned.
func (g *Graveyard) Unlink(ctx context.Context, path string) error {
	defer metrics.ObserveDuration("unlink", time.Now())

	p, err := grave.Canonicalize(path)
	if err != nil {
		return g.fail("unlink", record.Entry{Original: path}, fmt.Errorf("unlink %s: %w", path, err))
	}
	target := record.Entry{Original: string(p)}
	if !p.Within(g.root) || p.Equal(g.root) || g.isRecordFile(p) {
		return g.fail("unlink", target, fmt.Errorf("unlink %s: %w", p, ErrOutsideGraveyard))
	}
	if _, err := os.Lstat(string(p)); errors.Is(err, fs.ErrNotExist) {
		return g.fail("unlink", target, fmt.Errorf("unlink %s: %w", p, ErrNotFound))
	}

	if err := g.mover.Deleter.RemoveAll(string(p)); err != nil {
		return g.fail("unlink", target, fmt.Errorf("unlink %s: %w", p, classifyFS(err)))
	}
	metrics.UnlinkedTotal.Inc()
	g.audit(database.ActionUnlink, target, 0, nil)
	g.log.Info("unlinked", "path", p)

	// graves at or below p are gone now
	if _, err := g.Prune(ctx, func(e record.Entry) bool { return grave.Path(e.Grave).Within(p) }); err != nil {
		g.log.Warn("prune after unlink failed", "path", p, "error", err)
	}
	return nil
}

// Decompose permanently deletes everything in the graveyard, record
// included. It holds the exclusive lock throughout so no bury or exhume
// interleaves; the lock file itself survives.
func (g *Graveyard) Decompose(ctx context.Context) error {
	defer metrics.ObserveDuration("decompose", time.Now())

	// the record is not parsed, so an unreadable one can still be cleared
	err := g.store.WithLock(ctx, func() error {
		children, err := os.ReadDir(string(g.root))
		if err != nil {
			return err
		}
		for _, c := range children {
			if c.Name() == record.LockFileName {
				continue
			}
			if err := g.mover.Deleter.RemoveAll(filepath.Join(string(g.root), c.Name())); err != nil {
				return classifyFS(err)
			}
		}
		return nil
	})
	if err != nil {
		return g.fail("decompose", record.Entry{Original: string(g.root)}, fmt.Errorf("decompose %s: %w", g.root, err))
	}
	g.audit(database.ActionDecompose, record.Entry{Original: string(g.root), IsDir: true}, 0, nil)
	g.log.Info("graveyard decomposed", "root", g.root)
	return nil
}

func (g *Graveyard) isRecordFile(p grave.Path) bool {
	return p.Equal(grave.Path(g.store.Path())) ||
		p.Equal(grave.Path(filepath.Join(string(g.root), record.LockFileName)))
}
