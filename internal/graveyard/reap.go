package graveyard

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"rip-sage/internal/database"
	"rip-sage/internal/disk"
	"rip-sage/internal/grave"
	"rip-sage/internal/metrics"
	"rip-sage/internal/record"
)

// ReapPolicy selects graves to delete for good. The zero policy reaps
// nothing.
type ReapPolicy struct {
	// MaxAge reaps graves buried longer ago than this. Zero disables.
	MaxAge time.Duration
	// MaxUsedPercent reaps the oldest graves while the filesystem holding
	// the graveyard is at least this full. Zero disables.
	MaxUsedPercent float64
	// Now is the reference time for MaxAge; zero means time.Now().
	Now time.Time
}

func (p ReapPolicy) enabled() bool {
	return p.MaxAge > 0 || p.MaxUsedPercent > 0
}

func diskUsedPercent(path string) (float64, error) {
	used, _, _, err := disk.GetDiskUsage(path)
	return used, err
}

// Reap permanently deletes graves according to policy and drops their
// entries, oldest first. Expired graves always go; after that, graves keep
// going while the filesystem is over MaxUsedPercent.
//
// A grave that cannot be removed keeps its entry. Such failures are joined
// into the returned error, alongside the graves that were reaped.
func (g *Graveyard) Reap(ctx context.Context, policy ReapPolicy) ([]Grave, error) {
	if !policy.enabled() {
		return nil, nil
	}
	defer metrics.ObserveDuration("reap", time.Now())

	now := policy.Now
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := now.Add(-policy.MaxAge)

	var reaped []Grave
	var reasons []ReapReason
	var failures []error
	err := g.store.Update(ctx, func(entries []record.Entry) ([]record.Entry, error) {
		reaped, reasons, failures = reaped[:0], reasons[:0], failures[:0]

		candidates := filter(entries, All())
		slices.SortFunc(candidates, func(a, b indexed) int { return newestFirst(b, a) })

		var drop []record.Entry
		for _, m := range candidates {
			if err := ctx.Err(); err != nil {
				failures = append(failures, err)
				break
			}
			expired := policy.MaxAge > 0 && m.Time.Before(cutoff)
			used, over := g.overFull(policy.MaxUsedPercent)
			if !expired && !over {
				// everything after this is newer still
				break
			}
			var reason ReapReason
			if expired {
				reason.Age = &AgeReason{MaxAge: policy.MaxAge, Age: now.Sub(m.Time)}
			}
			if over {
				reason.Disk = &DiskReason{MaxUsedPercent: policy.MaxUsedPercent, UsedPercent: used}
			}
			size, err := g.reapOne(m.Entry)
			if err != nil {
				failures = append(failures, g.fail("reap", m.Entry, err))
				continue
			}
			reaped = append(reaped, Grave{Entry: m.Entry, Size: size})
			reasons = append(reasons, reason)
			drop = append(drop, m.Entry)
		}
		return drop, nil
	})
	if err != nil {
		// graves removed before the failure are gone; their entries will be
		// pruned as stale
		return nil, g.fail("reap", record.Entry{}, fmt.Errorf("reap: %w", err))
	}

	for i, r := range reaped {
		metrics.RecordReap(r.Size)
		g.audit(database.ActionReap, r.Entry, r.Size, nil)
		g.log.Info("reaped", "grave", r.Grave, "original", r.Original, "buried", r.Time.Format(time.RFC3339),
			"size", r.Size, "reason", reasons[i].String())
	}
	return reaped, errors.Join(failures...)
}

// overFull returns the used percentage of the graveyard filesystem and
// whether it is at or above limit.
func (g *Graveyard) overFull(limit float64) (float64, bool) {
	if limit <= 0 {
		return 0, false
	}
	used, err := g.usedPercent(string(g.root))
	if err != nil {
		g.log.Warn("cannot read graveyard disk usage", "path", g.root, "error", err)
		return 0, false
	}
	return used, used >= limit
}

// reapOne removes one grave and returns the bytes it held. Called with the
// record lock held.
func (g *Graveyard) reapOne(e record.Entry) (int64, error) {
	p := grave.Path(e.Grave)
	if !p.Within(g.root) || p.Equal(g.root) || g.isRecordFile(p) {
		return 0, fmt.Errorf("reap %s: %w", e.Grave, ErrOutsideGraveyard)
	}
	if _, err := os.Lstat(e.Grave); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	size, err := disk.SizeOf(e.Grave)
	if err != nil {
		size = -1
	}
	if err := g.mover.Deleter.RemoveAll(e.Grave); err != nil {
		return 0, fmt.Errorf("reap %s: %w", e.Grave, classifyFS(err))
	}
	return size, nil
}
