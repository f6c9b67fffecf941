// Package scheduler runs graveyard retention passes, once or periodically.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"

	"rip-sage/internal/graveyard"
	"rip-sage/internal/logging"
	"rip-sage/internal/metrics"
)

var errNilReaper = errors.New("nil reaper")

// Reaper is what a retention pass drives. *graveyard.Graveyard satisfies
// it.
type Reaper interface {
	Reap(ctx context.Context, policy graveyard.ReapPolicy) ([]graveyard.Grave, error)
}

// Summary describes one pass.
type Summary struct {
	Reaped   int
	Freed    int64
	Duration time.Duration
}

// RunOnce runs a single retention pass. Graves reaped before a failure are
// still counted in the summary.
func RunOnce(ctx context.Context, r Reaper, policy graveyard.ReapPolicy, log *logging.Leveled) (Summary, error) {
	if r == nil {
		return Summary{}, errNilReaper
	}

	select {
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	default:
	}

	start := time.Now()
	reaped, err := r.Reap(ctx, policy)

	sum := Summary{Reaped: len(reaped), Duration: time.Since(start)}
	for _, g := range reaped {
		if g.Size > 0 {
			sum.Freed += g.Size
		}
	}
	if metrics.LastReapTimestamp != nil {
		metrics.LastReapTimestamp.Set(float64(start.Unix()))
	}

	log.Info("retention pass complete",
		"reaped", sum.Reaped,
		"freed", humanize.IBytes(uint64(sum.Freed)),
		"duration", sum.Duration.Round(time.Millisecond))
	return sum, err
}

// Run runs a pass immediately and then every interval until ctx is done.
// A failed pass is logged and the schedule carries on.
func Run(ctx context.Context, r Reaper, policy graveyard.ReapPolicy, interval time.Duration, log *logging.Leveled) error {
	if r == nil {
		return errNilReaper
	}
	if interval <= 0 {
		return errors.New("retention interval must be positive")
	}

	pass := func() {
		// each pass measures age from its own start
		p := policy
		p.Now = time.Time{}
		if _, err := RunOnce(ctx, r, p, log); err != nil && ctx.Err() == nil {
			log.Error("retention pass failed", "error", err)
		}
	}

	pass()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("retention scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			pass()
		}
	}
}
