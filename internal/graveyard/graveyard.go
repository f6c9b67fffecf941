// Package graveyard buries files into a recoverable holding area and brings
// them back. Every item moved in is recorded so it can be found again;
// every mutation of that record happens under the record's file lock, so
// any number of processes may share one graveyard.
package graveyard

import (
	"fmt"
	"log"
	"os"
	"time"

	"rip-sage/internal/database"
	"rip-sage/internal/disk"
	"rip-sage/internal/fsops"
	"rip-sage/internal/grave"
	"rip-sage/internal/logging"
	"rip-sage/internal/metrics"
	"rip-sage/internal/record"
	"rip-sage/internal/safety"
)

// History receives an audit event for every completed operation.
// *database.HistoryDB implements it.
type History interface {
	RecordEvent(e database.Event) (database.Event, error)
}

// Options configures a Graveyard. Only Root is required.
type Options struct {
	Root           string
	LockTimeout    time.Duration
	RenameAttempts int
	ProtectedPaths []string
	Logger         *log.Logger
	History        History
	// Mover overrides how data is moved in and out; tests use it to force
	// the cross-device path.
	Mover *fsops.Mover
}

// Graveyard is a handle on one graveyard root.
type Graveyard struct {
	root      grave.Path
	store     *record.Store
	namer     grave.Namer
	mover     *fsops.Mover
	validator *safety.Validator
	log       *logging.Leveled
	history   History

	// usedPercent reports how full the filesystem holding path is
	usedPercent func(path string) (float64, error)
}

// Open prepares the graveyard at opts.Root, creating it owner-only if
// needed.
func Open(opts Options) (*Graveyard, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("open graveyard: empty root")
	}
	if err := os.MkdirAll(opts.Root, 0o700); err != nil {
		return nil, fmt.Errorf("create graveyard %s: %w", opts.Root, err)
	}
	root, err := grave.CanonicalizeDir(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("open graveyard: %w", err)
	}

	metrics.Init()
	lv := logging.NewLeveled(opts.Logger)

	store, err := record.Open(string(root),
		record.WithLockTimeout(opts.LockTimeout),
		record.WithLogger(lv),
		record.WithMetrics(metrics.RecordStore{}),
	)
	if err != nil {
		return nil, fmt.Errorf("open graveyard: %w", err)
	}

	mover := opts.Mover
	if mover == nil {
		mover = fsops.NewMover(fsops.OSDeleter{})
	}
	if mover.Deleter == nil {
		mover.Deleter = fsops.OSDeleter{}
	}
	if mover.SpaceCheck == nil {
		mover.SpaceCheck = disk.EnsureFree
	}

	return &Graveyard{
		root:        root,
		store:       store,
		namer:       grave.NewNamer(opts.RenameAttempts),
		mover:       mover,
		validator:   safety.NewValidator(root, opts.ProtectedPaths),
		log:         lv,
		history:     opts.History,
		usedPercent: diskUsedPercent,
	}, nil
}

// Root returns the canonical graveyard root.
func (g *Graveyard) Root() grave.Path {
	return g.root
}

// RecordPath returns the location of the record file.
func (g *Graveyard) RecordPath() string {
	return g.store.Path()
}

// Close releases the handle.
func (g *Graveyard) Close() error {
	return g.store.Close()
}

// audit writes an event to the history, if one is configured. The history
// is advisory, so a failure is logged and otherwise ignored.
func (g *Graveyard) audit(action string, e record.Entry, size int64, opErr error) {
	if g.history == nil {
		return
	}
	ev := database.Event{
		Action:     action,
		Original:   e.Original,
		Grave:      e.Grave,
		ObjectType: database.ObjectType(e.IsDir),
		Size:       size,
		Graveyard:  string(g.root),
	}
	if opErr != nil {
		ev.Action = database.ActionError
		ev.ErrorMessage = fmt.Sprintf("%s: %v", action, opErr)
	}
	if _, err := g.history.RecordEvent(ev); err != nil {
		g.log.Warn("failed to write history event", "action", action, "path", e.Original, "error", err)
	}
}

func (g *Graveyard) fail(op string, e record.Entry, err error) error {
	metrics.RecordError(op, errKind(err))
	g.audit(op, e, 0, err)
	g.log.Error(op+" failed", "path", e.Original, "error", err)
	return err
}
