package record

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// FileName is the record's name inside the graveyard root.
	FileName = ".record"
	// LockFileName is the sidecar the advisory lock is taken on. The record
	// itself is replaced by rename on every removal, so locking it directly
	// would leave waiters holding a lock on a stale inode.
	LockFileName = ".record.lock"

	DefaultLockTimeout = 10 * time.Second

	minBackoff = 5 * time.Millisecond
	maxBackoff = 250 * time.Millisecond
)

var (
	ErrLockContention = errors.New("record lock contention")
	ErrClosed         = errors.New("record store closed")
)

// Logger is the logging surface the store needs.
type Logger interface {
	Warn(msg string, args ...interface{})
}

// Metrics exposes the collectors the store reports into.
type Metrics interface {
	LockWaitSeconds() *prometheus.HistogramVec
	CorruptRowsTotal() prometheus.Counter
	RecordEntries() prometheus.Gauge
}

// Store is a handle on one graveyard's record. It holds no lock between
// calls; every operation takes the advisory lock for its own critical
// section only.
type Store struct {
	dir      string
	path     string
	lockPath string
	timeout  time.Duration
	logger   Logger
	metrics  Metrics
	closed   atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long an operation waits for the lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger routes corrupt-row warnings to l.
func WithLogger(l Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics reports lock waits and corrupt rows to m.
func WithMetrics(m Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Open returns a Store for the record kept in dir. The directory is created
// if needed; the record file itself is only created by the first Append.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create record directory %s: %w", dir, err)
	}
	s := &Store{
		dir:      dir,
		path:     filepath.Join(dir, FileName),
		lockPath: filepath.Join(dir, LockFileName),
		timeout:  DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open record lock %s: %w", s.lockPath, err)
	}
	f.Close()
	return s, nil
}

// Path returns the location of the record file.
func (s *Store) Path() string {
	return s.path
}

// Close ends the handle's lifecycle. Later calls fail with ErrClosed.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// Append writes one entry under the exclusive lock. The row goes out in a
// single write followed by fsync, so concurrent appenders never interleave.
func (s *Store) Append(ctx context.Context, e Entry) error {
	row, err := encodeRow(e)
	if err != nil {
		return err
	}
	lock, err := s.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer s.release(lock)

	return s.appendLocked(row)
}

// Snapshot is a consistent read of the record.
type Snapshot struct {
	Entries []Entry
	// Corrupt holds one *CorruptRowError per skipped row.
	Corrupt []error
}

// ReadAll returns every parsable entry, in file order. It holds the shared
// lock only for the duration of the read.
func (s *Store) ReadAll(ctx context.Context) (Snapshot, error) {
	lock, err := s.acquire(ctx, false)
	if err != nil {
		return Snapshot{}, err
	}
	defer s.release(lock)

	return s.readLocked()
}

// Update runs fn inside the exclusive critical section. fn sees the entries
// as re-read after the lock was taken and returns the ones to drop; they are
// removed by rewriting the record. When fn fails nothing is rewritten.
func (s *Store) Update(ctx context.Context, fn func(entries []Entry) (drop []Entry, err error)) error {
	lock, err := s.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer s.release(lock)

	snap, err := s.readLocked()
	if err != nil {
		return err
	}
	drop, err := fn(snap.Entries)
	if err != nil {
		return err
	}
	if len(drop) == 0 {
		return nil
	}
	return s.rewriteLocked(snap.Entries, drop)
}

// WithLock runs fn while holding the exclusive lock, without reading or
// validating the record. fn may delete the record; the next Append starts a
// fresh one.
func (s *Store) WithLock(ctx context.Context, fn func() error) error {
	lock, err := s.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer s.release(lock)

	if err := fn(); err != nil {
		return err
	}
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		s.observeEntries(0)
	}
	return nil
}

// Remove drops the entries whose grave paths match those given and reports
// how many rows were removed. Entries already gone are ignored.
func (s *Store) Remove(ctx context.Context, entries []Entry) (int, error) {
	want := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		want[e.Grave] = struct{}{}
	}
	removed := 0
	err := s.Update(ctx, func(current []Entry) ([]Entry, error) {
		var drop []Entry
		for _, e := range current {
			if _, ok := want[e.Grave]; ok {
				drop = append(drop, e)
			}
		}
		removed = len(drop)
		return drop, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Store) appendLocked(row []byte) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open record %s: %w", s.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat record %s: %w", s.path, err)
	}

	var buf []byte
	if info.Size() == 0 {
		buf = append(encodeHeader(), row...)
	} else {
		if err := verifyHeader(f); err != nil {
			return fmt.Errorf("record %s: %w", s.path, err)
		}
		// a torn last row from a crashed writer must not swallow ours
		torn, err := lacksTrailingNewline(f, info.Size())
		if err != nil {
			return fmt.Errorf("read record %s: %w", s.path, err)
		}
		if torn {
			buf = append([]byte("\n"), row...)
		} else {
			buf = row
		}
	}

	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("write record %s: %w", s.path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync record %s: %w", s.path, err)
	}
	if s.metrics != nil {
		s.metrics.RecordEntries().Inc()
	}
	return nil
}

func (s *Store) readLocked() (Snapshot, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.observeEntries(0)
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("open record %s: %w", s.path, err)
	}
	defer f.Close()

	entries, corrupt, err := decode(bufio.NewReader(f))
	if err != nil {
		return Snapshot{}, fmt.Errorf("read record %s: %w", s.path, err)
	}
	for _, c := range corrupt {
		if s.logger != nil {
			s.logger.Warn("skipping corrupt record row", "record", s.path, "error", c)
		}
		if s.metrics != nil {
			s.metrics.CorruptRowsTotal().Inc()
		}
	}
	s.observeEntries(len(entries))
	return Snapshot{Entries: entries, Corrupt: corrupt}, nil
}

// rewriteLocked replaces the record with entries minus drop, going through a
// temp file in the same directory so a crash leaves either the old or the
// new record, never a truncated one. Corrupt rows are not carried over.
func (s *Store) rewriteLocked(entries, drop []Entry) error {
	skip := make(map[string]struct{}, len(drop))
	for _, e := range drop {
		skip[e.Grave] = struct{}{}
	}

	tmp, err := os.CreateTemp(s.dir, FileName+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	if _, err := w.Write(encodeHeader()); err != nil {
		return fmt.Errorf("write temp record: %w", err)
	}
	kept := 0
	for _, e := range entries {
		if _, ok := skip[e.Grave]; ok {
			continue
		}
		row, err := encodeRow(e)
		if err != nil {
			return err
		}
		if _, err := w.Write(row); err != nil {
			return fmt.Errorf("write temp record: %w", err)
		}
		kept++
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		tmp = nil
		os.Remove(tmpName)
		return fmt.Errorf("replace record %s: %w", s.path, err)
	}
	tmp = nil
	if err := syncDir(s.dir); err != nil {
		return fmt.Errorf("sync record directory %s: %w", s.dir, err)
	}
	s.observeEntries(kept)
	return nil
}

// acquire takes the advisory lock, polling with exponential backoff until
// the store's timeout elapses or ctx is done.
func (s *Store) acquire(ctx context.Context, exclusive bool) (*os.File, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open record lock %s: %w", s.lockPath, err)
	}

	start := time.Now()
	ok, err := tryLock(f, exclusive)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("lock %s: %w", s.lockPath, err)
	}
	if ok {
		s.observeWait(exclusive, start)
		return f, nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	backoff := minBackoff
	for {
		select {
		case <-lockCtx.Done():
			f.Close()
			s.observeWait(exclusive, start)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s not acquired within %v", ErrLockContention, s.lockPath, s.timeout)
		case <-time.After(backoff):
			ok, err := tryLock(f, exclusive)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("lock %s: %w", s.lockPath, err)
			}
			if ok {
				s.observeWait(exclusive, start)
				return f, nil
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

func (s *Store) release(f *os.File) {
	if err := unlock(f); err != nil && s.logger != nil {
		s.logger.Warn("failed to release record lock", "lock", s.lockPath, "error", err)
	}
	f.Close()
}

func (s *Store) observeWait(exclusive bool, start time.Time) {
	if s.metrics == nil {
		return
	}
	mode := "shared"
	if exclusive {
		mode = "exclusive"
	}
	s.metrics.LockWaitSeconds().WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

func (s *Store) observeEntries(n int) {
	if s.metrics != nil {
		s.metrics.RecordEntries().Set(float64(n))
	}
}

func verifyHeader(f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	row, err := newReader(bufio.NewReader(f)).Read()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingHeader, err)
	}
	return checkHeader(row)
}

func lacksTrailingNewline(f *os.File, size int64) (bool, error) {
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}
