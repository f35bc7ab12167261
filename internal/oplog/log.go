package oplog

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/dodgesync/internal/entity"
	"github.com/roach88/dodgesync/internal/store"
)

// Key is the backing key holding the persisted log.
const Key = "dodgeball.oplog"

// Log is the persisted, append-only operation log.
//
// Append and Replace are each one read-modify-write transaction on the
// backing, so a sync pass writing back its unapplied tail cannot lose entries
// appended while the pass was running, even by another process sharing the
// backing.
type Log struct {
	mu      sync.Mutex
	backing store.Backing
	logger  *zap.Logger
	clock   *Clock
}

// Option configures a Log.
type Option func(*Log)

// WithClock replaces the wall-clock based Clock (tests).
func WithClock(c *Clock) Option {
	return func(l *Log) {
		l.clock = c
	}
}

// Open loads the persisted log to seed the clock and returns a Log ready for
// appends.
func Open(ctx context.Context, b store.Backing, logger *zap.Logger, opts ...Option) (*Log, error) {
	l := &Log{
		backing: b,
		logger:  logger,
		clock:   NewClock(nil),
	}
	for _, opt := range opts {
		opt(l)
	}

	entries, err := l.read(ctx)
	if err != nil {
		return nil, fmt.Errorf("open oplog: %w", err)
	}
	l.clock.Observe(Watermark(entries))
	return l, nil
}

// Append stamps and persists a new entry. The clock is raised past every
// persisted entry first, so entries appended by another process sharing the
// backing still order before this one.
func (l *Log) Append(ctx context.Context, kind entity.Kind, op Op, id string, data entity.Payload) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var e Entry
	err := store.UpdateJSON(ctx, l.backing, l.logger, Key, func(entries *[]Entry) error {
		l.clock.Observe(Watermark(*entries))
		e = Entry{
			TS:     l.clock.Next(),
			Entity: kind,
			Op:     op,
			ID:     id,
			Data:   data.Clone(),
		}
		*entries = append(*entries, e)
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("append: %w", err)
	}
	return e, nil
}

// Entries returns the raw log in append order. Returns an empty slice (not
// nil) when nothing is pending.
func (l *Log) Entries(ctx context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read(ctx)
}

// Len returns the number of raw pending entries.
func (l *Log) Len(ctx context.Context) (int, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Replace swaps the entries a sync pass consumed for what it could not apply.
//
// watermark is the highest timestamp the pass read. The new log is remaining
// followed by every persisted entry newer than watermark.
func (l *Log) Replace(ctx context.Context, watermark int64, remaining []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := store.UpdateJSON(ctx, l.backing, l.logger, Key, func(current *[]Entry) error {
		next := make([]Entry, 0, len(remaining)+len(*current))
		next = append(next, remaining...)
		for _, e := range *current {
			if e.TS > watermark {
				next = append(next, e)
			}
		}
		*current = next
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace: %w", err)
	}
	return nil
}

// Clear empties the log.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := store.SaveJSON(ctx, l.backing, Key, []Entry{}); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func (l *Log) read(ctx context.Context) ([]Entry, error) {
	entries := []Entry{}
	if err := store.LoadJSON(ctx, l.backing, l.logger, Key, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
