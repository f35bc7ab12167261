package store

import (
	"context"
	"fmt"
	"time"
)

// Leaser grants named, expiring leases to one holder at a time.
//
// Implemented by Store, where the lease row is shared by every process that
// opens the same database file, and by Memory.
type Leaser interface {
	// AcquireLease takes or renews the lease until the given time. It
	// succeeds when the lease is free, expired at now, or already held by
	// holder.
	AcquireLease(ctx context.Context, name, holder string, until, now time.Time) (bool, error)
	// ReleaseLease drops the lease if holder still owns it.
	ReleaseLease(ctx context.Context, name, holder string) error
}

// AcquireLease implements Leaser with a single conditional upsert.
func (s *Store) AcquireLease(ctx context.Context, name, holder string, until, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO lease (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE lease.holder = excluded.holder OR lease.expires_at <= ?
	`, name, holder, until.UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	return n > 0, nil
}

// ReleaseLease implements Leaser.
func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM lease WHERE name = ? AND holder = ?`, name, holder); err != nil {
		return fmt.Errorf("release lease %q: %w", name, err)
	}
	return nil
}

// Lease is one holder's handle on a named lease. Acquire doubles as renew.
type Lease struct {
	leaser Leaser
	name   string
	holder string
	ttl    time.Duration
	now    func() time.Time
}

// LeaseOption configures a Lease.
type LeaseOption func(*Lease)

// WithLeaseClock overrides the wall clock used for expiry.
func WithLeaseClock(now func() time.Time) LeaseOption {
	return func(l *Lease) { l.now = now }
}

// NewLease creates a handle on the lease name for holder. A held lease lapses
// ttl after its last Acquire, so a crashed holder blocks others for at most
// ttl.
func NewLease(l Leaser, name, holder string, ttl time.Duration, opts ...LeaseOption) *Lease {
	lease := &Lease{leaser: l, name: name, holder: holder, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(lease)
	}
	return lease
}

// Acquire takes or renews the lease. false means another holder owns it.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	now := l.now()
	return l.leaser.AcquireLease(ctx, l.name, l.holder, now.Add(l.ttl), now)
}

// Release gives the lease up.
func (l *Lease) Release(ctx context.Context) error {
	return l.leaser.ReleaseLease(ctx, l.name, l.holder)
}
