package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/dodgesync/internal/entity"
	"github.com/roach88/dodgesync/internal/netwatch"
	"github.com/roach88/dodgesync/internal/oplog"
	"github.com/roach88/dodgesync/internal/remote"
)

// DefaultTimeout bounds each handler invocation.
const DefaultTimeout = 15 * time.Second

// leaseTimeout bounds releasing the lease after a pass.
const leaseTimeout = 5 * time.Second

// Log is the part of the operation log the engine consumes.
// Implemented by *oplog.Log.
type Log interface {
	Entries(ctx context.Context) ([]oplog.Entry, error)
	Replace(ctx context.Context, watermark int64, remaining []oplog.Entry) error
	Len(ctx context.Context) (int, error)
}

// IdentityMap resolves local ids to remote ids. Implemented by *idmap.Map.
type IdentityMap interface {
	Get(ctx context.Context, kind entity.Kind, localID string) (string, bool, error)
	Set(ctx context.Context, kind entity.Kind, localID, remoteID string) error
}

// LocalReader reads current local records. Implemented by *local.Store.
type LocalReader interface {
	Lookup(ctx context.Context, kind entity.Kind, id string) (entity.Payload, bool, error)
}

// Lease is a lock shared with every process syncing the same log. Acquire
// also renews a held lease. Implemented by *store.Lease.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Outcome says what a SyncNow call did.
type Outcome string

const (
	// OutcomeSynced means at least one pass ran to the end of the log.
	OutcomeSynced Outcome = "synced"
	// OutcomeFailed means the last pass stopped at a failing entry.
	OutcomeFailed Outcome = "failed"
	// OutcomeEmpty means there was nothing to sync.
	OutcomeEmpty Outcome = "empty"
	// OutcomeOffline means the connectivity signal reported offline.
	OutcomeOffline Outcome = "offline"
	// OutcomeBusy means a pass was already running, here (a rerun was
	// queued) or in another process holding the lease.
	OutcomeBusy Outcome = "busy"
)

// Result summarizes a SyncNow call across its passes.
type Result struct {
	Outcome   Outcome `json:"outcome"`
	Passes    int     `json:"passes"`
	Applied   int     `json:"applied"`
	Remaining int     `json:"remaining"`
}

// Engine is the remote sync engine.
//
// Thread-safety model:
//   - Request, SyncNow, Status: safe from any goroutine
//   - Run: call from one goroutine
type Engine struct {
	log      Log
	signal   netwatch.Signal
	logger   *zap.Logger
	handlers map[entity.Kind]handler

	timeout       time.Duration
	retryInterval time.Duration
	base          context.Context
	now           func() time.Time
	lease         Lease
	leasePoll     time.Duration

	// passMu is held for the whole of a SyncNow or Exclusive call.
	passMu sync.Mutex

	mu       sync.Mutex
	state    State
	lastErr  error
	lastSync time.Time

	wg sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout bounds each handler invocation. Zero or less disables the
// bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithRetryInterval makes Run retry a dirty log every d. Zero disables it.
func WithRetryInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.retryInterval = d
	}
}

// WithBaseContext sets the context passes started by Request run under.
// Cancelling it stops in-flight remote calls at process shutdown.
func WithBaseContext(ctx context.Context) Option {
	return func(e *Engine) {
		e.base = ctx
	}
}

// WithNow replaces the wall clock used for the last-sync timestamp.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLease makes every pass hold l, so engines in different processes over
// one database never run passes at the same time. Without it, single-flight
// holds within this Engine only.
func WithLease(l Lease) Option {
	return func(e *Engine) {
		e.lease = l
	}
}

// New creates an Engine. svc supplies one collection per entity kind; a kind
// whose collection is nil has no handler and its entries fail with
// UNKNOWN_ENTITY.
func New(
	log Log,
	ids IdentityMap,
	local LocalReader,
	svc remote.Service,
	signal netwatch.Signal,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		log:      log,
		signal:   signal,
		logger:   logger,
		handlers: make(map[entity.Kind]handler),
		timeout:   DefaultTimeout,
		base:      context.Background(),
		now:       time.Now,
		leasePoll: 100 * time.Millisecond,
		state:     Idle,
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, kind := range entity.Kinds {
		coll := svc.Collection(kind)
		if coll == nil {
			continue
		}
		base := kindHandler{
			kind:   kind,
			coll:   coll,
			ids:    ids,
			local:  local,
			logger: logger.With(zap.String("kind", string(kind))),
		}
		switch kind {
		case entity.KindPlayer:
			e.handlers[kind] = &playerHandler{kindHandler: base}
		case entity.KindGame:
			e.handlers[kind] = &gameHandler{kindHandler: base}
		}
	}
	return e
}

// Request asks for a sync without waiting for it. Used as the local store's
// mutation listener.
func (e *Engine) Request() {
	if e.markRerunIfBusy() {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.SyncNow(e.base); err != nil {
			e.logger.Warn("background sync stopped", zap.Error(err))
		}
	}()
}

// Wait blocks until every pass started by Request has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// SyncNow runs a pass, then one more for as long as a rerun was requested
// during the previous pass and the signal is still online. If a pass is
// already running it queues a rerun and returns OutcomeBusy at once. When
// another process holds the lease it also returns OutcomeBusy; the log is
// left for that process's pass or a later trigger.
//
// The returned error is the *SyncError that stopped the last pass, or a
// local storage error. Either way the unapplied entries are still in the log.
func (e *Engine) SyncNow(ctx context.Context) (Result, error) {
	e.mu.Lock()
	if e.state != Idle {
		e.state = SyncingPendingRerun
		e.mu.Unlock()
		return Result{Outcome: OutcomeBusy}, nil
	}
	if !e.signal.Online() {
		e.mu.Unlock()
		return Result{Outcome: OutcomeOffline}, nil
	}
	e.state = Syncing
	e.mu.Unlock()

	e.passMu.Lock()
	defer e.passMu.Unlock()

	if e.lease != nil {
		held, err := e.lease.Acquire(ctx)
		if err != nil || !held {
			e.mu.Lock()
			e.state = Idle
			if err != nil {
				err = fmt.Errorf("sync lease: %w", err)
				e.lastErr = err
			}
			e.mu.Unlock()
			if err != nil {
				return Result{Outcome: OutcomeFailed}, err
			}
			e.logger.Debug("sync lease held by another process")
			return Result{Outcome: OutcomeBusy}, nil
		}
		defer e.releaseLease()
	}

	var total Result
	for {
		res, err := e.pass(ctx)
		total.Passes++
		total.Applied += res.Applied
		total.Remaining = res.Remaining
		// A rerun that finds the log empty does not hide an earlier synced pass.
		if !(total.Outcome == OutcomeSynced && res.Outcome == OutcomeEmpty) {
			total.Outcome = res.Outcome
		}

		e.mu.Lock()
		rerun := e.state == SyncingPendingRerun && ctx.Err() == nil
		if rerun && !e.signal.Online() {
			rerun = false
			if total.Outcome != OutcomeSynced {
				total.Outcome = OutcomeOffline
			}
		}
		if rerun {
			e.state = Syncing
			e.mu.Unlock()
			e.logger.Debug("rerun requested during pass")
			continue
		}
		e.state = Idle
		e.lastErr = err
		if err == nil && total.Outcome == OutcomeSynced {
			e.lastSync = e.now()
		}
		e.mu.Unlock()
		return total, err
	}
}

// Exclusive runs fn while no pass runs, in this process or, with a lease, in
// any other. It waits for a running pass to finish; passes triggered while
// fn runs start after it. Used to reset the offline data.
func (e *Engine) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	if e.lease != nil {
		if err := e.waitLease(ctx); err != nil {
			return err
		}
		defer e.releaseLease()
	}
	return fn(ctx)
}

// waitLease polls the lease until it is held or ctx is done.
func (e *Engine) waitLease(ctx context.Context) error {
	ticker := time.NewTicker(e.leasePoll)
	defer ticker.Stop()
	for {
		held, err := e.lease.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("sync lease: %w", err)
		}
		if held {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("sync lease: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *Engine) releaseLease() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.base), leaseTimeout)
	defer cancel()
	if err := e.lease.Release(ctx); err != nil {
		e.logger.Warn("release sync lease", zap.Error(err))
	}
}

// renewLease extends the lease before each remote call. A lost lease stops
// the pass at entry.
func (e *Engine) renewLease(ctx context.Context, entry oplog.Entry) error {
	if e.lease == nil {
		return nil
	}
	held, err := e.lease.Acquire(ctx)
	if err != nil {
		return syncErr(CodeLeaseLost, entry, err)
	}
	if !held {
		return syncErr(CodeLeaseLost, entry, errors.New("held by another process"))
	}
	return nil
}

// markRerunIfBusy sets the pending-rerun flag when a pass is running.
func (e *Engine) markRerunIfBusy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Idle {
		return false
	}
	e.state = SyncingPendingRerun
	return true
}

// pass drains the log once.
func (e *Engine) pass(ctx context.Context) (Result, error) {
	raw, err := e.log.Entries(ctx)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("sync pass: %w", err)
	}
	if len(raw) == 0 {
		return Result{Outcome: OutcomeEmpty}, nil
	}

	watermark := oplog.Watermark(raw)
	entries := oplog.Compact(raw)

	var (
		applied   int
		remaining []oplog.Entry
		failure   error
	)
	for i, entry := range entries {
		err := e.renewLease(ctx, entry)
		if err == nil {
			err = e.apply(ctx, entry)
		}
		if err != nil {
			failure = err
			remaining = entries[i:]
			break
		}
		applied++
	}

	if err := e.log.Replace(ctx, watermark, remaining); err != nil {
		// Nothing was written back: the raw log still holds every entry, so
		// the applied ones will be replayed. Creates may duplicate remotely.
		return Result{Outcome: OutcomeFailed, Applied: applied, Remaining: len(raw)},
			fmt.Errorf("sync pass: write back: %w", err)
	}

	res := Result{Outcome: OutcomeSynced, Applied: applied, Remaining: len(remaining)}
	fields := []zap.Field{
		zap.Int("raw", len(raw)),
		zap.Int("compacted", len(entries)),
		zap.Int("applied", applied),
		zap.Int("remaining", len(remaining)),
	}
	if failure != nil {
		res.Outcome = OutcomeFailed
		e.logger.Warn("sync pass stopped", append(fields, zap.Error(failure))...)
		return res, failure
	}
	e.logger.Info("sync pass complete", fields...)
	return res, nil
}

// apply runs the handler for one entry under the per-call timeout.
func (e *Engine) apply(ctx context.Context, entry oplog.Entry) error {
	h, ok := e.handlers[entry.Entity]
	if !ok {
		return syncErr(CodeUnknownEntity, entry, fmt.Errorf("no handler for kind %q", entry.Entity))
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := h.apply(ctx, entry); err != nil {
		var se *SyncError
		if !errors.As(err, &se) {
			err = syncErr(CodeRemoteFailure, entry, err)
		}
		return err
	}
	return nil
}

// Run triggers a sync at startup, on every value from online, and every
// retry interval while the log is dirty. It returns when ctx is done, after
// waiting for background passes.
func (e *Engine) Run(ctx context.Context, online <-chan struct{}) error {
	e.trigger(ctx, "startup")

	var retry <-chan time.Time
	if e.retryInterval > 0 {
		ticker := time.NewTicker(e.retryInterval)
		defer ticker.Stop()
		retry = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			e.Wait()
			return nil
		case <-online:
			e.trigger(ctx, "online")
		case <-retry:
			n, err := e.log.Len(ctx)
			if err != nil {
				e.logger.Warn("read oplog length", zap.Error(err))
				continue
			}
			if n > 0 {
				e.trigger(ctx, "retry")
			}
		}
	}
}

func (e *Engine) trigger(ctx context.Context, reason string) {
	e.logger.Debug("sync triggered", zap.String("reason", reason))
	res, err := e.SyncNow(ctx)
	if err != nil {
		e.logger.Warn("sync failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	e.logger.Debug("sync finished",
		zap.String("reason", reason),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("applied", res.Applied))
}
