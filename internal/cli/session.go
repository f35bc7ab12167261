package cli

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/dodgesync/internal/config"
	"github.com/roach88/dodgesync/internal/engine"
	"github.com/roach88/dodgesync/internal/idmap"
	"github.com/roach88/dodgesync/internal/local"
	"github.com/roach88/dodgesync/internal/netwatch"
	"github.com/roach88/dodgesync/internal/oplog"
	"github.com/roach88/dodgesync/internal/remote"
	"github.com/roach88/dodgesync/internal/store"
)

// session is the wired sync core for one command invocation.
type session struct {
	cfg    config.Config
	logger *zap.Logger

	db     *store.Store
	oplog  *oplog.Log
	ids    *idmap.Map
	local  *local.Store
	engine *engine.Engine

	// watcher is the prober when a remote is configured, else a switch that
	// stays offline.
	watcher netwatch.Watcher
	prober  *netwatch.Prober

	cancel context.CancelFunc
}

// openSession opens the local database and wires the store, log, identity
// map and engine together. Every local mutation requests a background sync.
func openSession(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*session, error) {
	cfg, logger, err := opts.resolve(cmd)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger.Debug("opening database", zap.String("path", cfg.Database))
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	log, err := oplog.Open(ctx, db, logger.Named("oplog"))
	if err != nil {
		db.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open operation log", err)
	}
	ids := idmap.New(db, logger.Named("idmap"))

	var localOpts []local.Option
	if opts.IDs != nil {
		localOpts = append(localOpts, local.WithIDGenerator(opts.IDs))
	}
	st := local.New(db, log, ids, logger.Named("local"), localOpts...)

	s := &session{
		cfg:    cfg,
		logger: logger,
		db:     db,
		oplog:  log,
		ids:    ids,
		local:  st,
	}
	if cfg.Remote.URL != "" {
		s.prober = netwatch.NewProber(cfg.Remote.URL, opts.HTTPClient, cfg.Remote.ProbeInterval.Std(), logger.Named("netwatch"))
		s.watcher = s.prober
	} else {
		s.watcher = netwatch.NewSwitch(false)
	}

	base, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	svc := remote.NewClient(cfg.Remote.URL, opts.HTTPClient, logger.Named("remote"))
	// Every process on this database file competes for the same lease row.
	lease := store.NewLease(db, "sync", uuid.NewString(), s.leaseTTL())
	s.engine = engine.New(log, ids, st, svc, s.watcher, logger.Named("engine"),
		engine.WithTimeout(cfg.Remote.Timeout.Std()),
		engine.WithRetryInterval(cfg.Sync.RetryInterval.Std()),
		engine.WithBaseContext(base),
		engine.WithLease(lease),
	)
	st.OnMutation(s.engine.Request)
	return s, nil
}

// leaseTTL outlives any single remote call, since the lease is renewed
// before each one.
func (s *session) leaseTTL() time.Duration {
	timeout := s.cfg.Remote.Timeout.Std()
	if timeout <= 0 {
		timeout = engine.DefaultTimeout
	}
	return max(time.Minute, 4*timeout)
}

// probe refreshes the connectivity signal once. One-shot commands call it
// before doing anything that may sync.
func (s *session) probe(ctx context.Context) bool {
	if s.prober == nil {
		return false
	}
	return s.prober.Check(ctx)
}

// settle waits for background syncs started by mutations, giving up after
// the remote timeout. Entries not applied by then stay in the log.
func (s *session) settle() {
	bound := s.cfg.Remote.Timeout.Std()
	if bound <= 0 {
		bound = engine.DefaultTimeout
	}
	done := make(chan struct{})
	go func() {
		s.engine.Wait()
		close(done)
	}()

	timer := time.NewTimer(bound)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn("background sync still running, leaving the rest queued",
			zap.Duration("waited", bound))
		s.cancel()
		<-done
	}
}

// Close stops background work and closes the database.
func (s *session) Close() error {
	s.cancel()
	s.engine.Wait()
	return s.db.Close()
}
