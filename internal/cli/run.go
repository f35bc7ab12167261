package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/dodgesync/internal/remotesvc"
	"github.com/roach88/dodgesync/internal/statusapi"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	StatusAddr string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep syncing in the background",
		Long: `Run the sync loop until interrupted.

Probes the remote, syncs at startup, whenever the remote comes back online
and on the retry interval while changes are queued. With --status-addr the
status is served over HTTP and websocket.

Example:
  dodgesync watch --remote http://gym.local:8080 --status-addr 127.0.0.1:7070`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.StatusAddr, "status-addr", "", "serve the status API on this address (overrides config)")
	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	addr := s.cfg.Status.Addr
	if opts.StatusAddr != "" {
		addr = opts.StatusAddr
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.prober != nil {
		g.Go(func() error { return s.prober.Run(gctx) })
	}
	g.Go(func() error { return s.engine.Run(gctx, s.watcher.Transitions()) })
	if addr != "" {
		api := statusapi.New(s.engine, s.logger.Named("statusapi"))
		serveHTTP(gctx, g, s.logger, addr, api.Handler())
	}

	s.logger.Info("watching",
		zap.String("db", s.cfg.Database),
		zap.String("remote", s.cfg.Remote.URL),
		zap.String("status_addr", addr))
	fmt.Fprintln(cmd.OutOrStdout(), "Watching for changes. Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "watch stopped", err)
	}
	s.logger.Info("watch stopped gracefully")
	return nil
}

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
	Data string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference remote entity service",
		Long: `Serve the remote entity API backed by its own SQLite database.

Example:
  dodgesync serve --addr :8080 --data ./remote.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.Data, "data", "dodgesync-remote.db", "path to the service's SQLite database")
	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	_, logger, err := opts.resolve(cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	records, err := remotesvc.OpenRecords(opts.Data)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := records.Close(); closeErr != nil {
			logger.Error("error closing database", zap.Error(closeErr))
		}
	}()

	srv := remotesvc.NewServer(records, logger.Named("remotesvc"))
	g, gctx := errgroup.WithContext(ctx)
	serveHTTP(gctx, g, logger, opts.Addr, srv.Handler())

	fmt.Fprintf(cmd.OutOrStdout(), "Serving entities on %s. Press Ctrl-C to stop.\n", opts.Addr)
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}

// serveHTTP runs an HTTP server in g until ctx is done.
func serveHTTP(ctx context.Context, g *errgroup.Group, logger *zap.Logger, addr string, h http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// signalContext returns the command context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan) // Prevent signal handler leak
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()
	return ctx, cancel
}
