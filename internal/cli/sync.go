package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dodgesync/internal/engine"
	"github.com/roach88/dodgesync/internal/oplog"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push queued changes to the remote now",
		Long: `Replay the operation log against the remote entity service.

The log is compacted first, then applied in order. The pass stops at the
first failing entry; that entry and everything after it stay queued.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			ctx := cmd.Context()
			s, err := openSession(ctx, rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			s.probe(ctx)

			res, syncErr := s.engine.SyncNow(ctx)
			st, err := s.engine.Status(ctx)
			if err != nil {
				return storeFailure(formatter, "failed to read status", err)
			}
			report := syncReport{Result: res, Status: st}
			if syncErr != nil {
				_ = formatter.Error(ErrCodeSync, syncErr.Error(), report)
				exitErr := WrapExitError(ExitFailure, "sync stopped", syncErr)
				exitErr.Reported = true
				return exitErr
			}
			return formatter.Success(report)
		},
	}
}

type syncReport struct {
	Result engine.Result `json:"result"`
	Status engine.Status `json:"status"`
}

func (r syncReport) renderText(w io.Writer) error {
	switch r.Result.Outcome {
	case engine.OutcomeOffline:
		fmt.Fprintln(w, "Offline: nothing sent.")
	case engine.OutcomeEmpty:
		fmt.Fprintln(w, "Nothing to sync.")
	case engine.OutcomeBusy:
		fmt.Fprintln(w, "Another sync is running; changes stay queued.")
	default:
		fmt.Fprintf(w, "Sync %s: %d applied in %d pass(es).\n",
			r.Result.Outcome, r.Result.Applied, r.Result.Passes)
	}
	return statusView(r.Status).renderText(w)
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and queued changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			ctx := cmd.Context()
			s, err := openSession(ctx, rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			s.probe(ctx)

			st, err := s.engine.Status(ctx)
			if err != nil {
				return storeFailure(formatter, "failed to read status", err)
			}
			return formatter.Success(statusView(st))
		},
	}
}

type statusView engine.Status

func (v statusView) renderText(w io.Writer) error {
	fmt.Fprintf(w, "Status:  %s\n", v.Label)
	fmt.Fprintf(w, "Online:  %t\n", v.Online)
	fmt.Fprintf(w, "Pending: %d\n", v.Pending)
	if v.LastSync != nil {
		fmt.Fprintf(w, "Synced:  %s\n", v.LastSync.Format(time.RFC3339))
	}
	if v.LastError != "" {
		fmt.Fprintf(w, "Error:   %s\n", v.LastError)
	}
	return nil
}

// OplogOptions holds flags for the oplog command.
type OplogOptions struct {
	*RootOptions
	Compact bool
}

// NewOplogCommand creates the oplog command.
func NewOplogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OplogOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "oplog",
		Short: "Show the queued operation log",
		Long: `Show the operation log that has not reached the remote yet.

With --compact the log is shown the way the next sync pass will apply it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := opts.formatter(cmd)
			ctx := cmd.Context()
			s, err := openSession(ctx, opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.oplog.Entries(ctx)
			if err != nil {
				return storeFailure(formatter, "failed to read operation log", err)
			}
			if opts.Compact {
				entries = oplog.Compact(entries)
			}
			return formatter.Success(oplogTable(entries))
		},
	}
	cmd.Flags().BoolVar(&opts.Compact, "compact", false, "show the compacted log")
	return cmd
}

type oplogTable []oplog.Entry

func (t oplogTable) renderText(w io.Writer) error {
	if len(t) == 0 {
		_, err := fmt.Fprintln(w, "Operation log is empty.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TS\tENTITY\tOP\tID\tFIELDS")
	for _, e := range t {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", e.TS, e.Entity, e.Op, e.ID, len(e.Data))
	}
	return tw.Flush()
}

// ResetOptions holds flags for the reset command.
type ResetOptions struct {
	*RootOptions
	Yes bool
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResetOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear all offline data",
		Long: `Drop the local roster, game history, operation log and identity map.

Changes that have not been synced are lost. The remote is not touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := opts.formatter(cmd)
			if !opts.Yes {
				return formatter.Fail(ExitCommandError, ErrCodeInvalid,
					"reset discards unsynced changes: pass --yes to confirm", nil)
			}
			s, err := openSession(cmd.Context(), opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			// Wait out a pass in this or another process; its write-back
			// would otherwise land after the reset.
			ctx, cancel := context.WithTimeout(cmd.Context(), s.leaseTTL())
			defer cancel()
			if err := s.engine.Exclusive(ctx, s.local.Reset); err != nil {
				return storeFailure(formatter, "failed to reset", err)
			}
			return formatter.Success("Offline data cleared.")
		},
	}
	cmd.Flags().BoolVar(&opts.Yes, "yes", false, "confirm")
	return cmd
}
