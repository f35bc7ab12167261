package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/dodgesync/internal/config"
	"github.com/roach88/dodgesync/internal/local"
	"github.com/roach88/dodgesync/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string
	Remote     string
	Offline    bool

	// Lookup reads the environment. Nil reads the process environment with
	// ./.env as fallback.
	Lookup config.LookupFunc
	// HTTPClient is used for remote calls and health probes. Nil uses
	// http.DefaultClient.
	HTTPClient *http.Client
	// IDs overrides local id generation (for testing).
	IDs local.IDGenerator

	cfg    *config.Config
	logger *zap.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the dodgesync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dodgesync",
		Short: "Offline-first game night roster",
		Long: `Keep the dodgeball roster and game history on this machine and mirror
every change to the remote entity service whenever it is reachable.

Changes are recorded locally first and queued in an operation log. The
log is compacted and replayed in order once the remote answers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	flags.StringVar(&opts.Database, "db", "", "path to local SQLite database (overrides config)")
	flags.StringVar(&opts.Remote, "remote", "", "remote entity service URL (overrides config)")
	flags.BoolVar(&opts.Offline, "offline", false, "never contact the remote")

	// Add subcommands
	cmd.AddCommand(NewPlayerCommand(opts))
	cmd.AddCommand(NewGameCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewOplogCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// resolve loads the config (defaults, file, environment, flags) and builds
// the logger. The result is cached for the life of the command.
func (o *RootOptions) resolve(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	if o.cfg != nil {
		return *o.cfg, o.logger, nil
	}

	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	lookup := o.Lookup
	if lookup == nil {
		if lookup, err = config.Environment(".env"); err != nil {
			return config.Config{}, nil, err
		}
	}
	cfg.ApplyEnv(lookup)

	if o.Database != "" {
		cfg.Database = o.Database
	}
	if o.Remote != "" {
		cfg.Remote.URL = o.Remote
	}
	if o.Offline {
		cfg.Remote.URL = ""
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Console:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return config.Config{}, nil, err
	}

	o.cfg = &cfg
	o.logger = logger
	return cfg, logger, nil
}
