package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/dodgesync/internal/entity"
	"github.com/roach88/dodgesync/internal/local"
)

// PlayerOptions holds flags for the player subcommands.
type PlayerOptions struct {
	*RootOptions
	Color    string
	Position int
	Team     string
	Name     string
	Sort     string
}

// NewPlayerCommand creates the player command group.
func NewPlayerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "player",
		Short: "Manage the roster",
	}
	cmd.AddCommand(newPlayerAddCommand(&PlayerOptions{RootOptions: rootOpts}))
	cmd.AddCommand(newPlayerListCommand(&PlayerOptions{RootOptions: rootOpts}))
	cmd.AddCommand(newPlayerUpdateCommand(&PlayerOptions{RootOptions: rootOpts}))
	cmd.AddCommand(newPlayerRemoveCommand(&PlayerOptions{RootOptions: rootOpts}))
	return cmd
}

func newPlayerAddCommand(opts *PlayerOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a player to the roster",
		Long: `Add a player to the roster.

Without --position the player joins at the back of the queue.

Example:
  dodgesync player add "Ada L." --team challenger --color "#ff6600"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlayerAdd(opts, cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.Color, "color", "", "avatar color")
	cmd.Flags().IntVar(&opts.Position, "position", 0, "queue position (default: last)")
	cmd.Flags().StringVar(&opts.Team, "team", string(entity.TeamQueue), "team (winners_court|challenger|queue)")
	return cmd
}

func runPlayerAdd(opts *PlayerOptions, cmd *cobra.Command, name string) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	s.probe(ctx)

	position := opts.Position
	if !cmd.Flags().Changed("position") {
		players, err := s.local.ListPlayers(ctx, "")
		if err != nil {
			return storeFailure(formatter, "failed to read roster", err)
		}
		position = nextQueuePosition(players)
	}

	p, err := s.local.CreatePlayer(ctx, entity.PlayerFields{
		Name:          name,
		AvatarColor:   opts.Color,
		QueuePosition: position,
		Team:          entity.Team(opts.Team),
	})
	if err != nil {
		return storeFailure(formatter, "failed to add player", err)
	}
	s.settle()
	return formatter.Success(playerRecord(p))
}

func newPlayerListCommand(opts *PlayerOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := opts.formatter(cmd)
			s, err := openSession(cmd.Context(), opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			players, err := s.local.ListPlayers(cmd.Context(), opts.Sort)
			if err != nil {
				return storeFailure(formatter, "failed to list players", err)
			}
			return formatter.Success(playerTable(players))
		},
	}
	cmd.Flags().StringVar(&opts.Sort, "sort", "queue_position", `sort field, "-" prefix for descending`)
	return cmd
}

func newPlayerUpdateCommand(opts *PlayerOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a player's name, color, position or team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlayerUpdate(opts, cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "new name")
	cmd.Flags().StringVar(&opts.Color, "color", "", "new avatar color")
	cmd.Flags().IntVar(&opts.Position, "position", 0, "new queue position")
	cmd.Flags().StringVar(&opts.Team, "team", "", "new team (winners_court|challenger|queue)")
	return cmd
}

func runPlayerUpdate(opts *PlayerOptions, cmd *cobra.Command, id string) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	var patch entity.PlayerPatch
	flags := cmd.Flags()
	if flags.Changed("name") {
		patch.Name = &opts.Name
	}
	if flags.Changed("color") {
		patch.AvatarColor = &opts.Color
	}
	if flags.Changed("position") {
		patch.QueuePosition = &opts.Position
	}
	if flags.Changed("team") {
		team := entity.Team(opts.Team)
		patch.Team = &team
	}
	payload := patch.Payload()
	if len(payload) == 0 {
		return formatter.Fail(ExitCommandError, ErrCodeInvalid,
			"nothing to update: pass --name, --color, --position or --team", nil)
	}

	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	s.probe(ctx)

	p, err := s.local.UpdatePlayer(ctx, id, payload)
	if err != nil {
		return storeFailure(formatter, "failed to update player", err)
	}
	s.settle()
	return formatter.Success(playerRecord(p))
}

func newPlayerRemoveCommand(opts *PlayerOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove"},
		Short:   "Remove a player from the roster",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := opts.formatter(cmd)
			ctx := cmd.Context()
			s, err := openSession(ctx, opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			s.probe(ctx)

			if err := s.local.DeletePlayer(ctx, args[0]); err != nil {
				return storeFailure(formatter, "failed to remove player", err)
			}
			s.settle()
			return formatter.Success(removed{Kind: entity.KindPlayer, ID: args[0]})
		},
	}
}

// nextQueuePosition is one past the highest position on the roster.
func nextQueuePosition(players []entity.Player) int {
	next := 1
	for _, p := range players {
		if p.QueuePosition >= next {
			next = p.QueuePosition + 1
		}
	}
	return next
}

// storeFailure maps a local store error to output and exit code.
func storeFailure(f *OutputFormatter, message string, err error) error {
	switch {
	case errors.Is(err, local.ErrNotFound):
		return f.Fail(ExitFailure, ErrCodeNotFound, message, err)
	case errors.Is(err, local.ErrInvalid):
		return f.Fail(ExitCommandError, ErrCodeInvalid, message, err)
	default:
		return f.Fail(ExitFailure, ErrCodeStorage, message, err)
	}
}

type playerTable []entity.Player

func (t playerTable) renderText(w io.Writer) error {
	if len(t) == 0 {
		_, err := fmt.Fprintln(w, "No players.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POS\tNAME\tTEAM\tCOLOR\tID")
	for _, p := range t {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", p.QueuePosition, p.Name, p.Team, p.AvatarColor, p.ID)
	}
	return tw.Flush()
}

type playerRecord entity.Player

func (r playerRecord) renderText(w io.Writer) error {
	return playerTable{entity.Player(r)}.renderText(w)
}

type removed struct {
	Kind entity.Kind `json:"kind"`
	ID   string      `json:"id"`
}

func (r removed) renderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Removed %s %s\n", r.Kind, r.ID)
	return err
}
