package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/dodgesync/internal/entity"
)

// GameOptions holds flags for the game subcommands.
type GameOptions struct {
	*RootOptions
	Winner       string
	Loser        string
	WinnersCourt []string
	Challengers  []string
	Eliminated   []string
	Streak       int
	Sort         string
	Limit        int
}

// NewGameCommand creates the game command group.
func NewGameCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "game",
		Short: "Record and browse game results",
	}
	cmd.AddCommand(newGameRecordCommand(&GameOptions{RootOptions: rootOpts}))
	cmd.AddCommand(newGameListCommand(&GameOptions{RootOptions: rootOpts}))
	cmd.AddCommand(newGameRemoveCommand(&GameOptions{RootOptions: rootOpts}))
	return cmd
}

func newGameRecordCommand(opts *GameOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the outcome of a game",
		Long: `Record the outcome of a game.

--eliminated lists player ids in the order they were knocked out.

Example:
  dodgesync game record --winner winners_court --loser challenger \
    --winners-court player_1,player_2 --challengers player_3,player_4 \
    --eliminated player_3,player_4 --streak 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGameRecord(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Winner, "winner", string(entity.TeamWinnersCourt), "winning team")
	cmd.Flags().StringVar(&opts.Loser, "loser", string(entity.TeamChallenger), "losing team")
	cmd.Flags().StringSliceVar(&opts.WinnersCourt, "winners-court", nil, "player ids on the winners court")
	cmd.Flags().StringSliceVar(&opts.Challengers, "challengers", nil, "player ids on the challenger side")
	cmd.Flags().StringSliceVar(&opts.Eliminated, "eliminated", nil, "player ids in elimination order")
	cmd.Flags().IntVar(&opts.Streak, "streak", 0, "winners court streak after this game")
	return cmd
}

func runGameRecord(opts *GameOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	if err := validateTeams(opts.Winner, opts.Loser); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalid, "invalid teams", err)
	}

	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	s.probe(ctx)

	players, err := s.local.ListPlayers(ctx, "")
	if err != nil {
		return storeFailure(formatter, "failed to read roster", err)
	}
	eliminated, err := eliminations(players, opts.Eliminated)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalid, "invalid eliminations", err)
	}

	g, err := s.local.CreateGame(ctx, entity.GameFields{
		WinningTeam:         opts.Winner,
		LosingTeam:          opts.Loser,
		WinnersCourtPlayers: opts.WinnersCourt,
		ChallengerPlayers:   opts.Challengers,
		EliminatedPlayers:   eliminated,
		WinnersCourtStreak:  opts.Streak,
	})
	if err != nil {
		return storeFailure(formatter, "failed to record game", err)
	}
	s.settle()
	return formatter.Success(gameRecord(g))
}

func newGameListCommand(opts *GameOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded games, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := opts.formatter(cmd)
			s, err := openSession(cmd.Context(), opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			games, err := s.local.ListGames(cmd.Context(), opts.Sort, opts.Limit)
			if err != nil {
				return storeFailure(formatter, "failed to list games", err)
			}
			return formatter.Success(gameTable(games))
		},
	}
	cmd.Flags().StringVar(&opts.Sort, "sort", "", `sort field, "-" prefix for descending (default: newest first)`)
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show at most this many games")
	return cmd
}

func newGameRemoveCommand(opts *GameOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove"},
		Short:   "Remove a game record",
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

			if err := s.local.DeleteGame(ctx, args[0]); err != nil {
				return storeFailure(formatter, "failed to remove game", err)
			}
			s.settle()
			return formatter.Success(removed{Kind: entity.KindGame, ID: args[0]})
		},
	}
}

// validateTeams requires two different court teams.
func validateTeams(winner, loser string) error {
	for _, t := range []string{winner, loser} {
		if t != string(entity.TeamWinnersCourt) && t != string(entity.TeamChallenger) {
			return fmt.Errorf("team %q: want %s or %s", t, entity.TeamWinnersCourt, entity.TeamChallenger)
		}
	}
	if winner == loser {
		return fmt.Errorf("winner and loser are both %s", winner)
	}
	return nil
}

// eliminations resolves ids to roster names, keeping the given order.
func eliminations(players []entity.Player, ids []string) ([]entity.Elimination, error) {
	names := make(map[string]string, len(players))
	for _, p := range players {
		names[p.ID] = p.Name
	}
	out := make([]entity.Elimination, 0, len(ids))
	for i, id := range ids {
		name, ok := names[id]
		if !ok {
			return nil, fmt.Errorf("unknown player %q", id)
		}
		out = append(out, entity.Elimination{
			PlayerID:         id,
			PlayerName:       name,
			EliminationOrder: i + 1,
		})
	}
	return out, nil
}

type gameTable []entity.Game

func (t gameTable) renderText(w io.Writer) error {
	if len(t) == 0 {
		_, err := fmt.Fprintln(w, "No games.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAYED\tWINNER\tSTREAK\tOUT\tID")
	for _, g := range t {
		out := make([]string, len(g.EliminatedPlayers))
		for i, e := range g.EliminatedPlayers {
			out[i] = e.PlayerName
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			g.CreatedDate, g.WinningTeam, g.WinnersCourtStreak, strings.Join(out, ", "), g.ID)
	}
	return tw.Flush()
}

type gameRecord entity.Game

func (r gameRecord) renderText(w io.Writer) error {
	return gameTable{entity.Game(r)}.renderText(w)
}
