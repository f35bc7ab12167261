package entity

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Team is the court assignment of a player.
type Team string

const (
	TeamWinnersCourt Team = "winners_court"
	TeamChallenger   Team = "challenger"
	TeamQueue        Team = "queue"
)

// Valid reports whether t is one of the known team states.
func (t Team) Valid() bool {
	switch t {
	case TeamWinnersCourt, TeamChallenger, TeamQueue:
		return true
	}
	return false
}

// ParseTeam validates s as a Team.
func ParseTeam(s string) (Team, error) {
	t := Team(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown team %q (want %s, %s or %s)", s, TeamWinnersCourt, TeamChallenger, TeamQueue)
	}
	return t, nil
}

// Player is a roster member. QueuePosition total-orders players for display;
// team sizes are the caller's business.
type Player struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	AvatarColor   string `json:"avatar_color"`
	QueuePosition int    `json:"queue_position"`
	Team          Team   `json:"team"`
	CreatedDate   string `json:"created_date,omitempty"`
	UpdatedDate   string `json:"updated_date,omitempty"`
}

// PlayerFields is the caller-supplied part of a new Player.
type PlayerFields struct {
	Name          string `json:"name"`
	AvatarColor   string `json:"avatar_color"`
	QueuePosition int    `json:"queue_position"`
	Team          Team   `json:"team"`
}

// PlayerPatch describes a partial Player update. Nil fields are untouched.
type PlayerPatch struct {
	Name          *string
	AvatarColor   *string
	QueuePosition *int
	Team          *Team
}

// Payload returns the patch in the form stored in the operation log.
func (p PlayerPatch) Payload() Payload {
	out := Payload{}
	if p.Name != nil {
		out["name"] = *p.Name
	}
	if p.AvatarColor != nil {
		out["avatar_color"] = *p.AvatarColor
	}
	if p.QueuePosition != nil {
		out["queue_position"] = *p.QueuePosition
	}
	if p.Team != nil {
		out["team"] = string(*p.Team)
	}
	return out
}

// Elimination records one player knocked out during a game.
type Elimination struct {
	PlayerID         string `json:"player_id"`
	PlayerName       string `json:"player_name"`
	EliminationOrder int    `json:"elimination_order"`
}

// Game is the outcome record of one game.
type Game struct {
	ID                  string        `json:"id"`
	CreatedDate         string        `json:"created_date"`
	WinningTeam         string        `json:"winning_team"`
	LosingTeam          string        `json:"losing_team"`
	WinnersCourtPlayers []string      `json:"winners_court_players"`
	ChallengerPlayers   []string      `json:"challenger_players"`
	EliminatedPlayers   []Elimination `json:"eliminated_players"`
	WinnersCourtStreak  int           `json:"winners_court_streak"`
}

// GameFields is the caller-supplied part of a new Game.
type GameFields struct {
	WinningTeam         string        `json:"winning_team"`
	LosingTeam          string        `json:"losing_team"`
	WinnersCourtPlayers []string      `json:"winners_court_players"`
	ChallengerPlayers   []string      `json:"challenger_players"`
	EliminatedPlayers   []Elimination `json:"eliminated_players"`
	WinnersCourtStreak  int           `json:"winners_court_streak"`
}

// NormalizeName trims surrounding space and applies Unicode NFC, so names
// typed on different keyboards compare equal.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
