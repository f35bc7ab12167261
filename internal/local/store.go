package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/dodgesync/internal/entity"
	"github.com/roach88/dodgesync/internal/idmap"
	"github.com/roach88/dodgesync/internal/oplog"
	"github.com/roach88/dodgesync/internal/store"
)

const (
	PlayersKey = "dodgeball.players"
	GamesKey   = "dodgeball.games"
)

// Listener is called after every successful mutation. It runs on the
// mutating goroutine and must not block; the sync engine registers its
// fire-and-forget Request.
type Listener func()

// Store is the local-first entity store.
//
// One mutex serializes each read-modify-write together with its oplog
// append, so the log records mutations in the order they happened.
type Store struct {
	mu      sync.Mutex
	backing store.Backing
	log     *oplog.Log
	ids     *idmap.Map
	gen     IDGenerator
	now     func() time.Time
	logger  *zap.Logger

	lmu       sync.RWMutex
	listeners []Listener
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) {
		s.gen = g
	}
}

// WithNow replaces the wall clock used for created/updated dates.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a Store over b. ids is only touched by Reset.
func New(b store.Backing, log *oplog.Log, ids *idmap.Map, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		backing: b,
		log:     log,
		ids:     ids,
		gen:     UUIDGenerator{},
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// OnMutation registers fn to run after every successful mutation.
func (s *Store) OnMutation(fn Listener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notify() {
	s.lmu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.lmu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}

// ListPlayers returns every player sorted by sortKey ("" keeps insertion
// order, "-field" sorts descending).
func (s *Store) ListPlayers(ctx context.Context, sortKey string) ([]entity.Player, error) {
	players, err := readAll[entity.Player](ctx, s, PlayersKey)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	return entity.SortBy(players, sortKey)
}

// ListGames returns games sorted by sortKey, truncated to limit when
// limit > 0. With an empty key the newest game comes first.
func (s *Store) ListGames(ctx context.Context, sortKey string, limit int) ([]entity.Game, error) {
	games, err := readAll[entity.Game](ctx, s, GamesKey)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	sorted, err := entity.SortBy(games, sortKey)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

// CreatePlayer stores a new player and logs its full record. An empty team
// defaults to the queue.
func (s *Store) CreatePlayer(ctx context.Context, f entity.PlayerFields) (entity.Player, error) {
	name := entity.NormalizeName(f.Name)
	if name == "" {
		return entity.Player{}, invalidf("player name is required")
	}
	team := f.Team
	if team == "" {
		team = entity.TeamQueue
	}
	if !team.Valid() {
		return entity.Player{}, invalidf("unknown team %q", team)
	}

	ts := entity.Timestamp(s.now())
	p := entity.Player{
		ID:            s.gen.NewID(entity.KindPlayer),
		Name:          name,
		AvatarColor:   f.AvatarColor,
		QueuePosition: f.QueuePosition,
		Team:          team,
		CreatedDate:   ts,
		UpdatedDate:   ts,
	}

	err := s.mutate(func() error {
		err := updateAll(ctx, s, PlayersKey, func(players []entity.Player) ([]entity.Player, error) {
			return append(players, p), nil
		})
		if err != nil {
			return err
		}
		return s.record(ctx, entity.KindPlayer, oplog.OpCreate, p.ID, p)
	})
	if err != nil {
		return entity.Player{}, fmt.Errorf("create player: %w", err)
	}
	return p, nil
}

// UpdatePlayer merges patch into the player, refreshes updated_date and logs
// only the patch. The id and date fields of a patch are ignored.
func (s *Store) UpdatePlayer(ctx context.Context, id string, patch entity.Payload) (entity.Player, error) {
	patch, err := cleanPlayerPatch(patch)
	if err != nil {
		return entity.Player{}, fmt.Errorf("update player: %w", err)
	}

	var updated entity.Player
	err = s.mutate(func() error {
		err := updateAll(ctx, s, PlayersKey, func(players []entity.Player) ([]entity.Player, error) {
			idx := indexOf(players, id, func(p entity.Player) string { return p.ID })
			if idx < 0 {
				return nil, &NotFoundError{Kind: entity.KindPlayer, ID: id}
			}
			next, err := entity.ApplyPatch(players[idx], patch)
			if err != nil {
				return nil, invalidf("player %s: %v", id, err)
			}
			next.UpdatedDate = entity.Timestamp(s.now())
			players[idx] = next
			updated = next
			return players, nil
		})
		if err != nil {
			return err
		}
		return s.record(ctx, entity.KindPlayer, oplog.OpUpdate, id, patch)
	})
	if err != nil {
		return entity.Player{}, fmt.Errorf("update player: %w", err)
	}
	return updated, nil
}

// DeletePlayer removes the player if present and logs a delete either way.
func (s *Store) DeletePlayer(ctx context.Context, id string) error {
	err := s.mutate(func() error {
		err := updateAll(ctx, s, PlayersKey, func(players []entity.Player) ([]entity.Player, error) {
			return without(players, id, func(p entity.Player) string { return p.ID }), nil
		})
		if err != nil {
			return err
		}
		return s.record(ctx, entity.KindPlayer, oplog.OpDelete, id, nil)
	})
	if err != nil {
		return fmt.Errorf("delete player: %w", err)
	}
	return nil
}

// CreateGame stores a new game record at the front of the history.
func (s *Store) CreateGame(ctx context.Context, f entity.GameFields) (entity.Game, error) {
	g := entity.Game{
		ID:                  s.gen.NewID(entity.KindGame),
		CreatedDate:         entity.Timestamp(s.now()),
		WinningTeam:         f.WinningTeam,
		LosingTeam:          f.LosingTeam,
		WinnersCourtPlayers: nonNilSlice(f.WinnersCourtPlayers),
		ChallengerPlayers:   nonNilSlice(f.ChallengerPlayers),
		EliminatedPlayers:   f.EliminatedPlayers,
		WinnersCourtStreak:  f.WinnersCourtStreak,
	}
	if g.EliminatedPlayers == nil {
		g.EliminatedPlayers = []entity.Elimination{}
	}

	err := s.mutate(func() error {
		err := updateAll(ctx, s, GamesKey, func(games []entity.Game) ([]entity.Game, error) {
			return append([]entity.Game{g}, games...), nil
		})
		if err != nil {
			return err
		}
		return s.record(ctx, entity.KindGame, oplog.OpCreate, g.ID, g)
	})
	if err != nil {
		return entity.Game{}, fmt.Errorf("create game: %w", err)
	}
	return g, nil
}

// UpdateGame merges patch into a game record. Game results are not edited
// in normal use; this keeps the update path of the log complete for both
// kinds.
func (s *Store) UpdateGame(ctx context.Context, id string, patch entity.Payload) (entity.Game, error) {
	patch = withoutFields(patch, "id", "created_date")

	var updated entity.Game
	err := s.mutate(func() error {
		err := updateAll(ctx, s, GamesKey, func(games []entity.Game) ([]entity.Game, error) {
			idx := indexOf(games, id, func(g entity.Game) string { return g.ID })
			if idx < 0 {
				return nil, &NotFoundError{Kind: entity.KindGame, ID: id}
			}
			next, err := entity.ApplyPatch(games[idx], patch)
			if err != nil {
				return nil, invalidf("game %s: %v", id, err)
			}
			games[idx] = next
			updated = next
			return games, nil
		})
		if err != nil {
			return err
		}
		return s.record(ctx, entity.KindGame, oplog.OpUpdate, id, patch)
	})
	if err != nil {
		return entity.Game{}, fmt.Errorf("update game: %w", err)
	}
	return updated, nil
}

// DeleteGame removes the game if present and logs a delete either way.
func (s *Store) DeleteGame(ctx context.Context, id string) error {
	err := s.mutate(func() error {
		err := updateAll(ctx, s, GamesKey, func(games []entity.Game) ([]entity.Game, error) {
			return without(games, id, func(g entity.Game) string { return g.ID }), nil
		})
		if err != nil {
			return err
		}
		return s.record(ctx, entity.KindGame, oplog.OpDelete, id, nil)
	})
	if err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	return nil
}

// Lookup returns the current local record of (kind, id) as a payload. The
// sync engine uses it to rebuild a create for an update whose create never
// reached the remote.
func (s *Store) Lookup(ctx context.Context, kind entity.Kind, id string) (entity.Payload, bool, error) {
	switch kind {
	case entity.KindPlayer:
		players, err := readAll[entity.Player](ctx, s, PlayersKey)
		if err != nil {
			return nil, false, fmt.Errorf("lookup: %w", err)
		}
		return lookupIn(players, id, func(p entity.Player) string { return p.ID })
	case entity.KindGame:
		games, err := readAll[entity.Game](ctx, s, GamesKey)
		if err != nil {
			return nil, false, fmt.Errorf("lookup: %w", err)
		}
		return lookupIn(games, id, func(g entity.Game) string { return g.ID })
	}
	return nil, false, fmt.Errorf("lookup: unknown entity kind %q", kind)
}

// Reset drops every collection, the operation log and the identity map.
// Unsynced work is lost.
//
// A sync pass running concurrently would write its tail and mappings back
// after the reset; callers run Reset through the engine's Exclusive.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range []string{PlayersKey, GamesKey} {
		if err := s.backing.Remove(ctx, key); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	if err := s.log.Clear(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if s.ids != nil {
		if err := s.ids.Clear(ctx); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	s.logger.Info("offline data cleared")
	return nil
}

// mutate runs fn under the store lock and notifies listeners on success.
func (s *Store) mutate(fn func() error) error {
	s.mu.Lock()
	err := fn()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *Store) record(ctx context.Context, kind entity.Kind, op oplog.Op, id string, data any) error {
	var payload entity.Payload
	switch d := data.(type) {
	case nil:
	case entity.Payload:
		payload = d
	default:
		p, err := entity.ToPayload(d)
		if err != nil {
			return err
		}
		payload = p
	}

	e, err := s.log.Append(ctx, kind, op, id, payload)
	if err != nil {
		return err
	}
	s.logger.Debug("mutation logged",
		zap.String("kind", string(kind)),
		zap.String("op", string(op)),
		zap.String("id", id),
		zap.Int64("ts", e.TS))
	return nil
}

func readAll[T any](ctx context.Context, s *Store, key string) ([]T, error) {
	items := []T{}
	if err := store.LoadJSON(ctx, s.backing, s.logger, key, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// updateAll rewrites one collection in a single backing transaction. The
// oplog append runs after it, still under s.mu: a transaction must not nest
// another backing call.
func updateAll[T any](ctx context.Context, s *Store, key string, fn func(items []T) ([]T, error)) error {
	return store.UpdateJSON(ctx, s.backing, s.logger, key, func(items *[]T) error {
		next, err := fn(nonNilSlice(*items))
		if err != nil {
			return err
		}
		*items = nonNilSlice(next)
		return nil
	})
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func indexOf[T any](items []T, id string, idOf func(T) string) int {
	for i, item := range items {
		if idOf(item) == id {
			return i
		}
	}
	return -1
}

func without[T any](items []T, id string, idOf func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if idOf(item) != id {
			out = append(out, item)
		}
	}
	return out
}

func lookupIn[T any](items []T, id string, idOf func(T) string) (entity.Payload, bool, error) {
	idx := indexOf(items, id, idOf)
	if idx < 0 {
		return nil, false, nil
	}
	p, err := entity.ToPayload(items[idx])
	if err != nil {
		return nil, false, fmt.Errorf("lookup: %w", err)
	}
	return p, true, nil
}

// cleanPlayerPatch drops server-owned fields and normalizes the rest.
func cleanPlayerPatch(patch entity.Payload) (entity.Payload, error) {
	out := withoutFields(patch, "id", "created_date", "updated_date")
	if v, ok := out["name"]; ok {
		name, _ := v.(string)
		name = entity.NormalizeName(name)
		if name == "" {
			return nil, invalidf("player name cannot be empty")
		}
		out["name"] = name
	}
	if v, ok := out["team"]; ok {
		s, _ := v.(string)
		if t, isTeam := v.(entity.Team); isTeam {
			s = string(t)
		}
		if !entity.Team(s).Valid() {
			return nil, invalidf("unknown team %v", v)
		}
		out["team"] = s
	}
	return out, nil
}

func withoutFields(p entity.Payload, fields ...string) entity.Payload {
	out := p.Clone()
	if out == nil {
		out = entity.Payload{}
	}
	for _, f := range fields {
		delete(out, f)
	}
	return out
}
