// Package idmap records which remote id each synced local entity received.
//
// The sync engine is the only writer. Set is one read-modify-write
// transaction on the backing, so engines in different processes sharing a
// database never drop each other's mappings. A mapping is written once, when a
// create (or a recovered create) lands remotely, and is never changed or
// removed afterwards: local ids are never reused, so an orphaned mapping is
// harmless.
package idmap

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/dodgesync/internal/entity"
	"github.com/roach88/dodgesync/internal/store"
)

// Key is the backing key holding the persisted map.
const Key = "dodgeball.idmap"

// document is the persisted form: {Player: {local: remote}, Game: {...}}.
type document map[entity.Kind]map[string]string

// Map is the persisted (kind, local id) -> remote id mapping.
type Map struct {
	mu      sync.Mutex
	backing store.Backing
	logger  *zap.Logger
}

// New returns a Map stored in b.
func New(b store.Backing, logger *zap.Logger) *Map {
	return &Map{backing: b, logger: logger}
}

// Get returns the remote id recorded for localID.
func (m *Map) Get(ctx context.Context, kind entity.Kind, localID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.read(ctx)
	if err != nil {
		return "", false, fmt.Errorf("get remote id: %w", err)
	}
	remoteID, ok := doc[kind][localID]
	if !ok || remoteID == "" {
		return "", false, nil
	}
	return remoteID, true, nil
}

// Set records remoteID for localID. An existing mapping is kept: remote ids
// are stable once assigned.
func (m *Map) Set(ctx context.Context, kind entity.Kind, localID, remoteID string) error {
	if remoteID == "" {
		return fmt.Errorf("set remote id: empty remote id for %s %s", kind, localID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err := store.UpdateJSON(ctx, m.backing, m.logger, Key, func(doc *document) error {
		*doc = normalize(*doc)
		if existing, ok := (*doc)[kind][localID]; ok && existing != "" {
			if existing != remoteID && m.logger != nil {
				m.logger.Warn("remote id already mapped, keeping the first",
					zap.String("kind", string(kind)),
					zap.String("local_id", localID),
					zap.String("remote_id", existing),
					zap.String("ignored", remoteID))
			}
			return nil
		}
		(*doc)[kind][localID] = remoteID
		return nil
	})
	if err != nil {
		return fmt.Errorf("set remote id: %w", err)
	}
	return nil
}

// Len returns the number of mappings for kind.
func (m *Map) Len(ctx context.Context, kind entity.Kind) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.read(ctx)
	if err != nil {
		return 0, err
	}
	return len(doc[kind]), nil
}

// Clear forgets every mapping.
func (m *Map) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.backing.Remove(ctx, Key); err != nil {
		return fmt.Errorf("clear idmap: %w", err)
	}
	return nil
}

func (m *Map) read(ctx context.Context) (document, error) {
	doc := document{}
	if err := store.LoadJSON(ctx, m.backing, m.logger, Key, &doc); err != nil {
		return nil, err
	}
	return normalize(doc), nil
}

// normalize fills in an empty map for every kind.
func normalize(doc document) document {
	if doc == nil {
		doc = document{}
	}
	for _, k := range entity.Kinds {
		if doc[k] == nil {
			doc[k] = make(map[string]string)
		}
	}
	return doc
}
