package local

import (
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/dodgesync/internal/entity"
)

// IDGenerator issues local ids.
// Implemented by UUIDGenerator (production) and FixedGenerator (tests).
type IDGenerator interface {
	NewID(kind entity.Kind) string
}

// UUIDGenerator issues "<prefix>_<uuid v7>" ids, e.g.
// "player_0190b6e2-7c1a-7d3e-9f0a-5b6c7d8e9f01".
//
// UUIDv7 embeds a timestamp, so ids of one kind sort by creation time.
// Stateless and safe for concurrent use.
type UUIDGenerator struct{}

// NewID returns a fresh id for kind.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDGenerator) NewID(kind entity.Kind) string {
	return kind.Prefix() + "_" + uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids in order, whatever the kind.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// NewID returns the next predetermined id.
//
// Panics if all ids have been consumed: the test created more entities than
// it declared.
func (g *FixedGenerator) NewID(entity.Kind) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
