package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/dodgesync/internal/entity"
)

// SequenceIDs issues readable local ids: player_1, player_2, game_1, ...
//
// Counters are per kind, so the same scenario always yields the same ids
// and golden output stays byte-identical.
//
// Thread-safety: SequenceIDs is safe for concurrent use via internal mutex.
type SequenceIDs struct {
	mu   sync.Mutex
	next map[entity.Kind]int
}

// NewSequenceIDs creates a generator whose first id per kind ends in _1.
func NewSequenceIDs() *SequenceIDs {
	return &SequenceIDs{next: make(map[entity.Kind]int)}
}

// NewID returns the next id for kind.
func (g *SequenceIDs) NewID(kind entity.Kind) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next[kind]++
	return fmt.Sprintf("%s_%d", kind.Prefix(), g.next[kind])
}
