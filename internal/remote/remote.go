// Package remote is the consumed side of the remote entity service: the
// collection interfaces the sync engine calls and an HTTP client for the
// reference service.
package remote

import (
	"context"

	"github.com/roach88/dodgesync/internal/entity"
)

// Record is an entity as the remote service returns it. The remote id is
// under "id".
type Record = entity.Payload

// RemoteID returns the id the remote assigned, or "" when absent.
func RemoteID(r Record) string {
	return r.String("id")
}

// Collection is the remote CRUD surface of one entity kind.
type Collection interface {
	Create(ctx context.Context, payload entity.Payload) (Record, error)
	Update(ctx context.Context, remoteID string, patch entity.Payload) (Record, error)
	Delete(ctx context.Context, remoteID string) error
}

// Service resolves the collection for an entity kind. It returns nil for a
// kind the service does not host.
type Service interface {
	Collection(kind entity.Kind) Collection
}
