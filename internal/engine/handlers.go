package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/roach88/dodgesync/internal/entity"
	"github.com/roach88/dodgesync/internal/oplog"
	"github.com/roach88/dodgesync/internal/remote"
)

// handler applies one compacted entry of a single kind to the remote.
type handler interface {
	apply(ctx context.Context, e oplog.Entry) error
}

// kindHandler holds what every per-kind handler needs.
type kindHandler struct {
	kind   entity.Kind
	coll   remote.Collection
	ids    IdentityMap
	local  LocalReader
	logger *zap.Logger
}

func (h *kindHandler) create(ctx context.Context, e oplog.Entry, payload entity.Payload) error {
	rec, err := h.coll.Create(ctx, payload)
	if err != nil {
		return syncErr(CodeRemoteFailure, e, err)
	}
	remoteID := remote.RemoteID(rec)
	if remoteID == "" {
		return syncErr(CodeMissingRemoteID, e, errors.New("remote create returned no id"))
	}
	if err := h.ids.Set(ctx, h.kind, e.ID, remoteID); err != nil {
		return syncErr(CodeLocalWrite, e, err)
	}
	h.logger.Debug("created remotely",
		zap.String("local_id", e.ID),
		zap.String("remote_id", remoteID))
	return nil
}

func (h *kindHandler) remoteID(ctx context.Context, e oplog.Entry) (string, bool, error) {
	id, ok, err := h.ids.Get(ctx, h.kind, e.ID)
	if err != nil {
		return "", false, syncErr(CodeLocalRead, e, err)
	}
	return id, ok, nil
}

func (h *kindHandler) update(ctx context.Context, e oplog.Entry) error {
	remoteID, ok, err := h.remoteID(ctx, e)
	if err != nil {
		return err
	}
	if !ok {
		return h.recoverAsCreate(ctx, e)
	}
	if _, err := h.coll.Update(ctx, remoteID, e.Data); err != nil {
		return syncErr(CodeRemoteFailure, e, err)
	}
	return nil
}

// recoverAsCreate handles an update whose create never reached the remote:
// the entity's current local record is created remotely instead. When the
// record is gone locally there is nothing left to mirror and the entry is
// skipped.
func (h *kindHandler) recoverAsCreate(ctx context.Context, e oplog.Entry) error {
	rec, found, err := h.local.Lookup(ctx, h.kind, e.ID)
	if err != nil {
		return syncErr(CodeLocalRead, e, err)
	}
	if !found {
		h.logger.Debug("unmapped update of a deleted entity, skipping", zap.String("local_id", e.ID))
		return nil
	}
	h.logger.Info("recovering unmapped update as create", zap.String("local_id", e.ID))
	return h.create(ctx, e, rec)
}

func (h *kindHandler) delete(ctx context.Context, e oplog.Entry) error {
	remoteID, ok, err := h.remoteID(ctx, e)
	if err != nil {
		return err
	}
	if !ok {
		h.logger.Debug("unmapped delete, never reached the remote", zap.String("local_id", e.ID))
		return nil
	}
	if err := h.coll.Delete(ctx, remoteID); err != nil {
		return syncErr(CodeRemoteFailure, e, err)
	}
	return nil
}

// playerHandler mirrors Player entries.
type playerHandler struct {
	kindHandler
}

func (h *playerHandler) apply(ctx context.Context, e oplog.Entry) error {
	switch e.Op {
	case oplog.OpCreate:
		return h.create(ctx, e, e.Data)
	case oplog.OpUpdate:
		return h.update(ctx, e)
	case oplog.OpDelete:
		return h.delete(ctx, e)
	}
	return syncErr(CodeUnknownEntity, e, errors.New("unknown operation"))
}

// gameHandler mirrors Game entries. Games are not edited in normal use; the
// update path exists so an update entry is never stuck in the log.
type gameHandler struct {
	kindHandler
}

func (h *gameHandler) apply(ctx context.Context, e oplog.Entry) error {
	switch e.Op {
	case oplog.OpCreate:
		return h.create(ctx, e, e.Data)
	case oplog.OpUpdate:
		h.logger.Warn("syncing a game update", zap.String("local_id", e.ID))
		return h.update(ctx, e)
	case oplog.OpDelete:
		return h.delete(ctx, e)
	}
	return syncErr(CodeUnknownEntity, e, errors.New("unknown operation"))
}
