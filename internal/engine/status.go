package engine

import (
	"context"
	"fmt"
	"time"
)

// State is the sync engine state.
type State int

const (
	Idle State = iota
	Syncing
	SyncingPendingRerun
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Syncing:
		return "syncing"
	case SyncingPendingRerun:
		return "syncing_pending_rerun"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{Idle, Syncing, SyncingPendingRerun} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown sync state %q", text)
}

// Label is the one-word summary a status indicator shows.
type Label string

const (
	LabelSyncing Label = "syncing"
	LabelOffline Label = "offline"
	LabelDirty   Label = "dirty"
	LabelOnline  Label = "online"
)

// Status is a snapshot of the engine for status surfaces.
type Status struct {
	State     State      `json:"state"`
	Online    bool       `json:"online"`
	Pending   int        `json:"pending"`
	Label     Label      `json:"label"`
	LastError string     `json:"last_error,omitempty"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
}

// IsSyncing reports whether a pass is running.
func (e *Engine) IsSyncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state != Idle
}

// IsOnline reports the connectivity signal.
func (e *Engine) IsOnline() bool {
	return e.signal.Online()
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastError returns the error that stopped the most recent pass, or nil.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Status reports the engine state, connectivity and pending log length.
//
// The label follows the indicator precedence: syncing, then offline, then
// dirty when entries are pending, else online.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	pending, err := e.log.Len(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("status: %w", err)
	}

	e.mu.Lock()
	st := Status{
		State:   e.state,
		Online:  e.signal.Online(),
		Pending: pending,
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	if !e.lastSync.IsZero() {
		t := e.lastSync
		st.LastSync = &t
	}
	e.mu.Unlock()

	switch {
	case st.State != Idle:
		st.Label = LabelSyncing
	case !st.Online:
		st.Label = LabelOffline
	case st.Pending > 0:
		st.Label = LabelDirty
	default:
		st.Label = LabelOnline
	}
	return st, nil
}
