package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/dodgesync/internal/entity"
	"github.com/roach88/dodgesync/internal/oplog"
)

// ErrorCode categorizes sync failures.
type ErrorCode string

const (
	// CodeRemoteFailure indicates the remote service call failed, timed out
	// or was refused.
	CodeRemoteFailure ErrorCode = "REMOTE_FAILURE"

	// CodeMissingRemoteID indicates a remote create answered without an id.
	CodeMissingRemoteID ErrorCode = "MISSING_REMOTE_ID"

	// CodeUnknownEntity indicates a log entry names a kind with no handler.
	CodeUnknownEntity ErrorCode = "UNKNOWN_ENTITY"

	// CodeLocalRead indicates the identity map or local store could not be
	// read.
	CodeLocalRead ErrorCode = "LOCAL_READ"

	// CodeLocalWrite indicates the identity map could not be written after a
	// successful remote create.
	CodeLocalWrite ErrorCode = "LOCAL_WRITE"

	// CodeLeaseLost indicates the sync lease could not be renewed, so the
	// pass stopped before its next remote call.
	CodeLeaseLost ErrorCode = "LEASE_LOST"
)

// SyncError is the failure that stopped a pass. The entry it names and
// every entry after it were preserved in the log.
type SyncError struct {
	Code    ErrorCode
	Kind    entity.Kind
	Op      oplog.Op
	LocalID string
	Err     error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s %s %s: %v", e.Code, e.Op, e.Kind, e.LocalID, e.Err)
	}
	return fmt.Sprintf("%s: %s %s %s", e.Code, e.Op, e.Kind, e.LocalID)
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the SyncError in err's chain, or "" when there
// is none.
func CodeOf(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsRemoteFailure returns true if err stopped a pass because of the remote.
// Uses errors.As to handle wrapped errors.
func IsRemoteFailure(err error) bool {
	return CodeOf(err) == CodeRemoteFailure
}

func syncErr(code ErrorCode, e oplog.Entry, err error) *SyncError {
	return &SyncError{
		Code:    code,
		Kind:    e.Entity,
		Op:      e.Op,
		LocalID: e.ID,
		Err:     err,
	}
}
