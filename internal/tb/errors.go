package tb

import (
	"errors"
	"fmt"
)

var (
	// ErrTransactionAlreadyResolved means an undo was requested for a
	// transaction that has nothing left to invert, or no transaction at all.
	ErrTransactionAlreadyResolved = errors.New("transaction already resolved")
	// ErrRemoteSyncOpFailed marks a sync op the calendar rejected.
	ErrRemoteSyncOpFailed = errors.New("remote sync op failed")
	// ErrRemoteNotFound is returned by calendar clients for unknown remote ids.
	ErrRemoteNotFound = errors.New("remote event not found")
	// ErrUnresolvedTiming means an owned event has no absolute window after
	// timing resolution and cannot be written to a calendar.
	ErrUnresolvedTiming = errors.New("event timing does not resolve")
	// ErrInvalidDesiredPlan means a desired plan cannot be diffed at all.
	ErrInvalidDesiredPlan = errors.New("invalid desired plan")
	// ErrPayloadLocked means sealed payloads were read without unlocking.
	ErrPayloadLocked = errors.New("transaction payloads are sealed")
	// ErrSnapshotNotFound is returned by vaults for unknown snapshots.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// OpError describes one failed sync op of a transaction.
type OpError struct {
	Index   int
	Type    OpType
	LocalID string
	Message string
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s (op %d): %s", e.Type, e.LocalID, e.Index, e.Message)
}

func (e *OpError) Unwrap() error { return ErrRemoteSyncOpFailed }
