package tb

import (
	"time"

	"tbsync/internal/model"
)

// TransactionLog durably records transactions and per-session state so that
// UndoLast works after a process restart.
type TransactionLog interface {
	// SaveTransaction inserts or replaces tx and its ops. A zero tx.Seq is
	// assigned the next sequence number.
	SaveTransaction(tx *SyncTransaction) error

	// GetTransaction returns the transaction with the given id, or nil.
	GetTransaction(id string) (*SyncTransaction, error)

	// ListTransactions returns the most recent transactions of a session,
	// newest first. An empty sessionID lists all sessions.
	ListTransactions(sessionID string, limit int) ([]*SyncTransaction, error)

	// SaveSessionState replaces the stored state of state.SessionID.
	SaveSessionState(state *SessionState) error

	// LoadSessionState returns the stored state of a session, or nil.
	LoadSessionState(sessionID string) (*SessionState, error)

	// MaxSequence returns the highest transaction sequence, 0 when empty.
	MaxSequence() (int64, error)

	// CheckMigrations returns an error if the schema is not current.
	CheckMigrations() error

	// BackupTo writes a consistent snapshot of the log to path.
	BackupTo(path string) error

	// Close closes the underlying store.
	Close() error
}

// SessionState is everything a Session needs to resume: the plan it last
// wrote (Base), the plan being edited (Current), the id map and the
// transaction UndoLast would invert together with the day it synced.
type SessionState struct {
	SessionID  string
	CalendarID string
	Base       *model.Plan
	Current    *model.Plan
	IDMap      map[string]string
	LastTxID   string
	LastTxDate string
	UpdatedAt  time.Time
}
