package tb

import (
	"errors"
	"time"
)

// OpType is the kind of remote mutation a SyncOp performs.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// OpStatus is the per-op outcome within a transaction.
type OpStatus string

const (
	OpPending OpStatus = "pending"
	OpApplied OpStatus = "applied"
	OpFailed  OpStatus = "failed"
	// OpSkipped marks an update or delete whose target was already gone
	// in best-effort mode. It has no inverse.
	OpSkipped OpStatus = "skipped"
	// OpUndone marks an applied op whose inverse has been applied.
	OpUndone OpStatus = "undone"
)

// TxStatus is the status of a whole transaction.
type TxStatus string

const (
	TxPending          TxStatus = "pending"
	TxApplied          TxStatus = "applied"
	TxPartiallyApplied TxStatus = "partially_applied"
	TxFailed           TxStatus = "failed"
	TxUndone           TxStatus = "undone"
)

// TxKind distinguishes forward syncs from the undo runs that invert them.
type TxKind string

const (
	TxSync TxKind = "sync"
	TxUndo TxKind = "undo"
)

// SyncOp is one remote mutation. Before is the remote state the op replaces
// (update, delete) and After the state it writes (create, update); together
// they are enough to compute the inverse.
type SyncOp struct {
	Type     OpType
	LocalID  string
	RemoteID string
	Before   *EventPayload
	After    *EventPayload
	Status   OpStatus
	Error    string
}

// DivergenceKind says how the remote copy of an owned event moved away from
// the last synced state.
type DivergenceKind string

const (
	DivergenceModified DivergenceKind = "modified"
	DivergenceDeleted  DivergenceKind = "deleted"
)

// Divergence reports an owned event that was changed on the remote calendar
// since the last sync. The remote version was kept.
type Divergence struct {
	LocalID string
	Kind    DivergenceKind
	Base    *EventPayload
	Remote  *EventPayload
	// Dropped is set when the desired plan wanted a different state for the
	// event and that edit was discarded.
	Dropped bool
}

// SyncTransaction records one Execute or Undo run.
type SyncTransaction struct {
	ID          string
	SessionID   string
	Seq         int64 // assigned by the TransactionLog
	Kind        TxKind
	UndoesID    string // set on undo transactions
	Ops         []SyncOp
	Status      TxStatus
	Divergences []Divergence
	CreatedAt   time.Time
	FinishedAt  time.Time
}

// Undoable reports whether Undo may be run on the transaction.
func (tx *SyncTransaction) Undoable() bool {
	return tx != nil && tx.Kind == TxSync && (tx.Status == TxApplied || tx.Status == TxPartiallyApplied)
}

// Count returns the number of ops with the given status.
func (tx *SyncTransaction) Count(status OpStatus) int {
	n := 0
	for _, op := range tx.Ops {
		if op.Status == status {
			n++
		}
	}
	return n
}

// Err joins an *OpError for every failed op. It is nil when no op failed.
func (tx *SyncTransaction) Err() error {
	var errs []error
	for i, op := range tx.Ops {
		if op.Status == OpFailed {
			errs = append(errs, &OpError{Index: i, Type: op.Type, LocalID: op.LocalID, Message: op.Error})
		}
	}
	return errors.Join(errs...)
}

// settle derives the transaction status from its op statuses after a run.
func (tx *SyncTransaction) settle() {
	applied := tx.Count(OpApplied)
	failed := tx.Count(OpFailed)
	pending := tx.Count(OpPending)
	switch {
	case failed == 0 && pending == 0:
		tx.Status = TxApplied
	case applied == 0:
		tx.Status = TxFailed
	default:
		tx.Status = TxPartiallyApplied
	}
}

// settleAfterUndo updates a sync transaction once some of its applied ops
// were inverted. It becomes undone only when nothing applied is left.
func (tx *SyncTransaction) settleAfterUndo() {
	if tx.Count(OpApplied) == 0 {
		tx.Status = TxUndone
		return
	}
	if tx.Count(OpUndone) > 0 {
		tx.Status = TxPartiallyApplied
	}
}
