package tb

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tbsync/internal/tb"

// Executor applies sync ops to one calendar and inverts them on undo.
//
// By default execution halts at the first failing op: earlier ops stay
// applied, the failing op is marked failed and later ops stay pending. In
// best-effort mode every op is attempted and a missing target on update or
// delete is recorded as skipped.
type Executor struct {
	client     CalendarClient
	calendarID string
	logger     Logger
	clock      Clock
	idgen      IDGenerator
	bestEffort bool
	tracer     trace.Tracer
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBestEffort switches the executor to best-effort mode.
func WithBestEffort(enabled bool) ExecutorOption {
	return func(e *Executor) { e.bestEffort = enabled }
}

// NewExecutor creates an Executor writing to calendarID through client.
func NewExecutor(client CalendarClient, calendarID string, logger Logger, clock Clock, idgen IDGenerator, opts ...ExecutorOption) *Executor {
	e := &Executor{
		client:     client,
		calendarID: calendarID,
		logger:     logger,
		clock:      clock,
		idgen:      idgen,
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies ops in order and returns the resulting transaction.
//
// Cancellation is only checked before the first op: once started, every op
// reaches a terminal or pending status before Execute returns. Remote
// failures are recorded on the transaction, never returned as errors.
func (e *Executor) Execute(ctx context.Context, ops []SyncOp) (*SyncTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("execute not started: %w", err)
	}
	tx := &SyncTransaction{
		ID:        e.idgen.New(),
		Kind:      TxSync,
		Ops:       make([]SyncOp, len(ops)),
		Status:    TxPending,
		CreatedAt: e.clock.Now(),
	}
	copy(tx.Ops, ops)
	for i := range tx.Ops {
		tx.Ops[i].Status = OpPending
		tx.Ops[i].Error = ""
	}

	ctx, span := e.tracer.Start(context.WithoutCancel(ctx), "tb.Execute",
		trace.WithAttributes(attribute.String("tb.transaction_id", tx.ID), attribute.Int("tb.ops", len(ops))))
	defer span.End()

	e.run(ctx, tx.Ops, nil)
	tx.settle()
	tx.FinishedAt = e.clock.Now()

	span.SetAttributes(attribute.String("tb.status", string(tx.Status)))
	if err := tx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	e.logger.Info("sync executed", "transaction", tx.ID, "status", tx.Status,
		"applied", tx.Count(OpApplied), "failed", tx.Count(OpFailed), "skipped", tx.Count(OpSkipped))
	return tx, nil
}

// Undo applies the inverse of every applied op of tx in reverse order.
//
// Each successfully inverted op is marked undone in tx, so a failed undo can
// be retried and only inverts what is still applied. tx becomes undone once
// nothing applied is left. The returned transaction records the inverse ops;
// a recreated event gets a new remote id, found in its RemoteID.
func (e *Executor) Undo(ctx context.Context, tx *SyncTransaction) (*SyncTransaction, error) {
	if !tx.Undoable() {
		return nil, ErrTransactionAlreadyResolved
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("undo not started: %w", err)
	}

	var inverse []SyncOp
	var origin []int
	for i := len(tx.Ops) - 1; i >= 0; i-- {
		op := tx.Ops[i]
		if op.Status != OpApplied {
			continue
		}
		inverse = append(inverse, invert(op))
		origin = append(origin, i)
	}
	if len(inverse) == 0 {
		tx.settleAfterUndo()
		return nil, ErrTransactionAlreadyResolved
	}

	undo := &SyncTransaction{
		ID:        e.idgen.New(),
		SessionID: tx.SessionID,
		Kind:      TxUndo,
		UndoesID:  tx.ID,
		Ops:       inverse,
		Status:    TxPending,
		CreatedAt: e.clock.Now(),
	}

	ctx, span := e.tracer.Start(context.WithoutCancel(ctx), "tb.Undo",
		trace.WithAttributes(attribute.String("tb.transaction_id", undo.ID), attribute.String("tb.undoes", tx.ID)))
	defer span.End()

	e.run(ctx, undo.Ops, func(j int) { tx.Ops[origin[j]].Status = OpUndone })
	undo.settle()
	undo.FinishedAt = e.clock.Now()
	tx.settleAfterUndo()

	span.SetAttributes(attribute.String("tb.status", string(undo.Status)))
	if err := undo.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	e.logger.Info("sync undone", "transaction", undo.ID, "undoes", tx.ID, "status", undo.Status, "original_status", tx.Status)
	return undo, nil
}

// invert returns the op that reverses an applied op.
func invert(op SyncOp) SyncOp {
	switch op.Type {
	case OpCreate:
		return SyncOp{Type: OpDelete, LocalID: op.LocalID, RemoteID: op.RemoteID, Before: op.After, Status: OpPending}
	case OpUpdate:
		return SyncOp{Type: OpUpdate, LocalID: op.LocalID, RemoteID: op.RemoteID, Before: op.After, After: op.Before, Status: OpPending}
	default:
		return SyncOp{Type: OpCreate, LocalID: op.LocalID, After: op.Before, Status: OpPending}
	}
}

// run applies ops in place. done is called with the index of every op that
// reached its goal (applied or skipped).
func (e *Executor) run(ctx context.Context, ops []SyncOp, done func(int)) {
	for i := range ops {
		op := &ops[i]
		err := e.apply(ctx, op)
		switch {
		case err == nil:
			op.Status = OpApplied
		case e.bestEffort && op.Type != OpCreate && errors.Is(err, ErrRemoteNotFound):
			op.Status = OpSkipped
			op.Error = err.Error()
			e.logger.Warn("sync op target missing", "op", op.Type, "local_id", op.LocalID, "remote_id", op.RemoteID)
		default:
			op.Status = OpFailed
			op.Error = err.Error()
			e.logger.Error("sync op failed", "op", op.Type, "local_id", op.LocalID, "remote_id", op.RemoteID, "error", err)
		}
		if op.Status != OpFailed && done != nil {
			done(i)
		}
		if op.Status == OpFailed && !e.bestEffort {
			return
		}
	}
}

func (e *Executor) apply(ctx context.Context, op *SyncOp) error {
	ctx, span := e.tracer.Start(ctx, "tb.SyncOp."+string(op.Type),
		trace.WithAttributes(attribute.String("tb.local_id", op.LocalID)))
	defer span.End()

	err := e.dispatch(ctx, op)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("tb.remote_id", op.RemoteID))
	return err
}

func (e *Executor) dispatch(ctx context.Context, op *SyncOp) error {
	switch op.Type {
	case OpCreate:
		if op.After == nil {
			return fmt.Errorf("create %s: missing payload", op.LocalID)
		}
		if remoteID, found, err := e.lookup(ctx, op.LocalID); err != nil {
			return err
		} else if found {
			e.logger.Debug("create already applied", "local_id", op.LocalID, "remote_id", remoteID)
			op.RemoteID = remoteID
			return nil
		}
		remoteID, err := e.client.CreateEvent(ctx, e.calendarID, *op.After)
		if err != nil {
			return fmt.Errorf("creating event: %w", err)
		}
		op.RemoteID = remoteID
		e.logger.Debug("event created", "local_id", op.LocalID, "remote_id", remoteID)
		return nil
	case OpUpdate:
		if op.After == nil {
			return fmt.Errorf("update %s: missing payload", op.LocalID)
		}
		if err := e.resolveRemoteID(ctx, op); err != nil {
			return err
		}
		if err := e.client.UpdateEvent(ctx, e.calendarID, op.RemoteID, *op.After); err != nil {
			return fmt.Errorf("updating event: %w", err)
		}
		e.logger.Debug("event updated", "local_id", op.LocalID, "remote_id", op.RemoteID)
		return nil
	case OpDelete:
		if err := e.resolveRemoteID(ctx, op); err != nil {
			return err
		}
		if err := e.client.DeleteEvent(ctx, e.calendarID, op.RemoteID); err != nil {
			return fmt.Errorf("deleting event: %w", err)
		}
		e.logger.Debug("event deleted", "local_id", op.LocalID, "remote_id", op.RemoteID)
		return nil
	default:
		return fmt.Errorf("unknown sync op type %q", op.Type)
	}
}

func (e *Executor) lookup(ctx context.Context, localID string) (string, bool, error) {
	l, ok := e.client.(EventLookup)
	if !ok {
		return "", false, nil
	}
	remoteID, found, err := l.LookupEvent(ctx, e.calendarID, localID)
	if err != nil {
		return "", false, fmt.Errorf("looking up %s: %w", localID, err)
	}
	return remoteID, found, nil
}

// resolveRemoteID fills in a missing remote id through EventLookup.
func (e *Executor) resolveRemoteID(ctx context.Context, op *SyncOp) error {
	if op.RemoteID != "" {
		return nil
	}
	remoteID, found, err := e.lookup(ctx, op.LocalID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no remote id for %s: %w", op.LocalID, ErrRemoteNotFound)
	}
	op.RemoteID = remoteID
	return nil
}
