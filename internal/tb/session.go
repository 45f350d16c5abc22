package tb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tbsync/internal/model"
)

// Editor turns free-form feedback into a validated replacement plan.
// The repair loop implements it.
type Editor interface {
	Edit(ctx context.Context, plan model.Plan, feedback string) (model.Plan, error)
}

// Session is the single-writer façade over the sync engine for one user
// session. All methods are serialized by a per-session mutex; submits must
// not overlap because each one diffs against a freshly fetched snapshot.
type Session struct {
	mu         sync.Mutex
	id         string
	calendarID string
	client     CalendarClient
	executor   *Executor
	txlog      TransactionLog
	logger     Logger
	clock      Clock
	state      *SessionState
}

// NewSession creates a session writing to calendarID. State saved by an
// earlier process under the same id is picked up on first use.
func NewSession(id, calendarID string, client CalendarClient, txlog TransactionLog, logger Logger, clock Clock, idgen IDGenerator, opts ...ExecutorOption) *Session {
	logger = WithSession(logger, id)
	return &Session{
		id:         id,
		calendarID: calendarID,
		client:     client,
		executor:   NewExecutor(client, calendarID, logger, clock, idgen, opts...),
		txlog:      txlog,
		logger:     logger,
		clock:      clock,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// loadState reads the persisted state once per process.
func (s *Session) loadState() (*SessionState, error) {
	if s.state != nil {
		return s.state, nil
	}
	st, err := s.txlog.LoadSessionState(s.id)
	if err != nil {
		return nil, fmt.Errorf("loading session state: %w", err)
	}
	if st == nil {
		st = &SessionState{SessionID: s.id, CalendarID: s.calendarID, IDMap: map[string]string{}}
	}
	if st.IDMap == nil {
		st.IDMap = map[string]string{}
	}
	s.state = st
	return st, nil
}

func (s *Session) saveState(st *SessionState) error {
	st.UpdatedAt = s.clock.Now()
	if err := s.txlog.SaveSessionState(st); err != nil {
		return fmt.Errorf("saving session state: %w", err)
	}
	return nil
}

// Fetch reads the remote calendar for one day.
func (s *Session) Fetch(ctx context.Context, date, timezone string) (model.Plan, map[string]string, error) {
	return fetchDay(ctx, s.client, s.calendarID, date, timezone)
}

func fetchDay(ctx context.Context, client CalendarClient, calendarID, date, timezone string) (model.Plan, map[string]string, error) {
	window, err := model.NewPlan(date, timezone).Window()
	if err != nil {
		return model.Plan{}, nil, err
	}
	raw, err := client.ListEvents(ctx, calendarID, window)
	if err != nil {
		return model.Plan{}, nil, fmt.Errorf("listing events for %s: %w", date, err)
	}
	plan, idMap := RemotePlanFromFetch(date, timezone, raw)
	return plan, idMap, nil
}

// Diff computes the ops SubmitPlan would execute for desired, without
// touching the calendar.
func (s *Session) Diff(ctx context.Context, desired model.Plan) ([]SyncOp, []Divergence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadState()
	if err != nil {
		return nil, nil, err
	}
	remote, fetched, err := s.Fetch(ctx, desired.Date, desired.Timezone)
	if err != nil {
		return nil, nil, err
	}
	target, divergences := s.reconcile(st, remote, desired)
	ops, err := PlanSync(remote, target, mergeIDMaps(st.IDMap, fetched))
	if err != nil {
		return nil, nil, err
	}
	return ops, divergences, nil
}

func (s *Session) reconcile(st *SessionState, remote, desired model.Plan) (model.Plan, []Divergence) {
	if st.Base == nil || st.Base.Date != desired.Date {
		return desired, nil
	}
	target, divergences := ReconcileWithBase(*st.Base, remote, desired)
	for _, d := range divergences {
		s.logger.Warn("remote diverged from last sync", "local_id", d.LocalID, "kind", d.Kind, "dropped", d.Dropped)
	}
	return target, divergences
}

// SubmitPlan makes the remote calendar match desired.
//
// The remote day is fetched, remote edits since the last sync are kept,
// the diff is executed and the resulting transaction becomes the one
// UndoLast inverts. A submit with nothing to change returns an empty applied
// transaction that is neither persisted nor made undoable, and that leaves
// the synced state alone while another day has an undoable transaction.
// Remote failures
// are reported through the transaction's status and Err, not as an error.
func (s *Session) SubmitPlan(ctx context.Context, desired model.Plan) (*SyncTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadState()
	if err != nil {
		return nil, err
	}
	remote, fetched, err := s.Fetch(ctx, desired.Date, desired.Timezone)
	if err != nil {
		return nil, err
	}
	target, divergences := s.reconcile(st, remote, desired)
	idMap := mergeIDMaps(st.IDMap, fetched)
	ops, err := PlanSync(remote, target, idMap)
	if err != nil {
		return nil, fmt.Errorf("planning sync: %w", err)
	}

	if len(ops) == 0 {
		now := s.clock.Now()
		s.logger.Info("remote already matches plan", "date", desired.Date)
		st.IDMap = idMap
		if st.LastTxID == "" || st.LastTxDate == desired.Date {
			if st.Current != nil && st.Current.Date != desired.Date {
				s.logger.Warn("discarding edited plan", "date", st.Current.Date)
			}
			st.Base, st.Current = &remote, &target
		}
		if err := s.saveState(st); err != nil {
			return nil, err
		}
		return &SyncTransaction{SessionID: s.id, Kind: TxSync, Status: TxApplied, Divergences: divergences, CreatedAt: now, FinishedAt: now}, nil
	}

	tx, err := s.executor.Execute(ctx, ops)
	if err != nil {
		return nil, err
	}
	tx.SessionID = s.id
	tx.Divergences = divergences
	if err := s.txlog.SaveTransaction(tx); err != nil {
		return tx, fmt.Errorf("recording transaction: %w", err)
	}

	base := applySyncOps(remote, tx.Ops)
	st.Base = &base
	st.Current = &target
	st.IDMap = refreshIDMap(idMap, tx.Ops)
	st.LastTxID = tx.ID
	st.LastTxDate = desired.Date
	if err := s.saveState(st); err != nil {
		return tx, err
	}
	return tx, nil
}

// UndoLast inverts the last submitted transaction.
//
// The synced state is rolled back only while it still describes the day
// that transaction wrote.
//
// Once every applied op has been inverted the transaction is cleared, so a
// second call fails with ErrTransactionAlreadyResolved. If inverting an op
// fails the transaction stays current and a later call resumes with the ops
// still applied.
func (s *Session) UndoLast(ctx context.Context) (*SyncTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadState()
	if err != nil {
		return nil, err
	}
	if st.LastTxID == "" {
		return nil, ErrTransactionAlreadyResolved
	}
	tx, err := s.txlog.GetTransaction(st.LastTxID)
	if err != nil {
		return nil, fmt.Errorf("loading transaction %s: %w", st.LastTxID, err)
	}
	if tx == nil {
		st.LastTxID, st.LastTxDate = "", ""
		if err := s.saveState(st); err != nil {
			return nil, err
		}
		return nil, ErrTransactionAlreadyResolved
	}

	undo, err := s.executor.Undo(ctx, tx)
	if errors.Is(err, ErrTransactionAlreadyResolved) {
		if saveErr := s.txlog.SaveTransaction(tx); saveErr != nil {
			return nil, fmt.Errorf("recording transaction: %w", saveErr)
		}
		st.LastTxID, st.LastTxDate = "", ""
		if saveErr := s.saveState(st); saveErr != nil {
			return nil, saveErr
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if err := s.txlog.SaveTransaction(undo); err != nil {
		return undo, fmt.Errorf("recording undo transaction: %w", err)
	}
	if err := s.txlog.SaveTransaction(tx); err != nil {
		return undo, fmt.Errorf("recording transaction: %w", err)
	}

	if st.Base != nil && st.Base.Date == st.LastTxDate {
		base := applySyncOps(*st.Base, undo.Ops)
		st.Base = &base
		st.Current = &base
	}
	st.IDMap = refreshIDMap(st.IDMap, undo.Ops)
	if tx.Status == TxUndone {
		st.LastTxID, st.LastTxDate = "", ""
	}
	if err := s.saveState(st); err != nil {
		return undo, err
	}
	return undo, nil
}

// LastTransaction returns the transaction UndoLast would invert, or nil.
func (s *Session) LastTransaction() (*SyncTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadState()
	if err != nil {
		return nil, err
	}
	if st.LastTxID == "" {
		return nil, nil
	}
	return s.txlog.GetTransaction(st.LastTxID)
}

// Plan returns the plan being edited for date: the current plan when it is
// for that day, otherwise the remote day as fetched.
func (s *Session) Plan(ctx context.Context, date, timezone string) (model.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan(ctx, date, timezone)
}

func (s *Session) plan(ctx context.Context, date, timezone string) (model.Plan, error) {
	st, err := s.loadState()
	if err != nil {
		return model.Plan{}, err
	}
	if st.Current != nil && st.Current.Date == date {
		return st.Current.Clone(), nil
	}
	remote, _, err := s.Fetch(ctx, date, timezone)
	if err != nil {
		return model.Plan{}, err
	}
	return remote, nil
}

// ProposeEdit asks editor for a new version of the day's plan and, when one
// is accepted, stores it as the current plan. The calendar is not touched;
// call SubmitPlan with the result to sync it. On error the current plan is
// unchanged.
func (s *Session) ProposeEdit(ctx context.Context, editor Editor, date, timezone, feedback string) (model.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.plan(ctx, date, timezone)
	if err != nil {
		return model.Plan{}, err
	}
	next, err := editor.Edit(ctx, current, feedback)
	if err != nil {
		return model.Plan{}, err
	}
	st, err := s.loadState()
	if err != nil {
		return model.Plan{}, err
	}
	st.Current = &next
	if err := s.saveState(st); err != nil {
		return model.Plan{}, err
	}
	return next.Clone(), nil
}

// Drift compares a remote snapshot with the last synced state and reports
// owned events changed outside the engine.
func (s *Session) Drift(remote model.Plan) ([]Divergence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadState()
	if err != nil {
		return nil, err
	}
	if st.Base == nil || st.Base.Date != remote.Date {
		return nil, nil
	}
	_, divergences := ReconcileWithBase(*st.Base, remote, *st.Base)
	return divergences, nil
}

// applySyncOps replays the ops that took effect onto a plan, giving the
// state the remote calendar is now in.
func applySyncOps(p model.Plan, ops []SyncOp) model.Plan {
	out := p.Clone()
	for _, op := range ops {
		if op.Status != OpApplied {
			continue
		}
		switch op.Type {
		case OpCreate:
			if op.After != nil && out.Index(op.LocalID) < 0 {
				out.Events = append(out.Events, op.After.Event())
			}
		case OpUpdate:
			if i := out.Index(op.LocalID); i >= 0 && op.After != nil {
				out.Events[i] = op.After.Event()
			}
		case OpDelete:
			if i := out.Index(op.LocalID); i >= 0 {
				out.Events = append(out.Events[:i], out.Events[i+1:]...)
			}
		}
	}
	return out
}

// refreshIDMap records the remote ids produced or released by applied ops.
func refreshIDMap(idMap map[string]string, ops []SyncOp) map[string]string {
	out := mergeIDMaps(idMap, nil)
	for _, op := range ops {
		if op.Status != OpApplied {
			continue
		}
		switch op.Type {
		case OpCreate, OpUpdate:
			out[op.LocalID] = op.RemoteID
		case OpDelete:
			delete(out, op.LocalID)
		}
	}
	return out
}
