package database

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tbsync/internal/config"
	"tbsync/internal/encryption"
	"tbsync/internal/model"
	"tbsync/internal/tb"
)

// newTestLog creates a new in-memory transaction log with schema applied.
func newTestLog(t *testing.T, encryptor tb.Encryptor) *SQLiteLog {
	t.Helper()

	log, err := NewSQLiteLog(":memory:", encryptor)
	if err != nil {
		t.Fatalf("failed to create log: %v", err)
	}

	t.Cleanup(func() {
		log.Close()
	})

	return log
}

var created = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC)
}

func payload(id, title string, start, end time.Time) *tb.EventPayload {
	return &tb.EventPayload{
		ID:    id,
		Title: title,
		Start: start,
		End:   end,
		Type:  model.EventTypeDeepWork,
		Color: model.EventTypeDeepWork.Color(),
	}
}

func newTx(id, session string) *tb.SyncTransaction {
	return &tb.SyncTransaction{
		ID:        id,
		SessionID: session,
		Kind:      tb.TxSync,
		Status:    tb.TxApplied,
		CreatedAt: created,
		Ops: []tb.SyncOp{
			{
				Type:     tb.OpDelete,
				LocalID:  "fftb0002",
				RemoteID: "r-2",
				Before:   payload("fftb0002", "Old block", at(13, 0), at(14, 0)),
				Status:   tb.OpApplied,
			},
			{
				Type:    tb.OpCreate,
				LocalID: "fftb0001",
				After:   payload("fftb0001", "Write report", at(9, 0), at(10, 30)),
				Status:  tb.OpPending,
			},
		},
	}
}

func TestSQLiteLog_SaveAndGetTransaction(t *testing.T) {
	t.Run("returns nil when transaction not found", func(t *testing.T) {
		log := newTestLog(t, nil)

		tx, err := log.GetTransaction("missing")
		if err != nil {
			t.Fatalf("GetTransaction() error = %v", err)
		}
		if tx != nil {
			t.Errorf("GetTransaction() = %v, want nil", tx)
		}
	})

	t.Run("round trips ops in order", func(t *testing.T) {
		log := newTestLog(t, nil)

		tx := newTx("tx-1", "default")
		tx.Divergences = []tb.Divergence{{
			LocalID: "fftb0003",
			Kind:    tb.DivergenceModified,
			Base:    payload("fftb0003", "Gym", at(18, 0), at(19, 0)),
			Remote:  payload("fftb0003", "Gym", at(18, 30), at(19, 30)),
			Dropped: true,
		}}
		if err := log.SaveTransaction(tx); err != nil {
			t.Fatalf("SaveTransaction() error = %v", err)
		}
		if tx.Seq != 1 {
			t.Errorf("Seq = %d, want 1", tx.Seq)
		}

		got, err := log.GetTransaction("tx-1")
		if err != nil {
			t.Fatalf("GetTransaction() error = %v", err)
		}
		if got.SessionID != "default" || got.Kind != tb.TxSync || got.Status != tb.TxApplied {
			t.Errorf("header = %+v", got)
		}
		if !got.CreatedAt.Equal(created) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
		}
		if !got.FinishedAt.IsZero() {
			t.Errorf("FinishedAt = %v, want zero", got.FinishedAt)
		}
		if len(got.Ops) != 2 {
			t.Fatalf("len(Ops) = %d, want 2", len(got.Ops))
		}
		del, create := got.Ops[0], got.Ops[1]
		if del.Type != tb.OpDelete || del.RemoteID != "r-2" || del.After != nil {
			t.Errorf("Ops[0] = %+v", del)
		}
		if del.Before == nil || !del.Before.Equal(*tx.Ops[0].Before) {
			t.Errorf("Ops[0].Before = %+v", del.Before)
		}
		if create.Type != tb.OpCreate || create.Status != tb.OpPending || create.Before != nil {
			t.Errorf("Ops[1] = %+v", create)
		}
		if create.After == nil || !create.After.Equal(*tx.Ops[1].After) {
			t.Errorf("Ops[1].After = %+v", create.After)
		}
		if len(got.Divergences) != 1 || !got.Divergences[0].Dropped || got.Divergences[0].Kind != tb.DivergenceModified {
			t.Errorf("Divergences = %+v", got.Divergences)
		}
	})

	t.Run("saving again replaces status and ops", func(t *testing.T) {
		log := newTestLog(t, nil)

		tx := newTx("tx-1", "default")
		tx.Status = tb.TxPending
		if err := log.SaveTransaction(tx); err != nil {
			t.Fatalf("SaveTransaction() error = %v", err)
		}
		seq := tx.Seq

		tx.Ops[1].Status = tb.OpApplied
		tx.Ops[1].RemoteID = "r-1"
		tx.Ops = append(tx.Ops, tb.SyncOp{
			Type:    tb.OpCreate,
			LocalID: "fftb0004",
			After:   payload("fftb0004", "Read", at(20, 0), at(21, 0)),
			Status:  tb.OpFailed,
			Error:   "quota exceeded",
		})
		tx.Status = tb.TxPartiallyApplied
		tx.FinishedAt = created.Add(time.Minute)
		if err := log.SaveTransaction(tx); err != nil {
			t.Fatalf("SaveTransaction() error = %v", err)
		}
		if tx.Seq != seq {
			t.Errorf("Seq changed on update: %d -> %d", seq, tx.Seq)
		}

		got, _ := log.GetTransaction("tx-1")
		if got.Status != tb.TxPartiallyApplied {
			t.Errorf("Status = %s, want %s", got.Status, tb.TxPartiallyApplied)
		}
		if !got.FinishedAt.Equal(tx.FinishedAt) {
			t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, tx.FinishedAt)
		}
		if len(got.Ops) != 3 {
			t.Fatalf("len(Ops) = %d, want 3", len(got.Ops))
		}
		if got.Ops[1].RemoteID != "r-1" || got.Ops[1].Status != tb.OpApplied {
			t.Errorf("Ops[1] = %+v", got.Ops[1])
		}
		if got.Ops[2].Error != "quota exceeded" {
			t.Errorf("Ops[2].Error = %q", got.Ops[2].Error)
		}
	})
}

func TestSQLiteLog_ListTransactions(t *testing.T) {
	log := newTestLog(t, nil)

	for _, tx := range []*tb.SyncTransaction{
		newTx("a-1", "a"),
		newTx("b-1", "b"),
		newTx("a-2", "a"),
		newTx("a-3", "a"),
	} {
		if err := log.SaveTransaction(tx); err != nil {
			t.Fatalf("SaveTransaction(%s) error = %v", tx.ID, err)
		}
	}

	ids := func(txs []*tb.SyncTransaction) []string {
		var out []string
		for _, tx := range txs {
			out = append(out, tx.ID)
		}
		return out
	}

	tests := []struct {
		name    string
		session string
		limit   int
		want    []string
	}{
		{name: "session newest first", session: "a", want: []string{"a-3", "a-2", "a-1"}},
		{name: "limit", session: "a", limit: 2, want: []string{"a-3", "a-2"}},
		{name: "all sessions", want: []string{"a-3", "a-2", "b-1", "a-1"}},
		{name: "unknown session", session: "c", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs, err := log.ListTransactions(tt.session, tt.limit)
			if err != nil {
				t.Fatalf("ListTransactions() error = %v", err)
			}
			got := ids(txs)
			if len(got) != len(tt.want) {
				t.Fatalf("ListTransactions() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ListTransactions() = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}

	t.Run("ops are loaded", func(t *testing.T) {
		txs, _ := log.ListTransactions("b", 1)
		if len(txs) != 1 || len(txs[0].Ops) != 2 || txs[0].Ops[0].Before == nil {
			t.Errorf("ListTransactions() = %+v", txs)
		}
	})
}

func TestSQLiteLog_MaxSequence(t *testing.T) {
	log := newTestLog(t, nil)

	seq, err := log.MaxSequence()
	if err != nil {
		t.Fatalf("MaxSequence() error = %v", err)
	}
	if seq != 0 {
		t.Errorf("MaxSequence() = %d, want 0", seq)
	}

	log.SaveTransaction(newTx("tx-1", "default"))
	tx2 := newTx("tx-2", "default")
	log.SaveTransaction(tx2)

	seq, err = log.MaxSequence()
	if err != nil {
		t.Fatalf("MaxSequence() error = %v", err)
	}
	if seq != tx2.Seq {
		t.Errorf("MaxSequence() = %d, want %d", seq, tx2.Seq)
	}
}

func TestSQLiteLog_SessionState(t *testing.T) {
	t.Run("returns nil when session not found", func(t *testing.T) {
		log := newTestLog(t, nil)

		st, err := log.LoadSessionState("default")
		if err != nil {
			t.Fatalf("LoadSessionState() error = %v", err)
		}
		if st != nil {
			t.Errorf("LoadSessionState() = %+v, want nil", st)
		}
	})

	t.Run("round trips plans and id map", func(t *testing.T) {
		log := newTestLog(t, nil)

		base := model.NewPlan("2025-03-10", "UTC")
		base.Events = append(base.Events,
			model.Event{
				ID:      "r-standup",
				Type:    model.EventTypeMeeting,
				Timing:  model.FixedWindow{Start: at(9, 0), End: at(9, 15)},
				Foreign: true,
			},
			model.Event{
				ID:     model.DeriveEventID("2025-03-10", "Write report", at(9, 30), 1),
				Type:   model.EventTypeDeepWork,
				Name:   "Write report",
				Timing: model.FixedWindow{Start: at(9, 30), End: at(11, 0)},
			},
		)
		current := base.Clone()
		current.Events = append(current.Events, model.Event{
			ID:     model.DeriveEventID("2025-03-10", "Walk", at(11, 0), 2),
			Type:   model.EventTypeRecovery,
			Name:   "Walk",
			Timing: model.AfterPrevious{DurationMinutes: 20},
		})

		want := &tb.SessionState{
			SessionID:  "default",
			CalendarID: "primary",
			Base:       &base,
			Current:    &current,
			IDMap:      map[string]string{base.Events[1].ID: "r-1"},
			LastTxID:   "tx-1",
			LastTxDate: "2025-03-10",
			UpdatedAt:  created,
		}
		if err := log.SaveSessionState(want); err != nil {
			t.Fatalf("SaveSessionState() error = %v", err)
		}

		got, err := log.LoadSessionState("default")
		if err != nil {
			t.Fatalf("LoadSessionState() error = %v", err)
		}
		if got.CalendarID != "primary" || got.LastTxID != "tx-1" || got.LastTxDate != "2025-03-10" || !got.UpdatedAt.Equal(created) {
			t.Errorf("state = %+v", got)
		}
		if got.IDMap[base.Events[1].ID] != "r-1" {
			t.Errorf("IDMap = %v", got.IDMap)
		}
		if got.Base == nil || len(got.Base.Events) != 2 {
			t.Fatalf("Base = %+v", got.Base)
		}
		if !got.Base.Events[0].Foreign || got.Base.Events[0].Name != "" {
			t.Errorf("foreign event = %+v", got.Base.Events[0])
		}
		if got.Current == nil || len(got.Current.Events) != 3 {
			t.Fatalf("Current = %+v", got.Current)
		}
		walk := got.Current.Events[2]
		if walk.Timing != (model.AfterPrevious{DurationMinutes: 20}) {
			t.Errorf("Timing = %#v", walk.Timing)
		}
		if walk.ID != current.Events[2].ID {
			t.Errorf("ID = %q, want %q", walk.ID, current.Events[2].ID)
		}
	})

	t.Run("saving again replaces state", func(t *testing.T) {
		log := newTestLog(t, nil)

		plan := model.NewPlan("2025-03-10", "UTC")
		log.SaveSessionState(&tb.SessionState{SessionID: "default", CalendarID: "primary", Base: &plan, LastTxID: "tx-1", UpdatedAt: created})
		if err := log.SaveSessionState(&tb.SessionState{SessionID: "default", CalendarID: "primary", LastTxID: "tx-2", UpdatedAt: created}); err != nil {
			t.Fatalf("SaveSessionState() error = %v", err)
		}

		got, _ := log.LoadSessionState("default")
		if got.LastTxID != "tx-2" || got.Base != nil || got.Current != nil {
			t.Errorf("state = %+v", got)
		}
		if got.IDMap == nil || len(got.IDMap) != 0 {
			t.Errorf("IDMap = %v, want empty map", got.IDMap)
		}
	})
}

func TestSQLiteLog_SealedPayloads(t *testing.T) {
	enc := encryption.NewTestEncryptor()
	if err := enc.Setup("secret"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	log := newTestLog(t, enc)

	tx := newTx("tx-1", "default")
	tx.Divergences = []tb.Divergence{{LocalID: "fftb0003", Kind: tb.DivergenceDeleted}}
	if err := log.SaveTransaction(tx); err != nil {
		t.Fatalf("SaveTransaction() error = %v", err)
	}

	var raw []byte
	if err := log.db.QueryRow("SELECT payload FROM sync_ops WHERE transaction_id = ? AND position = 0", "tx-1").Scan(&raw); err != nil {
		t.Fatalf("reading raw payload: %v", err)
	}
	if string(raw[:6]) != "TBSEAL" {
		t.Errorf("stored payload is not sealed: %q", raw)
	}

	t.Run("get refuses while locked", func(t *testing.T) {
		_, err := log.GetTransaction("tx-1")
		if !errors.Is(err, tb.ErrPayloadLocked) {
			t.Errorf("GetTransaction() error = %v, want ErrPayloadLocked", err)
		}
	})

	t.Run("list omits payloads while locked", func(t *testing.T) {
		txs, err := log.ListTransactions("default", 0)
		if err != nil {
			t.Fatalf("ListTransactions() error = %v", err)
		}
		if len(txs) != 1 || len(txs[0].Ops) != 2 {
			t.Fatalf("ListTransactions() = %+v", txs)
		}
		if txs[0].Ops[0].Before != nil || txs[0].Divergences != nil {
			t.Errorf("locked list exposed payloads: %+v", txs[0])
		}
		if txs[0].Ops[0].RemoteID != "r-2" {
			t.Errorf("RemoteID = %q, want r-2", txs[0].Ops[0].RemoteID)
		}
	})

	t.Run("unlocked log opens payloads", func(t *testing.T) {
		dec, err := enc.Unlock("secret")
		if err != nil {
			t.Fatalf("Unlock() error = %v", err)
		}
		log.Unlock(dec)

		got, err := log.GetTransaction("tx-1")
		if err != nil {
			t.Fatalf("GetTransaction() error = %v", err)
		}
		if got.Ops[0].Before == nil || got.Ops[0].Before.Title != "Old block" {
			t.Errorf("Ops[0].Before = %+v", got.Ops[0].Before)
		}
		if len(got.Divergences) != 1 || got.Divergences[0].Kind != tb.DivergenceDeleted {
			t.Errorf("Divergences = %+v", got.Divergences)
		}
	})
}

func TestSQLiteLog_SealedSessionState(t *testing.T) {
	keys := t.TempDir()
	enc := encryption.NewAgeEncryptor(config.EncryptionConfig{
		Type:           "age",
		PublicKeyPath:  filepath.Join(keys, "tb.pub"),
		PrivateKeyPath: filepath.Join(keys, "tb.key"),
	})
	if err := enc.Setup("secret"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	log := newTestLog(t, enc)

	base := model.NewPlan("2025-03-10", "UTC")
	base.Events = append(base.Events, model.Event{
		ID:     model.DeriveEventID("2025-03-10", "Therapy appointment", at(15, 0), 0),
		Type:   model.EventTypeRecovery,
		Name:   "Therapy appointment",
		Timing: model.FixedWindow{Start: at(15, 0), End: at(16, 0)},
	})
	state := &tb.SessionState{
		SessionID:  "default",
		CalendarID: "primary",
		Base:       &base,
		Current:    &base,
		IDMap:      map[string]string{base.Events[0].ID: "r-1"},
		LastTxID:   "tx-1",
		LastTxDate: "2025-03-10",
		UpdatedAt:  created,
	}
	if err := log.SaveSessionState(state); err != nil {
		t.Fatalf("SaveSessionState() error = %v", err)
	}

	var rawBase, rawCurrent []byte
	if err := log.db.QueryRow("SELECT base_plan, current_plan FROM session_state WHERE session_id = ?", "default").Scan(&rawBase, &rawCurrent); err != nil {
		t.Fatalf("reading raw plans: %v", err)
	}
	for _, raw := range [][]byte{rawBase, rawCurrent} {
		if strings.Contains(string(raw), "Therapy") {
			t.Errorf("stored plan leaks event names: %q", raw)
		}
		if !strings.HasPrefix(string(raw), "age-encryption.org/") {
			t.Errorf("stored plan is not sealed: %q", raw)
		}
	}

	if _, err := log.LoadSessionState("default"); !errors.Is(err, tb.ErrPayloadLocked) {
		t.Fatalf("LoadSessionState() while locked error = %v, want ErrPayloadLocked", err)
	}

	dec, err := enc.Unlock("secret")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	log.Unlock(dec)

	got, err := log.LoadSessionState("default")
	if err != nil {
		t.Fatalf("LoadSessionState() error = %v", err)
	}
	if got.Base == nil || len(got.Base.Events) != 1 || got.Base.Events[0].Name != "Therapy appointment" {
		t.Errorf("Base = %+v", got.Base)
	}
	if got.Current == nil || got.Current.Date != "2025-03-10" {
		t.Errorf("Current = %+v", got.Current)
	}
	if got.IDMap[base.Events[0].ID] != "r-1" || got.LastTxDate != "2025-03-10" {
		t.Errorf("state = %+v", got)
	}
}

func TestSQLiteLog_BackupTo(t *testing.T) {
	log := newTestLog(t, nil)
	log.SaveTransaction(newTx("tx-1", "default"))

	destPath := filepath.Join(t.TempDir(), "backup.db")
	if err := log.BackupTo(destPath); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	// Open the backup and verify it has the data
	backup, err := NewSQLiteLog(destPath, nil)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer backup.Close()

	tx, err := backup.GetTransaction("tx-1")
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if tx == nil || len(tx.Ops) != 2 {
		t.Errorf("backup does not contain the transaction: %+v", tx)
	}
}

func TestSQLiteLog_CheckMigrations(t *testing.T) {
	t.Run("passes after open", func(t *testing.T) {
		log := newTestLog(t, nil)
		if err := log.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("fails on DB without migrations applied", func(t *testing.T) {
		db, err := OpenConnection(":memory:")
		if err != nil {
			t.Fatalf("OpenConnection() error = %v", err)
		}
		log := &SQLiteLog{db: db, path: ":memory:"}
		defer log.Close()

		// DB has no schema at all, so this should fail
		if err := log.CheckMigrations(); err == nil {
			t.Error("CheckMigrations() expected error for missing schema")
		}
	})
}
