package database

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tbsync/internal/database/migrations"
	"tbsync/internal/model"
	"tbsync/internal/tb"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteLog implements tb.TransactionLog using SQLite.
//
// When an encryptor is configured the before/after payloads of every op and
// the divergence reports are sealed with it. Sealed transactions can be
// listed without unlocking, but their payloads stay nil until Unlock has
// been called, and GetTransaction refuses to return them.
type SQLiteLog struct {
	db        *sql.DB
	path      string
	encryptor tb.Encryptor
	decrypt   tb.DecryptionContext
}

// NewSQLiteLog opens the log at path and brings its schema up to date.
// path can be a file path or ":memory:" for an in-memory log. encryptor may
// be nil.
func NewSQLiteLog(path string, encryptor tb.Encryptor) (*SQLiteLog, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating transaction log: %w", err)
	}
	return &SQLiteLog{db: db, path: path, encryptor: encryptor}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ":memory:" databases exist per connection.
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// Unlock supplies the key used to open sealed payloads.
func (s *SQLiteLog) Unlock(dec tb.DecryptionContext) {
	s.decrypt = dec
}

// opPayload is the stored form of an op's before/after states.
type opPayload struct {
	Before *tb.EventPayload `json:"before,omitempty"`
	After  *tb.EventPayload `json:"after,omitempty"`
}

// Transaction operations

func (s *SQLiteLog) SaveTransaction(tx *tb.SyncTransaction) error {
	ctx := context.Background()
	sealed := s.encryptor != nil

	divergences, err := s.seal(tx.Divergences)
	if err != nil {
		return fmt.Errorf("encoding divergences: %w", err)
	}
	payloads := make([][]byte, len(tx.Ops))
	for i, op := range tx.Ops {
		payloads[i], err = s.seal(opPayload{Before: op.Before, After: op.After})
		if err != nil {
			return fmt.Errorf("encoding op %d: %w", i, err)
		}
	}

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer dbtx.Rollback()

	var seq int64
	err = dbtx.QueryRowContext(ctx, "SELECT seq FROM sync_transactions WHERE id = ?", tx.ID).Scan(&seq)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := dbtx.ExecContext(ctx, `
			INSERT INTO sync_transactions (id, session_id, kind, undoes_id, status, divergences, sealed, created_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tx.ID, tx.SessionID, string(tx.Kind), tx.UndoesID, string(tx.Status), divergences, sealed,
			tx.CreatedAt.UTC(), nullTime(tx.FinishedAt))
		if err != nil {
			return fmt.Errorf("inserting transaction: %w", err)
		}
		if seq, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("reading transaction sequence: %w", err)
		}
	case err != nil:
		return fmt.Errorf("finding transaction: %w", err)
	default:
		if _, err := dbtx.ExecContext(ctx, `
			UPDATE sync_transactions SET status = ?, divergences = ?, sealed = ?, finished_at = ?
			WHERE id = ?`,
			string(tx.Status), divergences, sealed, nullTime(tx.FinishedAt), tx.ID); err != nil {
			return fmt.Errorf("updating transaction: %w", err)
		}
		if _, err := dbtx.ExecContext(ctx, "DELETE FROM sync_ops WHERE transaction_id = ?", tx.ID); err != nil {
			return fmt.Errorf("clearing ops: %w", err)
		}
	}

	for i, op := range tx.Ops {
		if _, err := dbtx.ExecContext(ctx, `
			INSERT INTO sync_ops (transaction_id, position, op_type, local_id, remote_id, status, error, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			tx.ID, i, string(op.Type), op.LocalID, op.RemoteID, string(op.Status), op.Error, payloads[i]); err != nil {
			return fmt.Errorf("inserting op %d: %w", i, err)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	tx.Seq = seq
	return nil
}

func (s *SQLiteLog) GetTransaction(id string) (*tb.SyncTransaction, error) {
	row := s.db.QueryRow(`
		SELECT seq, id, session_id, kind, undoes_id, status, divergences, sealed, created_at, finished_at
		FROM sync_transactions WHERE id = ?`, id)
	tx, sealed, err := s.scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting transaction %s: %w", id, err)
	}
	if sealed && s.decrypt == nil {
		return nil, fmt.Errorf("transaction %s: %w", id, tb.ErrPayloadLocked)
	}
	if err := s.loadOps(tx, sealed); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *SQLiteLog) ListTransactions(sessionID string, limit int) ([]*tb.SyncTransaction, error) {
	query := `
		SELECT seq, id, session_id, kind, undoes_id, status, divergences, sealed, created_at, finished_at
		FROM sync_transactions`
	var args []any
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	if limit <= 0 {
		limit = -1 // no limit
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var (
		result []*tb.SyncTransaction
		sealed []bool
	)
	for rows.Next() {
		tx, isSealed, err := s.scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("listing transactions: %w", err)
		}
		result = append(result, tx)
		sealed = append(sealed, isSealed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	rows.Close()

	for i, tx := range result {
		if err := s.loadOps(tx, sealed[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *SQLiteLog) MaxSequence() (int64, error) {
	var seq int64
	if err := s.db.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM sync_transactions").Scan(&seq); err != nil {
		return 0, fmt.Errorf("getting max transaction sequence: %w", err)
	}
	return seq, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanTransaction reads a transaction row. Divergences are decoded only
// when they can be opened.
func (s *SQLiteLog) scanTransaction(row scanner) (*tb.SyncTransaction, bool, error) {
	var (
		tx          tb.SyncTransaction
		kind        string
		status      string
		divergences []byte
		sealed      bool
		finishedAt  sql.NullTime
	)
	if err := row.Scan(&tx.Seq, &tx.ID, &tx.SessionID, &kind, &tx.UndoesID, &status,
		&divergences, &sealed, &tx.CreatedAt, &finishedAt); err != nil {
		return nil, false, err
	}
	tx.Kind = tb.TxKind(kind)
	tx.Status = tb.TxStatus(status)
	if finishedAt.Valid {
		tx.FinishedAt = finishedAt.Time
	}
	if len(divergences) > 0 && (!sealed || s.decrypt != nil) {
		if err := s.open(divergences, sealed, &tx.Divergences); err != nil {
			return nil, false, fmt.Errorf("decoding divergences of %s: %w", tx.ID, err)
		}
	}
	return &tx, sealed, nil
}

// loadOps attaches the ops of tx. Payloads of sealed transactions are left
// nil while the log is locked.
func (s *SQLiteLog) loadOps(tx *tb.SyncTransaction, sealed bool) error {
	rows, err := s.db.Query(`
		SELECT op_type, local_id, remote_id, status, error, payload
		FROM sync_ops WHERE transaction_id = ? ORDER BY position`, tx.ID)
	if err != nil {
		return fmt.Errorf("loading ops of %s: %w", tx.ID, err)
	}
	defer rows.Close()

	tx.Ops = []tb.SyncOp{}
	for rows.Next() {
		var (
			op      tb.SyncOp
			opType  string
			status  string
			payload []byte
		)
		if err := rows.Scan(&opType, &op.LocalID, &op.RemoteID, &status, &op.Error, &payload); err != nil {
			return fmt.Errorf("loading ops of %s: %w", tx.ID, err)
		}
		op.Type = tb.OpType(opType)
		op.Status = tb.OpStatus(status)
		if !sealed || s.decrypt != nil {
			var p opPayload
			if err := s.open(payload, sealed, &p); err != nil {
				return fmt.Errorf("decoding op payload of %s: %w", tx.ID, err)
			}
			op.Before, op.After = p.Before, p.After
		}
		tx.Ops = append(tx.Ops, op)
	}
	return rows.Err()
}

// seal encodes v as JSON, encrypting it when an encryptor is configured.
func (s *SQLiteLog) seal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if s.encryptor == nil {
		return data, nil
	}
	var buf bytes.Buffer
	if err := s.encryptor.Encrypt(bytes.NewReader(data), &buf); err != nil {
		return nil, fmt.Errorf("encrypting payload: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *SQLiteLog) open(data []byte, sealed bool, v any) error {
	if sealed {
		if s.decrypt == nil {
			return tb.ErrPayloadLocked
		}
		var buf bytes.Buffer
		if err := s.decrypt.Decrypt(bytes.NewReader(data), &buf); err != nil {
			return fmt.Errorf("decrypting payload: %w", err)
		}
		data = buf.Bytes()
	}
	return json.Unmarshal(data, v)
}

// Session state operations

// SaveSessionState replaces the stored state of a session. The base and
// current plans are sealed like op payloads.
func (s *SQLiteLog) SaveSessionState(state *tb.SessionState) error {
	base, err := s.sealPlan(state.Base)
	if err != nil {
		return fmt.Errorf("encoding base plan: %w", err)
	}
	current, err := s.sealPlan(state.Current)
	if err != nil {
		return fmt.Errorf("encoding current plan: %w", err)
	}
	idMap := state.IDMap
	if idMap == nil {
		idMap = map[string]string{}
	}
	ids, err := json.Marshal(idMap)
	if err != nil {
		return fmt.Errorf("encoding id map: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO session_state (session_id, calendar_id, base_plan, current_plan, sealed, id_map, last_tx_id, last_tx_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			calendar_id = excluded.calendar_id,
			base_plan = excluded.base_plan,
			current_plan = excluded.current_plan,
			sealed = excluded.sealed,
			id_map = excluded.id_map,
			last_tx_id = excluded.last_tx_id,
			last_tx_date = excluded.last_tx_date,
			updated_at = excluded.updated_at`,
		state.SessionID, state.CalendarID, nullBlob(base), nullBlob(current), s.encryptor != nil,
		string(ids), state.LastTxID, state.LastTxDate, state.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving session state: %w", err)
	}
	return nil
}

// LoadSessionState returns the stored state of a session, or nil. A state
// saved with an encryptor fails with tb.ErrPayloadLocked until Unlock.
func (s *SQLiteLog) LoadSessionState(sessionID string) (*tb.SessionState, error) {
	var (
		st            tb.SessionState
		base, current []byte
		sealed        bool
		ids           string
	)
	err := s.db.QueryRow(`
		SELECT session_id, calendar_id, base_plan, current_plan, sealed, id_map, last_tx_id, last_tx_date, updated_at
		FROM session_state WHERE session_id = ?`, sessionID).
		Scan(&st.SessionID, &st.CalendarID, &base, &current, &sealed, &ids, &st.LastTxID, &st.LastTxDate, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("loading session state: %w", err)
	}
	if st.Base, err = s.openPlan(base, sealed); err != nil {
		return nil, fmt.Errorf("decoding base plan: %w", err)
	}
	if st.Current, err = s.openPlan(current, sealed); err != nil {
		return nil, fmt.Errorf("decoding current plan: %w", err)
	}
	if err := json.Unmarshal([]byte(ids), &st.IDMap); err != nil {
		return nil, fmt.Errorf("decoding id map: %w", err)
	}
	return &st, nil
}

// sealPlan encodes p as a plan document. A nil plan is stored as NULL.
func (s *SQLiteLog) sealPlan(p *model.Plan) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return s.seal(model.DocumentFromPlan(*p))
}

func nullBlob(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

func (s *SQLiteLog) openPlan(data []byte, sealed bool) (*model.Plan, error) {
	if data == nil {
		return nil, nil
	}
	var doc model.PlanDocument
	if err := s.open(data, sealed, &doc); err != nil {
		return nil, err
	}
	p, err := doc.Plan()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteLog) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteLog) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteLog) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteLog) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteLog implements tb.TransactionLog interface
var _ tb.TransactionLog = (*SQLiteLog)(nil)
