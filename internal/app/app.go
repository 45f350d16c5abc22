package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tbsync/internal/calendar"
	"tbsync/internal/config"
	"tbsync/internal/database"
	"tbsync/internal/encryption"
	"tbsync/internal/generator"
	"tbsync/internal/model"
	"tbsync/internal/repair"
	"tbsync/internal/tb"
	"tbsync/internal/telemetry"
	"tbsync/internal/vault"
)

// snapshotName is the vault object holding the archived transaction log.
const snapshotName = "txlog"

// ErrLogBehindVault means the vault holds a newer archive of the
// transaction log than the local one.
var ErrLogBehindVault = errors.New("local transaction log is behind vault")

// TBApp is the application layer between the CLI and the sync session.
// It constructs all dependencies from config, exposes high-level operations
// and archives the transaction log on Close.
type TBApp struct {
	cfg       *config.Config
	txlog     *database.SQLiteLog
	vault     tb.Vault
	calendar  tb.CalendarClient
	encryptor tb.Encryptor
	session   *tb.Session
	logger    tb.Logger
	clock     tb.Clock
	op        *Operation
	logFile   *os.File
	shutdown  func(context.Context) error
}

// NewTBApp creates a fully wired TBApp from the given config.
// operation identifies the CLI command being run (e.g. "Submit", "Undo").
// The caller must call Close when done.
func NewTBApp(ctx context.Context, cfg *config.Config, operation string) (*TBApp, error) {
	if len(cfg.Vaults) == 0 {
		return nil, fmt.Errorf("no vaults configured")
	}
	v, err := vault.NewVaultFromConfig(cfg.Vaults[0])
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	txlog, err := database.NewLogFromConfig(cfg.Database, cfg.HostID, enc)
	if err != nil {
		return nil, fmt.Errorf("opening transaction log: %w", err)
	}

	if err := txlog.CheckMigrations(); err != nil {
		txlog.Close()
		return nil, fmt.Errorf("transaction log schema out of date: %w", err)
	}

	// Check local log version against the vault archive.
	remoteVersion, err := v.SnapshotVersion(cfg.HostID, snapshotName)
	if err != nil {
		txlog.Close()
		return nil, fmt.Errorf("checking archived log version: %w", err)
	}
	localMax, err := txlog.MaxSequence()
	if err != nil {
		txlog.Close()
		return nil, fmt.Errorf("checking local log version: %w", err)
	}
	if remoteVersion > localMax {
		txlog.Close()
		return nil, fmt.Errorf("%w (local=%d, vault=%d): run `tb log restore`", ErrLogBehindVault, localMax, remoteVersion)
	}

	clock := tb.RealClock{}
	op := NewOperation(operation, "", clock.Now())
	slogger, logFile, err := newLogger(cfg.LogDir, op.ID, cfg.LogLevel)
	if err != nil {
		txlog.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	cal, err := calendar.NewCalendarFromConfig(cfg.Calendar, clock, logger)
	if err != nil {
		shutdown(ctx)
		logFile.Close()
		txlog.Close()
		return nil, fmt.Errorf("creating calendar client: %w", err)
	}

	session := tb.NewSession(cfg.SessionID, cfg.Calendar.ID, cal, txlog, logger, clock, tb.UUIDGenerator{},
		tb.WithBestEffort(cfg.Sync.BestEffort))

	return &TBApp{
		cfg:       cfg,
		txlog:     txlog,
		vault:     v,
		calendar:  cal,
		encryptor: enc,
		session:   session,
		logger:    logger,
		clock:     clock,
		op:        op,
		logFile:   logFile,
		shutdown:  shutdown,
	}, nil
}

// Today returns the current date in the configured timezone.
func (a *TBApp) Today() (string, error) {
	loc, err := model.Plan{Timezone: a.cfg.Timezone}.Location()
	if err != nil {
		return "", err
	}
	return a.clock.Now().In(loc).Format(model.DateLayout), nil
}

// LoadPlan reads a plan document. A document without a timezone uses the
// configured one.
func (a *TBApp) LoadPlan(path string) (model.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Plan{}, fmt.Errorf("reading plan: %w", err)
	}
	var doc model.PlanDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return model.Plan{}, fmt.Errorf("decoding plan document: %w", err)
	}
	if doc.Timezone == "" {
		doc.Timezone = a.cfg.Timezone
	}
	return doc.Plan()
}

// Fetch returns the remote calendar for date.
func (a *TBApp) Fetch(ctx context.Context, date string) (model.Plan, error) {
	plan, _, err := a.session.Fetch(ctx, date, a.cfg.Timezone)
	return plan, err
}

// Plan returns the plan currently being edited for date.
func (a *TBApp) Plan(ctx context.Context, date string) (model.Plan, error) {
	return a.session.Plan(ctx, date, a.cfg.Timezone)
}

// Diff returns the ops a submit of desired would execute.
func (a *TBApp) Diff(ctx context.Context, desired model.Plan) ([]tb.SyncOp, []tb.Divergence, error) {
	return a.session.Diff(ctx, desired)
}

// Submit syncs desired to the calendar.
func (a *TBApp) Submit(ctx context.Context, desired model.Plan) (*tb.SyncTransaction, error) {
	a.op.Parameters = desired.Date
	a.op.MarkMutating()
	tx, err := a.session.SubmitPlan(ctx, desired)
	if err != nil || tx.Err() != nil {
		a.op.Fail()
	}
	return tx, err
}

// NeedsUnlock reports whether the log seals payloads and session plans, so
// anything that reads session state has to Unlock first.
func (a *TBApp) NeedsUnlock() bool {
	return a.encryptor != nil
}

// Unlock opens the private key so sealed payloads can be read.
func (a *TBApp) Unlock(passphrase string) error {
	if a.encryptor == nil {
		return nil
	}
	dec, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking payloads: %w", err)
	}
	a.txlog.Unlock(dec)
	return nil
}

// Undo inverts the last submitted transaction.
func (a *TBApp) Undo(ctx context.Context) (*tb.SyncTransaction, error) {
	a.op.MarkMutating()
	undo, err := a.session.UndoLast(ctx)
	if err != nil || undo.Err() != nil {
		a.op.Fail()
	}
	return undo, err
}

// LastTransaction returns the transaction Undo would invert, or nil.
func (a *TBApp) LastTransaction() (*tb.SyncTransaction, error) {
	return a.session.LastTransaction()
}

// Patch runs the repair loop over the plan for date and stores the accepted
// result as the current plan. patchFiles feed the file generator.
func (a *TBApp) Patch(ctx context.Context, date string, patchFiles []string, feedback string) (model.Plan, error) {
	gen, err := generator.NewGeneratorFromConfig(a.cfg.Generator, patchFiles)
	if err != nil {
		return model.Plan{}, fmt.Errorf("creating generator: %w", err)
	}

	prefetch := a.newPrefetcher()
	if err := prefetch.Refresh(ctx, date); err != nil {
		a.logger.Warn("constraint context unavailable", "date", date, "error", err)
	}
	loop := repair.NewLoop(gen,
		repair.WithMaxAttempts(a.cfg.Sync.MaxRepairAttempts),
		repair.WithConstraints(prefetch),
		repair.WithLogger(a.logger),
	)

	a.op.Parameters = date
	a.op.MarkMutating()
	next, err := a.session.ProposeEdit(ctx, loop, date, a.cfg.Timezone, feedback)
	if err != nil {
		a.op.Fail()
		return model.Plan{}, err
	}
	return next, nil
}

// History returns the most recent transactions of the configured session.
func (a *TBApp) History(limit int) ([]*tb.SyncTransaction, error) {
	return a.txlog.ListTransactions(a.cfg.SessionID, limit)
}

func (a *TBApp) newPrefetcher() *tb.Prefetcher {
	timeout := time.Duration(a.cfg.Sync.FetchTimeoutSeconds) * time.Second
	return tb.NewPrefetcher(a.calendar, a.cfg.Calendar.ID, a.cfg.Timezone,
		tb.StaticConstraints(a.cfg.Sync.Constraints), timeout, a.logger, a.clock)
}

// Close finalizes the operation and closes all resources.
// For mutating operations the log is snapshotted and uploaded to the vault
// with the highest transaction sequence as its version.
func (a *TBApp) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	a.logger.Info("command finished", "command", a.op.Name, "parameters", a.op.Parameters, "status", a.op.Status)

	if a.op.Mutating() {
		keep(a.archive())
	}
	if err := a.txlog.Close(); err != nil {
		keep(fmt.Errorf("closing transaction log: %w", err))
	}

	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdown(ctx); err != nil {
			a.logger.Warn("flushing traces", "error", err)
		}
		cancel()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// archive snapshots the log to a temp file and uploads it.
func (a *TBApp) archive() error {
	version, err := a.txlog.MaxSequence()
	if err != nil {
		return fmt.Errorf("reading log version: %w", err)
	}

	tmpFile, err := os.CreateTemp("", "tb-log-backup-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file for log backup: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	// VACUUM INTO refuses to overwrite an existing file.
	os.Remove(tmpPath)
	if err := a.txlog.BackupTo(tmpPath); err != nil {
		return fmt.Errorf("backing up transaction log: %w", err)
	}
	return uploadSnapshot(a.vault, a.cfg.HostID, tmpPath, version)
}

// uploadSnapshot opens the backup file and uploads it to the vault.
func uploadSnapshot(v tb.Vault, hostID, path string, version int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening log backup for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat log backup: %w", err)
	}

	if err := v.PutSnapshot(hostID, snapshotName, f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading log to vault: %w", err)
	}
	return nil
}
