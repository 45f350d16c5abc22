package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tbsync/internal/config"
	"tbsync/internal/tb"
	"tbsync/internal/testutil"
	"tbsync/internal/vault"
)

const testPlan = `date: 2025-03-10
events:
  - type: deep_work
    name: Write report
    timing: {kind: fixed_window, start: "09:00", end: "10:30"}
  - type: buffer
    name: Break
    timing: {kind: after_previous, offset_minutes: 0, duration_minutes: 15}
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig("host-1", t.TempDir())
	cfg.Timezone = "UTC"
	return cfg
}

func openApp(t *testing.T, cfg *config.Config, operation string) *TBApp {
	t.Helper()
	a, err := NewTBApp(context.Background(), cfg, operation)
	if err != nil {
		t.Fatalf("NewTBApp() error = %v", err)
	}
	return a
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func archivedVersion(t *testing.T, cfg *config.Config) int64 {
	t.Helper()
	v, err := vault.NewFileSystemVault("local", cfg.Vaults[0].FSVaultRoot)
	if err != nil {
		t.Fatal(err)
	}
	version, err := v.SnapshotVersion(cfg.HostID, snapshotName)
	if err != nil {
		t.Fatal(err)
	}
	return version
}

func submitTestPlan(t *testing.T, cfg *config.Config) {
	t.Helper()
	a := openApp(t, cfg, "Submit")
	plan, err := a.LoadPlan(writeFile(t, "plan.yaml", testPlan))
	if err != nil {
		t.Fatalf("LoadPlan() error = %v", err)
	}
	tx, err := a.Submit(context.Background(), plan)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if tx.Status != tb.TxApplied || len(tx.Ops) != 2 {
		t.Fatalf("Submit() = status %s with %d ops", tx.Status, len(tx.Ops))
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestTBApp_LoadPlanUsesConfiguredTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Timezone = "Asia/Seoul"
	a := openApp(t, cfg, "Diff")
	defer a.Close()

	plan, err := a.LoadPlan(writeFile(t, "plan.yaml", testPlan))
	if err != nil {
		t.Fatalf("LoadPlan() error = %v", err)
	}
	if plan.Timezone != "Asia/Seoul" {
		t.Errorf("Timezone = %q, want Asia/Seoul", plan.Timezone)
	}
	start, _, ok := plan.Events[0].Window()
	if !ok || start.UTC().Hour() != 0 {
		t.Errorf("start = %v, want 09:00 KST", start)
	}
}

func TestTBApp_SubmitArchivesAndUndoAfterRestart(t *testing.T) {
	cfg := testConfig(t)
	submitTestPlan(t, cfg)

	first := archivedVersion(t, cfg)
	if first == 0 {
		t.Fatal("Close() after submit did not archive the log")
	}

	a := openApp(t, cfg, "Undo")
	remote, err := a.Fetch(context.Background(), "2025-03-10")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(remote.Events) != 2 {
		t.Fatalf("Fetch() returned %d events, want 2", len(remote.Events))
	}

	undo, err := a.Undo(context.Background())
	if err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	if undo.Kind != tb.TxUndo || undo.Count(tb.OpApplied) != 2 {
		t.Errorf("Undo() = kind %s, %d applied", undo.Kind, undo.Count(tb.OpApplied))
	}
	history, err := a.History(0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].ID != undo.ID {
		t.Errorf("History() = %d entries", len(history))
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := archivedVersion(t, cfg); got <= first {
		t.Errorf("archived version = %d, want > %d", got, first)
	}
}

func TestTBApp_ReadOnlyCommandsDoNotArchive(t *testing.T) {
	cfg := testConfig(t)
	a := openApp(t, cfg, "Diff")

	plan, err := a.LoadPlan(writeFile(t, "plan.yaml", testPlan))
	if err != nil {
		t.Fatal(err)
	}
	ops, _, err := a.Diff(context.Background(), plan)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if len(ops) != 2 || ops[0].Type != tb.OpCreate {
		t.Errorf("Diff() = %+v", ops)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := archivedVersion(t, cfg); got != 0 {
		t.Errorf("archived version = %d, want 0", got)
	}
}

func TestTBApp_StaleLogNeedsRestore(t *testing.T) {
	cfg := testConfig(t)
	submitTestPlan(t, cfg)

	// Simulate a lost local log.
	dbPath := filepath.Join(cfg.Database.DataDir, cfg.HostID+".db")
	if err := os.Remove(dbPath); err != nil {
		t.Fatal(err)
	}

	_, err := NewTBApp(context.Background(), cfg, "Undo")
	if !errors.Is(err, ErrLogBehindVault) {
		t.Fatalf("NewTBApp() error = %v, want ErrLogBehindVault", err)
	}

	version, err := RestoreLog(cfg)
	if err != nil {
		t.Fatalf("RestoreLog() error = %v", err)
	}
	if version != archivedVersion(t, cfg) {
		t.Errorf("RestoreLog() = %d, want %d", version, archivedVersion(t, cfg))
	}

	a := openApp(t, cfg, "Undo")
	defer a.Close()
	last, err := a.LastTransaction()
	if err != nil {
		t.Fatalf("LastTransaction() error = %v", err)
	}
	if !last.Undoable() {
		t.Errorf("restored last transaction = %+v, want undoable", last)
	}
}

func TestRestoreLog_Errors(t *testing.T) {
	t.Run("nothing archived", func(t *testing.T) {
		if _, err := RestoreLog(testConfig(t)); err == nil {
			t.Error("RestoreLog() error = nil")
		}
	})
	t.Run("memory database", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Database.Type = "memory"
		if _, err := RestoreLog(cfg); err == nil {
			t.Error("RestoreLog() error = nil")
		}
	})
}

func TestTBApp_Patch(t *testing.T) {
	cfg := testConfig(t)
	submitTestPlan(t, cfg)

	a := openApp(t, cfg, "Patch")
	defer a.Close()

	bad := writeFile(t, "1.yaml", "ops:\n  - op: remove_event\n    id: fftb_unknown\n")
	good := writeFile(t, "2.yaml", `ops:
  - op: add_events
    events:
      - {type: meeting, name: Review, timing: {kind: fixed_window, start: "14:00", end: "15:00"}}
`)
	plan, err := a.Patch(context.Background(), "2025-03-10", []string{bad, good}, "add a review")
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if len(plan.Events) != 3 {
		t.Fatalf("Patch() returned %d events, want 3", len(plan.Events))
	}
	if !a.op.Mutating() {
		t.Error("Patch() should mark the operation mutating")
	}

	current, err := a.Plan(context.Background(), "2025-03-10")
	if err != nil {
		t.Fatal(err)
	}
	ops, _, err := a.Diff(context.Background(), current)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Type != tb.OpCreate {
		t.Errorf("Diff(patched) = %+v, want one create", ops)
	}
}

func TestTBApp_PatchWithoutFiles(t *testing.T) {
	a := openApp(t, testConfig(t), "Patch")
	defer a.Close()

	if _, err := a.Patch(context.Background(), "2025-03-10", nil, ""); err == nil {
		t.Error("Patch() without patch files error = nil")
	}
}

func TestTBApp_Watch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.PrefetchSchedule = "@every 1h"
	cfg.Sync.PrefetchDays = 2
	a := openApp(t, cfg, "Watch")
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var reports []WatchReport
	err := a.Watch(ctx, func(r WatchReport) {
		reports = append(reports, r)
		if len(reports) == 2 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("Watch() reported %d dates, want 2", len(reports))
	}
	today, err := a.Today()
	if err != nil {
		t.Fatal(err)
	}
	if reports[0].Date != today || reports[0].Snapshot.Stale {
		t.Errorf("first report = %+v, want fresh snapshot of %s", reports[0], today)
	}
}

func TestTBApp_WatchRejectsBadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.PrefetchSchedule = "every now and then"
	a := openApp(t, cfg, "Watch")
	defer a.Close()

	if err := a.Watch(context.Background(), func(WatchReport) {}); err == nil {
		t.Error("Watch() with invalid schedule error = nil")
	}
}

func TestNewTBApp_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"no vaults", func(c *config.Config) { c.Vaults = nil }},
		{"unknown calendar", func(c *config.Config) { c.Calendar.Type = "caldav" }},
		{"unknown encryption", func(c *config.Config) { c.Encryption.Type = "rot13" }},
		{"unknown database", func(c *config.Config) { c.Database.Type = "postgres" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			if _, err := NewTBApp(context.Background(), cfg, "Fetch"); err == nil {
				t.Error("NewTBApp() error = nil")
			}
		})
	}
}

func TestTBApp_Unlock(t *testing.T) {
	cfg := testConfig(t)
	a := openApp(t, cfg, "Undo")
	if a.NeedsUnlock() {
		t.Error("NeedsUnlock() = true without encryption")
	}
	a.Close()

	cfg.Encryption.Type = "test"
	a = openApp(t, cfg, "Undo")
	defer a.Close()
	if !a.NeedsUnlock() {
		t.Error("NeedsUnlock() = false with encryption")
	}
	if err := a.Unlock(""); err != nil {
		t.Errorf("Unlock() error = %v", err)
	}
}

func TestUploadSnapshot(t *testing.T) {
	v := testutil.NewTestVault()
	path := writeFile(t, "backup.db", "sqlite bytes")

	if err := uploadSnapshot(v, "host-1", path, 7); err != nil {
		t.Fatalf("uploadSnapshot() error = %v", err)
	}
	if v.Puts() != 1 {
		t.Errorf("Puts() = %d, want 1", v.Puts())
	}
	if got, _ := v.SnapshotVersion("host-1", snapshotName); got != 7 {
		t.Errorf("SnapshotVersion() = %d, want 7", got)
	}

	if err := uploadSnapshot(v, "host-1", filepath.Join(t.TempDir(), "missing.db"), 8); err == nil {
		t.Error("uploadSnapshot(missing file) error = nil")
	}
}
