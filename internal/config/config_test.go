package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		HostID:    "test-host-abc",
		BaseDir:   "/home/user/.local/share/tb",
		LogDir:    "/home/user/.local/share/tb/log",
		SessionID: "work",
		Timezone:  "Europe/Berlin",
		Calendar:  CalendarConfig{Type: "ics", ID: "primary", ICSDir: "/cal"},
		Vaults: []VaultConfig{
			{Type: "s3", Name: "offsite", S3Bucket: "logs", S3Region: "eu-central-1"},
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/tb/db"},
		Sync: SyncConfig{
			BestEffort:        true,
			MaxRepairAttempts: 3,
			Constraints:       []string{"no meetings before 10:00", "lunch at noon"},
		},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.HostID != original.HostID {
		t.Errorf("HostID = %q, want %q", got.HostID, original.HostID)
	}
	if got.Timezone != "Europe/Berlin" {
		t.Errorf("Timezone = %q, want %q", got.Timezone, "Europe/Berlin")
	}
	if got.Calendar != original.Calendar {
		t.Errorf("Calendar = %+v, want %+v", got.Calendar, original.Calendar)
	}
	if len(got.Vaults) != 1 || got.Vaults[0].S3Bucket != "logs" {
		t.Fatalf("Vaults = %+v, want one s3 vault for bucket logs", got.Vaults)
	}
	if !got.Sync.BestEffort {
		t.Error("Sync.BestEffort = false, want true")
	}
	if got.Sync.MaxRepairAttempts != 3 {
		t.Errorf("Sync.MaxRepairAttempts = %d, want 3", got.Sync.MaxRepairAttempts)
	}
	if len(got.Sync.Constraints) != 2 {
		t.Fatalf("len(Sync.Constraints) = %d, want 2", len(got.Sync.Constraints))
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("host-1", "/data/tb")

	if cfg.HostID != "host-1" {
		t.Errorf("HostID = %q, want %q", cfg.HostID, "host-1")
	}
	if cfg.LogDir != "/data/tb/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/tb/log")
	}
	if cfg.Calendar.ICSDir != "/data/tb/calendars" {
		t.Errorf("Calendar.ICSDir = %q, want %q", cfg.Calendar.ICSDir, "/data/tb/calendars")
	}
	if cfg.Encryption.PublicKeyPath != "/data/tb/keys/tb.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q, want %q", cfg.Encryption.PublicKeyPath, "/data/tb/keys/tb.pub")
	}
	if cfg.Sync.MaxRepairAttempts != DefaultMaxRepairAttempts {
		t.Errorf("Sync.MaxRepairAttempts = %d, want %d", cfg.Sync.MaxRepairAttempts, DefaultMaxRepairAttempts)
	}
	if cfg.Sync.PrefetchSchedule != DefaultPrefetchSchedule {
		t.Errorf("Sync.PrefetchSchedule = %q, want %q", cfg.Sync.PrefetchSchedule, DefaultPrefetchSchedule)
	}
	if cfg.Generator.Type != "file" || cfg.Generator.TimeoutSeconds != DefaultGeneratorTimeout {
		t.Errorf("Generator = %+v, want file generator with default timeout", cfg.Generator)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TB_CALENDAR_ID", "work")
	t.Setenv("TB_BEST_EFFORT", "true")
	t.Setenv("TB_CONSTRAINTS", "focus mornings;no calls after 17:00")
	t.Setenv("TB_OTLP_ENDPOINT", "http://localhost:4318")

	cfg := NewConfig("h1", "/data/tb")
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Calendar.ID != "work" {
		t.Errorf("Calendar.ID = %q, want %q", cfg.Calendar.ID, "work")
	}
	if cfg.Calendar.Type != "ics" {
		t.Errorf("Calendar.Type = %q, want unchanged %q", cfg.Calendar.Type, "ics")
	}
	if !cfg.Sync.BestEffort {
		t.Error("Sync.BestEffort = false, want true")
	}
	if len(cfg.Sync.Constraints) != 2 || cfg.Sync.Constraints[1] != "no calls after 17:00" {
		t.Errorf("Sync.Constraints = %q", cfg.Sync.Constraints)
	}
	if cfg.Telemetry.OTLPEndpoint != "http://localhost:4318" {
		t.Errorf("Telemetry.OTLPEndpoint = %q", cfg.Telemetry.OTLPEndpoint)
	}
}

func TestApplyEnv_InvalidValue(t *testing.T) {
	t.Setenv("TB_MAX_REPAIR_ATTEMPTS", "lots")

	cfg := NewConfig("h1", "/data/tb")
	if err := cfg.ApplyEnv(); err == nil {
		t.Fatal("ApplyEnv() expected error for non-numeric value")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "tb.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "tb.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config and fills defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "tb.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}
		cfg.Sync = SyncConfig{}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.HostID != "read-test" {
			t.Errorf("HostID = %q, want %q", got.HostID, "read-test")
		}
		if got.Sync.FetchTimeoutSeconds != DefaultFetchTimeoutSeconds {
			t.Errorf("Sync.FetchTimeoutSeconds = %d, want %d", got.Sync.FetchTimeoutSeconds, DefaultFetchTimeoutSeconds)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/tb.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
