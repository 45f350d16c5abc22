package app

import (
	"os"
	"path/filepath"
	"testing"

	"tbsync/internal/config"
)

func TestGetDefaults(t *testing.T) {
	t.Run("tb variables win", func(t *testing.T) {
		t.Setenv("TB_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("TB_HOME", "/custom/tb")
		t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
		t.Setenv("XDG_DATA_HOME", "/xdg/data")

		d, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}
		if d.ConfigPath != "/custom/config.toml" || d.BaseDir != "/custom/tb" {
			t.Errorf("GetDefaults() = %+v", d)
		}
	})

	t.Run("xdg directories come next", func(t *testing.T) {
		t.Setenv("TB_CONFIG_PATH", "")
		t.Setenv("TB_HOME", "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
		t.Setenv("XDG_DATA_HOME", "/xdg/data")

		d, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}
		if d.ConfigPath != filepath.Join("/xdg/config", "tb.toml") {
			t.Errorf("ConfigPath = %q", d.ConfigPath)
		}
		if d.BaseDir != filepath.Join("/xdg/data", "tb") {
			t.Errorf("BaseDir = %q", d.BaseDir)
		}
	})

	t.Run("falls back to home dir", func(t *testing.T) {
		t.Setenv("TB_CONFIG_PATH", "")
		t.Setenv("TB_HOME", "")
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("XDG_DATA_HOME", "")

		d, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}
		homeDir, _ := os.UserHomeDir()
		if want := filepath.Join(homeDir, ".config", "tb.toml"); d.ConfigPath != want {
			t.Errorf("ConfigPath = %q, want %q", d.ConfigPath, want)
		}
		if want := filepath.Join(homeDir, ".local", "share", "tb"); d.BaseDir != want {
			t.Errorf("BaseDir = %q, want %q", d.BaseDir, want)
		}
	})
}

func TestDefaults_NewConfig(t *testing.T) {
	d := Defaults{ConfigPath: "/cfg/tb.toml", BaseDir: "/data/tb"}

	tests := []struct {
		tz   string
		want string
	}{
		{"Asia/Seoul", "Asia/Seoul"},
		{"Mars/Olympus", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run("TZ="+tt.tz, func(t *testing.T) {
			t.Setenv("TZ", tt.tz)
			cfg := d.NewConfig("host-1")
			if cfg.Timezone != tt.want {
				t.Errorf("Timezone = %q, want %q", cfg.Timezone, tt.want)
			}
			if cfg.HostID != "host-1" || cfg.Calendar.ICSDir != filepath.Join("/data/tb", "calendars") {
				t.Errorf("cfg = %+v", cfg)
			}
		})
	}
}

func TestDataDirs(t *testing.T) {
	base := t.TempDir()
	cfg := config.NewConfig("host-1", base)

	want := []string{
		filepath.Join(base, "log"),
		filepath.Join(base, "calendars"),
		filepath.Join(base, "db"),
		filepath.Join(base, "vault"),
		filepath.Join(base, "keys"),
	}
	got := DataDirs(cfg)
	if len(got) != len(want) {
		t.Fatalf("DataDirs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DataDirs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if err := EnsureDataDirs(cfg); err != nil {
		t.Fatalf("EnsureDataDirs() error = %v", err)
	}
	for _, dir := range want {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
			continue
		}
		if perm := info.Mode().Perm(); perm != 0700 {
			t.Errorf("%s mode = %o, want 700", dir, perm)
		}
	}

	t.Run("memory calendar has no ics dir", func(t *testing.T) {
		mem := config.NewConfig("host-1", base)
		mem.Calendar.Type = "memory"
		for _, dir := range DataDirs(mem) {
			if dir == mem.Calendar.ICSDir {
				t.Errorf("DataDirs() includes %s for a memory calendar", dir)
			}
		}
	})
}
