package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tbsync/internal/config"
)

// Defaults are the locations tb falls back to before a config file exists.
type Defaults struct {
	ConfigPath string
	BaseDir    string
}

// GetDefaults resolves the default locations. TB_CONFIG_PATH and TB_HOME
// win; otherwise XDG_CONFIG_HOME and XDG_DATA_HOME are honored before
// ~/.config/tb.toml and ~/.local/share/tb.
func GetDefaults() (Defaults, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return Defaults{}, err
	}
	baseDir, err := getBaseDir()
	if err != nil {
		return Defaults{}, err
	}
	return Defaults{ConfigPath: configPath, BaseDir: baseDir}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("TB_CONFIG_PATH"); path != "" {
		return path, nil
	}
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "tb.toml"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "tb.toml"), nil
}

func getBaseDir() (string, error) {
	if path := os.Getenv("TB_HOME"); path != "" {
		return path, nil
	}
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "tb"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "tb"), nil
}

// NewConfig builds the config `tb config init` writes. Everything lives
// under BaseDir, and plans use the zone named by TZ when it is a valid
// IANA name.
func (d Defaults) NewConfig(hostID string) *config.Config {
	cfg := config.NewConfig(hostID, d.BaseDir)
	if tz := os.Getenv("TZ"); tz != "" {
		if _, err := time.LoadLocation(tz); err == nil {
			cfg.Timezone = tz
		}
	}
	return cfg
}

// DataDirs lists the directories cfg writes to: the log directory, the ICS
// calendar directory, the transaction log directory, filesystem vault roots
// and the key directory.
func DataDirs(cfg *config.Config) []string {
	dirs := []string{cfg.LogDir}
	if cfg.Calendar.Type == "ics" && cfg.Calendar.ICSDir != "" {
		dirs = append(dirs, cfg.Calendar.ICSDir)
	}
	if cfg.Database.Type == "sqlite" && cfg.Database.DataDir != "" {
		dirs = append(dirs, cfg.Database.DataDir)
	}
	for _, v := range cfg.Vaults {
		if v.Type == "filesystem" && v.FSVaultRoot != "" {
			dirs = append(dirs, v.FSVaultRoot)
		}
	}
	if cfg.Encryption.PrivateKeyPath != "" {
		dirs = append(dirs, filepath.Dir(cfg.Encryption.PrivateKeyPath))
	}
	return dirs
}

// EnsureDataDirs creates every directory in DataDirs, readable only by the
// owner since plans and archives name the user's day.
func EnsureDataDirs(cfg *config.Config) error {
	for _, dir := range DataDirs(cfg) {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
