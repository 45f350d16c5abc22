package app

import (
	"fmt"
	"os"
	"path/filepath"

	"tbsync/internal/config"
	"tbsync/internal/database"
	"tbsync/internal/vault"
)

// RestoreLog replaces the local transaction log with the archive held by
// the first configured vault. It returns the restored version.
func RestoreLog(cfg *config.Config) (int64, error) {
	if cfg.Database.Type != "sqlite" {
		return 0, fmt.Errorf("restore needs a sqlite database, have %q", cfg.Database.Type)
	}
	if len(cfg.Vaults) == 0 {
		return 0, fmt.Errorf("no vaults configured")
	}
	v, err := vault.NewVaultFromConfig(cfg.Vaults[0])
	if err != nil {
		return 0, fmt.Errorf("creating vault: %w", err)
	}

	version, err := v.SnapshotVersion(cfg.HostID, snapshotName)
	if err != nil {
		return 0, fmt.Errorf("checking archived log version: %w", err)
	}
	if version == 0 {
		return 0, fmt.Errorf("vault %s holds no transaction log for host %s", cfg.Vaults[0].Name, cfg.HostID)
	}

	if err := os.MkdirAll(cfg.Database.DataDir, 0755); err != nil {
		return 0, fmt.Errorf("creating data directory: %w", err)
	}
	dest := filepath.Join(cfg.Database.DataDir, cfg.HostID+".db")
	tmp, err := os.CreateTemp(cfg.Database.DataDir, "restore-*.db")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := v.GetSnapshot(cfg.HostID, snapshotName, tmp); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("downloading log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("writing log: %w", err)
	}

	// The download must open as a current log before it replaces the local one.
	restored, err := database.NewSQLiteLog(tmp.Name(), nil)
	if err != nil {
		return 0, fmt.Errorf("opening downloaded log: %w", err)
	}
	err = restored.CheckMigrations()
	restored.Close()
	if err != nil {
		return 0, fmt.Errorf("downloaded log schema: %w", err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("replacing local log: %w", err)
	}
	return version, nil
}
