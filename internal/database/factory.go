package database

import (
	"fmt"
	"os"
	"path/filepath"

	"tbsync/internal/config"
	"tbsync/internal/tb"
)

// NewLogFromConfig creates a TransactionLog implementation based on the database config type.
// encryptor may be nil, in which case payloads are stored in the clear.
func NewLogFromConfig(cfg config.DatabaseConfig, hostID string, encryptor tb.Encryptor) (*SQLiteLog, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dbPath := filepath.Join(cfg.DataDir, hostID+".db")
		return NewSQLiteLog(dbPath, encryptor)
	case "memory":
		return NewSQLiteLog(":memory:", encryptor)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
