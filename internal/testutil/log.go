package testutil

import (
	"testing"

	"tbsync/internal/database"
	"tbsync/internal/tb"
)

// NewTestLog creates a new in-memory transaction log with schema applied.
// The log is automatically closed when the test completes.
func NewTestLog(t *testing.T) *database.SQLiteLog {
	t.Helper()
	return NewSealedTestLog(t, nil)
}

// NewSealedTestLog is NewTestLog with payload sealing through encryptor.
func NewSealedTestLog(t *testing.T, encryptor tb.Encryptor) *database.SQLiteLog {
	t.Helper()

	log, err := database.NewSQLiteLog(":memory:", encryptor)
	if err != nil {
		t.Fatalf("failed to open transaction log: %v", err)
	}

	t.Cleanup(func() {
		log.Close()
	})

	return log
}
