package vault

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"tbsync/internal/tb"
)

func vaults(t *testing.T) map[string]tb.Vault {
	t.Helper()
	fs, err := NewFileSystemVault("test", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	return map[string]tb.Vault{
		"memory":     NewMemoryVault("test"),
		"filesystem": fs,
	}
}

func TestVault_PutGetSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		size    int64
		wantErr bool
	}{
		{name: "store snapshot successfully", data: "SQLite format 3", size: 15},
		{name: "size mismatch", data: "hello", size: 100, wantErr: true},
		{name: "empty snapshot", data: "", size: 0},
	}

	for vaultName, v := range vaults(t) {
		for _, tt := range tests {
			t.Run(vaultName+"/"+tt.name, func(t *testing.T) {
				err := v.PutSnapshot("host-1", tt.name+".db", strings.NewReader(tt.data), tt.size, 3)
				if (err != nil) != tt.wantErr {
					t.Fatalf("PutSnapshot() error = %v, wantErr %v", err, tt.wantErr)
				}
				if tt.wantErr {
					return
				}

				var buf bytes.Buffer
				if err := v.GetSnapshot("host-1", tt.name+".db", &buf); err != nil {
					t.Fatalf("GetSnapshot() error = %v", err)
				}
				if buf.String() != tt.data {
					t.Errorf("snapshot = %q, want %q", buf.String(), tt.data)
				}
			})
		}
	}
}

func TestVault_SnapshotVersion(t *testing.T) {
	for name, v := range vaults(t) {
		t.Run(name, func(t *testing.T) {
			version, err := v.SnapshotVersion("host-1", "log.db")
			if err != nil {
				t.Fatalf("SnapshotVersion() error = %v", err)
			}
			if version != 0 {
				t.Errorf("SnapshotVersion() before put = %d, want 0", version)
			}

			for _, want := range []int64{4, 9} {
				data := "snapshot"
				if err := v.PutSnapshot("host-1", "log.db", strings.NewReader(data), int64(len(data)), want); err != nil {
					t.Fatalf("PutSnapshot() error = %v", err)
				}
				version, err := v.SnapshotVersion("host-1", "log.db")
				if err != nil {
					t.Fatalf("SnapshotVersion() error = %v", err)
				}
				if version != want {
					t.Errorf("SnapshotVersion() = %d, want %d", version, want)
				}
			}

			// Other hosts are independent.
			version, _ = v.SnapshotVersion("host-2", "log.db")
			if version != 0 {
				t.Errorf("SnapshotVersion(host-2) = %d, want 0", version)
			}
		})
	}
}

func TestVault_SnapshotNotFound(t *testing.T) {
	for name, v := range vaults(t) {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			err := v.GetSnapshot("host-1", "missing.db", &buf)
			if !errors.Is(err, tb.ErrSnapshotNotFound) {
				t.Errorf("GetSnapshot() error = %v, want ErrSnapshotNotFound", err)
			}
		})
	}
}

func TestVault_ValidateSetup(t *testing.T) {
	for name, v := range vaults(t) {
		t.Run(name, func(t *testing.T) {
			if err := v.ValidateSetup(); err != nil {
				t.Errorf("ValidateSetup() error = %v", err)
			}
		})
	}
}

func TestMemoryVault_Puts(t *testing.T) {
	v := NewMemoryVault("test")
	v.PutSnapshot("host-1", "log.db", strings.NewReader("a"), 1, 1)
	v.PutSnapshot("host-1", "log.db", strings.NewReader("b"), 1, 2)
	v.PutSnapshot("host-1", "bad.db", strings.NewReader("c"), 5, 2)

	if got := v.Puts(); got != 2 {
		t.Errorf("Puts() = %d, want 2", got)
	}
}
