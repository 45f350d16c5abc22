package tb

import "io"

// Vault stores versioned snapshots of the transaction log away from the
// machine running the engine.
type Vault interface {
	// PutSnapshot stores the named snapshot for a host. version is kept
	// alongside it for the staleness check at startup.
	PutSnapshot(hostID, name string, r io.Reader, size int64, version int64) error

	// GetSnapshot writes the named snapshot for a host to w.
	GetSnapshot(hostID, name string, w io.Writer) error

	// SnapshotVersion returns the stored version, 0 if none was stored.
	SnapshotVersion(hostID, name string) (int64, error)

	// ValidateSetup verifies that the vault is reachable and writable.
	ValidateSetup() error
}
