package tb

import "io"

// Encryptor seals transaction payloads at rest. Sealing uses the public key
// only; opening sealed payloads needs a DecryptionContext obtained by
// unlocking the private key with a passphrase.
type Encryptor interface {
	// Setup performs one-time key generation. Called during `tb config keys`.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a DecryptionContext.
	// Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for one
// command. The key is never written to disk.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
