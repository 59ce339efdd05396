// Package encryption seals metadata snapshots before they leave the host.
//
// Sealing needs only the public key. Opening a snapshot requires the
// passphrase that protects the private key, so a restore is always an
// interactive, deliberate act.
package encryption

import (
	"fmt"
	"io"

	"medialib/internal/config"
)

// Encryptor seals snapshot streams and unlocks the key needed to open them.
type Encryptor interface {
	// Setup creates the key material, protecting it with passphrase.
	Setup(passphrase string) error
	Encrypt(r io.Reader, w io.Writer) error
	// Unlock returns an Opener holding the private key in memory.
	Unlock(passphrase string) (Opener, error)
	// IsConfigured reports whether Setup has been run.
	IsConfigured() bool
	// NeedsPassphrase reports whether Setup and Unlock use the passphrase.
	NeedsPassphrase() bool
}

// Opener decrypts snapshot streams.
type Opener interface {
	Decrypt(r io.Reader, w io.Writer) error
}

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return Plaintext{}, nil
	case "age":
		return NewAgeEncryptor(cfg.PublicKeyPath, cfg.PrivateKeyPath), nil
	case "test":
		return NewMarkerEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// Plaintext stores snapshots unencrypted.
type Plaintext struct{}

func (Plaintext) Setup(string) error { return nil }

func (Plaintext) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying snapshot: %w", err)
	}
	return nil
}

func (Plaintext) Unlock(string) (Opener, error) { return plaintextOpener{}, nil }

func (Plaintext) IsConfigured() bool { return true }

func (Plaintext) NeedsPassphrase() bool { return false }

type plaintextOpener struct{}

func (plaintextOpener) Decrypt(r io.Reader, w io.Writer) error {
	return Plaintext{}.Encrypt(r, w)
}

var _ Encryptor = Plaintext{}
