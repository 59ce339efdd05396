package app

import (
	"fmt"

	"medialib/internal/config"
	"medialib/internal/encryption"
)

// InitKeys creates the snapshot key pair for the configured encryption.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc.IsConfigured() && enc.NeedsPassphrase() {
		return fmt.Errorf("snapshot keys already exist")
	}
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up snapshot keys: %w", err)
	}
	return nil
}

// KeysNeedPassphrase reports whether key setup and restore prompt for a
// passphrase.
func KeysNeedPassphrase(cfg *config.Config) (bool, error) {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return false, err
	}
	return enc.NeedsPassphrase(), nil
}
