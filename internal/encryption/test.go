package encryption

import (
	"bytes"
	"fmt"
	"io"
)

var marker = []byte("MLSNAP\x00\x01")

// MarkerEncryptor frames data with a fixed header instead of encrypting it.
// It lets tests see that a snapshot went through the sealing step without
// paying for scrypt.
type MarkerEncryptor struct{}

func NewMarkerEncryptor() *MarkerEncryptor { return &MarkerEncryptor{} }

func (*MarkerEncryptor) Setup(string) error { return nil }

func (*MarkerEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(marker); err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (*MarkerEncryptor) Unlock(string) (Opener, error) { return markerOpener{}, nil }

func (*MarkerEncryptor) IsConfigured() bool { return true }

func (*MarkerEncryptor) NeedsPassphrase() bool { return false }

type markerOpener struct{}

func (markerOpener) Decrypt(r io.Reader, w io.Writer) error {
	head := make([]byte, len(marker))
	if _, err := io.ReadFull(r, head); err != nil {
		return fmt.Errorf("reading marker: %w", err)
	}
	if !bytes.Equal(head, marker) {
		return fmt.Errorf("snapshot is missing the test marker")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

var _ Encryptor = (*MarkerEncryptor)(nil)
