package agefile

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"filippo.io/age"

	"github.com/joelhooks/scoped-secrets/internal/types"
)

// generateIdentity creates an X25519 identity and writes it to path with 0600.
func generateIdentity(path string) (*age.X25519Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEncryptionFailed, err)
	}
	if err := os.WriteFile(path, []byte(identity.String()+"\n"), requiredMode); err != nil {
		return nil, fmt.Errorf("write identity: %w", err)
	}
	return identity, nil
}

// loadIdentity reads an X25519 identity from path.
func loadIdentity(path string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("read identity: %w", err)
	}

	identity, err := age.ParseX25519Identity(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidIdentity, err)
	}
	return identity, nil
}

func seal(plaintext []byte, recipient age.Recipient) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEncryptionFailed, err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("%w: write: %v", types.ErrEncryptionFailed, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: close: %v", types.ErrEncryptionFailed, err)
	}
	return buf.Bytes(), nil
}

func open(ciphertext []byte, identity age.Identity) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDecryptionFailed, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", types.ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
