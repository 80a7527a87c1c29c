// Package crypto provides authenticated encryption for individual secret
// values. One key is derived per agent process and reused for every record.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/joelhooks/scoped-secrets/internal/metrics"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

const (
	// AlgorithmAESGCM is the default algorithm.
	AlgorithmAESGCM = "aes-256-gcm"
	// AlgorithmXChaCha is XChaCha20-Poly1305 with a 24-byte nonce.
	AlgorithmXChaCha = "xchacha20-poly1305"

	// DefaultKeyID names the single process key.
	DefaultKeyID = "default"

	// DefaultSalt is the well-known salt used only when explicitly allowed.
	DefaultSalt = "secretsalt"

	// KeySize is the size of the derived key in bytes.
	KeySize = 32

	// TagSize is the size of the authentication tag for both algorithms.
	TagSize = 16
)

// Box encrypts and decrypts secret values with a key derived from the agent
// identity and a salt.
type Box struct {
	key       []byte
	algorithm string
}

// DeriveKey hashes agentID concatenated with salt into a 32-byte key.
func DeriveKey(agentID, salt string) []byte {
	sum := sha256.Sum256([]byte(agentID + salt))
	return sum[:]
}

// NewBox builds a Box for agentID. An empty algorithm selects AES-256-GCM.
func NewBox(agentID, salt, algorithm string) (*Box, error) {
	if algorithm == "" {
		algorithm = AlgorithmAESGCM
	}
	if _, err := newAEAD(algorithm, make([]byte, KeySize)); err != nil {
		return nil, err
	}
	return &Box{key: DeriveKey(agentID, salt), algorithm: algorithm}, nil
}

// Algorithm returns the algorithm used for new payloads.
func (b *Box) Algorithm() string { return b.algorithm }

func newAEAD(algorithm string, key []byte) (cipher.AEAD, error) {
	switch algorithm {
	case AlgorithmAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case AlgorithmXChaCha:
		return chacha20poly1305.NewX(key)
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownAlgorithm, algorithm)
	}
}

// Encrypt seals plaintext under a fresh random IV.
func (b *Box) Encrypt(plaintext string) (*types.EncryptedPayload, error) {
	aead, err := newAEAD(b.algorithm, b.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEncryptionFailed, err)
	}

	iv := make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("%w: generate iv: %v", types.ErrEncryptionFailed, err)
	}

	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-aead.Overhead()], sealed[len(sealed)-aead.Overhead():]

	metrics.CryptoOperations.WithLabelValues("encrypt").Inc()

	return &types.EncryptedPayload{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(tag),
		Algorithm:  b.algorithm,
		KeyID:      DefaultKeyID,
	}, nil
}

// Decrypt opens a payload. Any failure, including an authentication tag
// mismatch, returns an error wrapping types.ErrDecryptionFailed.
func (b *Box) Decrypt(p *types.EncryptedPayload) (string, error) {
	plaintext, err := b.open(p)
	if err != nil {
		metrics.CryptoOperations.WithLabelValues("decrypt_failed").Inc()
		return "", err
	}
	metrics.CryptoOperations.WithLabelValues("decrypt").Inc()
	return plaintext, nil
}

func (b *Box) open(p *types.EncryptedPayload) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: nil payload", types.ErrDecryptionFailed)
	}
	if p.KeyID != "" && p.KeyID != DefaultKeyID {
		return "", fmt.Errorf("%w: unknown key id %q", types.ErrDecryptionFailed, p.KeyID)
	}

	algorithm := p.Algorithm
	if algorithm == "" {
		algorithm = AlgorithmAESGCM
	}
	aead, err := newAEAD(algorithm, b.key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrDecryptionFailed, err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(p.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", types.ErrDecryptionFailed, err)
	}
	iv, err := base64.StdEncoding.DecodeString(p.IV)
	if err != nil || len(iv) != aead.NonceSize() {
		return "", fmt.Errorf("%w: malformed iv", types.ErrDecryptionFailed)
	}
	tag, err := base64.StdEncoding.DecodeString(p.AuthTag)
	if err != nil || len(tag) != aead.Overhead() {
		return "", fmt.Errorf("%w: malformed auth tag", types.ErrDecryptionFailed)
	}

	plaintext, err := aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", types.ErrDecryptionFailed)
	}
	return string(plaintext), nil
}
