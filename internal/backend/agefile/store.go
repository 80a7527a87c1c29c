// Package agefile keeps agent-wide (global scope) secret records in a single
// JSON document encrypted to a local age X25519 identity.
package agefile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"filippo.io/age"

	"github.com/joelhooks/scoped-secrets/internal/backend"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

const fileVersion = 1

type fileData struct {
	Version int                           `json:"version"`
	Secrets map[string]types.SecretRecord `json:"secrets"`
}

// Store is a backend.GlobalStore backed by an age-encrypted file.
// Every mutation rewrites the file.
type Store struct {
	mu           sync.RWMutex
	identityPath string
	path         string
	skipModes    bool
	identity     *age.X25519Identity
	secrets      map[string]types.SecretRecord
}

var _ backend.GlobalStore = (*Store)(nil)

// Options configures Open.
type Options struct {
	IdentityPath string
	Path         string
	// SkipPermissionCheck disables the 0600 check on existing files.
	SkipPermissionCheck bool
}

// Open loads the store, generating an identity and an empty data file on
// first use.
func Open(opts Options) (*Store, error) {
	s := &Store{
		identityPath: opts.IdentityPath,
		path:         opts.Path,
		skipModes:    opts.SkipPermissionCheck,
		secrets:      make(map[string]types.SecretRecord),
	}

	if !s.skipModes {
		for _, p := range []string{s.identityPath, s.path} {
			if err := checkMode(p); err != nil {
				return nil, err
			}
		}
	}

	identity, err := loadIdentity(s.identityPath)
	if errors.Is(err, types.ErrIdentityNotFound) {
		if err := os.MkdirAll(filepath.Dir(s.identityPath), 0700); err != nil {
			return nil, fmt.Errorf("create identity dir: %w", err)
		}
		identity, err = generateIdentity(s.identityPath)
	}
	if err != nil {
		return nil, err
	}
	s.identity = identity

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	ciphertext, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(ciphertext) == 0 {
		return nil
	}

	plaintext, err := open(ciphertext, s.identity)
	if err != nil {
		return err
	}

	var data fileData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreCorrupted, err)
	}
	if data.Secrets != nil {
		s.secrets = data.Secrets
	}
	return nil
}

// saveLocked encrypts the current map and atomically replaces the file.
func (s *Store) saveLocked() error {
	plaintext, err := json.MarshalIndent(fileData{Version: fileVersion, Secrets: s.secrets}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}
	ciphertext, err := seal(plaintext, s.identity.Recipient())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, ciphertext, requiredMode); err != nil {
		return fmt.Errorf("write secrets file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace secrets file: %w", err)
	}
	return nil
}

// Recipient returns the public recipient of the store identity.
func (s *Store) Recipient() string {
	return s.identity.Recipient().String()
}

// GetSecret returns the record for key, or nil if absent.
func (s *Store) GetSecret(_ context.Context, key string) (*types.SecretRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.secrets[key]
	if !ok {
		return nil, nil
	}
	rec.Config.Permissions = append([]types.SecretPermission(nil), rec.Config.Permissions...)
	rec.Config.SharedWith = append([]string(nil), rec.Config.SharedWith...)
	return &rec, nil
}

// PutSecret stores a record and persists the file.
func (s *Store) PutSecret(_ context.Context, rec types.SecretRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.secrets[rec.Key]
	s.secrets[rec.Key] = rec
	if err := s.saveLocked(); err != nil {
		if existed {
			s.secrets[rec.Key] = prev
		} else {
			delete(s.secrets, rec.Key)
		}
		return err
	}
	return nil
}

// DeleteSecret removes a record and persists the file.
func (s *Store) DeleteSecret(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.secrets[key]
	if !ok {
		return false, nil
	}
	delete(s.secrets, key)
	if err := s.saveLocked(); err != nil {
		s.secrets[key] = prev
		return false, err
	}
	return true, nil
}

// ListSecrets returns every record sorted by key.
func (s *Store) ListSecrets(_ context.Context) ([]types.SecretRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.SecretRecord, 0, len(s.secrets))
	for _, rec := range s.secrets {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
