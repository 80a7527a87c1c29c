// Package backend defines the persistence collaborators behind each secret
// scope and provides an in-memory implementation of all of them.
package backend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/joelhooks/scoped-secrets/internal/types"
)

// RecordTypeSecret is the record type used for user-scoped secrets.
const RecordTypeSecret = "secret"

// GlobalStore persists agent-wide secrets keyed by name.
type GlobalStore interface {
	// GetSecret returns the record for key, or nil if absent.
	GetSecret(ctx context.Context, key string) (*types.SecretRecord, error)
	PutSecret(ctx context.Context, rec types.SecretRecord) error
	// DeleteSecret reports whether a record was removed.
	DeleteSecret(ctx context.Context, key string) (bool, error)
	ListSecrets(ctx context.Context) ([]types.SecretRecord, error)
}

// World is a world's metadata record. Secrets are stored in the
// associative "secrets" field keyed by secret name.
type World struct {
	ID      string                        `json:"id"`
	Secrets map[string]types.SecretRecord `json:"secrets"`
}

// WorldStore reads and updates world metadata records.
type WorldStore interface {
	// GetWorld returns the world, or nil if it has no record yet.
	GetWorld(ctx context.Context, worldID string) (*World, error)
	UpdateWorld(ctx context.Context, world *World) error
}

// Record is a typed record owned by an entity.
type Record struct {
	ID        string          `json:"id"`
	EntityID  string          `json:"entityId"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// UserSecretData is the Data payload of a RecordTypeSecret record.
type UserSecretData struct {
	Key       string             `json:"key"`
	Value     types.SecretValue  `json:"value"`
	Metadata  types.SecretConfig `json:"metadata"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// RecordStore lists, creates, updates and deletes typed entity records.
type RecordStore interface {
	ListRecords(ctx context.Context, entityID, recordType string) ([]Record, error)
	CreateRecord(ctx context.Context, rec Record) error
	UpdateRecord(ctx context.Context, rec Record) error
	DeleteRecord(ctx context.Context, id string) error
}

// RoleStore resolves and assigns world roles. It satisfies
// permission.RoleLookup.
type RoleStore interface {
	WorldRole(ctx context.Context, worldID, entityID string) (types.Role, error)
	SetWorldRole(ctx context.Context, worldID, entityID string, role types.Role) error
}
