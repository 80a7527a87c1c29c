package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/joelhooks/scoped-secrets/internal/types"
)

// Memory implements every backend interface in process memory.
// Values are deep-copied through JSON on the way in and out so callers
// never share state with the store.
type Memory struct {
	mu      sync.RWMutex
	global  map[string]types.SecretRecord
	worlds  map[string]*World
	records map[string]Record
	roles   map[string]types.Role
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		global:  make(map[string]types.SecretRecord),
		worlds:  make(map[string]*World),
		records: make(map[string]Record),
		roles:   make(map[string]types.Role),
	}
}

var (
	_ GlobalStore = (*Memory)(nil)
	_ WorldStore  = (*Memory)(nil)
	_ RecordStore = (*Memory)(nil)
	_ RoleStore   = (*Memory)(nil)
)

func clone[T any](v T) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}

// GetSecret returns the global record for key.
func (m *Memory) GetSecret(_ context.Context, key string) (*types.SecretRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.global[key]
	if !ok {
		return nil, nil
	}
	out, err := clone(rec)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PutSecret stores a global record.
func (m *Memory) PutSecret(_ context.Context, rec types.SecretRecord) error {
	c, err := clone(rec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global[rec.Key] = c
	return nil
}

// DeleteSecret removes a global record.
func (m *Memory) DeleteSecret(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.global[key]; !ok {
		return false, nil
	}
	delete(m.global, key)
	return true, nil
}

// ListSecrets returns every global record sorted by key.
func (m *Memory) ListSecrets(_ context.Context) ([]types.SecretRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.SecretRecord, 0, len(m.global))
	for _, rec := range m.global {
		c, err := clone(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// GetWorld returns a copy of the world record.
func (m *Memory) GetWorld(_ context.Context, worldID string) (*World, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.worlds[worldID]
	if !ok {
		return nil, nil
	}
	return clone(w)
}

// UpdateWorld replaces the world record.
func (m *Memory) UpdateWorld(_ context.Context, world *World) error {
	if world == nil || world.ID == "" {
		return fmt.Errorf("update world: missing id")
	}
	c, err := clone(world)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.worlds[world.ID] = c
	return nil
}

// ListRecords returns the entity's records of recordType, oldest first.
func (m *Memory) ListRecords(_ context.Context, entityID, recordType string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, r := range m.records {
		if r.EntityID == entityID && r.Type == recordType {
			r.Data = append(json.RawMessage(nil), r.Data...)
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CreateRecord inserts a new record. The id must be unique.
func (m *Memory) CreateRecord(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return fmt.Errorf("create record %s: already exists", rec.ID)
	}
	rec.Data = append(json.RawMessage(nil), rec.Data...)
	m.records[rec.ID] = rec
	return nil
}

// UpdateRecord replaces an existing record.
func (m *Memory) UpdateRecord(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; !ok {
		return fmt.Errorf("update record %s: not found", rec.ID)
	}
	rec.Data = append(json.RawMessage(nil), rec.Data...)
	m.records[rec.ID] = rec
	return nil
}

// DeleteRecord removes a record. Unknown ids are ignored.
func (m *Memory) DeleteRecord(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// WorldRole returns the entity's role in the world, RoleNone if unassigned.
func (m *Memory) WorldRole(_ context.Context, worldID, entityID string) (types.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.roles[worldID+"/"+entityID]; ok {
		return r, nil
	}
	return types.RoleNone, nil
}

// SetWorldRole assigns a role. RoleNone removes the assignment.
func (m *Memory) SetWorldRole(_ context.Context, worldID, entityID string, role types.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if role == types.RoleNone || role == "" {
		delete(m.roles, worldID+"/"+entityID)
		return nil
	}
	m.roles[worldID+"/"+entityID] = role
	return nil
}
