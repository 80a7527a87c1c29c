// Package sqlite persists world metadata, user records and world roles in
// a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/joelhooks/scoped-secrets/internal/backend"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

// Store implements backend.WorldStore, backend.RecordStore and
// backend.RoleStore.
type Store struct {
	db *sql.DB
}

var (
	_ backend.WorldStore  = (*Store)(nil)
	_ backend.RecordStore = (*Store)(nil)
	_ backend.RoleStore   = (*Store)(nil)
)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Debug("sqlite backend opened", "path", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS worlds (
			id TEXT PRIMARY KEY,
			metadata TEXT NOT NULL DEFAULT '{}',
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL,
			type TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_entity_type ON records(entity_id, type)`,
		`CREATE TABLE IF NOT EXISTS world_roles (
			world_id TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			role TEXT NOT NULL,
			PRIMARY KEY (world_id, entity_id)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// GetWorld loads the world's metadata document.
func (s *Store) GetWorld(ctx context.Context, worldID string) (*backend.World, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT metadata FROM worlds WHERE id = ?`, worldID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get world %s: %w", worldID, err)
	}

	var w backend.World
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("%w: world %s: %v", types.ErrStoreCorrupted, worldID, err)
	}
	w.ID = worldID
	if w.Secrets == nil {
		w.Secrets = make(map[string]types.SecretRecord)
	}
	return &w, nil
}

// UpdateWorld upserts the world's metadata document.
func (s *Store) UpdateWorld(ctx context.Context, world *backend.World) error {
	if world == nil || world.ID == "" {
		return fmt.Errorf("update world: missing id")
	}
	data, err := json.Marshal(world)
	if err != nil {
		return fmt.Errorf("marshal world: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO worlds (id, metadata, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET metadata = excluded.metadata, updated_at = excluded.updated_at`,
		world.ID, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("update world %s: %w", world.ID, err)
	}
	return nil
}

// ListRecords returns an entity's records of recordType, oldest first.
func (s *Store) ListRecords(ctx context.Context, entityID, recordType string) ([]backend.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, entity_id, type, data, created_at, updated_at
		FROM records WHERE entity_id = ? AND type = ? ORDER BY created_at, id`, entityID, recordType)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []backend.Record
	for rows.Next() {
		var r backend.Record
		var data string
		var created, updated int64
		if err := rows.Scan(&r.ID, &r.EntityID, &r.Type, &data, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Data = json.RawMessage(data)
		r.CreatedAt = time.UnixMilli(created).UTC()
		r.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateRecord inserts a record.
func (s *Store) CreateRecord(ctx context.Context, rec backend.Record) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO records (id, entity_id, type, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.EntityID, rec.Type, string(rec.Data), rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("create record %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateRecord replaces an existing record's data.
func (s *Store) UpdateRecord(ctx context.Context, rec backend.Record) error {
	res, err := s.db.ExecContext(ctx, `UPDATE records SET data = ?, updated_at = ? WHERE id = ?`,
		string(rec.Data), rec.UpdatedAt.UnixMilli(), rec.ID)
	if err != nil {
		return fmt.Errorf("update record %s: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update record %s: not found", rec.ID)
	}
	return nil
}

// DeleteRecord removes a record. Unknown ids are ignored.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

// WorldRole returns the entity's role, RoleNone if unassigned.
func (s *Store) WorldRole(ctx context.Context, worldID, entityID string) (types.Role, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM world_roles WHERE world_id = ? AND entity_id = ?`,
		worldID, entityID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return types.RoleNone, nil
	}
	if err != nil {
		return types.RoleNone, fmt.Errorf("lookup role: %w", err)
	}
	return types.Role(role), nil
}

// SetWorldRole assigns a role. RoleNone removes the assignment.
func (s *Store) SetWorldRole(ctx context.Context, worldID, entityID string, role types.Role) error {
	var err error
	if role == types.RoleNone || role == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM world_roles WHERE world_id = ? AND entity_id = ?`,
			worldID, entityID)
	} else {
		_, err = s.db.ExecContext(ctx, `INSERT INTO world_roles (world_id, entity_id, role) VALUES (?, ?, ?)
			ON CONFLICT(world_id, entity_id) DO UPDATE SET role = excluded.role`,
			worldID, entityID, string(role))
	}
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}
