package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/joelhooks/scoped-secrets/internal/backend"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

// load returns the record for key in sctx's scope, or nil if absent. For
// the user scope it also returns the id of the backing typed record.
func (s *Store) load(ctx context.Context, key string, sctx types.SecretContext) (*types.SecretRecord, string, error) {
	switch sctx.Scope {
	case types.ScopeGlobal:
		if s.global == nil {
			return nil, "", types.ErrStoreNotInitialized
		}
		rec, err := s.global.GetSecret(ctx, key)
		return rec, "", err

	case types.ScopeWorld:
		if s.worlds == nil {
			return nil, "", types.ErrStoreNotInitialized
		}
		w, err := s.worlds.GetWorld(ctx, sctx.WorldID)
		if err != nil || w == nil {
			return nil, "", err
		}
		rec, ok := w.Secrets[key]
		if !ok {
			return nil, "", nil
		}
		return &rec, "", nil

	case types.ScopeUser:
		recs, err := s.userRecords(ctx, sctx.UserID)
		if err != nil {
			return nil, "", err
		}
		for _, r := range recs {
			if r.data.Key == key {
				return r.secret(), r.id, nil
			}
		}
		return nil, "", nil
	}
	return nil, "", types.ErrInvalidScope
}

// put persists rec into sctx's scope. recordID is the existing user record
// id, or "" to create one.
func (s *Store) put(ctx context.Context, rec types.SecretRecord, sctx types.SecretContext, recordID string) error {
	switch sctx.Scope {
	case types.ScopeGlobal:
		if s.global == nil {
			return types.ErrStoreNotInitialized
		}
		return s.global.PutSecret(ctx, rec)

	case types.ScopeWorld:
		if s.worlds == nil {
			return types.ErrStoreNotInitialized
		}
		w, err := s.worlds.GetWorld(ctx, sctx.WorldID)
		if err != nil {
			return err
		}
		if w == nil {
			w = &backend.World{ID: sctx.WorldID}
		}
		if w.Secrets == nil {
			w.Secrets = make(map[string]types.SecretRecord)
		}
		w.Secrets[rec.Key] = rec
		return s.worlds.UpdateWorld(ctx, w)

	case types.ScopeUser:
		if s.records == nil {
			return types.ErrStoreNotInitialized
		}
		now := s.clock.Now()
		data, err := json.Marshal(backend.UserSecretData{
			Key:       rec.Key,
			Value:     rec.Value,
			Metadata:  rec.Config,
			UpdatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("marshal user secret: %w", err)
		}
		r := backend.Record{
			ID:        recordID,
			EntityID:  sctx.UserID,
			Type:      backend.RecordTypeSecret,
			Data:      data,
			CreatedAt: rec.Config.CreatedAt,
			UpdatedAt: now,
		}
		if recordID == "" {
			r.ID = uuid.NewString()
			return s.records.CreateRecord(ctx, r)
		}
		return s.records.UpdateRecord(ctx, r)
	}
	return types.ErrInvalidScope
}

// remove deletes key from sctx's scope and reports whether it existed.
func (s *Store) remove(ctx context.Context, key string, sctx types.SecretContext) (bool, error) {
	switch sctx.Scope {
	case types.ScopeGlobal:
		if s.global == nil {
			return false, types.ErrStoreNotInitialized
		}
		return s.global.DeleteSecret(ctx, key)

	case types.ScopeWorld:
		if s.worlds == nil {
			return false, types.ErrStoreNotInitialized
		}
		w, err := s.worlds.GetWorld(ctx, sctx.WorldID)
		if err != nil || w == nil {
			return false, err
		}
		if _, ok := w.Secrets[key]; !ok {
			return false, nil
		}
		delete(w.Secrets, key)
		return true, s.worlds.UpdateWorld(ctx, w)

	case types.ScopeUser:
		recs, err := s.userRecords(ctx, sctx.UserID)
		if err != nil {
			return false, err
		}
		for _, r := range recs {
			if r.data.Key == key {
				return true, s.records.DeleteRecord(ctx, r.id)
			}
		}
		return false, nil
	}
	return false, types.ErrInvalidScope
}

// list returns every record in sctx's scope.
func (s *Store) list(ctx context.Context, sctx types.SecretContext) ([]types.SecretRecord, error) {
	switch sctx.Scope {
	case types.ScopeGlobal:
		if s.global == nil {
			return nil, types.ErrStoreNotInitialized
		}
		return s.global.ListSecrets(ctx)

	case types.ScopeWorld:
		if s.worlds == nil {
			return nil, types.ErrStoreNotInitialized
		}
		w, err := s.worlds.GetWorld(ctx, sctx.WorldID)
		if err != nil || w == nil {
			return nil, err
		}
		out := make([]types.SecretRecord, 0, len(w.Secrets))
		for _, rec := range w.Secrets {
			out = append(out, rec)
		}
		return out, nil

	case types.ScopeUser:
		recs, err := s.userRecords(ctx, sctx.UserID)
		if err != nil {
			return nil, err
		}
		out := make([]types.SecretRecord, 0, len(recs))
		for _, r := range recs {
			out = append(out, *r.secret())
		}
		return out, nil
	}
	return nil, types.ErrInvalidScope
}

type userRecord struct {
	id   string
	data backend.UserSecretData
}

func (r userRecord) secret() *types.SecretRecord {
	return &types.SecretRecord{Key: r.data.Key, Value: r.data.Value, Config: r.data.Metadata}
}

func (s *Store) userRecords(ctx context.Context, userID string) ([]userRecord, error) {
	if s.records == nil {
		return nil, types.ErrStoreNotInitialized
	}
	recs, err := s.records.ListRecords(ctx, userID, backend.RecordTypeSecret)
	if err != nil {
		return nil, err
	}
	out := make([]userRecord, 0, len(recs))
	for _, r := range recs {
		var data backend.UserSecretData
		if err := json.Unmarshal(r.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: user record %s: %v", types.ErrStoreCorrupted, r.ID, err)
		}
		out = append(out, userRecord{id: r.ID, data: data})
	}
	return out, nil
}
