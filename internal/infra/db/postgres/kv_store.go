package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"endless-chat/internal/domain"
	"endless-chat/internal/domain/ports/repository"
)

var _ repository.KeyValueStore = (*KVStore)(nil)

// querier is the slice of *pgxpool.Pool the store needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS chat_kv (
  namespace  TEXT        NOT NULL,
  key        TEXT        NOT NULL,
  value      BYTEA       NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (namespace, key)
);`

// KVStore persists session keys in a single table, one row per key, scoped
// by namespace so several deployments can share a database.
type KVStore struct {
	db        querier
	namespace string
}

func NewKVStore(db querier, namespace string) *KVStore {
	return &KVStore{db: db, namespace: namespace}
}

// EnsureSchema creates the table when missing.
func (s *KVStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure kv schema: %w", err)
	}
	return nil
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	const q = `SELECT value FROM chat_kv WHERE namespace=$1 AND key=$2;`
	var v []byte
	if err := s.db.QueryRow(ctx, q, s.namespace, key).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	const q = `
INSERT INTO chat_kv (namespace, key, value, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (namespace, key) DO UPDATE SET
  value = EXCLUDED.value,
  updated_at = EXCLUDED.updated_at;`
	if _, err := s.db.Exec(ctx, q, s.namespace, key, value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	const q = `DELETE FROM chat_kv WHERE namespace=$1 AND key=$2;`
	if _, err := s.db.Exec(ctx, q, s.namespace, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
