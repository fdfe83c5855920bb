package security

import (
	"context"
	"fmt"

	"endless-chat/internal/domain/ports/repository"
)

var _ repository.KeyValueStore = (*EncryptedStore)(nil)

// EncryptedStore seals values at rest before they reach the inner store.
type EncryptedStore struct {
	inner  repository.KeyValueStore
	sealer *Sealer
}

func NewEncryptedStore(inner repository.KeyValueStore, sealer *Sealer) *EncryptedStore {
	return &EncryptedStore{inner: inner, sealer: sealer}
}

func (s *EncryptedStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	pt, err := s.sealer.Open(raw, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", key, err)
	}
	return pt, nil
}

func (s *EncryptedStore) Set(ctx context.Context, key string, value []byte) error {
	ct, err := s.sealer.Seal(value, []byte(key))
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", key, err)
	}
	return s.inner.Set(ctx, key, ct)
}

func (s *EncryptedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
