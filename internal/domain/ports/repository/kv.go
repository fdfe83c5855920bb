package repository

import "context"

// Keys written by the chat session.
const (
	KeyMessageList = "messageList"
	KeyTitle       = "title"
	KeySystemRole  = "systemRoleSettings"
	KeySuggestion  = "suggestion"
)

// KeyValueStore is the persistence sink. Get returns domain.ErrNotFound
// for a missing key.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
