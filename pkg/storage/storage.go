package storage

import "context"

// Storage is a keyed store for ephemeral coordinator state such as the
// client registry.
type Storage interface {
	Create(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string) (any, error)
	Update(ctx context.Context, key string, value any) error
	// Upsert stores value under key, replacing any previous value.
	Upsert(ctx context.Context, key string, value any) error
	// List returns values ordered by key.
	List(ctx context.Context, offset, limit uint64) ([]any, uint64, error)
	Delete(ctx context.Context, key string) error
}
