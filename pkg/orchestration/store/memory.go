package store

import (
	"context"

	pkgerrors "github.com/absmach/fedids/pkg/errors"
	"github.com/absmach/fedids/pkg/orchestration"
	"github.com/absmach/fedids/pkg/storage"
)

type memoryRegistry struct {
	clientsDB storage.Storage
}

// NewMemoryRegistry keeps client registrations in db. Registrations are
// ephemeral so an in-memory storage is the expected backend.
func NewMemoryRegistry(db storage.Storage) orchestration.Registry {
	return &memoryRegistry{clientsDB: db}
}

func (r *memoryRegistry) CreateClient(ctx context.Context, c orchestration.Client) error {
	return r.clientsDB.Create(ctx, c.ID, c)
}

func (r *memoryRegistry) GetClient(ctx context.Context, id string) (orchestration.Client, error) {
	data, err := r.clientsDB.Get(ctx, id)
	if err != nil {
		return orchestration.Client{}, err
	}

	c, ok := data.(orchestration.Client)
	if !ok {
		return orchestration.Client{}, pkgerrors.ErrInvalidData
	}

	return c, nil
}

func (r *memoryRegistry) UpdateClient(ctx context.Context, c orchestration.Client) error {
	return r.clientsDB.Update(ctx, c.ID, c)
}

func (r *memoryRegistry) ListClients(ctx context.Context, offset, limit uint64) ([]orchestration.Client, uint64, error) {
	data, total, err := r.clientsDB.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}

	clients := make([]orchestration.Client, 0, len(data))
	for i := range data {
		c, ok := data[i].(orchestration.Client)
		if !ok {
			continue
		}
		clients = append(clients, c)
	}

	return clients, total, nil
}
