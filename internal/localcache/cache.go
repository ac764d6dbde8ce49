// Package localcache is the device-local scratch space used before a user signs in.
package localcache

import (
	"context"
	"sync"

	json "github.com/goccy/go-json"

	"cloutdash/internal/models"
)

type Cache interface {
	Load(ctx context.Context) (*models.Snapshot, error)
	Save(ctx context.Context, snap *models.Snapshot) error
	Clear(ctx context.Context) error
	Close() error
}

// MemoryCache keeps the snapshot in process memory only.
type MemoryCache struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Load(_ context.Context) (*models.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := &models.Snapshot{}
	if len(c.data) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(c.data, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (c *MemoryCache) Save(_ context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	return nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
	return nil
}

func (c *MemoryCache) Close() error {
	return nil
}
