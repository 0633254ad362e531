package persistence

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryGateway keeps blobs in process memory. State does not survive a restart.
type MemoryGateway struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{blobs: make(map[string][]byte)}
}

func (g *MemoryGateway) Load(_ context.Context, key string) ([]byte, bool, error) {
	if strings.TrimSpace(key) == "" {
		return nil, false, ErrInvalidKey
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	value, ok := g.blobs[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(value), true, nil
}

func (g *MemoryGateway) Store(_ context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blobs[key] = slices.Clone(value)
	return nil
}

// Keys lists stored keys in sorted order.
func (g *MemoryGateway) Keys() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	keys := make([]string, 0, len(g.blobs))
	for key := range g.blobs {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
