package cache

import (
	"context"
	"sync"

	"candleflow/internal/domain/model"
)

// MemoryCache is the in-process CachePort used when redis is disabled.
type MemoryCache struct {
	mu     sync.RWMutex
	views  map[string]model.View
	prices map[string]model.LatestPrice
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		views:  make(map[string]model.View),
		prices: make(map[string]model.LatestPrice),
	}
}

func (m *MemoryCache) SetView(_ context.Context, view model.View) error {
	m.mu.Lock()
	m.views[view.Key()] = view.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) GetView(_ context.Context, symbol string, tf model.Timeframe) (*model.View, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.views[tf.Key(symbol)]
	if !ok {
		return nil, nil
	}
	c := v.Clone()
	return &c, nil
}

func (m *MemoryCache) SetLatestPrice(_ context.Context, symbol string, price model.LatestPrice) error {
	m.mu.Lock()
	m.prices[symbol] = price
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) GetLatestPrice(_ context.Context, symbol string) (*model.LatestPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices[symbol]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryCache) Ping(context.Context) error { return nil }

func (m *MemoryCache) Close() error { return nil }
