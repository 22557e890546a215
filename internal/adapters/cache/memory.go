package cache

import (
	"context"
	"sync"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is the process-local stand-in used when no Redis URL is configured.
// It serves both as settings cache and as locker.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	nowFn   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		nowFn:   time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[settingsKeyPrefix+key]
	if !ok || !c.nowFn().Before(entry.expiresAt) {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[settingsKeyPrefix+key] = memoryEntry{value: value, expiresAt: c.nowFn().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, settingsKeyPrefix+key)
	}
	return nil
}

func (c *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFn()
	if entry, ok := c.entries[key]; ok && now.Before(entry.expiresAt) {
		return func(context.Context) {}, false, nil
	}
	token := now.String()
	c.entries[key] = memoryEntry{value: token, expiresAt: now.Add(ttl)}
	release := func(context.Context) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if entry, ok := c.entries[key]; ok && entry.value == token {
			delete(c.entries, key)
		}
	}
	return release, true, nil
}

var (
	_ ports.SettingsCache = (*MemoryCache)(nil)
	_ ports.Locker        = (*MemoryCache)(nil)
)
