// Package modelinfo caches assistant model metadata: a static seed merged
// with what the server reports at runtime. The cache is an explicitly
// constructed object handed to whoever needs it; there is no package
// singleton.
package modelinfo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mailmind/mailmind-go/internal/client"
)

// Info describes one model.
type Info struct {
	Name          string
	DisplayName   string
	Description   string
	ContextWindow int
}

// Resolver fetches runtime model metadata. *client.Client satisfies it.
type Resolver interface {
	ListModels(ctx context.Context) ([]client.ModelInfo, error)
}

// DefaultTTL is how long a runtime refresh stays fresh.
const DefaultTTL = 15 * time.Minute

// Cache merges a static seed with periodically refreshed server metadata.
type Cache struct {
	resolver Resolver
	ttl      time.Duration
	log      *slog.Logger

	mu      sync.RWMutex
	infos   map[string]Info
	fetched time.Time
}

// NewCache creates a cache. resolver may be nil for a seed-only cache.
func NewCache(resolver Resolver, ttl time.Duration, log *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		resolver: resolver,
		ttl:      ttl,
		log:      log,
		infos:    make(map[string]Info),
	}
}

// Seed installs static entries. Runtime data overrides seeded fields when
// it arrives.
func (c *Cache) Seed(infos []Info) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, info := range infos {
		c.infos[info.Name] = info
	}
}

// Get returns the metadata for a model, refreshing from the server when
// the cache is stale. A resolver failure degrades to seeded data.
func (c *Cache) Get(ctx context.Context, name string) (Info, bool) {
	if err := c.refresh(ctx); err != nil {
		c.log.Debug("model metadata refresh failed", "error", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.infos[name]
	return info, ok
}

// All returns every known model, refreshing first when stale.
func (c *Cache) All(ctx context.Context) []Info {
	if err := c.refresh(ctx); err != nil {
		c.log.Debug("model metadata refresh failed", "error", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Info, 0, len(c.infos))
	for _, info := range c.infos {
		out = append(out, info)
	}
	return out
}

func (c *Cache) refresh(ctx context.Context) error {
	if c.resolver == nil {
		return nil
	}
	c.mu.RLock()
	fresh := time.Since(c.fetched) < c.ttl
	c.mu.RUnlock()
	if fresh {
		return nil
	}

	listed, err := c.resolver.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range listed {
		info := c.infos[m.Name]
		info.Name = m.Name
		if m.DisplayName != "" {
			info.DisplayName = m.DisplayName
		}
		if m.Description != "" {
			info.Description = m.Description
		}
		if m.ContextWindow > 0 {
			info.ContextWindow = m.ContextWindow
		}
		c.infos[m.Name] = info
	}
	c.fetched = time.Now()
	return nil
}
