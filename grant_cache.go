package jacc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// GrantCacheConfig sizes the ristretto cache behind a GrantCache.
type GrantCacheConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	TTL         time.Duration
}

// DefaultGrantCacheConfig suits a few thousand code source / context pairs.
var DefaultGrantCacheConfig = GrantCacheConfig{
	NumCounters: 100_000,
	MaxCost:     1 << 20,
	BufferItems: 64,
	TTL:         5 * time.Minute,
}

// GrantCache decorates a PolicyProvider with a TTL cache of grant sets keyed
// by policy context and code source. It sits below permission caches and
// saves a provider round trip when several caches share a code source or a
// cache is reset without a policy change.
//
// Invalidate must run before the permission caches are reset; subscribe the
// GrantCache to an InvalidationDispatcher ahead of the cache factory.
type GrantCache struct {
	next PolicyProvider
	ttl  time.Duration

	// mu serializes Clear against Get and Set; loads run unlocked
	mu    sync.RWMutex
	cache *ristretto.Cache
	gen   uint64
}

func NewGrantCache(next PolicyProvider, cfg GrantCacheConfig) (*GrantCache, error) {
	if next == nil {
		return nil, errors.New("policy provider is required")
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = DefaultGrantCacheConfig.NumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = DefaultGrantCacheConfig.MaxCost
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = DefaultGrantCacheConfig.BufferItems
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultGrantCacheConfig.TTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &GrantCache{next: next, cache: cache, ttl: cfg.TTL}, nil
}

func (g *GrantCache) ContextID(ctx context.Context) string {
	return g.next.ContextID(ctx)
}

func (g *GrantCache) WithContext(ctx context.Context, contextID string, fn func(ctx context.Context) error) error {
	return g.next.WithContext(ctx, contextID, fn)
}

// GrantedPermissions returns a fresh collection each time; unresolved
// entries resolved by one caller are not shared with the next. A fetch that
// overlaps an Invalidate is returned but not stored.
func (g *GrantCache) GrantedPermissions(ctx context.Context, cs *CodeSource) (*Permissions, error) {
	key := g.next.ContextID(ctx) + "\x00" + codeSourceOrDefault(cs).Key()

	g.mu.RLock()
	gen := g.gen
	v, ok := g.cache.Get(key)
	g.mu.RUnlock()
	if ok {
		if elems, ok := v.([]Permission); ok {
			return NewPermissions(elems...), nil
		}
	}

	perms, err := g.next.GrantedPermissions(ctx, cs)
	if err != nil {
		return nil, err
	}
	elems := perms.Elements()

	g.mu.RLock()
	if g.gen == gen {
		g.cache.SetWithTTL(key, elems, int64(len(elems))+1, g.ttl)
	}
	g.mu.RUnlock()
	return NewPermissions(elems...), nil
}

// Wait blocks until pending writes are visible to Get.
func (g *GrantCache) Wait() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	g.cache.Wait()
}

// Invalidate drops every cached grant set and discards fetches still in
// flight.
func (g *GrantCache) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	g.cache.Clear()
}

// OnPolicyChange implements InvalidationSubscriber.
func (g *GrantCache) OnPolicyChange(_ context.Context, _ string) error {
	g.Invalidate()
	return nil
}

func (g *GrantCache) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache.Close()
}
