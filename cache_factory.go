package jacc

import (
	"context"
	"sync"
)

// PermissionCacheFactory hands out permission caches with unique keys and
// resets them as a group when policies change.
type PermissionCacheFactory struct {
	provider PolicyProvider
	defaults []CacheOption

	mu      sync.RWMutex
	nextKey int
	caches  map[int]*PermissionCache
}

func NewPermissionCacheFactory(provider PolicyProvider, defaults ...CacheOption) *PermissionCacheFactory {
	return &PermissionCacheFactory{
		provider: provider,
		defaults: defaults,
		nextKey:  1,
		caches:   make(map[int]*PermissionCache),
	}
}

// CreatePermissionCache registers a new cache for cs under contextID. opts
// are applied after the factory defaults.
func (f *PermissionCacheFactory) CreatePermissionCache(contextID string, cs *CodeSource, opts ...CacheOption) (*PermissionCache, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]CacheOption, 0, len(f.defaults)+len(opts)+2)
	all = append(all, f.defaults...)
	all = append(all, WithContextID(contextID), WithCodeSource(cs))
	all = append(all, opts...)
	c, err := NewPermissionCache(f.nextKey, f.provider, all...)
	if err != nil {
		return nil, err
	}
	f.caches[c.key] = c
	f.nextKey++
	return c, nil
}

// CreateWebResourceCache returns a cache for the web resource and user data
// checks of one module, against the unsigned code source.
func (f *PermissionCacheFactory) CreateWebResourceCache(contextID string, opts ...CacheOption) (*PermissionCache, error) {
	protos := WithPrototypes(
		NewBasicPermission(TypeWebResource, "/", ""),
		NewBasicPermission(TypeWebUserData, "/", ""),
	)
	return f.CreatePermissionCache(contextID, nil, append([]CacheOption{protos}, opts...)...)
}

// RemovePermissionCache unregisters c. It reports whether c was registered.
func (f *PermissionCacheFactory) RemovePermissionCache(c *PermissionCache) bool {
	if c == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.caches[c.key]; ok && cur == c {
		delete(f.caches, c.key)
		return true
	}
	return false
}

// Get returns the cache registered under key.
func (f *PermissionCacheFactory) Get(key int) (*PermissionCache, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.caches[key]
	return c, ok
}

func (f *PermissionCacheFactory) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.caches)
}

// ResetCaches resets every registered cache.
func (f *PermissionCacheFactory) ResetCaches() {
	for _, c := range f.snapshot("", false) {
		c.Reset()
	}
}

// ResetContext resets the caches bound to contextID.
func (f *PermissionCacheFactory) ResetContext(contextID string) {
	for _, c := range f.snapshot(contextID, true) {
		c.Reset()
	}
}

// OnPolicyChange implements InvalidationSubscriber. AllContexts resets
// every cache.
func (f *PermissionCacheFactory) OnPolicyChange(_ context.Context, contextID string) error {
	if contextID == AllContexts {
		f.ResetCaches()
		return nil
	}
	f.ResetContext(contextID)
	return nil
}

func (f *PermissionCacheFactory) snapshot(contextID string, filter bool) []*PermissionCache {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*PermissionCache, 0, len(f.caches))
	for _, c := range f.caches {
		if filter && c.contextID != contextID {
			continue
		}
		out = append(out, c)
	}
	return out
}
