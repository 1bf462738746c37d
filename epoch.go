package jacc

import (
	"context"
	"sync/atomic"
)

// Epoch remembers one permission decision together with the cache epoch it
// was computed under. The zero value has never been validated. An Epoch is
// safe for concurrent use and must not be copied after first use.
type Epoch struct {
	// epoch<<1 | granted
	v atomic.Uint64
}

// Value returns the stored epoch and decision. Epoch 0 means no decision.
func (e *Epoch) Value() (epoch uint32, granted bool) {
	v := e.v.Load()
	return uint32(v >> 1), v&1 == 1
}

// Invalidate forgets the stored decision.
func (e *Epoch) Invalidate() {
	e.v.Store(0)
}

func (e *Epoch) lookup(current uint32) (granted bool, ok bool) {
	epoch, granted := e.Value()
	if epoch == 0 || epoch != current {
		return false, false
	}
	return granted, true
}

func (e *Epoch) set(epoch uint32, granted bool) {
	if e == nil {
		return
	}
	v := uint64(epoch) << 1
	if granted {
		v |= 1
	}
	e.v.Store(v)
}

// nextEpoch advances cur, wrapping past max back to 1. Zero is reserved.
func nextEpoch(cur, max uint32) uint32 {
	if cur >= max || cur+1 == 0 {
		return 1
	}
	return cur + 1
}

// CachedPermission binds a permission to a cache and keeps its own epoch
// token, so repeated checks skip the snapshot until the cache is reset.
type CachedPermission struct {
	perm  Permission
	cache *PermissionCache
	epoch Epoch
}

func NewCachedPermission(cache *PermissionCache, p Permission) *CachedPermission {
	return &CachedPermission{perm: p, cache: cache}
}

func (cp *CachedPermission) Permission() Permission { return cp.perm }

func (cp *CachedPermission) Cache() *PermissionCache { return cp.cache }

// Check reports whether the bound permission is granted.
func (cp *CachedPermission) Check(ctx context.Context) bool {
	if cp.cache == nil {
		return false
	}
	return cp.cache.CheckPermission(ctx, cp.perm, &cp.epoch)
}
