package jacc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oarkflow/jacc/logger"
)

// DefaultMaxEpoch is the largest epoch before the counter wraps back to 1.
const DefaultMaxEpoch uint32 = math.MaxInt32

// PermissionCache answers permission checks for one code source under one
// policy context from a lazily loaded snapshot of the provider's grants.
//
// At most one load runs at a time. While it runs, other checks are denied
// instead of waiting. Reset drops the snapshot and advances the epoch, which
// invalidates every Epoch token filled from the previous snapshot.
type PermissionCache struct {
	key        int
	provider   PolicyProvider
	contextID  string
	codeSource *CodeSource
	types      []string
	prototypes []Permission
	name       string

	mu       sync.RWMutex
	perms    *Permissions // nil until loaded
	loading  bool
	epoch    atomic.Uint32
	maxEpoch uint32

	logger      logger.Logger
	traceIDFunc logger.TraceIDFunc
	metrics     CacheMetrics
	privileged  Privileged
}

// CacheOption configures a PermissionCache.
type CacheOption func(*PermissionCache) error

// WithContextID binds the cache to a policy context. Without it the
// provider's default context is used.
func WithContextID(contextID string) CacheOption {
	return func(c *PermissionCache) error {
		c.contextID = contextID
		return nil
	}
}

// WithCodeSource sets the code source whose grants are cached.
func WithCodeSource(cs *CodeSource) CacheOption {
	return func(c *PermissionCache) error {
		c.codeSource = codeSourceOrDefault(cs)
		return nil
	}
}

// WithPermissionType keeps only grants of exactly this type.
func WithPermissionType(kind string) CacheOption {
	return func(c *PermissionCache) error {
		if kind == "" {
			return fmt.Errorf("%w: empty permission type filter", ErrInvalidPermission)
		}
		c.types = []string{kind}
		return nil
	}
}

// WithPrototypes keeps only grants whose type matches one of the prototypes.
// The prototypes are also used to resolve unresolved grants on load.
func WithPrototypes(protos ...Permission) CacheOption {
	return func(c *PermissionCache) error {
		c.prototypes = nil
		c.types = nil
		for _, p := range protos {
			if p == nil {
				continue
			}
			c.prototypes = append(c.prototypes, p)
			if !containsString(c.types, p.Type()) {
				c.types = append(c.types, p.Type())
			}
		}
		return nil
	}
}

// WithPermissionName keeps only grants with exactly this name.
func WithPermissionName(name string) CacheOption {
	return func(c *PermissionCache) error {
		c.name = name
		return nil
	}
}

// WithCacheLogger sets the logger for load diagnostics.
func WithCacheLogger(l logger.Logger) CacheOption {
	return func(c *PermissionCache) error {
		if l != nil {
			c.logger = l
		}
		return nil
	}
}

// WithCacheTraceIDFunc attaches a trace id to logged load failures.
func WithCacheTraceIDFunc(f logger.TraceIDFunc) CacheOption {
	return func(c *PermissionCache) error {
		c.traceIDFunc = f
		return nil
	}
}

// WithCacheMetrics reports check and load outcomes to m.
func WithCacheMetrics(m CacheMetrics) CacheOption {
	return func(c *PermissionCache) error {
		if m != nil {
			c.metrics = m
		}
		return nil
	}
}

// WithPrivileged sets the facility used to switch policy contexts.
func WithPrivileged(p Privileged) CacheOption {
	return func(c *PermissionCache) error {
		if p != nil {
			c.privileged = p
		}
		return nil
	}
}

// WithMaxEpoch lowers the wraparound point of the epoch counter. At least
// two epochs are needed for a reset to invalidate tokens.
func WithMaxEpoch(max uint32) CacheOption {
	return func(c *PermissionCache) error {
		if max < 2 {
			return errors.New("max epoch must be at least 2")
		}
		c.maxEpoch = max
		return nil
	}
}

// NewPermissionCache creates an unloaded cache. key is an opaque identity
// assigned by the owner.
func NewPermissionCache(key int, provider PolicyProvider, opts ...CacheOption) (*PermissionCache, error) {
	if provider == nil {
		return nil, errors.New("policy provider is required")
	}
	c := &PermissionCache{
		key:        key,
		provider:   provider,
		contextID:  DefaultContextID,
		codeSource: UnsignedCodeSource,
		maxEpoch:   DefaultMaxEpoch,
		logger:     logger.Default(),
		metrics:    noopMetrics{},
		privileged: DirectPrivileged,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.epoch.Store(1)
	return c, nil
}

func (c *PermissionCache) Key() int                { return c.key }
func (c *PermissionCache) ContextID() string       { return c.contextID }
func (c *PermissionCache) CodeSource() *CodeSource { return c.codeSource }

// Epoch returns the current epoch.
func (c *PermissionCache) Epoch() uint32 { return c.epoch.Load() }

// Loaded reports whether a snapshot is installed.
func (c *PermissionCache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.perms != nil
}

// Loading reports whether a load is in flight.
func (c *PermissionCache) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// CheckPermission reports whether p is implied by the cached grants.
//
// token may be nil. When its epoch matches the cache epoch its stored
// decision is returned without touching the snapshot; otherwise it is
// refreshed with the decision made here.
//
// The call never blocks on another goroutine's load: while one is in flight
// the answer is false. Provider failures are logged and also yield false.
func (c *PermissionCache) CheckPermission(ctx context.Context, p Permission, token *Epoch) bool {
	if token != nil {
		if granted, ok := token.lookup(c.epoch.Load()); ok {
			c.metrics.ObserveCheck(OutcomeToken, granted)
			return granted
		}
	}

	c.mu.RLock()
	if c.loading {
		c.mu.RUnlock()
		c.metrics.ObserveCheck(OutcomeLoading, false)
		return false
	}
	if c.perms != nil {
		granted := c.implies(c.perms, p)
		token.set(c.epoch.Load(), granted)
		c.mu.RUnlock()
		c.metrics.ObserveCheck(OutcomeSnapshot, granted)
		return granted
	}
	c.mu.RUnlock()

	c.mu.Lock()
	// another goroutine may have started or finished a load in between
	if c.loading {
		c.mu.Unlock()
		c.metrics.ObserveCheck(OutcomeLoading, false)
		return false
	}
	if c.perms != nil {
		granted := c.implies(c.perms, p)
		token.set(c.epoch.Load(), granted)
		c.mu.Unlock()
		c.metrics.ObserveCheck(OutcomeSnapshot, granted)
		return granted
	}
	c.loading = true
	c.mu.Unlock()

	start := time.Now()
	perms, err := c.load(ctx, p)
	c.metrics.ObserveLoad(time.Since(start), err)

	c.mu.Lock()
	c.loading = false
	if err != nil {
		c.mu.Unlock()
		c.logLoadFailure(err)
		c.metrics.ObserveCheck(OutcomeLoadFailed, false)
		return false
	}
	c.perms = perms
	// RWMutex cannot downgrade, so the first check runs under the write lock
	granted := c.implies(perms, p)
	token.set(c.epoch.Load(), granted)
	c.mu.Unlock()

	c.logger.Debug("permission cache loaded",
		"cache_key", c.key,
		"context_id", c.contextID,
		"code_source", c.codeSource.String(),
		"grants", perms.Len(),
	)
	c.metrics.ObserveCheck(OutcomeLoaded, granted)
	return granted
}

// Reset drops the installed snapshot and advances the epoch. It does
// nothing while the cache is unloaded or a load is in flight.
func (c *PermissionCache) Reset() {
	c.mu.Lock()
	if c.perms == nil {
		c.mu.Unlock()
		return
	}
	c.perms = nil
	c.epoch.Store(nextEpoch(c.epoch.Load(), c.maxEpoch))
	c.mu.Unlock()
	c.metrics.ObserveReset()
}

// load runs with no locks held.
func (c *PermissionCache) load(ctx context.Context, p Permission) (perms *Permissions, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("policy provider panic: %v", r)
		}
	}()
	if ctx == nil {
		ctx = context.Background()
	}

	var granted *Permissions
	query := func(ctx context.Context) error {
		var qerr error
		granted, qerr = c.provider.GrantedPermissions(ctx, c.codeSource)
		return qerr
	}
	if c.provider.ContextID(ctx) != c.contextID {
		err = c.privileged.Do(ctx, func(ctx context.Context) error {
			return c.provider.WithContext(ctx, c.contextID, query)
		})
	} else {
		err = query(ctx)
	}
	if err != nil {
		return nil, err
	}
	if granted == nil {
		granted = NewPermissions()
	}

	// resolve unresolved grants before filtering by type
	if len(c.prototypes) > 0 {
		for _, proto := range c.prototypes {
			granted.Implies(proto)
		}
	} else {
		granted.Implies(p)
	}

	out := NewPermissions()
	for _, g := range granted.Elements() {
		if c.admits(g) {
			_ = out.Add(g)
		}
	}
	out.SetReadOnly()
	return out, nil
}

// implies runs with c.mu held; a panicking Implies counts as a denial so the
// lock is always released.
func (c *PermissionCache) implies(perms *Permissions, p Permission) (granted bool) {
	defer func() {
		if r := recover(); r != nil {
			granted = false
			c.logger.Error("permission check panicked",
				"cache_key", c.key,
				"context_id", c.contextID,
				"error", fmt.Errorf("%v", r),
			)
		}
	}()
	return perms.Implies(p)
}

func (c *PermissionCache) admits(g Permission) bool {
	if g.Type() == TypeAll {
		return true
	}
	if len(c.types) > 0 && !containsString(c.types, g.Type()) {
		return false
	}
	if c.name != "" && g.Name() != c.name {
		return false
	}
	return true
}

func (c *PermissionCache) logLoadFailure(err error) {
	kv := []any{
		"cache_key", c.key,
		"context_id", c.contextID,
		"code_source", c.codeSource.String(),
		"error", err,
	}
	if c.traceIDFunc != nil {
		kv = append(kv, "trace_id", c.traceIDFunc())
	}
	c.logger.Error("permission cache load failed", kv...)
}
