package jacc_test

import (
	"context"
	"testing"

	"github.com/oarkflow/jacc"
	"github.com/oarkflow/jacc/logger"
)

func newFactory(t *testing.T) (*jacc.MemoryPolicy, *jacc.PermissionCacheFactory) {
	t.Helper()
	m := jacc.NewMemoryPolicy()
	return m, jacc.NewPermissionCacheFactory(m, jacc.WithCacheLogger(logger.NewNullLogger()))
}

func TestFactoryAssignsUniqueKeys(t *testing.T) {
	_, f := newFactory(t)
	a, err := f.CreatePermissionCache("app", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := f.CreatePermissionCache("app", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Key() == b.Key() {
		t.Fatalf("expected distinct keys, got %d twice", a.Key())
	}
	if got, ok := f.Get(b.Key()); !ok || got != b {
		t.Fatalf("lookup by key failed")
	}
	if !f.RemovePermissionCache(a) || f.RemovePermissionCache(a) {
		t.Fatalf("remove should succeed exactly once")
	}
	if f.Len() != 1 {
		t.Fatalf("expected 1 cache, got %d", f.Len())
	}
	if _, err := f.CreatePermissionCache("app", nil, jacc.WithMaxEpoch(1)); err == nil {
		t.Fatalf("expected option error")
	}
}

func TestFactoryResetContext(t *testing.T) {
	ctx := context.Background()
	m, f := newFactory(t)
	m.Grant("a", nil, jacc.NewBasicPermission(jacc.TypeRuntime, "exitVM", ""))
	m.Grant("b", nil, jacc.NewBasicPermission(jacc.TypeRuntime, "exitVM", ""))
	ca, _ := f.CreatePermissionCache("a", nil)
	cb, _ := f.CreatePermissionCache("b", nil)
	exit := jacc.NewBasicPermission(jacc.TypeRuntime, "exitVM", "")
	if !ca.CheckPermission(ctx, exit, nil) || !cb.CheckPermission(ctx, exit, nil) {
		t.Fatalf("expected both caches to grant")
	}

	if err := f.OnPolicyChange(ctx, "a"); err != nil {
		t.Fatalf("policy change: %v", err)
	}
	if ca.Loaded() || ca.Epoch() != 2 {
		t.Fatalf("cache a should be reset")
	}
	if !cb.Loaded() || cb.Epoch() != 1 {
		t.Fatalf("cache b must be untouched")
	}

	if err := f.OnPolicyChange(ctx, jacc.AllContexts); err != nil {
		t.Fatalf("policy change: %v", err)
	}
	if cb.Loaded() {
		t.Fatalf("cache b should be reset by a change to every context")
	}
}

func TestWebResourceCache(t *testing.T) {
	ctx := context.Background()
	m, f := newFactory(t)
	m.Grant("web", nil,
		jacc.NewUnresolvedPermission(jacc.TypeWebResource, "/admin", "GET"),
		jacc.NewBasicPermission(jacc.TypeWebUserData, "/pay", "POST"),
		jacc.NewBasicPermission(jacc.TypeWebRole, "manager", ""),
	)
	c, err := f.CreateWebResourceCache("web")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !c.CheckPermission(ctx, jacc.NewBasicPermission(jacc.TypeWebUserData, "/pay", "POST"), nil) {
		t.Fatalf("expected user data grant")
	}
	if !c.CheckPermission(ctx, jacc.NewBasicPermission(jacc.TypeWebResource, "/admin", "GET"), nil) {
		t.Fatalf("expected unresolved web resource grant to survive filtering")
	}
	if c.CheckPermission(ctx, jacc.NewBasicPermission(jacc.TypeWebRole, "manager", ""), nil) {
		t.Fatalf("role grants are filtered out of a web resource cache")
	}
}
