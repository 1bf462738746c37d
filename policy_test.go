package jacc

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryPolicyGrantsPerContext(t *testing.T) {
	m := NewMemoryPolicy()
	cs := NewCodeSource("file:/apps/shop.war")
	m.Grant("shop", cs, NewFilePermission("/srv/shop/-", "read"))
	m.Grant("shop", AnyCodeSource, NewBasicPermission(TypeProperty, "user.*", "read"))
	m.Grant("billing", cs, NewAllPermission())

	ctx := context.Background()
	var perms *Permissions
	if err := m.WithContext(ctx, "shop", func(ctx context.Context) error {
		var err error
		perms, err = m.GrantedPermissions(ctx, cs)
		return err
	}); err != nil {
		t.Fatalf("with context: %v", err)
	}
	if perms.Len() != 2 {
		t.Fatalf("expected code source and any-code-source grants, got %d", perms.Len())
	}
	if perms.Implies(NewSocketPermission("db:5432", "connect")) {
		t.Fatalf("shop context must not see billing grants")
	}

	def, err := m.GrantedPermissions(ctx, cs)
	if err != nil {
		t.Fatalf("default context: %v", err)
	}
	if def.Len() != 0 {
		t.Fatalf("default context should be empty, got %d", def.Len())
	}

	m.Revoke("shop", cs)
	perms, _ = m.GrantedPermissions(WithPolicyContextID(ctx, "shop"), cs)
	if perms.Len() != 1 {
		t.Fatalf("expected only the shared grant after revoke, got %d", perms.Len())
	}
}

func TestMemoryPolicyStrictContexts(t *testing.T) {
	m := NewMemoryPolicy(WithStrictContexts())
	ctx := context.Background()
	called := false
	err := m.WithContext(ctx, "ghost", func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrUnknownPolicyContext) {
		t.Fatalf("expected unknown context error, got %v", err)
	}
	if called {
		t.Fatalf("fn must not run for an unknown context")
	}
	if _, err := m.GrantedPermissions(WithPolicyContextID(ctx, "ghost"), nil); !errors.Is(err, ErrUnknownPolicyContext) {
		t.Fatalf("expected unknown context error from grants, got %v", err)
	}

	m.AddContext("ghost")
	if err := m.WithContext(ctx, "ghost", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("known context: %v", err)
	}
	m.RemoveContext("ghost")
	if got := m.Contexts(); len(got) != 1 || got[0] != DefaultContextID {
		t.Fatalf("unexpected contexts %v", got)
	}
}

func TestWithContextRestoresOnError(t *testing.T) {
	m := NewMemoryPolicy()
	ctx := WithPolicyContextID(context.Background(), "outer")
	boom := errors.New("boom")
	err := m.WithContext(ctx, "inner", func(ctx context.Context) error {
		if m.ContextID(ctx) != "inner" {
			t.Fatalf("expected inner context active")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if m.ContextID(ctx) != "outer" {
		t.Fatalf("outer context must be unchanged")
	}
}

func TestPrivilegedFuncWrapsSwitch(t *testing.T) {
	calls := 0
	priv := PrivilegedFunc(func(ctx context.Context, action func(ctx context.Context) error) error {
		calls++
		return action(ctx)
	})
	m := NewMemoryPolicy()
	m.Grant("app", nil, NewBasicPermission(TypeRuntime, "exitVM", ""))
	c := newTestCache(t, m, WithContextID("app"), WithPrivileged(priv))
	if !c.CheckPermission(context.Background(), NewBasicPermission(TypeRuntime, "exitVM", ""), nil) {
		t.Fatalf("expected grant")
	}
	if calls != 1 {
		t.Fatalf("expected one privileged switch, got %d", calls)
	}

	// already inside the target context: no switch
	c2 := newTestCache(t, m, WithContextID("app"), WithPrivileged(priv))
	c2.CheckPermission(WithPolicyContextID(context.Background(), "app"), NewBasicPermission(TypeRuntime, "exitVM", ""), nil)
	if calls != 1 {
		t.Fatalf("no switch expected when the context is already active, got %d", calls)
	}
}
