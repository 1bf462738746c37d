package stores

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/jacc"
	"github.com/oarkflow/jacc/logger"
)

// These tests need a Redis server; set JACC_REDIS_ADDR to run them.
func newTestRedis(t *testing.T) *RedisPolicyProvider {
	t.Helper()
	addr := os.Getenv("JACC_REDIS_ADDR")
	if addr == "" {
		t.Skip("JACC_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	prefix := "jacctest" + time.Now().Format("150405.000000")
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), prefix+":*").Result()
		if len(keys) > 0 {
			client.Del(context.Background(), keys...)
		}
	})
	return NewRedisPolicyProvider(client, WithRedisPrefix(prefix), WithRedisLogger(logger.NewNullLogger()))
}

func TestRedisPolicyProviderGrants(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)
	cs := jacc.NewCodeSource("file:/apps/web.war")
	if err := r.Grant(ctx, "web", cs, jacc.NewFilePermission("/tmp/*", "read")); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := r.Grant(ctx, "web", jacc.AnyCodeSource, jacc.NewSocketPermission("*.example.com:443", "connect")); err != nil {
		t.Fatalf("grant any: %v", err)
	}
	perms, err := r.GrantedPermissions(jacc.WithPolicyContextID(ctx, "web"), cs)
	if err != nil {
		t.Fatalf("granted: %v", err)
	}
	if perms.Len() != 2 {
		t.Fatalf("expected 2 grants, got %d", perms.Len())
	}
	if !perms.Implies(jacc.NewSocketPermission("api.example.com:443", "connect")) {
		t.Fatalf("expected socket grant")
	}
	if err := r.Revoke(ctx, "web", cs); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	perms, _ = r.GrantedPermissions(jacc.WithPolicyContextID(ctx, "web"), cs)
	if perms.Len() != 1 {
		t.Fatalf("expected 1 grant after revoke, got %d", perms.Len())
	}
}

func TestRedisInvalidationReachesDispatcher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRedis(t)

	d := jacc.NewInvalidationDispatcher(jacc.WithDispatcherLogger(logger.NewNullLogger()))
	got := make(chan string, 1)
	d.Subscribe(jacc.AllContexts, jacc.InvalidationSubscriberFunc(func(_ context.Context, contextID string) error {
		got <- contextID
		return nil
	}))
	d.Start(ctx)
	defer d.Stop(context.Background())

	closeFn, err := r.SubscribeInvalidations(ctx, d)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer closeFn()

	if err := r.PublishInvalidation(ctx, "web"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case id := <-got:
		if id != "web" {
			t.Fatalf("unexpected context %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for invalidation")
	}
}
