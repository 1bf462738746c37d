package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/jacc"
	"github.com/oarkflow/jacc/logger"
)

// RedisPolicyProvider keeps grants in Redis sets, one per policy context and
// code source (key: {prefix}:grants:{context}:{code source key}). Known
// contexts are tracked in {prefix}:contexts.
type RedisPolicyProvider struct {
	jacc.ContextScope
	client *redis.Client
	prefix string
	strict bool
	logger logger.Logger
}

type RedisPolicyProviderOption func(*RedisPolicyProvider)

func WithRedisPrefix(prefix string) RedisPolicyProviderOption {
	return func(r *RedisPolicyProvider) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func WithRedisStrictContexts() RedisPolicyProviderOption {
	return func(r *RedisPolicyProvider) { r.strict = true }
}

func WithRedisLogger(l logger.Logger) RedisPolicyProviderOption {
	return func(r *RedisPolicyProvider) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRedisPolicyProvider(client *redis.Client, opts ...RedisPolicyProviderOption) *RedisPolicyProvider {
	r := &RedisPolicyProvider{client: client, prefix: "jacc", logger: logger.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisPolicyProvider) grantsKey(contextID string, cs *jacc.CodeSource) string {
	return fmt.Sprintf("%s:grants:%s:%s", r.prefix, contextID, codeSourceKey(cs))
}

func (r *RedisPolicyProvider) contextsKey() string {
	return r.prefix + ":contexts"
}

func (r *RedisPolicyProvider) invalidationChannel() string {
	return r.prefix + ":invalidate"
}

// Grant adds perms for cs in contextID.
func (r *RedisPolicyProvider) Grant(ctx context.Context, contextID string, cs *jacc.CodeSource, perms ...jacc.Permission) error {
	members := make([]any, 0, len(perms))
	for _, p := range perms {
		members = append(members, jacc.FormatPermission(p))
	}
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.contextsKey(), contextID)
	if len(members) > 0 {
		pipe.SAdd(ctx, r.grantsKey(contextID, cs), members...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Revoke removes every grant for cs in contextID.
func (r *RedisPolicyProvider) Revoke(ctx context.Context, contextID string, cs *jacc.CodeSource) error {
	return r.client.Del(ctx, r.grantsKey(contextID, cs)).Err()
}

func (r *RedisPolicyProvider) WithContext(ctx context.Context, contextID string, fn func(ctx context.Context) error) error {
	if r.strict && contextID != jacc.DefaultContextID {
		ok, err := r.client.SIsMember(ctx, r.contextsKey(), contextID).Result()
		if err != nil {
			return fmt.Errorf("look up policy context %q: %w", contextID, err)
		}
		if !ok {
			return fmt.Errorf("switch to policy context %q: %w", contextID, jacc.ErrUnknownPolicyContext)
		}
	}
	return r.ContextScope.WithContext(ctx, contextID, fn)
}

// GrantedPermissions returns the grants for cs and jacc.AnyCodeSource in the
// active policy context.
func (r *RedisPolicyProvider) GrantedPermissions(ctx context.Context, cs *jacc.CodeSource) (*jacc.Permissions, error) {
	contextID := r.ContextID(ctx)
	members, err := r.client.SUnion(ctx, r.grantsKey(contextID, cs), r.grantsKey(contextID, jacc.AnyCodeSource)).Result()
	if err != nil {
		return nil, fmt.Errorf("read grants: %w", err)
	}
	out := jacc.NewPermissions()
	for _, m := range members {
		p, err := jacc.ParsePermission(m)
		if err != nil {
			r.logger.Error("bad grant permission", "context_id", contextID, "permission", m, "error", err)
			continue
		}
		_ = out.Add(p)
	}
	return out, nil
}

// PublishInvalidation tells every subscribed process that contextID changed.
func (r *RedisPolicyProvider) PublishInvalidation(ctx context.Context, contextID string) error {
	return r.client.Publish(ctx, r.invalidationChannel(), contextID).Err()
}

// ChangeNotifier receives policy change notifications;
// *jacc.InvalidationDispatcher implements it.
type ChangeNotifier interface {
	NotifyPolicyChange(contextID string) bool
}

// SubscribeInvalidations forwards published invalidations to n until ctx is
// done or the returned close function is called.
func (r *RedisPolicyProvider) SubscribeInvalidations(ctx context.Context, n ChangeNotifier) (func() error, error) {
	if n == nil {
		return nil, errors.New("change notifier is required")
	}
	pubsub := r.client.Subscribe(ctx, r.invalidationChannel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe invalidations: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				n.NotifyPolicyChange(msg.Payload)
			}
		}
	}()
	return pubsub.Close, nil
}
