package jacc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ============================================================================
// POLICY PROVIDER
// ============================================================================

// ErrUnknownPolicyContext is returned when switching to a policy context the
// provider does not know about.
var ErrUnknownPolicyContext = errors.New("unknown policy context")

// DefaultContextID names the provider's default policy context.
const DefaultContextID = ""

// PolicyProvider is the policy engine a PermissionCache consults.
//
// The active policy context travels on the context.Context. WithContext runs
// fn with contextID active; the previous context is back in effect as soon
// as fn returns, whatever the outcome.
type PolicyProvider interface {
	ContextID(ctx context.Context) string
	WithContext(ctx context.Context, contextID string, fn func(ctx context.Context) error) error
	GrantedPermissions(ctx context.Context, cs *CodeSource) (*Permissions, error)
}

type policyContextKey struct{}

// WithPolicyContextID returns a context carrying contextID as the active
// policy context.
func WithPolicyContextID(ctx context.Context, contextID string) context.Context {
	return context.WithValue(ctx, policyContextKey{}, contextID)
}

// PolicyContextIDFrom returns the active policy context, or DefaultContextID.
func PolicyContextIDFrom(ctx context.Context) string {
	if ctx == nil {
		return DefaultContextID
	}
	if id, ok := ctx.Value(policyContextKey{}).(string); ok {
		return id
	}
	return DefaultContextID
}

// ContextScope provides ContextID and WithContext for providers that keep
// the active policy context on the context.Context.
type ContextScope struct{}

func (ContextScope) ContextID(ctx context.Context) string {
	return PolicyContextIDFrom(ctx)
}

func (ContextScope) WithContext(ctx context.Context, contextID string, fn func(ctx context.Context) error) error {
	return fn(WithPolicyContextID(ctx, contextID))
}

// Privileged runs an action with elevated rights. Policy context switches
// performed by a PermissionCache go through it.
type Privileged interface {
	Do(ctx context.Context, action func(ctx context.Context) error) error
}

// PrivilegedFunc adapts a function to Privileged.
type PrivilegedFunc func(ctx context.Context, action func(ctx context.Context) error) error

func (f PrivilegedFunc) Do(ctx context.Context, action func(ctx context.Context) error) error {
	return f(ctx, action)
}

// DirectPrivileged runs actions as-is.
var DirectPrivileged Privileged = PrivilegedFunc(func(ctx context.Context, action func(ctx context.Context) error) error {
	return action(ctx)
})

// ============================================================================
// IN-MEMORY POLICY
// ============================================================================

// AnyCodeSource receives grants that apply to every code source.
var AnyCodeSource = &CodeSource{Location: "*"}

// MemoryPolicy is an in-memory PolicyProvider. Grants are kept per policy
// context and code source; grants to AnyCodeSource apply to all code sources
// in the same context.
type MemoryPolicy struct {
	ContextScope
	mu     sync.RWMutex
	grants map[string]map[string][]Permission // context -> code source key -> grants
	strict bool
}

type MemoryPolicyOption func(*MemoryPolicy)

// WithStrictContexts makes WithContext fail for contexts never added.
func WithStrictContexts() MemoryPolicyOption {
	return func(m *MemoryPolicy) { m.strict = true }
}

func NewMemoryPolicy(opts ...MemoryPolicyOption) *MemoryPolicy {
	m := &MemoryPolicy{grants: map[string]map[string][]Permission{DefaultContextID: {}}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddContext registers an empty policy context if it does not exist yet.
func (m *MemoryPolicy) AddContext(contextID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.grants[contextID]; !ok {
		m.grants[contextID] = map[string][]Permission{}
	}
}

// RemoveContext drops a policy context and all its grants. The default
// context is only emptied.
func (m *MemoryPolicy) RemoveContext(contextID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if contextID == DefaultContextID {
		m.grants[DefaultContextID] = map[string][]Permission{}
		return
	}
	delete(m.grants, contextID)
}

// Contexts lists the known policy contexts.
func (m *MemoryPolicy) Contexts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.grants))
	for id := range m.grants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Grant adds permissions for cs in contextID, creating the context if needed.
func (m *MemoryPolicy) Grant(contextID string, cs *CodeSource, perms ...Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byCS, ok := m.grants[contextID]
	if !ok {
		byCS = map[string][]Permission{}
		m.grants[contextID] = byCS
	}
	key := codeSourceOrDefault(cs).Key()
	byCS[key] = append(byCS[key], perms...)
}

// Revoke removes every grant for cs in contextID.
func (m *MemoryPolicy) Revoke(contextID string, cs *CodeSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if byCS, ok := m.grants[contextID]; ok {
		delete(byCS, codeSourceOrDefault(cs).Key())
	}
}

func (m *MemoryPolicy) WithContext(ctx context.Context, contextID string, fn func(ctx context.Context) error) error {
	if m.strict {
		m.mu.RLock()
		_, ok := m.grants[contextID]
		m.mu.RUnlock()
		if !ok {
			return fmt.Errorf("switch to policy context %q: %w", contextID, ErrUnknownPolicyContext)
		}
	}
	return m.ContextScope.WithContext(ctx, contextID, fn)
}

// GrantedPermissions returns a fresh collection with the grants for cs in the
// active policy context.
func (m *MemoryPolicy) GrantedPermissions(ctx context.Context, cs *CodeSource) (*Permissions, error) {
	contextID := m.ContextID(ctx)
	m.mu.RLock()
	defer m.mu.RUnlock()
	byCS, ok := m.grants[contextID]
	if !ok {
		if m.strict {
			return nil, fmt.Errorf("grants for policy context %q: %w", contextID, ErrUnknownPolicyContext)
		}
		return NewPermissions(), nil
	}
	out := NewPermissions(byCS[codeSourceOrDefault(cs).Key()]...)
	if cs == nil || cs.Key() != AnyCodeSource.Key() {
		for _, p := range byCS[AnyCodeSource.Key()] {
			_ = out.Add(p)
		}
	}
	return out, nil
}
