package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/jacc"
	"github.com/oarkflow/jacc/logger"
)

// SQLPolicyProvider is a jacc.PolicyProvider backed by the policy_grants
// table. Each row holds one permission in jacc.ParsePermission form and an
// optional expiry; expired rows are ignored.
type SQLPolicyProvider struct {
	jacc.ContextScope
	db     *squealx.DB
	logger logger.Logger
	now    func() time.Time
	strict bool
}

type SQLPolicyProviderOption func(*SQLPolicyProvider)

// WithSQLStrictContexts rejects switches to contexts missing from policy_contexts.
func WithSQLStrictContexts() SQLPolicyProviderOption {
	return func(s *SQLPolicyProvider) { s.strict = true }
}

func WithSQLLogger(l logger.Logger) SQLPolicyProviderOption {
	return func(s *SQLPolicyProvider) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSQLClock overrides the clock used for expiry checks.
func WithSQLClock(now func() time.Time) SQLPolicyProviderOption {
	return func(s *SQLPolicyProvider) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSQLPolicyProvider(db *squealx.DB, opts ...SQLPolicyProviderOption) *SQLPolicyProvider {
	s := &SQLPolicyProvider{db: db, logger: logger.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLPolicyProvider) AddContext(ctx context.Context, contextID string) error {
	q := `INSERT OR IGNORE INTO policy_contexts(id, created_at) VALUES(:id, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": contextID, "created_at": formatTimeOrNil(s.now())})
	return err
}

// RemoveContext deletes a context together with its grants.
func (s *SQLPolicyProvider) RemoveContext(ctx context.Context, contextID string) error {
	args := map[string]any{"id": contextID}
	if _, err := s.db.NamedExecContext(ctx, `DELETE FROM policy_grants WHERE context_id = :id`, args); err != nil {
		return err
	}
	_, err := s.db.NamedExecContext(ctx, `DELETE FROM policy_contexts WHERE id = :id`, args)
	return err
}

// Grant stores p for cs in contextID. A zero expiresAt never expires.
func (s *SQLPolicyProvider) Grant(ctx context.Context, contextID string, cs *jacc.CodeSource, p jacc.Permission, expiresAt time.Time) error {
	if err := s.AddContext(ctx, contextID); err != nil {
		return err
	}
	q := `INSERT OR REPLACE INTO policy_grants(context_id, code_source, permission, expires_at, created_at) VALUES(:context_id, :code_source, :permission, :expires_at, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"context_id":  contextID,
		"code_source": codeSourceKey(cs),
		"permission":  jacc.FormatPermission(p),
		"expires_at":  formatTimeOrNil(expiresAt),
		"created_at":  formatTimeOrNil(s.now()),
	})
	return err
}

// Revoke deletes every grant for cs in contextID.
func (s *SQLPolicyProvider) Revoke(ctx context.Context, contextID string, cs *jacc.CodeSource) error {
	q := `DELETE FROM policy_grants WHERE context_id = :context_id AND code_source = :code_source`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"context_id": contextID, "code_source": codeSourceKey(cs)})
	return err
}

func (s *SQLPolicyProvider) hasContext(ctx context.Context, contextID string) (bool, error) {
	r, err := s.db.NamedQueryContext(ctx, `SELECT id FROM policy_contexts WHERE id = :id`, map[string]any{"id": contextID})
	if err != nil {
		return false, err
	}
	defer r.Close()
	return r.Next(), r.Err()
}

func (s *SQLPolicyProvider) WithContext(ctx context.Context, contextID string, fn func(ctx context.Context) error) error {
	if s.strict && contextID != jacc.DefaultContextID {
		ok, err := s.hasContext(ctx, contextID)
		if err != nil {
			return fmt.Errorf("look up policy context %q: %w", contextID, err)
		}
		if !ok {
			return fmt.Errorf("switch to policy context %q: %w", contextID, jacc.ErrUnknownPolicyContext)
		}
	}
	return s.ContextScope.WithContext(ctx, contextID, fn)
}

// GrantedPermissions returns the unexpired grants for cs and for
// jacc.AnyCodeSource in the active policy context. Rows that fail to parse
// are logged and skipped.
func (s *SQLPolicyProvider) GrantedPermissions(ctx context.Context, cs *jacc.CodeSource) (*jacc.Permissions, error) {
	contextID := s.ContextID(ctx)
	q := `SELECT permission, expires_at FROM policy_grants WHERE context_id = :context_id AND (code_source = :code_source OR code_source = :any_source) ORDER BY id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"context_id":  contextID,
		"code_source": codeSourceKey(cs),
		"any_source":  jacc.AnyCodeSource.Key(),
	})
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer r.Close()

	now := s.now()
	out := jacc.NewPermissions()
	for r.Next() {
		var permText string
		var expiresRaw any
		if err := r.Scan(&permText, &expiresRaw); err != nil {
			return nil, err
		}
		expiresAt, ok, err := timeFromColumn(expiresRaw)
		if err != nil {
			s.logger.Error("bad grant expiry", "context_id", contextID, "permission", permText, "error", err)
			continue
		}
		if ok && !now.Before(expiresAt) {
			continue
		}
		p, err := jacc.ParsePermission(permText)
		if err != nil {
			s.logger.Error("bad grant permission", "context_id", contextID, "permission", permText, "error", err)
			continue
		}
		_ = out.Add(p)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
