package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/oarkflow/squealx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/jacc"
	"github.com/oarkflow/jacc/logger"
	"github.com/oarkflow/jacc/metrics"
	"github.com/oarkflow/jacc/stores"
)

var checkOpts struct {
	contextID   string
	location    string
	signers     []string
	permissions []string
	sqliteDSN   string
	redisAddr   string
	showMetrics bool
}

var errDenied = errors.New("one or more permissions denied")

var checkCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Evaluate permissions against a policy",
	Long: `Load a policy file into a policy provider and evaluate each --permission
through a permission cache for the given context and code source.

By default the policy is held in memory. With --sqlite or --redis the grants
are first written to that store and checks read them back from it.

Exits non-zero when any permission is denied.`,
	Example: `  jacc-policy check policy.yaml --context shop \
    --codesource file:/apps/shop.war --signer acme \
    -p "file /srv/shop/cart write" -p "socket db.internal:5432 connect"`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	f := checkCmd.Flags()
	f.StringVar(&checkOpts.contextID, "context", jacc.DefaultContextID, "policy context id")
	f.StringVar(&checkOpts.location, "codesource", "", "code source location")
	f.StringSliceVar(&checkOpts.signers, "signer", nil, "code source signer (repeatable)")
	f.StringArrayVarP(&checkOpts.permissions, "permission", "p", nil, `permission to check, e.g. "file /tmp/x read" (repeatable)`)
	f.StringVar(&checkOpts.sqliteDSN, "sqlite", "", "load the policy into this SQLite database and check against it")
	f.StringVar(&checkOpts.redisAddr, "redis", "", "load the policy into this Redis server and check against it")
	f.BoolVar(&checkOpts.showMetrics, "metrics", false, "print cache metrics after the checks")
	_ = checkCmd.MarkFlagRequired("permission")
	checkCmd.MarkFlagsMutuallyExclusive("sqlite", "redis")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(args[0])
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	perms := make([]jacc.Permission, 0, len(checkOpts.permissions))
	for _, s := range checkOpts.permissions {
		p, err := jacc.ParsePermission(s)
		if err != nil {
			return fmt.Errorf("--permission %q: %w", s, err)
		}
		perms = append(perms, p)
	}

	provider, closeFn, err := openProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	grants, err := jacc.NewGrantCache(provider, cfg.Cache.GrantCacheConfig())
	if err != nil {
		return err
	}
	defer grants.Close()

	reg := prometheus.NewRegistry()
	opts := append(cfg.Cache.CacheOptions(),
		jacc.WithCacheMetrics(metrics.NewPrometheus(reg)),
		jacc.WithCacheLogger(logger.Default()),
	)
	factory := jacc.NewPermissionCacheFactory(grants, opts...)
	cs := jacc.NewCodeSource(checkOpts.location, checkOpts.signers...)
	cache, err := factory.CreatePermissionCache(checkOpts.contextID, cs)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	denied := 0
	for _, p := range perms {
		verdict := "GRANTED"
		if !cache.CheckPermission(ctx, p, nil) {
			verdict = "DENIED"
			denied++
		}
		fmt.Fprintf(out, "%-8s %s\n", verdict, jacc.FormatPermission(p))
	}

	if checkOpts.showMetrics {
		if err := writeMetrics(out, reg); err != nil {
			return err
		}
	}
	if denied > 0 {
		return errDenied
	}
	return nil
}

// openProvider returns the provider selected by the flags, seeded with cfg.
func openProvider(ctx context.Context, cfg *jacc.Config) (jacc.PolicyProvider, func(), error) {
	switch {
	case checkOpts.sqliteDSN != "":
		sqlDB, err := sql.Open("sqlite", checkOpts.sqliteDSN)
		if err != nil {
			return nil, nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		db := squealx.NewDb(sqlDB, "sqlite", checkOpts.sqliteDSN)
		if err := stores.Migrate(db); err != nil {
			sqlDB.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		var sqlOpts []stores.SQLPolicyProviderOption
		if cfg.Cache.StrictContexts {
			sqlOpts = append(sqlOpts, stores.WithSQLStrictContexts())
		}
		p := stores.NewSQLPolicyProvider(db, sqlOpts...)
		err = seed(cfg, func(contextID string, cs *jacc.CodeSource, perms []jacc.Permission) error {
			if err := p.AddContext(ctx, contextID); err != nil {
				return err
			}
			for _, perm := range perms {
				if err := p.Grant(ctx, contextID, cs, perm, time.Time{}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		return p, func() { sqlDB.Close() }, nil

	case checkOpts.redisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: checkOpts.redisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", checkOpts.redisAddr, err)
		}
		var redisOpts []stores.RedisPolicyProviderOption
		if cfg.Cache.StrictContexts {
			redisOpts = append(redisOpts, stores.WithRedisStrictContexts())
		}
		p := stores.NewRedisPolicyProvider(client, redisOpts...)
		err := seed(cfg, func(contextID string, cs *jacc.CodeSource, perms []jacc.Permission) error {
			return p.Grant(ctx, contextID, cs, perms...)
		})
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return p, func() { client.Close() }, nil
	}

	m, err := jacc.NewMemoryPolicyFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	return m, func() {}, nil
}

func seed(cfg *jacc.Config, grant func(contextID string, cs *jacc.CodeSource, perms []jacc.Permission) error) error {
	for _, c := range cfg.Contexts {
		if len(c.Grants) == 0 {
			// registers the context
			if err := grant(c.ID, nil, nil); err != nil {
				return fmt.Errorf("seed context %q: %w", c.ID, err)
			}
		}
		for _, g := range c.Grants {
			perms := make([]jacc.Permission, 0, len(g.Permissions))
			for _, s := range g.Permissions {
				p, err := jacc.ParsePermission(s)
				if err != nil {
					return err
				}
				perms = append(perms, p)
			}
			if err := grant(c.ID, g.CodeSource, perms); err != nil {
				return fmt.Errorf("seed context %q: %w", c.ID, err)
			}
		}
	}
	return nil
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
