package jacc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes policy contexts with their grants and the cache settings.
type Config struct {
	Version  uint16          `json:"version" yaml:"version"`
	Contexts []ContextConfig `json:"contexts" yaml:"contexts"`
	Cache    CacheConfig     `json:"cache" yaml:"cache"`
}

type ContextConfig struct {
	ID     string        `json:"id" yaml:"id"`
	Grants []GrantConfig `json:"grants" yaml:"grants"`
}

// GrantConfig grants permissions, in ParsePermission form, to a code
// source. A missing code source means the unsigned one.
type GrantConfig struct {
	CodeSource  *CodeSource `json:"code_source,omitempty" yaml:"code_source,omitempty"`
	Permissions []string    `json:"permissions" yaml:"permissions"`
}

type CacheConfig struct {
	StrictContexts      bool   `json:"strict_contexts" yaml:"strict_contexts"`
	MaxEpoch            uint32 `json:"max_epoch" yaml:"max_epoch"`
	ResetInterval       int64  `json:"reset_interval_ms" yaml:"reset_interval_ms"`
	GrantCacheTTL       int64  `json:"grant_cache_ttl_ms" yaml:"grant_cache_ttl_ms"`
	RistrettoNumCounter int64  `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64  `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64  `json:"ristretto_buffer" yaml:"ristretto_buffer"`
}

// ConfigLoader loads configuration from YAML or JSON
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile picks the format from the file extension.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(data)
	case ".json":
		return l.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate parses every permission and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	seen := map[string]bool{}
	for i, ctxCfg := range c.Contexts {
		if seen[ctxCfg.ID] {
			errs = append(errs, fmt.Errorf("contexts[%d]: duplicate policy context %q", i, ctxCfg.ID))
		}
		seen[ctxCfg.ID] = true
		for j, g := range ctxCfg.Grants {
			for k, s := range g.Permissions {
				if _, err := ParsePermission(s); err != nil {
					errs = append(errs, fmt.Errorf("contexts[%d].grants[%d].permissions[%d]: %w", i, j, k, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// ConfigStats summarises a configuration.
type ConfigStats struct {
	Contexts    int            `json:"contexts"`
	CodeSources int            `json:"code_sources"`
	Grants      int            `json:"grants"`
	ByType      map[string]int `json:"by_type"`
}

func (c *Config) Stats() ConfigStats {
	st := ConfigStats{Contexts: len(c.Contexts), ByType: map[string]int{}}
	for _, ctxCfg := range c.Contexts {
		sources := map[string]bool{}
		for _, g := range ctxCfg.Grants {
			sources[codeSourceOrDefault(g.CodeSource).Key()] = true
			for _, s := range g.Permissions {
				st.Grants++
				p, err := ParsePermission(s)
				if err != nil {
					st.ByType["invalid"]++
					continue
				}
				st.ByType[p.Type()]++
			}
		}
		st.CodeSources += len(sources)
	}
	return st
}

// ApplyConfig loads every grant of cfg into m. Nothing is applied when any
// permission fails to parse.
func ApplyConfig(m *MemoryPolicy, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for _, ctxCfg := range cfg.Contexts {
		m.AddContext(ctxCfg.ID)
		for _, g := range ctxCfg.Grants {
			perms := make([]Permission, 0, len(g.Permissions))
			for _, s := range g.Permissions {
				p, _ := ParsePermission(s)
				perms = append(perms, p)
			}
			m.Grant(ctxCfg.ID, g.CodeSource, perms...)
		}
	}
	return nil
}

// NewMemoryPolicyFromConfig builds a MemoryPolicy seeded from cfg.
func NewMemoryPolicyFromConfig(cfg *Config) (*MemoryPolicy, error) {
	var opts []MemoryPolicyOption
	if cfg.Cache.StrictContexts {
		opts = append(opts, WithStrictContexts())
	}
	m := NewMemoryPolicy(opts...)
	if err := ApplyConfig(m, cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// CacheOptions translates the cache settings into PermissionCache options.
func (c CacheConfig) CacheOptions() []CacheOption {
	var opts []CacheOption
	if c.MaxEpoch > 0 {
		opts = append(opts, WithMaxEpoch(c.MaxEpoch))
	}
	return opts
}

// GrantCacheConfig translates the ristretto settings.
func (c CacheConfig) GrantCacheConfig() GrantCacheConfig {
	return GrantCacheConfig{
		NumCounters: c.RistrettoNumCounter,
		MaxCost:     c.RistrettoMaxCost,
		BufferItems: c.RistrettoBuffer,
		TTL:         time.Duration(c.GrantCacheTTL) * time.Millisecond,
	}
}

// DispatcherOptions translates the periodic reset setting.
func (c CacheConfig) DispatcherOptions() []InvalidationDispatcherOption {
	var opts []InvalidationDispatcherOption
	if c.ResetInterval > 0 {
		opts = append(opts, WithPeriodicReset(time.Duration(c.ResetInterval)*time.Millisecond))
	}
	return opts
}
