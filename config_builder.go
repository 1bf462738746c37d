package jacc

// ConfigBuilder provides a fluent API for building policy configurations
type ConfigBuilder struct {
	cfg   *Config
	index map[string]int
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		cfg: &Config{
			Version:  1,
			Contexts: []ContextConfig{},
			Cache: CacheConfig{
				MaxEpoch:      DefaultMaxEpoch,
				GrantCacheTTL: DefaultGrantCacheConfig.TTL.Milliseconds(),
			},
		},
		index: map[string]int{},
	}
}

func (b *ConfigBuilder) Version(v uint16) *ConfigBuilder {
	b.cfg.Version = v
	return b
}

// AddContext declares a policy context; declaring it twice is harmless.
func (b *ConfigBuilder) AddContext(id string) *ConfigBuilder {
	b.context(id)
	return b
}

// Grant appends a grant to contextID, declaring the context if needed.
func (b *ConfigBuilder) Grant(contextID string, g *GrantBuilder) *ConfigBuilder {
	i := b.context(contextID)
	b.cfg.Contexts[i].Grants = append(b.cfg.Contexts[i].Grants, g.Build())
	return b
}

func (b *ConfigBuilder) CacheSettings(fn func(*CacheConfig)) *ConfigBuilder {
	fn(&b.cfg.Cache)
	return b
}

func (b *ConfigBuilder) Build() *Config {
	return b.cfg
}

func (b *ConfigBuilder) ToYAML() ([]byte, error) {
	return b.cfg.ToYAML()
}

func (b *ConfigBuilder) ToJSON() ([]byte, error) {
	return b.cfg.ToJSON()
}

func (b *ConfigBuilder) context(id string) int {
	if i, ok := b.index[id]; ok {
		return i
	}
	b.cfg.Contexts = append(b.cfg.Contexts, ContextConfig{ID: id, Grants: []GrantConfig{}})
	b.index[id] = len(b.cfg.Contexts) - 1
	return b.index[id]
}

// GrantBuilder builds a GrantConfig
type GrantBuilder struct {
	g GrantConfig
}

func NewGrantBuilder() *GrantBuilder { return &GrantBuilder{g: GrantConfig{Permissions: []string{}}} }

func (b *GrantBuilder) CodeSource(location string, signers ...string) *GrantBuilder {
	b.g.CodeSource = NewCodeSource(location, signers...)
	return b
}
func (b *GrantBuilder) AnyCodeSource() *GrantBuilder { b.g.CodeSource = AnyCodeSource; return b }

// Permission adds permissions in their text form.
func (b *GrantBuilder) Permission(p ...Permission) *GrantBuilder {
	for _, perm := range p {
		b.g.Permissions = append(b.g.Permissions, FormatPermission(perm))
	}
	return b
}

// Raw adds permissions already in ParsePermission form; they are checked by
// Config.Validate.
func (b *GrantBuilder) Raw(s ...string) *GrantBuilder {
	b.g.Permissions = append(b.g.Permissions, s...)
	return b
}
func (b *GrantBuilder) Build() GrantConfig { return b.g }
