package jacc

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/oarkflow/jacc/utils"
)

// ============================================================================
// PERMISSIONS
// ============================================================================

// Permission types understood out of the box.
const (
	TypeAll         = "all"
	TypeFile        = "file"
	TypeSocket      = "socket"
	TypeRuntime     = "runtime"
	TypeProperty    = "property"
	TypeUnresolved  = "unresolved"
	TypeWebResource = "web-resource"
	TypeWebUserData = "web-user-data"
	TypeWebRole     = "web-role"
)

var (
	ErrUnknownPermissionType = errors.New("unknown permission type")
	ErrInvalidPermission     = errors.New("invalid permission")
	ErrReadOnlyPermissions   = errors.New("permissions collection is read-only")
)

// Permission is a single grantable right. Type identifies the concrete kind
// and is what cache type filters compare against.
type Permission interface {
	Type() string
	Name() string
	Actions() string
	Implies(p Permission) bool
}

// AllPermission implies every other permission.
type AllPermission struct{}

func NewAllPermission() *AllPermission { return &AllPermission{} }

func (a *AllPermission) Type() string              { return TypeAll }
func (a *AllPermission) Name() string              { return "<all permissions>" }
func (a *AllPermission) Actions() string           { return "<all actions>" }
func (a *AllPermission) Implies(_ Permission) bool { return true }
func (a *AllPermission) String() string            { return FormatPermission(a) }

// BasicPermission is a named permission with a hierarchical dotted name.
// A trailing ".*" or a bare "*" is a wildcard. Actions are optional; an empty
// action list on the granting side covers any actions.
type BasicPermission struct {
	kind    string
	name    string
	actions []string
}

func NewBasicPermission(kind, name, actions string) *BasicPermission {
	return &BasicPermission{kind: kind, name: name, actions: splitActions(actions)}
}

func (b *BasicPermission) Type() string    { return b.kind }
func (b *BasicPermission) Name() string    { return b.name }
func (b *BasicPermission) Actions() string { return strings.Join(b.actions, ",") }
func (b *BasicPermission) String() string  { return FormatPermission(b) }

func (b *BasicPermission) Implies(p Permission) bool {
	o, ok := p.(*BasicPermission)
	if !ok || o.kind != b.kind {
		return false
	}
	if !basicNameImplies(b.name, o.name) {
		return false
	}
	if len(b.actions) == 0 {
		return true
	}
	if len(o.actions) == 0 {
		return false
	}
	for _, a := range o.actions {
		if !containsString(b.actions, a) {
			return false
		}
	}
	return true
}

func basicNameImplies(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	}
	return pattern == name
}

// file actions
const (
	fileRead uint8 = 1 << iota
	fileWrite
	fileExecute
	fileDelete
	fileReadlink
)

var fileActionNames = []struct {
	name string
	bit  uint8
}{
	{"read", fileRead},
	{"write", fileWrite},
	{"execute", fileExecute},
	{"delete", fileDelete},
	{"readlink", fileReadlink},
}

// FilePermission grants actions on a path or path pattern.
// See utils.MatchPath for the supported wildcard forms.
type FilePermission struct {
	path string
	mask uint8
}

// NewFilePermission builds a file permission; unknown actions are ignored.
// Use NewPermission for strict validation.
func NewFilePermission(path, actions string) *FilePermission {
	mask, _ := parseFileActions(actions)
	return &FilePermission{path: path, mask: mask}
}

func parseFileActions(actions string) (uint8, error) {
	var mask uint8
	for _, a := range splitActions(strings.ToLower(actions)) {
		found := false
		for _, fa := range fileActionNames {
			if fa.name == a {
				mask |= fa.bit
				found = true
				break
			}
		}
		if !found {
			return mask, fmt.Errorf("%w: file action %q", ErrInvalidPermission, a)
		}
	}
	return mask, nil
}

func (f *FilePermission) Type() string   { return TypeFile }
func (f *FilePermission) Name() string   { return f.path }
func (f *FilePermission) String() string { return FormatPermission(f) }

func (f *FilePermission) Actions() string {
	out := make([]string, 0, len(fileActionNames))
	for _, fa := range fileActionNames {
		if f.mask&fa.bit != 0 {
			out = append(out, fa.name)
		}
	}
	return strings.Join(out, ",")
}

func (f *FilePermission) Implies(p Permission) bool {
	o, ok := p.(*FilePermission)
	if !ok {
		return false
	}
	if o.mask == 0 || f.mask&o.mask != o.mask {
		return false
	}
	return utils.PathImplies(f.path, o.path)
}

// socket actions
const (
	sockConnect uint8 = 1 << iota
	sockListen
	sockAccept
	sockResolve
)

var socketActionNames = []struct {
	name string
	bit  uint8
}{
	{"accept", sockAccept},
	{"connect", sockConnect},
	{"listen", sockListen},
	{"resolve", sockResolve},
}

// SocketPermission grants network actions on "host[:portrange]".
// Any of accept, connect or listen implies resolve.
type SocketPermission struct {
	name  string
	host  string
	ports utils.PortRange
	mask  uint8
}

// NewSocketPermission builds a socket permission; unknown actions and
// malformed port ranges fall back to no actions and the full range.
func NewSocketPermission(hostPort, actions string) *SocketPermission {
	sp, err := newSocketPermission(hostPort, actions)
	if err != nil {
		host, _ := splitHostPort(hostPort)
		mask, _ := parseSocketActions(actions)
		return &SocketPermission{name: hostPort, host: host, ports: utils.FullPortRange, mask: mask}
	}
	return sp
}

func newSocketPermission(hostPort, actions string) (*SocketPermission, error) {
	mask, err := parseSocketActions(actions)
	if err != nil {
		return nil, err
	}
	host, portSpec := splitHostPort(hostPort)
	if host == "" {
		return nil, fmt.Errorf("%w: socket host is empty", ErrInvalidPermission)
	}
	ports, ok := utils.ParsePortRange(portSpec)
	if !ok {
		return nil, fmt.Errorf("%w: socket port range %q", ErrInvalidPermission, portSpec)
	}
	return &SocketPermission{name: hostPort, host: host, ports: ports, mask: mask}, nil
}

func splitHostPort(s string) (string, string) {
	if idx := strings.LastIndex(s, ":"); idx != -1 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

func parseSocketActions(actions string) (uint8, error) {
	var mask uint8
	for _, a := range splitActions(strings.ToLower(actions)) {
		found := false
		for _, sa := range socketActionNames {
			if sa.name == a {
				mask |= sa.bit
				found = true
				break
			}
		}
		if !found {
			return mask, fmt.Errorf("%w: socket action %q", ErrInvalidPermission, a)
		}
	}
	if mask != 0 {
		mask |= sockResolve
	}
	return mask, nil
}

func (s *SocketPermission) Type() string   { return TypeSocket }
func (s *SocketPermission) Name() string   { return s.name }
func (s *SocketPermission) String() string { return FormatPermission(s) }

func (s *SocketPermission) Actions() string {
	out := make([]string, 0, len(socketActionNames))
	for _, sa := range socketActionNames {
		if s.mask&sa.bit != 0 {
			out = append(out, sa.name)
		}
	}
	return strings.Join(out, ",")
}

func (s *SocketPermission) Implies(p Permission) bool {
	o, ok := p.(*SocketPermission)
	if !ok {
		return false
	}
	if o.mask == 0 || s.mask&o.mask != o.mask {
		return false
	}
	if !utils.MatchHost(s.host, o.host) {
		return false
	}
	// resolve is not port specific
	if o.mask == sockResolve {
		return true
	}
	return s.ports.Contains(o.ports)
}

// UnresolvedPermission is a grant whose concrete type is only known by name.
// It never implies anything itself; collections resolve it on demand once a
// permission of its target type is checked against them.
type UnresolvedPermission struct {
	target  string
	name    string
	actions string
}

func NewUnresolvedPermission(target, name, actions string) *UnresolvedPermission {
	return &UnresolvedPermission{target: target, name: name, actions: actions}
}

func (u *UnresolvedPermission) Type() string              { return TypeUnresolved }
func (u *UnresolvedPermission) TargetType() string        { return u.target }
func (u *UnresolvedPermission) Name() string              { return u.name }
func (u *UnresolvedPermission) Actions() string           { return u.actions }
func (u *UnresolvedPermission) Implies(_ Permission) bool { return false }
func (u *UnresolvedPermission) String() string {
	return TypeUnresolved + " " + FormatPermission(&BasicPermission{kind: u.target, name: u.name, actions: splitActions(u.actions)})
}

// Resolve builds the concrete permission through the type registry.
func (u *UnresolvedPermission) Resolve() (Permission, error) {
	return NewPermission(u.target, u.name, u.actions)
}

// ============================================================================
// TYPE REGISTRY
// ============================================================================

// PermissionFactory builds a permission of one registered type.
type PermissionFactory func(name, actions string) (Permission, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]PermissionFactory{}
)

func init() {
	RegisterPermissionType(TypeAll, func(_, _ string) (Permission, error) { return NewAllPermission(), nil })
	RegisterPermissionType(TypeFile, func(name, actions string) (Permission, error) {
		if name == "" {
			return nil, fmt.Errorf("%w: file path is empty", ErrInvalidPermission)
		}
		mask, err := parseFileActions(actions)
		if err != nil {
			return nil, err
		}
		return &FilePermission{path: name, mask: mask}, nil
	})
	RegisterPermissionType(TypeSocket, func(name, actions string) (Permission, error) {
		return newSocketPermission(name, actions)
	})
	for _, kind := range []string{TypeRuntime, TypeProperty, TypeWebResource, TypeWebUserData, TypeWebRole} {
		RegisterBasicType(kind)
	}
}

// RegisterPermissionType installs or replaces the factory for kind.
func RegisterPermissionType(kind string, f PermissionFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = f
}

// RegisterBasicType registers kind as a BasicPermission type.
func RegisterBasicType(kind string) {
	RegisterPermissionType(kind, func(name, actions string) (Permission, error) {
		if name == "" {
			return nil, fmt.Errorf("%w: %s name is empty", ErrInvalidPermission, kind)
		}
		return NewBasicPermission(kind, name, actions), nil
	})
}

// NewPermission builds a permission of a registered type.
func NewPermission(kind, name, actions string) (Permission, error) {
	registryMu.RLock()
	f, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPermissionType, kind)
	}
	return f(name, actions)
}

// ============================================================================
// TEXT FORM
// ============================================================================

// ParsePermission parses `type [name [actions]]`. Name and actions may be
// double-quoted when they contain spaces. The form `unresolved type name
// [actions]` produces an UnresolvedPermission without consulting the
// registry.
func ParsePermission(s string) (Permission, error) {
	fields, err := splitQuoted(s)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty permission", ErrInvalidPermission)
	}
	if fields[0] == TypeUnresolved {
		if len(fields) < 3 || len(fields) > 4 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPermission, s)
		}
		actions := ""
		if len(fields) == 4 {
			actions = fields[3]
		}
		return NewUnresolvedPermission(fields[1], fields[2], actions), nil
	}
	if len(fields) > 3 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPermission, s)
	}
	for len(fields) < 3 {
		fields = append(fields, "")
	}
	return NewPermission(fields[0], fields[1], fields[2])
}

// FormatPermission renders p in the form accepted by ParsePermission.
func FormatPermission(p Permission) string {
	if u, ok := p.(*UnresolvedPermission); ok {
		return u.String()
	}
	if p.Type() == TypeAll {
		return TypeAll
	}
	var b strings.Builder
	b.WriteString(p.Type())
	b.WriteByte(' ')
	b.WriteString(quoteIfNeeded(p.Name()))
	if a := p.Actions(); a != "" {
		b.WriteByte(' ')
		b.WriteString(quoteIfNeeded(a))
	}
	return b.String()
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

func splitQuoted(s string) ([]string, error) {
	var out []string
	var cur strings.Builder
	inQuote, escaped, started := false, false, false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case inQuote && r == '\\':
			escaped = true
		case r == '"':
			inQuote = !inQuote
			started = true
		case !inQuote && (r == ' ' || r == '\t'):
			if started {
				out = append(out, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("%w: unterminated quote in %q", ErrInvalidPermission, s)
	}
	if started {
		out = append(out, cur.String())
	}
	return out, nil
}

func splitActions(actions string) []string {
	if strings.TrimSpace(actions) == "" {
		return nil
	}
	parts := strings.Split(actions, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" && !containsString(out, p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
