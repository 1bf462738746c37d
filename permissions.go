package jacc

import "sync"

// Permissions is a goroutine-safe heterogeneous permission collection.
//
// Unresolved entries are resolved lazily: the first Implies call for a
// permission of their target type replaces them with the concrete
// permission. Entries whose type cannot be resolved stay unresolved.
type Permissions struct {
	mu         sync.RWMutex
	perms      []Permission
	unresolved int
	hasAll     bool
	readOnly   bool
}

func NewPermissions(perms ...Permission) *Permissions {
	c := &Permissions{}
	for _, p := range perms {
		_ = c.Add(p)
	}
	return c
}

// Add appends p. It fails once the collection has been made read-only.
func (c *Permissions) Add(p Permission) error {
	if p == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readOnly {
		return ErrReadOnlyPermissions
	}
	c.perms = append(c.perms, p)
	switch p.Type() {
	case TypeAll:
		c.hasAll = true
	case TypeUnresolved:
		c.unresolved++
	}
	return nil
}

// SetReadOnly freezes the collection against further Add calls.
func (c *Permissions) SetReadOnly() {
	c.mu.Lock()
	c.readOnly = true
	c.mu.Unlock()
}

func (c *Permissions) IsReadOnly() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readOnly
}

func (c *Permissions) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.perms)
}

// Elements returns a copy of the current entries.
func (c *Permissions) Elements() []Permission {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Permission, len(c.perms))
	copy(out, c.perms)
	return out
}

// Implies reports whether any entry implies p.
func (c *Permissions) Implies(p Permission) bool {
	if c == nil || p == nil {
		return false
	}
	c.resolve(p.Type())
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.hasAll {
		return true
	}
	for _, e := range c.perms {
		if e.Implies(p) {
			return true
		}
	}
	return false
}

func (c *Permissions) resolve(kind string) {
	c.mu.RLock()
	pending := c.unresolved > 0
	c.mu.RUnlock()
	if !pending {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.perms {
		u, ok := e.(*UnresolvedPermission)
		if !ok || u.TargetType() != kind {
			continue
		}
		r, err := u.Resolve()
		if err != nil {
			continue
		}
		c.perms[i] = r
		c.unresolved--
		if r.Type() == TypeAll {
			c.hasAll = true
		}
	}
}
