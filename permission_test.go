package jacc

import (
	"errors"
	"testing"
)

func TestFilePermissionImplies(t *testing.T) {
	grant := NewFilePermission("/tmp/*", "read,write")
	if !grant.Implies(NewFilePermission("/tmp/a", "read")) {
		t.Fatalf("expected read on direct child")
	}
	if grant.Implies(NewFilePermission("/tmp/a/b", "read")) {
		t.Fatalf("direct wildcard must not cover nested paths")
	}
	if grant.Implies(NewFilePermission("/tmp/a", "execute")) {
		t.Fatalf("execute was not granted")
	}
	if grant.Implies(NewSocketPermission("tmp:80", "connect")) {
		t.Fatalf("file grant must not imply a socket permission")
	}
	if got := grant.Actions(); got != "read,write" {
		t.Fatalf("unexpected canonical actions %q", got)
	}
}

func TestSocketPermissionImplies(t *testing.T) {
	grant := NewSocketPermission("*.example.com:8000-9000", "connect,accept")
	if !grant.Implies(NewSocketPermission("api.example.com:8080", "connect")) {
		t.Fatalf("expected connect in range")
	}
	if grant.Implies(NewSocketPermission("api.example.com:80", "connect")) {
		t.Fatalf("port outside range")
	}
	if grant.Implies(NewSocketPermission("api.example.com:8080", "listen")) {
		t.Fatalf("listen was not granted")
	}
	if !grant.Implies(NewSocketPermission("api.example.com", "resolve")) {
		t.Fatalf("connect implies resolve on any port")
	}
}

func TestBasicPermissionImplies(t *testing.T) {
	grant := NewBasicPermission(TypeRuntime, "accessClassInPackage.*", "")
	if !grant.Implies(NewBasicPermission(TypeRuntime, "accessClassInPackage.sun.misc", "")) {
		t.Fatalf("expected wildcard name match")
	}
	if grant.Implies(NewBasicPermission(TypeProperty, "accessClassInPackage.sun", "")) {
		t.Fatalf("different types must not imply each other")
	}
	web := NewBasicPermission(TypeWebResource, "/admin", "GET,POST")
	if !web.Implies(NewBasicPermission(TypeWebResource, "/admin", "GET")) {
		t.Fatalf("expected subset of methods")
	}
	if web.Implies(NewBasicPermission(TypeWebResource, "/admin", "DELETE")) {
		t.Fatalf("DELETE not granted")
	}
	if web.Implies(NewBasicPermission(TypeWebResource, "/admin", "")) {
		t.Fatalf("a grant with actions must not cover an action-less request")
	}
}

func TestParseAndFormatPermission(t *testing.T) {
	cases := []string{
		"file /tmp/* read",
		"socket *.example.com:443 connect,resolve",
		"runtime exitVM",
		"all",
		`file "/Program Files/app/-" read`,
		"unresolved file /data/- read",
	}
	for _, s := range cases {
		p, err := ParsePermission(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if got := FormatPermission(p); got != s {
			t.Fatalf("format(parse(%q)) = %q", s, got)
		}
	}
	if _, err := ParsePermission("bogus thing"); !errors.Is(err, ErrUnknownPermissionType) {
		t.Fatalf("expected unknown type error, got %v", err)
	}
	if _, err := ParsePermission("file /tmp fly"); !errors.Is(err, ErrInvalidPermission) {
		t.Fatalf("expected invalid action error, got %v", err)
	}
	if _, err := ParsePermission(`file "/tmp`); !errors.Is(err, ErrInvalidPermission) {
		t.Fatalf("expected unterminated quote error, got %v", err)
	}
	if _, err := ParsePermission("socket host:99999 connect"); !errors.Is(err, ErrInvalidPermission) {
		t.Fatalf("expected bad port error, got %v", err)
	}
}

func TestPermissionsCollection(t *testing.T) {
	c := NewPermissions(
		NewFilePermission("/tmp/*", "read"),
		NewUnresolvedPermission(TypeSocket, "db:5432", "connect"),
	)
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if !c.Implies(NewSocketPermission("db:5432", "connect")) {
		t.Fatalf("unresolved socket grant should resolve on demand")
	}
	for _, e := range c.Elements() {
		if e.Type() == TypeUnresolved {
			t.Fatalf("entry should have been resolved in place")
		}
	}
	c.SetReadOnly()
	if err := c.Add(NewAllPermission()); !errors.Is(err, ErrReadOnlyPermissions) {
		t.Fatalf("expected read-only error, got %v", err)
	}
	if c.Implies(NewFilePermission("/etc/passwd", "read")) {
		t.Fatalf("unexpected grant")
	}

	all := NewPermissions(NewAllPermission())
	if !all.Implies(NewBasicPermission("custom", "anything", "")) {
		t.Fatalf("all permission implies any permission")
	}
	var nilPerms *Permissions
	if nilPerms.Implies(NewAllPermission()) || nilPerms.Len() != 0 {
		t.Fatalf("nil collection grants nothing")
	}
}

func TestRegisterPermissionType(t *testing.T) {
	RegisterBasicType("ejb-method")
	p, err := NewPermission("ejb-method", "Cart.checkout", "Remote")
	if err != nil {
		t.Fatalf("new permission: %v", err)
	}
	if p.Type() != "ejb-method" || p.Name() != "Cart.checkout" {
		t.Fatalf("unexpected permission %v", p)
	}
	u := NewUnresolvedPermission("ejb-method", "Cart.*", "")
	c := NewPermissions(u)
	if !c.Implies(p) {
		t.Fatalf("expected resolved ejb-method grant")
	}
}

func TestCodeSourceKey(t *testing.T) {
	a := NewCodeSource("file:/a.jar", "bob", "alice")
	b := NewCodeSource("file:/a.jar", "alice", "bob")
	if a.Key() != b.Key() {
		t.Fatalf("signer order must not change the key")
	}
	var none *CodeSource
	if none.Key() != UnsignedCodeSource.Key() {
		t.Fatalf("nil code source is the unsigned one")
	}
	if UnsignedCodeSource.String() != "(unsigned, no location)" {
		t.Fatalf("unexpected string %q", UnsignedCodeSource.String())
	}
}
