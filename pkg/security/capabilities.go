package security

import (
	"sort"
	"sync"
)

// Principal is the identity a call chain executes on behalf of.
type Principal struct {
	ID    string
	Roles []string
}

// Anonymous is the default principal; it never satisfies @secure.
var Anonymous = Principal{}

// IsDefault reports whether p carries no authenticated identity.
func (p Principal) IsDefault() bool {
	return p.ID == "" || p.ID == "anonymous"
}

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// WildcardResource matches every resource in a grant.
const WildcardResource = "*"

// DefaultRoles maps the built-in roles to their permitted operations.
func DefaultRoles() map[string][]string {
	return map[string][]string{
		"admin":     {"read", "write", "delete", "admin"},
		"moderator": {"read", "write", "moderate"},
		"user":      {"read", "write"},
	}
}

type opSet map[string]struct{}

// Registry answers capability checks from explicit grants first and role
// defaults second.
type Registry struct {
	mu     sync.RWMutex
	grants map[string]map[string]opSet
	roles  map[string]opSet
}

// NewRegistry creates a registry seeded with roles; nil selects DefaultRoles.
func NewRegistry(roles map[string][]string) *Registry {
	if roles == nil {
		roles = DefaultRoles()
	}
	r := &Registry{
		grants: make(map[string]map[string]opSet),
		roles:  make(map[string]opSet, len(roles)),
	}
	for role, ops := range roles {
		r.DefineRole(role, ops...)
	}
	return r
}

// DefineRole replaces the operations permitted to role.
func (r *Registry) DefineRole(role string, ops ...string) {
	set := make(opSet, len(ops))
	for _, op := range ops {
		set[op] = struct{}{}
	}
	r.mu.Lock()
	r.roles[role] = set
	r.mu.Unlock()
}

// Grant allows principalID to perform ops on resource.
func (r *Registry) Grant(principalID, resource string, ops ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byResource, ok := r.grants[principalID]
	if !ok {
		byResource = make(map[string]opSet)
		r.grants[principalID] = byResource
	}
	set, ok := byResource[resource]
	if !ok {
		set = make(opSet)
		byResource[resource] = set
	}
	for _, op := range ops {
		set[op] = struct{}{}
	}
}

// Revoke removes ops from an explicit grant.
func (r *Registry) Revoke(principalID, resource string, ops ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.grants[principalID][resource]
	for _, op := range ops {
		delete(set, op)
	}
}

// Check reports whether p may perform op on resource.
func (r *Registry) Check(p Principal, resource, op string) bool {
	if p.IsDefault() {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if byResource, ok := r.grants[p.ID]; ok {
		for _, res := range []string{resource, WildcardResource} {
			if _, ok := byResource[res][op]; ok {
				return true
			}
		}
	}
	for _, role := range p.Roles {
		if _, ok := r.roles[role][op]; ok {
			return true
		}
	}
	return false
}

// Permissions lists the operations p holds through its roles.
func (r *Registry) Permissions(p Principal) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, role := range p.Roles {
		for op := range r.roles[role] {
			seen[op] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for op := range seen {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}
