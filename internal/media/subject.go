package media

import (
	"fmt"
	"strings"
)

// Role is a subject's role tier within a tenant. Tiers are ordered.
type Role int

const (
	RoleNone Role = iota
	RoleSubscriber
	RoleContributor
	RoleAuthor
	RoleEditor
	RoleAdministrator
)

var roleNames = []string{"none", "subscriber", "contributor", "author", "editor", "administrator"}

func (r Role) String() string {
	if r < 0 || int(r) >= len(roleNames) {
		return fmt.Sprintf("Role(%d)", int(r))
	}
	return roleNames[r]
}

// ParseRole converts a role name to a Role.
func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range roleNames {
		if name == s {
			return Role(i), nil
		}
	}
	return RoleNone, fmt.Errorf("unknown role: %q", s)
}

// Subject is an already-authenticated caller as reported by the identity
// provider. A zero ID means anonymous.
type Subject struct {
	ID       int64
	TenantID int64
	Role     Role

	// NetworkAdmin is a super-administrator across all tenants.
	NetworkAdmin bool
}

// Anonymous returns an unauthenticated subject for the tenant.
func Anonymous(tenantID int64) Subject {
	return Subject{TenantID: tenantID}
}

// Authenticated reports whether the subject has an identity.
func (s Subject) Authenticated() bool {
	return s.ID != 0
}

// Owns reports whether the subject owns e.
func (s Subject) Owns(e *Entry) bool {
	return e != nil && s.Authenticated() && e.OwnerID == s.ID && e.TenantID == s.TenantID
}
