package auth

import (
	"fmt"
	"strings"
)

// Role is a named tier with an ordered rank. The set is closed: adding a
// member requires extending rolePermissions, which the exhaustive switch
// there enforces at compile time.
type Role int

const (
	RoleViewer Role = iota + 1
	RoleAnalyst
	RoleManager
	RoleAdmin
	RoleSuperAdmin
)

// Roles lists every valid role in ascending rank order.
var Roles = []Role{RoleViewer, RoleAnalyst, RoleManager, RoleAdmin, RoleSuperAdmin}

// Permission is an atomic capability checked independently at call sites.
type Permission string

const (
	PermDataRead       Permission = "data.read"
	PermDataWrite      Permission = "data.write"
	PermDataDelete     Permission = "data.delete"
	PermDataExport     Permission = "data.export"
	PermViewAnalytics  Permission = "analytics.view"
	PermRunPredictions Permission = "predictions.run"
	PermManageUsers    Permission = "users.manage"
	PermManageRoles    Permission = "roles.manage"
	PermManageSystem   Permission = "system.manage"
	PermViewAudit      Permission = "audit.view"
	PermGrantsRead     Permission = "grants.read"
	PermGrantsWrite    Permission = "grants.write"
)

func (r Role) Valid() bool {
	return r >= RoleViewer && r <= RoleSuperAdmin
}

// Rank orders roles for at-least comparisons. Higher means more privileged.
func (r Role) Rank() int { return int(r) }

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleAnalyst:
		return "analyst"
	case RoleManager:
		return "manager"
	case RoleAdmin:
		return "admin"
	case RoleSuperAdmin:
		return "superadmin"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// MarshalJSON encodes the role by name.
func (r Role) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: cannot encode role %d", ErrInvalidInput, int(r))
	}
	return []byte(`"` + r.String() + `"`), nil
}

// UnmarshalJSON decodes a role from its name.
func (r *Role) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole maps a role name to its Role value.
func ParseRole(s string) (Role, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "viewer":
		return RoleViewer, nil
	case "analyst":
		return RoleAnalyst, nil
	case "manager":
		return RoleManager, nil
	case "admin":
		return RoleAdmin, nil
	case "superadmin":
		return RoleSuperAdmin, nil
	default:
		return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
}

// rolePermissions is the single source of truth binding each role to its
// permission set. Shipped tiers are supersets of every lower tier, but no
// caller may rely on that: rank checks go through Rank, membership checks
// through PermissionsFor.
func rolePermissions(r Role) []Permission {
	switch r {
	case RoleViewer:
		return []Permission{PermDataRead, PermViewAnalytics}
	case RoleAnalyst:
		return []Permission{
			PermDataRead, PermViewAnalytics,
			PermDataWrite, PermDataExport, PermRunPredictions, PermGrantsRead,
		}
	case RoleManager:
		return []Permission{
			PermDataRead, PermViewAnalytics,
			PermDataWrite, PermDataExport, PermRunPredictions, PermGrantsRead,
			PermDataDelete, PermGrantsWrite, PermManageUsers,
		}
	case RoleAdmin:
		return []Permission{
			PermDataRead, PermViewAnalytics,
			PermDataWrite, PermDataExport, PermRunPredictions, PermGrantsRead,
			PermDataDelete, PermGrantsWrite, PermManageUsers,
			PermManageRoles, PermViewAudit,
		}
	case RoleSuperAdmin:
		return []Permission{
			PermDataRead, PermViewAnalytics,
			PermDataWrite, PermDataExport, PermRunPredictions, PermGrantsRead,
			PermDataDelete, PermGrantsWrite, PermManageUsers,
			PermManageRoles, PermViewAudit,
			PermManageSystem,
		}
	default:
		return nil
	}
}

// PermissionsFor returns a fresh copy of the permission set for the role.
func PermissionsFor(r Role) []Permission {
	src := rolePermissions(r)
	out := make([]Permission, len(src))
	copy(out, src)
	return out
}

func permissionSetContains(perms []Permission, p Permission) bool {
	for _, have := range perms {
		if have == p {
			return true
		}
	}
	return false
}
