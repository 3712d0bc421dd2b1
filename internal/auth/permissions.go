package auth

// Permission represents a named capability in the system.
type Permission string

const (
	PermBridgeRead    Permission = "bridge:read"
	PermBridgeOperate Permission = "bridge:operate"
	PermSystemAdmin   Permission = "system:admin"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermBridgeRead,
	},
	RoleOperator: {
		PermBridgeRead,
		PermBridgeOperate,
	},
	RoleAdmin: {
		PermBridgeRead,
		PermBridgeOperate,
		PermSystemAdmin,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to role, or
// nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
