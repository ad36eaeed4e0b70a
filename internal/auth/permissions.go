package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermDeviceRead      Permission = "device:read"
	PermDeviceOperate   Permission = "device:operate"
	PermDeviceProvision Permission = "device:provision"
	PermAuditRead       Permission = "audit:read"
	PermUserManage      Permission = "user:manage"
	PermSystemRead      Permission = "system:read"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleUser: {
		PermDeviceRead,
		PermDeviceOperate, // owner-scoped
	},
	RoleOperator: {
		PermDeviceRead,
		PermDeviceOperate,
		PermSystemRead,
	},
	RoleAdmin: {
		PermDeviceRead,
		PermDeviceOperate,
		PermDeviceProvision,
		PermAuditRead,
		PermUserManage,
		PermSystemRead,
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

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}

// IsOwnerScoped returns true if the role may only touch locks it owns.
func IsOwnerScoped(role Role) bool {
	return role == RoleUser
}

// CanAccessDevice reports whether a caller may act on a lock owned by ownerID.
func CanAccessDevice(role Role, userID, ownerID string) bool {
	if !IsOwnerScoped(role) {
		return IsValidRole(role)
	}
	return ownerID != "" && ownerID == userID
}
