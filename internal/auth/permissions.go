package auth

import "slices"

// Permission is a named capability checked by the API.
type Permission string

const (
	PermDeviceRead    Permission = "device:read"
	PermDeviceOperate Permission = "device:operate"
	PermDeviceManage  Permission = "device:manage"
	PermAuditRead     Permission = "audit:read"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermDeviceRead,
		PermAuditRead,
	},
	RoleOperator: {
		PermDeviceRead,
		PermDeviceOperate,
		PermDeviceManage,
		PermAuditRead,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns a copy of the permissions granted to role, or
// nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}
