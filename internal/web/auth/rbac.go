package auth

import (
	"errors"
	"slices"
)

var (
	ErrUnauthorized = errors.New("unauthorized: insufficient permissions")
)

// Role definitions
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Permission definitions
const (
	PermissionReadGraves    = "graves:read"
	PermissionRestoreGraves = "graves:restore"
	PermissionPruneGraves   = "graves:prune"
	PermissionDecompose     = "graveyard:decompose"
	PermissionReadHistory   = "history:read"
	PermissionViewMetrics   = "metrics:read"
)

var viewerPermissions = []string{
	PermissionReadGraves,
	PermissionReadHistory,
	PermissionViewMetrics,
}

var operatorPermissions = append(slices.Clone(viewerPermissions),
	PermissionRestoreGraves,
	PermissionPruneGraves,
)

// RolePermissions maps roles to their allowed permissions. Each role
// includes everything the one below it may do.
var RolePermissions = map[string][]string{
	RoleViewer:   viewerPermissions,
	RoleOperator: operatorPermissions,
	RoleAdmin:    append(slices.Clone(operatorPermissions), PermissionDecompose),
}

// HasPermission checks if user roles include the required permission
func HasPermission(userRoles []string, requiredPermission string) bool {
	for _, role := range userRoles {
		if slices.Contains(RolePermissions[role], requiredPermission) {
			return true
		}
	}
	return false
}

// RequirePermission returns a check that fails with ErrUnauthorized unless
// the claims grant permission.
func RequirePermission(permission string) func(*Claims) error {
	return func(claims *Claims) error {
		if claims == nil || !HasPermission(claims.Roles, permission) {
			return ErrUnauthorized
		}
		return nil
	}
}
