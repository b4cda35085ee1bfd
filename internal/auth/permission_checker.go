package auth

import "context"

type PermissionChecker interface {
	HasPermission(ctx context.Context, userPermissions []string, permission string) (bool, error)
	CanReplayPayments(userPermissions []string) bool
	CanManageShipping(userPermissions []string) bool
}

type DefaultPermissionChecker struct{}

func NewPermissionChecker() PermissionChecker {
	return &DefaultPermissionChecker{}
}

// HasPermission treats admin as holding every permission.
func (c *DefaultPermissionChecker) HasPermission(ctx context.Context, userPermissions []string, permission string) (bool, error) {
	return c.hasAnyPermission(userPermissions, []string{permission, PermissionAdmin}), nil
}

func (c *DefaultPermissionChecker) CanReplayPayments(userPermissions []string) bool {
	return c.hasAnyPermission(userPermissions, []string{PermissionReplayPayments, PermissionAdmin})
}

func (c *DefaultPermissionChecker) CanManageShipping(userPermissions []string) bool {
	return c.hasAnyPermission(userPermissions, []string{PermissionManageShipping, PermissionAdmin})
}

func (c *DefaultPermissionChecker) hasAnyPermission(userPermissions []string, requiredPermissions []string) bool {
	for _, userPerm := range userPermissions {
		for _, requiredPerm := range requiredPermissions {
			if userPerm == requiredPerm {
				return true
			}
		}
	}
	return false
}
