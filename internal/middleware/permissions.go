package middleware

import (
	"net/http"

	"go.uber.org/zap"
)

// Permission is a single capability checked before a handler runs.
type Permission string

const (
	PermPurchase         Permission = "purchase"
	PermTopUp            Permission = "top_up"
	PermViewTransactions Permission = "view_transactions"
	PermViewStats        Permission = "view_stats"
	PermScan             Permission = "scan"
	PermViewCustomers    Permission = "view_customers"
	PermManageCustomers  Permission = "manage_customers"
)

type Role string

const (
	RoleOperator   Role = "operator"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

type PermissionSet map[Permission]struct{}

func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

var operatorPermissions = []Permission{
	PermPurchase,
	PermTopUp,
	PermViewTransactions,
	PermViewStats,
	PermScan,
	PermViewCustomers,
}

// Registering, editing and deactivating customers is for admins only.
var adminPermissions = append([]Permission{PermManageCustomers}, operatorPermissions...)

// Roles resolve to permissions here and nowhere else.
var rolePermissions = map[Role]PermissionSet{
	RoleOperator:   NewPermissionSet(operatorPermissions...),
	RoleAdmin:      NewPermissionSet(adminPermissions...),
	RoleSuperAdmin: NewPermissionSet(adminPermissions...),
}

// PermissionsFor returns the permission set granted to role.
func PermissionsFor(role Role) (PermissionSet, bool) {
	set, ok := rolePermissions[role]
	return set, ok
}

// Require rejects requests whose principal lacks perm.
func Require(perm Permission, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}

			if !principal.Permissions.Has(perm) {
				logger.Warn("permission denied",
					zap.String("user_id", principal.UserID),
					zap.String("role", string(principal.Role)),
					zap.String("permission", string(perm)),
				)
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
