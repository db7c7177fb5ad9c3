package shared

// Platform permission names. Dot-separated module.action strings matched by
// exact equality: "users" and "users.view" are unrelated grants.
const (
	PermUsers     = "users"
	PermUsersView = "users.view"

	PermRoles           = "roles"
	PermPermissionsView = "permissions.view"

	PermCatalogues       = "catalogues"
	PermCataloguesManage = "catalogues.manage"

	PermAuditView = "audit.view"

	// PermOrganizationsViewAll is the cross-tenant capability: holders see
	// every organization's data and bypass the maintenance gate.
	PermOrganizationsViewAll = "organizations.view_all"
)

// CoreScopes lists the permissions belonging to the platform core.
func CoreScopes() []string {
	return []string{
		PermUsers,
		PermUsersView,
		PermRoles,
		PermPermissionsView,
		PermCatalogues,
		PermCataloguesManage,
		PermAuditView,
		PermOrganizationsViewAll,
	}
}
