package shared

// Core platform permissions, named module.action.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView = "permissions.view"
	PermPermissionsEdit = "permissions.edit"

	PermMenusView = "menus.view"
	PermMenusEdit = "menus.edit"

	PermContentView = "content.view"
	PermContentEdit = "content.edit"

	PermGrantsEdit = "grants.edit"

	PermAuditView = "audit.view"
)

// CoreScopes lists all permissions the portal ships with.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermPermissionsEdit,
		PermMenusView,
		PermMenusEdit,
		PermContentView,
		PermContentEdit,
		PermGrantsEdit,
		PermAuditView,
	}
}
