package shared

// Capability names follow the module.action convention. They are seeded by
// the defaults initializer and referenced by route guards and the gateway.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView   = "roles.view"
	PermRolesManage = "roles.manage"

	PermPermissionsView = "permissions.view"

	PermAuditView  = "audit.view"
	PermAuditPurge = "audit.purge"

	PermSettingsView = "settings.view"
	PermSettingsEdit = "settings.edit"

	PermTasksView   = "tasks.view"
	PermTasksAssign = "tasks.assign"

	PermProfileEdit = "profile.edit"
)

// CoreCapabilities lists every capability the platform seeds by default,
// keyed by name with its human description.
func CoreCapabilities() map[string]string {
	return map[string]string{
		PermUsersView:       "View user accounts",
		PermUsersEdit:       "Edit user accounts and 2FA enrollment",
		PermRolesView:       "View roles and permissions",
		PermRolesManage:     "Manage roles, grants and assignments",
		PermPermissionsView: "View the permission catalog",
		PermAuditView:       "Browse the audit log",
		PermAuditPurge:      "Run audit log retention cleanup",
		PermSettingsView:    "View system settings",
		PermSettingsEdit:    "Edit system settings and integrations",
		PermTasksView:       "View tasks",
		PermTasksAssign:     "Assign tasks to staff",
		PermProfileEdit:     "Edit own profile and password",
	}
}
