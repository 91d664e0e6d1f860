package auth

// Built-in role names seeded by BootstrapAdmin and the in-memory store.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// Authorities checked by the identity endpoints.
var (
	AuthorityAdmin    = RoleAuthority(RoleAdmin)
	AuthorityUser     = RoleAuthority(RoleUser)
	AuthorityUserRead = PermissionAuthority("user_read")
	AuthorityRoleRead = PermissionAuthority("role_read")
)

// BuiltinPermissions are granted to the ADMIN role on bootstrap.
var BuiltinPermissions = []string{"user_read", "user_write", "role_read", "role_write"}
