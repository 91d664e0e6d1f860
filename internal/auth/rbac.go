package auth

import (
	"sort"
	"strings"
)

const (
	rolePrefix       = "ROLE_"
	permissionPrefix = "PERM_"
)

// RoleAuthority formats a role name as an authority string.
func RoleAuthority(name string) string {
	return rolePrefix + strings.ToUpper(strings.TrimSpace(name))
}

// PermissionAuthority formats a permission name as an authority string.
func PermissionAuthority(name string) string {
	return permissionPrefix + strings.ToUpper(strings.TrimSpace(name))
}

// ResolveAuthorities derives the authority set of u: one ROLE_ entry per
// active role and one PERM_ entry per active permission reachable through an
// active role. Duplicates collapse; the result is sorted. A user without
// roles gets an empty set.
func ResolveAuthorities(u *User) []string {
	if u == nil || len(u.Roles) == 0 {
		return []string{}
	}
	set := make(map[string]struct{})
	for _, role := range u.Roles {
		if !role.Active || strings.TrimSpace(role.Name) == "" {
			continue
		}
		set[RoleAuthority(role.Name)] = struct{}{}
		for _, perm := range role.Permissions {
			if !perm.Active || strings.TrimSpace(perm.Name) == "" {
				continue
			}
			set[PermissionAuthority(perm.Name)] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
