package types

import "sort"

// Permissions is the derived set of permissions a member holds in a group.
// It is never stored, only recomputed from the group roles and the member's role.
type Permissions map[string]struct{}

// ResolvePermissions computes the member's permission set. A role id the
// group does not define yields an empty set.
func ResolvePermissions(group *GroupInfo, member *MemberInfo) Permissions {
	perms := make(Permissions)
	if group == nil || member == nil {
		return perms
	}

	role, ok := group.Role(member.RoleID)
	if !ok {
		return perms
	}

	for _, p := range role.Permissions {
		perms[p] = struct{}{}
	}
	return perms
}

// Has reports whether the set contains permission
func (p Permissions) Has(permission string) bool {
	_, ok := p[permission]
	return ok
}

// Equal reports whether both sets hold the same permissions
func (p Permissions) Equal(other Permissions) bool {
	if len(p) != len(other) {
		return false
	}
	for k := range p {
		if !other.Has(k) {
			return false
		}
	}
	return true
}

// List returns the permissions sorted by name
func (p Permissions) List() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
