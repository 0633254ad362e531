package domain

import "strings"

// Permission is a bitset of religion-scoped capabilities.
type Permission uint32

const (
	PermViewMembers Permission = 1 << iota
	PermInvitePlayers
	PermKickMembers
	PermBanPlayers
	PermManageRoles
	PermEditReligion
)

// PermAll is held by the Founder role.
const PermAll = PermViewMembers | PermInvitePlayers | PermKickMembers | PermBanPlayers |
	PermManageRoles | PermEditReligion

var permissionNames = []struct {
	perm Permission
	name string
}{
	{PermViewMembers, "view_members"},
	{PermInvitePlayers, "invite_players"},
	{PermKickMembers, "kick_members"},
	{PermBanPlayers, "ban_players"},
	{PermManageRoles, "manage_roles"},
	{PermEditReligion, "edit_religion"},
}

// Has reports whether every bit of q is set in p.
func (p Permission) Has(q Permission) bool {
	return q != 0 && p&q == q
}

func (p Permission) With(q Permission) Permission { return p | q }

func (p Permission) Without(q Permission) Permission { return p &^ q }

// Known strips bits that do not correspond to a defined permission.
func (p Permission) Known() Permission { return p & PermAll }

// Names lists the set flags in declaration order.
func (p Permission) Names() []string {
	out := make([]string, 0, len(permissionNames))
	for _, entry := range permissionNames {
		if p.Has(entry.perm) {
			out = append(out, entry.name)
		}
	}
	return out
}

func (p Permission) String() string {
	return strings.Join(p.Names(), ",")
}

// ParsePermission resolves a single permission flag by name.
func ParsePermission(name string) (Permission, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, entry := range permissionNames {
		if entry.name == name {
			return entry.perm, true
		}
	}
	return 0, false
}
