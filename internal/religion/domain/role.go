package domain

import (
	"strings"
	"time"
)

const (
	FounderRoleID = "founder"
	MemberRoleID  = "member"

	maxRoleNameLength = 24
)

// Role is a named permission bundle scoped to one religion.
//
// Invariants:
//   - exactly one role per religion is the Founder role; it is protected
//   - protected roles can be neither edited nor deleted
//   - exactly one role is the default role handed to new joiners
type Role struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Permissions Permission `json:"permissions"`
	IsDefault   bool       `json:"is_default"`
	IsProtected bool       `json:"is_protected"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (r Role) Can(perm Permission) bool {
	return r.Permissions.Has(perm)
}

func (r Role) IsFounder() bool {
	return r.ID == FounderRoleID
}

// FounderRole returns the immutable role held by a religion's founder.
func FounderRole(now time.Time) Role {
	return Role{
		ID:          FounderRoleID,
		Name:        "Founder",
		Permissions: PermAll,
		IsProtected: true,
		CreatedAt:   now,
	}
}

// MemberRole returns the default role seeded into every religion.
func MemberRole(now time.Time) Role {
	return Role{
		ID:          MemberRoleID,
		Name:        "Member",
		Permissions: PermViewMembers,
		IsDefault:   true,
		CreatedAt:   now,
	}
}

// NormalizeRoleName trims and validates a role display name.
func NormalizeRoleName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("role_name", ErrInvalidName)
	}
	if len([]rune(name)) > maxRoleNameLength {
		return "", invalid("role_name", ErrNameTooLong)
	}
	return name, nil
}
