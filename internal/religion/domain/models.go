// Package domain contains the religion aggregate and its value objects.
package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/pantheon/internal/deity"
)

const (
	// MaxNameLength bounds religion display names.
	MaxNameLength = 32

	MaxDescriptionLength = 200
)

// Religion is a named player group devoted to one deity.
//
// Invariants (kept by the methods below, checked again on load):
//   - the founder is always a member and always holds the Founder role
//   - MemberIDs, MemberNames and MemberRoles hold exactly the same player ids
//   - every member role resolves to an entry in Roles
//   - a banned player is never a member
//
// Single membership across religions is enforced by the registry, not here.
type Religion struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Slug          string               `json:"slug"`
	Deity         deity.Deity          `json:"deity"`
	FounderID     string               `json:"founder_id"`
	FounderName   string               `json:"founder_name"`
	Description   string               `json:"description"`
	IsPublic      bool                 `json:"is_public"`
	MemberIDs     []string             `json:"member_ids"`
	MemberNames   map[string]string    `json:"member_names"`
	MemberRoles   map[string]string    `json:"member_roles"`
	Roles         map[string]Role      `json:"roles"`
	Bans          map[string]BanRecord `json:"bans"`
	Prestige      int64                `json:"prestige"`
	TotalPrestige int64                `json:"total_prestige"`
	PrestigeRank  PrestigeRank         `json:"prestige_rank"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// NewReligion validates input and builds a religion whose sole member is its founder.
func NewReligion(id, name string, d deity.Deity, founderID, founderName string, isPublic bool, now time.Time) (*Religion, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	if !d.Valid() {
		return nil, invalid("deity", ErrInvalidDeity)
	}
	founderID = strings.TrimSpace(founderID)
	if founderID == "" {
		return nil, invalid("founder_id", ErrInvalidPlayer)
	}

	r := &Religion{
		ID:          id,
		Name:        name,
		Slug:        slug.Make(name),
		Deity:       d,
		FounderID:   founderID,
		FounderName: founderName,
		IsPublic:    isPublic,
		MemberNames: map[string]string{},
		MemberRoles: map[string]string{},
		Roles: map[string]Role{
			FounderRoleID: FounderRole(now),
			MemberRoleID:  MemberRole(now),
		},
		Bans:      map[string]BanRecord{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.AddMember(founderID, founderName, FounderRoleID)
	return r, nil
}

// NormalizeName trims and validates a religion name.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("name", ErrInvalidName)
	}
	if len([]rune(name)) > MaxNameLength {
		return "", invalid("name", ErrNameTooLong)
	}
	return name, nil
}

// NormalizeDescription trims and bounds a free-text description. Empty is allowed.
func NormalizeDescription(text string) (string, error) {
	text = strings.TrimSpace(text)
	if len([]rune(text)) > MaxDescriptionLength {
		return "", invalid("description", ErrNameTooLong)
	}
	return text, nil
}

// NameKey is the case-insensitive uniqueness key for a religion name.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Religion) IsMember(playerID string) bool {
	_, ok := r.MemberRoles[playerID]
	return ok
}

func (r *Religion) IsFounder(playerID string) bool {
	return playerID != "" && r.FounderID == playerID
}

func (r *Religion) MemberCount() int {
	return len(r.MemberIDs)
}

// DefaultRole returns the role handed to new joiners.
func (r *Religion) DefaultRole() Role {
	for _, role := range r.sortedRoles() {
		if role.IsDefault {
			return role
		}
	}
	if role, ok := r.Roles[MemberRoleID]; ok {
		return role
	}
	return MemberRole(r.CreatedAt)
}

// RoleOf resolves the role held by a member.
func (r *Religion) RoleOf(playerID string) (Role, bool) {
	roleID, ok := r.MemberRoles[playerID]
	if !ok {
		return Role{}, false
	}
	role, ok := r.Roles[roleID]
	return role, ok
}

// HasPermission reports whether a member's role grants perm. Non-members have none.
func (r *Religion) HasPermission(playerID string, perm Permission) bool {
	role, ok := r.RoleOf(playerID)
	if !ok {
		return false
	}
	return role.Can(perm)
}

// AddMember appends a member with the given role (the default role when empty).
// Re-adding an existing member is a no-op. It reports whether the member was added.
func (r *Religion) AddMember(playerID, name, roleID string) bool {
	if r.IsMember(playerID) {
		return false
	}
	if _, ok := r.Roles[roleID]; !ok || roleID == "" {
		roleID = r.DefaultRole().ID
	}
	r.MemberIDs = append(r.MemberIDs, playerID)
	r.MemberNames[playerID] = name
	r.MemberRoles[playerID] = roleID
	return true
}

// RemoveMember drops a member from all three membership views.
// It does not run founder succession; see PromoteNextFounder.
func (r *Religion) RemoveMember(playerID string) bool {
	if !r.IsMember(playerID) {
		return false
	}
	r.MemberIDs = slices.DeleteFunc(r.MemberIDs, func(id string) bool { return id == playerID })
	delete(r.MemberNames, playerID)
	delete(r.MemberRoles, playerID)
	return true
}

// PromoteNextFounder hands founder authority to the earliest remaining member.
// It reports false when no member is left.
func (r *Religion) PromoteNextFounder() bool {
	if len(r.MemberIDs) == 0 {
		return false
	}
	r.SetFounder(r.MemberIDs[0])
	return true
}

// SetFounder makes a current member the founder. The previous founder, if still a
// member, drops to the default role.
func (r *Religion) SetFounder(playerID string) {
	if !r.IsMember(playerID) {
		return
	}
	previous := r.FounderID
	if previous != playerID && r.IsMember(previous) {
		r.MemberRoles[previous] = r.DefaultRole().ID
	}
	r.FounderID = playerID
	r.FounderName = r.MemberNames[playerID]
	r.MemberRoles[playerID] = FounderRoleID
}

// ActiveBan returns the live ban for playerID. Expired bans are treated as absent.
func (r *Religion) ActiveBan(playerID string, now time.Time) (BanRecord, bool) {
	ban, ok := r.Bans[playerID]
	if !ok || IsExpired(ban, now) {
		return BanRecord{}, false
	}
	return ban, true
}

// PurgeExpiredBans removes lapsed bans and returns how many were removed.
func (r *Religion) PurgeExpiredBans(now time.Time) int {
	removed := 0
	for id, ban := range r.Bans {
		if IsExpired(ban, now) {
			delete(r.Bans, id)
			removed++
		}
	}
	return removed
}

// ApplyBan records a ban and evicts the player if they are a member.
// Founder succession is intentionally not triggered here; callers must refuse
// to ban the founder.
func (r *Religion) ApplyBan(ban BanRecord) {
	r.RemoveMember(ban.PlayerID)
	r.Bans[ban.PlayerID] = ban
}

// AddPrestige adjusts spendable prestige and, for gains, the lifetime total and rank.
func (r *Religion) AddPrestige(amount int64, thresholds []int64) {
	r.Prestige += amount
	if r.Prestige < 0 {
		r.Prestige = 0
	}
	if amount > 0 {
		r.TotalPrestige += amount
	}
	r.PrestigeRank = RankFor(r.TotalPrestige, thresholds)
}

// Repair re-establishes the entity invariants after decoding persisted state.
// It reports whether anything had to change.
func (r *Religion) Repair(now time.Time) bool {
	changed := false
	if r.MemberNames == nil {
		r.MemberNames = map[string]string{}
		changed = true
	}
	if r.MemberRoles == nil {
		r.MemberRoles = map[string]string{}
		changed = true
	}
	if r.Bans == nil {
		r.Bans = map[string]BanRecord{}
		changed = true
	}
	if r.Roles == nil {
		r.Roles = map[string]Role{}
		changed = true
	}
	if _, ok := r.Roles[FounderRoleID]; !ok {
		r.Roles[FounderRoleID] = FounderRole(now)
		changed = true
	}
	if !r.hasDefaultRole() {
		r.Roles[MemberRoleID] = MemberRole(now)
		changed = true
	}
	for id, role := range r.Roles {
		if known := role.Permissions.Known(); known != role.Permissions {
			role.Permissions = known
			r.Roles[id] = role
			changed = true
		}
	}
	if r.Slug == "" {
		r.Slug = slug.Make(r.Name)
		changed = true
	}

	seen := make(map[string]struct{}, len(r.MemberIDs))
	members := make([]string, 0, len(r.MemberIDs))
	for _, id := range r.MemberIDs {
		if _, dup := seen[id]; dup || id == "" {
			changed = true
			continue
		}
		if _, banned := r.ActiveBan(id, now); banned {
			changed = true
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	r.MemberIDs = members

	for id := range r.MemberRoles {
		if _, ok := seen[id]; !ok {
			delete(r.MemberRoles, id)
			changed = true
		}
	}
	for id := range r.MemberNames {
		if _, ok := seen[id]; !ok {
			delete(r.MemberNames, id)
			changed = true
		}
	}
	for _, id := range r.MemberIDs {
		roleID, ok := r.MemberRoles[id]
		if _, exists := r.Roles[roleID]; !ok || !exists || (roleID == FounderRoleID && id != r.FounderID) {
			r.MemberRoles[id] = r.DefaultRole().ID
			changed = true
		}
	}

	if r.PurgeExpiredBans(now) > 0 {
		changed = true
	}

	if !r.IsMember(r.FounderID) && len(r.MemberIDs) > 0 {
		r.PromoteNextFounder()
		changed = true
	}
	if r.IsMember(r.FounderID) && r.MemberRoles[r.FounderID] != FounderRoleID {
		r.MemberRoles[r.FounderID] = FounderRoleID
		changed = true
	}
	return changed
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (r *Religion) Clone() *Religion {
	if r == nil {
		return nil
	}
	out := *r
	out.MemberIDs = slices.Clone(r.MemberIDs)
	out.MemberNames = make(map[string]string, len(r.MemberNames))
	for k, v := range r.MemberNames {
		out.MemberNames[k] = v
	}
	out.MemberRoles = make(map[string]string, len(r.MemberRoles))
	for k, v := range r.MemberRoles {
		out.MemberRoles[k] = v
	}
	out.Roles = make(map[string]Role, len(r.Roles))
	for k, v := range r.Roles {
		out.Roles[k] = v
	}
	out.Bans = make(map[string]BanRecord, len(r.Bans))
	for k, v := range r.Bans {
		if v.ExpiresAt != nil {
			expires := *v.ExpiresAt
			v.ExpiresAt = &expires
		}
		out.Bans[k] = v
	}
	return &out
}

func (r *Religion) hasDefaultRole() bool {
	for _, role := range r.Roles {
		if role.IsDefault {
			return true
		}
	}
	return false
}

func (r *Religion) sortedRoles() []Role {
	roles := make([]Role, 0, len(r.Roles))
	for _, role := range r.Roles {
		roles = append(roles, role)
	}
	slices.SortFunc(roles, func(a, b Role) int { return strings.Compare(a.ID, b.ID) })
	return roles
}

// SortedRoles returns the role table ordered by id.
func (r *Religion) SortedRoles() []Role {
	return r.sortedRoles()
}
