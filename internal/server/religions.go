package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	invitationdomain "github.com/smallbiznis/pantheon/internal/invitation/domain"
	religiondomain "github.com/smallbiznis/pantheon/internal/religion/domain"
)

type religionSummary struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	Deity          string    `json:"deity"`
	FounderID      string    `json:"founder_id"`
	FounderName    string    `json:"founder_name"`
	IsPublic       bool      `json:"is_public"`
	MemberCount    int       `json:"member_count"`
	Prestige       int64     `json:"prestige"`
	PrestigeRank   string    `json:"prestige_rank"`
	CivilizationID string    `json:"civilization_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type religionMember struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	RoleID   string `json:"role_id"`
}

type roleView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	IsDefault   bool     `json:"is_default"`
	IsProtected bool     `json:"is_protected"`
}

type religionDetail struct {
	religionSummary
	Description   string           `json:"description"`
	TotalPrestige int64            `json:"total_prestige"`
	Members       []religionMember `json:"members"`
	Roles         []roleView       `json:"roles"`
	BanCount      int              `json:"ban_count"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type inviteView struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type listResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

// ListReligions supports ?public=, ?deity= and ?limit= filters.
func (s *Server) ListReligions(c *gin.Context) {
	public, err := parseOptionalBool(c.Query("public"))
	if err != nil {
		AbortWithError(c, newValidationError("public", "invalid_public", "public must be a boolean"))
		return
	}
	wanted, err := parseOptionalDeity(c.Query("deity"))
	if err != nil {
		AbortWithError(c, newValidationError("deity", "invalid_deity", "unknown deity"))
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		AbortWithError(c, errInvalidLimit)
		return
	}

	all := s.religions.GetAllReligions()
	out := make([]religionSummary, 0, len(all))
	for _, religion := range all {
		if public != nil && religion.IsPublic != *public {
			continue
		}
		if wanted != nil && religion.Deity != *wanted {
			continue
		}
		out = append(out, s.religionSummary(religion))
	}
	total := len(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	c.JSON(http.StatusOK, listResponse[religionSummary]{Data: out, Total: total})
}

func (s *Server) GetReligion(c *gin.Context) {
	religion, ok := s.religions.GetReligionBySlug(c.Param("slug"))
	if !ok {
		AbortWithError(c, religiondomain.ErrReligionNotFound)
		return
	}
	c.JSON(http.StatusOK, s.religionDetail(religion))
}

func (s *Server) ListReligionInvites(c *gin.Context) {
	religion, ok := s.religions.GetReligionBySlug(c.Param("slug"))
	if !ok {
		AbortWithError(c, religiondomain.ErrReligionNotFound)
		return
	}
	invites := toInviteViews(s.religions.GetReligionInvitations(religion.ID), s.religions.InviteWindow())
	c.JSON(http.StatusOK, listResponse[inviteView]{Data: invites, Total: len(invites)})
}

func (s *Server) GetPlayerReligion(c *gin.Context) {
	playerID := strings.TrimSpace(c.Param("id"))
	religion, ok := s.religions.GetPlayerReligion(playerID)
	if !ok {
		AbortWithError(c, religiondomain.ErrNotMember)
		return
	}

	member := religionMember{
		PlayerID: playerID,
		Name:     religion.MemberNames[playerID],
		RoleID:   religion.MemberRoles[playerID],
	}
	c.JSON(http.StatusOK, gin.H{
		"religion": s.religionSummary(religion),
		"member":   member,
	})
}

func (s *Server) ListPlayerInvites(c *gin.Context) {
	playerID := strings.TrimSpace(c.Param("id"))
	invites := toInviteViews(s.religions.GetPlayerInvitations(playerID), s.religions.InviteWindow())
	c.JSON(http.StatusOK, listResponse[inviteView]{Data: invites, Total: len(invites)})
}

func (s *Server) religionSummary(religion *religiondomain.Religion) religionSummary {
	view := religionSummary{
		ID:           religion.ID,
		Name:         religion.Name,
		Slug:         religion.Slug,
		Deity:        religion.Deity.String(),
		FounderID:    religion.FounderID,
		FounderName:  religion.FounderName,
		IsPublic:     religion.IsPublic,
		MemberCount:  religion.MemberCount(),
		Prestige:     religion.Prestige,
		PrestigeRank: religion.PrestigeRank.String(),
		CreatedAt:    religion.CreatedAt,
	}
	if civ, ok := s.civilizations.GetCivilizationForReligion(religion.ID); ok {
		view.CivilizationID = civ.ID
	}
	return view
}

func (s *Server) religionDetail(religion *religiondomain.Religion) religionDetail {
	members := make([]religionMember, 0, len(religion.MemberIDs))
	for _, id := range religion.MemberIDs {
		members = append(members, religionMember{
			PlayerID: id,
			Name:     religion.MemberNames[id],
			RoleID:   religion.MemberRoles[id],
		})
	}
	roles := make([]roleView, 0, len(religion.Roles))
	for _, role := range religion.SortedRoles() {
		roles = append(roles, roleView{
			ID:          role.ID,
			Name:        role.Name,
			Permissions: role.Permissions.Names(),
			IsDefault:   role.IsDefault,
			IsProtected: role.IsProtected,
		})
	}

	return religionDetail{
		religionSummary: s.religionSummary(religion),
		Description:     religion.Description,
		TotalPrestige:   religion.TotalPrestige,
		Members:         members,
		Roles:           roles,
		BanCount:        len(religion.Bans),
		UpdatedAt:       religion.UpdatedAt,
	}
}

func toInviteViews(invites []invitationdomain.Invite, window time.Duration) []inviteView {
	out := make([]inviteView, 0, len(invites))
	for _, inv := range invites {
		out = append(out, inviteView{
			ID:        inv.ID,
			SourceID:  inv.SourceID,
			TargetID:  inv.TargetID,
			CreatedAt: inv.CreatedAt,
			ExpiresAt: inv.ExpiresAt(window),
		})
	}
	return out
}
