package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	civdomain "github.com/smallbiznis/pantheon/internal/civilization/domain"
)

type civilizationMember struct {
	ReligionID  string `json:"religion_id"`
	Name        string `json:"name"`
	Deity       string `json:"deity"`
	MemberCount int    `json:"member_count"`
	IsAnchor    bool   `json:"is_anchor"`
}

type civilizationView struct {
	ID               string               `json:"id"`
	Name             string               `json:"name"`
	Slug             string               `json:"slug"`
	AnchorReligionID string               `json:"anchor_religion_id"`
	FounderPlayerID  string               `json:"founder_player_id"`
	MemberCount      int                  `json:"member_count"`
	Religions        []civilizationMember `json:"religions"`
	PendingInvites   []inviteView         `json:"pending_invites,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

func (s *Server) ListCivilizations(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		AbortWithError(c, errInvalidLimit)
		return
	}

	all := s.civilizations.GetAllCivilizations()
	out := make([]civilizationView, 0, len(all))
	for _, civ := range all {
		out = append(out, s.civilizationView(civ, false))
	}
	total := len(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	c.JSON(http.StatusOK, listResponse[civilizationView]{Data: out, Total: total})
}

func (s *Server) GetCivilization(c *gin.Context) {
	civ, ok := s.civilizations.GetCivilizationBySlug(c.Param("slug"))
	if !ok {
		AbortWithError(c, civdomain.ErrCivilizationNotFound)
		return
	}
	c.JSON(http.StatusOK, s.civilizationView(civ, true))
}

func (s *Server) civilizationView(civ *civdomain.Civilization, withInvites bool) civilizationView {
	members := make([]civilizationMember, 0, len(civ.ReligionIDs))
	for _, id := range civ.ReligionIDs {
		member := civilizationMember{ReligionID: id, IsAnchor: civ.IsAnchor(id)}
		// a religion deleted mid-request is still listed by id
		if religion, ok := s.religions.GetReligion(id); ok {
			member.Name = religion.Name
			member.Deity = religion.Deity.String()
			member.MemberCount = religion.MemberCount()
		}
		members = append(members, member)
	}

	view := civilizationView{
		ID:               civ.ID,
		Name:             civ.Name,
		Slug:             civ.Slug,
		AnchorReligionID: civ.AnchorReligionID,
		FounderPlayerID:  civ.FounderPlayerID,
		MemberCount:      civ.MemberCount,
		Religions:        members,
		CreatedAt:        civ.CreatedAt,
		UpdatedAt:        civ.UpdatedAt,
	}
	if withInvites {
		view.PendingInvites = toInviteViews(s.civilizations.GetCivilizationInvites(civ.ID), s.civilizations.InviteWindow())
	}
	return view
}
