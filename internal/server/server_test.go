package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/pantheon/internal/civilization"
	civdomain "github.com/smallbiznis/pantheon/internal/civilization/domain"
	civservice "github.com/smallbiznis/pantheon/internal/civilization/service"
	"github.com/smallbiznis/pantheon/internal/clock"
	"github.com/smallbiznis/pantheon/internal/deity"
	"github.com/smallbiznis/pantheon/internal/identity"
	"github.com/smallbiznis/pantheon/internal/observability"
	"github.com/smallbiznis/pantheon/internal/persistence"
	religiondomain "github.com/smallbiznis/pantheon/internal/religion/domain"
	religionservice "github.com/smallbiznis/pantheon/internal/religion/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	server        *Server
	religions     *religionservice.Registry
	civilizations *civservice.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	dir := identity.NewDirectory()
	dir.Register("p1", "Aldric")
	dir.Register("p2", "Bryn")
	dir.Register("p3", "Cai")
	gw := persistence.NewMemoryGateway()

	religions := religionservice.New(religionservice.Params{
		Log: zap.NewNop(), GenID: node, Clock: clk, Identity: dir, Gateway: gw,
	})
	civilizations := civservice.New(civservice.Params{
		Log: zap.NewNop(), GenID: node, Clock: clk, Religions: civilization.NewReligionLookup(religions), Gateway: gw,
	})

	srv := NewServer(ServerParams{
		Gin:           NewEngine(observability.Config{LogLevel: "info"}),
		Log:           zap.NewNop(),
		Religions:     religions,
		Civilizations: civilizations,
	})
	srv.RegisterRoutes()
	return &harness{server: srv, religions: religions, civilizations: civilizations}
}

func (h *harness) get(t *testing.T, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.server.engine.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func (h *harness) seed(t *testing.T) (*religiondomain.Religion, *religiondomain.Religion) {
	t.Helper()
	ctx := context.Background()
	emberforge, err := h.religions.CreateReligion(ctx, religionservice.CreateReligionRequest{
		Name: "Emberforge", Deity: deity.Craft, FounderID: "p1",
	})
	require.NoError(t, err)
	stormwild, err := h.religions.CreateReligion(ctx, religionservice.CreateReligionRequest{
		Name: "Stormwild", Deity: deity.Wild, FounderID: "p3", IsPublic: true,
	})
	require.NoError(t, err)
	return emberforge, stormwild
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	var body map[string]any
	assert.Equal(t, http.StatusOK, h.get(t, "/health", &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotContains(t, body, "dirty")
}

func TestUnknownRouteIsJSONNotFound(t *testing.T) {
	h := newHarness(t)

	var body errorResponse
	assert.Equal(t, http.StatusNotFound, h.get(t, "/v1/temples", &body))
	assert.Equal(t, "not_found", body.Error.Type)
}

func TestListReligionsFilters(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	tests := []struct {
		name  string
		query string
		want  []string
		total int
	}{
		{name: "all", query: "", want: []string{"emberforge", "stormwild"}, total: 2},
		{name: "public only", query: "?public=true", want: []string{"stormwild"}, total: 1},
		{name: "private only", query: "?public=false", want: []string{"emberforge"}, total: 1},
		{name: "by deity", query: "?deity=craft", want: []string{"emberforge"}, total: 1},
		{name: "limit keeps total", query: "?limit=1", want: []string{"emberforge"}, total: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp listResponse[religionSummary]
			require.Equal(t, http.StatusOK, h.get(t, "/v1/religions"+tt.query, &resp))
			slugs := make([]string, 0, len(resp.Data))
			for _, r := range resp.Data {
				slugs = append(slugs, r.Slug)
			}
			assert.Equal(t, tt.want, slugs)
			assert.Equal(t, tt.total, resp.Total)
		})
	}
}

func TestListReligionsRejectsBadQuery(t *testing.T) {
	h := newHarness(t)

	for _, query := range []string{"?deity=sun", "?public=maybe", "?limit=0", "?limit=abc", "?limit=501"} {
		var resp errorResponse
		assert.Equal(t, http.StatusBadRequest, h.get(t, "/v1/religions"+query, &resp), query)
		assert.Equal(t, "validation_error", resp.Error.Type, query)
	}
}

func TestGetReligionDetail(t *testing.T) {
	h := newHarness(t)
	emberforge, _ := h.seed(t)
	require.NoError(t, h.religions.AddMember(context.Background(), emberforge.ID, "p2"))

	var detail religionDetail
	require.Equal(t, http.StatusOK, h.get(t, "/v1/religions/emberforge", &detail))
	assert.Equal(t, emberforge.ID, detail.ID)
	assert.Equal(t, "craft", detail.Deity)
	assert.Equal(t, "fledgling", detail.PrestigeRank)
	assert.Equal(t, 2, detail.MemberCount)
	require.Len(t, detail.Members, 2)
	assert.Equal(t, "p1", detail.Members[0].PlayerID)
	assert.Equal(t, religiondomain.FounderRoleID, detail.Members[0].RoleID)
	assert.Equal(t, "Bryn", detail.Members[1].Name)
	assert.NotEmpty(t, detail.Roles)

	var resp errorResponse
	assert.Equal(t, http.StatusNotFound, h.get(t, "/v1/religions/nowhere", &resp))
	assert.Equal(t, "not_found", resp.Error.Type)
}

func TestPlayerReligionAndInvites(t *testing.T) {
	h := newHarness(t)
	emberforge, _ := h.seed(t)
	_, err := h.religions.Invite(context.Background(), emberforge.ID, "p1", "p2")
	require.NoError(t, err)

	var body struct {
		Religion religionSummary `json:"religion"`
		Member   religionMember  `json:"member"`
	}
	require.Equal(t, http.StatusOK, h.get(t, "/v1/players/p1/religion", &body))
	assert.Equal(t, "emberforge", body.Religion.Slug)
	assert.Equal(t, "Aldric", body.Member.Name)

	assert.Equal(t, http.StatusNotFound, h.get(t, "/v1/players/p2/religion", nil))

	var invites listResponse[inviteView]
	require.Equal(t, http.StatusOK, h.get(t, "/v1/players/p2/invites", &invites))
	require.Len(t, invites.Data, 1)
	assert.Equal(t, emberforge.ID, invites.Data[0].SourceID)
	assert.Equal(t, 7*24*time.Hour, invites.Data[0].ExpiresAt.Sub(invites.Data[0].CreatedAt))

	var issued listResponse[inviteView]
	require.Equal(t, http.StatusOK, h.get(t, "/v1/religions/emberforge/invites", &issued))
	assert.Equal(t, 1, issued.Total)
}

func TestCivilizationViews(t *testing.T) {
	h := newHarness(t)
	emberforge, stormwild := h.seed(t)
	ctx := context.Background()

	civ, err := h.civilizations.CreateCivilization(ctx, civservice.CreateCivilizationRequest{
		Name: "Ironpact", FounderID: "p1", ReligionID: emberforge.ID,
	})
	require.NoError(t, err)
	_, err = h.civilizations.InviteReligion(ctx, civ.ID, stormwild.ID, "p1")
	require.NoError(t, err)

	var list listResponse[civilizationView]
	require.Equal(t, http.StatusOK, h.get(t, "/v1/civilizations", &list))
	require.Len(t, list.Data, 1)
	assert.Empty(t, list.Data[0].PendingInvites)

	var view civilizationView
	require.Equal(t, http.StatusOK, h.get(t, "/v1/civilizations/ironpact", &view))
	assert.Equal(t, "p1", view.FounderPlayerID)
	require.Len(t, view.Religions, 1)
	assert.True(t, view.Religions[0].IsAnchor)
	assert.Equal(t, "Emberforge", view.Religions[0].Name)
	require.Len(t, view.PendingInvites, 1)
	assert.Equal(t, stormwild.ID, view.PendingInvites[0].TargetID)

	var summary religionDetail
	require.Equal(t, http.StatusOK, h.get(t, "/v1/religions/emberforge", &summary))
	assert.Equal(t, civ.ID, summary.CivilizationID)

	assert.Equal(t, http.StatusNotFound, h.get(t, "/v1/civilizations/nowhere", nil))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{name: "religion validation", err: &religiondomain.ValidationError{Field: "name", Err: religiondomain.ErrInvalidName}, status: http.StatusBadRequest, kind: "validation_error"},
		{name: "civilization validation", err: &civdomain.ValidationError{Field: "name", Err: civdomain.ErrNameTooShort}, status: http.StatusBadRequest, kind: "validation_error"},
		{name: "name taken", err: civdomain.ErrNameTaken, status: http.StatusConflict, kind: "conflict"},
		{name: "civilization full", err: civdomain.ErrCivilizationFull, status: http.StatusConflict, kind: "conflict"},
		{name: "not anchor founder", err: civdomain.ErrNotAnchorFounder, status: http.StatusForbidden, kind: "forbidden"},
		{name: "religion forbidden", err: religiondomain.ErrForbidden, status: http.StatusForbidden, kind: "forbidden"},
		{name: "missing religion", err: religiondomain.ErrReligionNotFound, status: http.StatusNotFound, kind: "not_found"},
		{name: "lease lost", err: ErrServiceUnavailable, status: http.StatusServiceUnavailable, kind: "service_unavailable"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, kind: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := mapError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, payload.Type)
		})
	}

	_, payload := mapError(&religiondomain.ValidationError{Field: "name", Err: religiondomain.ErrNameTooLong})
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "name", payload.Errors[0].Field)
	assert.Equal(t, "name_too_long", payload.Errors[0].Code)
}
