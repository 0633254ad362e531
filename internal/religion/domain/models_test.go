package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/pantheon/internal/deity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestReligion(t *testing.T) *Religion {
	t.Helper()
	r, err := NewReligion("r1", "  Emberforge ", deity.Craft, "p1", "Aldric", false, testNow)
	require.NoError(t, err)
	return r
}

func TestNewReligionSeedsFounder(t *testing.T) {
	r := newTestReligion(t)

	assert.Equal(t, "Emberforge", r.Name)
	assert.Equal(t, "emberforge", r.Slug)
	assert.Equal(t, []string{"p1"}, r.MemberIDs)
	assert.Equal(t, FounderRoleID, r.MemberRoles["p1"])
	assert.Equal(t, "Aldric", r.MemberNames["p1"])
	assert.True(t, r.Roles[FounderRoleID].IsProtected)
	assert.True(t, r.DefaultRole().IsDefault)
}

func TestNewReligionValidation(t *testing.T) {
	cases := []struct {
		name    string
		relName string
		deity   deity.Deity
		founder string
		want    error
	}{
		{name: "blank name", relName: "  ", deity: deity.Craft, founder: "p1", want: ErrInvalidName},
		{name: "long name", relName: strings.Repeat("x", MaxNameLength+1), deity: deity.Craft, founder: "p1", want: ErrNameTooLong},
		{name: "none deity", relName: "Emberforge", deity: deity.None, founder: "p1", want: ErrInvalidDeity},
		{name: "blank founder", relName: "Emberforge", deity: deity.Craft, founder: " ", want: ErrInvalidPlayer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewReligion("r1", tc.relName, tc.deity, tc.founder, "x", true, testNow)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, IsValidation(err))

			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}

func TestAddMemberIsIdempotent(t *testing.T) {
	r := newTestReligion(t)

	assert.True(t, r.AddMember("p2", "Bryn", ""))
	assert.False(t, r.AddMember("p2", "Bryn", ""))
	assert.Equal(t, []string{"p1", "p2"}, r.MemberIDs)
	assert.Equal(t, MemberRoleID, r.MemberRoles["p2"])
}

func TestSuccessionPromotesEarliestMember(t *testing.T) {
	r := newTestReligion(t)
	r.AddMember("pA", "Ash", "")
	r.AddMember("pB", "Birch", "")

	require.True(t, r.RemoveMember("p1"))
	require.True(t, r.PromoteNextFounder())

	assert.Equal(t, "pA", r.FounderID)
	assert.Equal(t, "Ash", r.FounderName)
	assert.Equal(t, FounderRoleID, r.MemberRoles["pA"])
	assert.Equal(t, []string{"pA", "pB"}, r.MemberIDs)
}

func TestSetFounderDemotesPrevious(t *testing.T) {
	r := newTestReligion(t)
	r.AddMember("p2", "Bryn", "")

	r.SetFounder("p2")
	assert.Equal(t, "p2", r.FounderID)
	assert.Equal(t, MemberRoleID, r.MemberRoles["p1"])
	assert.Equal(t, FounderRoleID, r.MemberRoles["p2"])

	// non-members cannot become founder
	r.SetFounder("ghost")
	assert.Equal(t, "p2", r.FounderID)
}

func TestBanEvictsAndExpires(t *testing.T) {
	r := newTestReligion(t)
	r.AddMember("p2", "Bryn", "")

	expires := testNow.Add(24 * time.Hour)
	r.ApplyBan(BanRecord{PlayerID: "p2", BannedBy: "p1", BannedAt: testNow, ExpiresAt: &expires})

	assert.False(t, r.IsMember("p2"))
	_, banned := r.ActiveBan("p2", testNow)
	assert.True(t, banned)
	_, banned = r.ActiveBan("p2", expires)
	assert.False(t, banned)

	assert.Equal(t, 1, r.PurgeExpiredBans(expires))
	assert.Empty(t, r.Bans)
}

func TestBanExpiryPredicate(t *testing.T) {
	past := testNow.Add(-time.Hour)
	assert.True(t, IsExpired(BanRecord{ExpiresAt: &past}, testNow))
	assert.False(t, IsExpired(BanRecord{}, testNow))
	assert.True(t, BanRecord{}.IsPermanent())
}

func TestHasPermission(t *testing.T) {
	r := newTestReligion(t)
	r.AddMember("p2", "Bryn", "")

	assert.True(t, r.HasPermission("p1", PermBanPlayers))
	assert.True(t, r.HasPermission("p2", PermViewMembers))
	assert.False(t, r.HasPermission("p2", PermKickMembers))
	assert.False(t, r.HasPermission("stranger", PermViewMembers))
}

func TestCloneIsDeep(t *testing.T) {
	r := newTestReligion(t)
	expires := testNow.Add(time.Hour)
	r.Bans["p9"] = BanRecord{PlayerID: "p9", ExpiresAt: &expires}

	c := r.Clone()
	c.AddMember("p2", "Bryn", "")
	c.Roles["custom"] = Role{ID: "custom"}
	*c.Bans["p9"].ExpiresAt = testNow

	assert.Equal(t, 1, r.MemberCount())
	assert.NotContains(t, r.Roles, "custom")
	assert.Equal(t, expires, *r.Bans["p9"].ExpiresAt)
	assert.Nil(t, (*Religion)(nil).Clone())
}

func TestRepairRestoresInvariants(t *testing.T) {
	past := testNow.Add(-time.Hour)
	r := &Religion{
		ID:          "r1",
		Name:        "Emberforge",
		Deity:       deity.Craft,
		FounderID:   "gone",
		MemberIDs:   []string{"p2", "p2", "p3", "p4"},
		MemberNames: map[string]string{"p2": "Bryn", "p3": "Cai", "p4": "Dov", "ghost": "Ghost"},
		MemberRoles: map[string]string{"p2": "missing", "p3": FounderRoleID, "ghost": MemberRoleID},
		Bans: map[string]BanRecord{
			"p4":  {PlayerID: "p4"},
			"old": {PlayerID: "old", ExpiresAt: &past},
		},
		CreatedAt: testNow,
	}

	assert.True(t, r.Repair(testNow))

	assert.Equal(t, []string{"p2", "p3"}, r.MemberIDs)
	assert.Equal(t, "p2", r.FounderID)
	assert.Equal(t, FounderRoleID, r.MemberRoles["p2"])
	assert.Equal(t, MemberRoleID, r.MemberRoles["p3"])
	assert.NotContains(t, r.MemberNames, "ghost")
	assert.NotContains(t, r.Bans, "old")
	assert.Contains(t, r.Bans, "p4")
	assert.Equal(t, "emberforge", r.Slug)

	assert.False(t, r.Repair(testNow))
}

func TestAddPrestigeTracksRank(t *testing.T) {
	r := newTestReligion(t)

	r.AddPrestige(600, nil)
	assert.Equal(t, RankEstablished, r.PrestigeRank)

	r.AddPrestige(-1000, nil)
	assert.Equal(t, int64(0), r.Prestige)
	assert.Equal(t, int64(600), r.TotalPrestige)
	assert.Equal(t, RankEstablished, r.PrestigeRank)

	r.AddPrestige(20000, nil)
	assert.Equal(t, RankMythic, r.PrestigeRank)
	assert.Equal(t, "mythic", r.PrestigeRank.String())
}

func TestPermissionNames(t *testing.T) {
	p := PermKickMembers.With(PermViewMembers)
	assert.Equal(t, "view_members,kick_members", p.String())
	assert.False(t, p.Without(PermKickMembers).Has(PermKickMembers))
	assert.Equal(t, PermAll, Permission(1<<31|uint32(PermAll)).Known())

	parsed, ok := ParsePermission(" BAN_PLAYERS ")
	assert.True(t, ok)
	assert.Equal(t, PermBanPlayers, parsed)
	_, ok = ParsePermission("fly")
	assert.False(t, ok)
	_, ok = ParsePermission("manage_civilization")
	assert.False(t, ok)
}

func TestRepairStripsRetiredPermissionBits(t *testing.T) {
	r := newTestReligion(t)
	r.Roles[FounderRoleID] = Role{ID: FounderRoleID, Name: "Founder", Permissions: PermAll | 1<<6, IsProtected: true}

	assert.True(t, r.Repair(testNow))
	assert.Equal(t, PermAll, r.Roles[FounderRoleID].Permissions)
	assert.False(t, r.Repair(testNow))
}

func TestNormalizeDescription(t *testing.T) {
	text, err := NormalizeDescription("  We forge.  ")
	require.NoError(t, err)
	assert.Equal(t, "We forge.", text)

	_, err = NormalizeDescription(strings.Repeat("a", MaxDescriptionLength+1))
	assert.ErrorIs(t, err, ErrNameTooLong)
}
