package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pantheon/internal/civilization/domain"
	"github.com/smallbiznis/pantheon/internal/clock"
	"github.com/smallbiznis/pantheon/internal/deity"
	"github.com/smallbiznis/pantheon/internal/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReligions struct {
	mu    sync.Mutex
	views map[string]domain.ReligionView
}

func newFakeReligions(views ...domain.ReligionView) *fakeReligions {
	f := &fakeReligions{views: make(map[string]domain.ReligionView)}
	for _, v := range views {
		f.views[v.ID] = v
	}
	return f
}

func (f *fakeReligions) LookupReligion(id string) (domain.ReligionView, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.views[id]
	return v, ok
}

func (f *fakeReligions) update(id string, fn func(*domain.ReligionView)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.views[id]
	fn(&v)
	f.views[id] = v
}

func (f *fakeReligions) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.views, id)
}

type fixture struct {
	registry  *Registry
	religions *fakeReligions
	clock     *clock.FakeClock
	gateway   persistence.Gateway
}

// r1..r6 each have a distinct deity; r7 shares Craft with r1.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, persistence.NewMemoryGateway(), defaultReligions())
}

func defaultReligions() *fakeReligions {
	return newFakeReligions(
		domain.ReligionView{ID: "r1", Name: "Emberforge", Deity: deity.Craft, FounderID: "p1", MemberCount: 2},
		domain.ReligionView{ID: "r2", Name: "Stormwild", Deity: deity.Wild, FounderID: "p3", MemberCount: 3},
		domain.ReligionView{ID: "r3", Name: "Red Banner", Deity: deity.Conquest, FounderID: "p4", MemberCount: 1},
		domain.ReligionView{ID: "r4", Name: "Sheaf", Deity: deity.Harvest, FounderID: "p5", MemberCount: 1},
		domain.ReligionView{ID: "r5", Name: "Deepstone", Deity: deity.Stone, FounderID: "p6", MemberCount: 1},
		domain.ReligionView{ID: "r6", Name: "Saltmarsh", Deity: deity.Tide, FounderID: "p7", MemberCount: 1},
		domain.ReligionView{ID: "r7", Name: "Anvil Hall", Deity: deity.Craft, FounderID: "p8", MemberCount: 4},
	)
}

func newFixtureWith(t *testing.T, gw persistence.Gateway, religions *fakeReligions) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	reg := New(Params{
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Religions: religions,
		Gateway:   gw,
	})
	return &fixture{registry: reg, religions: religions, clock: clk, gateway: gw}
}

func (f *fixture) create(t *testing.T, name, founder, religionID string) *domain.Civilization {
	t.Helper()
	civ, err := f.registry.CreateCivilization(context.Background(), CreateCivilizationRequest{
		Name: name, FounderID: founder, ReligionID: religionID,
	})
	require.NoError(t, err)
	f.clock.Advance(time.Millisecond)
	return civ
}

// join invites and accepts in one step.
func (f *fixture) join(t *testing.T, civ *domain.Civilization, religionID string) {
	t.Helper()
	ctx := context.Background()
	anchor, _ := f.religions.LookupReligion(civ.AnchorReligionID)
	target, _ := f.religions.LookupReligion(religionID)
	invite, err := f.registry.InviteReligion(ctx, civ.ID, religionID, anchor.FounderID)
	require.NoError(t, err)
	require.NoError(t, f.registry.AcceptInvite(ctx, invite.ID, target.FounderID))
}

func TestCreateCivilization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	civ := f.create(t, "Ironpact", "p1", "r1")
	assert.Equal(t, []string{"r1"}, civ.ReligionIDs)
	assert.Equal(t, "r1", civ.AnchorReligionID)
	assert.Equal(t, "p1", civ.FounderPlayerID)
	assert.Equal(t, 2, civ.MemberCount)

	tests := []struct {
		name string
		req  CreateCivilizationRequest
		want error
	}{
		{name: "duplicate name", req: CreateCivilizationRequest{Name: "IRONPACT", FounderID: "p3", ReligionID: "r2"}, want: domain.ErrNameTaken},
		{name: "short name", req: CreateCivilizationRequest{Name: "Io", FounderID: "p3", ReligionID: "r2"}, want: domain.ErrNameTooShort},
		{name: "blank name", req: CreateCivilizationRequest{Name: " ", FounderID: "p3", ReligionID: "r2"}, want: domain.ErrInvalidName},
		{name: "unknown religion", req: CreateCivilizationRequest{Name: "Tidepact", FounderID: "p3", ReligionID: "nope"}, want: domain.ErrReligionNotFound},
		{name: "not founder", req: CreateCivilizationRequest{Name: "Tidepact", FounderID: "p2", ReligionID: "r2"}, want: domain.ErrNotReligionFounder},
		{name: "already allied", req: CreateCivilizationRequest{Name: "Second", FounderID: "p1", ReligionID: "r1"}, want: domain.ErrAlreadyInCivilization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.registry.CreateCivilization(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Len(t, f.registry.GetAllCivilizations(), 1)
}

func TestDeityDiversity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	civ := f.create(t, "Ironpact", "p1", "r1")

	_, err := f.registry.InviteReligion(ctx, civ.ID, "r7", "p1")
	assert.ErrorIs(t, err, domain.ErrDeityTaken)

	_, err = f.registry.InviteReligion(ctx, civ.ID, "r2", "p1")
	assert.NoError(t, err)
}

func TestInviteReligionIdempotency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	civ := f.create(t, "Ironpact", "p1", "r1")

	_, err := f.registry.InviteReligion(ctx, civ.ID, "r2", "p1")
	require.NoError(t, err)
	_, err = f.registry.InviteReligion(ctx, civ.ID, "r2", "p1")
	assert.ErrorIs(t, err, domain.ErrDuplicateInvite)

	f.clock.Advance(7 * 24 * time.Hour)
	_, err = f.registry.InviteReligion(ctx, civ.ID, "r2", "p1")
	assert.NoError(t, err)
}

func TestInviteReligionRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	civ := f.create(t, "Ironpact", "p1", "r1")
	other := f.create(t, "Tidepact", "p7", "r6")

	tests := []struct {
		name    string
		civID   string
		target  string
		inviter string
		want    error
	}{
		{name: "unknown civilization", civID: "nope", target: "r2", inviter: "p1", want: domain.ErrCivilizationNotFound},
		{name: "not anchor founder", civID: civ.ID, target: "r2", inviter: "p3", want: domain.ErrNotAnchorFounder},
		{name: "unknown religion", civID: civ.ID, target: "nope", inviter: "p1", want: domain.ErrReligionNotFound},
		{name: "member elsewhere", civID: civ.ID, target: other.AnchorReligionID, inviter: "p1", want: domain.ErrAlreadyInCivilization},
		{name: "own anchor", civID: civ.ID, target: "r1", inviter: "p1", want: domain.ErrAlreadyInCivilization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.registry.InviteReligion(ctx, tt.civID, tt.target, tt.inviter)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCivilizationCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	civ := f.create(t, "Ironpact", "p1", "r1")
	f.join(t, civ, "r2")
	f.join(t, civ, "r3")

	// r4 and r5 both hold invites; only one can land once the alliance has three members
	inv4, err := f.registry.InviteReligion(ctx, civ.ID, "r4", "p1")
	require.NoError(t, err)
	inv5, err := f.registry.InviteReligion(ctx, civ.ID, "r5", "p1")
	require.NoError(t, err)

	require.NoError(t, f.registry.AcceptInvite(ctx, inv4.ID, "p5"))
	assert.ErrorIs(t, f.registry.AcceptInvite(ctx, inv5.ID, "p6"), domain.ErrCivilizationFull)

	_, err = f.registry.InviteReligion(ctx, civ.ID, "r6", "p1")
	assert.ErrorIs(t, err, domain.ErrCivilizationFull)

	got, _ := f.registry.GetCivilization(civ.ID)
	assert.Len(t, got.ReligionIDs, 4)
	assert.Equal(t, 2+3+1+1, got.MemberCount)
}

func TestAcceptInviteRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	civ := f.create(t, "Ironpact", "p1", "r1")

	invite, err := f.registry.InviteReligion(ctx, civ.ID, "r2", "p1")
	require.NoError(t, err)

	assert.ErrorIs(t, f.registry.AcceptInvite(ctx, invite.ID, "p1"), domain.ErrNotReligionFounder)
	assert.ErrorIs(t, f.registry.AcceptInvite(ctx, "missing", "p3"), domain.ErrInviteNotFound)
	require.NoError(t, f.registry.AcceptInvite(ctx, invite.ID, "p3"))
	assert.ErrorIs(t, f.registry.AcceptInvite(ctx, invite.ID, "p3"), domain.ErrInviteNotFound)

	got, ok := f.registry.GetCivilizationForReligion("r2")
	require.True(t, ok)
	assert.Equal(t, civ.ID, got.ID)
}

func TestAcceptInviteRechecksDeity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	civ := f.create(t, "Ironpact", "p1", "r1")

	invite, err := f.registry.InviteReligion(ctx, civ.ID, "r2", "p1")
	require.NoError(t, err)
	// the target converts after being invited
	f.religions.update("r2", func(v *domain.ReligionView) { v.Deity = deity.Craft })

	assert.ErrorIs(t, f.registry.AcceptInvite(ctx, invite.ID, "p3"), domain.ErrDeityTaken)
}

func TestAcceptingClearsOtherOffers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "Ironpact", "p1", "r1")
	b := f.create(t, "Tidepact", "p7", "r6")

	invA, err := f.registry.InviteReligion(ctx, a.ID, "r2", "p1")
	require.NoError(t, err)
	_, err = f.registry.InviteReligion(ctx, b.ID, "r2", "p7")
	require.NoError(t, err)
	require.Len(t, f.registry.GetInvitesForReligion("r2"), 2)

	require.NoError(t, f.registry.AcceptInvite(ctx, invA.ID, "p3"))
	assert.Empty(t, f.registry.GetInvitesForReligion("r2"))
}

func TestDeclineInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	civ := f.create(t, "Ironpact", "p1", "r1")

	invite, err := f.registry.InviteReligion(ctx, civ.ID, "r2", "p1")
	require.NoError(t, err)

	assert.ErrorIs(t, f.registry.DeclineInvite(ctx, invite.ID, "p1"), domain.ErrNotReligionFounder)
	require.NoError(t, f.registry.DeclineInvite(ctx, invite.ID, "p3"))
	assert.False(t, f.registry.HasInvitation(civ.ID, "r2"))
	assert.ErrorIs(t, f.registry.DeclineInvite(ctx, invite.ID, "p3"), domain.ErrInviteNotFound)
}

func TestLeaveReligion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	civ := f.create(t, "Ironpact", "p1", "r1")
	f.join(t, civ, "r2")
	f.join(t, civ, "r3")

	assert.ErrorIs(t, f.registry.LeaveReligion(ctx, "r1", "p1"), domain.ErrAnchorCannotLeave)
	assert.ErrorIs(t, f.registry.LeaveReligion(ctx, "r2", "p1"), domain.ErrNotReligionFounder)
	assert.ErrorIs(t, f.registry.LeaveReligion(ctx, "r5", "p6"), domain.ErrNotInCivilization)

	require.NoError(t, f.registry.LeaveReligion(ctx, "r2", "p3"))
	got, ok := f.registry.GetCivilization(civ.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"r1", "r3"}, got.ReligionIDs)
	assert.Equal(t, 3, got.MemberCount)
}

func TestRemovingLastNonAnchorDisbands(t *testing.T) {
	t.Run("leave", func(t *testing.T) {
		f := newFixture(t)
		civ := f.create(t, "Ironpact", "p1", "r1")
		f.join(t, civ, "r2")

		require.NoError(t, f.registry.LeaveReligion(context.Background(), "r2", "p3"))
		_, ok := f.registry.GetCivilization(civ.ID)
		assert.False(t, ok)
		_, ok = f.registry.GetCivilizationForReligion("r1")
		assert.False(t, ok)
	})

	t.Run("kick", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		civ := f.create(t, "Ironpact", "p1", "r1")
		f.join(t, civ, "r2")
		_, err := f.registry.InviteReligion(ctx, civ.ID, "r3", "p1")
		require.NoError(t, err)

		require.NoError(t, f.registry.KickReligion(ctx, civ.ID, "r2", "p1"))
		_, ok := f.registry.GetCivilization(civ.ID)
		assert.False(t, ok)
		assert.Empty(t, f.registry.GetCivilizationInvites(civ.ID))
	})
}

func TestSoleAnchorCannotBeShrunk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	civ := f.create(t, "Ironpact", "p1", "r1")

	assert.ErrorIs(t, f.registry.LeaveReligion(ctx, "r1", "p1"), domain.ErrAnchorCannotLeave)
	assert.ErrorIs(t, f.registry.KickReligion(ctx, civ.ID, "r1", "p1"), domain.ErrCannotKickAnchor)

	got, ok := f.registry.GetCivilization(civ.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"r1"}, got.ReligionIDs)
}

func TestKickReligionRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	civ := f.create(t, "Ironpact", "p1", "r1")
	f.join(t, civ, "r2")
	f.join(t, civ, "r3")

	assert.ErrorIs(t, f.registry.KickReligion(ctx, civ.ID, "r3", "p3"), domain.ErrNotAnchorFounder)
	assert.ErrorIs(t, f.registry.KickReligion(ctx, civ.ID, "r5", "p1"), domain.ErrNotInCivilization)
	require.NoError(t, f.registry.KickReligion(ctx, civ.ID, "r3", "p1"))

	got, _ := f.registry.GetCivilization(civ.ID)
	assert.Equal(t, []string{"r1", "r2"}, got.ReligionIDs)
}

func TestDisbandCivilization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	civ := f.create(t, "Ironpact", "p1", "r1")
	f.join(t, civ, "r2")
	_, err := f.registry.InviteReligion(ctx, civ.ID, "r3", "p1")
	require.NoError(t, err)

	assert.ErrorIs(t, f.registry.DisbandCivilization(ctx, civ.ID, "p3"), domain.ErrNotAnchorFounder)
	require.NoError(t, f.registry.DisbandCivilization(ctx, civ.ID, "p1"))
	assert.ErrorIs(t, f.registry.DisbandCivilization(ctx, civ.ID, "p1"), domain.ErrCivilizationNotFound)

	assert.Empty(t, f.registry.GetAllCivilizations())
	assert.Empty(t, f.registry.GetInvitesForReligion("r3"))

	// the name is free again
	f.create(t, "Ironpact", "p3", "r2")
}

func TestAuthorityFollowsAnchorFounder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	civ := f.create(t, "Ironpact", "p1", "r1")

	f.religions.update("r1", func(v *domain.ReligionView) { v.FounderID = "p2" })

	_, err := f.registry.InviteReligion(ctx, civ.ID, "r2", "p1")
	assert.ErrorIs(t, err, domain.ErrNotAnchorFounder)
	_, err = f.registry.InviteReligion(ctx, civ.ID, "r2", "p2")
	assert.NoError(t, err)

	assert.Equal(t, 1, f.registry.UpdateMemberCounts(ctx))
	got, _ := f.registry.GetCivilization(civ.ID)
	assert.Equal(t, "p2", got.FounderPlayerID)
}

func TestUpdateMemberCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	civ := f.create(t, "Ironpact", "p1", "r1")
	f.join(t, civ, "r2")

	assert.Equal(t, 0, f.registry.UpdateMemberCounts(ctx))
	f.religions.update("r2", func(v *domain.ReligionView) { v.MemberCount = 10 })
	assert.Equal(t, 1, f.registry.UpdateMemberCounts(ctx))

	got, _ := f.registry.GetCivilization(civ.ID)
	assert.Equal(t, 12, got.MemberCount)
}

func TestOnReligionDeleted(t *testing.T) {
	t.Run("member religion", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		civ := f.create(t, "Ironpact", "p1", "r1")
		f.join(t, civ, "r2")
		f.join(t, civ, "r3")

		f.religions.remove("r3")
		f.registry.OnReligionDeleted(ctx, "r3")

		got, ok := f.registry.GetCivilization(civ.ID)
		require.True(t, ok)
		assert.Equal(t, []string{"r1", "r2"}, got.ReligionIDs)
		assert.Equal(t, 5, got.MemberCount)
	})

	t.Run("anchor religion", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		civ := f.create(t, "Ironpact", "p1", "r1")
		f.join(t, civ, "r2")

		f.religions.remove("r1")
		f.registry.OnReligionDeleted(ctx, "r1")

		_, ok := f.registry.GetCivilization(civ.ID)
		assert.False(t, ok)
		_, ok = f.registry.GetCivilizationForReligion("r2")
		assert.False(t, ok)
	})

	t.Run("invited religion", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		civ := f.create(t, "Ironpact", "p1", "r1")
		_, err := f.registry.InviteReligion(ctx, civ.ID, "r2", "p1")
		require.NoError(t, err)

		f.religions.remove("r2")
		f.registry.OnReligionDeleted(ctx, "r2")
		assert.False(t, f.registry.HasInvitation(civ.ID, "r2"))
	})
}

func TestCleanupExpiredCivilizationInvites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	civ := f.create(t, "Ironpact", "p1", "r1")

	_, err := f.registry.InviteReligion(ctx, civ.ID, "r2", "p1")
	require.NoError(t, err)
	f.clock.Advance(8 * 24 * time.Hour)

	assert.Equal(t, 1, f.registry.CleanupExpiredInvites(ctx))
	assert.Equal(t, 0, f.registry.CleanupExpiredInvites(ctx))
}

func TestLookupsByName(t *testing.T) {
	f := newFixture(t)
	civ := f.create(t, "Iron Pact", "p1", "r1")

	got, ok := f.registry.GetCivilizationByName("iron pact")
	require.True(t, ok)
	assert.Equal(t, civ.ID, got.ID)

	got, ok = f.registry.GetCivilizationBySlug("iron-pact")
	require.True(t, ok)
	assert.Equal(t, civ.ID, got.ID)

	_, ok = f.registry.GetCivilizationByName("nope")
	assert.False(t, ok)
}

func TestSlugCollisionsDoNotBlockNames(t *testing.T) {
	f := newFixture(t)
	spaced := f.create(t, "Iron Pact", "p1", "r1")
	dashed := f.create(t, "Iron-Pact", "p3", "r2")
	marks := f.create(t, "???", "p4", "r3")
	bangs := f.create(t, "!!!", "p5", "r4")

	assert.Equal(t, "iron-pact", spaced.Slug)
	assert.Equal(t, "iron-pact-"+dashed.ID, dashed.Slug)
	assert.Equal(t, marks.ID, marks.Slug)
	assert.Equal(t, bangs.ID, bangs.Slug)

	_, err := f.registry.CreateCivilization(context.Background(), CreateCivilizationRequest{
		Name: "IRON PACT", FounderID: "p6", ReligionID: "r5",
	})
	assert.ErrorIs(t, err, domain.ErrNameTaken)

	got, ok := f.registry.GetCivilizationBySlug(dashed.Slug)
	require.True(t, ok)
	assert.Equal(t, dashed.ID, got.ID)
}

func TestConcurrentAcceptsRespectCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	civ := f.create(t, "Ironpact", "p1", "r1")
	f.join(t, civ, "r2")
	f.join(t, civ, "r3")

	type accept struct{ inviteID, founder string }
	var accepts []accept
	for _, religionID := range []string{"r4", "r5", "r6"} {
		invite, err := f.registry.InviteReligion(ctx, civ.ID, religionID, "p1")
		require.NoError(t, err)
		target, _ := f.religions.LookupReligion(religionID)
		accepts = append(accepts, accept{inviteID: invite.ID, founder: target.FounderID})
	}
	// the same invite accepted twice
	accepts = append(accepts, accepts[0])

	var wg sync.WaitGroup
	errs := make(chan error, len(accepts))
	for _, a := range accepts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.registry.AcceptInvite(ctx, a.inviteID, a.founder)
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t,
			errors.Is(err, domain.ErrCivilizationFull) ||
				errors.Is(err, domain.ErrInviteNotFound) ||
				errors.Is(err, domain.ErrAlreadyInCivilization),
			"unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	got, _ := f.registry.GetCivilization(civ.ID)
	assert.Len(t, got.ReligionIDs, 4)
}
