package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/pantheon/internal/civilization/domain"
	invitationdomain "github.com/smallbiznis/pantheon/internal/invitation/domain"
	"github.com/smallbiznis/pantheon/internal/persistence"
	"github.com/smallbiznis/pantheon/internal/persistence/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCivilizationRoundTrip(t *testing.T) {
	gw := persistence.NewMemoryGateway()
	religions := defaultReligions()
	f := newFixtureWith(t, gw, religions)
	ctx := context.Background()

	civ := f.create(t, "Ironpact", "p1", "r1")
	f.join(t, civ, "r2")
	_, err := f.registry.InviteReligion(ctx, civ.ID, "r3", "p1")
	require.NoError(t, err)
	f.create(t, "Tidepact", "p7", "r6")

	wantSnap, wantInvites := f.registry.Snapshot()

	restored := newFixtureWith(t, gw, religions)
	restored.clock.Set(f.clock.Now())
	require.NoError(t, restored.registry.Load(ctx))

	gotSnap, gotInvites := restored.registry.Snapshot()
	require.Len(t, gotSnap.Civilizations, len(wantSnap.Civilizations))
	for i := range wantSnap.Civilizations {
		want, got := wantSnap.Civilizations[i], gotSnap.Civilizations[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, want.ReligionIDs, got.ReligionIDs)
		assert.Equal(t, want.AnchorReligionID, got.AnchorReligionID)
		assert.Equal(t, want.MemberCount, got.MemberCount)
	}
	require.Len(t, gotInvites, len(wantInvites))
	assert.Equal(t, wantInvites[0].ID, gotInvites[0].ID)
	assert.True(t, restored.registry.HasInvitation(civ.ID, "r3"))
}

func TestLoadDropsVanishedReligions(t *testing.T) {
	gw := persistence.NewMemoryGateway()
	ctx := context.Background()
	require.NoError(t, persistence.StoreFrom(ctx, gw, persistence.KeyCivilizations, domain.Snapshot{
		Civilizations: []*domain.Civilization{
			{ID: "c1", Name: "Ironpact", Slug: "ironpact", AnchorReligionID: "r1", ReligionIDs: []string{"r1", "gone", "r2"}},
			{ID: "c2", Name: "Orphans", Slug: "orphans", AnchorReligionID: "gone", ReligionIDs: []string{"gone", "r3"}},
			{ID: "c3", Name: "Thieves", Slug: "thieves", AnchorReligionID: "r4", ReligionIDs: []string{"r4", "r2"}},
		},
	}))
	require.NoError(t, persistence.StoreFrom(ctx, gw, persistence.KeyCivilizationInvites, []invitationdomain.Invite{}))

	f := newFixtureWith(t, gw, defaultReligions())
	require.NoError(t, f.registry.Load(ctx))

	all := f.registry.GetAllCivilizations()
	require.Len(t, all, 2)
	byID := map[string]*domain.Civilization{}
	for _, civ := range all {
		byID[civ.ID] = civ
	}
	require.Contains(t, byID, "c1")
	assert.Equal(t, []string{"r1", "r2"}, byID["c1"].ReligionIDs)
	assert.Equal(t, 5, byID["c1"].MemberCount)
	assert.Equal(t, "p1", byID["c1"].FounderPlayerID)
	require.Contains(t, byID, "c3")
	assert.Equal(t, []string{"r4"}, byID["c3"].ReligionIDs)
}

func TestLoadDropsInvitesWithVanishedEndpoints(t *testing.T) {
	gw := persistence.NewMemoryGateway()
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	require.NoError(t, persistence.StoreFrom(ctx, gw, persistence.KeyCivilizations, domain.Snapshot{
		Civilizations: []*domain.Civilization{
			{ID: "c1", Name: "Ironpact", Slug: "ironpact", AnchorReligionID: "r1", ReligionIDs: []string{"r1"}},
			{ID: "c2", Name: "Orphans", Slug: "orphans", AnchorReligionID: "gone", ReligionIDs: []string{"gone"}},
		},
	}))
	require.NoError(t, persistence.StoreFrom(ctx, gw, persistence.KeyCivilizationInvites, []invitationdomain.Invite{
		{ID: "i1", SourceID: "c1", TargetID: "r3", CreatedAt: created},
		{ID: "i2", SourceID: "c2", TargetID: "r5", CreatedAt: created},
		{ID: "i3", SourceID: "c1", TargetID: "vanished", CreatedAt: created},
	}))

	f := newFixtureWith(t, gw, defaultReligions())
	require.NoError(t, f.registry.Load(ctx))

	_, ok := f.registry.GetCivilization("c2")
	assert.False(t, ok)
	assert.False(t, f.registry.HasInvitation("c2", "r5"))
	assert.Empty(t, f.registry.GetInvitesForReligion("r5"))
	assert.False(t, f.registry.HasInvitation("c1", "vanished"))
	assert.True(t, f.registry.HasInvitation("c1", "r3"))

	var stored []invitationdomain.Invite
	_, err := persistence.LoadInto(ctx, gw, persistence.KeyCivilizationInvites, &stored)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "i1", stored[0].ID)
}

func TestCivilizationWriteThroughFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mock.NewMockGateway(ctrl)

	gw.EXPECT().Store(gomock.Any(), persistence.KeyCivilizations, gomock.Any()).Return(errors.New("redis down"))
	gw.EXPECT().Store(gomock.Any(), persistence.KeyCivilizationInvites, gomock.Any()).Return(nil)

	f := newFixtureWith(t, gw, defaultReligions())
	ctx := context.Background()
	_, err := f.registry.CreateCivilization(ctx, CreateCivilizationRequest{Name: "Ironpact", FounderID: "p1", ReligionID: "r1"})
	require.NoError(t, err)
	assert.True(t, f.registry.Dirty())
	assert.Len(t, f.registry.GetAllCivilizations(), 1)

	gw.EXPECT().Store(gomock.Any(), persistence.KeyCivilizations, gomock.Any()).Return(nil)
	gw.EXPECT().Store(gomock.Any(), persistence.KeyCivilizationInvites, gomock.Any()).Return(nil)
	require.NoError(t, f.registry.Checkpoint(ctx))
	assert.False(t, f.registry.Dirty())
}
