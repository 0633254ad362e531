package civilization

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pantheon/internal/civilization/domain"
	"github.com/smallbiznis/pantheon/internal/civilization/service"
	"github.com/smallbiznis/pantheon/internal/clock"
	"github.com/smallbiznis/pantheon/internal/deity"
	"github.com/smallbiznis/pantheon/internal/identity"
	"github.com/smallbiznis/pantheon/internal/persistence"
	religionservice "github.com/smallbiznis/pantheon/internal/religion/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type world struct {
	religions     *religionservice.Registry
	civilizations *service.Registry
	clock         *clock.FakeClock
}

func newWorld(t *testing.T) *world {
	t.Helper()
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	dir := identity.NewDirectory()
	for _, id := range []string{"p1", "p2", "p3", "p4", "p5"} {
		dir.Register(id, "player "+id)
	}
	gw := persistence.NewMemoryGateway()

	religions := religionservice.New(religionservice.Params{
		Log: zap.NewNop(), GenID: node, Clock: clk, Identity: dir, Gateway: gw,
	})
	civilizations := service.New(service.Params{
		Log: zap.NewNop(), GenID: node, Clock: clk, Religions: NewReligionLookup(religions), Gateway: gw,
	})
	subscribeReligionDeletion(religions, civilizations)
	return &world{religions: religions, civilizations: civilizations, clock: clk}
}

func TestEmberforgeIronpactScenario(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	emberforge, err := w.religions.CreateReligion(ctx, religionservice.CreateReligionRequest{
		Name: "Emberforge", Deity: deity.Craft, FounderID: "p1",
	})
	require.NoError(t, err)
	_, err = w.religions.Invite(ctx, emberforge.ID, "p1", "p2")
	require.NoError(t, err)
	assert.True(t, w.religions.HasInvitation(emberforge.ID, "p2"))
	require.NoError(t, w.religions.AcceptInvite(ctx, emberforge.ID, "p2"))
	assert.False(t, w.religions.HasInvitation(emberforge.ID, "p2"))
	count, _ := w.religions.MemberCount(emberforge.ID)
	assert.Equal(t, 2, count)

	stormwild, err := w.religions.CreateReligion(ctx, religionservice.CreateReligionRequest{
		Name: "Stormwild", Deity: deity.Wild, FounderID: "p3", IsPublic: true,
	})
	require.NoError(t, err)
	require.NoError(t, w.religions.AddMember(ctx, stormwild.ID, "p4"))

	ironpact, err := w.civilizations.CreateCivilization(ctx, service.CreateCivilizationRequest{
		Name: "Ironpact", FounderID: "p1", ReligionID: emberforge.ID,
	})
	require.NoError(t, err)
	invite, err := w.civilizations.InviteReligion(ctx, ironpact.ID, stormwild.ID, "p1")
	require.NoError(t, err)
	require.NoError(t, w.civilizations.AcceptInvite(ctx, invite.ID, "p3"))

	got, ok := w.civilizations.GetCivilization(ironpact.ID)
	require.True(t, ok)
	assert.Equal(t, []string{emberforge.ID, stormwild.ID}, got.ReligionIDs)
	assert.Equal(t, 4, got.MemberCount)
}

func TestReligionDeletionCascades(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	anchor, err := w.religions.CreateReligion(ctx, religionservice.CreateReligionRequest{Name: "Emberforge", Deity: deity.Craft, FounderID: "p1"})
	require.NoError(t, err)
	member, err := w.religions.CreateReligion(ctx, religionservice.CreateReligionRequest{Name: "Stormwild", Deity: deity.Wild, FounderID: "p3"})
	require.NoError(t, err)

	civ, err := w.civilizations.CreateCivilization(ctx, service.CreateCivilizationRequest{Name: "Ironpact", FounderID: "p1", ReligionID: anchor.ID})
	require.NoError(t, err)
	invite, err := w.civilizations.InviteReligion(ctx, civ.ID, member.ID, "p1")
	require.NoError(t, err)
	require.NoError(t, w.civilizations.AcceptInvite(ctx, invite.ID, "p3"))

	// the sole member leaving empties the religion and takes the civilization below its floor
	require.NoError(t, w.religions.LeaveReligion(ctx, "p3"))
	_, ok := w.civilizations.GetCivilization(civ.ID)
	assert.False(t, ok)
}

func TestAnchorSuccessionMovesAuthority(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	anchor, err := w.religions.CreateReligion(ctx, religionservice.CreateReligionRequest{Name: "Emberforge", Deity: deity.Craft, FounderID: "p1", IsPublic: true})
	require.NoError(t, err)
	require.NoError(t, w.religions.AddMember(ctx, anchor.ID, "p2"))
	member, err := w.religions.CreateReligion(ctx, religionservice.CreateReligionRequest{Name: "Stormwild", Deity: deity.Wild, FounderID: "p3"})
	require.NoError(t, err)

	civ, err := w.civilizations.CreateCivilization(ctx, service.CreateCivilizationRequest{Name: "Ironpact", FounderID: "p1", ReligionID: anchor.ID})
	require.NoError(t, err)

	require.True(t, w.religions.RemoveMember(ctx, anchor.ID, "p1"))

	_, err = w.civilizations.InviteReligion(ctx, civ.ID, member.ID, "p1")
	assert.Error(t, err)
	_, err = w.civilizations.InviteReligion(ctx, civ.ID, member.ID, "p2")
	assert.NoError(t, err)
}

func TestReligionDeletedDuringAccept(t *testing.T) {
	for i := 0; i < 20; i++ {
		w := newWorld(t)
		ctx := context.Background()

		anchor, err := w.religions.CreateReligion(ctx, religionservice.CreateReligionRequest{Name: "Emberforge", Deity: deity.Craft, FounderID: "p1"})
		require.NoError(t, err)
		member, err := w.religions.CreateReligion(ctx, religionservice.CreateReligionRequest{Name: "Stormwild", Deity: deity.Wild, FounderID: "p3"})
		require.NoError(t, err)
		civ, err := w.civilizations.CreateCivilization(ctx, service.CreateCivilizationRequest{Name: "Ironpact", FounderID: "p1", ReligionID: anchor.ID})
		require.NoError(t, err)
		invite, err := w.civilizations.InviteReligion(ctx, civ.ID, member.ID, "p1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		var acceptErr, deleteErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			acceptErr = w.civilizations.AcceptInvite(ctx, invite.ID, "p3")
		}()
		go func() {
			defer wg.Done()
			deleteErr = w.religions.DeleteReligion(ctx, member.ID, "p3")
		}()

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("accept and delete deadlocked")
		}

		require.NoError(t, deleteErr)
		if acceptErr != nil {
			assert.True(t,
				errors.Is(acceptErr, domain.ErrReligionNotFound) || errors.Is(acceptErr, domain.ErrInviteNotFound),
				"unexpected error: %v", acceptErr)
		}

		_, ok := w.civilizations.GetCivilizationForReligion(member.ID)
		assert.False(t, ok)
		assert.False(t, w.civilizations.HasInvitation(civ.ID, member.ID))
		assert.Empty(t, w.civilizations.GetInvitesForReligion(member.ID))
		// a landed accept leaves a two-religion civilization that the deletion then drops below the floor
		got, ok := w.civilizations.GetCivilization(civ.ID)
		if acceptErr == nil {
			assert.False(t, ok)
		} else {
			require.True(t, ok)
			assert.Equal(t, []string{anchor.ID}, got.ReligionIDs)
		}
	}
}
