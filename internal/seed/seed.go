// Package seed bootstraps a small demo world for local development.
package seed

import (
	"context"
	"errors"
	"fmt"

	civdomain "github.com/smallbiznis/pantheon/internal/civilization/domain"
	civservice "github.com/smallbiznis/pantheon/internal/civilization/service"
	"github.com/smallbiznis/pantheon/internal/deity"
	"github.com/smallbiznis/pantheon/internal/identity"
	religiondomain "github.com/smallbiznis/pantheon/internal/religion/domain"
	religionservice "github.com/smallbiznis/pantheon/internal/religion/service"
	"go.uber.org/zap"
)

const (
	defaultCivilizationName = "Ironpact"
)

type demoPlayer struct {
	ID   string
	Name string
}

type demoReligion struct {
	Name     string
	Deity    deity.Deity
	Founder  demoPlayer
	Members  []demoPlayer
	IsPublic bool
}

var demoReligions = []demoReligion{
	{
		Name:    "Emberforge",
		Deity:   deity.Craft,
		Founder: demoPlayer{ID: "demo-aldric", Name: "Aldric"},
		Members: []demoPlayer{{ID: "demo-bryn", Name: "Bryn"}},
	},
	{
		Name:     "Stormwild",
		Deity:    deity.Wild,
		Founder:  demoPlayer{ID: "demo-cai", Name: "Cai"},
		Members:  []demoPlayer{{ID: "demo-dov", Name: "Dov"}, {ID: "demo-eir", Name: "Eir"}},
		IsPublic: true,
	},
}

// Summary reports what EnsureDemoWorld created. Existing entities are left untouched.
type Summary struct {
	ReligionsCreated     int
	CivilizationsCreated int
}

// EnsureDemoWorld creates the demo religions and their civilization unless they already exist.
func EnsureDemoWorld(ctx context.Context, log *zap.Logger, dir *identity.Directory, religions *religionservice.Registry, civilizations *civservice.Registry) (Summary, error) {
	if dir == nil || religions == nil || civilizations == nil {
		return Summary{}, errors.New("seed requires the identity directory and both registries")
	}
	if log == nil {
		log = zap.NewNop()
	}

	var summary Summary
	ids := make([]string, 0, len(demoReligions))
	for _, demo := range demoReligions {
		religion, created, err := ensureReligion(ctx, dir, religions, demo)
		if err != nil {
			return summary, fmt.Errorf("seed religion %s: %w", demo.Name, err)
		}
		if created {
			summary.ReligionsCreated++
			log.Info("demo religion created", zap.String("religion_id", religion.ID), zap.String("name", religion.Name))
		}
		ids = append(ids, religion.ID)
	}

	created, err := ensureCivilization(ctx, civilizations, demoReligions[0].Founder.ID, ids)
	if err != nil {
		return summary, fmt.Errorf("seed civilization: %w", err)
	}
	if created {
		summary.CivilizationsCreated++
		log.Info("demo civilization created", zap.String("name", defaultCivilizationName))
	}
	return summary, nil
}

func ensureReligion(ctx context.Context, dir *identity.Directory, religions *religionservice.Registry, demo demoReligion) (*religiondomain.Religion, bool, error) {
	dir.Register(demo.Founder.ID, demo.Founder.Name)
	for _, member := range demo.Members {
		dir.Register(member.ID, member.Name)
	}

	if existing, ok := religions.GetReligionByName(demo.Name); ok {
		return existing, false, nil
	}

	religion, err := religions.CreateReligion(ctx, religionservice.CreateReligionRequest{
		Name:      demo.Name,
		Deity:     demo.Deity,
		FounderID: demo.Founder.ID,
		IsPublic:  demo.IsPublic,
	})
	if err != nil {
		return nil, false, err
	}
	for _, member := range demo.Members {
		err := religions.AddMember(ctx, religion.ID, member.ID)
		if err != nil && !errors.Is(err, religiondomain.ErrAlreadyInReligion) {
			return nil, false, err
		}
	}
	return religion, true, nil
}

func ensureCivilization(ctx context.Context, civilizations *civservice.Registry, founderID string, religionIDs []string) (bool, error) {
	if _, ok := civilizations.GetCivilizationByName(defaultCivilizationName); ok {
		return false, nil
	}
	if _, ok := civilizations.GetCivilizationForReligion(religionIDs[0]); ok {
		return false, nil
	}

	civ, err := civilizations.CreateCivilization(ctx, civservice.CreateCivilizationRequest{
		Name:       defaultCivilizationName,
		FounderID:  founderID,
		ReligionID: religionIDs[0],
	})
	if err != nil {
		return false, err
	}

	for i, religionID := range religionIDs[1:] {
		invite, err := civilizations.InviteReligion(ctx, civ.ID, religionID, founderID)
		if errors.Is(err, civdomain.ErrAlreadyInCivilization) {
			continue
		}
		if err != nil {
			return true, err
		}
		if err := civilizations.AcceptInvite(ctx, invite.ID, demoReligions[i+1].Founder.ID); err != nil {
			return true, err
		}
	}
	return true, nil
}
